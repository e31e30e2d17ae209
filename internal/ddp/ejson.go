package ddp

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EncodeFields splits a change-set document into its wire fields payload
// and its cleared-key list: a nil value means "field removed", which the
// wire protocol represents out-of-band via a cleared array rather than a
// null field value (spec §6 wire translation rules).
func EncodeFields(doc map[string]any) (fields json.RawMessage, cleared []string, err error) {
	visible := make(map[string]any, len(doc))
	for k, v := range doc {
		if v == nil {
			cleared = append(cleared, k)
			continue
		}
		visible[k] = ejsonEncode(v)
	}
	if len(visible) == 0 {
		return nil, cleared, nil
	}
	fields, err = json.Marshal(visible)
	return fields, cleared, err
}

// DecodeFields is the inverse of EncodeFields: it expands a wire fields
// payload plus its cleared companion back into a single change-set map
// with nil marking removed fields.
func DecodeFields(fields json.RawMessage, cleared []string) (map[string]any, error) {
	doc := make(map[string]any, len(cleared))
	if len(fields) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(fields, &raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			doc[k] = ejsonDecode(v)
		}
	}
	for _, k := range cleared {
		doc[k] = nil
	}
	return doc, nil
}

// ejsonEncode applies the EJSON-style wrapping used to round-trip values
// JSON cannot represent natively: time.Time as {$date: unixMs},
// []byte as {$binary: base64}, and primitive.Decimal128 as {$decimal: "..."}.
func ejsonEncode(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{"$date": t.UnixMilli()}
	case []byte:
		return map[string]any{"$binary": base64.StdEncoding.EncodeToString(t)}
	case primitive.Decimal128:
		return map[string]any{"$decimal": t.String()}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = ejsonEncode(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = ejsonEncode(vv)
		}
		return out
	default:
		return v
	}
}

func ejsonDecode(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if ms, ok := t["$date"].(float64); ok {
				return time.UnixMilli(int64(ms)).UTC()
			}
			if b64, ok := t["$binary"].(string); ok {
				if b, err := base64.StdEncoding.DecodeString(b64); err == nil {
					return b
				}
			}
			if dec, ok := t["$decimal"].(string); ok {
				if d, err := primitive.ParseDecimal128(dec); err == nil {
					return d
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = ejsonDecode(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = ejsonDecode(vv)
		}
		return out
	default:
		return v
	}
}
