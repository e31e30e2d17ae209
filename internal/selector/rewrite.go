package selector

import (
	"fmt"

	"github.com/google/uuid"
)

// ErrArraySelector is returned by Rewrite when given an array selector,
// which spec.md §6 says must never be accepted for cursor construction.
var ErrArraySelector = fmt.Errorf("selector: array selectors are not supported")

// Rewrite applies the cursor-construction selector rewrite rule (spec §6):
// a nil/empty selector, or one whose "_id" is falsy, is replaced with an
// unmatchable {_id: <fresh random>} selector so the resulting cursor never
// matches any document. Array selectors are rejected outright.
func Rewrite(sel any) (Document, error) {
	if _, isArray := sel.([]any); isArray {
		return nil, ErrArraySelector
	}

	doc, _ := sel.(Document)
	if len(doc) == 0 {
		return unmatchable(), nil
	}
	if id, ok := doc["_id"]; ok && isFalsy(id) {
		return unmatchable(), nil
	}
	return doc, nil
}

func unmatchable() Document {
	return Document{"_id": "never-matches-" + uuid.NewString()}
}

func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case int:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}
