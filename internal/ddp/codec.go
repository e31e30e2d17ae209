package ddp

import "encoding/json"

// Encode marshals any outbound message struct to one wire frame.
func Encode(v any) ([]byte, error) { return json.Marshal(v) }

// PeekMsg decodes just the "msg" discriminator so the caller can dispatch
// to the right concrete type before fully unmarshalling.
func PeekMsg(frame []byte) (string, error) {
	var r Raw
	if err := json.Unmarshal(frame, &r); err != nil {
		return "", err
	}
	return r.Msg, nil
}

// NewAdded builds a wire "added" message from a change-set document.
func NewAdded(collection, id string, doc map[string]any) (Added, error) {
	fields, _, err := EncodeFields(doc)
	if err != nil {
		return Added{}, err
	}
	return Added{Msg: "added", Collection: collection, ID: id, Fields: fields}, nil
}

// NewChanged builds a wire "changed" message, splitting cleared fields out
// of the change-set per the wire translation rules.
func NewChanged(collection, id string, doc map[string]any) (Changed, error) {
	fields, cleared, err := EncodeFields(doc)
	if err != nil {
		return Changed{}, err
	}
	return Changed{Msg: "changed", Collection: collection, ID: id, Fields: fields, Cleared: cleared}, nil
}

// NewRemoved builds a wire "removed" message.
func NewRemoved(collection, id string) Removed {
	return Removed{Msg: "removed", Collection: collection, ID: id}
}

// NewInitItem builds one entry of a version-1a "init" batch, using the same
// EJSON field encoding as NewAdded.
func NewInitItem(id string, doc map[string]any) (InitItem, error) {
	fields, _, err := EncodeFields(doc)
	if err != nil {
		return InitItem{}, err
	}
	return InitItem{ID: id, Fields: fields}, nil
}
