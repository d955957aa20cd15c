package msg

import (
	"encoding/json"
	"fmt"
)

// The wire format uses externally tagged unions: unit variants are bare
// strings, payload-carrying variants are single-key objects, and tuple
// variants hold JSON arrays.

// MarshalTagged encodes a variant: the bare tag when value is nil, otherwise
// a single-key object.
func MarshalTagged(tag string, value any) ([]byte, error) {
	if value == nil {
		return json.Marshal(tag)
	}
	return json.Marshal(map[string]any{tag: value})
}

// SplitTagged returns the variant tag and its inner payload, which is nil
// for unit variants.
func SplitTagged(data []byte) (string, json.RawMessage, error) {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		return tag, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected single-variant object, got %d keys", len(obj))
	}
	for tag, inner := range obj {
		return tag, inner, nil
	}
	return "", nil, fmt.Errorf("empty variant object")
}

// UnmarshalTuple decodes a fixed-length JSON array into the given targets.
func UnmarshalTuple(data []byte, into ...any) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != len(into) {
		return fmt.Errorf("expected tuple of %d elements, got %d", len(into), len(raw))
	}
	for i, elem := range raw {
		if err := json.Unmarshal(elem, into[i]); err != nil {
			return err
		}
	}
	return nil
}
