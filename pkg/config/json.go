package config

import "encoding/json"

// MarshalValue serializes v as spec.md §6 requires: a JSON object with
// stable, sorted keys and 2-space indent. encoding/json already sorts
// map[string]interface{} keys lexicographically, so v is round-tripped
// through a generic value first; this also normalizes struct field
// order (which json.Marshal otherwise emits in declaration order, not
// sorted) to match.
func MarshalValue(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.MarshalIndent(generic, "", "  ")
}

// UnmarshalValue is the inverse of MarshalValue, provided for symmetry
// with callers that stored a value via it.
func UnmarshalValue(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
