package types

import "encoding/json"

// Decode converts a bus payload into T. Values already of type T or *T are
// returned as is; bytes and strings are parsed as JSON; anything else
// (maps from a JSON front end, numbers) is re-encoded and decoded.
func Decode[T any](src any) (T, error) {
	var dst T
	switch v := src.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
		return dst, json.Unmarshal([]byte("null"), &dst)
	case []byte:
		return dst, json.Unmarshal(v, &dst)
	case string:
		return dst, json.Unmarshal([]byte(v), &dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return dst, err
		}
		return dst, json.Unmarshal(b, &dst)
	}
}
