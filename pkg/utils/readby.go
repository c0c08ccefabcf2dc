package utils

import "encoding/json"

// DecodeReadBy normalizes a raw read-by value into a list of reader ids.
// The remote store may hand the field back as a native array, a
// JSON-encoded string, or nothing at all; local and remote representations
// legitimately differ in shape, so every read or comparison of read-by goes
// through here. Never returns an error: malformed input degrades to an
// empty set.
func DecodeReadBy(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return []string{}
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err != nil || out == nil {
			return []string{}
		}
		return out
	default:
		return []string{}
	}
}

// ContainsReader reports whether userID appears in a normalized read-by set.
func ContainsReader(readBy []string, userID string) bool {
	for _, r := range readBy {
		if r == userID {
			return true
		}
	}
	return false
}

// AppendReader returns readBy with userID appended, unless it is already
// present. The set only ever grows.
func AppendReader(readBy []string, userID string) []string {
	if ContainsReader(readBy, userID) {
		return readBy
	}
	return append(readBy, userID)
}
