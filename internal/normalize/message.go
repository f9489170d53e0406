package normalize

import (
	"encoding/json"
	"strings"
)

// Message is one decoded feed frame. Field shapes vary between feeds, so
// values are probed by name instead of being bound to a struct.
type Message map[string]any

// Decode parses a raw frame. Anything that is not a JSON object is rejected.
func Decode(raw []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg == nil {
		return nil, false
	}
	return msg, true
}

// Str returns the first non-empty string value among keys.
func (m Message) Str(keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// Number returns the numeric value stored under key. Only real numbers are
// accepted; numeric strings are treated as absent.
func (m Message) Number(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool reports whether key holds a boolean true.
func (m Message) Bool(key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}
