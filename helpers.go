package extrunner

import (
	"fmt"
)

// StateFieldError reports a required state field that is missing or has the
// wrong type.
type StateFieldError struct {
	Err   error
	Field string
}

func (e *StateFieldError) Error() string {
	return fmt.Sprintf("state field %q: %v", e.Field, e.Err)
}

func (e *StateFieldError) Unwrap() error { return e.Err }

// GetString extracts a string field from a state.
func GetString(st State, key string) (string, bool) {
	v, ok := st[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// GetInt extracts a numeric field from a state as an int.
// States that crossed a channel carry numbers as float64.
func GetInt(st State, key string) (int, bool) {
	switch n := st[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// GetFloat extracts a numeric field from a state as a float64.
func GetFloat(st State, key string) (float64, bool) {
	switch n := st[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// GetBool extracts a bool field from a state.
func GetBool(st State, key string) (bool, bool) {
	b, ok := st[key].(bool)
	return b, ok
}

// GetStringSlice extracts a list of strings from a state.
func GetStringSlice(st State, key string) ([]string, bool) {
	switch arr := st[key].(type) {
	case []string:
		return append([]string(nil), arr...), true
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}

// GetState extracts a nested object from a state.
func GetState(st State, key string) (State, bool) {
	switch m := st[key].(type) {
	case State:
		return m, true
	case map[string]any:
		return State(m), true
	default:
		return nil, false
	}
}

// MustGetString is GetString for required fields.
func MustGetString(st State, key string) (string, error) {
	str, ok := GetString(st, key)
	if !ok {
		return "", &StateFieldError{Field: key, Err: fmt.Errorf("missing or not a string")}
	}
	return str, nil
}

// MustGetInt is GetInt for required fields.
func MustGetInt(st State, key string) (int, error) {
	i, ok := GetInt(st, key)
	if !ok {
		return 0, &StateFieldError{Field: key, Err: fmt.Errorf("missing or not a number")}
	}
	return i, nil
}

// GetStringDefault returns the string field or def.
func GetStringDefault(st State, key, def string) string {
	if str, ok := GetString(st, key); ok {
		return str
	}
	return def
}

// GetIntDefault returns the numeric field or def.
func GetIntDefault(st State, key string, def int) int {
	if i, ok := GetInt(st, key); ok {
		return i
	}
	return def
}

// GetBoolDefault returns the bool field or def.
func GetBoolDefault(st State, key string, def bool) bool {
	if b, ok := GetBool(st, key); ok {
		return b
	}
	return def
}
