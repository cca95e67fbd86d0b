package implcaps

import "time"

func Get[T any](m map[string]any, k string, def T) T {
	if v, ok := m[k]; ok {
		if cV, ok := v.(T); ok {
			return cV
		}
	}

	return def
}

// GetDuration reads a millisecond count setting, accepting the numeric types
// the rules engine produces for literals and computed values.
func GetDuration(m map[string]any, k string, def time.Duration) time.Duration {
	switch v := m[k].(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	default:
		return def
	}
}
