package core

import "time"

// NormalizeDates deep-walks a JSON-like value and converts every
// time.Time scalar to an ISO-8601 string. It runs once at the persist
// boundary so individual agents never have to care about date types.
// Maps and slices are rewritten in place where possible; the (possibly
// replaced) value is returned.
func NormalizeDates(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339)
	case map[string]interface{}:
		for k, val := range t {
			t[k] = NormalizeDates(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = NormalizeDates(val)
		}
		return t
	default:
		return v
	}
}

// NormalizeDateMap is NormalizeDates specialized for the map payloads
// the store persists.
func NormalizeDateMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	NormalizeDates(m)
	return m
}
