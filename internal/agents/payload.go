package agents

import "time"

// Payload navigation helpers. Provider payloads are raw JSON maps;
// these treat missing or mistyped fields as absent, never as errors.

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]interface{}, key string) float64 {
	switch t := m[key].(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}

func boolean(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// findByType returns the first entry of a vendor "included" list whose
// type matches, e.g. "verification/government-id".
func findByType(included []interface{}, typ string) map[string]interface{} {
	for _, raw := range included {
		entry := asMap(raw)
		if str(entry, "type") == typ {
			return entry
		}
	}
	return map[string]interface{}{}
}

// findCheck returns the vendor check with the given name from a
// verification entry's checks list.
func findCheck(verification map[string]interface{}, name string) map[string]interface{} {
	for _, raw := range asSlice(verification["checks"]) {
		check := asMap(raw)
		if str(check, "name") == name {
			return check
		}
	}
	return map[string]interface{}{}
}

// vendorStatus maps a vendor check status onto ours, defaulting to
// not_applicable when the vendor reported nothing.
func vendorStatus(check map[string]interface{}) string {
	if s := str(check, "status"); s != "" {
		return s
	}
	return "not_applicable"
}

// timeLayouts are the formats date strings arrive in after the persist
// boundary normalized them.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
