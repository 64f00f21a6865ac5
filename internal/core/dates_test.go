package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeDatesDeepWalk(t *testing.T) {
	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := map[string]interface{}{
		"incorporation_date": when,
		"nested": map[string]interface{}{
			"last_filing_date": when,
			"count":            3,
		},
		"ubos": []interface{}{
			map[string]interface{}{"created_at": when, "name": "A"},
		},
		"name": "Acme",
	}

	NormalizeDateMap(payload)

	if got := payload["incorporation_date"]; got != "2020-01-02T03:04:05Z" {
		t.Fatalf("top-level date not normalized: %v", got)
	}
	nested := payload["nested"].(map[string]interface{})
	if got := nested["last_filing_date"]; got != "2020-01-02T03:04:05Z" {
		t.Errorf("nested date not normalized: %v", got)
	}
	if nested["count"] != 3 {
		t.Errorf("non-date scalar mutated: %v", nested["count"])
	}
	ubo := payload["ubos"].([]interface{})[0].(map[string]interface{})
	if got := ubo["created_at"]; got != "2020-01-02T03:04:05Z" {
		t.Errorf("date inside slice not normalized: %v", got)
	}

	// The normalized payload must round-trip through encoding/json
	// without any non-string date scalars.
	if _, err := json.Marshal(payload); err != nil {
		t.Fatalf("normalized payload not marshalable: %v", err)
	}
}

func TestNormalizeDatesNilPointer(t *testing.T) {
	var ts *time.Time
	if got := NormalizeDates(ts); got != nil {
		t.Fatalf("nil *time.Time should normalize to nil, got %v", got)
	}
}

func TestVerificationStatusTerminal(t *testing.T) {
	cases := []struct {
		status   VerificationStatus
		terminal bool
	}{
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, c := range cases {
		if c.status.Terminal() != c.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", c.status, c.status.Terminal(), c.terminal)
		}
	}
}
