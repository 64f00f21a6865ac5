package ofac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/veriflow/backend/internal/providers"
)

func TestSearchEntityOmitsEmptyParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(map[string]interface{}{"entities": []interface{}{}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.SearchEntity(context.Background(), providers.EntityQuery{Name: "ACME Corp", Country: "US"})
	if err != nil {
		t.Fatalf("SearchEntity: %v", err)
	}
	if gotQuery.Get("name") != "ACME Corp" || gotQuery.Get("country") != "US" {
		t.Errorf("query = %v", gotQuery)
	}
	if _, present := gotQuery["city"]; present {
		t.Error("empty city param must be omitted")
	}
}

func TestAnalyzeNoMatches(t *testing.T) {
	c := New("http://unused")
	a := c.Analyze(providers.Payload{"entities": []interface{}{}})
	if a.TotalMatches != 0 || a.RiskLevel != "low" {
		t.Errorf("analysis = %+v", a)
	}
}

func TestAnalyzeExactNameMatchIsHighRisk(t *testing.T) {
	c := New("http://unused")
	hits := providers.Payload{
		"query": map[string]interface{}{"name": "Ivan Petrov"},
		"entities": []interface{}{
			map[string]interface{}{"name": "IVAN PETROV", "source": "SDN"},
			map[string]interface{}{"name": "Ivan Petrovich", "source": "EU"},
		},
	}
	a := c.Analyze(hits)
	if a.RiskLevel != "high" {
		t.Errorf("risk_level = %s, want high", a.RiskLevel)
	}
	if a.TotalMatches != 2 {
		t.Errorf("total_matches = %d", a.TotalMatches)
	}
	if len(a.Sources) != 2 {
		t.Errorf("sources = %v", a.Sources)
	}
}

func TestAnalyzePartialMatchIsMediumRisk(t *testing.T) {
	c := New("http://unused")
	hits := providers.Payload{
		"query": map[string]interface{}{"name": "John Smith"},
		"entities": []interface{}{
			map[string]interface{}{"name": "Jon Smythe", "source": "SDN"},
		},
	}
	if a := c.Analyze(hits); a.RiskLevel != "medium" {
		t.Errorf("risk_level = %s, want medium", a.RiskLevel)
	}
}
