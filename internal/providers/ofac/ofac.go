// Package ofac adapts the sanctions-search service to the
// SanctionsProvider capability.
package ofac

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veriflow/backend/internal/circuitbreaker"
	"github.com/veriflow/backend/internal/providers"
)

// Client queries the sanctions search endpoint. A circuit breaker
// stops the OFAC agent from hammering a failing search service.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// New builds a sanctions client over the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("ofac")),
	}
}

// SearchEntity searches the sanctions lists for an entity. Empty query
// fields are omitted from the request.
func (c *Client) SearchEntity(ctx context.Context, q providers.EntityQuery) (providers.Payload, error) {
	var payload providers.Payload
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		payload, err = c.search(ctx, q)
		return err
	})
	return payload, err
}

func (c *Client) search(ctx context.Context, q providers.EntityQuery) (providers.Payload, error) {
	params := url.Values{}
	for key, value := range map[string]string{
		"name":    q.Name,
		"address": q.Address,
		"city":    q.City,
		"state":   q.State,
		"zip":     q.Zip,
		"country": q.Country,
	} {
		if value != "" {
			params.Set(key, value)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build sanctions request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sanctions search %q: %w", q.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sanctions search %q: status %d", q.Name, resp.StatusCode)
	}

	var payload providers.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sanctions results for %q: %w", q.Name, err)
	}
	return payload, nil
}

// Analyze distills raw search hits: match count, per-entity details,
// contributing list sources, and a risk level. An exact name match is
// high risk, any other match is medium, no matches low.
func (c *Client) Analyze(hits providers.Payload) providers.SanctionsAnalysis {
	entities, _ := hits["entities"].([]interface{})
	query, _ := hits["query"].(map[string]interface{})
	queryName, _ := query["name"].(string)

	analysis := providers.SanctionsAnalysis{
		TotalMatches: len(entities),
		RiskLevel:    "low",
	}

	seenSources := map[string]bool{}
	exactMatch := false
	for _, raw := range entities {
		entity, _ := raw.(map[string]interface{})
		name, _ := entity["name"].(string)
		source, _ := entity["source"].(string)

		analysis.MatchDetails = append(analysis.MatchDetails, providers.Payload{
			"name":              name,
			"type":              entity["type"],
			"source":            source,
			"source_id":         entity["sourceID"],
			"addresses":         entity["addresses"],
			"person_info":       entity["person"],
			"business_info":     entity["business"],
			"organization_info": entity["organization"],
		})

		if source != "" && !seenSources[source] {
			seenSources[source] = true
			analysis.Sources = append(analysis.Sources, source)
		}
		if queryName != "" && strings.EqualFold(name, queryName) {
			exactMatch = true
		}
	}

	if exactMatch {
		analysis.RiskLevel = "high"
	} else if len(entities) > 0 {
		analysis.RiskLevel = "medium"
	}
	return analysis
}
