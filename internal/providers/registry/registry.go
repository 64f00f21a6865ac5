// Package registry adapts a corporate-registry search service (an
// OpenCorporates-style API) to the RegistryProvider capability.
package registry

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

// Client queries the registry search endpoint behind a circuit
// breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// New builds a registry client over the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("registry")),
	}
}

// Lookup searches the registry for a business by name and country.
// The record carries business_type, industry, registration_number,
// status, incorporation_date, and last_filing_date when the registry
// knows them.
func (c *Client) Lookup(ctx context.Context, name, country string) (providers.Payload, error) {
	var payload providers.Payload
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		payload, err = c.lookup(ctx, name, country)
		return err
	})
	return payload, err
}

func (c *Client) lookup(ctx context.Context, name, country string) (providers.Payload, error) {
	params := url.Values{}
	params.Set("name", name)
	if country != "" {
		params.Set("country", country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/companies/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry lookup %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return providers.Payload{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry lookup %q: status %d", name, resp.StatusCode)
	}

	var payload providers.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode registry record for %q: %w", name, err)
	}
	return payload, nil
}
