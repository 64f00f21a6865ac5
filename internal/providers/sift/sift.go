// Package sift adapts the Sift Science fraud-scoring API to the
// FraudProvider capability.
package sift

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veriflow/backend/internal/providers"
)

const defaultBaseURL = "https://api.sift.com/v205"

// Client talks to the Sift score API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New builds a Sift client.
func New(apiKey string) *Client {
	return NewWithBaseURL(apiKey, defaultBaseURL)
}

// NewWithBaseURL overrides the API endpoint. Used by tests.
func NewWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// GetUserScore returns the user's fraud score with sub-scores, the
// activity history, and the network view.
func (c *Client) GetUserScore(ctx context.Context, userID string) (providers.Payload, error) {
	endpoint := fmt.Sprintf("%s/users/%s/score?api_key=%s",
		c.baseURL, url.PathEscape(userID), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get score for %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get score for %s: status %d", userID, resp.StatusCode)
	}

	var payload providers.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode score for %s: %w", userID, err)
	}
	return payload, nil
}
