// Package providers defines the capability interfaces the engine
// depends on. Concrete adapters live in subpackages; the engine and
// the agents only ever see these interfaces.
package providers

import (
	"context"

	"github.com/veriflow/backend/internal/core"
)

// Payload is a provider response kept in its raw JSON shape. Agents
// navigate it with the helpers in the agents package; the engine never
// assumes more structure than it needs.
type Payload = map[string]interface{}

// Document is one file attached to a provider inquiry, annotated with
// the blob key it was persisted under.
type Document struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Filename    string       `json:"filename,omitempty"`
	ContentType string       `json:"content_type,omitempty"`
	FileURL     string       `json:"file_url,omitempty"`
	BlobKey     string       `json:"blob_key,omitempty"`
	BlobURL     string       `json:"blob_url,omitempty"`
	Checks      []core.Check `json:"checks,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// IdProvider is the identity-proofing vendor. Inquiries aggregate the
// vendor's own verifications, reports, and attached documents.
type IdProvider interface {
	// GetInquiry fetches the full inquiry record.
	GetInquiry(ctx context.Context, inquiryID string) (Payload, error)

	// ExtractBusinessInfo is a pure transform over the inquiry's field
	// map: business fields, control person, UBO groups, verification
	// and report rollups.
	ExtractBusinessInfo(inquiry Payload) Payload

	// GetAndStoreDocuments downloads every attachment of the inquiry,
	// persists each into the blob store, and returns the annotated
	// document list. Per-document download failures are recorded on
	// the document, not returned as an error.
	GetAndStoreDocuments(ctx context.Context, inquiryID string, blobs BlobStore) ([]Document, error)
}

// FraudProvider scores a user for fraud risk.
type FraudProvider interface {
	// GetUserScore returns the score, sub-scores, activity history and
	// network view for a user.
	GetUserScore(ctx context.Context, userID string) (Payload, error)
}

// EntityQuery is the search input for a sanctions lookup.
type EntityQuery struct {
	Name    string
	Address string
	City    string
	State   string
	Zip     string
	Country string
}

// SanctionsAnalysis is the distilled view of a sanctions search.
type SanctionsAnalysis struct {
	TotalMatches int       `json:"total_matches"`
	RiskLevel    string    `json:"risk_level"` // low, medium, high
	MatchDetails []Payload `json:"match_details"`
	Sources      []string  `json:"sources"`
}

// SanctionsProvider searches government sanctions lists.
type SanctionsProvider interface {
	SearchEntity(ctx context.Context, q EntityQuery) (Payload, error)
	Analyze(hits Payload) SanctionsAnalysis
}

// RegistryProvider looks a business up in corporate registries.
type RegistryProvider interface {
	Lookup(ctx context.Context, name, country string) (Payload, error)
}

// ExternalRecordStore reads the upstream operational database that
// holds provider inquiry ids, fraud scores, and business records.
// Implementations retry transient failures internally; a business
// record lookup that still fails returns a documented fallback record
// so the workflow can proceed.
type ExternalRecordStore interface {
	// GetInquiryID returns the most recent provider inquiry id for a
	// user. Kind is "kyc" or "kyb". Empty string when none exists.
	GetInquiryID(ctx context.Context, userID, kind string) (string, error)

	// GetFraudScores returns the latest fraud-score row for a user, or
	// nil when none exists.
	GetFraudScores(ctx context.Context, userID string) (Payload, error)

	// GetBusinessRecord returns the business record, or the fallback
	// record after retry exhaustion. Nil when the row does not exist.
	GetBusinessRecord(ctx context.Context, businessID string) (Payload, error)

	// GetBusinessOwners returns the UBO rows for a business.
	GetBusinessOwners(ctx context.Context, businessID string) ([]Payload, error)
}

// PutResult identifies a stored blob.
type PutResult struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// BlobStore persists document bytes.
type BlobStore interface {
	Put(ctx context.Context, data []byte, filename, contentType string, meta map[string]string) (PutResult, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// InvokeOptions tune a raw LLM invocation. Zero values pick the
// adapter defaults.
type InvokeOptions struct {
	ModelID     string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Llm is the inference capability. ExtractStructured never returns an
// error for unparseable model output; it returns a payload carrying
// raw_response and parse_error instead.
type Llm interface {
	// Invoke sends a text prompt and returns the generated text.
	Invoke(ctx context.Context, prompt string, opts InvokeOptions) (string, error)

	// InvokeVision sends a PNG image plus a text prompt.
	InvokeVision(ctx context.Context, imagePNG []byte, prompt string, opts InvokeOptions) (string, error)

	// ExtractStructured asks the model to produce a JSON object from
	// data following the instructions, tolerating fenced ```json
	// blocks and bare {...} spans in the response.
	ExtractStructured(ctx context.Context, data interface{}, instructions string) (Payload, error)
}
