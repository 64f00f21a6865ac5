// Package agents holds the verification agent catalog. Every agent is
// a pure function of the persisted verification inputs plus its
// designated provider capabilities; it emits a deterministic list of
// checks. The model is consulted only for the human-facing details
// synthesis, never for per-check adjudication.
package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/docpipe"
	"github.com/veriflow/backend/internal/providers"
)

// Datastore is the slice of the store agents use.
type Datastore interface {
	ListInputs(ctx context.Context, verificationID, dataType string) ([]*core.VerificationInput, error)
	ListAgentResults(ctx context.Context, verificationID string) ([]*core.AgentResult, error)
	AppendInput(ctx context.Context, verificationID, dataType string, data map[string]interface{}) error
}

// Env bundles the shared dependencies handed to every agent.
type Env struct {
	Store     Datastore
	Identity  providers.IdProvider
	Fraud     providers.FraudProvider
	Sanctions providers.SanctionsProvider
	Registry  providers.RegistryProvider
	External  providers.ExternalRecordStore
	Blobs     providers.BlobStore
	Llm       providers.Llm
	Docs      *docpipe.Pipeline
}

// Task identifies one verification run. Exactly one of UserID /
// BusinessID is set, mirroring the verification row.
type Task struct {
	VerificationID string
	UserID         string
	BusinessID     string
	AdditionalData map[string]interface{}
}

// Agent is one unit of verification work.
type Agent interface {
	Type() string
	Run(ctx context.Context, t Task) (*core.AgentResult, error)
}

// Execute runs an agent with the universal error catch: a returned
// error or a panic becomes an AgentResult with status error and no
// checks, never a crashed workflow.
func Execute(ctx context.Context, a Agent, t Task) (result *core.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent panicked", "agent", a.Type(), "verification_id", t.VerificationID, "panic", r)
			result = errorResult(a.Type(), t.VerificationID, fmt.Errorf("panic: %v", r))
		}
	}()

	result, err := a.Run(ctx, t)
	if err != nil {
		slog.Error("agent failed", "agent", a.Type(), "verification_id", t.VerificationID, "error", err)
		return errorResult(a.Type(), t.VerificationID, err)
	}
	if result.VerificationID == "" {
		result.VerificationID = t.VerificationID
	}
	return result
}

func errorResult(agentType, verificationID string, err error) *core.AgentResult {
	return &core.AgentResult{
		VerificationID: verificationID,
		AgentType:      agentType,
		Status:         core.AgentError,
		Details:        fmt.Sprintf("Error during %s: %v", agentType, err),
		Checks:         []core.Check{},
	}
}

// Inputs is the persisted verification data grouped by data type. When
// a type was written more than once (queue redelivery), the newest row
// wins.
type Inputs map[string]map[string]interface{}

// Inputs loads all persisted input rows for a verification.
func (e *Env) Inputs(ctx context.Context, verificationID string) (Inputs, error) {
	rows, err := e.Store.ListInputs(ctx, verificationID, "")
	if err != nil {
		return nil, fmt.Errorf("load verification inputs: %w", err)
	}
	grouped := Inputs{}
	for _, row := range rows {
		grouped[row.DataType] = row.Data
	}
	return grouped, nil
}

// User returns the "user" input payload, never nil.
func (in Inputs) User() map[string]interface{} { return in.payload(core.DataTypeUser) }

// Business returns the "business" input payload, never nil.
func (in Inputs) Business() map[string]interface{} { return in.payload(core.DataTypeBusiness) }

// Additional returns the "additional_data" input payload, never nil.
func (in Inputs) Additional() map[string]interface{} { return in.payload(core.DataTypeAdditionalData) }

func (in Inputs) payload(dataType string) map[string]interface{} {
	if m, ok := in[dataType]; ok && m != nil {
		return m
	}
	return map[string]interface{}{}
}

// analyze funnels a risk-synthesis request through the gated model.
// Analysis is advisory; a failure degrades to nil and the agent keeps
// its deterministic checks.
func (e *Env) analyze(ctx context.Context, data interface{}, instructions string) providers.Payload {
	if e.Llm == nil {
		return nil
	}
	out, err := e.Llm.ExtractStructured(ctx, data, instructions)
	if err != nil {
		slog.Warn("risk analysis failed", "error", err)
		return nil
	}
	return out
}

// summaryOr pulls the model's summary line, falling back to a fixed
// completion message.
func summaryOr(analysis providers.Payload, fallback string) string {
	if s, ok := analysis["summary"].(string); ok && s != "" {
		return s
	}
	return fallback
}

// successResult assembles a completed agent result.
func successResult(agentType, details string, checks []core.Check) *core.AgentResult {
	return &core.AgentResult{
		AgentType: agentType,
		Status:    core.AgentSuccess,
		Details:   details,
		Checks:    checks,
	}
}
