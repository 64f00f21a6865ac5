package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/veriflow/backend/internal/core"
)

// Decision is the compiled verdict the workflow writes onto the
// verification row.
type Decision struct {
	Result    string
	Reasoning string
}

// UboOutcome is the terminal (or last-known, after a join timeout)
// state of one beneficial-owner child verification.
type UboOutcome struct {
	VerificationID string `json:"verification_id"`
	UboUserID      string `json:"ubo_user_id"`
	Status         string `json:"status"`
	Result         string `json:"result,omitempty"`
	Reasoning      string `json:"reasoning,omitempty"`
}

const compilationInstructions = `
You are a verification expert. Analyze the results from all verification agents and determine:
1. The overall verification result (passed/failed)
2. A detailed explanation of your reasoning
3. Key risk factors identified
4. Confidence level in your determination

Respond with a JSON object containing these fields:
- verification_result: "passed" or "failed"
- reasoning: detailed explanation
- risk_factors: array of identified risk factors
- confidence: "low", "medium", or "high"
- summary: brief overall assessment`

const businessCompilationInstructions = `
You are a business verification expert. Analyze the results from all business verification agents
and UBO verifications to determine:
1. The overall business verification result (passed/failed)
2. A detailed explanation of your reasoning
3. Key risk factors identified
4. Confidence level in your determination

Important considerations:
- If any UBO verification failed, consider this in your assessment
- Weight business structure and ownership verification heavily
- Consider industry and geographic risk factors

Respond with a JSON object containing these fields:
- verification_result: "passed" or "failed"
- reasoning: detailed explanation
- risk_factors: array of identified risk factors
- confidence: "low", "medium", or "high"
- summary: brief overall assessment`

// Compiler folds all peer agent results (and, for businesses, the UBO
// outcomes) into the final decision. The decision is carried in the
// result's extras; the workflow engine performs the terminal
// verification-row write.
type Compiler struct{ env *Env }

func NewCompiler(env *Env) *Compiler { return &Compiler{env: env} }

// CompileIndividual compiles an individual verification.
func (c *Compiler) CompileIndividual(ctx context.Context, verificationID string) (*core.AgentResult, Decision, error) {
	results, err := c.env.Store.ListAgentResults(ctx, verificationID)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("load agent results: %w", err)
	}

	if failed := erroredAgents(results); len(failed) > 0 {
		decision := Decision{
			Result:    "failed",
			Reasoning: "Cannot complete verification due to errors in processing",
		}
		return compilationResult(core.AgentResultCompilation, verificationID, core.AgentError,
			fmt.Sprintf("Errors occurred in agents: %s", strings.Join(failed, ", ")),
			decision, nil, nil), decision, nil
	}

	analysis := c.env.analyze(ctx, map[string]interface{}{
		"agent_results": summarizeResults(results),
	}, compilationInstructions)
	decision := decisionFrom(analysis)

	return compilationResult(core.AgentResultCompilation, verificationID, core.AgentSuccess,
		"Successfully compiled verification results", decision, analysis, nil), decision, nil
}

// CompileBusiness compiles a business verification given each UBO
// child's outcome as observed at join time.
func (c *Compiler) CompileBusiness(ctx context.Context, verificationID string, ubos []UboOutcome) (*core.AgentResult, Decision, error) {
	results, err := c.env.Store.ListAgentResults(ctx, verificationID)
	if err != nil {
		return nil, Decision{}, fmt.Errorf("load agent results: %w", err)
	}

	if failed := erroredAgents(results); len(failed) > 0 {
		decision := Decision{
			Result:    "failed",
			Reasoning: "Cannot complete business verification due to errors in processing",
		}
		return compilationResult(core.AgentBusinessResultCompilation, verificationID, core.AgentError,
			fmt.Sprintf("Errors occurred in business agents: %s", strings.Join(failed, ", ")),
			decision, nil, ubos), decision, nil
	}

	failedUbos := 0
	for _, u := range ubos {
		if u.Result == "failed" || u.Status == string(core.StatusFailed) {
			failedUbos++
		}
	}

	analysis := c.env.analyze(ctx, map[string]interface{}{
		"business_agent_results":   summarizeResults(results),
		"ubo_results":              ubos,
		"failed_ubo_verifications": failedUbos,
	}, businessCompilationInstructions)
	decision := decisionFrom(analysis)

	return compilationResult(core.AgentBusinessResultCompilation, verificationID, core.AgentSuccess,
		"Successfully compiled business verification results", decision, analysis, ubos), decision, nil
}

// erroredAgents returns the types of non-compilation agents that ended
// in error.
func erroredAgents(results []*core.AgentResult) []string {
	var failed []string
	for _, r := range results {
		if r.Status == core.AgentError && !core.IsCompilation(r.AgentType) {
			failed = append(failed, r.AgentType)
		}
	}
	return failed
}

// summarizeResults projects stored results into the compact shape the
// compiler prompt consumes.
func summarizeResults(results []*core.AgentResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		if core.IsCompilation(r.AgentType) {
			continue
		}
		checks := r.Checks
		if checks == nil {
			checks = []core.Check{}
		}
		out = append(out, map[string]interface{}{
			"agent_type": r.AgentType,
			"status":     r.Status,
			"details":    r.Details,
			"checks":     checks,
		})
	}
	return out
}

// decisionFrom reads the model's verdict, failing closed on anything
// other than an explicit pass.
func decisionFrom(analysis map[string]interface{}) Decision {
	result, _ := analysis["verification_result"].(string)
	if result != "passed" {
		result = "failed"
	}
	reasoning, _ := analysis["reasoning"].(string)
	if reasoning == "" {
		reasoning = "Insufficient data to complete verification"
	}
	return Decision{Result: result, Reasoning: reasoning}
}

func compilationResult(agentType, verificationID string, status core.AgentStatus, details string, decision Decision, analysis map[string]interface{}, ubos []UboOutcome) *core.AgentResult {
	extras := map[string]interface{}{
		"verification_result": decision.Result,
		"reasoning":           decision.Reasoning,
		"confidence":          "medium",
	}
	if analysis != nil {
		if rf, ok := analysis["risk_factors"]; ok {
			extras["risk_factors"] = rf
		}
		if confidence, ok := analysis["confidence"].(string); ok && confidence != "" {
			extras["confidence"] = confidence
		}
	}
	if ubos != nil {
		extras["ubo_results"] = ubos
	}
	return &core.AgentResult{
		VerificationID: verificationID,
		AgentType:      agentType,
		Status:         status,
		Details:        details,
		Checks:         []core.Check{},
		Extras:         extras,
	}
}
