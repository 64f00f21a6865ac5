package core

import "time"

// VerificationStatus is the lifecycle state of a verification.
// Transitions are driven by the worker, never by the API:
// queued -> processing -> completed | failed.
type VerificationStatus string

const (
	StatusQueued     VerificationStatus = "queued"
	StatusProcessing VerificationStatus = "processing"
	StatusCompleted  VerificationStatus = "completed"
	StatusFailed     VerificationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s VerificationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CheckStatus is the outcome of a single named check inside an agent result.
type CheckStatus string

const (
	CheckPassed        CheckStatus = "passed"
	CheckFailed        CheckStatus = "failed"
	CheckWarning       CheckStatus = "warning"
	CheckNotApplicable CheckStatus = "not_applicable"
	CheckError         CheckStatus = "error"
)

// AgentStatus is the overall outcome of one agent run.
type AgentStatus string

const (
	AgentSuccess AgentStatus = "success"
	AgentError   AgentStatus = "error"
	AgentWarning AgentStatus = "warning"
)

// Verification is one top-level request producing one decision.
// Exactly one of UserID / BusinessID is set. CompletedAt is set iff
// the status is terminal (failed included; it marks terminality, not
// success).
type Verification struct {
	ID          string             `json:"verification_id"`
	UserID      string             `json:"user_id,omitempty"`
	BusinessID  string             `json:"business_id,omitempty"`
	Status      VerificationStatus `json:"status"`
	Result      string             `json:"result,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// IsBusiness reports whether the verification subject is a business.
func (v *Verification) IsBusiness() bool { return v.BusinessID != "" }

// VerificationInput is one persisted input payload, keyed by data type.
// Written only during the data-acquisition phase of its verification.
type VerificationInput struct {
	ID             int64                  `json:"id"`
	VerificationID string                 `json:"verification_id"`
	DataType       string                 `json:"data_type"`
	Data           map[string]interface{} `json:"data"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Input data types.
const (
	DataTypeUser           = "user"
	DataTypeBusiness       = "business"
	DataTypeAdditionalData = "additional_data"
)

// Check is a named pass/fail/warning/na/error datum with human-readable
// details. Names are unique within an agent result only by convention.
type Check struct {
	Name     string                 `json:"name"`
	Status   CheckStatus            `json:"status"`
	Details  string                 `json:"details"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AgentResult is the outcome of one agent run, append-only within a
// verification. Extras carries agent-specific fields such as the
// compiler's verification_result and reasoning.
type AgentResult struct {
	ID             int64                  `json:"id"`
	VerificationID string                 `json:"verification_id"`
	AgentType      string                 `json:"agent_type"`
	Status         AgentStatus            `json:"status"`
	Details        string                 `json:"details"`
	Checks         []Check                `json:"checks"`
	Extras         map[string]interface{} `json:"extras,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Extra returns the named extras field as a string, or "" when absent.
func (r *AgentResult) Extra(key string) string {
	if r.Extras == nil {
		return ""
	}
	s, _ := r.Extras[key].(string)
	return s
}

// UboLink ties a parent business verification to the child individual
// verification created for one of its beneficial owners.
type UboLink struct {
	ID                   int64     `json:"id"`
	ParentVerificationID string    `json:"parent_verification_id"`
	UboUserID            string    `json:"ubo_user_id"`
	ChildVerificationID  string    `json:"child_verification_id"`
	CreatedAt            time.Time `json:"created_at"`
}

// Agent type names. Workflow fan-out and report building key on these.
const (
	AgentDataAcquisition           = "DataAcquisitionAgent"
	AgentInitialDiligence          = "InitialDiligenceAgent"
	AgentGovtIdVerification        = "GovtIdVerificationAgent"
	AgentIdSelfieVerification      = "IdSelfieVerificationAgent"
	AgentAamvaVerification         = "AamvaVerificationAgent"
	AgentEmailPhoneIpVerification  = "EmailPhoneIpVerificationAgent"
	AgentPaymentBehavior           = "PaymentBehaviorAgent"
	AgentLoginActivities           = "LoginActivitiesAgent"
	AgentSiftVerification          = "SiftVerificationAgent"
	AgentIdCheck                   = "IdCheckAgent"
	AgentOfacVerification          = "OfacVerificationAgent"
	AgentNormalDiligence           = "NormalDiligenceAgent"
	AgentIrsMatch                  = "IrsMatchAgent"
	AgentSosFilings                = "SosFilingsAgent"
	AgentEinLetter                 = "EinLetterAgent"
	AgentArticlesIncorporation     = "ArticlesIncorporationAgent"
	AgentResultCompilation         = "ResultCompilationAgent"
	AgentBusinessResultCompilation = "BusinessResultCompilationAgent"
)

// IsCompilation reports whether the agent type is one of the two
// result compilers. At most one compilation result exists per
// verification and it is always the last row by append order.
func IsCompilation(agentType string) bool {
	return agentType == AgentResultCompilation || agentType == AgentBusinessResultCompilation
}
