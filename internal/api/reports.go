package api

import (
	"context"
	"fmt"
	"time"

	"github.com/veriflow/backend/internal/core"
)

// CheckRow is one flattened check in a report.
type CheckRow struct {
	AgentType string `json:"agent_type"`
	CheckName string `json:"check_name"`
	Status    string `json:"status"`
	Details   string `json:"details"`
}

// CheckSummary counts checks by outcome.
type CheckSummary struct {
	Total         int `json:"total"`
	Passed        int `json:"passed"`
	Failed        int `json:"failed"`
	Warning       int `json:"warning"`
	NotApplicable int `json:"not_applicable"`
	Error         int `json:"error"`
}

// Report is the flattened, client-facing view of a verification.
type Report struct {
	VerificationID string       `json:"verification_id"`
	UserID         string       `json:"user_id,omitempty"`
	BusinessID     string       `json:"business_id,omitempty"`
	Status         string       `json:"status"`
	Result         string       `json:"result,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Checks         []CheckRow   `json:"checks"`
	Summary        CheckSummary `json:"summary"`
	UboReports     []*Report    `json:"ubo_reports,omitempty"`
}

// buildReport flattens every agent's checks into rows. For business
// verifications with withUbos set, each linked child's report is
// nested one level deep.
func (s *Server) buildReport(ctx context.Context, v *core.Verification, withUbos bool) (*Report, error) {
	results, err := s.store.ListAgentResults(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("load agent results: %w", err)
	}

	report := &Report{
		VerificationID: v.ID,
		UserID:         v.UserID,
		BusinessID:     v.BusinessID,
		Status:         string(v.Status),
		Result:         v.Result,
		Reason:         v.Reason,
		CreatedAt:      v.CreatedAt,
		CompletedAt:    v.CompletedAt,
		Checks:         []CheckRow{},
	}

	for _, r := range results {
		for _, c := range r.Checks {
			report.Checks = append(report.Checks, CheckRow{
				AgentType: r.AgentType,
				CheckName: c.Name,
				Status:    string(c.Status),
				Details:   c.Details,
			})
			report.Summary.tally(c.Status)
		}
	}

	if withUbos && v.IsBusiness() {
		links, err := s.store.ListUboLinks(ctx, v.ID)
		if err != nil {
			return nil, fmt.Errorf("load UBO links: %w", err)
		}
		for _, link := range links {
			child, err := s.store.GetVerification(ctx, link.ChildVerificationID)
			if err != nil || child == nil {
				continue
			}
			childReport, err := s.buildReport(ctx, child, false)
			if err != nil {
				return nil, err
			}
			report.UboReports = append(report.UboReports, childReport)
		}
	}
	return report, nil
}

func (cs *CheckSummary) tally(status core.CheckStatus) {
	cs.Total++
	switch status {
	case core.CheckPassed:
		cs.Passed++
	case core.CheckFailed:
		cs.Failed++
	case core.CheckWarning:
		cs.Warning++
	case core.CheckNotApplicable:
		cs.NotApplicable++
	case core.CheckError:
		cs.Error++
	}
}
