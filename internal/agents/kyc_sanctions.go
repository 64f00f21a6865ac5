package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/providers"
)

// sanctionedCountryCodes are ISO 3166-1 alpha-2 codes of
// comprehensively sanctioned jurisdictions.
var sanctionedCountryCodes = map[string]string{
	"KP": "North Korea",
	"IR": "Iran",
	"SY": "Syria",
	"CU": "Cuba",
	"RU": "Russia",
	"BY": "Belarus",
}

// OfacVerification searches the live sanctions lists for the subject
// and screens the subject's country. The query is built from persisted
// subject data first, provider fields second, the bare subject id
// last.
type OfacVerification struct{ env *Env }

func NewOfacVerification(env *Env) *OfacVerification { return &OfacVerification{env: env} }

func (a *OfacVerification) Type() string { return core.AgentOfacVerification }

func (a *OfacVerification) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	user := in.User()
	query := a.buildQuery(user, t)

	var checks []core.Check

	hits, err := a.env.Sanctions.SearchEntity(ctx, query)
	if err != nil {
		checks = append(checks, core.Check{
			Name:    "OFAC SDN List",
			Status:  core.CheckError,
			Details: fmt.Sprintf("Sanctions search failed: %v", err),
		})
	} else {
		analysis := a.env.Sanctions.Analyze(hits)
		checks = append(checks, core.Check{
			Name:   "OFAC SDN List",
			Status: riskStatus(analysis.RiskLevel),
			Details: fmt.Sprintf("Sanctions matches: %d, risk level: %s, sources: %s",
				analysis.TotalMatches, analysis.RiskLevel, strings.Join(analysis.Sources, ", ")),
			Metadata: map[string]interface{}{
				"total_matches": analysis.TotalMatches,
				"risk_level":    analysis.RiskLevel,
				"match_details": analysis.MatchDetails,
			},
		})
		checks = append(checks, core.Check{
			Name:    "Name Similarity",
			Status:  passFail(analysis.RiskLevel != "high"),
			Details: fmt.Sprintf("Exact name match on sanctions lists: %t", analysis.RiskLevel == "high"),
		})
	}

	checks = append(checks, countrySanctionsCheck(query.Country))

	summary := a.env.analyze(ctx, map[string]interface{}{
		"checks": checks, "query": map[string]interface{}{"name": query.Name, "country": query.Country},
	}, `
Analyze the OFAC sanctions verification results and determine if there
are any compliance concerns. Consider:
1. SDN list verification
2. Country-based sanctions
3. Name similarity to sanctioned individuals

Your response should include:
1. An overall assessment of sanctions compliance
2. Any specific compliance concerns or flags
3. Recommendations for additional compliance checks if needed`)

	return successResult(a.Type(), summaryOr(summary, "OFAC verification completed"), checks), nil
}

// buildQuery resolves the search identity with a fixed precedence:
// persisted user data, then provider inquiry attributes, then the raw
// subject id.
func (a *OfacVerification) buildQuery(user map[string]interface{}, t Task) providers.EntityQuery {
	userData := asMap(user["user_data"])
	address := asMap(userData["address"])
	attrs := asMap(asMap(asMap(user["persona_data"])["data"])["attributes"])

	name := str(userData, "name")
	if name == "" {
		name = strings.TrimSpace(str(attrs, "name-first") + " " + str(attrs, "name-last"))
	}
	if name == "" {
		name = t.UserID
	}

	q := providers.EntityQuery{
		Name:    name,
		Address: str(address, "street"),
		City:    str(address, "city"),
		State:   str(address, "state"),
		Zip:     str(address, "postal_code"),
		Country: str(address, "country"),
	}
	if q.Address == "" {
		q.Address = str(attrs, "address-street-1")
	}
	if q.City == "" {
		q.City = str(attrs, "address-city")
	}
	if q.State == "" {
		q.State = str(attrs, "address-subdivision")
	}
	if q.Zip == "" {
		q.Zip = str(attrs, "address-postal-code")
	}
	if q.Country == "" {
		q.Country = str(attrs, "address-country-code")
	}
	return q
}

// countrySanctionsCheck screens a country against the sanctioned list,
// accepting either an ISO code or a full country name.
func countrySanctionsCheck(country string) core.Check {
	sanctioned := false
	normalized := strings.ToUpper(strings.TrimSpace(country))
	if _, ok := sanctionedCountryCodes[normalized]; ok {
		sanctioned = true
	} else {
		for _, name := range sanctionedCountryCodes {
			if strings.EqualFold(name, country) {
				sanctioned = true
				break
			}
		}
	}
	return core.Check{
		Name:   "Country Sanctions Check",
		Status: passFail(!sanctioned),
		Details: fmt.Sprintf("Country: %s, Sanctioned: %t", country, sanctioned),
	}
}

// riskStatus maps a sanctions risk level onto a check status.
func riskStatus(level string) core.CheckStatus {
	switch level {
	case "high":
		return core.CheckFailed
	case "medium":
		return core.CheckWarning
	default:
		return core.CheckPassed
	}
}
