package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/providers"
)

// Business blacklists.
var (
	bannedBusinessTypes = []string{"gambling", "cryptocurrency_exchange", "adult_content", "weapons"}
	bannedIndustries    = []string{"gambling", "adult_entertainment", "weapons_manufacturing", "cryptocurrency"}
)

// NormalDiligence screens the business against type and industry
// blacklists, cross-validates with the corporate registry, matches the
// declared UBO against the EIN owner of record, and screens the
// business country.
type NormalDiligence struct{ env *Env }

func NewNormalDiligence(env *Env) *NormalDiligence { return &NormalDiligence{env: env} }

func (a *NormalDiligence) Type() string { return core.AgentNormalDiligence }

func (a *NormalDiligence) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	businessData := asMap(in.Business()["business_data"])

	businessType := str(businessData, "business_type")
	industryType := str(businessData, "industry_type")

	registry := a.registryRecord(ctx, businessData)

	var checks []core.Check

	typeBanned := contains(bannedBusinessTypes, strings.ToLower(businessType))
	typeMatch := strings.EqualFold(businessType, str(registry, "business_type"))
	checks = append(checks, core.Check{
		Name:   "Business Type",
		Status: passFail(!typeBanned),
		Details: fmt.Sprintf("Business type: %s, %s, Match with external data: %t",
			businessType, ternary(typeBanned, "Banned type", "Allowed type"), typeMatch),
	})

	industryBanned := contains(bannedIndustries, strings.ToLower(industryType))
	industryMatch := strings.EqualFold(industryType, str(registry, "industry"))
	checks = append(checks, core.Check{
		Name:   "Industry Type",
		Status: passFail(!industryBanned),
		Details: fmt.Sprintf("Industry type: %s, %s, Match with external data: %t",
			industryType, ternary(industryBanned, "Banned industry", "Allowed industry"), industryMatch),
	})

	uboName := str(businessData, "ubo_name")
	einOwner := str(businessData, "ein_owner_name")
	uboMatch := uboName != "" && strings.EqualFold(uboName, einOwner)
	checks = append(checks, core.Check{
		Name:   "KYC/UBO Information",
		Status: passFail(uboMatch),
		Details: fmt.Sprintf("UBO name: %s, EIN owner name: %s, Match: %t",
			uboName, einOwner, uboMatch),
	})

	country := str(asMap(businessData["address"]), "country")
	checks = append(checks, countrySanctionsCheck(country))

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"business_data": businessData, "registry_data": registry, "checks": checks,
	}, `
Analyze the following business verification checks and determine if there are any inconsistencies
or red flags between the provided business data and external sources.
Your response should include:
1. An overall assessment of business legitimacy
2. Any inconsistencies or discrepancies between data sources
3. Potential risk factors identified
4. Recommendations for additional verification if needed`)

	return successResult(a.Type(), summaryOr(analysis, "Normal diligence checks completed"), checks), nil
}

// registryRecord cross-references the corporate registry; lookup
// failures degrade to an empty record.
func (a *NormalDiligence) registryRecord(ctx context.Context, businessData map[string]interface{}) providers.Payload {
	if a.env.Registry == nil {
		return providers.Payload{}
	}
	record, err := a.env.Registry.Lookup(ctx,
		str(businessData, "business_name"), str(businessData, "registration_country"))
	if err != nil || record == nil {
		return providers.Payload{}
	}
	return record
}

// IrsMatch validates the tax identity: tax-id format, the verified
// flag from the IRS snapshot, name match with the EIN record, and the
// good-standing flag.
type IrsMatch struct{ env *Env }

func NewIrsMatch(env *Env) *IrsMatch { return &IrsMatch{env: env} }

func (a *IrsMatch) Type() string { return core.AgentIrsMatch }

func (a *IrsMatch) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	businessData := asMap(in.Business()["business_data"])

	businessName := str(businessData, "business_name")
	taxID := str(businessData, "tax_id")

	var checks []core.Check

	digits := strings.ReplaceAll(taxID, "-", "")
	formatValid := len(digits) == 9 && isDigits(digits)
	checks = append(checks, core.Check{
		Name:    "Tax ID Format Validation",
		Status:  passFail(formatValid),
		Details: fmt.Sprintf("Tax ID format is %s: %s", ternary(formatValid, "valid", "invalid"), taxID),
	})

	verified := boolean(businessData, "tax_id_verified")
	checks = append(checks, core.Check{
		Name:    "IRS Database Match",
		Status:  passFail(verified),
		Details: fmt.Sprintf("Tax ID verified with IRS database: %t", verified),
	})

	einOwner := str(businessData, "ein_owner_name")
	nameMatch := businessName != "" && strings.EqualFold(businessName, einOwner)
	checks = append(checks, core.Check{
		Name:   "Business Name Match",
		Status: passFail(nameMatch),
		Details: fmt.Sprintf("Business name match: %t, Submitted: %s, IRS: %s",
			nameMatch, businessName, einOwner),
	})

	goodStanding := boolean(businessData, "good_standing")
	checks = append(checks, core.Check{
		Name:    "Tax Filing Status",
		Status:  passFail(goodStanding),
		Details: fmt.Sprintf("Business in good standing with IRS: %t", goodStanding),
	})

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"checks": checks, "business_data": businessData,
	}, `
Analyze the IRS verification results and determine if there are any
tax compliance concerns. Consider:
1. Tax ID validation
2. IRS database matching
3. Business name consistency
4. Tax filing status

Your response should include:
1. An overall assessment of tax compliance
2. Any specific compliance concerns or inconsistencies
3. Recommendations for additional tax verification if needed`)

	return successResult(a.Type(), summaryOr(analysis, "IRS verification completed"), checks), nil
}

// Filing recency thresholds.
const (
	newBusinessAge   = 180 * 24 * time.Hour
	staleFilingAge   = 365 * 24 * time.Hour
)

// SosFilings verifies the Secretary of State record: registration
// status, name consistency, business age, and filing recency.
type SosFilings struct{ env *Env }

func NewSosFilings(env *Env) *SosFilings { return &SosFilings{env: env} }

func (a *SosFilings) Type() string { return core.AgentSosFilings }

func (a *SosFilings) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	businessData := asMap(in.Business()["business_data"])
	businessName := str(businessData, "business_name")

	var checks []core.Check

	filingStatus := str(businessData, "sos_filing_status")
	registered := filingStatus == "active"
	checks = append(checks, core.Check{
		Name:    "SoS Registration",
		Status:  passFail(registered),
		Details: fmt.Sprintf("SoS filing status: %s", filingStatus),
	})

	checks = append(checks, core.Check{
		Name:    "Business Name Consistency",
		Status:  passFail(businessName != ""),
		Details: fmt.Sprintf("Business name consistent with SoS records: %s", businessName),
	})

	checks = append(checks, a.businessAge(businessData))
	checks = append(checks, a.recentFilings(businessData))

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"checks": checks, "business_data": businessData,
	}, `
Analyze the Secretary of State filing verification results and determine
if there are any compliance or legitimacy concerns. Consider:
1. Registration status with Secretary of State
2. Business name consistency
3. Business age and establishment history
4. Compliance with filing requirements

Your response should include:
1. An overall assessment of business legitimacy based on SoS filings
2. Any specific compliance concerns or red flags
3. Recommendations for additional verification if needed`)

	return successResult(a.Type(), summaryOr(analysis, "Secretary of State filings verification completed"), checks), nil
}

// businessAge warns on businesses younger than 180 days.
func (a *SosFilings) businessAge(businessData map[string]interface{}) core.Check {
	incorporated := str(businessData, "incorporation_date")
	at, ok := parseTime(incorporated)
	if !ok {
		return core.Check{
			Name:    "Business Age",
			Status:  core.CheckFailed,
			Details: "Incorporation date not available",
		}
	}
	age := time.Since(at)
	status := core.CheckPassed
	if age < newBusinessAge {
		status = core.CheckWarning
	}
	return core.Check{
		Name:   "Business Age",
		Status: status,
		Details: fmt.Sprintf("Business age: %d days, Incorporation date: %s",
			int(age.Hours()/24), incorporated),
	}
}

// recentFilings fails when the last filing is over a year old.
func (a *SosFilings) recentFilings(businessData map[string]interface{}) core.Check {
	lastFiling := str(businessData, "last_filing_date")
	at, ok := parseTime(lastFiling)
	if !ok {
		return core.Check{
			Name:    "Recent Filings",
			Status:  core.CheckFailed,
			Details: "Last filing date not available",
		}
	}
	since := time.Since(at)
	return core.Check{
		Name:   "Recent Filings",
		Status: passFail(since < staleFilingAge),
		Details: fmt.Sprintf("Days since last filing: %d, Last filing date: %s",
			int(since.Hours()/24), lastFiling),
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
