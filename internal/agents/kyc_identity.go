package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/veriflow/backend/internal/core"
)

// Vendor verification entry types inside an inquiry's included list.
const (
	includedGovtId    = "verification/government-id"
	includedWatchlist = "verification/watchlist"
	includedGeo       = "verification/geolocation"
)

// InitialDiligence verifies the baseline identity signals: database
// identity flag, PEP and OFAC watchlists, and banned geographies.
type InitialDiligence struct{ env *Env }

func NewInitialDiligence(env *Env) *InitialDiligence { return &InitialDiligence{env: env} }

func (a *InitialDiligence) Type() string { return core.AgentInitialDiligence }

func (a *InitialDiligence) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	user := in.User()
	userData := asMap(user["user_data"])
	included := asSlice(asMap(user["persona_data"])["included"])
	watchlist := findByType(included, includedWatchlist)

	var checks []core.Check

	identityVerified := boolean(userData, "identity_verified")
	checks = append(checks, core.Check{
		Name:    "Identity Verification",
		Status:  passFail(identityVerified),
		Details: ternary(identityVerified, "Identity verified in database", "Identity not verified"),
	})

	pepStatus := vendorStatus(findCheck(watchlist, "watchlist_pep_detection"))
	checks = append(checks, core.Check{
		Name:    "Watchlist (PEP)",
		Status:  core.CheckStatus(pepStatus),
		Details: fmt.Sprintf("PEP check result: %s", pepStatus),
	})

	ofacStatus := vendorStatus(findCheck(watchlist, "watchlist_ofac_detection"))
	checks = append(checks, core.Check{
		Name:    "Watchlist (OFAC)",
		Status:  core.CheckStatus(ofacStatus),
		Details: fmt.Sprintf("OFAC check result: %s", ofacStatus),
	})

	geoStatus := vendorStatus(findByType(included, includedGeo))
	checks = append(checks, core.Check{
		Name:    "Banned Geographies",
		Status:  core.CheckStatus(geoStatus),
		Details: fmt.Sprintf("Geography check result: %s", geoStatus),
	})

	analysis := a.env.analyze(ctx, map[string]interface{}{"checks": checks}, `
Analyze the following identity verification checks and determine the overall risk level.
Consider each check's status and provide a brief explanation of your assessment.
Your response should include:
1. An overall risk level: 'low', 'medium', or 'high'
2. A summary explanation of why you assigned this risk level
3. Any recommendations for additional verification steps if needed`)

	return successResult(a.Type(), summaryOr(analysis, "Initial diligence checks completed"), checks), nil
}

// govtIdChecks maps our check names to the vendor's government-id
// check names. Missing vendor results surface as not_applicable.
var govtIdChecks = []struct {
	name       string
	vendorName string
}{
	{"Barcode Match", "id_barcode_detection"},
	{"Barcode Inconsistency", "id_barcode_inconsistency_detection"},
	{"Compromised submission", "id_compromised_detection"},
	{"Allowed country", "id_disallowed_country_detection"},
	{"Allowed ID type", "id_disallowed_type_detection"},
	{"Electronic replica", "id_electronic_replica_detection"},
	{"Expiration", "id_expired_detection"},
	{"Fabrication", "id_fabrication_detection"},
	{"Inconsistent repeat", "id_inconsistent_repeat_detection"},
	{"Po Box", "id_po_box_detection"},
	{"Portrait clarity", "id_portrait_clarity_detection"},
	{"Portrait", "id_portrait_detection"},
	{"Selfie-to ID comparison", "id_selfie_comparison"},
	{"ID image tampering", "id_tamper_detection"},
}

// GovtIdVerification reads the vendor's government-id verification and
// reports one check per entry of the fixed list.
type GovtIdVerification struct{ env *Env }

func NewGovtIdVerification(env *Env) *GovtIdVerification { return &GovtIdVerification{env: env} }

func (a *GovtIdVerification) Type() string { return core.AgentGovtIdVerification }

func (a *GovtIdVerification) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	included := asSlice(asMap(in.User()["persona_data"])["included"])
	govtId := findByType(included, includedGovtId)

	checks := make([]core.Check, 0, len(govtIdChecks))
	for _, required := range govtIdChecks {
		vendorCheck := findCheck(govtId, required.vendorName)
		status := vendorStatus(vendorCheck)
		checks = append(checks, core.Check{
			Name:     required.name,
			Status:   core.CheckStatus(status),
			Details:  fmt.Sprintf("%s check result: %s", required.name, status),
			Metadata: asMap(vendorCheck["metadata"]),
		})
	}

	analysis := a.env.analyze(ctx, map[string]interface{}{"checks": checks}, `
Analyze the following government ID verification checks for suspicious patterns.
Identify any anomalies or concerning results, even if individual checks passed.
Your response should include:
1. An assessment of ID authenticity based on these checks
2. Any suspicious patterns or potential fraud indicators
3. A confidence level in the ID verification
4. Recommendations for additional verification steps if needed`)

	return successResult(a.Type(), summaryOr(analysis, "Government ID verification completed"), checks), nil
}

// selfieScoreThreshold is the minimum vendor confidence for an
// ID-to-selfie match to count as passed.
const selfieScoreThreshold = 0.7

// IdSelfieVerification compares the ID portrait against the selfie.
type IdSelfieVerification struct{ env *Env }

func NewIdSelfieVerification(env *Env) *IdSelfieVerification { return &IdSelfieVerification{env: env} }

func (a *IdSelfieVerification) Type() string { return core.AgentIdSelfieVerification }

func (a *IdSelfieVerification) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	included := asSlice(asMap(in.User()["persona_data"])["included"])
	govtId := findByType(included, includedGovtId)

	selfieCheck := findCheck(govtId, "id_selfie_comparison")
	selfieStatus := vendorStatus(selfieCheck)
	score := num(asMap(selfieCheck["metadata"]), "confidence-score")

	passed := selfieStatus == "passed" && score >= selfieScoreThreshold

	checks := []core.Check{
		{
			Name:     "ID to Selfie Comparison",
			Status:   passFail(passed),
			Details:  fmt.Sprintf("ID to selfie comparison: %s, confidence score: %g", statusWord(passed), score),
			Metadata: map[string]interface{}{"confidence_score": score},
		},
		{
			Name:    "Facial Anomalies",
			Status:  passFail(passed),
			Details: ternary(passed, "Facial anomalies check: No anomalies detected", "Facial anomalies check: Anomalies detected"),
		},
	}

	analysis := a.env.analyze(ctx, map[string]interface{}{"checks": checks}, `
Analyze the ID selfie verification results and determine if there are any
risks or concerns. Consider the confidence score and whether any facial
anomalies were detected. Your response should include:
1. An overall assessment of the ID-to-selfie match
2. Any potential signs of presentation attacks (e.g., using a photo of a photo)
3. A confidence rating in your assessment (low, medium, high)
4. Recommendations for additional verification if needed`)

	return successResult(a.Type(), summaryOr(analysis, "ID selfie verification completed"), checks), nil
}

// AamvaVerification cross-checks the ID against motor-vehicle records:
// ID presence, address completeness, and license status.
type AamvaVerification struct{ env *Env }

func NewAamvaVerification(env *Env) *AamvaVerification { return &AamvaVerification{env: env} }

func (a *AamvaVerification) Type() string { return core.AgentAamvaVerification }

func (a *AamvaVerification) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	user := in.User()
	userData := asMap(user["user_data"])
	address := asMap(userData["address"])
	included := asSlice(asMap(user["persona_data"])["included"])
	govtId := findByType(included, includedGovtId)

	var checks []core.Check

	idOnFile := len(asSlice(govtId["checks"])) > 0
	checks = append(checks, core.Check{
		Name:    "AAMVA ID Verification",
		Status:  passFail(idOnFile),
		Details: ternary(idOnFile, "ID verified against DMV records", "ID not found in DMV records"),
	})

	addressComplete := str(address, "street") != "" && str(address, "city") != "" &&
		str(address, "state") != "" && str(address, "postal_code") != ""
	checks = append(checks, core.Check{
		Name:    "AAMVA Address Verification",
		Status:  passFail(addressComplete),
		Details: ternary(addressComplete, "Address verified against DMV records", "Address verification failed"),
	})

	licenseStatus := "valid"
	if vendorStatus(findCheck(govtId, "id_expired_detection")) == "failed" {
		licenseStatus = "expired"
	}
	checks = append(checks, core.Check{
		Name:    "AAMVA License Status",
		Status:  passFail(licenseStatus == "valid"),
		Details: fmt.Sprintf("License status: %s", licenseStatus),
	})

	analysis := a.env.analyze(ctx, map[string]interface{}{"checks": checks}, `
Analyze the AAMVA verification results and determine if there are any
inconsistencies or concerns with the government ID verification.
Your response should include:
1. An overall assessment of the ID verification with AAMVA
2. Any inconsistencies between the provided user data and DMV records
3. Recommendations for additional verification steps if needed`)

	return successResult(a.Type(), summaryOr(analysis, "AAMVA verification completed"), checks), nil
}

// IdCheck performs the comprehensive document inspection: document
// type and REAL-ID designation, MRZ, expiration, security features,
// and name consistency with on-file data.
type IdCheck struct{ env *Env }

func NewIdCheck(env *Env) *IdCheck { return &IdCheck{env: env} }

func (a *IdCheck) Type() string { return core.AgentIdCheck }

func (a *IdCheck) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	user := in.User()
	userData := asMap(user["user_data"])
	personaData := asMap(user["persona_data"])
	included := asSlice(personaData["included"])
	govtId := findByType(included, includedGovtId)

	var checks []core.Check

	typeMeta := asMap(findCheck(govtId, "id_disallowed_type_detection")["metadata"])
	idClass := str(typeMeta, "detected-id-class")
	realID := false
	for _, d := range asSlice(typeMeta["detected-id-designations"]) {
		if s, _ := d.(string); s == "REAL_ID" {
			realID = true
		}
	}
	checks = append(checks, core.Check{
		Name:    "ID Document Type",
		Status:  core.CheckPassed,
		Details: fmt.Sprintf("Document type: %s, REAL ID: %t", idClass, realID),
	})

	mrzStatus := vendorStatus(findCheck(govtId, "id_mrz_detection"))
	checks = append(checks, core.Check{
		Name:    "ID MRZ Check",
		Status:  core.CheckStatus(mrzStatus),
		Details: fmt.Sprintf("MRZ check result: %s", mrzStatus),
	})

	expiration := findCheck(govtId, "id_expired_detection")
	expirationStatus := vendorStatus(expiration)
	checks = append(checks, core.Check{
		Name:    "ID Expiration Check",
		Status:  core.CheckStatus(expirationStatus),
		Details: fmt.Sprintf("Expiration date: %s, Status: %s", str(asMap(expiration["metadata"]), "expiration-date"), expirationStatus),
	})

	tamperStatus := vendorStatus(findCheck(govtId, "id_tamper_detection"))
	checks = append(checks, core.Check{
		Name:    "ID Security Features",
		Status:  core.CheckStatus(tamperStatus),
		Details: fmt.Sprintf("Security feature inspection result: %s", tamperStatus),
	})

	checks = append(checks, a.nameConsistency(personaData, userData))

	analysis := a.env.analyze(ctx, map[string]interface{}{"checks": checks}, `
Perform a comprehensive analysis of the ID document verification results.
Consider:
1. The type and quality of the ID document
2. Security features and their verification
3. Expiration status
4. Consistency between ID data and user-provided data

Your response should include:
1. An overall assessment of the ID's authenticity
2. Any inconsistencies or concerns identified
3. A risk level (low, medium, high) based on these factors
4. Recommendations for additional verification if needed`)

	return successResult(a.Type(), summaryOr(analysis, "ID check completed"), checks), nil
}

// nameConsistency compares the name the vendor read off the document
// with the name on file. Without both sides it is not applicable.
func (a *IdCheck) nameConsistency(personaData, userData map[string]interface{}) core.Check {
	attrs := asMap(asMap(personaData["data"])["attributes"])
	documentName := strings.TrimSpace(str(attrs, "name-first") + " " + str(attrs, "name-last"))
	systemName := str(userData, "name")

	if documentName == "" || systemName == "" {
		return core.Check{
			Name:    "ID Data Consistency",
			Status:  core.CheckNotApplicable,
			Details: "Name comparison unavailable",
		}
	}
	match := strings.EqualFold(documentName, systemName)
	return core.Check{
		Name:    "ID Data Consistency",
		Status:  passFail(match),
		Details: fmt.Sprintf("Name match: %t", match),
	}
}

func passFail(ok bool) core.CheckStatus {
	if ok {
		return core.CheckPassed
	}
	return core.CheckFailed
}

func statusWord(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}

func ternary(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
