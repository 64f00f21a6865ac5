package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/docpipe"
	"github.com/veriflow/backend/internal/providers"
)

// einPattern matches an EIN in its canonical XX-XXXXXXX form.
var einPattern = regexp.MustCompile(`\b\d{2}-\d{7}\b`)

// EinLetter verifies the IRS EIN confirmation letter: it runs the
// document pipeline over the inquiry's attachments, discovers the
// letter by classification keywords and the EIN pattern, and matches
// its fields against the business record.
type EinLetter struct{ env *Env }

func NewEinLetter(env *Env) *EinLetter { return &EinLetter{env: env} }

func (a *EinLetter) Type() string { return core.AgentEinLetter }

func (a *EinLetter) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	businessData := asMap(in.Business()["business_data"])
	businessName := str(businessData, "business_name")
	taxID := str(businessData, "tax_id")

	var checks []core.Check

	docs, results := a.processDocuments(ctx, businessData, &checks)
	letter := findEinLetterData(results)
	checks = append(checks, documentVendorChecks(docs)...)

	if letter != nil {
		ocrName := str(letter, "company_name")
		nameMatch := ocrName != "" && businessName != "" &&
			(strings.Contains(strings.ToLower(ocrName), strings.ToLower(businessName)) ||
				strings.Contains(strings.ToLower(businessName), strings.ToLower(ocrName)))
		checks = append(checks, core.Check{
			Name:   "Company Name Verification",
			Status: passFail(nameMatch),
			Details: fmt.Sprintf("OCR company name: %s, Business name: %s, Match: %t",
				ocrName, businessName, nameMatch),
		})

		ocrEin := str(letter, "ein")
		einMatch := ocrEin != "" && taxID != "" &&
			strings.ReplaceAll(ocrEin, "-", "") == strings.ReplaceAll(taxID, "-", "")
		checks = append(checks, core.Check{
			Name:   "EIN Number Verification",
			Status: passFail(einMatch),
			Details: fmt.Sprintf("OCR EIN: %s, Provided EIN: %s, Match: %t",
				ocrEin, taxID, einMatch),
		})

		checks = append(checks, a.authenticity(letter))
		checks = append(checks, core.Check{
			Name:    "EIN Letter Present",
			Status:  core.CheckPassed,
			Details: "EIN letter document found and processed",
		})
	} else {
		checks = append(checks, core.Check{
			Name:    "EIN Letter Present",
			Status:  core.CheckFailed,
			Details: "No EIN letter document found or could not be processed",
		})
	}

	verified := boolean(businessData, "ein_letter_verified") || letter != nil
	checks = append(checks, core.Check{
		Name:    "EIN Letter Verification",
		Status:  passFail(verified),
		Details: fmt.Sprintf("EIN letter verified: %t", verified),
	})

	digits := strings.ReplaceAll(taxID, "-", "")
	formatValid := len(digits) == 9 && isDigits(digits)
	checks = append(checks, core.Check{
		Name:    "EIN Format Check",
		Status:  passFail(formatValid),
		Details: fmt.Sprintf("EIN format valid: %t, EIN: %s", formatValid, taxID),
	})

	einOwner := str(businessData, "ein_owner_name")
	ownerMatch := businessName != "" && strings.EqualFold(businessName, einOwner)
	checks = append(checks, core.Check{
		Name:   "Business Name Match",
		Status: passFail(ownerMatch),
		Details: fmt.Sprintf("Business name match: %t, Submitted: %s, EIN letter: %s",
			ownerMatch, businessName, einOwner),
	})

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"checks": checks, "ocr_data": letter,
	}, `
Analyze the EIN letter verification results and determine if there are any
concerns about its authenticity. Consider:
1. EIN letter verification status
2. EIN number format validity
3. Business name consistency
4. Letter authenticity indicators
5. OCR data extracted from the document (if available)

Your response should include:
1. An overall assessment of the EIN letter authenticity
2. Any specific concerns or inconsistencies
3. Recommendations for additional verification if needed`)

	return successResult(a.Type(), summaryOr(analysis, "EIN letter verification completed"), checks), nil
}

// authenticity scores the letter's IRS provenance markers.
func (a *EinLetter) authenticity(letter providers.Payload) core.Check {
	var markers []string
	if isTrue(letter["is_official_irs_letter"]) {
		markers = append(markers, "Document appears to be an official IRS letter")
	}
	if letterType := str(letter, "letter_type"); letterType != "" {
		markers = append(markers, fmt.Sprintf("Recognized as IRS letter type: %s", letterType))
	}
	return core.Check{
		Name:    "IRS Letter Authenticity",
		Status:  passFail(len(markers) > 0),
		Details: fmt.Sprintf("Authenticity assessment: %s", strings.Join(markers, ", ")),
	}
}

// processDocuments runs the pipeline over the inquiry's attachments.
// Per-document failures become failed checks, not agent errors.
func (a *EinLetter) processDocuments(ctx context.Context, businessData map[string]interface{}, checks *[]core.Check) ([]providers.Document, []providers.Payload) {
	return runDocumentPipeline(ctx, a.env.Docs, businessData, checks)
}

func runDocumentPipeline(ctx context.Context, pipeline *docpipe.Pipeline, businessData map[string]interface{}, checks *[]core.Check) ([]providers.Document, []providers.Payload) {
	inquiryID := str(businessData, "persona_inquiry_id")
	if inquiryID == "" || pipeline == nil {
		return nil, nil
	}
	docs, results, err := pipeline.ProcessInquiry(ctx, inquiryID)
	if err != nil {
		slog.Error("document pipeline failed", "inquiry_id", inquiryID, "error", err)
		*checks = append(*checks, core.Check{
			Name:    "Document Processing",
			Status:  core.CheckFailed,
			Details: fmt.Sprintf("Error processing documents: %v", err),
		})
		return nil, nil
	}
	for _, result := range results {
		if procErr, _ := result["processing_error"].(string); procErr != "" {
			*checks = append(*checks, core.Check{
				Name:    fmt.Sprintf("Document Processing: %v", result["document_name"]),
				Status:  core.CheckFailed,
				Details: procErr,
			})
		}
	}
	return docs, results
}

// documentVendorChecks lifts the vendor's own per-document checks into
// the agent result, prefixed with the document name.
func documentVendorChecks(docs []providers.Document) []core.Check {
	var checks []core.Check
	for _, doc := range docs {
		name := doc.Name
		if name == "" {
			name = "Unknown Document"
		}
		for _, check := range doc.Checks {
			checks = append(checks, core.Check{
				Name:    fmt.Sprintf("Document: %s - %s", name, check.Name),
				Status:  check.Status,
				Details: check.Details,
			})
		}
	}
	return checks
}

// findEinLetterData discovers the EIN letter among the OCR results by
// classification keywords and the EIN number pattern. Among candidates
// the one with the most non-empty fields wins.
func findEinLetterData(results []providers.Payload) providers.Payload {
	var best providers.Payload
	bestFields := -1
	for _, result := range results {
		if procErr, _ := result["processing_error"].(string); procErr != "" {
			continue
		}
		classification := asMap(result["classification"])
		kind := strings.ToLower(str(result, "document_type"))
		subtype := strings.ToLower(str(classification, "document_subtype"))
		extracted := asMap(result["extracted_data"])

		keywordHit := containsAny(kind, "ein", "tax", "irs") || containsAny(subtype, "ein", "tax", "irs")
		patternHit := einPattern.MatchString(str(extracted, "ein")) || einPattern.MatchString(rawText(result))
		fieldHit := str(extracted, "ein") != "" ||
			(str(extracted, "company_name") != "" && patternHit) ||
			isTrue(extracted["is_official_irs_letter"])

		if !keywordHit && !fieldHit {
			continue
		}
		if fields := nonEmptyFields(extracted); fields > bestFields {
			best = extracted
			bestFields = fields
		}
	}
	return best
}

// ArticlesIncorporation verifies the formation document: discovery via
// the pipeline's classification, then company name, entity type,
// incorporation date, and jurisdiction against the business record.
type ArticlesIncorporation struct{ env *Env }

func NewArticlesIncorporation(env *Env) *ArticlesIncorporation {
	return &ArticlesIncorporation{env: env}
}

func (a *ArticlesIncorporation) Type() string { return core.AgentArticlesIncorporation }

func (a *ArticlesIncorporation) Run(ctx context.Context, t Task) (*core.AgentResult, error) {
	in, err := a.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	businessData := asMap(in.Business()["business_data"])
	businessName := str(businessData, "business_name")
	businessType := str(businessData, "business_type")

	var checks []core.Check

	_, results := runDocumentPipeline(ctx, a.env.Docs, businessData, &checks)
	articles := findFormationDocument(results)

	if articles == nil {
		checks = append(checks, core.Check{
			Name:    "Articles Verification",
			Status:  passFail(str(businessData, "incorporation_date") != ""),
			Details: "No formation document found; falling back to the business record",
		})
	} else {
		checks = append(checks, core.Check{
			Name:    "Articles Verification",
			Status:  core.CheckPassed,
			Details: "Formation document found and processed",
		})

		docName := str(articles, "company_name")
		nameMatch := docName != "" && businessName != "" &&
			(strings.Contains(strings.ToLower(docName), strings.ToLower(businessName)) ||
				strings.Contains(strings.ToLower(businessName), strings.ToLower(docName)))
		checks = append(checks, core.Check{
			Name:   "Company Name Verification",
			Status: passFail(nameMatch),
			Details: fmt.Sprintf("Document company name: %s, Business name: %s, Match: %t",
				docName, businessName, nameMatch),
		})

		entityType := str(articles, "type_of_entity")
		entityMatch := entityType != "" && businessType != "" &&
			strings.EqualFold(strings.ReplaceAll(entityType, " ", "_"), businessType)
		checks = append(checks, core.Check{
			Name:   "Entity Type Verification",
			Status: passFail(entityMatch),
			Details: fmt.Sprintf("Document entity type: %s, Declared type: %s, Match: %t",
				entityType, businessType, entityMatch),
		})

		checks = append(checks, core.Check{
			Name:   "Jurisdiction",
			Status: passFail(str(articles, "state_of_incorporation") != ""),
			Details: fmt.Sprintf("State of incorporation: %s",
				str(articles, "state_of_incorporation")),
		})
	}

	checks = append(checks, a.incorporationDate(businessData, articles))
	checks = append(checks, a.legalStructure(businessData))

	analysis := a.env.analyze(ctx, map[string]interface{}{
		"checks": checks, "business_data": businessData, "document_data": articles,
	}, `
Analyze the articles of incorporation verification results and determine
if there are any concerns about business legitimacy. Consider:
1. Articles of incorporation verification status
2. Legal structure consistency
3. Incorporation date and business age
4. Business name consistency

Your response should include:
1. An overall assessment of business legitimacy based on incorporation documents
2. Any specific concerns or red flags
3. Recommendations for additional verification if needed`)

	return successResult(a.Type(), summaryOr(analysis, "Articles of incorporation verification completed"), checks), nil
}

// incorporationDate prefers the document's date, falling back to the
// business record; very new businesses get a warning.
func (a *ArticlesIncorporation) incorporationDate(businessData map[string]interface{}, articles providers.Payload) core.Check {
	date := ""
	if articles != nil {
		date = str(articles, "date_of_incorporation")
	}
	if date == "" {
		date = str(businessData, "incorporation_date")
	}
	at, ok := parseTime(date)
	if !ok {
		return core.Check{
			Name:    "Incorporation Date",
			Status:  core.CheckFailed,
			Details: "Incorporation date not available",
		}
	}
	ageDays := int(time.Since(at).Hours() / 24)
	status := core.CheckPassed
	if ageDays < 30 {
		status = core.CheckWarning
	}
	return core.Check{
		Name:    "Incorporation Date",
		Status:  status,
		Details: fmt.Sprintf("Incorporation date: %s, Business age: %d days", date, ageDays),
	}
}

var validLegalStructures = []string{"LLC", "Corporation", "Partnership", "Sole Proprietorship"}

// legalStructure verifies the recorded structure is a known kind and
// consistent with the declared business type.
func (a *ArticlesIncorporation) legalStructure(businessData map[string]interface{}) core.Check {
	structure := str(businessData, "legal_structure")
	businessType := strings.ToLower(str(businessData, "business_type"))

	valid := contains(validLegalStructures, structure)
	consistent := businessType == "" ||
		strings.EqualFold(strings.ReplaceAll(structure, " ", "_"), businessType)
	return core.Check{
		Name:   "Legal Structure",
		Status: passFail(valid && consistent),
		Details: fmt.Sprintf("Legal structure: %s, Business type: %s, Consistent: %t",
			structure, businessType, consistent),
	}
}

// findFormationDocument returns the extracted fields of the first
// result classified as a formation document.
func findFormationDocument(results []providers.Payload) providers.Payload {
	var best providers.Payload
	bestFields := -1
	for _, result := range results {
		if procErr, _ := result["processing_error"].(string); procErr != "" {
			continue
		}
		kind := str(result, "document_type")
		if kind != docpipe.KindArticlesOfIncorporation && kind != docpipe.KindCertificateOfOrganization {
			continue
		}
		extracted := asMap(result["extracted_data"])
		if fields := nonEmptyFields(extracted); fields > bestFields {
			best = extracted
			bestFields = fields
		}
	}
	return best
}

// rawText flattens a result's unparsed model output for pattern scans.
func rawText(result providers.Payload) string {
	var parts []string
	if s, ok := asMap(result["classification"])["raw_response"].(string); ok {
		parts = append(parts, s)
	}
	for _, raw := range asSlice(result["page_results"]) {
		page := asMap(raw)
		if s, ok := page["raw_response"].(string); ok {
			parts = append(parts, s)
		} else if encoded, err := json.Marshal(page); err == nil {
			parts = append(parts, string(encoded))
		}
	}
	return strings.Join(parts, "\n")
}

func nonEmptyFields(m map[string]interface{}) int {
	n := 0
	for _, v := range m {
		switch t := v.(type) {
		case nil:
		case string:
			if t != "" {
				n++
			}
		case bool:
			if t {
				n++
			}
		default:
			n++
		}
	}
	return n
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isTrue(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
