// Package persona adapts the Persona identity-proofing API to the
// IdProvider capability.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/providers"
)

const defaultBaseURL = "https://api.withpersona.com/api/v1"

// Client talks to the Persona inquiries API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New builds a Persona client.
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

// GetInquiry fetches the full inquiry record, including verifications,
// reports, and documents under "included".
func (c *Client) GetInquiry(ctx context.Context, inquiryID string) (providers.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/inquiries/%s", c.baseURL, inquiryID), nil)
	if err != nil {
		return nil, fmt.Errorf("build inquiry request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get inquiry %s: %w", inquiryID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get inquiry %s: status %d", inquiryID, resp.StatusCode)
	}

	var payload providers.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode inquiry %s: %w", inquiryID, err)
	}
	return payload, nil
}

// ExtractBusinessInfo flattens the inquiry's field map into business
// details, the control person, up to four UBO field groups, and
// rollups of the vendor's verifications, reports, watchlist hits, and
// business classification.
func (c *Client) ExtractBusinessInfo(inquiry providers.Payload) providers.Payload {
	data := asMap(inquiry["data"])
	attributes := asMap(data["attributes"])
	fields := asMap(attributes["fields"])

	industry := fieldValue(fields, "business-industry")

	businessInfo := providers.Payload{
		"business_name":           fieldValue(fields, "business-name"),
		"business_tax_id":         fieldValue(fields, "business-tax-identification-number"),
		"business_website":        fieldValue(fields, "business-website"),
		"business_phone":          fieldValue(fields, "business-phone-number"),
		"business_formation_date": fieldValue(fields, "business-formation-date"),
		"business_description":    fieldValue(fields, "business-description"),
		"entity_type":             fieldValue(fields, "entity-type"),
		"business_industry":       industry,
		"business_subindustry":    fieldValue(fields, "business-subindustry-"+str(industry)),
		"registration_number":     fieldValue(fields, "business-registration-number"),
		"address": providers.Payload{
			"street_1":     fieldValue(fields, "business-physical-address-street-1"),
			"street_2":     fieldValue(fields, "business-physical-address-street-2"),
			"city":         fieldValue(fields, "business-physical-address-city"),
			"state":        fieldValue(fields, "business-physical-address-subdivision"),
			"postal_code":  fieldValue(fields, "business-physical-address-postal-code"),
			"country_code": fieldValue(fields, "business-physical-address-country-code"),
		},
	}

	controlPerson := providers.Payload{
		"name_first":           fieldValue(fields, "control-person-name-first"),
		"name_last":            fieldValue(fields, "control-person-name-last"),
		"email":                fieldValue(fields, "control-person-email-address"),
		"job_title":            fieldValue(fields, "control-person-job-title"),
		"is_also_owner":        fieldValue(fields, "control-person-is-also-owner"),
		"percentage_ownership": fieldValue(fields, "control-person-percentage-ownership"),
		"country_code":         fieldValue(fields, "control-person-id-country-code"),
	}

	var ubos []providers.Payload
	for i := 1; i <= 4; i++ {
		first := fieldValue(fields, fmt.Sprintf("ubo-%d-name-first", i))
		if str(first) == "" {
			continue
		}
		ubos = append(ubos, providers.Payload{
			"name_first":           first,
			"name_last":            fieldValue(fields, fmt.Sprintf("ubo-%d-name-last", i)),
			"email":                fieldValue(fields, fmt.Sprintf("ubo-%d-email-address", i)),
			"job_title":            fieldValue(fields, fmt.Sprintf("ubo-%d-job-title", i)),
			"percentage_ownership": fieldValue(fields, fmt.Sprintf("ubo-%d-percentage-ownership", i)),
			"association":          fieldValue(fields, fmt.Sprintf("ubo-%d-association", i)),
			"country_code":         fieldValue(fields, fmt.Sprintf("ubo-%d-id-country-code", i)),
		})
	}

	included := asSlice(inquiry["included"])

	var verifications, reports []providers.Payload
	watchlistDetails := providers.Payload{}
	classificationDetails := providers.Payload{}
	for _, raw := range included {
		item := asMap(raw)
		itemType := str(item["type"])
		attrs := asMap(item["attributes"])

		switch {
		case strings.HasPrefix(itemType, "verification/"):
			verifications = append(verifications, providers.Payload{
				"type":   itemType,
				"id":     item["id"],
				"status": attrs["status"],
			})
		case strings.HasPrefix(itemType, "report/"):
			reports = append(reports, providers.Payload{
				"type":      itemType,
				"id":        item["id"],
				"status":    attrs["status"],
				"has_match": attrs["has-match"],
			})
			if itemType == "report/watchlist" {
				watchlistDetails = providers.Payload{
					"has_match":     attrs["has-match"],
					"matched_lists": attrs["matched-lists"],
				}
			}
			if itemType == "report/business-classification" {
				if result := asMap(attrs["result"]); len(result) > 0 {
					classificationDetails = providers.Payload{
						"naics_codes":  codeList(result["naics-information"]),
						"mcc_codes":    codeList(result["mcc-information"]),
						"keywords":     result["keywords"],
						"is_high_risk": result["is-high-risk"],
					}
				}
			}
		}
	}

	return providers.Payload{
		"inquiry_id":             data["id"],
		"status":                 attributes["status"],
		"created_at":             attributes["created-at"],
		"completed_at":           attributes["completed-at"],
		"business_info":          businessInfo,
		"control_person":         controlPerson,
		"beneficial_owners":      ubos,
		"verifications":          verifications,
		"reports":                reports,
		"watchlist_details":      watchlistDetails,
		"classification_details": classificationDetails,
	}
}

// GetAndStoreDocuments downloads every document attached to the
// inquiry and persists each into the blob store. A download failure is
// recorded on the document; it never fails the whole listing.
func (c *Client) GetAndStoreDocuments(ctx context.Context, inquiryID string, blobs providers.BlobStore) ([]providers.Document, error) {
	inquiry, err := c.GetInquiry(ctx, inquiryID)
	if err != nil {
		return nil, err
	}

	var documents []providers.Document
	for _, raw := range asSlice(inquiry["included"]) {
		item := asMap(raw)
		if !strings.Contains(str(item["type"]), "document") {
			continue
		}
		attrs := asMap(item["attributes"])

		doc := providers.Document{
			ID:   str(item["id"]),
			Name: strOr(attrs["kind"], "Unknown Document"),
		}

		// The files array has priority over files-normalized.
		fileInfo := firstMap(attrs["files"])
		if fileInfo == nil {
			fileInfo = firstMap(attrs["files-normalized"])
		}
		if fileInfo != nil {
			doc.Filename = str(fileInfo["filename"])
			doc.FileURL = str(fileInfo["url"])
		}

		doc.Checks = vendorChecks(attrs["checks"])

		if doc.FileURL != "" {
			if err := c.downloadAndStore(ctx, &doc, inquiryID, blobs); err != nil {
				slog.Error("document download failed", "inquiry_id", inquiryID, "document_id", doc.ID, "error", err)
				doc.Error = err.Error()
			}
		}

		documents = append(documents, doc)
	}
	return documents, nil
}

func (c *Client) downloadAndStore(ctx context.Context, doc *providers.Document, inquiryID string, blobs providers.BlobStore) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.FileURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read document body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	doc.ContentType = contentType

	filename := doc.Filename
	if filename == "" {
		filename = doc.ID + "_" + doc.Name
	}

	put, err := blobs.Put(ctx, data, filename, contentType, map[string]string{
		"document_id": doc.ID,
		"inquiry_id":  inquiryID,
	})
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	doc.BlobKey = put.Key
	doc.BlobURL = put.URL
	return nil
}

// vendorChecks converts the vendor's per-document check list into
// engine checks. The vendor reports "success"; anything else fails.
func vendorChecks(raw interface{}) []core.Check {
	var checks []core.Check
	for _, c := range asSlice(raw) {
		m := asMap(c)
		name := str(m["name"])
		if name == "" {
			continue
		}
		vendorStatus := str(m["status"])
		status := core.CheckFailed
		if vendorStatus == "success" || vendorStatus == "passed" {
			status = core.CheckPassed
		}
		checks = append(checks, core.Check{
			Name:    name,
			Status:  status,
			Details: fmt.Sprintf("Vendor document check %s: %s", name, vendorStatus),
		})
	}
	return checks
}

// fieldValue reads fields[name].value from the inquiry field map.
func fieldValue(fields providers.Payload, name string) interface{} {
	return asMap(fields[name])["value"]
}

func codeList(raw interface{}) []interface{} {
	var codes []interface{}
	for _, item := range asSlice(raw) {
		if code, ok := asMap(item)["code"]; ok {
			codes = append(codes, code)
		}
	}
	return codes
}

func asMap(v interface{}) providers.Payload {
	m, _ := v.(map[string]interface{})
	return m
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func firstMap(v interface{}) providers.Payload {
	s := asSlice(v)
	if len(s) == 0 {
		return nil
	}
	return asMap(s[0])
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func strOr(v interface{}, def string) string {
	if s := str(v); s != "" {
		return s
	}
	return def
}
