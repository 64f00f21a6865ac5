// Package docpipe runs the document OCR pipeline: fetch a document's
// stored bytes, rasterize its leading pages, classify the document
// with a vision model, and extract fields with a per-kind prompt.
package docpipe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/veriflow/backend/internal/providers"
	"github.com/veriflow/backend/internal/providers/bedrock"
)

// Pipeline wires the identity provider, blob store, vision model, and
// rasterizer into one document-processing flow.
type Pipeline struct {
	identity providers.IdProvider
	blobs    providers.BlobStore
	llm      providers.Llm
	raster   Rasterizer
}

// New builds a pipeline.
func New(identity providers.IdProvider, blobs providers.BlobStore, llm providers.Llm, raster Rasterizer) *Pipeline {
	return &Pipeline{identity: identity, blobs: blobs, llm: llm, raster: raster}
}

// ProcessInquiry downloads and stores every attachment of the inquiry,
// then runs OCR over each stored document. Per-document failures are
// recorded in that document's result; they never abort the batch.
func (p *Pipeline) ProcessInquiry(ctx context.Context, inquiryID string) ([]providers.Document, []providers.Payload, error) {
	docs, err := p.identity.GetAndStoreDocuments(ctx, inquiryID, p.blobs)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch inquiry documents: %w", err)
	}

	results := make([]providers.Payload, 0, len(docs))
	for _, doc := range docs {
		results = append(results, p.ProcessDocument(ctx, doc))
	}
	return docs, results, nil
}

// ProcessDocument classifies one stored document and extracts its
// fields. Failures are reported inside the returned payload under
// processing_error so callers can persist partial batches.
func (p *Pipeline) ProcessDocument(ctx context.Context, doc providers.Document) providers.Payload {
	result := providers.Payload{
		"document_id":   doc.ID,
		"document_name": doc.Name,
		"filename":      doc.Filename,
	}

	if doc.Error != "" {
		result["processing_error"] = fmt.Sprintf("document download failed: %s", doc.Error)
		return result
	}
	if doc.BlobKey == "" {
		result["processing_error"] = "document was not stored"
		return result
	}

	data, err := p.blobs.Get(ctx, doc.BlobKey)
	if err != nil {
		result["processing_error"] = fmt.Sprintf("fetch stored document: %v", err)
		return result
	}
	result["content_type"] = contentType(doc, data)

	pages, err := p.raster.Render(ctx, data, maxPagesPerDocument)
	if err != nil {
		result["processing_error"] = fmt.Sprintf("rasterize document: %v", err)
		return result
	}
	if len(pages) == 0 {
		result["processing_error"] = "document has no pages"
		return result
	}
	result["pages_processed"] = len(pages)

	kind, classification := p.classify(ctx, pages[0], doc.ID)
	result["document_type"] = kind
	result["classification"] = classification

	extracted, pageResults := p.extract(ctx, pages, kind, doc.ID)
	result["extracted_data"] = extracted
	if len(pageResults) > 1 {
		result["page_results"] = pageResults
	}
	return result
}

// classify runs the classification prompt on the first page. When the
// model's answer cannot be parsed the document is treated as kind
// "other" and the raw response is kept.
func (p *Pipeline) classify(ctx context.Context, pagePNG []byte, docID string) (string, providers.Payload) {
	generation, err := p.llm.InvokeVision(ctx, pagePNG, classificationPrompt, providers.InvokeOptions{})
	if err != nil {
		slog.Error("document classification failed", "document_id", docID, "error", err)
		return KindOther, providers.Payload{"error": err.Error()}
	}

	classification, err := bedrock.ParseJSONObject(generation)
	if err != nil {
		slog.Warn("classification response was not valid JSON", "document_id", docID, "error", err)
		return KindOther, providers.Payload{"raw_response": generation, "parse_error": err.Error()}
	}

	kind, _ := classification["document_type"].(string)
	if _, known := extractionPrompts[kind]; !known && kind != KindOther {
		slog.Warn("classifier returned unknown document type", "document_id", docID, "document_type", kind)
		kind = KindOther
	}
	return kind, classification
}

// extract runs the kind-specific extraction prompt over each rendered
// page and merges the per-page payloads, first non-empty value wins.
func (p *Pipeline) extract(ctx context.Context, pages [][]byte, kind, docID string) (providers.Payload, []providers.Payload) {
	prompt := extractionPromptFor(kind)
	merged := providers.Payload{}
	pageResults := make([]providers.Payload, 0, len(pages))

	for i, page := range pages {
		generation, err := p.llm.InvokeVision(ctx, page, prompt, providers.InvokeOptions{})
		if err != nil {
			slog.Error("document extraction failed", "document_id", docID, "page", i+1, "error", err)
			pageResults = append(pageResults, providers.Payload{"error": err.Error()})
			continue
		}
		parsed, err := bedrock.ParseJSONObject(generation)
		if err != nil {
			pageResults = append(pageResults, providers.Payload{
				"raw_response": generation, "parse_error": err.Error(),
			})
			continue
		}
		pageResults = append(pageResults, parsed)
		mergePage(merged, parsed)
	}
	return merged, pageResults
}

// mergePage folds a page's fields into the merged view without
// overwriting values an earlier page already filled.
func mergePage(merged, page providers.Payload) {
	for key, value := range page {
		if empty(value) {
			continue
		}
		if existing, present := merged[key]; !present || empty(existing) {
			merged[key] = value
		}
	}
}

func empty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

// contentType prefers the provider-reported type, falling back to
// sniffing the stored bytes.
func contentType(doc providers.Document, data []byte) string {
	if doc.ContentType != "" {
		return doc.ContentType
	}
	return http.DetectContentType(data)
}
