package docpipe

import (
	"context"
	"fmt"
	"testing"

	"github.com/veriflow/backend/internal/providers"
)

type fakeRaster struct {
	pages       int
	gotMaxPages int
}

func (f *fakeRaster) Render(_ context.Context, _ []byte, maxPages int) ([][]byte, error) {
	f.gotMaxPages = maxPages
	n := f.pages
	if n > maxPages {
		n = maxPages
	}
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("page-%d", i+1))
	}
	return out, nil
}

type fakeBlobs struct {
	data map[string][]byte
}

func (f *fakeBlobs) Put(_ context.Context, data []byte, filename, contentType string, _ map[string]string) (providers.PutResult, error) {
	return providers.PutResult{Key: filename}, nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	d, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("no blob %s", key)
	}
	return d, nil
}

// scriptedLlm replays canned vision responses in call order.
type scriptedLlm struct {
	responses []string
	calls     int
	prompts   []string
}

func (s *scriptedLlm) Invoke(context.Context, string, providers.InvokeOptions) (string, error) {
	return "", fmt.Errorf("unexpected text invoke")
}

func (s *scriptedLlm) InvokeVision(_ context.Context, _ []byte, prompt string, _ providers.InvokeOptions) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.calls >= len(s.responses) {
		return "", fmt.Errorf("no scripted response for call %d", s.calls)
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func (s *scriptedLlm) ExtractStructured(context.Context, interface{}, string) (providers.Payload, error) {
	return nil, fmt.Errorf("unexpected structured extract")
}

func TestProcessDocumentClassifiesAndExtracts(t *testing.T) {
	llm := &scriptedLlm{responses: []string{
		`{"document_type": "ein_letter", "confidence": "high"}`,
		"```json\n{\"company_name\": \"ACME LLC\", \"ein\": \"12-3456789\"}\n```",
	}}
	p := New(nil, &fakeBlobs{data: map[string][]byte{"k1": []byte("%PDF-1.4")}},
		llm, &fakeRaster{pages: 1})

	result := p.ProcessDocument(context.Background(), providers.Document{
		ID: "d1", Name: "EIN Letter", BlobKey: "k1", ContentType: "application/pdf",
	})

	if result["processing_error"] != nil {
		t.Fatalf("processing_error = %v", result["processing_error"])
	}
	if result["document_type"] != "ein_letter" {
		t.Errorf("document_type = %v", result["document_type"])
	}
	extracted, _ := result["extracted_data"].(providers.Payload)
	if extracted["ein"] != "12-3456789" {
		t.Errorf("extracted = %v", extracted)
	}
	if result["pages_processed"] != 1 {
		t.Errorf("pages_processed = %v", result["pages_processed"])
	}
}

func TestProcessDocumentCapsPages(t *testing.T) {
	// A 50-page document is cut to the 3 leading pages: one
	// classification call plus three extraction calls.
	llm := &scriptedLlm{responses: []string{
		`{"document_type": "bank_statement"}`,
		`{"account_holder": "Jane Roe"}`,
		`{"account_holder": "", "bank_name": "First Bank"}`,
		`{}`,
	}}
	raster := &fakeRaster{pages: 50}
	p := New(nil, &fakeBlobs{data: map[string][]byte{"k1": []byte("pdf")}}, llm, raster)

	result := p.ProcessDocument(context.Background(), providers.Document{ID: "d1", BlobKey: "k1"})

	if raster.gotMaxPages != 3 {
		t.Errorf("maxPages = %d, want 3", raster.gotMaxPages)
	}
	if result["pages_processed"] != 3 {
		t.Errorf("pages_processed = %v", result["pages_processed"])
	}
	if llm.calls != 4 {
		t.Errorf("llm calls = %d, want 4", llm.calls)
	}
	extracted, _ := result["extracted_data"].(providers.Payload)
	if extracted["account_holder"] != "Jane Roe" || extracted["bank_name"] != "First Bank" {
		t.Errorf("merged extraction = %v", extracted)
	}
}

func TestProcessDocumentUnknownKindFallsBackToGenericPrompt(t *testing.T) {
	llm := &scriptedLlm{responses: []string{
		`{"document_type": "tax_return"}`,
		`{"business_name": "ACME"}`,
	}}
	p := New(nil, &fakeBlobs{data: map[string][]byte{"k1": []byte("pdf")}},
		llm, &fakeRaster{pages: 1})

	result := p.ProcessDocument(context.Background(), providers.Document{ID: "d1", BlobKey: "k1"})

	if result["document_type"] != KindOther {
		t.Errorf("document_type = %v, want %s", result["document_type"], KindOther)
	}
	if llm.prompts[1] != genericPrompt {
		t.Error("unknown kind must use the generic extraction prompt")
	}
}

func TestProcessDocumentDownloadErrorSkipsModel(t *testing.T) {
	llm := &scriptedLlm{}
	p := New(nil, &fakeBlobs{}, llm, &fakeRaster{pages: 1})

	result := p.ProcessDocument(context.Background(), providers.Document{
		ID: "d1", Error: "403 from vendor",
	})

	if result["processing_error"] == nil {
		t.Fatal("expected processing_error")
	}
	if llm.calls != 0 {
		t.Errorf("llm calls = %d, want 0", llm.calls)
	}
}

func TestProcessDocumentUnparseableClassification(t *testing.T) {
	llm := &scriptedLlm{responses: []string{
		"I could not determine the document type.",
		`{"business_name": "ACME"}`,
	}}
	p := New(nil, &fakeBlobs{data: map[string][]byte{"k1": []byte("pdf")}},
		llm, &fakeRaster{pages: 1})

	result := p.ProcessDocument(context.Background(), providers.Document{ID: "d1", BlobKey: "k1"})

	if result["document_type"] != KindOther {
		t.Errorf("document_type = %v", result["document_type"])
	}
	classification, _ := result["classification"].(providers.Payload)
	if classification["parse_error"] == nil {
		t.Error("parse_error missing from classification payload")
	}
}
