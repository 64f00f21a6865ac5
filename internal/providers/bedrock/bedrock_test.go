package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/veriflow/backend/internal/providers"
)

// fakeAPI returns a canned Anthropic-shaped response.
type fakeAPI struct {
	text    string
	lastReq []byte
}

func (f *fakeAPI) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.lastReq = in.Body
	body, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": f.text}},
	})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestParseJSONObjectFencedBlock(t *testing.T) {
	out, err := ParseJSONObject("Here you go:\n```json\n{\"risk_level\": \"low\"}\n```\nthanks")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out["risk_level"] != "low" {
		t.Errorf("risk_level = %v", out["risk_level"])
	}
}

func TestParseJSONObjectBareSpan(t *testing.T) {
	out, err := ParseJSONObject(`The answer is {"verification_result":"passed","confidence":"high"} as requested.`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out["verification_result"] != "passed" {
		t.Errorf("verification_result = %v", out["verification_result"])
	}
}

func TestParseJSONObjectNoObject(t *testing.T) {
	if _, err := ParseJSONObject("I cannot help with that."); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}

func TestExtractStructuredNeverRaisesOnMalformedOutput(t *testing.T) {
	api := &fakeAPI{text: "sorry, no json here"}
	c := NewWithAPI(api, "us.anthropic.claude-3-7-sonnet-20250219-v1:0")

	out, err := c.ExtractStructured(context.Background(), map[string]interface{}{"a": 1}, "extract things")
	if err != nil {
		t.Fatalf("ExtractStructured must not fail on malformed output: %v", err)
	}
	if out["raw_response"] != "sorry, no json here" {
		t.Errorf("raw_response = %v", out["raw_response"])
	}
	if _, ok := out["parse_error"]; !ok {
		t.Error("parse_error missing")
	}
}

func TestExtractStructuredParsesObject(t *testing.T) {
	api := &fakeAPI{text: `{"summary":"ok","risk_factors":[]}`}
	c := NewWithAPI(api, "us.anthropic.claude-3-7-sonnet-20250219-v1:0")

	out, err := c.ExtractStructured(context.Background(), map[string]interface{}{}, "summarize")
	if err != nil {
		t.Fatalf("ExtractStructured: %v", err)
	}
	if out["summary"] != "ok" {
		t.Errorf("summary = %v", out["summary"])
	}
}

func TestInvokeAnthropicRequestShape(t *testing.T) {
	api := &fakeAPI{text: "hello"}
	c := NewWithAPI(api, "us.anthropic.claude-3-7-sonnet-20250219-v1:0")

	text, err := c.Invoke(context.Background(), "say hello", providers.InvokeOptions{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}

	var req map[string]interface{}
	if err := json.Unmarshal(api.lastReq, &req); err != nil {
		t.Fatalf("request not JSON: %v", err)
	}
	if req["anthropic_version"] != anthropicVersion {
		t.Errorf("anthropic_version = %v", req["anthropic_version"])
	}
	if _, ok := req["messages"]; !ok {
		t.Error("messages missing from anthropic request")
	}
}
