package agents

import (
	"context"
	"testing"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/providers"
)

// cannedLlm returns a fixed structured-extraction payload.
type cannedLlm struct {
	payload providers.Payload
	calls   int
}

func (c *cannedLlm) Invoke(context.Context, string, providers.InvokeOptions) (string, error) {
	return "", nil
}

func (c *cannedLlm) InvokeVision(context.Context, []byte, string, providers.InvokeOptions) (string, error) {
	return "", nil
}

func (c *cannedLlm) ExtractStructured(context.Context, interface{}, string) (providers.Payload, error) {
	c.calls++
	return c.payload, nil
}

func TestCompileIndividualPassed(t *testing.T) {
	store := newMemStore()
	store.results["v1"] = []*core.AgentResult{
		{AgentType: core.AgentDataAcquisition, Status: core.AgentSuccess},
		{AgentType: core.AgentInitialDiligence, Status: core.AgentSuccess},
	}
	llm := &cannedLlm{payload: providers.Payload{
		"verification_result": "passed",
		"reasoning":           "All checks passed",
		"confidence":          "high",
		"risk_factors":        []interface{}{},
	}}
	env := testEnv(store)
	env.Llm = llm

	result, decision, err := NewCompiler(env).CompileIndividual(context.Background(), "v1")
	if err != nil {
		t.Fatalf("CompileIndividual: %v", err)
	}
	if decision.Result != "passed" || decision.Reasoning != "All checks passed" {
		t.Errorf("decision = %+v", decision)
	}
	if result.AgentType != core.AgentResultCompilation || result.Status != core.AgentSuccess {
		t.Errorf("result = %+v", result)
	}
	if result.Extras["verification_result"] != "passed" || result.Extras["confidence"] != "high" {
		t.Errorf("extras = %v", result.Extras)
	}
	if llm.calls != 1 {
		t.Errorf("llm calls = %d", llm.calls)
	}
}

func TestCompileIndividualShortCircuitsOnAgentErrors(t *testing.T) {
	store := newMemStore()
	store.results["v1"] = []*core.AgentResult{
		{AgentType: core.AgentDataAcquisition, Status: core.AgentSuccess},
		{AgentType: core.AgentSiftVerification, Status: core.AgentError},
	}
	llm := &cannedLlm{payload: providers.Payload{"verification_result": "passed"}}
	env := testEnv(store)
	env.Llm = llm

	result, decision, err := NewCompiler(env).CompileIndividual(context.Background(), "v1")
	if err != nil {
		t.Fatalf("CompileIndividual: %v", err)
	}
	if decision.Result != "failed" {
		t.Errorf("decision = %+v", decision)
	}
	if result.Status != core.AgentError {
		t.Errorf("status = %s", result.Status)
	}
	if llm.calls != 0 {
		t.Error("error short-circuit must not consult the model")
	}
}

func TestCompileIndividualFailsClosedOnGarbage(t *testing.T) {
	store := newMemStore()
	store.results["v1"] = []*core.AgentResult{
		{AgentType: core.AgentInitialDiligence, Status: core.AgentSuccess},
	}
	env := testEnv(store)
	env.Llm = &cannedLlm{payload: providers.Payload{
		"raw_response": "not json", "parse_error": "no JSON object in response",
	}}

	_, decision, err := NewCompiler(env).CompileIndividual(context.Background(), "v1")
	if err != nil {
		t.Fatalf("CompileIndividual: %v", err)
	}
	if decision.Result != "failed" {
		t.Errorf("unparseable verdict must fail closed, got %q", decision.Result)
	}
}

func TestCompileBusinessCarriesUboOutcomes(t *testing.T) {
	store := newMemStore()
	store.results["vb"] = []*core.AgentResult{
		{AgentType: core.AgentNormalDiligence, Status: core.AgentSuccess},
	}
	env := testEnv(store)
	env.Llm = &cannedLlm{payload: providers.Payload{
		"verification_result": "passed",
		"reasoning":           "Business and owners are in order",
	}}

	ubos := []UboOutcome{
		{VerificationID: "vc1", UboUserID: "u1", Status: "completed", Result: "passed"},
		{VerificationID: "vc2", UboUserID: "u2", Status: "processing"},
	}
	result, decision, err := NewCompiler(env).CompileBusiness(context.Background(), "vb", ubos)
	if err != nil {
		t.Fatalf("CompileBusiness: %v", err)
	}
	if result.AgentType != core.AgentBusinessResultCompilation {
		t.Errorf("agent type = %s", result.AgentType)
	}
	if decision.Result != "passed" {
		t.Errorf("decision = %+v", decision)
	}
	carried, ok := result.Extras["ubo_results"].([]UboOutcome)
	if !ok || len(carried) != 2 {
		t.Errorf("ubo_results = %v", result.Extras["ubo_results"])
	}
}

// fakeExternal scripts the external record store.
type fakeExternal struct {
	inquiryIDs map[string]string // userID+kind
	scores     map[string]providers.Payload
	record     providers.Payload
	owners     []providers.Payload
}

func (f *fakeExternal) GetInquiryID(_ context.Context, userID, kind string) (string, error) {
	return f.inquiryIDs[userID+"/"+kind], nil
}

func (f *fakeExternal) GetFraudScores(_ context.Context, userID string) (providers.Payload, error) {
	return f.scores[userID], nil
}

func (f *fakeExternal) GetBusinessRecord(context.Context, string) (providers.Payload, error) {
	return f.record, nil
}

func (f *fakeExternal) GetBusinessOwners(context.Context, string) ([]providers.Payload, error) {
	return f.owners, nil
}

// fakeIdentity scripts the identity provider.
type fakeIdentity struct {
	inquiries map[string]providers.Payload
}

func (f *fakeIdentity) GetInquiry(_ context.Context, inquiryID string) (providers.Payload, error) {
	return f.inquiries[inquiryID], nil
}

func (f *fakeIdentity) ExtractBusinessInfo(providers.Payload) providers.Payload {
	return providers.Payload{"business_info": map[string]interface{}{"business_name": "ACME LLC"}}
}

func (f *fakeIdentity) GetAndStoreDocuments(context.Context, string, providers.BlobStore) ([]providers.Document, error) {
	return nil, nil
}

func TestDataAcquisitionPersistsUserInputs(t *testing.T) {
	store := newMemStore()
	env := testEnv(store)
	env.External = &fakeExternal{
		inquiryIDs: map[string]string{"u1/kyc": "inq-1"},
		scores:     map[string]providers.Payload{"u1": {"score": 12.0}},
	}
	env.Identity = &fakeIdentity{inquiries: map[string]providers.Payload{
		"inq-1": {"data": map[string]interface{}{"id": "inq-1"}},
	}}

	r := Execute(context.Background(), NewDataAcquisition(env), Task{VerificationID: "v1", UserID: "u1"})
	if r.Status != core.AgentSuccess {
		t.Fatalf("acquisition status = %s: %s", r.Status, r.Details)
	}

	rows, _ := store.ListInputs(context.Background(), "v1", core.DataTypeUser)
	if len(rows) != 1 {
		t.Fatalf("user inputs = %d", len(rows))
	}
	userData := asMap(rows[0].Data["user_data"])
	if str(userData, "persona_inquiry_id") != "inq-1" {
		t.Errorf("user_data = %v", userData)
	}
	if num(asMap(rows[0].Data["sift_data"]), "score") != 12 {
		t.Errorf("sift_data = %v", rows[0].Data["sift_data"])
	}
}

func TestDataAcquisitionSkipsUboWithoutUserID(t *testing.T) {
	store := newMemStore()
	env := testEnv(store)
	env.External = &fakeExternal{
		inquiryIDs: map[string]string{"owner-user/kyb": "inq-b"},
		record:     providers.Payload{"user_id": "owner-user", "business_name": "ACME LLC"},
		owners: []providers.Payload{
			{"created_for_id": "ubo-1"},
			{"note": "no id here"},
		},
		scores: map[string]providers.Payload{},
	}
	env.Identity = &fakeIdentity{inquiries: map[string]providers.Payload{}}

	r := Execute(context.Background(), NewDataAcquisition(env), Task{VerificationID: "vb", BusinessID: "b1"})
	if r.Status != core.AgentSuccess {
		t.Fatalf("acquisition status = %s: %s", r.Status, r.Details)
	}

	rows, _ := store.ListInputs(context.Background(), "vb", core.DataTypeBusiness)
	if len(rows) != 1 {
		t.Fatalf("business inputs = %d", len(rows))
	}
	ubos := asSlice(rows[0].Data["ubos"])
	if len(ubos) != 1 {
		t.Fatalf("ubos = %d, want 1 (owner without user id skipped)", len(ubos))
	}
	kyc := asMap(asMap(ubos[0])["kyc_data"])
	if str(asMap(kyc["user_data"]), "user_id") != "ubo-1" {
		t.Errorf("ubo kyc_data = %v", kyc)
	}
}
