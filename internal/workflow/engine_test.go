package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veriflow/backend/internal/agents"
	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/providers"
)

// memStore is an in-memory Store. Fan-out appends results from worker
// goroutines, so access is serialized.
type memStore struct {
	mu            sync.Mutex
	verifications map[string]*core.Verification
	inputs        map[string][]*core.VerificationInput
	results       map[string][]*core.AgentResult
	links         map[string][]*core.UboLink

	failListResults bool
}

func newMemStore() *memStore {
	return &memStore{
		verifications: map[string]*core.Verification{},
		inputs:        map[string][]*core.VerificationInput{},
		results:       map[string][]*core.AgentResult{},
		links:         map[string][]*core.UboLink{},
	}
}

func (s *memStore) CreateVerification(_ context.Context, id, userID, businessID string) (*core.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &core.Verification{
		ID: id, UserID: userID, BusinessID: businessID,
		Status: core.StatusQueued, CreatedAt: time.Now(),
	}
	s.verifications[id] = v
	return v, nil
}

func (s *memStore) UpdateVerificationStatus(_ context.Context, id string, status core.VerificationStatus, result, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifications[id]
	if !ok {
		return errors.New("verification not found")
	}
	v.Status, v.Result, v.Reason = status, result, reason
	v.UpdatedAt = time.Now()
	if status.Terminal() {
		now := time.Now()
		v.CompletedAt = &now
	}
	return nil
}

func (s *memStore) GetVerification(_ context.Context, id string) (*core.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifications[id], nil
}

func (s *memStore) AppendInput(_ context.Context, verificationID, dataType string, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[verificationID] = append(s.inputs[verificationID], &core.VerificationInput{
		VerificationID: verificationID, DataType: dataType, Data: data,
	})
	return nil
}

func (s *memStore) ListInputs(_ context.Context, verificationID, dataType string) ([]*core.VerificationInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*core.VerificationInput
	for _, row := range s.inputs[verificationID] {
		if dataType == "" || row.DataType == dataType {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memStore) AppendAgentResult(_ context.Context, r *core.AgentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.VerificationID] = append(s.results[r.VerificationID], r)
	return nil
}

func (s *memStore) ListAgentResults(_ context.Context, verificationID string) ([]*core.AgentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failListResults {
		return nil, errors.New("results table unavailable")
	}
	return append([]*core.AgentResult(nil), s.results[verificationID]...), nil
}

func (s *memStore) AddUboLink(_ context.Context, parentID, uboUserID, childID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[parentID] = append(s.links[parentID], &core.UboLink{
		ParentVerificationID: parentID, UboUserID: uboUserID, ChildVerificationID: childID,
	})
	return nil
}

func (s *memStore) ListUboLinks(_ context.Context, parentID string) ([]*core.UboLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[parentID], nil
}

// fakeJobs records enqueues. With runInline set it executes
// individual_verification jobs synchronously, standing in for a
// separate worker picking up UBO children. Users in skipUsers are
// enqueued but never run, like a child stuck behind a backlog.
type fakeJobs struct {
	mu        sync.Mutex
	enqueued  []string
	engine    *Engine
	runInline bool
	skipUsers map[string]bool
}

func (f *fakeJobs) Enqueue(ctx context.Context, function string, args map[string]interface{}) (string, error) {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, function)
	f.mu.Unlock()
	if f.runInline && function == JobIndividual {
		if user, _ := args["user_id"].(string); !f.skipUsers[user] {
			if _, err := f.engine.HandleIndividual(ctx, args); err != nil {
				return "", err
			}
		}
	}
	return "job-" + function, nil
}

// passingLlm answers every structured extraction with a pass verdict.
type passingLlm struct{}

func (passingLlm) Invoke(context.Context, string, providers.InvokeOptions) (string, error) {
	return "", nil
}

func (passingLlm) InvokeVision(context.Context, []byte, string, providers.InvokeOptions) (string, error) {
	return "", nil
}

func (passingLlm) ExtractStructured(context.Context, interface{}, string) (providers.Payload, error) {
	return providers.Payload{
		"verification_result": "passed",
		"reasoning":           "No material risk identified",
		"confidence":          "high",
	}, nil
}

type stubExternal struct {
	record providers.Payload
	owners []providers.Payload
}

func (s *stubExternal) GetInquiryID(context.Context, string, string) (string, error) {
	return "", nil
}

func (s *stubExternal) GetFraudScores(context.Context, string) (providers.Payload, error) {
	return providers.Payload{}, nil
}

func (s *stubExternal) GetBusinessRecord(context.Context, string) (providers.Payload, error) {
	return s.record, nil
}

func (s *stubExternal) GetBusinessOwners(context.Context, string) ([]providers.Payload, error) {
	return s.owners, nil
}

type stubIdentity struct{}

func (stubIdentity) GetInquiry(context.Context, string) (providers.Payload, error) {
	return providers.Payload{}, nil
}

func (stubIdentity) ExtractBusinessInfo(providers.Payload) providers.Payload {
	return providers.Payload{}
}

func (stubIdentity) GetAndStoreDocuments(context.Context, string, providers.BlobStore) ([]providers.Document, error) {
	return nil, nil
}

type stubSanctions struct{}

func (stubSanctions) SearchEntity(context.Context, providers.EntityQuery) (providers.Payload, error) {
	return providers.Payload{}, nil
}

func (stubSanctions) Analyze(providers.Payload) providers.SanctionsAnalysis {
	return providers.SanctionsAnalysis{RiskLevel: "low"}
}

func testEngine(store *memStore, external *stubExternal) (*Engine, *fakeJobs) {
	env := &agents.Env{
		Store:     store,
		Identity:  stubIdentity{},
		Sanctions: stubSanctions{},
		External:  external,
		Llm:       passingLlm{},
	}
	jobs := &fakeJobs{}
	e := New(store, jobs, env)
	e.JoinPollInterval = 2 * time.Millisecond
	e.JoinDeadline = 200 * time.Millisecond
	jobs.engine = e
	return e, jobs
}

func compilationOf(t *testing.T, store *memStore, verificationID string) *core.AgentResult {
	t.Helper()
	for _, r := range store.results[verificationID] {
		if core.IsCompilation(r.AgentType) {
			return r
		}
	}
	t.Fatalf("no compilation result for %s", verificationID)
	return nil
}

func TestSubmitIndividualEnqueues(t *testing.T) {
	store := newMemStore()
	e, jobs := testEngine(store, &stubExternal{})

	v, jobID, err := e.SubmitIndividual(context.Background(), "u1", map[string]interface{}{"note": "x"})
	if err != nil {
		t.Fatalf("SubmitIndividual: %v", err)
	}
	if v.Status != core.StatusQueued || v.UserID != "u1" {
		t.Errorf("verification = %+v", v)
	}
	if jobID == "" || len(jobs.enqueued) != 1 || jobs.enqueued[0] != JobIndividual {
		t.Errorf("enqueued = %v", jobs.enqueued)
	}
}

func TestHandleIndividualCompletes(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(store, &stubExternal{})
	v, _ := store.CreateVerification(context.Background(), "v1", "u1", "")

	_, err := e.HandleIndividual(context.Background(), map[string]interface{}{
		"verification_id": v.ID, "user_id": "u1",
	})
	if err != nil {
		t.Fatalf("HandleIndividual: %v", err)
	}

	got, _ := store.GetVerification(context.Background(), "v1")
	if got.Status != core.StatusCompleted || got.Result != "passed" {
		t.Fatalf("verification = %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("terminal verification must carry completed_at")
	}

	// acquisition + ten agents + compilation
	if n := len(store.results["v1"]); n != 12 {
		t.Errorf("agent results = %d, want 12", n)
	}
	if c := compilationOf(t, store, "v1"); c.AgentType != core.AgentResultCompilation {
		t.Errorf("compilation type = %s", c.AgentType)
	}
	last := store.results["v1"][len(store.results["v1"])-1]
	if !core.IsCompilation(last.AgentType) {
		t.Errorf("compilation must be appended last, got %s", last.AgentType)
	}
}

func TestHandleIndividualAcquisitionFailureStopsWorkflow(t *testing.T) {
	store := newMemStore()
	// nil External makes acquisition blow up, which the runtime
	// materializes as an error result.
	env := &agents.Env{Store: store, Llm: passingLlm{}}
	jobs := &fakeJobs{}
	e := New(store, jobs, env)
	jobs.engine = e
	store.CreateVerification(context.Background(), "v1", "u1", "")

	out, err := e.HandleIndividual(context.Background(), map[string]interface{}{
		"verification_id": "v1", "user_id": "u1",
	})
	if err != nil {
		t.Fatalf("HandleIndividual: %v", err)
	}
	if m, _ := out.(map[string]interface{}); m["status"] != "failed" {
		t.Errorf("job result = %v", out)
	}

	got, _ := store.GetVerification(context.Background(), "v1")
	if got.Status != core.StatusFailed || got.Result != "failed" || got.Reason != "Data acquisition failed" {
		t.Errorf("verification = %+v", got)
	}
	if n := len(store.results["v1"]); n != 1 {
		t.Errorf("agent results = %d, want only the failed acquisition", n)
	}
}

func TestHandleBusinessZeroUbosCompletesImmediately(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(store, &stubExternal{
		record: providers.Payload{"business_name": "ACME LLC"},
	})
	store.CreateVerification(context.Background(), "vb", "", "b1")

	start := time.Now()
	_, err := e.HandleBusiness(context.Background(), map[string]interface{}{
		"verification_id": "vb", "business_id": "b1",
	})
	if err != nil {
		t.Fatalf("HandleBusiness: %v", err)
	}
	if elapsed := time.Since(start); elapsed > e.JoinDeadline {
		t.Errorf("zero-UBO business must not wait for the join, took %v", elapsed)
	}

	got, _ := store.GetVerification(context.Background(), "vb")
	if got.Status != core.StatusCompleted {
		t.Fatalf("verification = %+v", got)
	}
	if len(store.links["vb"]) != 0 {
		t.Errorf("links = %v", store.links["vb"])
	}
	c := compilationOf(t, store, "vb")
	if c.AgentType != core.AgentBusinessResultCompilation {
		t.Errorf("compilation type = %s", c.AgentType)
	}
	if _, ok := c.Extras["ubo_results"]; ok {
		t.Error("no UBO outcomes expected without owners")
	}
}

func TestHandleBusinessFansOutUbosAndJoins(t *testing.T) {
	store := newMemStore()
	e, jobs := testEngine(store, &stubExternal{
		record: providers.Payload{"business_name": "ACME LLC", "user_id": "founder"},
		owners: []providers.Payload{{"created_for_id": "ubo-1", "name": "Pat Owner"}},
	})
	jobs.runInline = true
	store.CreateVerification(context.Background(), "vb", "", "b1")

	_, err := e.HandleBusiness(context.Background(), map[string]interface{}{
		"verification_id": "vb", "business_id": "b1",
	})
	if err != nil {
		t.Fatalf("HandleBusiness: %v", err)
	}

	links := store.links["vb"]
	if len(links) != 1 || links[0].UboUserID != "ubo-1" {
		t.Fatalf("links = %+v", links)
	}
	child, _ := store.GetVerification(context.Background(), links[0].ChildVerificationID)
	if child == nil || child.Status != core.StatusCompleted {
		t.Fatalf("child verification = %+v", child)
	}

	parent, _ := store.GetVerification(context.Background(), "vb")
	if parent.Status != core.StatusCompleted || parent.Result != "passed" {
		t.Fatalf("parent verification = %+v", parent)
	}

	c := compilationOf(t, store, "vb")
	outcomes, ok := c.Extras["ubo_results"].([]agents.UboOutcome)
	if !ok || len(outcomes) != 1 {
		t.Fatalf("ubo_results = %v", c.Extras["ubo_results"])
	}
	if outcomes[0].UboUserID != "ubo-1" || outcomes[0].Status != string(core.StatusCompleted) || outcomes[0].Result != "passed" {
		t.Errorf("outcome = %+v", outcomes[0])
	}
}

func TestHandleBusinessMixedUboOutcomes(t *testing.T) {
	store := newMemStore()
	e, jobs := testEngine(store, &stubExternal{
		record: providers.Payload{"business_name": "ACME LLC"},
		owners: []providers.Payload{
			{"created_for_id": "ubo-fast"},
			{"created_for_id": "ubo-stuck"},
		},
	})
	// One child completes inline, the other never gets picked up.
	jobs.runInline = true
	jobs.skipUsers = map[string]bool{"ubo-stuck": true}
	e.JoinDeadline = 30 * time.Millisecond

	store.CreateVerification(context.Background(), "vb", "", "b1")
	_, err := e.HandleBusiness(context.Background(), map[string]interface{}{
		"verification_id": "vb", "business_id": "b1",
	})
	if err != nil {
		t.Fatalf("HandleBusiness: %v", err)
	}

	links := store.links["vb"]
	if len(links) != 2 {
		t.Fatalf("links = %+v", links)
	}

	parent, _ := store.GetVerification(context.Background(), "vb")
	if parent.Status != core.StatusCompleted {
		t.Fatalf("one stuck child must not fail the parent, got %+v", parent)
	}

	c := compilationOf(t, store, "vb")
	outcomes, ok := c.Extras["ubo_results"].([]agents.UboOutcome)
	if !ok || len(outcomes) != 2 {
		t.Fatalf("ubo_results = %v", c.Extras["ubo_results"])
	}
	byUser := map[string]agents.UboOutcome{}
	for _, o := range outcomes {
		byUser[o.UboUserID] = o
	}
	fast, stuck := byUser["ubo-fast"], byUser["ubo-stuck"]
	if fast.Status != string(core.StatusCompleted) || fast.Result != "passed" {
		t.Errorf("completed child outcome = %+v", fast)
	}
	if stuck.Status != string(core.StatusQueued) {
		t.Errorf("stuck child must surface its last-known state, got %+v", stuck)
	}
}

func TestHandleBusinessJoinDeadlineProceedsWithPartialState(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(store, &stubExternal{
		record: providers.Payload{"business_name": "ACME LLC"},
		owners: []providers.Payload{{"created_for_id": "ubo-stuck"}},
	})
	// Children are enqueued but nothing runs them.
	e.JoinDeadline = 15 * time.Millisecond

	store.CreateVerification(context.Background(), "vb", "", "b1")
	_, err := e.HandleBusiness(context.Background(), map[string]interface{}{
		"verification_id": "vb", "business_id": "b1",
	})
	if err != nil {
		t.Fatalf("HandleBusiness: %v", err)
	}

	parent, _ := store.GetVerification(context.Background(), "vb")
	if parent.Status != core.StatusCompleted {
		t.Fatalf("join timeout must not fail the parent, got %+v", parent)
	}

	c := compilationOf(t, store, "vb")
	outcomes, ok := c.Extras["ubo_results"].([]agents.UboOutcome)
	if !ok || len(outcomes) != 1 {
		t.Fatalf("ubo_results = %v", c.Extras["ubo_results"])
	}
	if outcomes[0].Status != string(core.StatusQueued) {
		t.Errorf("stuck child must surface its last-known state, got %q", outcomes[0].Status)
	}
}

func TestHandleIndividualCrashMarksWorkflowError(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(store, &stubExternal{})
	store.CreateVerification(context.Background(), "v1", "u1", "")
	store.failListResults = true

	_, err := e.HandleIndividual(context.Background(), map[string]interface{}{
		"verification_id": "v1", "user_id": "u1",
	})
	if err == nil {
		t.Fatal("expected compile error to propagate to the queue")
	}

	got, _ := store.GetVerification(context.Background(), "v1")
	if got.Status != core.StatusFailed || got.Result != "failed" {
		t.Fatalf("verification = %+v", got)
	}
	if !strings.HasPrefix(got.Reason, "Workflow error:") {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestHandleSingleAgent(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(store, &stubExternal{})
	store.CreateVerification(context.Background(), "v1", "u1", "")
	store.inputs["v1"] = []*core.VerificationInput{{
		VerificationID: "v1", DataType: core.DataTypeUser,
		Data: map[string]interface{}{"user_data": map[string]interface{}{"user_id": "u1"}},
	}}

	out, err := e.HandleSingleAgent(context.Background(), map[string]interface{}{
		"verification_id": "v1", "agent_type": core.AgentOfacVerification,
	})
	if err != nil {
		t.Fatalf("HandleSingleAgent: %v", err)
	}
	if m, _ := out.(map[string]interface{}); m["agent_type"] != core.AgentOfacVerification {
		t.Errorf("job result = %v", out)
	}
	if n := len(store.results["v1"]); n != 1 {
		t.Errorf("agent results = %d", n)
	}

	if _, err := e.HandleSingleAgent(context.Background(), map[string]interface{}{
		"verification_id": "v1", "agent_type": "NoSuchAgent",
	}); err == nil {
		t.Error("unknown agent type must error")
	}
}
