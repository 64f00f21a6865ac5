// Package workflow drives the two verification state machines over the
// durable job queue: acquisition first, agent fan-out, UBO recursion
// with a bounded join for businesses, and the final compilation pass
// that decides the verification.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow/backend/internal/agents"
	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/queue"
)

// Job function names on the queue.
const (
	JobIndividual  = "individual_verification"
	JobBusiness    = "business_verification"
	JobSingleAgent = "single_agent"
)

const (
	defaultJoinPollInterval = 30 * time.Second
	defaultJoinDeadline     = 30 * time.Minute
)

// Store is the slice of the verification store the engine drives.
type Store interface {
	agents.Datastore

	CreateVerification(ctx context.Context, id, userID, businessID string) (*core.Verification, error)
	UpdateVerificationStatus(ctx context.Context, id string, status core.VerificationStatus, result, reason string) error
	GetVerification(ctx context.Context, id string) (*core.Verification, error)
	AppendAgentResult(ctx context.Context, r *core.AgentResult) error
	AddUboLink(ctx context.Context, parentVerificationID, uboUserID, childVerificationID string) error
	ListUboLinks(ctx context.Context, parentVerificationID string) ([]*core.UboLink, error)
}

// Jobs is the queue surface the engine enqueues on.
type Jobs interface {
	Enqueue(ctx context.Context, function string, args map[string]interface{}) (string, error)
}

// Engine owns the verification lifecycle. Only the worker holding a
// job writes to its verification row.
type Engine struct {
	store    Store
	jobs     Jobs
	env      *agents.Env
	compiler *agents.Compiler

	// Join timing is configurable so tests can shrink it.
	JoinPollInterval time.Duration
	JoinDeadline     time.Duration
}

// New builds an engine over the store, queue, and agent environment.
func New(store Store, jobs Jobs, env *agents.Env) *Engine {
	return &Engine{
		store:            store,
		jobs:             jobs,
		env:              env,
		compiler:         agents.NewCompiler(env),
		JoinPollInterval: defaultJoinPollInterval,
		JoinDeadline:     defaultJoinDeadline,
	}
}

// Register installs the engine's handlers on the queue worker.
func (e *Engine) Register(w *queue.Worker) {
	w.Register(JobIndividual, e.HandleIndividual)
	w.Register(JobBusiness, e.HandleBusiness)
	w.Register(JobSingleAgent, e.HandleSingleAgent)
}

// SubmitIndividual creates a queued individual verification and
// enqueues its job.
func (e *Engine) SubmitIndividual(ctx context.Context, userID string, additional map[string]interface{}) (*core.Verification, string, error) {
	return e.submit(ctx, JobIndividual, userID, "", additional)
}

// SubmitBusiness creates a queued business verification and enqueues
// its job.
func (e *Engine) SubmitBusiness(ctx context.Context, businessID string, additional map[string]interface{}) (*core.Verification, string, error) {
	return e.submit(ctx, JobBusiness, "", businessID, additional)
}

func (e *Engine) submit(ctx context.Context, function, userID, businessID string, additional map[string]interface{}) (*core.Verification, string, error) {
	v, err := e.store.CreateVerification(ctx, uuid.NewString(), userID, businessID)
	if err != nil {
		return nil, "", fmt.Errorf("create verification: %w", err)
	}

	args := map[string]interface{}{"verification_id": v.ID}
	if userID != "" {
		args["user_id"] = userID
	}
	if businessID != "" {
		args["business_id"] = businessID
	}
	if len(additional) > 0 {
		args["additional_data"] = additional
	}

	jobID, err := e.jobs.Enqueue(ctx, function, args)
	if err != nil {
		return nil, "", fmt.Errorf("enqueue %s: %w", function, err)
	}
	return v, jobID, nil
}

// HandleIndividual is the individual_verification job handler.
func (e *Engine) HandleIndividual(ctx context.Context, args map[string]interface{}) (result interface{}, err error) {
	t := taskFromArgs(args)
	defer e.recoverCrash(ctx, t.VerificationID, &err)

	if err := e.store.UpdateVerificationStatus(ctx, t.VerificationID, core.StatusProcessing, "", ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	if !e.acquire(ctx, t) {
		return map[string]interface{}{"verification_id": t.VerificationID, "status": "failed"}, nil
	}

	e.fanOut(ctx, t, agents.IndividualAgents(e.env))

	compilation, decision, err := e.compiler.CompileIndividual(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, t.VerificationID, compilation, decision)
}

// HandleBusiness is the business_verification job handler.
func (e *Engine) HandleBusiness(ctx context.Context, args map[string]interface{}) (result interface{}, err error) {
	t := taskFromArgs(args)
	defer e.recoverCrash(ctx, t.VerificationID, &err)

	if err := e.store.UpdateVerificationStatus(ctx, t.VerificationID, core.StatusProcessing, "", ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	if !e.acquire(ctx, t) {
		return map[string]interface{}{"verification_id": t.VerificationID, "status": "failed"}, nil
	}

	if err := e.spawnUboChildren(ctx, t); err != nil {
		return nil, err
	}

	e.fanOut(ctx, t, agents.BusinessAgents(e.env))

	ubos, err := e.joinUboChildren(ctx, t.VerificationID)
	if err != nil {
		return nil, err
	}

	compilation, decision, err := e.compiler.CompileBusiness(ctx, t.VerificationID, ubos)
	if err != nil {
		return nil, err
	}
	return e.finish(ctx, t.VerificationID, compilation, decision)
}

// HandleSingleAgent runs one named agent against an existing
// verification and appends its result.
func (e *Engine) HandleSingleAgent(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	t := taskFromArgs(args)
	agentType, _ := args["agent_type"].(string)

	agent, ok := agents.ByType(e.env, agentType)
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}

	result := agents.Execute(ctx, agent, t)
	if err := e.store.AppendAgentResult(ctx, result); err != nil {
		return nil, fmt.Errorf("store agent result: %w", err)
	}
	return map[string]interface{}{
		"verification_id": t.VerificationID,
		"agent_type":      agentType,
		"status":          result.Status,
	}, nil
}

// acquire runs data acquisition and stores its result. On acquisition
// error the verification is failed and the workflow stops.
func (e *Engine) acquire(ctx context.Context, t agents.Task) bool {
	result := agents.Execute(ctx, agents.NewDataAcquisition(e.env), t)
	if err := e.store.AppendAgentResult(ctx, result); err != nil {
		slog.Error("store acquisition result failed", "verification_id", t.VerificationID, "error", err)
	}
	if result.Status != core.AgentError {
		return true
	}

	slog.Error("data acquisition failed", "verification_id", t.VerificationID, "details", result.Details)
	if err := e.store.UpdateVerificationStatus(ctx, t.VerificationID,
		core.StatusFailed, "failed", "Data acquisition failed"); err != nil {
		slog.Error("mark verification failed", "verification_id", t.VerificationID, "error", err)
	}
	return false
}

// fanOut runs the agent set in parallel and appends results in
// completion order. A panicking agent is materialized as an error
// result and never cancels its siblings.
func (e *Engine) fanOut(ctx context.Context, t agents.Task, set []agents.Agent) {
	results := make(chan *core.AgentResult, len(set))
	var wg sync.WaitGroup
	for _, agent := range set {
		wg.Add(1)
		go func(a agents.Agent) {
			defer wg.Done()
			results <- agents.Execute(ctx, a, t)
		}(agent)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		if err := e.store.AppendAgentResult(ctx, result); err != nil {
			slog.Error("store agent result failed",
				"verification_id", t.VerificationID, "agent", result.AgentType, "error", err)
		}
	}
}

// spawnUboChildren creates one child individual verification per UBO
// with a usable user id. The link row is committed before the child is
// enqueued so crash recovery can find orphans.
func (e *Engine) spawnUboChildren(ctx context.Context, t agents.Task) error {
	in, err := e.env.Inputs(ctx, t.VerificationID)
	if err != nil {
		return err
	}
	business := in.Business()

	for _, raw := range asSlice(business["ubos"]) {
		ubo, _ := raw.(map[string]interface{})
		info, _ := ubo["ubo_info"].(map[string]interface{})
		uboUserID := uboUserID(ubo)
		if uboUserID == "" {
			slog.Warn("UBO without user id skipped", "verification_id", t.VerificationID)
			continue
		}

		child, err := e.store.CreateVerification(ctx, uuid.NewString(), uboUserID, "")
		if err != nil {
			return fmt.Errorf("create UBO verification: %w", err)
		}
		if err := e.store.AddUboLink(ctx, t.VerificationID, uboUserID, child.ID); err != nil {
			return fmt.Errorf("link UBO verification: %w", err)
		}

		_, err = e.jobs.Enqueue(ctx, JobIndividual, map[string]interface{}{
			"verification_id": child.ID,
			"user_id":         uboUserID,
			"additional_data": map[string]interface{}{
				"ubo_info":           info,
				"parent_business_id": t.BusinessID,
				"ubo_role":           "UBO",
			},
		})
		if err != nil {
			return fmt.Errorf("enqueue UBO verification: %w", err)
		}
		slog.Info("UBO verification enqueued",
			"parent_verification_id", t.VerificationID, "child_verification_id", child.ID, "ubo_user_id", uboUserID)
	}
	return nil
}

// joinUboChildren polls each child's status until all are terminal or
// the deadline elapses. A timeout does not fail the parent; the
// compiler sees each child's last-known state.
func (e *Engine) joinUboChildren(ctx context.Context, parentID string) ([]agents.UboOutcome, error) {
	links, err := e.store.ListUboLinks(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("list UBO links: %w", err)
	}
	if len(links) == 0 {
		return nil, nil
	}

	deadline := time.After(e.JoinDeadline)
	for {
		if e.allTerminal(ctx, links) {
			break
		}
		select {
		case <-deadline:
			slog.Warn("UBO join deadline elapsed", "parent_verification_id", parentID)
			return e.uboOutcomes(ctx, links), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.JoinPollInterval):
		}
	}
	return e.uboOutcomes(ctx, links), nil
}

func (e *Engine) allTerminal(ctx context.Context, links []*core.UboLink) bool {
	for _, link := range links {
		child, err := e.store.GetVerification(ctx, link.ChildVerificationID)
		if err != nil || child == nil || !child.Status.Terminal() {
			return false
		}
	}
	return true
}

// uboOutcomes snapshots each child's state plus its compilation
// verdict, when one exists.
func (e *Engine) uboOutcomes(ctx context.Context, links []*core.UboLink) []agents.UboOutcome {
	outcomes := make([]agents.UboOutcome, 0, len(links))
	for _, link := range links {
		outcome := agents.UboOutcome{
			VerificationID: link.ChildVerificationID,
			UboUserID:      link.UboUserID,
			Status:         "unknown",
		}
		child, err := e.store.GetVerification(ctx, link.ChildVerificationID)
		if err == nil && child != nil {
			outcome.Status = string(child.Status)
			outcome.Result = child.Result
		}
		if results, err := e.store.ListAgentResults(ctx, link.ChildVerificationID); err == nil {
			for _, r := range results {
				if core.IsCompilation(r.AgentType) {
					outcome.Result = r.Extra("verification_result")
					outcome.Reasoning = r.Extra("reasoning")
				}
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// finish stores the compilation result and performs the terminal
// verification-row write.
func (e *Engine) finish(ctx context.Context, verificationID string, compilation *core.AgentResult, decision agents.Decision) (interface{}, error) {
	if err := e.store.AppendAgentResult(ctx, compilation); err != nil {
		return nil, fmt.Errorf("store compilation result: %w", err)
	}
	if err := e.store.UpdateVerificationStatus(ctx, verificationID,
		core.StatusCompleted, decision.Result, decision.Reasoning); err != nil {
		return nil, fmt.Errorf("complete verification: %w", err)
	}
	slog.Info("verification completed", "verification_id", verificationID, "result", decision.Result)
	return map[string]interface{}{
		"verification_id": verificationID,
		"status":          string(core.StatusCompleted),
		"result":          decision.Result,
	}, nil
}

// recoverCrash converts an engine panic or returned error into the
// terminal failed state with a workflow-error reason.
func (e *Engine) recoverCrash(ctx context.Context, verificationID string, errp *error) {
	if r := recover(); r != nil {
		*errp = fmt.Errorf("workflow panic: %v", r)
	}
	if *errp == nil {
		return
	}
	slog.Error("workflow crashed", "verification_id", verificationID, "error", *errp)
	reason := fmt.Sprintf("Workflow error: %v", *errp)
	if err := e.store.UpdateVerificationStatus(ctx, verificationID,
		core.StatusFailed, "failed", reason); err != nil {
		slog.Error("mark verification failed", "verification_id", verificationID, "error", err)
	}
}

func taskFromArgs(args map[string]interface{}) agents.Task {
	t := agents.Task{}
	t.VerificationID, _ = args["verification_id"].(string)
	t.UserID, _ = args["user_id"].(string)
	t.BusinessID, _ = args["business_id"].(string)
	t.AdditionalData, _ = args["additional_data"].(map[string]interface{})
	return t
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

// uboUserID digs the owner's user id out of the persisted UBO entry.
func uboUserID(ubo map[string]interface{}) string {
	info, _ := ubo["ubo_info"].(map[string]interface{})
	if id, _ := info["user_id"].(string); id != "" {
		return id
	}
	if id, _ := info["created_for_id"].(string); id != "" {
		return id
	}
	kyc, _ := ubo["kyc_data"].(map[string]interface{})
	userData, _ := kyc["user_data"].(map[string]interface{})
	id, _ := userData["user_id"].(string)
	return id
}
