// Package api exposes the verification engine over REST/JSON:
// submission endpoints guarded by API key, read endpoints guarded by
// bearer token, plus job/queue introspection and health.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veriflow/backend/internal/core"
	"github.com/veriflow/backend/internal/middleware"
	"github.com/veriflow/backend/internal/queue"
	"github.com/veriflow/backend/internal/store"
)

// Submitter accepts new verification requests. The workflow engine
// implements it.
type Submitter interface {
	SubmitIndividual(ctx context.Context, userID string, additional map[string]interface{}) (*core.Verification, string, error)
	SubmitBusiness(ctx context.Context, businessID string, additional map[string]interface{}) (*core.Verification, string, error)
}

// Datastore is the read surface the API serves from.
type Datastore interface {
	GetVerification(ctx context.Context, id string) (*core.Verification, error)
	LatestByUser(ctx context.Context, userID string) (*core.Verification, error)
	LatestByBusiness(ctx context.Context, businessID string) (*core.Verification, error)
	ListVerifications(ctx context.Context, f store.ListFilter) ([]*core.Verification, int, error)
	ListAgentResults(ctx context.Context, verificationID string) ([]*core.AgentResult, error)
	ListUboLinks(ctx context.Context, parentVerificationID string) ([]*core.UboLink, error)
	Ping(ctx context.Context) error
}

// JobQueue is the queue introspection surface.
type JobQueue interface {
	JobStatus(ctx context.Context, jobID string) (*queue.JobInfo, error)
	QueueInfo(ctx context.Context) (*queue.Info, error)
	Abort(ctx context.Context, jobID string) error
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface.
type Server struct {
	store     Datastore
	jobs      JobQueue
	engine    Submitter
	auth      *middleware.Auth
	limiter   *middleware.RateLimiter
	startedAt time.Time
}

// New builds the server.
func New(store Datastore, jobs JobQueue, engine Submitter, auth *middleware.Auth, limiter *middleware.RateLimiter) *Server {
	return &Server{
		store:     store,
		jobs:      jobs,
		engine:    engine,
		auth:      auth,
		limiter:   limiter,
		startedAt: time.Now(),
	}
}

// Router assembles all routes with their middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// Submission endpoints: API key plus rate limit.
	submit := r.PathPrefix("/verify").Subrouter()
	submit.Use(s.limiter.Middleware, s.auth.RequireAPIKey)
	submit.HandleFunc("/kyc", s.handleSubmitIndividual).Methods(http.MethodPost)
	submit.HandleFunc("/business", s.handleSubmitBusiness).Methods(http.MethodPost)

	// Status and report lookups: API key, no submission rate limit.
	lookup := r.PathPrefix("/verify").Subrouter()
	lookup.Use(s.auth.RequireAPIKey)
	lookup.HandleFunc("/status/{verification_id}", s.handleStatus).Methods(http.MethodGet)
	lookup.HandleFunc("/report", s.handleReport).Methods(http.MethodGet)

	// Operator endpoints: bearer token.
	read := r.PathPrefix("/verify").Subrouter()
	read.Use(s.auth.RequireToken)
	read.HandleFunc("/report/detail/{verification_id}", s.handleReportDetail).Methods(http.MethodGet)
	read.HandleFunc("/kyc/list", s.handleList("individual")).Methods(http.MethodGet)
	read.HandleFunc("/business/list", s.handleList("business")).Methods(http.MethodGet)

	r.HandleFunc("/job-status/{job_id}", s.handleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/job-status/{job_id}", s.handleJobCancel).Methods(http.MethodDelete)
	r.HandleFunc("/queue-info", s.handleQueueInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("API server listening", "port", port)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
