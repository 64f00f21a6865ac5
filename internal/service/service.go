// Package service wires configuration into the concrete dependency
// graph shared by the API server and the worker: store, queue,
// providers, agent environment, and the workflow engine.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/veriflow/backend/internal/agents"
	"github.com/veriflow/backend/internal/config"
	"github.com/veriflow/backend/internal/docpipe"
	"github.com/veriflow/backend/internal/providers"
	"github.com/veriflow/backend/internal/providers/bedrock"
	"github.com/veriflow/backend/internal/providers/externaldb"
	"github.com/veriflow/backend/internal/providers/ofac"
	"github.com/veriflow/backend/internal/providers/persona"
	"github.com/veriflow/backend/internal/providers/registry"
	"github.com/veriflow/backend/internal/providers/s3blob"
	"github.com/veriflow/backend/internal/providers/sift"
	"github.com/veriflow/backend/internal/queue"
	"github.com/veriflow/backend/internal/store"
	"github.com/veriflow/backend/internal/workflow"
)

// Model invocations in flight at once; document rasterization is
// CPU-bound and gets its own, smaller gate.
const (
	maxModelInFlight  = 8
	maxRasterInFlight = 2
)

// Service is the assembled dependency graph.
type Service struct {
	Cfg    *config.Config
	Store  *store.Store
	Queue  *queue.Queue
	Env    *agents.Env
	Engine *workflow.Engine
}

// Build assembles the full graph from configuration.
func Build(ctx context.Context, cfg *config.Config) (*Service, error) {
	st, err := store.New(cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("open verification store: %w", err)
	}

	q, err := queue.New(queue.Options{
		Addr:       cfg.Redis.Addr(),
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		QueueName:  cfg.Queue.Name,
		KeepResult: cfg.Queue.KeepResult,
	}, queue.NewMetrics())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open job queue: %w", err)
	}

	llm, err := bedrock.New(ctx, cfg.AWS.Region, cfg.AWS.AccessKey, cfg.AWS.SecretKey, cfg.ModelID)
	if err != nil {
		st.Close()
		q.Close()
		return nil, fmt.Errorf("open model client: %w", err)
	}
	gated := providers.NewGatedLlm(llm, maxModelInFlight)

	blobs, err := s3blob.New(ctx, cfg.AWS.Region, cfg.AWS.AccessKey, cfg.AWS.SecretKey, cfg.AWS.S3Bucket)
	if err != nil {
		st.Close()
		q.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	identity := persona.New(cfg.PersonaAPIKey)
	env := &agents.Env{
		Store:     st,
		Identity:  identity,
		Fraud:     sift.New(cfg.SiftAPIKey),
		Sanctions: ofac.New(cfg.OfacBaseURL),
		Registry:  registry.New(cfg.RegistryBaseURL),
		External:  externaldb.New(cfg.External.DSN()),
		Blobs:     blobs,
		Llm:       gated,
		Docs:      docpipe.New(identity, blobs, gated, docpipe.NewRasterizer(maxRasterInFlight)),
	}

	return &Service{
		Cfg:    cfg,
		Store:  st,
		Queue:  q,
		Env:    env,
		Engine: workflow.New(st, q, env),
	}, nil
}

// Close releases held connections.
func (s *Service) Close() {
	if s.Store != nil {
		s.Store.Close()
	}
	if s.Queue != nil {
		s.Queue.Close()
	}
}

// SetupLogging installs the process-wide JSON logger at the configured
// level.
func SetupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}
