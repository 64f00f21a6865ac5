// The api binary serves the verification REST surface. Verification
// work itself runs in the worker binary; this process only enqueues
// jobs and reads state.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/veriflow/backend/internal/api"
	"github.com/veriflow/backend/internal/config"
	"github.com/veriflow/backend/internal/middleware"
	"github.com/veriflow/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration load failed", "error", err)
		os.Exit(1)
	}
	service.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.Build(ctx, cfg)
	if err != nil {
		slog.Error("service assembly failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	auth := middleware.NewAuth(cfg.Auth.APIKey, cfg.Auth.SecretKey, cfg.Auth.AccessTokenExpiry)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{})
	server := api.New(svc.Store, svc.Queue, svc.Engine, auth, limiter)

	if err := server.ListenAndServe(ctx, cfg.APIPort); err != nil && err != http.ErrServerClosed {
		slog.Error("API server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("API server stopped")
}
