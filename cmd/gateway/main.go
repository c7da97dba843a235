// Command gateway starts the API gateway.
//
// The gateway is the single entry point for external clients. It checks API
// keys, applies each key's rate limit and proxies to the match, ingestion,
// analytics and tracker services. Keys are managed through
// /api/v1/admin/keys or the auth command.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/auth/apikey"
	gwhandler "github.com/Adithya-Monish-Kumar-K/bani-align/internal/gateway/handler"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting gateway service",
		"port", cfg.Gateway.Port,
		"searcher_url", cfg.Gateway.SearcherURL,
		"ingestion_url", cfg.Gateway.IngestionURL,
		"analytics_url", cfg.Gateway.AnalyticsURL,
		"tracker_url", cfg.Gateway.TrackerURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenDriver(ctx, cfg.Gateway.KeysDriver, cfg.Gateway.KeysDSN, cfg.Postgres)
	if err != nil {
		slog.Error("failed to open key store", "driver", cfg.Gateway.KeysDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	validator, err := apikey.NewValidator(ctx, db)
	if err != nil {
		slog.Error("failed to prepare key store", "error", err)
		os.Exit(1)
	}
	limiter := middleware.NewLimiter(apikey.DefaultRateLimit, cfg.Gateway.RateLimitWindow)
	defer limiter.Close()

	h, err := gwhandler.New(cfg.Gateway, validator)
	if err != nil {
		slog.Error("invalid gateway configuration", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker("gateway")
	checker.Require("keys", health.PingCheck(validator))
	h.RegisterChecks(checker, &http.Client{Timeout: 2 * time.Second})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:     router.New(h, validator, limiter, checker),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: proxied websocket streams are long-lived.
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("gateway service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway service stopped")
}
