// Command analytics starts the standalone analytics aggregation service.
//
// It consumes match and tracker events from Kafka, aggregates them in memory
// (match rate, latency percentiles, top and unmatched queries, tracker
// statuses, drifts), snapshots the aggregate to PostgreSQL and serves both
// at GET /api/v1/analytics and GET /api/v1/analytics/snapshots.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/analytics/snapshot"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/metrics"
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
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	aggregator := analytics.NewAggregator(cfg.Analytics.WindowSize)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents, aggregator.Handler(),
		kafka.WithGroup(cfg.Kafka.ConsumerGroup+"-analytics"),
	)
	defer consumer.Close()

	checker := health.NewChecker("analytics")

	// Snapshots are optional: without Postgres the service still serves
	// live stats.
	var store *snapshot.Store
	db, err := database.OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
	} else {
		defer db.Close()
		store, err = snapshot.NewStore(ctx, db)
		if err != nil {
			slog.Error("failed to prepare snapshot store", "error", err)
			os.Exit(1)
		}
		checker.Optional("postgres", health.PingCheck(store))
	}

	var lister analytics.SnapshotLister
	if store != nil {
		lister = store
	}
	h := analytics.NewHandler(aggregator, lister)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Metrics(m),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(gctx)
	})
	if store != nil {
		g.Go(func() error {
			store.Run(gctx, aggregator, cfg.Analytics.SaveInterval)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("analytics service listening", "addr", server.Addr, "topic", cfg.Kafka.Topics.AnalyticsEvents)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
