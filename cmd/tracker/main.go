// Command tracker starts the streaming tracker service.
//
// It consumes transcript chunks from Kafka, keeps one tracking session per
// upstream session id and resolves every match through the match service's
// RPC endpoint behind a circuit breaker. Tracker events are published to the
// analytics topic.
//
// Usage:
//
//	go run ./cmd/tracker [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/tracker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/rpc"
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
	slog.Info("starting tracker service", "port", cfg.Tracker.Port, "searcher", cfg.Tracker.SearcherAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client := rpc.NewClient(cfg.Tracker.SearcherAddr, cfg.RPC.DialTimeout)
	defer client.Close()
	remote := tracker.NewRemoteSearcher(client, cfg.RPC.CallTimeout, func(name string, s resilience.State) {
		slog.Warn("circuit breaker state changed", "breaker", name, "state", s.String())
		m.SetBreakerState(name, int(s))
	})

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer producer.Close()
	events := collector.NewBatchCollector(producer, 100, 2*time.Second)
	events.Start(ctx)
	defer events.Close()

	sessions := tracker.NewManager(remote, tracker.ParamsFromConfig(cfg.Tracker), cfg.Tracker.SessionIdleTTL,
		tracker.WithObserver(m),
		tracker.WithPublisher(events),
	)
	chunks, err := tracker.NewChunkConsumer(sessions)
	if err != nil {
		slog.Error("failed to create chunk consumer", "error", err)
		os.Exit(1)
	}
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.TranscriptChunks, chunks.Handler(),
		kafka.FromBeginning(),
		kafka.WithGroup(cfg.Kafka.ConsumerGroup+"-tracker"),
	)
	defer consumer.Close()

	checker := health.NewChecker("tracker")
	checker.Require("match-service", remote.Health)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"sessions": sessions.List()}); err != nil {
			slog.Error("failed to encode sessions", "error", err)
		}
	})
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Tracker.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.Timeout(cfg.Server.RequestTimeout),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("consuming transcript chunks", "topic", cfg.Kafka.Topics.TranscriptChunks)
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		slog.Info("tracker service listening", "addr", server.Addr)
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
		slog.Error("tracker service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("tracker service stopped")
}
