// Command ingestion starts the transcript chunk ingestion HTTP service.
//
// The service accepts transcript chunks via POST /api/v1/chunks and
// POST /api/v1/chunks/batch, validates them, numbers them per session and
// publishes them to the transcript chunk topic, where the tracker service
// consumes them.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
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
	slog.Info("starting ingestion service", "port", cfg.Ingestion.Port)

	m := metrics.New()
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TranscriptChunks)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", producer.Topic())

	pub, err := publisher.New(producer, m)
	if err != nil {
		slog.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}
	h := handler.New(pub, validator.New(cfg.Ingestion.MaxChunkSize))
	checker := health.NewChecker("ingestion")

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Ingestion.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Metrics(m),
			middleware.Timeout(cfg.Server.RequestTimeout),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
