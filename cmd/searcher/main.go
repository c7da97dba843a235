// Command searcher starts the match service.
//
// It loads the corpus and its token index, then serves the HTTP API
// (search, transcribe, compare, history, tracking sessions, analytics) and
// the JSON-over-TCP match protocol used by remote trackers.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/analytics/collector"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/history"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/bani-align/internal/tracker"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/database"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/proto"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bani-align/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/rpc"
)

// localEvents feeds the in-process aggregator and forwards every event to
// the Kafka collector.
type localEvents struct {
	agg  *analytics.Aggregator
	next *collector.BatchCollector
}

func (l localEvents) Track(ev proto.AnalyticsEvent, key string) {
	l.agg.Record(ev)
	l.next.Track(ev, key)
}

func (l localEvents) Publish(ctx context.Context, event kafka.Event) error {
	if ev, ok := event.Value.(proto.AnalyticsEvent); ok {
		l.agg.Record(ev)
	}
	return l.next.Publish(ctx, event)
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting match service", "port", cfg.Server.Port, "rpc_port", cfg.RPC.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := indexer.Open(cfg.Corpus)
	if err != nil {
		slog.Error("failed to open corpus", "error", err)
		os.Exit(1)
	}
	st := eng.Stats(0)
	slog.Info("corpus ready",
		"lines", st.Lines,
		"sections", st.Sections,
		"terms", st.Terms,
		"index_source", st.IndexSource,
	)

	m := metrics.New()
	checker := health.NewChecker("searcher")
	checker.Require("corpus", func(ctx context.Context) error {
		if eng.Corpus().Len() == 0 {
			return errors.New("corpus is empty")
		}
		return nil
	})

	cacheOpts := []cache.Option{cache.WithObserver(m)}
	if cfg.Cache.UseRedis {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, shared cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheOpts = append(cacheOpts, cache.WithBackend(redisClient, cfg.Redis.CacheTTL))
			checker.Optional("redis", health.PingCheck(redisClient))
			slog.Info("shared cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	matchCache, err := cache.New[executor.Result](cfg.Cache.Capacity, eng.Corpus().Fingerprint(), cacheOpts...)
	if err != nil {
		slog.Error("failed to create match cache", "error", err)
		os.Exit(1)
	}

	exec := executor.New(
		eng.Corpus(),
		retriever.New(eng.Index(), retriever.ParamsFromConfig(cfg.Retriever)),
		executor.ParamsFromConfig(cfg.Match),
		executor.WithCache(matchCache),
		executor.WithObserver(m),
	)

	opts := []handler.Option{
		handler.WithCache(matchCache),
		handler.WithLimits(cfg.Search),
	}

	db, err := database.OpenDriver(ctx, cfg.History.Driver, cfg.History.DSN, cfg.Postgres)
	if err != nil {
		slog.Warn("history database unavailable, comparisons will not be saved", "driver", cfg.History.Driver, "error", err)
	} else {
		defer db.Close()
		store, err := history.New(ctx, db, cfg.History.MinSaveScore, history.WithObserver(m))
		if err != nil {
			slog.Error("failed to prepare history store", "error", err)
			os.Exit(1)
		}
		opts = append(opts, handler.WithHistory(store))
		checker.Optional("history", health.PingCheck(store))
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer producer.Close()
	events := collector.NewBatchCollector(producer, 100, 2*time.Second)
	events.Start(ctx)
	defer events.Close()
	aggregator := analytics.NewAggregator(cfg.Analytics.WindowSize)
	local := localEvents{agg: aggregator, next: events}
	opts = append(opts, handler.WithCollector(local))
	slog.Info("analytics collector started", "topic", producer.Topic())

	sessions := tracker.NewManager(exec, tracker.ParamsFromConfig(cfg.Tracker), cfg.Tracker.SessionIdleTTL,
		tracker.WithObserver(m),
		tracker.WithPublisher(local),
	)
	opts = append(opts, handler.WithSessions(sessions))

	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowedOrigins
		opts = append(opts, handler.WithOriginCheck(func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || corsCfg.Allows(origin)
		}))
	}

	h := handler.New(exec, opts...)
	analyticsH := analytics.NewHandler(aggregator, nil)

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	limiter := middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
	defer limiter.Close()

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.CORS(corsCfg),
		middleware.Metrics(m),
		middleware.RateLimit(limiter),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	rpcServer := rpc.NewServer()
	handler.RegisterRPC(rpcServer, h.Bounded(exec), func(ctx context.Context) error {
		if checker.Run(ctx).Status == health.StatusDown {
			return errors.New("required dependency down")
		}
		return nil
	})

	stopMetrics := func(context.Context) error { return nil }
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.RPC.Port)
		slog.Info("match protocol listening", "addr", addr)
		return rpcServer.Serve(addr)
	})
	g.Go(func() error {
		slog.Info("match service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		rpcServer.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := stopMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("match service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("match service stopped")
}
