package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/halcyon-sec/soar/internal/agent"
	"github.com/halcyon-sec/soar/internal/config"
	"github.com/halcyon-sec/soar/internal/eventstore"
	"github.com/halcyon-sec/soar/internal/hub"
	"github.com/halcyon-sec/soar/internal/orchestrator"
	"github.com/halcyon-sec/soar/internal/policy"
	"github.com/halcyon-sec/soar/internal/ratelimit"
	"github.com/halcyon-sec/soar/internal/server"
	"github.com/halcyon-sec/soar/internal/session"
	"github.com/halcyon-sec/soar/internal/sim"
	"github.com/halcyon-sec/soar/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SOAR_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("soar starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the audit sink. Every backend is wrapped with the retry layer so
	// a transient write failure never stalls a run.
	backend, err := newEventStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("eventstore: %w", err)
	}
	defer func() { _ = backend.Close() }()
	store := eventstore.NewRetrying(backend, logger)

	// Remote policy gate. No URL means local-fallback-only.
	var remote policy.Service
	if cfg.PolicyURL != "" {
		remote = policy.NewClient(cfg.PolicyURL, cfg.PolicyTimeout)
		logger.Info("policy: remote gate enabled", "url", cfg.PolicyURL, "fail_closed", cfg.PolicyFailClosed)
	} else {
		logger.Info("policy: remote gate disabled, local fallback only", "fail_closed", cfg.PolicyFailClosed)
	}
	gate := policy.NewGate(remote, store, logger, cfg.PolicyFailClosed)

	feed := hub.New(logger, cfg.FeedBufferSize)
	broker := orchestrator.NewBroker()

	// Simulated external ports: scenario-fed telemetry, deterministic risk
	// analysis, pretend remediation.
	engine := orchestrator.New(orchestrator.Config{
		Agents: orchestrator.Agents{
			Telemetry:  agent.NewTelemetry(sim.NewSource(), store, logger),
			Detection:  agent.NewDetection(sim.Analyzer{}, store, logger),
			Supervisor: agent.NewSupervisor(store, logger),
			Forensics:  agent.NewForensics(store, logger),
			Response:   agent.NewResponse(sim.NewRemediator(logger), store, logger),
			Compliance: agent.NewCompliance(store, logger),
		},
		Gate:            gate,
		Store:           store,
		Hub:             feed,
		Broker:          broker,
		Logger:          logger,
		ApprovalTimeout: cfg.ApprovalTimeout,
	})
	sessions := session.NewManager(engine, broker, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		memLimiter := ratelimit.PerMinute(cfg.RateLimitPerMinute)
		defer func() { _ = memLimiter.Close() }()
		limiter = memLimiter
		logger.Info("rate limiting: memory (in-process token bucket)", "per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		Sessions:            sessions,
		Hub:                 feed,
		Store:               store,
		Logger:              logger,
		Limiter:             limiter,
		RunCtx:              ctx,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Benign background telemetry keeps the feed alive between incidents.
	g.Go(func() error {
		err := sim.NewBackground(feed).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()

		slog.Info("soar shutting down")
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		return srv.Shutdown(httpCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("soar stopped")
	return nil
}

// newEventStore opens the configured audit backend.
func newEventStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (eventstore.Store, error) {
	switch cfg.EventStore {
	case config.StoreMemory:
		logger.Info("eventstore: memory (audit trail lost on restart)")
		return eventstore.NewMemory(), nil
	case config.StoreFile:
		logger.Info("eventstore: file", "path", cfg.EventStorePath)
		return eventstore.NewFile(cfg.EventStorePath)
	case config.StoreSQLite:
		logger.Info("eventstore: sqlite", "path", cfg.EventStorePath)
		return eventstore.NewSQLite(ctx, cfg.EventStorePath)
	case config.StorePostgres:
		logger.Info("eventstore: postgres")
		return eventstore.NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown event store %q", cfg.EventStore)
	}
}
