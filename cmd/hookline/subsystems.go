package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hookline-dev/hookline/pkg/api"
	"github.com/hookline-dev/hookline/pkg/audit"
	"github.com/hookline-dev/hookline/pkg/config"
	"github.com/hookline-dev/hookline/pkg/dedup"
	"github.com/hookline-dev/hookline/pkg/event"
	"github.com/hookline-dev/hookline/pkg/execution"
	"github.com/hookline-dev/hookline/pkg/mapper"
	"github.com/hookline-dev/hookline/pkg/observability"
	"github.com/hookline-dev/hookline/pkg/router"
	"github.com/hookline-dev/hookline/pkg/secrets"
	"github.com/hookline-dev/hookline/pkg/signature"
	"github.com/hookline-dev/hookline/pkg/stream"
	"github.com/hookline-dev/hookline/pkg/trigger"
	"github.com/hookline-dev/hookline/pkg/worker"

	_ "github.com/lib/pq" // Postgres driver
)

// runtime holds every composed subsystem.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	obs     *observability.Provider
	redis   *redis.Client
	db      *sql.DB
	store   execution.Store
	log     stream.Log
	source  router.InstanceSource
	tracker *worker.Tracker
	pool    *worker.Pool
	server  *api.Server
}

// buildRuntime is the composition root: explicit constructor injection end
// to end, assembled once at startup.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	var err error
	rt.obs, err = observability.New(ctx, &observability.Config{
		ServiceName:    "hookline",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	rt.store, rt.db, err = buildExecutionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.log = buildStreamLog(cfg, rt)
	rt.source = buildInstanceSource(cfg, rt)

	var dedupe dedup.Deduplicator
	if cfg.Dedup.Backend == "redis" && rt.redis != nil {
		dedupe = dedup.NewRedisDeduplicator(rt.redis, cfg.Dedup.TTL)
	} else {
		dedupe = dedup.NewMemoryDeduplicator(cfg.Dedup.TTL)
	}

	mappings := mapper.NewSet(nil)
	if cfg.MappingsPath != "" {
		doc, err := os.ReadFile(cfg.MappingsPath)
		if err != nil {
			return nil, fmt.Errorf("read mappings: %w", err)
		}
		loaded, err := mapper.LoadMappings(doc)
		if err != nil {
			return nil, err
		}
		mappings = mapper.NewSet(loaded)
	}

	filters, err := router.NewFilterEvaluator()
	if err != nil {
		return nil, err
	}
	parsers := event.NewRegistry()
	rtr := router.New(rt.source, parsers, filters, logger)
	trig := trigger.New(rt.store, rt.log, logger)
	rt.tracker = worker.NewTracker(cfg.Workers.Count, rt.store, rt.log)

	rt.pool = worker.NewPool(worker.Config{
		Size:         cfg.Workers.Count,
		ConsumerName: cfg.Workers.ConsumerName,
		BlockTimeout: cfg.Stream.BlockTimeout,
	}, rt.log, rt.store, rt.source, newLoggingExecutor(logger), rt.tracker, rt.obs, logger)

	rt.server = &api.Server{
		Webhooks: &api.WebhookService{
			Validator: &signature.Validator{},
			Secrets:   buildSecretStore(cfg),
			Dedup:     dedupe,
			Parsers:   parsers,
			Mappings:  mappings,
			Router:    rtr,
			Trigger:   trig,
			Audit:     audit.NewLogger(),
			Obs:       rt.obs,
			Logger:    logger,
		},
		Control: &api.ControlService{
			Store:     rt.store,
			Log:       rt.log,
			Tracker:   rt.tracker,
			Instances: rt.source,
			Trigger:   trig,
			Logger:    logger,
		},
		Auth:    api.NewControlAuth(cfg.Control.JWTSecret),
		Limiter: api.NewGlobalRateLimiter(cfg.Control.RatePerSecond, cfg.Control.Burst),
		Ready:   func() bool { return rt.ready(ctx) },
	}
	return rt, nil
}

func buildExecutionStore(ctx context.Context, cfg *config.Config) (execution.Store, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		store := execution.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrate executions: %w", err)
		}
		return store, db, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		store, err := execution.NewSQLiteStore(db)
		if err != nil {
			return nil, nil, err
		}
		return store, db, nil
	default:
		return execution.NewMemoryStore(), nil, nil
	}
}

func buildStreamLog(cfg *config.Config, rt *runtime) stream.Log {
	if rt.redis != nil {
		return stream.NewRedisLog(rt.redis, cfg.Stream.Name, cfg.Stream.Group, cfg.Stream.VisibilityTimeout)
	}
	return stream.NewMemoryLog(cfg.Stream.VisibilityTimeout)
}

// buildInstanceSource reads instances from the platform database when one is
// configured; the memory source otherwise (instances then come only from the
// management service seeding it at runtime).
func buildInstanceSource(cfg *config.Config, rt *runtime) router.InstanceSource {
	if cfg.Database.Driver == "postgres" && rt.db != nil {
		return router.NewPostgresInstanceSource(rt.db)
	}
	return router.NewMemoryInstanceSource()
}

func buildSecretStore(cfg *config.Config) *secrets.Store {
	providers := make(map[event.Provider]secrets.ProviderAuth, len(cfg.Providers))
	for name, p := range cfg.Providers {
		prov, err := event.ParseProvider(name)
		if err != nil {
			continue
		}
		scheme, err := signature.ParseScheme(p.AuthScheme)
		if err != nil {
			continue
		}
		providers[prov] = secrets.ProviderAuth{
			Scheme:      scheme,
			Secret:      p.Secret,
			UserSecrets: p.UserSecrets,
		}
	}
	return secrets.NewStore(providers)
}

func (rt *runtime) ready(ctx context.Context) bool {
	if rt.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rt.redis.Ping(pingCtx).Err(); err != nil {
			return false
		}
	}
	if rt.db != nil {
		if err := rt.db.PingContext(ctx); err != nil {
			return false
		}
	}
	return true
}

func (rt *runtime) close(ctx context.Context) {
	if rt.obs != nil {
		_ = rt.obs.Shutdown(ctx)
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

// newLoggingExecutor is the default ActionExecutor: the real provider
// effects live in the action service, wired in via its client; standalone
// deployments log the dispatch instead.
func newLoggingExecutor(logger *slog.Logger) worker.ActionExecutor {
	return worker.ActionExecutorFunc(func(ctx context.Context, actionKey string, payload, params map[string]any, userID string) (map[string]any, error) {
		logger.InfoContext(ctx, "dispatching action",
			"action_key", actionKey, "user_id", userID)
		return payload, nil
	})
}

func parseRunFlags(name string, args []string, stderr io.Writer) (*config.Config, *slog.Logger, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to hookline.yaml")
	logLevel := fs.String("log-level", "info", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	return cfg, logger, nil
}

// runServer runs the HTTP API plus the in-process worker pool.
func runServer(args []string, stderr io.Writer) int {
	cfg, logger, err := parseRunFlags("server", args, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "hookline: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "hookline: %v\n", err)
		return 1
	}
	defer rt.close(context.Background())

	if err := rt.log.Initialize(ctx); err != nil {
		logger.ErrorContext(ctx, "stream initialization failed", "error", err)
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           rt.server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		rt.pool.Run(ctx)
	}()

	logger.InfoContext(ctx, "hookline server listening",
		"addr", cfg.Listen, "workers", cfg.Workers.Count)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.ErrorContext(ctx, "server failed", "error", err)
		stop()
		<-poolDone
		return 1
	}
	<-poolDone
	return 0
}

// runWorker runs only the consumer pool, for scaling workers independently
// of the ingestion API.
func runWorker(args []string, stderr io.Writer) int {
	cfg, logger, err := parseRunFlags("worker", args, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "hookline: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "hookline: %v\n", err)
		return 1
	}
	defer rt.close(context.Background())

	if err := rt.log.Initialize(ctx); err != nil {
		logger.ErrorContext(ctx, "stream initialization failed", "error", err)
		return 1
	}

	logger.InfoContext(ctx, "hookline worker pool starting", "workers", cfg.Workers.Count)
	rt.pool.Run(ctx)
	return 0
}
