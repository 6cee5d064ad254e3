package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flyerbird/flyerbird/db"
	"github.com/flyerbird/flyerbird/internal/adstore"
	"github.com/flyerbird/flyerbird/internal/config"
	"github.com/flyerbird/flyerbird/internal/embedding"
	"github.com/flyerbird/flyerbird/internal/ingest"
	"github.com/flyerbird/flyerbird/internal/jobs"
	"github.com/flyerbird/flyerbird/internal/observability"
	"github.com/flyerbird/flyerbird/internal/search"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateAI(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				slog.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be ready before Genkit initializes its TracerProvider.
	a.otelCleanup = provideOtelShutdown(ctx, cfg)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	logger := slog.Default()

	store, err := adstore.NewStore(pool, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store

	pipeline, err := ingest.NewPipeline(store, logger)
	if err != nil {
		return nil, err
	}
	a.Pipeline = pipeline

	runner, err := ingest.NewRunner(pipeline, logger)
	if err != nil {
		return nil, err
	}
	a.Runner = runner

	adapter, err := embedding.NewAdapter(embedder, cfg.ProviderBatchSize, cfg.EmbedRatePerSec, logger)
	if err != nil {
		return nil, err
	}
	a.Adapter = adapter

	worker, err := embedding.NewWorker(store, adapter, cfg.DBBatchSize, logger)
	if err != nil {
		return nil, err
	}
	a.Worker = worker

	if cfg.EmbedIntervalMin > 0 {
		a.Scheduler = embedding.NewScheduler(worker,
			time.Duration(cfg.EmbedIntervalMin)*time.Minute, logger)
	}

	classifier, err := search.NewClassifier(g, cfg.ModelName, logger)
	if err != nil {
		return nil, err
	}

	engine, err := search.NewEngine(classifier, adapter, store, search.Defaults{
		Limit:     cfg.SearchLimit,
		Threshold: cfg.SimilarityThreshold,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Engine = engine

	a.Registry = jobs.NewRegistry(logger)

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit initialization
// and returns a teardown function that flushes pending spans.
func provideOtelShutdown(ctx context.Context, cfg *config.Config) func() {
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPAgentHost,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil || shutdown == nil {
		return func() {}
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the Gemini plugin. The plugin reads
// GEMINI_API_KEY from the environment.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	return g, nil
}

// provideDBPool runs migrations and creates a PostgreSQL connection pool
// with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
