// Package app provides application initialization and dependency wiring.
//
// App is the container that holds every long-lived component: the database
// pool, the Genkit instance, the ad store, the ingestion pipeline, the
// embedding worker, and the search engine. Entry points build an App once
// and pick the pieces they need.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flyerbird/flyerbird/internal/adstore"
	"github.com/flyerbird/flyerbird/internal/config"
	"github.com/flyerbird/flyerbird/internal/embedding"
	"github.com/flyerbird/flyerbird/internal/ingest"
	"github.com/flyerbird/flyerbird/internal/jobs"
	"github.com/flyerbird/flyerbird/internal/search"
)

// App is the core application container.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Store     *adstore.Store
	Pipeline  *ingest.Pipeline
	Runner    *ingest.Runner
	Adapter   *embedding.Adapter
	Worker    *embedding.Worker
	Scheduler *embedding.Scheduler
	Engine    *search.Engine
	Registry  *jobs.Registry

	otelCleanup func()
}

// Close gracefully shuts down all resources. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	slog.Info("shutting down application")

	if a.Registry != nil {
		a.Registry.Wait()
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		slog.Info("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
