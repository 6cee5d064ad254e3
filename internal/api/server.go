// Package api exposes the weekly-ad system over a JSON HTTP surface:
// product search, ingestion and embedding triggers, job polling, and
// retailer management.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flyerbird/flyerbird/internal/jobs"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    *slog.Logger
	Engine    Searcher        // Required
	Store     RetailerStore   // Required
	Registry  *jobs.Registry  // Required
	Ingestor  Ingestor        // Optional: nil disables POST /api/v1/ingest
	Worker    EmbeddingRunner // Optional: nil disables POST /api/v1/embeddings/run
	Pool      *pgxpool.Pool   // Optional: nil degrades /ready to liveness
	IngestDir string          // Default directory for ingest jobs

	CORSOrigins []string
	TrustProxy  bool // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int  // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
// ctx bounds the lifetime of background jobs started over the API.
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("search engine is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("retailer store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("job registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sh := &searchHandler{engine: cfg.Engine, logger: logger}
	rh := &retailerHandler{store: cfg.Store, logger: logger}
	jh := &jobsHandler{
		registry:  cfg.Registry,
		ingestor:  cfg.Ingestor,
		worker:    cfg.Worker,
		ingestDir: cfg.IngestDir,
		baseCtx:   ctx,
		logger:    logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/search", sh.search)

	mux.HandleFunc("POST /api/v1/ingest", jh.startIngest)
	mux.HandleFunc("POST /api/v1/embeddings/run", jh.startEmbeddings)
	mux.HandleFunc("GET /api/v1/jobs", jh.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", jh.getJob)

	mux.HandleFunc("GET /api/v1/retailers", rh.listRetailers)
	mux.HandleFunc("POST /api/v1/retailers", rh.createRetailer)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery, RequestID, Logging, CORS, RateLimit, Routes.
	// RequestID precedes Logging so request_id is available in log fields.
	// CORS precedes RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack so rate limiting never
	// flaps orchestrator checks.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
