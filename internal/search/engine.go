package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/flyerbird/flyerbird/internal/adstore"
)

// Store is the slice of the ad store the engine needs.
type Store interface {
	SimilaritySearch(ctx context.Context, vec pgvector.Vector, opts adstore.SearchOpts) ([]*adstore.SearchHit, error)
	TextSearch(ctx context.Context, query string, opts adstore.SearchOpts) ([]*adstore.SearchHit, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Defaults are the engine's fallback ranking parameters for requests that
// leave them unset.
type Defaults struct {
	Limit     int
	Threshold float64
}

// Engine runs the single-pass search state machine: classify, embed, rank.
type Engine struct {
	classifier *Classifier
	embedder   QueryEmbedder
	store      Store
	defaults   Defaults
	logger     *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(classifier *Classifier, embedder QueryEmbedder, store Store, defaults Defaults, logger *slog.Logger) (*Engine, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if defaults.Limit <= 0 {
		defaults.Limit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classifier: classifier,
		embedder:   embedder,
		store:      store,
		defaults:   defaults,
		logger:     logger,
	}, nil
}

// Search classifies the query and either answers conversationally or ranks
// products. Downstream failures after classification degrade to an empty
// result envelope; only an empty query is an error.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	verdict := e.classifier.Classify(ctx, query, req.History)

	if verdict.IsChat() {
		return &Response{
			QueryType:  QueryTypeChat,
			LLMMessage: verdict.Message,
			Query:      query,
			Products:   []ProductResult{},
		}, nil
	}

	resp := &Response{
		QueryType:  QueryTypeSearch,
		LLMMessage: verdict.Message,
		Query:      query,
		Terms:      verdict.Terms,
		Products:   []ProductResult{},
	}
	opts := e.buildOpts(req)

	// Embed the expanded terms, not the raw query.
	vec, err := e.embedder.EmbedQuery(ctx, verdict.Terms)
	if err != nil {
		// Reported as no matches rather than erroring the caller.
		e.logger.Warn("query embedding failed, returning empty results",
			"query", query, "error", err)
		return resp, nil
	}

	hits, err := e.store.SimilaritySearch(ctx, pgvector.NewVector(vec), opts)
	if err != nil {
		e.logger.Warn("vector ranking failed, falling back to full-text search",
			"query", query, "error", err)
		hits, err = e.store.TextSearch(ctx, query, opts)
		if err != nil {
			e.logger.Error("full-text fallback failed, returning empty results",
				"query", query, "error", err)
			return resp, nil
		}
	}

	for _, h := range hits {
		resp.Products = append(resp.Products, resultFromHit(h, opts.Period))
	}
	resp.ResultsCount = len(resp.Products)
	return resp, nil
}

func (e *Engine) buildOpts(req Request) adstore.SearchOpts {
	opts := adstore.SearchOpts{
		Period:    req.AdPeriod,
		Threshold: e.defaults.Threshold,
		Limit:     req.Limit,
	}
	if !opts.Period.Valid() {
		opts.Period = adstore.PeriodCurrent
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	if opts.Limit <= 0 || opts.Limit > e.defaults.Limit {
		opts.Limit = e.defaults.Limit
	}
	return opts
}
