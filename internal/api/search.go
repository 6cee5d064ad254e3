package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/flyerbird/flyerbird/internal/adstore"
	"github.com/flyerbird/flyerbird/internal/search"
)

// maxSearchQueryLength caps query text at 1000 bytes.
const maxSearchQueryLength = 1000

// Searcher answers product queries. Implemented by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// searchHandler holds dependencies for the search endpoint.
type searchHandler struct {
	engine Searcher
	logger *slog.Logger
}

// searchRequest is the request body for POST /api/v1/search.
type searchRequest struct {
	Query     string        `json:"query"`
	History   []search.Turn `json:"history,omitempty"`
	AdPeriod  string        `json:"ad_period,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	Threshold *float64      `json:"similarity_threshold,omitempty"`
}

// search handles POST /api/v1/search.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	if body.Query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query is required")
		return
	}
	if len(body.Query) > maxSearchQueryLength {
		writeError(w, http.StatusBadRequest, "query_too_long", "query must be 1000 characters or fewer")
		return
	}

	resp, err := h.engine.Search(r.Context(), search.Request{
		Query:     body.Query,
		History:   body.History,
		AdPeriod:  adstore.AdPeriod(body.AdPeriod),
		Limit:     body.Limit,
		Threshold: body.Threshold,
	})
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "missing_query", "query is required")
			return
		}
		h.logger.Error("search failed", "error", err, "query_len", len(body.Query))
		writeError(w, http.StatusInternalServerError, "search_failed", "failed to run search")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
