package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/flyerbird/flyerbird/internal/embedding"
	"github.com/flyerbird/flyerbird/internal/ingest"
	"github.com/flyerbird/flyerbird/internal/jobs"
)

// Ingestor processes a directory of ad documents. Implemented by
// *ingest.Runner.
type Ingestor interface {
	Run(ctx context.Context, dir string) (ingest.Summary, error)
}

// EmbeddingRunner drains the embedding backlog. Implemented by
// *embedding.Worker.
type EmbeddingRunner interface {
	Run(ctx context.Context) (embedding.Report, error)
}

// jobsHandler starts background work and reports job status.
//
// Jobs outlive the request that started them, so they run on the server's
// base context rather than the request context.
type jobsHandler struct {
	registry  *jobs.Registry
	ingestor  Ingestor
	worker    EmbeddingRunner
	ingestDir string
	baseCtx   context.Context
	logger    *slog.Logger
}

// ingestRequest is the request body for POST /api/v1/ingest.
type ingestRequest struct {
	Dir string `json:"dir,omitempty"`
}

// startIngest handles POST /api/v1/ingest. The directory scan runs in the
// background; the response carries the job ID to poll.
func (h *jobsHandler) startIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest_disabled", "ingestion is not configured")
		return
	}

	var body ingestRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	dir := body.Dir
	if dir == "" {
		dir = h.ingestDir
	}
	if dir == "" {
		writeError(w, http.StatusBadRequest, "missing_dir", "no ingest directory configured or provided")
		return
	}

	id := h.registry.Submit(h.baseCtx, "ingest", func(ctx context.Context) error {
		summary, err := h.ingestor.Run(ctx, dir)
		if err != nil {
			return err
		}
		h.logger.Info("ingest job finished",
			"dir", dir,
			"ingested", summary.Ingested,
			"duplicates", summary.Duplicates,
			"unknown_retailers", summary.UnknownRetailers,
			"failed", summary.Failed,
		)
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed", summary.Failed, summary.Total())
		}
		return nil
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"status": string(jobs.StatePending),
	})
}

// startEmbeddings handles POST /api/v1/embeddings/run.
func (h *jobsHandler) startEmbeddings(w http.ResponseWriter, _ *http.Request) {
	if h.worker == nil {
		writeError(w, http.StatusServiceUnavailable, "embeddings_disabled", "embedding worker is not configured")
		return
	}

	id := h.registry.Submit(h.baseCtx, "embeddings", func(ctx context.Context) error {
		report, err := h.worker.Run(ctx)
		if err != nil {
			return err
		}
		h.logger.Info("embedding job finished",
			"batches", report.Batches,
			"fetched", report.Fetched,
			"embedded", report.Embedded,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
		return nil
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": id,
		"status": string(jobs.StatePending),
	})
}

// getJob handles GET /api/v1/jobs/{id}.
func (h *jobsHandler) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.registry.Get(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found", "no job with that ID")
			return
		}
		h.logger.Error("getting job", "error", err, "job_id", id)
		writeError(w, http.StatusInternalServerError, "job_lookup_failed", "failed to look up job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// listJobs handles GET /api/v1/jobs.
func (h *jobsHandler) listJobs(w http.ResponseWriter, _ *http.Request) {
	list := h.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"total": len(list),
	})
}
