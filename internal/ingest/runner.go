package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning indicates another ingestion run holds the directory lock.
var ErrAlreadyRunning = errors.New("ingestion already running for this directory")

// lockFile is created inside the extraction directory to serialize runs
// across processes.
const lockFile = ".ingest.lock"

// Summary counts per-outcome results of one directory run.
type Summary struct {
	Ingested         int
	Duplicates       int
	UnknownRetailers int
	Failed           int
}

// Total returns how many documents the run looked at.
func (s Summary) Total() int {
	return s.Ingested + s.Duplicates + s.UnknownRetailers + s.Failed
}

// Runner drives the pipeline over a directory of extraction documents.
type Runner struct {
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(pipeline *Pipeline, logger *slog.Logger) (*Runner, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pipeline: pipeline, logger: logger}, nil
}

// Run ingests every *.json document under dir in name order. A file lock in
// the directory serializes runs across processes; a held lock returns
// ErrAlreadyRunning instead of blocking.
//
// Failures are contained per file: a document that fails to parse or ingest
// is counted and logged, and the run continues with the next file.
func (r *Runner) Run(ctx context.Context, dir string) (Summary, error) {
	var summary Summary

	info, err := os.Stat(dir)
	if err != nil {
		return summary, fmt.Errorf("checking extraction directory: %w", err)
	}
	if !info.IsDir() {
		return summary, fmt.Errorf("extraction path %q is not a directory", dir)
	}

	lock := flock.New(filepath.Join(dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return summary, fmt.Errorf("acquiring directory lock: %w", err)
	}
	if !locked {
		return summary, fmt.Errorf("%w: %s", ErrAlreadyRunning, dir)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			r.logger.Warn("releasing directory lock", "error", unlockErr)
		}
	}()

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return summary, fmt.Errorf("globbing extraction documents: %w", err)
	}
	sort.Strings(files)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("ingestion interrupted: %w", err)
		}

		outcome, err := r.processFile(ctx, path)
		if err != nil {
			summary.Failed++
			r.logger.Error("document failed", "file", filepath.Base(path), "error", err)
			continue
		}
		switch outcome {
		case OutcomeIngested:
			summary.Ingested++
		case OutcomeDuplicate:
			summary.Duplicates++
		case OutcomeUnknownRetailer:
			summary.UnknownRetailers++
		}
	}

	r.logger.Info("ingestion run complete",
		"dir", dir,
		"ingested", summary.Ingested,
		"duplicates", summary.Duplicates,
		"unknown_retailers", summary.UnknownRetailers,
		"failed", summary.Failed)
	return summary, nil
}

func (r *Runner) processFile(ctx context.Context, path string) (Outcome, error) {
	// #nosec G304 -- paths come from globbing the configured directory
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading document: %w", err)
	}

	doc, err := ParseDocument(data, filepath.Base(path))
	if err != nil {
		return 0, err
	}

	return r.pipeline.ProcessDocument(ctx, doc)
}
