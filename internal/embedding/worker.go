package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/flyerbird/flyerbird/internal/adstore"
)

// Store is the slice of the ad store the worker needs.
type Store interface {
	FetchMissingEmbeddings(ctx context.Context, limit int) ([]*adstore.Product, error)
	UpdateEmbeddings(ctx context.Context, ids []int64, vecs []pgvector.Vector) (int, error)
}

// BatchEmbedder is the provider boundary: one vector (or nil) per input,
// keyed positionally.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultDBBatch is how many products the worker fetches per database batch.
const DefaultDBBatch = 100

// Report summarizes one worker run.
type Report struct {
	Batches  int // database batches processed
	Fetched  int // products fetched
	Embedded int // vectors written
	Skipped  int // products with empty input text, not retried
	Failed   int // products left without a vector (retryable)
}

// Worker fills missing embeddings for current-ad products in bounded
// batches, committing each batch so partial progress survives a crash.
type Worker struct {
	store     Store
	embedder  BatchEmbedder
	batchSize int
	logger    *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(store Store, embedder BatchEmbedder, batchSize int, logger *slog.Logger) (*Worker, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultDBBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// Run processes batches until no candidates remain. The fetch predicate is
// the resumption cursor: embedded rows drop out of the next fetch, so a
// re-run after a crash picks up exactly the unfinished work.
//
// An embedder failure degrades to no-vectors-for-this-batch instead of
// aborting the run. A batch that makes no progress at all terminates the
// run; its rows stay eligible for the next run.
func (w *Worker) Run(ctx context.Context) (Report, error) {
	var report Report

	for {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("worker interrupted: %w", err)
		}

		products, err := w.store.FetchMissingEmbeddings(ctx, w.batchSize)
		if err != nil {
			return report, fmt.Errorf("fetching batch: %w", err)
		}
		if len(products) == 0 {
			break
		}

		report.Batches++
		report.Fetched += len(products)

		embedded, skipped := w.processBatch(ctx, products)
		report.Embedded += embedded
		report.Skipped += skipped
		report.Failed += len(products) - embedded - skipped

		// Embedded rows left the predicate; anything else would be
		// re-fetched forever, so stop once a batch makes no progress.
		if embedded == 0 {
			break
		}
		if len(products) < w.batchSize {
			break
		}
	}

	w.logger.Info("embedding run complete",
		"batches", report.Batches,
		"fetched", report.Fetched,
		"embedded", report.Embedded,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

// processBatch embeds one database batch and commits its vectors together.
// Returns how many products were embedded and how many were skipped for
// empty input text.
func (w *Worker) processBatch(ctx context.Context, products []*adstore.Product) (embedded, skipped int) {
	ids := make([]int64, 0, len(products))
	texts := make([]string, 0, len(products))
	for _, p := range products {
		text := ComposeText(p)
		if text == "" {
			skipped++
			w.logger.Warn("skipping product with empty embedding input", "product_id", p.ID)
			continue
		}
		ids = append(ids, p.ID)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return 0, skipped
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		w.logger.Error("embedder failed, leaving batch for retry",
			"products", len(texts), "error", err)
		return 0, skipped
	}

	updateIDs := make([]int64, 0, len(ids))
	updateVecs := make([]pgvector.Vector, 0, len(ids))
	for i, vec := range vectors {
		if vec == nil {
			w.logger.Warn("no vector returned for product, leaving for retry",
				"product_id", ids[i])
			continue
		}
		updateIDs = append(updateIDs, ids[i])
		updateVecs = append(updateVecs, pgvector.NewVector(vec))
	}
	if len(updateIDs) == 0 {
		return 0, skipped
	}

	updated, err := w.store.UpdateEmbeddings(ctx, updateIDs, updateVecs)
	if err != nil {
		w.logger.Error("committing batch failed, leaving batch for retry",
			"products", len(updateIDs), "error", err)
		return 0, skipped
	}
	return updated, skipped
}

// ComposeText builds the embedding input for a product: non-empty fields
// concatenated in fixed order.
func ComposeText(p *adstore.Product) string {
	var b strings.Builder
	appendField(&b, "Product Name", p.Name)
	appendField(&b, "Category", p.Category)
	appendField(&b, "Promotional Details", p.PromotionDetails)
	appendField(&b, "Generated Terms", p.GenTerms)
	return b.String()
}

func appendField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
}
