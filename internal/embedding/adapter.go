// Package embedding converts product text into pgvector-ready vectors: a
// provider adapter with batch sub-chunking and rate pacing, a progressive
// batch worker, and an optional periodic scheduler.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// VectorDimension is the embedding size this system stores. It matches the
// vector(768) column and the output dimensionality requested from the model.
const VectorDimension int32 = 768

// DefaultProviderBatch is the provider-side cap on inputs per request.
const DefaultProviderBatch = 100

// Adapter wraps a Genkit embedder with positional batch semantics: one
// vector (or nil) per input string, sub-chunked at the provider cap and
// paced by a rate limiter.
type Adapter struct {
	embedder  ai.Embedder
	limiter   *rate.Limiter
	batchSize int
	logger    *slog.Logger
}

// NewAdapter creates an Adapter. batchSize caps inputs per provider call;
// ratePerSec limits provider calls (0 disables pacing).
func NewAdapter(embedder ai.Embedder, batchSize int, ratePerSec float64, logger *slog.Logger) (*Adapter, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultProviderBatch
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	return &Adapter{
		embedder:  embedder,
		limiter:   limiter,
		batchSize: batchSize,
		logger:    logger,
	}, nil
}

// EmbedBatch embeds texts positionally: result[i] is the vector for
// texts[i], or nil when the provider returned nothing usable for that
// input. A vector of the wrong dimension is discarded as nil rather than
// stored partially.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += a.batchSize {
		end := min(start+a.batchSize, len(texts))

		vectors, err := a.embed(ctx, texts[start:end], "RETRIEVAL_DOCUMENT")
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		copy(results[start:], vectors)
	}

	return results, nil
}

// EmbedQuery embeds a single search query.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("query text is empty")
	}

	vectors, err := a.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if vectors[0] == nil {
		return nil, fmt.Errorf("empty embedding response")
	}
	return vectors[0], nil
}

func (a *Adapter) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	dim := VectorDimension
	resp, err := a.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: docs,
		Options: &genai.EmbedContentConfig{
			OutputDimensionality: &dim,
			TaskType:             taskType,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) == 0 {
			continue
		}
		if len(emb.Embedding) != int(VectorDimension) {
			a.logger.Warn("discarding embedding with unexpected dimension",
				"got", len(emb.Embedding), "want", VectorDimension)
			continue
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}
