package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"github.com/flyerbird/flyerbird/internal/adstore"
)

// Store is the slice of the ad store the pipeline needs.
type Store interface {
	AdExists(ctx context.Context, filename string) (bool, error)
	GetRetailerByName(ctx context.Context, name string) (*adstore.Retailer, error)
	IngestAd(ctx context.Context, retailerID int64, ad adstore.AdInput, products []adstore.ProductInput) (*adstore.WeeklyAd, error)
}

// Outcome classifies what happened to one document.
type Outcome int

const (
	// OutcomeIngested means a weekly ad and its products were persisted.
	OutcomeIngested Outcome = iota
	// OutcomeDuplicate means the filename was ingested before; no-op.
	OutcomeDuplicate
	// OutcomeUnknownRetailer means no registered retailer matches the
	// document; the document is skipped, not failed.
	OutcomeUnknownRetailer
)

// String implements fmt.Stringer for log output.
func (o Outcome) String() string {
	switch o {
	case OutcomeIngested:
		return "ingested"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUnknownRetailer:
		return "unknown_retailer"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Pipeline applies validated documents to the store.
type Pipeline struct {
	store  Store
	logger *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(store Store, logger *slog.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, logger: logger}, nil
}

// ProcessDocument ingests one document. Re-ingesting a filename that was
// already applied is a no-op, and a document for an unregistered retailer
// is skipped; neither is an error. Everything else either fully commits or
// fully rolls back inside the store.
func (p *Pipeline) ProcessDocument(ctx context.Context, doc *Document) (Outcome, error) {
	if doc == nil {
		return 0, fmt.Errorf("document is required")
	}

	// Cheap pre-check outside the transaction; the store re-checks under
	// the advisory lock.
	exists, err := p.store.AdExists(ctx, doc.Ad.Filename)
	if err != nil {
		return 0, fmt.Errorf("checking for existing ad: %w", err)
	}
	if exists {
		p.logger.Info("skipping already ingested ad", "filename", doc.Ad.Filename)
		return OutcomeDuplicate, nil
	}

	retailer, err := p.store.GetRetailerByName(ctx, doc.Retailer)
	if err != nil {
		if errors.Is(err, adstore.ErrRetailerNotFound) {
			p.logger.Warn("skipping document for unregistered retailer",
				"retailer", doc.Retailer, "filename", doc.Ad.Filename)
			return OutcomeUnknownRetailer, nil
		}
		return 0, fmt.Errorf("resolving retailer: %w", err)
	}

	// Odd emojis pass through unchanged; they only get flagged.
	for _, product := range doc.Products {
		if product.Emoji != "" && !isSingleGlyph(product.Emoji) {
			p.logger.Warn("product emoji is not a single glyph",
				"product", product.Name, "emoji", product.Emoji)
		}
	}

	if _, err := p.store.IngestAd(ctx, retailer.ID, doc.Ad, doc.Products); err != nil {
		if errors.Is(err, adstore.ErrAdAlreadyIngested) {
			p.logger.Info("skipping already ingested ad", "filename", doc.Ad.Filename)
			return OutcomeDuplicate, nil
		}
		return 0, fmt.Errorf("ingesting ad %q: %w", doc.Ad.Filename, err)
	}

	return OutcomeIngested, nil
}

// isSingleGlyph reports whether s renders as one emoji glyph. Grapheme
// cluster segmentation covers ZWJ sequences, variation selectors, skin
// tones, regional-indicator flags, and keycaps.
func isSingleGlyph(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	return uniseg.GraphemeClusterCount(s) == 1
}
