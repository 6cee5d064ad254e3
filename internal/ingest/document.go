// Package ingest applies extraction documents to the ad store: strict
// boundary parsing, per-document atomic ingestion with lifecycle rotation,
// and a directory runner with file locking.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/flyerbird/flyerbird/internal/adstore"
)

var (
	// ErrInvalidDocument indicates the document failed schema or semantic
	// validation. An invalid document never partially flows.
	ErrInvalidDocument = errors.New("invalid extraction document")
)

// dateLayout is the wire format for all document dates.
const dateLayout = "2006-01-02"

// rawDocument mirrors the upstream extraction JSON. All validation happens
// against this shape before anything is converted to store types.
type rawDocument struct {
	Retailer string       `json:"retailer"`
	WeeklyAd rawWeeklyAd  `json:"weekly_ad"`
	Products []rawProduct `json:"products"`
}

type rawWeeklyAd struct {
	ValidFrom     string  `json:"valid_from"`
	ValidTo       string  `json:"valid_to"`
	DateProcessed *string `json:"date_processed,omitempty"`
	Filename      *string `json:"filename,omitempty"`
}

type rawProduct struct {
	Name             string   `json:"name"`
	Price            float64  `json:"price"`
	Unit             string   `json:"unit"`
	Category         string   `json:"category"`
	PromotionDetails string   `json:"promotion_details"`
	OriginalPrice    *float64 `json:"original_price,omitempty"`
	PromotionFrom    *string  `json:"promotion_from,omitempty"`
	PromotionTo      *string  `json:"promotion_to,omitempty"`
	IsFrontpage      *bool    `json:"is_frontpage,omitempty"`
	Emoji            *string  `json:"emoji,omitempty"`
	GenTerms         *string  `json:"gen_terms,omitempty"`
}

// documentSchema validates the raw JSON shape before typed decoding.
var documentSchema = mustDocumentSchema()

func mustDocumentSchema() *jsonschema.Resolved {
	schema, err := jsonschema.For[rawDocument](nil)
	if err != nil {
		panic(fmt.Sprintf("BUG: building document schema: %v", err))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("BUG: resolving document schema: %v", err))
	}
	return resolved
}

// Document is a validated extraction document ready for ingestion.
type Document struct {
	Retailer string
	Ad       adstore.AdInput
	Products []adstore.ProductInput
}

// ParseDocument validates raw extraction JSON and converts it to a typed
// Document. sourceName is the file's base name; it becomes the weekly ad's
// filename (the ingestion idempotency key) when the document carries none.
//
// All failures wrap ErrInvalidDocument.
func ParseDocument(data []byte, sourceName string) (*Document, error) {
	var shape any
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("%w: parsing JSON: %w", ErrInvalidDocument, err)
	}
	if err := documentSchema.Validate(shape); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding document: %w", ErrInvalidDocument, err)
	}

	if raw.Retailer == "" {
		return nil, fmt.Errorf("%w: retailer is required", ErrInvalidDocument)
	}
	if len(raw.Products) == 0 {
		return nil, fmt.Errorf("%w: at least one product is required", ErrInvalidDocument)
	}

	validFrom, err := parseDate(raw.WeeklyAd.ValidFrom)
	if err != nil {
		return nil, fmt.Errorf("%w: valid_from: %w", ErrInvalidDocument, err)
	}
	validTo, err := parseDate(raw.WeeklyAd.ValidTo)
	if err != nil {
		return nil, fmt.Errorf("%w: valid_to: %w", ErrInvalidDocument, err)
	}
	if validFrom.After(validTo) {
		return nil, fmt.Errorf("%w: valid_from %s after valid_to %s",
			ErrInvalidDocument, raw.WeeklyAd.ValidFrom, raw.WeeklyAd.ValidTo)
	}

	dateProcessed, err := parseOptionalDate(raw.WeeklyAd.DateProcessed)
	if err != nil {
		return nil, fmt.Errorf("%w: date_processed: %w", ErrInvalidDocument, err)
	}

	filename := sourceName
	if raw.WeeklyAd.Filename != nil && *raw.WeeklyAd.Filename != "" {
		filename = *raw.WeeklyAd.Filename
	}
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidDocument)
	}

	doc := &Document{
		Retailer: raw.Retailer,
		Ad: adstore.AdInput{
			Filename:      filename,
			ValidFrom:     validFrom,
			ValidTo:       validTo,
			DateProcessed: dateProcessed,
		},
		Products: make([]adstore.ProductInput, 0, len(raw.Products)),
	}

	for i, p := range raw.Products {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: product %d: name is required", ErrInvalidDocument, i)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("%w: product %d: negative price %v", ErrInvalidDocument, i, p.Price)
		}
		promoFrom, err := parseOptionalDate(p.PromotionFrom)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d: promotion_from: %w", ErrInvalidDocument, i, err)
		}
		promoTo, err := parseOptionalDate(p.PromotionTo)
		if err != nil {
			return nil, fmt.Errorf("%w: product %d: promotion_to: %w", ErrInvalidDocument, i, err)
		}

		price := p.Price
		doc.Products = append(doc.Products, adstore.ProductInput{
			Name:             p.Name,
			Price:            &price,
			OriginalPrice:    p.OriginalPrice,
			Unit:             p.Unit,
			Category:         p.Category,
			PromotionDetails: p.PromotionDetails,
			PromotionFrom:    promoFrom,
			PromotionTo:      promoTo,
			IsFrontpage:      p.IsFrontpage != nil && *p.IsFrontpage,
			Emoji:            deref(p.Emoji),
			GenTerms:         deref(p.GenTerms),
		})
	}

	return doc, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseDate(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
