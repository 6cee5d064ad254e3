package ingest

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

const validDoc = `{
	"retailer": "Edeka",
	"weekly_ad": {
		"valid_from": "2026-08-24",
		"valid_to": "2026-08-30",
		"date_processed": "2026-08-23",
		"filename": "edeka_w35.json"
	},
	"products": [
		{
			"name": "Whole Milk",
			"price": 1.19,
			"unit": "1L",
			"category": "Dairy",
			"promotion_details": "3 for 2",
			"original_price": 1.49,
			"promotion_from": "2026-08-24",
			"promotion_to": "2026-08-30",
			"is_frontpage": true,
			"emoji": "🥛",
			"gen_terms": "milk dairy fresh breakfast"
		},
		{
			"name": "Rye Bread",
			"price": 2.49,
			"unit": "500g",
			"category": "Bakery",
			"promotion_details": ""
		}
	]
}`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(validDoc), "source.json")
	if err != nil {
		t.Fatalf("ParseDocument() unexpected error: %v", err)
	}

	if doc.Retailer != "Edeka" {
		t.Errorf("Retailer = %q, want Edeka", doc.Retailer)
	}
	if doc.Ad.Filename != "edeka_w35.json" {
		t.Errorf("Filename = %q, want edeka_w35.json (document value wins over source name)", doc.Ad.Filename)
	}
	wantFrom := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	if !doc.Ad.ValidFrom.Equal(wantFrom) {
		t.Errorf("ValidFrom = %v, want %v", doc.Ad.ValidFrom, wantFrom)
	}
	if doc.Ad.DateProcessed == nil {
		t.Error("DateProcessed = nil, want 2026-08-23")
	}
	if len(doc.Products) != 2 {
		t.Fatalf("got %d products, want 2", len(doc.Products))
	}

	milk := doc.Products[0]
	if milk.Name != "Whole Milk" || milk.Price == nil || *milk.Price != 1.19 {
		t.Errorf("milk = %+v, want Whole Milk at 1.19", milk)
	}
	if milk.OriginalPrice == nil || *milk.OriginalPrice != 1.49 {
		t.Errorf("milk original price = %v, want 1.49", milk.OriginalPrice)
	}
	if !milk.IsFrontpage {
		t.Error("milk IsFrontpage = false, want true")
	}
	if milk.Emoji != "🥛" {
		t.Errorf("milk emoji = %q, want 🥛", milk.Emoji)
	}
	if milk.GenTerms != "milk dairy fresh breakfast" {
		t.Errorf("milk gen_terms = %q", milk.GenTerms)
	}

	bread := doc.Products[1]
	if bread.OriginalPrice != nil || bread.Emoji != "" || bread.GenTerms != "" {
		t.Errorf("bread optional fields not empty: %+v", bread)
	}
	if bread.IsFrontpage {
		t.Error("bread IsFrontpage = true, want false")
	}
}

func TestParseDocumentFilenameFallsBackToSource(t *testing.T) {
	doc := `{
		"retailer": "Aldi",
		"weekly_ad": {"valid_from": "2026-08-24", "valid_to": "2026-08-30"},
		"products": [{"name": "Eggs", "price": 3.49, "unit": "10", "category": "Dairy", "promotion_details": ""}]
	}`

	parsed, err := ParseDocument([]byte(doc), "aldi_w35.json")
	if err != nil {
		t.Fatalf("ParseDocument() unexpected error: %v", err)
	}
	if parsed.Ad.Filename != "aldi_w35.json" {
		t.Fatalf("Filename = %q, want source name aldi_w35.json", parsed.Ad.Filename)
	}
}

func TestParseDocumentInvalid(t *testing.T) {
	const skeleton = `{
		"retailer": %s,
		"weekly_ad": {"valid_from": %s, "valid_to": %s},
		"products": %s
	}`
	okProducts := `[{"name": "Eggs", "price": 3.49, "unit": "10", "category": "Dairy", "promotion_details": ""}]`

	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "malformed JSON",
			doc:  `{"retailer": "Aldi"`,
		},
		{
			name: "empty retailer",
			doc:  docf(skeleton, `""`, `"2026-08-24"`, `"2026-08-30"`, okProducts),
		},
		{
			name: "no products",
			doc:  docf(skeleton, `"Aldi"`, `"2026-08-24"`, `"2026-08-30"`, `[]`),
		},
		{
			name: "bad date format",
			doc:  docf(skeleton, `"Aldi"`, `"24.08.2026"`, `"2026-08-30"`, okProducts),
		},
		{
			name: "window inverted",
			doc:  docf(skeleton, `"Aldi"`, `"2026-08-30"`, `"2026-08-24"`, okProducts),
		},
		{
			name: "product without name",
			doc: docf(skeleton, `"Aldi"`, `"2026-08-24"`, `"2026-08-30"`,
				`[{"name": "", "price": 3.49, "unit": "", "category": "", "promotion_details": ""}]`),
		},
		{
			name: "negative price",
			doc: docf(skeleton, `"Aldi"`, `"2026-08-24"`, `"2026-08-30"`,
				`[{"name": "Eggs", "price": -1, "unit": "", "category": "", "promotion_details": ""}]`),
		},
		{
			name: "bad promotion date",
			doc: docf(skeleton, `"Aldi"`, `"2026-08-24"`, `"2026-08-30"`,
				`[{"name": "Eggs", "price": 3.49, "unit": "", "category": "", "promotion_details": "", "promotion_from": "next week"}]`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.doc), "source.json")
			if !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("ParseDocument() = %v, want %v", err, ErrInvalidDocument)
			}
		})
	}
}

func TestParseDocumentEmptyFilename(t *testing.T) {
	doc := `{
		"retailer": "Aldi",
		"weekly_ad": {"valid_from": "2026-08-24", "valid_to": "2026-08-30"},
		"products": [{"name": "Eggs", "price": 3.49, "unit": "", "category": "", "promotion_details": ""}]
	}`

	_, err := ParseDocument([]byte(doc), "")
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("ParseDocument() with no filename anywhere = %v, want %v", err, ErrInvalidDocument)
	}
}

func docf(skeleton, retailer, from, to, products string) string {
	return fmt.Sprintf(skeleton, retailer, from, to, products)
}
