package adstore

import (
	"errors"
	"time"
)

// AdPeriod is the lifecycle state of a weekly ad. Each retailer has at most
// one current ad; rotation demotes previous to archived before demoting
// current to previous.
type AdPeriod string

const (
	PeriodCurrent  AdPeriod = "current"
	PeriodPrevious AdPeriod = "previous"
	PeriodArchived AdPeriod = "archived"
)

// Valid reports whether p is one of the known lifecycle states.
func (p AdPeriod) Valid() bool {
	switch p {
	case PeriodCurrent, PeriodPrevious, PeriodArchived:
		return true
	}
	return false
}

var (
	// ErrRetailerNotFound indicates no retailer matches the given name.
	ErrRetailerNotFound = errors.New("retailer not found")

	// ErrRetailerExists indicates a retailer with the same name already
	// exists (names are matched case-insensitively).
	ErrRetailerExists = errors.New("retailer already exists")

	// ErrAdAlreadyIngested indicates a weekly ad with the same filename
	// was ingested before. Callers treat this as an idempotent no-op.
	ErrAdAlreadyIngested = errors.New("weekly ad already ingested")
)

// Retailer is a store chain whose weekly ads are tracked.
type Retailer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Website   *string   `json:"website,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WeeklyAd is one ingested ad cycle for a retailer.
type WeeklyAd struct {
	ID            int64
	RetailerID    int64
	ValidFrom     time.Time
	ValidTo       time.Time
	DateProcessed *time.Time
	Filename      string
	AdPeriod      AdPeriod
	CreatedAt     time.Time
}

// AdInput carries the weekly-ad envelope fields for ingestion.
type AdInput struct {
	Filename      string
	ValidFrom     time.Time
	ValidTo       time.Time
	DateProcessed *time.Time
}

// Product is one offer from a weekly ad.
type Product struct {
	ID               int64
	WeeklyAdID       int64
	RetailerID       int64
	Name             string
	Price            *float64
	OriginalPrice    *float64
	Unit             string
	Description      string
	Category         string
	PromotionDetails string
	PromotionFrom    *time.Time
	PromotionTo      *time.Time
	IsFrontpage      bool
	Emoji            string
	GenTerms         string
	HasEmbedding     bool
	CreatedAt        time.Time
}

// ProductInput carries a single product for ingestion.
type ProductInput struct {
	Name             string
	Price            *float64
	OriginalPrice    *float64
	Unit             string
	Description      string
	Category         string
	PromotionDetails string
	PromotionFrom    *time.Time
	PromotionTo      *time.Time
	IsFrontpage      bool
	Emoji            string
	GenTerms         string
}

// SearchHit is one ranked product with its retailer and ad window attached.
type SearchHit struct {
	Product      Product
	RetailerName string
	ValidFrom    time.Time
	ValidTo      time.Time
	Similarity   float64
}

// SearchOpts tunes similarity and full-text searches.
type SearchOpts struct {
	Period    AdPeriod
	Threshold float64
	Limit     int
}
