package search

import (
	"errors"
	"time"

	"github.com/flyerbird/flyerbird/internal/adstore"
)

// ErrEmptyQuery indicates a search request with no query text.
var ErrEmptyQuery = errors.New("query is empty")

// QueryType tags the envelope: a conversational reply or a ranked result
// list, never both ambiguously.
type QueryType string

const (
	QueryTypeChat   QueryType = "CHAT_RESPONSE"
	QueryTypeSearch QueryType = "SEARCH_RESULT"
)

// Turn is one prior exchange supplied as conversational context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a search invocation. Zero values fall back to the engine's
// configured defaults.
type Request struct {
	Query     string
	History   []Turn
	AdPeriod  adstore.AdPeriod
	Limit     int
	Threshold *float64
}

// Response is the search envelope.
type Response struct {
	QueryType    QueryType       `json:"query_type"`
	LLMMessage   string          `json:"llm_message,omitempty"`
	Query        string          `json:"query"`
	Terms        string          `json:"terms,omitempty"`
	ResultsCount int             `json:"results_count"`
	Products     []ProductResult `json:"products"`
}

// ProductResult is a ranked product enriched with its retailer and ad
// window.
type ProductResult struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Price            *float64   `json:"price"`
	OriginalPrice    *float64   `json:"original_price,omitempty"`
	Unit             string     `json:"unit,omitempty"`
	Description      string     `json:"description,omitempty"`
	Category         string     `json:"category,omitempty"`
	PromotionDetails string     `json:"promotion_details,omitempty"`
	PromotionFrom    *time.Time `json:"promotion_from,omitempty"`
	PromotionTo      *time.Time `json:"promotion_to,omitempty"`
	IsFrontpage      bool       `json:"is_frontpage"`
	Emoji            string     `json:"emoji,omitempty"`
	RetailerName     string     `json:"retailer_name"`
	WeeklyAdFrom     time.Time  `json:"weekly_ad_valid_from"`
	WeeklyAdTo       time.Time  `json:"weekly_ad_valid_to"`
	WeeklyAdPeriod   string     `json:"weekly_ad_ad_period"`
	Similarity       float64    `json:"similarity"`
}

// resultFromHit converts a store hit into the response shape.
func resultFromHit(h *adstore.SearchHit, period adstore.AdPeriod) ProductResult {
	return ProductResult{
		ID:               h.Product.ID,
		Name:             h.Product.Name,
		Price:            h.Product.Price,
		OriginalPrice:    h.Product.OriginalPrice,
		Unit:             h.Product.Unit,
		Description:      h.Product.Description,
		Category:         h.Product.Category,
		PromotionDetails: h.Product.PromotionDetails,
		PromotionFrom:    h.Product.PromotionFrom,
		PromotionTo:      h.Product.PromotionTo,
		IsFrontpage:      h.Product.IsFrontpage,
		Emoji:            h.Product.Emoji,
		RetailerName:     h.RetailerName,
		WeeklyAdFrom:     h.ValidFrom,
		WeeklyAdTo:       h.ValidTo,
		WeeklyAdPeriod:   string(period),
		Similarity:       h.Similarity,
	}
}
