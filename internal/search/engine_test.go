package search

import (
	"context"
	"errors"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/flyerbird/flyerbird/internal/adstore"
	"github.com/flyerbird/flyerbird/internal/testutil"
)

type fakeEngineStore struct {
	simHits  []*adstore.SearchHit
	simErr   error
	textHits []*adstore.SearchHit
	textErr  error

	simOpts   *adstore.SearchOpts
	simVec    *pgvector.Vector
	textQuery string
}

func (s *fakeEngineStore) SimilaritySearch(_ context.Context, vec pgvector.Vector, opts adstore.SearchOpts) ([]*adstore.SearchHit, error) {
	s.simVec = &vec
	s.simOpts = &opts
	if s.simErr != nil {
		return nil, s.simErr
	}
	return s.simHits, nil
}

func (s *fakeEngineStore) TextSearch(_ context.Context, query string, opts adstore.SearchOpts) ([]*adstore.SearchHit, error) {
	s.textQuery = query
	if s.textErr != nil {
		return nil, s.textErr
	}
	return s.textHits, nil
}

type fakeQueryEmbedder struct {
	vec      []float32
	err      error
	lastText string
	calls    int
}

func (e *fakeQueryEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.calls++
	e.lastText = text
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

// newTestEngine wires an Engine with a mock model answering every prompt
// with response.
func newTestEngine(t *testing.T, response string, store Store, embedder QueryEmbedder) *Engine {
	t.Helper()
	mock := testutil.NewMockLLM(response)
	classifier := newTestClassifier(t, mock)

	engine, err := NewEngine(classifier, embedder, store,
		Defaults{Limit: 50, Threshold: 0.5}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewEngine() unexpected error: %v", err)
	}
	return engine
}

func milkHit() *adstore.SearchHit {
	price := 1.49
	return &adstore.SearchHit{
		Product: adstore.Product{
			ID:       7,
			Name:     "Whole Milk 1L",
			Price:    &price,
			Category: "Dairy",
		},
		RetailerName: "FreshMart",
		Similarity:   0.91,
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	engine := newTestEngine(t, `{"type": "CHAT", "message": "hi", "terms": ""}`,
		&fakeEngineStore{}, &fakeQueryEmbedder{})

	for _, query := range []string{"", "   ", "\n\t"} {
		if _, err := engine.Search(context.Background(), Request{Query: query}); !errors.Is(err, ErrEmptyQuery) {
			t.Fatalf("Search(%q) error = %v, want ErrEmptyQuery", query, err)
		}
	}
}

func TestSearchChatVerdict(t *testing.T) {
	embedder := &fakeQueryEmbedder{}
	engine := newTestEngine(t, `{"type": "CHAT", "message": "Hello! Ask me about deals.", "terms": ""}`,
		&fakeEngineStore{}, embedder)

	resp, err := engine.Search(context.Background(), Request{Query: "hi there"})
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if resp.QueryType != QueryTypeChat {
		t.Fatalf("query type = %q, want %q", resp.QueryType, QueryTypeChat)
	}
	if resp.LLMMessage != "Hello! Ask me about deals." {
		t.Fatalf("llm message = %q", resp.LLMMessage)
	}
	if resp.Products == nil || len(resp.Products) != 0 {
		t.Fatalf("products = %v, want empty non-nil slice", resp.Products)
	}
	if embedder.calls != 0 {
		t.Fatal("chat verdict must not reach the embedder")
	}
}

func TestSearchEmbedsExpandedTerms(t *testing.T) {
	store := &fakeEngineStore{simHits: []*adstore.SearchHit{milkHit()}}
	embedder := &fakeQueryEmbedder{vec: []float32{0.1, 0.2}}
	engine := newTestEngine(t, `{"type": "SEARCH", "message": "Milk deals.", "terms": "milk, whole milk, dairy"}`,
		store, embedder)

	resp, err := engine.Search(context.Background(), Request{Query: "cheap milk"})
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}

	if embedder.lastText != "milk, whole milk, dairy" {
		t.Fatalf("embedded text = %q, want the expanded terms", embedder.lastText)
	}
	if resp.QueryType != QueryTypeSearch {
		t.Fatalf("query type = %q, want %q", resp.QueryType, QueryTypeSearch)
	}
	if resp.Query != "cheap milk" || resp.Terms != "milk, whole milk, dairy" {
		t.Fatalf("echo fields wrong: query=%q terms=%q", resp.Query, resp.Terms)
	}
	if resp.ResultsCount != 1 || len(resp.Products) != 1 {
		t.Fatalf("results count = %d, products = %d", resp.ResultsCount, len(resp.Products))
	}

	p := resp.Products[0]
	if p.ID != 7 || p.Name != "Whole Milk 1L" || p.RetailerName != "FreshMart" {
		t.Fatalf("product mapping wrong: %+v", p)
	}
	if p.Similarity != 0.91 {
		t.Fatalf("similarity = %v, want 0.91", p.Similarity)
	}
	if p.WeeklyAdPeriod != string(adstore.PeriodCurrent) {
		t.Fatalf("ad period = %q, want current", p.WeeklyAdPeriod)
	}
}

func TestSearchEmbedFailureReturnsEmpty(t *testing.T) {
	store := &fakeEngineStore{simHits: []*adstore.SearchHit{milkHit()}}
	embedder := &fakeQueryEmbedder{err: errors.New("quota exhausted")}
	engine := newTestEngine(t, `{"type": "SEARCH", "message": "Milk deals.", "terms": "milk"}`,
		store, embedder)

	resp, err := engine.Search(context.Background(), Request{Query: "milk"})
	if err != nil {
		t.Fatalf("Search() error = %v, want graceful degradation", err)
	}
	if resp.ResultsCount != 0 || len(resp.Products) != 0 {
		t.Fatalf("expected empty envelope, got %d products", len(resp.Products))
	}
	if store.simOpts != nil {
		t.Fatal("store must not be queried without a vector")
	}
}

func TestSearchFallsBackToFullText(t *testing.T) {
	store := &fakeEngineStore{
		simErr:   errors.New("vector index unavailable"),
		textHits: []*adstore.SearchHit{milkHit()},
	}
	embedder := &fakeQueryEmbedder{vec: []float32{0.5}}
	engine := newTestEngine(t, `{"type": "SEARCH", "message": "Milk deals.", "terms": "milk, dairy"}`,
		store, embedder)

	resp, err := engine.Search(context.Background(), Request{Query: "cheap milk"})
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	// The fallback matches the user's words, not the model's expansion.
	if store.textQuery != "cheap milk" {
		t.Fatalf("fallback query = %q, want the raw query", store.textQuery)
	}
	if resp.ResultsCount != 1 {
		t.Fatalf("results count = %d, want 1", resp.ResultsCount)
	}
}

func TestSearchBothPathsFailReturnsEmpty(t *testing.T) {
	store := &fakeEngineStore{
		simErr:  errors.New("vector down"),
		textErr: errors.New("fts down"),
	}
	engine := newTestEngine(t, `{"type": "SEARCH", "message": "Milk deals.", "terms": "milk"}`,
		store, &fakeQueryEmbedder{vec: []float32{0.5}})

	resp, err := engine.Search(context.Background(), Request{Query: "milk"})
	if err != nil {
		t.Fatalf("Search() error = %v, want graceful degradation", err)
	}
	if resp.ResultsCount != 0 || len(resp.Products) != 0 {
		t.Fatalf("expected empty envelope, got %d products", len(resp.Products))
	}
}

func TestBuildOpts(t *testing.T) {
	engine := newTestEngine(t, `{"type": "CHAT", "message": "x", "terms": ""}`,
		&fakeEngineStore{}, &fakeQueryEmbedder{})

	low := 0.2
	tests := []struct {
		name string
		req  Request
		want adstore.SearchOpts
	}{
		{
			name: "all defaults",
			req:  Request{},
			want: adstore.SearchOpts{Period: adstore.PeriodCurrent, Threshold: 0.5, Limit: 50},
		},
		{
			name: "explicit values kept",
			req:  Request{AdPeriod: adstore.PeriodPrevious, Limit: 10, Threshold: &low},
			want: adstore.SearchOpts{Period: adstore.PeriodPrevious, Threshold: 0.2, Limit: 10},
		},
		{
			name: "limit above cap clamped",
			req:  Request{Limit: 9999},
			want: adstore.SearchOpts{Period: adstore.PeriodCurrent, Threshold: 0.5, Limit: 50},
		},
		{
			name: "bogus period replaced",
			req:  Request{AdPeriod: adstore.AdPeriod("someday")},
			want: adstore.SearchOpts{Period: adstore.PeriodCurrent, Threshold: 0.5, Limit: 50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.buildOpts(tt.req); got != tt.want {
				t.Fatalf("buildOpts() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
