package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flyerbird/flyerbird/internal/adstore"
	"github.com/flyerbird/flyerbird/internal/embedding"
	"github.com/flyerbird/flyerbird/internal/ingest"
	"github.com/flyerbird/flyerbird/internal/jobs"
	"github.com/flyerbird/flyerbird/internal/search"
	"github.com/flyerbird/flyerbird/internal/testutil"
)

type fakeSearcher struct {
	resp *search.Response
	err  error
	last search.Request
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeRetailerStore struct {
	retailers []*adstore.Retailer
	createErr error
}

func (f *fakeRetailerStore) ListRetailers(context.Context) ([]*adstore.Retailer, error) {
	return f.retailers, nil
}

func (f *fakeRetailerStore) CreateRetailer(_ context.Context, name string, website *string) (*adstore.Retailer, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	r := &adstore.Retailer{ID: int64(len(f.retailers) + 1), Name: name, Website: website}
	f.retailers = append(f.retailers, r)
	return r, nil
}

type fakeIngestor struct {
	summary ingest.Summary
	err     error
	lastDir string
}

func (f *fakeIngestor) Run(_ context.Context, dir string) (ingest.Summary, error) {
	f.lastDir = dir
	return f.summary, f.err
}

type fakeEmbeddingRunner struct {
	report embedding.Report
	err    error
	calls  int
}

func (f *fakeEmbeddingRunner) Run(context.Context) (embedding.Report, error) {
	f.calls++
	return f.report, f.err
}

type serverDeps struct {
	searcher *fakeSearcher
	store    *fakeRetailerStore
	ingestor *fakeIngestor
	worker   *fakeEmbeddingRunner
	registry *jobs.Registry
}

func newTestServer(t *testing.T) (*Server, *serverDeps) {
	t.Helper()

	deps := &serverDeps{
		searcher: &fakeSearcher{resp: &search.Response{
			QueryType: search.QueryTypeSearch,
			Query:     "milk",
			Products:  []search.ProductResult{},
		}},
		store:    &fakeRetailerStore{},
		ingestor: &fakeIngestor{},
		worker:   &fakeEmbeddingRunner{},
		registry: jobs.NewRegistry(testutil.DiscardLogger()),
	}

	srv, err := NewServer(context.Background(), ServerConfig{
		Logger:    testutil.DiscardLogger(),
		Engine:    deps.searcher,
		Store:     deps.store,
		Registry:  deps.registry,
		Ingestor:  deps.ingestor,
		Worker:    deps.worker,
		IngestDir: "/var/lib/flyerbird/inbox",
		RateBurst: 1000,
	})
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}
	return srv, deps
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNewServerRequiresDeps(t *testing.T) {
	if _, err := NewServer(context.Background(), ServerConfig{}); err == nil {
		t.Fatal("NewServer() with no deps should fail")
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /ready with no pool = %d, want 200", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	srv, deps := newTestServer(t)

	threshold := 0.3
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", searchRequest{
		Query:     "milk",
		AdPeriod:  "previous",
		Limit:     5,
		Threshold: &threshold,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/search = %d, body %s", rec.Code, rec.Body.String())
	}

	got := deps.searcher.last
	if got.Query != "milk" || got.AdPeriod != adstore.PeriodPrevious || got.Limit != 5 {
		t.Fatalf("engine request = %+v", got)
	}
	if got.Threshold == nil || *got.Threshold != 0.3 {
		t.Fatal("threshold not forwarded")
	}

	resp := decodeBody[map[string]any](t, rec)
	if resp["query_type"] != string(search.QueryTypeSearch) {
		t.Fatalf("query_type = %v", resp["query_type"])
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", searchRequest{Query: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty query = %d, want 400", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/search",
		searchRequest{Query: strings.Repeat("x", maxSearchQueryLength+1)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversize query = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", rec2.Code)
	}
}

func TestSearchEndpointEngineFailure(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.searcher.err = errors.New("pool closed")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/search", searchRequest{Query: "milk"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("engine failure = %d, want 500", rec.Code)
	}

	body := decodeBody[errorBody](t, rec)
	if body.Error.Code != "search_failed" {
		t.Fatalf("error code = %q", body.Error.Code)
	}
}

// pollJob waits for the job to reach a terminal state via the HTTP surface.
func pollJob(t *testing.T, srv *Server, id string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/jobs/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /api/v1/jobs/%s = %d", id, rec.Code)
		}
		job := decodeBody[jobs.Job](t, rec)
		if job.Done() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", id)
	return jobs.Job{}
}

func TestIngestEndpoint(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.ingestor.summary = ingest.Summary{Ingested: 3, Duplicates: 1}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest", ingestRequest{Dir: "/tmp/ads"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/ingest = %d, body %s", rec.Code, rec.Body.String())
	}

	accepted := decodeBody[map[string]string](t, rec)
	id := accepted["job_id"]
	if id == "" {
		t.Fatal("no job_id in response")
	}

	job := pollJob(t, srv, id)
	if job.State != jobs.StateSucceeded {
		t.Fatalf("job state = %q, error = %q", job.State, job.Error)
	}
	if deps.ingestor.lastDir != "/tmp/ads" {
		t.Fatalf("ingest dir = %q, want request override", deps.ingestor.lastDir)
	}
}

func TestIngestEndpointDefaultDir(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/ingest = %d", rec.Code)
	}

	accepted := decodeBody[map[string]string](t, rec)
	pollJob(t, srv, accepted["job_id"])
	if deps.ingestor.lastDir != "/var/lib/flyerbird/inbox" {
		t.Fatalf("ingest dir = %q, want configured default", deps.ingestor.lastDir)
	}
}

func TestIngestEndpointFailureSurfacesInJob(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.ingestor.err = ingest.ErrAlreadyRunning

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/ingest = %d", rec.Code)
	}

	accepted := decodeBody[map[string]string](t, rec)
	job := pollJob(t, srv, accepted["job_id"])
	if job.State != jobs.StateFailed {
		t.Fatalf("job state = %q, want failed", job.State)
	}
	if !strings.Contains(job.Error, "already running") {
		t.Fatalf("job error = %q", job.Error)
	}
}

func TestEmbeddingsEndpoint(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.worker.report = embedding.Report{Batches: 2, Embedded: 150}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/embeddings/run", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/v1/embeddings/run = %d", rec.Code)
	}

	accepted := decodeBody[map[string]string](t, rec)
	job := pollJob(t, srv, accepted["job_id"])
	if job.State != jobs.StateSucceeded {
		t.Fatalf("job state = %q, error = %q", job.State, job.Error)
	}
	if deps.worker.calls != 1 {
		t.Fatalf("worker calls = %d, want 1", deps.worker.calls)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/jobs/not-a-real-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job = %d, want 404", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/embeddings/run", nil)
	accepted := decodeBody[map[string]string](t, rec)
	pollJob(t, srv, accepted["job_id"])

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/jobs = %d", rec.Code)
	}
	list := decodeBody[map[string]any](t, rec)
	if list["total"].(float64) != 1 {
		t.Fatalf("total = %v, want 1", list["total"])
	}
}

func TestRetailerEndpoints(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/retailers",
		createRetailerRequest{Name: "FreshMart"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/v1/retailers = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[adstore.Retailer](t, rec)
	if created.Name != "FreshMart" {
		t.Fatalf("created name = %q", created.Name)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/retailers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/retailers = %d", rec.Code)
	}
	list := decodeBody[map[string]any](t, rec)
	if list["total"].(float64) != 1 {
		t.Fatalf("total = %v, want 1", list["total"])
	}

	deps.store.createErr = adstore.ErrRetailerExists
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/retailers",
		createRetailerRequest{Name: "FreshMart"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate retailer = %d, want 409", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/retailers",
		createRetailerRequest{Name: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank name = %d, want 400", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/search", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/v1/search = %d, want 405", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/retailers", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("response missing X-Request-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/retailers", nil)
	req.Header.Set("X-Request-ID", "upstream-id-42")
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	if got := rec2.Header().Get("X-Request-ID"); got != "upstream-id-42" {
		t.Fatalf("X-Request-ID = %q, want upstream value reused", got)
	}
}
