package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/osdr-rag-go/internal/filter"
	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/ingestion"
	"github.com/54b3r/osdr-rag-go/internal/logging"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeRetriever implements the retriever interface for handler tests.
type fakeRetriever struct {
	mu sync.Mutex

	queryResp  *retrieval.Response
	queryErr   error
	lastQuery  retrieval.Request
	rebuildRes *retrieval.RebuildResult
	rebuildErr error
	lastOpts   retrieval.RebuildOptions
	items      map[string]index.Item
	lastSpec   filter.Spec
	lastLimit  int
	stats      *retrieval.Stats
	files      []osdr.File
	filesErr   error
}

func (f *fakeRetriever) Query(_ context.Context, req retrieval.Request) (*retrieval.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = req
	return f.queryResp, f.queryErr
}

func (f *fakeRetriever) Rebuild(_ context.Context, opts retrieval.RebuildOptions) (*retrieval.RebuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	return f.rebuildRes, f.rebuildErr
}

func (f *fakeRetriever) GetItem(_ context.Context, id string) (index.Item, error) {
	it, ok := f.items[id]
	if !ok {
		return index.Item{}, fmt.Errorf("%w: %s", index.ErrNotFound, id)
	}
	return it, nil
}

func (f *fakeRetriever) ListItems(_ context.Context, spec filter.Spec, limit int) (*retrieval.ItemList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSpec = spec
	f.lastLimit = limit
	out := []index.Item{}
	for _, it := range f.items {
		if spec.Matches(it.Meta) {
			out = append(out, it)
		}
	}
	return &retrieval.ItemList{Papers: out, Total: len(out), Returned: len(out)}, nil
}

func (f *fakeRetriever) Stats(context.Context) (*retrieval.Stats, error) {
	if f.stats == nil {
		return &retrieval.Stats{Programs: []string{}, Years: []string{}}, nil
	}
	return f.stats, nil
}

func (f *fakeRetriever) StudyFiles(_ context.Context, id string, _ int) ([]osdr.File, error) {
	if f.filesErr != nil {
		return nil, f.filesErr
	}
	return f.files, nil
}

// newTestServer builds a Server around svc with an isolated metrics registry.
func newTestServer(t *testing.T, svc retriever, mutate ...func(*Config)) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := &Config{
		Logger:          logging.Discard(),
		MetricsRegistry: reg,
		MetricsGatherer: reg,
		RateLimit:       1000,
		RateBurst:       1000,
	}
	for _, m := range mutate {
		m(cfg)
	}
	s, err := New(svc, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, reg
}

// do sends a request through the full middleware stack.
func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}

func paperItem(id, program string) index.Item {
	return index.Item{ID: id, Meta: index.Metadata{ID: id, Title: "t " + id, Program: program}}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_NilRetriever(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &Config{}); err == nil {
		t.Fatal("expected error for nil retriever")
	}
}

// ---------------------------------------------------------------------------
// POST /api/query
// ---------------------------------------------------------------------------

func TestHandleQuery_OK(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{queryResp: &retrieval.Response{
		Summary:    "bones shrink",
		Papers:     []retrieval.Result{{ID: "csv-0", Score: 0.5}},
		TotalFound: 1,
		BuildID:    "b-1",
	}}
	hist, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })
	s, _ := newTestServer(t, fake, func(c *Config) { c.History = hist })

	w := do(s, http.MethodPost, "/api/query",
		`{"query":"bone loss","top_k":3,"filters":{"program":["ISS","Shuttle"]}}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[retrieval.Response](t, w)
	if resp.Summary != "bones shrink" || len(resp.Papers) != 1 || resp.Papers[0].ID != "csv-0" {
		t.Errorf("unexpected response: %+v", resp)
	}

	if fake.lastQuery.Query != "bone loss" || fake.lastQuery.TopK != 3 {
		t.Errorf("request not forwarded: %+v", fake.lastQuery)
	}
	if got := fake.lastQuery.Filters["program"]; len(got) != 2 || got[0] != "iss" {
		t.Errorf("filters not parsed: %v", fake.lastQuery.Filters)
	}

	entries, err := hist.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Subject != "bone loss" || entries[0].BuildID != "b-1" {
		t.Errorf("query not recorded in history: %+v", entries)
	}
}

func TestHandleQuery_DegradedIs200(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{queryResp: &retrieval.Response{
		Summary:  "Search failed: embedder down",
		Papers:   []retrieval.Result{},
		Degraded: true,
	}}
	s, _ := newTestServer(t, fake)

	w := do(s, http.MethodPost, "/api/query", `{"query":"x"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decodeBody[retrieval.Response](t, w); !resp.Degraded {
		t.Error("expected degraded flag in body")
	}
}

func TestHandleQuery_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid json", `{"query":`, nil, http.StatusBadRequest},
		{"empty query", `{"query":""}`, retrieval.ErrEmptyQuery, http.StatusBadRequest},
		{"not built", `{"query":"x"}`, retrieval.ErrIndexNotBuilt, http.StatusBadRequest},
		{"internal", `{"query":"x"}`, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestServer(t, &fakeRetriever{queryErr: tc.err})

			w := do(s, http.MethodPost, "/api/query", tc.body)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if body := decodeBody[errorResponse](t, w); body.Error == "" {
				t.Error("expected error message in body")
			}
		})
	}
}

func TestHandleQuery_RequiresAuth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeRetriever{queryResp: &retrieval.Response{}}, func(c *Config) { c.APIKey = "secret" })

	if w := do(s, http.MethodPost, "/api/query", `{"query":"x"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"x"}`))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}

	// Browsing stays public.
	if w := do(s, http.MethodGet, "/api/stats", ""); w.Code != http.StatusOK {
		t.Errorf("expected public stats, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/rebuild
// ---------------------------------------------------------------------------

func TestHandleRebuild_DefaultsToAllSources(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{rebuildRes: &retrieval.RebuildResult{Status: "ok", Indexed: 12, BuildID: "b-2"}}
	s, _ := newTestServer(t, fake)

	w := do(s, http.MethodPost, "/api/rebuild", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !fake.lastOpts.IncludeCSV || !fake.lastOpts.IncludeRemote {
		t.Errorf("expected both sources enabled, got %+v", fake.lastOpts)
	}
	if res := decodeBody[retrieval.RebuildResult](t, w); res.Indexed != 12 {
		t.Errorf("indexed: got %d", res.Indexed)
	}
}

func TestHandleRebuild_Options(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{rebuildRes: &retrieval.RebuildResult{Status: "ok"}}
	s, _ := newTestServer(t, fake)

	w := do(s, http.MethodPost, "/api/rebuild", `{"limit":25,"include_osdr":false,"term":"mice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	want := retrieval.RebuildOptions{Limit: 25, IncludeCSV: true, IncludeRemote: false, Term: "mice"}
	if fake.lastOpts != want {
		t.Errorf("options: got %+v, want %+v", fake.lastOpts, want)
	}
}

func TestHandleRebuild_EmptyCorpus(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{rebuildErr: fmt.Errorf("retrieval: rebuild: %w", ingestion.ErrEmptyCorpus)}
	s, _ := newTestServer(t, fake)

	if w := do(s, http.MethodPost, "/api/rebuild", `{}`); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Browsing
// ---------------------------------------------------------------------------

func TestHandlePapers_FiltersFromQuery(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{items: map[string]index.Item{
		"csv-0": paperItem("csv-0", "ISS"),
		"csv-1": paperItem("csv-1", "Artemis"),
	}}
	s, _ := newTestServer(t, fake)

	w := do(s, http.MethodGet, "/api/papers?limit=10&program=iss", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list := decodeBody[retrieval.ItemList](t, w)
	if list.Returned != 1 || list.Papers[0].ID != "csv-0" {
		t.Errorf("unexpected list: %+v", list)
	}
	if fake.lastLimit != 10 {
		t.Errorf("limit: got %d", fake.lastLimit)
	}
	if _, ok := fake.lastSpec["limit"]; ok {
		t.Error("limit must not be treated as a filter")
	}
}

func TestHandlePapers_BadLimit(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeRetriever{})
	if w := do(s, http.MethodGet, "/api/papers?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandlePaper(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{items: map[string]index.Item{"osdr-48": paperItem("osdr-48", "ISS")}}
	s, _ := newTestServer(t, fake)

	w := do(s, http.MethodGet, "/api/papers/osdr-48", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if it := decodeBody[index.Item](t, w); it.ID != "osdr-48" {
		t.Errorf("id: got %q", it.ID)
	}

	if w := do(s, http.MethodGet, "/api/papers/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandlePaperFiles(t *testing.T) {
	t.Parallel()

	fake := &fakeRetriever{files: []osdr.File{{Name: "a.csv", DownloadURL: "https://osdr.nasa.gov/a.csv"}}}
	s, _ := newTestServer(t, fake)

	w := do(s, http.MethodGet, "/api/papers/osdr-48/files?limit=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decodeBody[filesResponse](t, w); resp.ID != "osdr-48" || len(resp.Files) != 1 {
		t.Errorf("unexpected body: %+v", resp)
	}

	fake.filesErr = fmt.Errorf("%w: csv-0", retrieval.ErrNotAStudy)
	if w := do(s, http.MethodGet, "/api/papers/csv-0/files", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-study, got %d", w.Code)
	}

	fake.filesErr = fmt.Errorf("%w: 503", osdr.ErrUnexpectedStatus)
	if w := do(s, http.MethodGet, "/api/papers/osdr-48/files", ""); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for upstream failure, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	t.Parallel()

	built := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fake := &fakeRetriever{stats: &retrieval.Stats{
		TotalPapers: 3, Programs: []string{"ISS"}, Years: []string{"2019"}, BuildID: "b-3", BuiltAt: &built,
	}}
	s, _ := newTestServer(t, fake)

	w := do(s, http.MethodGet, "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if st := decodeBody[retrieval.Stats](t, w); st.TotalPapers != 3 || st.BuildID != "b-3" {
		t.Errorf("unexpected stats: %+v", st)
	}
}

// ---------------------------------------------------------------------------
// GET /api/history
// ---------------------------------------------------------------------------

func TestHandleHistory(t *testing.T) {
	t.Parallel()

	hist, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })
	for _, q := range []string{"a", "b", "c"} {
		if err := hist.RecordQuery(context.Background(), store.Query{Text: q}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	s, _ := newTestServer(t, &fakeRetriever{}, func(c *Config) { c.History = hist })

	w := do(s, http.MethodGet, "/api/history?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeBody[historyResponse](t, w)
	if len(resp.Entries) != 2 || resp.Entries[0].Subject != "c" {
		t.Errorf("unexpected entries: %+v", resp.Entries)
	}
}

func TestHandleHistory_Disabled(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeRetriever{})
	if w := do(s, http.MethodGet, "/api/history", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{retrieval.ErrIndexNotBuilt, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", index.ErrNotFound), http.StatusNotFound},
		{ingestion.ErrEmptyCorpus, http.StatusUnprocessableEntity},
		{retrieval.ErrEmptyQuery, http.StatusBadRequest},
		{retrieval.ErrNotAStudy, http.StatusBadRequest},
		{osdr.ErrUnexpectedStatus, http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
