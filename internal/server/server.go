// Package server implements the HTTP API of osdrrag: semantic query and
// rebuild, paper browsing, corpus statistics, history, health and metrics.
// The server is started by the `osdrrag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/osdr-rag-go/internal/filter"
	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/ingestion"
	"github.com/54b3r/osdr-rag-go/internal/logging"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// defaultHistoryLimit is the number of history entries returned when the
// request does not say.
const defaultHistoryLimit = 50

// New constructs a Server in front of svc.
func New(svc retriever, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		svc:     svc,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set, authentication disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stop

	// protected wraps a handler with auth and rate limiting.
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/query", s.instrument("query", protected(s.handleQuery)))
	mux.Handle("POST /api/rebuild", s.instrument("rebuild", protected(s.handleRebuild)))
	mux.Handle("GET /api/history", s.instrument("history", authMiddleware(cfg.APIKey, http.HandlerFunc(s.handleHistory))))
	mux.Handle("GET /api/papers", s.instrument("papers", http.HandlerFunc(s.handlePapers)))
	mux.Handle("GET /api/papers/{id}", s.instrument("paper", http.HandlerFunc(s.handlePaper)))
	mux.Handle("GET /api/papers/{id}/files", s.instrument("paper_files", rl.middleware(http.HandlerFunc(s.handlePaperFiles))))
	mux.Handle("GET /api/stats", s.instrument("stats", http.HandlerFunc(s.handleStats)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, corsMiddleware(cfg.CORSOrigins, mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	if st, err := s.svc.Stats(ctx); err == nil {
		s.metrics.indexItems.Set(float64(st.TotalPapers))
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleQuery handles POST /api/query. Degraded answers are still 200; the
// body carries the degraded flag and the explanation.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.metrics.queryRequestsTotal.WithLabelValues(outcomeError).Inc()
		writeError(w, r, err)
		return
	}

	start := time.Now()
	resp, err := s.svc.Query(r.Context(), retrieval.Request{
		Query:   req.Query,
		TopK:    req.TopK,
		Filters: filter.Parse(req.Filters),
	})
	elapsed := time.Since(start)

	outcome := queryOutcome(resp, err)
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if s.cfg.History != nil {
		if herr := s.cfg.History.RecordQuery(r.Context(), store.Query{
			Text:     req.Query,
			BuildID:  resp.BuildID,
			Results:  len(resp.Papers),
			Fallback: resp.Fallback,
			Degraded: resp.Degraded,
			Elapsed:  elapsed,
		}); herr != nil {
			logging.FromContext(r.Context()).Warn("history: record query failed", slog.Any("error", herr))
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// handleRebuild handles POST /api/rebuild. An empty body rebuilds from every
// source.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	opts := retrieval.RebuildOptions{
		Limit:         req.Limit,
		IncludeCSV:    req.IncludeCSV == nil || *req.IncludeCSV,
		IncludeRemote: req.IncludeOSDR == nil || *req.IncludeOSDR,
		Term:          req.Term,
	}

	start := time.Now()
	res, err := s.svc.Rebuild(r.Context(), opts)
	if err != nil {
		s.metrics.rebuildTotal.WithLabelValues(outcomeError).Inc()
		writeError(w, r, err)
		return
	}
	s.metrics.rebuildTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.indexItems.Set(float64(res.Indexed))

	if s.cfg.History != nil {
		if herr := s.cfg.History.RecordRebuild(r.Context(), store.Rebuild{
			BuildID: res.BuildID,
			Indexed: res.Indexed,
			Elapsed: time.Since(start),
		}); herr != nil {
			logging.FromContext(r.Context()).Warn("history: record rebuild failed", slog.Any("error", herr))
		}
	}

	writeJSON(w, r, http.StatusOK, res)
}

// handlePapers handles GET /api/papers. Every query parameter other than
// limit is a filter; repeated parameters are alternatives.
func (s *Server) handlePapers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}

	list, err := s.svc.ListItems(r.Context(), filter.FromQuery(q, "limit"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

// handlePaper handles GET /api/papers/{id}.
func (s *Server) handlePaper(w http.ResponseWriter, r *http.Request) {
	it, err := s.svc.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, it)
}

// handlePaperFiles handles GET /api/papers/{id}/files for OSDR studies.
func (s *Server) handlePaperFiles(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	id := r.PathValue("id")
	files, err := s.svc.StudyFiles(r.Context(), id, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, filesResponse{ID: id, Files: files})
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// handleHistory handles GET /api/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "history is disabled"})
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := s.cfg.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, historyResponse{Entries: entries})
}

// queryOutcome maps a query result to its metrics label.
func queryOutcome(resp *retrieval.Response, err error) string {
	switch {
	case errors.Is(err, retrieval.ErrIndexNotBuilt):
		return outcomeNotBuilt
	case err != nil:
		return outcomeError
	case resp.Degraded:
		return outcomeDegraded
	case resp.Fallback:
		return outcomeFallback
	default:
		return outcomeOK
	}
}

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// decodeJSON decodes a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	return nil
}

// intParam parses an optional non-negative integer query parameter. On a
// malformed value it writes 400 and returns ok=false.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, r, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name))
		return 0, false
	}
	return n, true
}

// statusFor translates service errors into HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, retrieval.ErrIndexNotBuilt),
		errors.Is(err, retrieval.ErrNotAStudy):
		return http.StatusBadRequest
	case errors.Is(err, index.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingestion.ErrEmptyCorpus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, osdr.ErrUnexpectedStatus):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as a JSON error body with the mapped status code.
// Server-side failures are logged; client errors are not.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
