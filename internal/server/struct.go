package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/osdr-rag-go/internal/filter"
	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Rebuilds
	// embed the whole corpus, so the default is generous.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// CORSOrigins lists the browser origins allowed to call the API. "*"
	// allows any origin. Empty disables CORS headers.
	CORSOrigins []string
	// History records queries and rebuilds. Nil disables GET /api/history.
	History store.History
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// retriever is the service surface the handlers call.
// *retrieval.Service satisfies it; tests inject a fake.
type retriever interface {
	Query(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
	Rebuild(ctx context.Context, opts retrieval.RebuildOptions) (*retrieval.RebuildResult, error)
	GetItem(ctx context.Context, id string) (index.Item, error)
	ListItems(ctx context.Context, spec filter.Spec, limit int) (*retrieval.ItemList, error)
	Stats(ctx context.Context) (*retrieval.Stats, error)
	StudyFiles(ctx context.Context, id string, limit int) ([]osdr.File, error)
}

// Server is the HTTP server that exposes the retrieval service.
type Server struct {
	// svc answers every API call.
	svc retriever
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors registered in New.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the natural language search text.
	Query string `json:"query"`
	// TopK is the number of results wanted; zero means the default.
	TopK int `json:"top_k"`
	// Filters maps a metadata field to a value or list of candidate values.
	Filters map[string]any `json:"filters"`
}

// rebuildRequest is the JSON body for POST /api/rebuild. Both sources are
// enabled unless explicitly set to false.
type rebuildRequest struct {
	Limit       int    `json:"limit"`
	IncludeCSV  *bool  `json:"include_csv"`
	IncludeOSDR *bool  `json:"include_osdr"`
	Term        string `json:"term"`
}

// filesResponse is the JSON response for GET /api/papers/{id}/files.
type filesResponse struct {
	ID    string      `json:"id"`
	Files []osdr.File `json:"files"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	Entries []store.Entry `json:"entries"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
