package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/qdrant/go-client/qdrant"
)

// errIndexNotLoaded is reported by IndexPinger before the first snapshot.
var errIndexNotLoaded = errors.New("no snapshot loaded, run a rebuild")

// HTTPPinger probes an HTTP dependency (the OSDR API, an Ollama host) with a
// GET request. Any response below 500 counts as reachable.
type HTTPPinger struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger. A nil client uses http.DefaultClient.
func NewHTTPPinger(name, url string, client *http.Client) *HTTPPinger {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPinger{name: name, url: url, client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping issues the probe request.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unhealthy status %d", resp.StatusCode)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// IndexPinger reports whether a snapshot is being served.
type IndexPinger struct {
	ready func() bool
}

// NewIndexPinger wraps a readiness function such as retrieval.Service.Ready.
func NewIndexPinger(ready func() bool) *IndexPinger {
	return &IndexPinger{ready: ready}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index" }

// Ping fails until a snapshot is loaded.
func (p *IndexPinger) Ping(context.Context) error {
	if !p.ready() {
		return errIndexNotLoaded
	}
	return nil
}
