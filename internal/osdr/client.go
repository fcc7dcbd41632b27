// Package osdr is a small client for the NASA Open Science Data Repository
// (OSDR) public data API: study search, per-study metadata and per-study
// file listings.
package osdr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/osdr-rag-go/internal/version"
)

// DefaultBaseURL is the public OSDR host.
const DefaultBaseURL = "https://osdr.nasa.gov"

// defaultFileLimit is the number of files returned per study by default.
const defaultFileLimit = 10

// ErrUnexpectedStatus is returned when OSDR answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("osdr: unexpected status")

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the OSDR host (default: https://osdr.nasa.gov).
	BaseURL string

	// Timeout bounds every request (default: 30s).
	Timeout time.Duration

	// RateLimit is the maximum number of requests per second sent to OSDR.
	// Zero or negative disables throttling.
	RateLimit float64

	// UserAgent is sent with every request (default: osdrrag/<version>).
	UserAgent string

	// HTTPClient overrides the transport. Its Timeout is left untouched.
	HTTPClient *http.Client

	// Logger receives request diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client talks to the OSDR data API. It is safe for concurrent use.
type Client struct {
	base    string
	ua      string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// New constructs a Client, filling defaults for unset Config fields.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		base:    base,
		ua:      ua,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// BaseURL returns the resolved OSDR host.
func (c *Client) BaseURL() string { return c.base }

// Search queries the study search endpoint and returns the hits that carry a
// recognizable OSD accession. Hits without one are skipped.
func (c *Client) Search(ctx context.Context, term string, size int) ([]Record, error) {
	q := url.Values{}
	q.Set("term", term)
	q.Set("from", "0")
	q.Set("size", strconv.Itoa(size))

	var body struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.getJSON(ctx, "/osdr/data/search?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(body.Hits.Hits))
	skipped := 0
	for _, h := range body.Hits.Hits {
		rec, ok := recordFromSource(h.Source)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		c.log.Debug("osdr: hits without accession skipped", slog.Int("skipped", skipped))
	}
	return records, nil
}

// StudyMeta returns the raw metadata document of a study.
func (c *Client) StudyMeta(ctx context.Context, numericID string) (map[string]any, error) {
	var doc map[string]any
	if err := c.getJSON(ctx, "/osdr/data/osd/meta/"+url.PathEscape(numericID), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// StudyFiles returns up to limit files of a study (default 10), with
// download URLs made absolute.
func (c *Client) StudyFiles(ctx context.Context, numericID string, limit int) ([]File, error) {
	if limit <= 0 {
		limit = defaultFileLimit
	}

	var body struct {
		Studies map[string]struct {
			StudyFiles []map[string]any `json:"study_files"`
		} `json:"studies"`
	}
	if err := c.getJSON(ctx, "/osdr/data/osd/files/"+url.PathEscape(numericID), &body); err != nil {
		return nil, err
	}

	raw := body.Studies[Label(numericID)].StudyFiles
	files := make([]File, 0, min(limit, len(raw)))
	for _, f := range raw {
		if len(files) == limit {
			break
		}
		files = append(files, File{
			Name:        first(f, "name", "file_name"),
			Category:    first(f, "category"),
			Size:        first(f, "size", "file_size"),
			DownloadURL: DownloadURL(c.base, first(f, "remote_url", "remote")),
		})
	}
	return files, nil
}

// getJSON performs a throttled GET against path and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("osdr: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("osdr: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("osdr: request failed: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug("osdr: request",
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d for %s", ErrUnexpectedStatus, resp.StatusCode, req.URL.Path)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("osdr: decode response: %w", err)
	}
	return nil
}
