package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/54b3r/osdr-rag-go/internal/filter"
	"github.com/54b3r/osdr-rag-go/internal/index"
)

const (
	// DefaultTopK is used when a query asks for zero or fewer results.
	DefaultTopK = 5

	// overFetchFactor multiplies top_k to leave room for post-filtering.
	overFetchFactor = 10
	// minOverFetch is the least number of neighbours fetched.
	minOverFetch = 10

	// contextResults bounds the results fed to the summarizer.
	contextResults = 8
	// previewRunes bounds the preview returned per result.
	previewRunes = 1000
	// summaryMaxLength bounds the final summary in tokens.
	summaryMaxLength = 400
)

const summaryPrompt = `Based on the following space biology research documents, provide a concise summary that answers the user's query.

Query: %s

Relevant documents:
%s

Please provide a coherent summary of 3-5 sentences that synthesizes the most relevant information from these documents in relation to the query.`

// Request is a semantic query.
type Request struct {
	Query   string      `json:"query"`
	TopK    int         `json:"top_k"`
	Filters filter.Spec `json:"-"`
}

// Result is one ranked hit. Score is the squared L2 distance to the query;
// lower is closer.
type Result struct {
	ID          string         `json:"id"`
	Meta        index.Metadata `json:"meta"`
	TextPreview string         `json:"text_preview"`
	Score       float32        `json:"score"`
}

// Response is the outcome of a query. Degraded responses carry an
// explanation in Summary; Cause holds the underlying error.
type Response struct {
	Summary    string   `json:"summary"`
	Papers     []Result `json:"papers"`
	TotalFound int      `json:"total_found"`
	Fallback   bool     `json:"fallback"`
	Degraded   bool     `json:"degraded"`
	BuildID    string   `json:"build_id,omitempty"`
	Cause      error    `json:"-"`
}

// Query answers req against the current snapshot.
//
// It fails only with ErrEmptyQuery or ErrIndexNotBuilt. Once a snapshot is
// available every other failure, including a panic, yields a degraded
// Response: empty results when retrieval failed, kept results when only the
// summary failed.
func (s *Service) Query(ctx context.Context, req Request) (resp *Response, err error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	snap, err := s.ensureLoaded()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("retrieval: query panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			resp = degraded(snap, fmt.Errorf("internal error: %v", r))
			err = nil
		}
	}()

	topK := topKOrDefault(req.TopK)

	results, fallback, qerr := s.search(ctx, snap, req.Query, topK, req.Filters)
	if qerr != nil {
		s.log.Warn("retrieval: query degraded", slog.String("error", qerr.Error()))
		return degraded(snap, qerr), nil
	}
	if fallback {
		s.log.Warn("retrieval: no results matched filters, falling back to unfiltered results",
			slog.Any("filters", req.Filters),
			slog.Int("top_k", topK),
		)
	}

	resp = &Response{
		Papers:     results,
		TotalFound: len(results),
		Fallback:   fallback,
		BuildID:    snap.BuildID.String(),
	}

	prompt := fmt.Sprintf(summaryPrompt, req.Query, buildContext(results))
	summary, gerr := s.cfg.Summarizer.Summarize(ctx, prompt, summaryMaxLength)
	if gerr != nil {
		gerr = fmt.Errorf("%w: %w", ErrGenerationDegraded, gerr)
		s.log.Warn("retrieval: summary unavailable, returning results only", slog.String("error", gerr.Error()))
		resp.Summary = "Summary unavailable: " + gerr.Error()
		resp.Degraded = true
		resp.Cause = gerr
		return resp, nil
	}
	resp.Summary = summary
	return resp, nil
}

// search embeds the query, over-fetches neighbours and post-filters them.
// fallback reports that no neighbour matched a non-empty filter and the
// unfiltered head was returned instead.
func (s *Service) search(ctx context.Context, snap *index.Snapshot, query string, topK int, spec filter.Spec) ([]Result, bool, error) {
	vecs, err := s.cfg.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, false, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, false, fmt.Errorf("embedding query: expected 1 vector, got %d", len(vecs))
	}

	// Bounded by the corpus, which also keeps topK*overFetchFactor in range.
	topK = min(topK, snap.Len())
	k := min(max(topK*overFetchFactor, minOverFetch), snap.Len())
	dists, positions, err := snap.Index.Search(vecs[0], k)
	if err != nil {
		return nil, false, fmt.Errorf("searching index: %w", err)
	}

	selected := make([]Result, 0, topK)
	for i, pos := range positions {
		it := snap.Items.At(pos)
		if spec.Matches(it.Meta) {
			selected = append(selected, result(it, dists[i]))
		}
		if len(selected) >= topK {
			break
		}
	}
	if len(selected) > 0 || spec.Empty() {
		return selected, false, nil
	}

	for i, pos := range positions {
		if i == topK {
			break
		}
		selected = append(selected, result(snap.Items.At(pos), dists[i]))
	}
	return selected, true, nil
}

// buildContext renders the leading results for the summary prompt.
func buildContext(results []Result) string {
	parts := make([]string, 0, min(len(results), contextResults))
	for _, r := range results[:min(len(results), contextResults)] {
		abstract := r.Meta.Abstract
		if abstract == "" {
			abstract = r.TextPreview
		}
		parts = append(parts, "Title: "+r.Meta.Title+"\nAbstract: "+abstract)
	}
	return strings.Join(parts, "\n\n")
}

func result(it index.Item, dist float32) Result {
	return Result{
		ID:          it.ID,
		Meta:        it.Meta,
		TextPreview: truncateRunes(it.TextPreview, previewRunes),
		Score:       dist,
	}
}

func degraded(snap *index.Snapshot, cause error) *Response {
	return &Response{
		Summary:  "Search failed: " + cause.Error(),
		Papers:   []Result{},
		Degraded: true,
		BuildID:  snap.BuildID.String(),
		Cause:    cause,
	}
}

func topKOrDefault(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// IsGenerationDegraded reports whether resp lost only its summary.
func (r *Response) IsGenerationDegraded() bool {
	return r != nil && errors.Is(r.Cause, ErrGenerationDegraded)
}
