package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/osdr-rag-go/internal/filter"
	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/ingestion"
	"github.com/54b3r/osdr-rag-go/internal/logging"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
)

// vocab fixes the dimensions of keywordEmbedder.
var vocab = []string{"bone", "plant", "radiation", "muscle", "moon", "mice", "yeast", "density"}

// keywordEmbedder embeds a text as the count of each vocab word in it.
type keywordEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocab))
		lower := strings.ToLower(t)
		for d, w := range vocab {
			v[d] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

// fakeSummarizer records prompts and returns a fixed summary.
type fakeSummarizer struct {
	mu      sync.Mutex
	prompts []string
	err     error
	panics  bool
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string, maxLength int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("summarizer exploded")
	}
	f.prompts = append(f.prompts, text)
	if f.err != nil {
		return "", f.err
	}
	return "a summary", nil
}

// staticCollector returns a copy of the same items on every call.
type staticCollector struct {
	items []index.Item
	err   error
	calls int
}

func (c *staticCollector) Collect(context.Context, ingestion.Options) (*ingestion.Collection, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	items := make([]index.Item, len(c.items))
	copy(items, c.items)
	return &ingestion.Collection{Items: items, Sources: []ingestion.SourceReport{{Name: "csv", Items: len(items)}}}, nil
}

// fakePublisher counts publications.
type fakePublisher struct {
	published atomic.Int32
	err       error
}

func (p *fakePublisher) Publish(context.Context, *index.Snapshot) error {
	p.published.Add(1)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

// fakeCatalog serves study files.
type fakeCatalog struct{ lastID string }

func (f *fakeCatalog) Search(context.Context, string, int) ([]osdr.Record, error) { return nil, nil }

func (f *fakeCatalog) StudyFiles(_ context.Context, id string, _ int) ([]osdr.File, error) {
	f.lastID = id
	return []osdr.File{{Name: "a.csv", DownloadURL: "https://osdr.nasa.gov/a.csv"}}, nil
}

func item(id, title, program, year string) index.Item {
	text := title
	return index.Item{
		ID:             id,
		Meta:           index.Metadata{Origin: index.OriginCSV, ID: id, Title: title, Program: program, Year: year, Abstract: title + " abstract"},
		TextPreview:    text,
		SearchableText: text,
	}
}

func corpus() []index.Item {
	return []index.Item{
		item("csv-0", "Bone loss in mice", "ISS", "2019"),
		item("csv-1", "Plant growth on the moon", "Artemis", "2022"),
		item("csv-2", "Radiation and yeast", "ISS", "2015"),
		item("csv-3", "Muscle and bone density", "Shuttle", "2001"),
		item("csv-4", "Moon plant radiation", "Artemis", "2023"),
	}
}

type fixture struct {
	svc   *Service
	emb   *keywordEmbedder
	sum   *fakeSummarizer
	col   *staticCollector
	pub   *fakePublisher
	cat   *fakeCatalog
	paths index.Paths
}

func newFixture(t *testing.T, items []index.Item) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		emb:   &keywordEmbedder{},
		sum:   &fakeSummarizer{},
		col:   &staticCollector{items: items},
		pub:   &fakePublisher{},
		cat:   &fakeCatalog{},
		paths: index.Paths{Index: filepath.Join(dir, "index.bin"), Meta: filepath.Join(dir, "meta.json")},
	}
	svc, err := New(&Config{
		Paths:          f.paths,
		Collector:      f.col,
		Embedder:       f.emb,
		Summarizer:     f.sum,
		Publisher:      f.pub,
		Catalog:        f.cat,
		EmbedBatchSize: 2,
		Logger:         logging.Discard(),
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) rebuild(t *testing.T) *RebuildResult {
	t.Helper()
	res, err := f.svc.Rebuild(context.Background(), RebuildOptions{IncludeCSV: true})
	require.NoError(t, err)
	return res
}

func ids(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ID)
	}
	return out
}

func TestQuery_BeforeRebuild(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())

	_, err := f.svc.Query(context.Background(), Request{Query: "bone"})
	assert.ErrorIs(t, err, ErrIndexNotBuilt)
	_, err = f.svc.GetItem(context.Background(), "csv-0")
	assert.ErrorIs(t, err, ErrIndexNotBuilt)
	_, err = f.svc.ListItems(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrIndexNotBuilt)
	assert.False(t, f.svc.Ready())

	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalPapers)
	assert.Empty(t, stats.Programs)
}

func TestQuery_EmptyQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	_, err := f.svc.Query(context.Background(), Request{Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestRebuild_ThenQueryRanksByDistance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	res := f.rebuild(t)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, 5, res.Indexed)
	assert.True(t, res.Published)
	assert.Equal(t, int32(3), f.emb.calls.Load(), "five texts in batches of two")

	resp, err := f.svc.Query(context.Background(), Request{Query: "plant on the moon", TopK: 2})
	require.NoError(t, err)
	assert.False(t, resp.Fallback)
	assert.False(t, resp.Degraded)
	assert.Equal(t, []string{"csv-1", "csv-4"}, ids(resp.Papers))
	assert.Equal(t, 2, resp.TotalFound)
	assert.Equal(t, "a summary", resp.Summary)
	assert.Equal(t, res.BuildID, resp.BuildID)
	assert.LessOrEqual(t, resp.Papers[0].Score, resp.Papers[1].Score)
}

func TestRebuild_IsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	first := f.rebuild(t)
	snap1 := f.svc.holder.Load()

	second := f.rebuild(t)
	snap2 := f.svc.holder.Load()

	assert.NotEqual(t, first.BuildID, second.BuildID)
	require.Equal(t, snap1.Len(), snap2.Len())
	for i := 0; i < snap1.Len(); i++ {
		assert.Equal(t, snap1.Items.At(i).Meta, snap2.Items.At(i).Meta)
		assert.Equal(t, snap1.Index.Vector(i), snap2.Index.Vector(i))
	}
}

func TestService_ReloadsSnapshotFromDisk(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	res := f.rebuild(t)

	fresh, err := New(&Config{Paths: f.paths, Embedder: f.emb, Summarizer: f.sum, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, fresh.LoadFromDisk())
	assert.True(t, fresh.Ready())

	resp, err := fresh.Query(context.Background(), Request{Query: "radiation yeast", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"csv-2"}, ids(resp.Papers))
	assert.Equal(t, res.BuildID, resp.BuildID)
}

func TestService_InconsistentSnapshotIsNotBuilt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.rebuild(t)
	require.NoError(t, os.WriteFile(f.paths.Meta, []byte(`{"build_id":"00000000-0000-0000-0000-000000000000","items":[]}`), 0o644))

	fresh, err := New(&Config{Paths: f.paths, Embedder: f.emb, Summarizer: f.sum, Logger: logging.Discard()})
	require.NoError(t, err)
	assert.ErrorIs(t, fresh.LoadFromDisk(), ErrIndexNotBuilt)
}

func TestQuery_FilterNarrowsResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.rebuild(t)

	resp, err := f.svc.Query(context.Background(), Request{
		Query:   "bone",
		TopK:    5,
		Filters: filter.Parse(map[string]any{"program": "iss"}),
	})
	require.NoError(t, err)
	assert.False(t, resp.Fallback)
	for _, r := range resp.Papers {
		assert.Equal(t, "ISS", r.Meta.Program)
	}
	assert.Equal(t, "csv-0", resp.Papers[0].ID)
	assert.Len(t, resp.Papers, 2)
}

func TestQuery_FallbackWhenFilterRemovesEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.rebuild(t)

	unfiltered, err := f.svc.Query(context.Background(), Request{Query: "bone density", TopK: 3})
	require.NoError(t, err)

	resp, err := f.svc.Query(context.Background(), Request{
		Query:   "bone density",
		TopK:    3,
		Filters: filter.Parse(map[string]any{"program": []any{"Apollo", "Gemini"}}),
	})
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Len(t, resp.Papers, 3)
	assert.Equal(t, ids(unfiltered.Papers), ids(resp.Papers))
	assert.Equal(t, "csv-3", resp.Papers[0].ID)
}

func TestQuery_FallbackLengthIsBoundedByCorpus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus()[:2])
	f.rebuild(t)

	resp, err := f.svc.Query(context.Background(), Request{
		Query:   "bone",
		TopK:    50,
		Filters: filter.Parse(map[string]any{"year": "1969"}),
	})
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Len(t, resp.Papers, 2)
}

func largeCorpus(n int) []index.Item {
	words := []string{"bone", "plant", "radiation", "muscle", "moon", "mice", "yeast", "density"}
	items := make([]index.Item, 0, n)
	for i := range n {
		title := strings.Repeat(words[i%len(words)]+" ", 1+i%5) + words[(i/len(words))%len(words)]
		items = append(items, item(fmt.Sprintf("csv-%d", i), title, "ISS", "2019"))
	}
	return items
}

func TestQuery_LargeTopK(t *testing.T) {
	t.Parallel()

	f := newFixture(t, largeCorpus(150))
	f.rebuild(t)

	filtered, err := f.svc.Query(context.Background(), Request{
		Query:   "bone density",
		TopK:    120,
		Filters: filter.Parse(map[string]any{"program": "iss"}),
	})
	require.NoError(t, err)
	assert.False(t, filtered.Fallback)
	assert.Len(t, filtered.Papers, 120)

	fallback, err := f.svc.Query(context.Background(), Request{
		Query:   "bone density",
		TopK:    120,
		Filters: filter.Parse(map[string]any{"program": []any{"Apollo", "Gemini"}}),
	})
	require.NoError(t, err)
	assert.True(t, fallback.Fallback)
	assert.Len(t, fallback.Papers, 120)
	assert.Equal(t, ids(filtered.Papers), ids(fallback.Papers))

	all, err := f.svc.Query(context.Background(), Request{Query: "bone", TopK: 1_000_000})
	require.NoError(t, err)
	assert.Len(t, all.Papers, 150)
}

func TestQuery_TopKDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultTopK, topKOrDefault(0))
	assert.Equal(t, DefaultTopK, topKOrDefault(-3))
	assert.Equal(t, 7, topKOrDefault(7))
	assert.Equal(t, 1000, topKOrDefault(1000))

	f := newFixture(t, corpus())
	f.rebuild(t)
	resp, err := f.svc.Query(context.Background(), Request{Query: "bone"})
	require.NoError(t, err)
	assert.Len(t, resp.Papers, 5)
}

func TestQuery_PromptCarriesContext(t *testing.T) {
	t.Parallel()

	items := corpus()
	for i := 5; i < 12; i++ {
		items = append(items, item("csv-"+string(rune('a'+i)), "bone study", "ISS", "2010"))
	}
	f := newFixture(t, items)
	f.rebuild(t)

	_, err := f.svc.Query(context.Background(), Request{Query: "bone", TopK: 10})
	require.NoError(t, err)

	require.Len(t, f.sum.prompts, 1)
	prompt := f.sum.prompts[0]
	assert.Contains(t, prompt, "Query: bone")
	assert.Contains(t, prompt, "Title: Bone loss in mice\nAbstract: Bone loss in mice abstract")
	assert.Equal(t, contextResults, strings.Count(prompt, "Title: "))
}

func TestQuery_GenerationFailureKeepsResults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.rebuild(t)
	f.sum.err = errors.New("model offline")

	resp, err := f.svc.Query(context.Background(), Request{Query: "bone", TopK: 2})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.True(t, resp.IsGenerationDegraded())
	assert.Len(t, resp.Papers, 2)
	assert.Contains(t, resp.Summary, "model offline")
}

func TestQuery_EmbeddingFailureDegrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.rebuild(t)
	f.emb.err = errors.New("embedder down")

	resp, err := f.svc.Query(context.Background(), Request{Query: "bone"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.False(t, resp.IsGenerationDegraded())
	assert.Empty(t, resp.Papers)
	assert.Equal(t, 0, resp.TotalFound)
	assert.Contains(t, resp.Summary, "embedder down")
}

func TestQuery_PanicDegrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.rebuild(t)
	f.sum.panics = true

	resp, err := f.svc.Query(context.Background(), Request{Query: "bone"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Papers)
	assert.Contains(t, resp.Summary, "summarizer exploded")
}

func TestRebuild_FailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	first := f.rebuild(t)

	f.col.err = ingestion.ErrEmptyCorpus
	_, err := f.svc.Rebuild(context.Background(), RebuildOptions{IncludeCSV: true})
	assert.ErrorIs(t, err, ingestion.ErrEmptyCorpus)

	stats, err := f.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.BuildID, stats.BuildID)
}

func TestRebuild_PublishFailureDoesNotFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.pub.err = errors.New("qdrant unreachable")

	res := f.rebuild(t)
	assert.False(t, res.Published)
	assert.Equal(t, int32(1), f.pub.published.Load())
	assert.True(t, f.svc.Ready())
}

func TestBrowse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.rebuild(t)
	ctx := context.Background()

	it, err := f.svc.GetItem(ctx, "csv-2")
	require.NoError(t, err)
	assert.Equal(t, "Radiation and yeast", it.Meta.Title)

	_, err = f.svc.GetItem(ctx, "nope")
	assert.ErrorIs(t, err, index.ErrNotFound)

	list, err := f.svc.ListItems(ctx, filter.Parse(map[string]any{"program": "artemis"}), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, list.Returned)
	assert.Equal(t, "csv-1", list.Papers[0].ID)

	all, err := f.svc.ListItems(ctx, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, all.Returned)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalPapers)
	assert.Equal(t, []string{"Artemis", "ISS", "Shuttle"}, stats.Programs)
	assert.Equal(t, []string{"2001", "2015", "2019", "2022", "2023"}, stats.Years)
	assert.NotNil(t, stats.BuiltAt)
}

func TestStudyFiles(t *testing.T) {
	t.Parallel()

	items := corpus()
	study := item("osdr-48", "Bone study", "ISS", "2014")
	study.Meta.Origin = index.OriginOSDR
	study.Meta.OSDID = "48"
	items = append(items, study)

	f := newFixture(t, items)
	f.rebuild(t)

	files, err := f.svc.StudyFiles(context.Background(), "osdr-48", 5)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, "48", f.cat.lastID)

	_, err = f.svc.StudyFiles(context.Background(), "csv-0", 5)
	assert.ErrorIs(t, err, ErrNotAStudy)
}

func TestQuery_ConcurrentWithRebuild(t *testing.T) {
	t.Parallel()

	f := newFixture(t, corpus())
	f.rebuild(t)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				resp, err := f.svc.Query(context.Background(), Request{Query: "bone", TopK: 2})
				if err != nil {
					errs <- err
					return
				}
				if len(resp.Papers) != 2 {
					errs <- errors.New("partial snapshot observed")
					return
				}
			}
		}()
	}
	for range 3 {
		if _, err := f.svc.Rebuild(context.Background(), RebuildOptions{IncludeCSV: true}); err != nil {
			errs <- err
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// End-to-end: CSV ingestion through rebuild and query.
func TestScenario_BoneLossInMicrogravity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "papers.csv")
	require.NoError(t, os.WriteFile(csvPath,
		[]byte("title,abstract,date\nBone loss in microgravity,Astronauts lose bone mass.,2019-03-01\n"), 0o644))

	pipe, err := ingestion.NewPipeline(&ingestion.Config{CSVPath: csvPath, Logger: logging.Discard()})
	require.NoError(t, err)

	svc, err := New(&Config{
		Paths:      index.Paths{Index: filepath.Join(dir, "index.bin"), Meta: filepath.Join(dir, "meta.json")},
		Collector:  pipe,
		Embedder:   &keywordEmbedder{},
		Summarizer: &fakeSummarizer{},
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)

	res, err := svc.Rebuild(context.Background(), RebuildOptions{IncludeCSV: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)

	resp, err := svc.Query(context.Background(), Request{Query: "bone density", TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Papers, 1)
	assert.Equal(t, "csv-0", resp.Papers[0].ID)
	assert.Equal(t, "2019", resp.Papers[0].Meta.Year)
}
