package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/store"
)

const commandCSV = "title,abstract,authors,program,date,link\n" +
	"Bone loss in microgravity,Mice lose bone density in orbit.,Doe,ISS,2019-03-01,https://example.org/1\n" +
	"Plant growth on the Moon,Arabidopsis sprouts in lunar regolith.,Roe,Artemis,March 2022,\n" +
	"Radiation and yeast,Yeast survives deep space radiation.,Poe,Shuttle,2015,\n"

// stubOllama serves /api/embed with keyword-count vectors and /api/chat with
// a fixed assistant reply.
func stubOllama(t *testing.T) *httptest.Server {
	t.Helper()
	vocab := []string{"bone", "plant", "radiation", "yeast", "moon", "density"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			var req struct {
				Input []string `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			vecs := make([][]float32, len(req.Input))
			for i, text := range req.Input {
				lower := strings.ToLower(text)
				vecs[i] = make([]float32, len(vocab))
				for d, word := range vocab {
					vecs[i][d] = float32(strings.Count(lower, word))
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
		case "/api/chat":
			_, _ = w.Write([]byte(`{"model":"llama3","created_at":"2025-01-01T00:00:00Z",` +
				`"message":{"role":"assistant","content":"Microgravity accelerates bone loss."},` +
				`"done":true,"done_reason":"stop"}` + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupCommandEnv points every backend and path at test-local resources.
func setupCommandEnv(t *testing.T) (dir string) {
	t.Helper()
	dir = t.TempDir()
	srv := stubOllama(t)

	csvPath := filepath.Join(dir, "papers.csv")
	if err := os.WriteFile(csvPath, []byte(commandCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	env := map[string]string{
		"MODEL_PROVIDER":       "ollama",
		"EMBEDDING_PROVIDER":   "ollama",
		"OLLAMA_HOST":          srv.URL,
		"EMBEDDING_ENDPOINT":   srv.URL,
		"EMBEDDING_MODEL":      "",
		"EMBEDDING_BATCH_SIZE": "2",
		"CSV_PAPERS_PATH":      csvPath,
		"INDEX_PATH":           filepath.Join(dir, "index.bin"),
		"META_PATH":            filepath.Join(dir, "meta.json"),
		"OSDRRAG_HISTORY_DB":   filepath.Join(dir, "history.db"),
		"QDRANT_HOST":          "",
		"LANGFUSE_HOST":        "",
		"LANGFUSE_PUBLIC_KEY":  "",
		"LANGFUSE_SECRET_KEY":  "",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return dir
}

func TestRebuildThenQueryCommands(t *testing.T) {
	dir := setupCommandEnv(t)

	var out bytes.Buffer
	rebuild := NewRebuildCmd()
	rebuild.SetOut(&out)
	rebuild.SetArgs([]string{"--no-osdr"})
	if err := rebuild.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var res retrieval.RebuildResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("rebuild output is not JSON: %v\n%s", err, out.String())
	}
	if res.Status != "ok" || res.Indexed != 3 || res.BuildID == "" {
		t.Fatalf("unexpected rebuild result: %+v", res)
	}
	for _, name := range []string{"index.bin", "meta.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("snapshot file %s: %v", name, err)
		}
	}

	out.Reset()
	query := NewQueryCmd()
	query.SetOut(&out)
	query.SetArgs([]string{"--json", "--top-k", "1", "bone density"})
	if err := query.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("query: %v", err)
	}

	var resp retrieval.Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("query output is not JSON: %v\n%s", err, out.String())
	}
	if len(resp.Papers) != 1 {
		t.Fatalf("papers: got %d, want 1\n%s", len(resp.Papers), out.String())
	}
	if got := resp.Papers[0]; got.ID != "csv-0" || got.Meta.Year != "2019" {
		t.Errorf("top paper: got id=%q year=%q, want csv-0/2019", got.ID, got.Meta.Year)
	}
	if resp.BuildID != res.BuildID {
		t.Errorf("query served build %q, rebuild produced %q", resp.BuildID, res.BuildID)
	}

	hs, err := store.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer hs.Close()
	entries, err := hs.Recent(t.Context(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Kind != store.KindQuery || entries[1].Kind != store.KindRebuild {
		t.Errorf("history: got %+v, want query then rebuild", entries)
	}
}

func TestQueryCommand_FilterFallback(t *testing.T) {
	setupCommandEnv(t)

	rebuild := NewRebuildCmd()
	rebuild.SetOut(&bytes.Buffer{})
	rebuild.SetArgs([]string{"--no-osdr"})
	if err := rebuild.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	var out bytes.Buffer
	query := NewQueryCmd()
	query.SetOut(&out)
	query.SetArgs([]string{"--json", "--top-k", "2", "--filter", "program=Apollo", "--filter", "program=Gemini", "bone"})
	if err := query.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("query: %v", err)
	}

	var resp retrieval.Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("query output is not JSON: %v\n%s", err, out.String())
	}
	if !resp.Fallback || len(resp.Papers) != 2 {
		t.Errorf("expected 2 fallback papers, got fallback=%v papers=%d", resp.Fallback, len(resp.Papers))
	}
}

func TestQueryCommand_BeforeRebuild(t *testing.T) {
	setupCommandEnv(t)

	query := NewQueryCmd()
	query.SetOut(&bytes.Buffer{})
	query.SetArgs([]string{"bone"})
	if err := query.ExecuteContext(t.Context()); err == nil {
		t.Fatal("expected error before any rebuild")
	}
}
