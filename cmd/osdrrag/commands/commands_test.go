package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/store"
	"github.com/54b3r/osdr-rag-go/internal/version"
)

func TestSplitList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"https://a.example", []string{"https://a.example"}},
		{" https://a.example , ,https://b.example ", []string{"https://a.example", "https://b.example"}},
		{"*", []string{"*"}},
	}
	for _, tc := range tests {
		if got := splitList(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestReadInput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(path, []byte("from file"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := readInput(path, strings.NewReader("ignored"))
	if err != nil || got != "from file" {
		t.Fatalf("file: got %q, %v", got, err)
	}

	got, err = readInput("", strings.NewReader("piped text"))
	if err != nil || got != "piped text" {
		t.Fatalf("reader: got %q, %v", got, err)
	}

	if _, err := readInput(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEntryFlags(t *testing.T) {
	t.Parallel()

	tests := map[string]store.Entry{
		"-":                 {},
		"fallback":          {Fallback: true},
		"degraded":          {Degraded: true},
		"degraded,fallback": {Degraded: true, Fallback: true},
	}
	for want, e := range tests {
		if got := entryFlags(e); got != want {
			t.Errorf("entryFlags(%+v) = %q, want %q", e, got, want)
		}
	}
}

func TestPrintItems(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printItems(&buf, &retrieval.ItemList{
		Papers: []index.Item{
			{ID: "csv-0", Meta: index.Metadata{Title: "Bone loss in mice", Program: "ISS", Year: "2019"}},
		},
		Total:    3,
		Returned: 1,
	})

	out := buf.String()
	for _, want := range []string{"ID", "csv-0", "Bone loss in mice", "ISS", "2019", "1 of 3 matching papers"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResponse(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printResponse(&buf, &retrieval.Response{
		Summary:  "Unable to generate summary",
		Degraded: true,
		Fallback: true,
		Papers: []retrieval.Result{
			{ID: "osdr-48", Meta: index.Metadata{Title: "Rodent Research", Link: "https://osdr.nasa.gov/bio/repo/data/studies/OSD-48"}},
		},
	})

	out := buf.String()
	for _, want := range []string{"warning: degraded", "unfiltered results", "1. Rodent Research [osdr-48]", "OSD-48"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	want := []string{"serve", "rebuild", "query", "papers", "paper", "stats", "history", "summarize", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (err=%v)", name, err)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)

	if got := strings.TrimSpace(buf.String()); got != version.String() {
		t.Errorf("version output: got %q, want %q", got, version.String())
	}
}

func TestHistoryCmd_JSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("OSDRRAG_HISTORY_DB", dbPath)

	hs, err := store.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := hs.RecordQuery(t.Context(), store.Query{Text: "bone loss", Results: 3}); err != nil {
		t.Fatal(err)
	}
	hs.Close()

	var buf bytes.Buffer
	cmd := NewHistoryCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--json"})
	if err := cmd.ExecuteContext(t.Context()); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(buf.String(), `"subject": "bone loss"`) {
		t.Errorf("expected recorded query in output:\n%s", buf.String())
	}
}

func TestHistoryCmd_Disabled(t *testing.T) {
	t.Setenv("OSDRRAG_HISTORY_DB", "disabled")

	cmd := NewHistoryCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	if err := cmd.ExecuteContext(t.Context()); err == nil {
		t.Fatal("expected error when history is disabled")
	}
}

func TestSummarizeCmd_NoInput(t *testing.T) {
	t.Parallel()

	cmd := NewSummarizeCmd()
	cmd.SetIn(strings.NewReader(""))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	err := cmd.ExecuteContext(t.Context())
	if err == nil || !strings.Contains(err.Error(), "provide --file") {
		t.Fatalf("expected missing input error, got %v", err)
	}
}
