package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_RecordAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RecordRebuild(ctx, Rebuild{BuildID: "b-1", Indexed: 42, Elapsed: 1500 * time.Millisecond}); err != nil {
		t.Fatalf("record rebuild: %v", err)
	}
	if err := s.RecordQuery(ctx, Query{Text: "bone loss", BuildID: "b-1", Results: 5, Fallback: true, Elapsed: 80 * time.Millisecond}); err != nil {
		t.Fatalf("record query: %v", err)
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}

	q := entries[0]
	if q.Kind != KindQuery || q.Subject != "bone loss" || q.Count != 5 {
		t.Errorf("entry[0]: want query/bone loss/5, got %s/%s/%d", q.Kind, q.Subject, q.Count)
	}
	if !q.Fallback || q.Degraded {
		t.Errorf("entry[0]: flags fallback=%v degraded=%v", q.Fallback, q.Degraded)
	}
	if q.Elapsed != 80*time.Millisecond {
		t.Errorf("entry[0]: elapsed %v", q.Elapsed)
	}

	r := entries[1]
	if r.Kind != KindRebuild || r.BuildID != "b-1" || r.Count != 42 {
		t.Errorf("entry[1]: want rebuild/b-1/42, got %s/%s/%d", r.Kind, r.BuildID, r.Count)
	}
}

func Test_Store_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for range 6 {
		if err := s.RecordQuery(ctx, Query{Text: "q"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := s.Recent(ctx, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("want 4 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID >= entries[i-1].ID {
			t.Errorf("entries not newest-first: %d before %d", entries[i-1].ID, entries[i].ID)
		}
	}
}

func Test_Store_RecentNonPositive(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	entries, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", entries)
	}
}

func Test_Store_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.RecordQuery(ctx, Query{Text: "persisted"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })

	entries, err := s2.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Subject != "persisted" {
		t.Errorf("want persisted entry, got %+v", entries)
	}
}

func Test_Store_ClosedReturnsError(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()

	if err := s.RecordQuery(context.Background(), Query{Text: "x"}); err == nil {
		t.Error("expected error after close")
	}
}
