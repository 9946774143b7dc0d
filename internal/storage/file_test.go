package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "ttiwatch/pkg/logx"
)

func openTestStore(t *testing.T, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func entryAt(nav string, at time.Time, tti float64) ResultEntry {
	return ResultEntry{
		NavigationID: nav,
		Page:         "/checkout",
		TTIMillis:    tti,
		LowerBound:   tti,
		DCLEnd:       tti,
		Source:       "live",
		DetectedAt:   at,
	}
}

func TestFileStoreAppendAndList(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.jsonl")
	st := openTestStore(t, path)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := entryAt("nav-"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute), float64(1000+i))
		if err := st.AppendResult(ctx, e); err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
	}

	got, err := st.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
	// Newest first.
	if got[0].NavigationID != "nav-e" || got[2].NavigationID != "nav-c" {
		t.Fatalf("unexpected order: %q .. %q", got[0].NavigationID, got[2].NavigationID)
	}
}

func TestFileStoreReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.jsonl")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := st.AppendResult(ctx, entryAt("nav-1", at, 4200)); err != nil {
		t.Fatalf("AppendResult: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2 := openTestStore(t, path)
	got, err := st2.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len=%d want 1", len(got))
	}
	if got[0].NavigationID != "nav-1" || got[0].TTIMillis != 4200 {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
	if !got[0].DetectedAt.Equal(at) {
		t.Fatalf("DetectedAt=%v want %v", got[0].DetectedAt, at)
	}
}

func TestFileStorePruneBefore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.jsonl")
	st := openTestStore(t, path)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		e := entryAt("nav", base.Add(time.Duration(i)*time.Hour), 1000)
		if err := st.AppendResult(ctx, e); err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
	}

	removed, err := st.PruneBefore(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed=%d want 3", removed)
	}

	got, err := st.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
	for _, e := range got {
		if e.DetectedAt.Before(base.Add(3 * time.Hour)) {
			t.Fatalf("pruned entry survived: %v", e.DetectedAt)
		}
	}

	// Prune with no effect reports zero.
	removed, err = st.PruneBefore(ctx, base)
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed=%d want 0", removed)
	}
}

func TestFileStorePrunePersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.jsonl")
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := st.AppendResult(ctx, entryAt("nav", base.Add(time.Duration(i)*time.Hour), 1000)); err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
	}
	if _, err := st.PruneBefore(ctx, base.Add(2*time.Hour)); err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	// Append after the rewrite to check the handle was reopened.
	if err := st.AppendResult(ctx, entryAt("nav", base.Add(10*time.Hour), 1000)); err != nil {
		t.Fatalf("AppendResult after prune: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2 := openTestStore(t, path)
	got, err := st2.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q): expected nil store", driver)
		}
	}

	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
