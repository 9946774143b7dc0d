package trace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ttiwatch/internal/detector"
	logx "ttiwatch/pkg/logx"
)

const quietTrace = `
# quiet page: one long task, two finished requests
{"type":"lower_bound","at":0}
{"type":"dcl_end","at":200}
{"type":"longtask","at":300,"end":400}
{"type":"request_start","at":500,"id":"r1","method":"GET"}
{"type":"request_end","at":900,"id":"r1","outcome":"success"}
`

func TestReadOrdersAndValidates(t *testing.T) {
	t.Parallel()

	events, err := Read(strings.NewReader(quietTrace))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("len=%d want 5", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].At < events[i-1].At {
			t.Fatalf("events not ordered at %d", i)
		}
	}
	if got := EndOf(events); got != 900 {
		t.Fatalf("EndOf=%v want 900", got)
	}
}

func TestReadRejectsUnknownField(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader(`{"type":"lower_bound","at":0,"bogus":1}`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestReadRejectsUnorderedStream(t *testing.T) {
	t.Parallel()

	in := `
{"type":"longtask","at":500,"end":600}
{"type":"longtask","at":100,"end":200}
`
	_, err := Read(strings.NewReader(in))
	if err == nil {
		t.Fatal("expected error for out-of-order long task stream")
	}
}

func TestReadRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader(`{"type":"request_end","at":10,"id":"r1","outcome":"maybe"}`))
	if err == nil {
		t.Fatal("expected error for bad outcome")
	}
}

func TestReplayQuietPage(t *testing.T) {
	t.Parallel()

	events, err := Read(strings.NewReader(quietTrace))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	d := detector.New(detector.Config{})
	res, ok, err := Replay(d, events, EndOf(events))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !ok {
		t.Fatal("expected a result")
	}
	// Window restarts at the task end; the quiet window then runs out past
	// the recording's last event.
	if res.Timestamp != 400 {
		t.Fatalf("Timestamp=%v want 400", res.Timestamp)
	}
	if res.LongTasks != 1 || res.Resets != 1 {
		t.Fatalf("unexpected counters: %+v", res)
	}
}

func TestReplayStopsAtOpenRequests(t *testing.T) {
	t.Parallel()

	in := `
{"type":"lower_bound","at":0}
{"type":"dcl_end","at":100}
{"type":"request_start","at":200,"id":"a","method":"GET"}
{"type":"request_start","at":210,"id":"b","method":"GET"}
{"type":"request_start","at":220,"id":"c","method":"GET"}
`
	events, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	d := detector.New(detector.Config{})
	_, ok, err := Replay(d, events, EndOf(events))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if ok {
		t.Fatal("expected no result with three requests still open")
	}
}

func TestReplayIgnoresEventsAfterAcceptance(t *testing.T) {
	t.Parallel()

	in := `
{"type":"lower_bound","at":0}
{"type":"dcl_end","at":100}
{"type":"longtask","at":20000,"end":20100}
`
	events, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	d := detector.New(detector.Config{})
	res, ok, err := Replay(d, events, EndOf(events))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !ok {
		t.Fatal("expected a result")
	}
	// Quiet held through 5000 long before the stray task at 20000.
	if res.Timestamp != 100 {
		t.Fatalf("Timestamp=%v want 100", res.Timestamp)
	}
	if res.LongTasks != 0 {
		t.Fatalf("LongTasks=%d want 0", res.LongTasks)
	}
}

func TestReplayFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "load.jsonl")
	if err := os.WriteFile(path, []byte(quietTrace), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	res, ok, err := ReplayFile(path, detector.Config{})
	if err != nil {
		t.Fatalf("ReplayFile: %v", err)
	}
	if !ok || res.Timestamp != 400 {
		t.Fatalf("got ok=%v res=%+v", ok, res)
	}
}

func TestSpoolWatcherPicksUpExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "load.jsonl")
	if err := os.WriteFile(path, []byte(quietTrace), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got := make(chan string, 1)
	w := NewSpoolWatcher(dir, logx.Nop(), func(ctx context.Context, p string) {
		select {
		case got <- p:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	select {
	case p := <-got:
		if p != path {
			t.Fatalf("handler got %q want %q", p, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never fired for existing file")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestSpoolWatcherPicksUpNewFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got := make(chan string, 1)
	w := NewSpoolWatcher(dir, logx.Nop(), func(ctx context.Context, p string) {
		select {
		case got <- p:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Give the watcher a moment to attach before dropping the file.
	time.Sleep(300 * time.Millisecond)
	path := filepath.Join(dir, "new.jsonl")
	if err := os.WriteFile(path, []byte(quietTrace), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case p := <-got:
		if p != path {
			t.Fatalf("handler got %q want %q", p, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never fired for new file")
	}
}
