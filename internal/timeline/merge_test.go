package timeline

import (
	"testing"

	"ttiwatch/internal/detector"
)

func tp(v float64) detector.TimePoint { return detector.TimePoint(v) }

func TestMergeOrdersAcrossStreams(t *testing.T) {
	t.Parallel()
	tasks := []Event{
		{Kind: KindLongTask, At: tp(100), End: tp(200)},
		{Kind: KindLongTask, At: tp(900), End: tp(1000)},
	}
	network := []Event{
		{Kind: KindRequestStart, At: tp(50), RequestID: "a", Method: "GET"},
		{Kind: KindRequestEnd, At: tp(400), RequestID: "a", Outcome: "success"},
	}
	milestones := []Event{
		{Kind: KindLowerBound, At: tp(300)},
		{Kind: KindDCLEnd, At: tp(500)},
	}

	merged, err := Merge(tasks, network, milestones)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	wantOrder := []Kind{KindRequestStart, KindLongTask, KindLowerBound, KindRequestEnd, KindDCLEnd, KindLongTask}
	if len(merged) != len(wantOrder) {
		t.Fatalf("merged %d events, want %d", len(merged), len(wantOrder))
	}
	for i, k := range wantOrder {
		if merged[i].Kind != k {
			t.Fatalf("merged[%d].Kind = %s, want %s", i, merged[i].Kind, k)
		}
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].At < merged[i-1].At {
			t.Fatalf("merged output out of order at %d", i)
		}
	}
}

func TestMergeStableForEqualTimestamps(t *testing.T) {
	t.Parallel()
	a := []Event{{Kind: KindLongTask, At: tp(100), End: tp(200)}}
	b := []Event{{Kind: KindLowerBound, At: tp(100)}}

	merged, err := Merge(a, b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged[0].Kind != KindLongTask || merged[1].Kind != KindLowerBound {
		t.Fatalf("equal timestamps must keep stream argument order, got %s then %s",
			merged[0].Kind, merged[1].Kind)
	}
}

func TestMergeRejectsUnorderedStream(t *testing.T) {
	t.Parallel()
	bad := []Event{
		{Kind: KindLowerBound, At: tp(500)},
		{Kind: KindDCLEnd, At: tp(100)},
	}
	if _, err := Merge(bad); err == nil {
		t.Fatal("expected error for out-of-order stream")
	}
}

func TestSplitPreservesRelativeOrder(t *testing.T) {
	t.Parallel()
	events := []Event{
		{Kind: KindRequestStart, At: tp(10), RequestID: "a", Method: "GET"},
		{Kind: KindLowerBound, At: tp(20)},
		{Kind: KindRequestEnd, At: tp(30), RequestID: "a", Outcome: "success"},
		{Kind: KindLongTask, At: tp(40), End: tp(140)},
		{Kind: KindDCLEnd, At: tp(50)},
	}
	streams := Split(events)
	if len(streams[StreamOf(KindLongTask)]) != 1 {
		t.Fatalf("task stream length = %d, want 1", len(streams[StreamOf(KindLongTask)]))
	}
	net := streams[StreamOf(KindRequestStart)]
	if len(net) != 2 || net[0].Kind != KindRequestStart || net[1].Kind != KindRequestEnd {
		t.Fatalf("network stream mangled: %+v", net)
	}
	ms := streams[StreamOf(KindLowerBound)]
	if len(ms) != 2 || ms[0].Kind != KindLowerBound {
		t.Fatalf("milestone stream mangled: %+v", ms)
	}
}

func TestEventValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{name: "ok longtask", ev: Event{Kind: KindLongTask, At: tp(0), End: tp(100)}},
		{name: "inverted longtask", ev: Event{Kind: KindLongTask, At: tp(100), End: tp(50)}, wantErr: true},
		{name: "request start no id", ev: Event{Kind: KindRequestStart, At: tp(0), Method: "GET"}, wantErr: true},
		{name: "request start no method", ev: Event{Kind: KindRequestStart, At: tp(0), RequestID: "a"}, wantErr: true},
		{name: "request end bad outcome", ev: Event{Kind: KindRequestEnd, At: tp(0), RequestID: "a", Outcome: "maybe"}, wantErr: true},
		{name: "negative time", ev: Event{Kind: KindLowerBound, At: tp(-1)}, wantErr: true},
		{name: "unknown kind", ev: Event{Kind: "paint", At: tp(0)}, wantErr: true},
		{name: "ok milestone", ev: Event{Kind: KindDCLEnd, At: tp(123.5)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
