package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ttiwatch/internal/detector"
	"ttiwatch/internal/eventbus"
	"ttiwatch/internal/session"
	"ttiwatch/internal/storage"
	"ttiwatch/internal/timeline"
	logx "ttiwatch/pkg/logx"
)

func newTestServer(t *testing.T, store storage.Store) *httptest.Server {
	t.Helper()
	bus := eventbus.New()
	sessions := session.New(session.Config{Detector: detector.Config{QuietWindow: 40}}, logx.Nop(), bus, store)
	ctx, cancel := context.WithCancel(context.Background())
	sessions.Start(ctx)

	srv := New(Config{}, logx.Nop(), sessions, store, bus)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		sessions.Stop(context.Background())
		cancel()
	})
	return ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ingest"
}

func readReply(t *testing.T, conn *websocket.Conn) ingestReply {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply ingestReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return reply
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg ingestMsg) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func TestIngestSessionLifecycle(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	sendMsg(t, conn, ingestMsg{Op: "begin", Page: "/home"})
	ack := readReply(t, conn)
	if ack.Type != "begin" || ack.NavigationID == "" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	for _, ev := range []timeline.Event{
		{Kind: timeline.KindLowerBound, At: 0},
		{Kind: timeline.KindDCLEnd, At: 10},
	} {
		ev := ev
		sendMsg(t, conn, ingestMsg{Op: "event", Event: &ev})
	}

	res := readReply(t, conn)
	if res.Type != "tti.result" {
		t.Fatalf("expected tti.result, got %+v", res)
	}
	if res.NavigationID != ack.NavigationID {
		t.Fatalf("result for wrong navigation: %+v", res)
	}
	if res.Timestamp != 10 {
		t.Fatalf("Timestamp=%v want 10", res.Timestamp)
	}
}

func TestIngestDispatchErrorReported(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	sendMsg(t, conn, ingestMsg{Op: "begin"})
	_ = readReply(t, conn)

	ev := timeline.Event{Kind: timeline.KindRequestEnd, At: 5, RequestID: "r1", Outcome: "success"}
	sendMsg(t, conn, ingestMsg{Op: "event", Event: &ev})
	reply := readReply(t, conn)
	if reply.Type != "error" || reply.Error == "" {
		t.Fatalf("expected dispatch error, got %+v", reply)
	}
}

func TestIngestEventWithoutSessionRejected(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ev := timeline.Event{Kind: timeline.KindLowerBound, At: 0}
	sendMsg(t, conn, ingestMsg{Op: "event", Event: &ev})
	reply := readReply(t, conn)
	if reply.Type != "error" {
		t.Fatalf("expected error, got %+v", reply)
	}
}

func TestIngestRejectsCrossOrigin(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err == nil {
		t.Fatal("expected cross-origin upgrade to fail")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d want 403", resp.StatusCode)
	}
}

func TestResultsEndpoint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.jsonl")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	entry := storage.ResultEntry{
		NavigationID: "nav-1",
		TTIMillis:    4200,
		Source:       "trace",
		DetectedAt:   time.Now().UTC(),
	}
	if err := st.AppendResult(context.Background(), entry); err != nil {
		t.Fatalf("AppendResult: %v", err)
	}

	ts := newTestServer(t, st)
	resp, err := http.Get(ts.URL + "/api/results")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var got []storage.ResultEntry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].NavigationID != "nav-1" {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestResultsEndpointWithoutStore(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/results")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var got []storage.ResultEntry
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %+v", got)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
