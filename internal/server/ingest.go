package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ttiwatch/internal/eventbus"
	"ttiwatch/internal/timeline"
	logx "ttiwatch/pkg/logx"
)

const ingestWriteTimeout = 5 * time.Second

var ingestUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// ingestMsg is one client frame on the ingest socket.
//
// Ops:
//   - "begin": open a session; navigation_id optional (one is assigned)
//   - "event": one timing event for the current session
//   - "abort": discard the current session
type ingestMsg struct {
	Op           string          `json:"op"`
	NavigationID string          `json:"navigation_id,omitempty"`
	Page         string          `json:"page,omitempty"`
	Event        *timeline.Event `json:"event,omitempty"`
}

// ingestReply is a server frame: the begin acknowledgement, a dispatch error,
// or the one-shot interactivity result.
type ingestReply struct {
	Type         string  `json:"type"`
	NavigationID string  `json:"navigation_id,omitempty"`
	Error        string  `json:"error,omitempty"`
	Result       any     `json:"result,omitempty"`
	Timestamp    float64 `json:"timestamp,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := ingestUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveIngestConn(conn)
}

// ingestConn serializes writes; both the reader goroutine and the result
// push loop reply on the same socket.
type ingestConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *ingestConn) write(reply ingestReply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(ingestWriteTimeout))
	return c.conn.WriteJSON(reply)
}

func (s *Server) serveIngestConn(conn *websocket.Conn) {
	defer conn.Close()
	ic := &ingestConn{conn: conn}

	var (
		mu  sync.Mutex
		nav string
	)
	currentNav := func() string {
		mu.Lock()
		defer mu.Unlock()
		return nav
	}

	events, unsubscribe := s.bus.Subscribe(32)
	defer unsubscribe()

	// Reader goroutine: client frames drive the session.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg ingestMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				_ = ic.write(ingestReply{Type: "error", Error: "malformed frame"})
				continue
			}
			switch msg.Op {
			case "begin":
				id := s.sessions.Begin(msg.NavigationID, msg.Page, time.Now())
				mu.Lock()
				nav = id
				mu.Unlock()
				_ = ic.write(ingestReply{Type: "begin", NavigationID: id})
			case "event":
				id := currentNav()
				if id == "" || msg.Event == nil {
					_ = ic.write(ingestReply{Type: "error", Error: "no open session or missing event"})
					continue
				}
				if err := s.sessions.Dispatch(id, *msg.Event); err != nil {
					_ = ic.write(ingestReply{Type: "error", NavigationID: id, Error: err.Error()})
				}
			case "abort":
				id := currentNav()
				if id != "" {
					s.sessions.Abort(id)
					mu.Lock()
					nav = ""
					mu.Unlock()
				}
			default:
				_ = ic.write(ingestReply{Type: "error", Error: "unknown op " + msg.Op})
			}
		}
	}()

	for {
		select {
		case <-done:
			// Reporters are gone; a session without its socket can never
			// deliver, so discard it.
			if id := currentNav(); id != "" {
				s.sessions.Abort(id)
			}
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != eventbus.TypeResult {
				continue
			}
			res, ok := e.Data.(eventbus.ResultEvent)
			if !ok || res.NavigationID != currentNav() {
				continue
			}
			if err := ic.write(ingestReply{
				Type:         "tti.result",
				NavigationID: res.NavigationID,
				Timestamp:    res.Timestamp,
				Result:       res,
			}); err != nil {
				s.log.Debug("ingest push failed", logx.Any("err", err))
				return
			}
		}
	}
}
