package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published on the bus.
const (
	TypeResult       = "tti.result"      // Data: ResultEvent
	TypeSessionBegin = "session.begin"   // Data: SessionEvent
	TypeSessionAbort = "session.abort"   // Data: SessionEvent
	TypeTraceReplay  = "trace.replayed"  // Data: ReplayEvent
	TypeConfigReload = "config.reloaded" // Data: nil
)

// ResultEvent is the one-shot interactivity notification. Name and Category
// are constant ("interactive"); Duration is always zero. Timestamp is in
// milliseconds since the session's navigation start.
type ResultEvent struct {
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Timestamp    float64 `json:"timestamp"`
	Duration     float64 `json:"duration"`
	NavigationID string  `json:"navigation_id"`
	Page         string  `json:"page,omitempty"`
}

// SessionEvent marks a navigation lifecycle change.
type SessionEvent struct {
	NavigationID string `json:"navigation_id"`
	Page         string `json:"page,omitempty"`
}

// ReplayEvent reports a trace file replay outcome.
type ReplayEvent struct {
	Path     string  `json:"path"`
	Detected bool    `json:"detected"`
	TTI      float64 `json:"tti,omitempty"`
}

// Event is a lightweight, in-memory signal used to decouple the detection
// pipeline from its observers (storage writer, notifier, ingest sockets).
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no background
// goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
