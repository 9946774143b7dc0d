package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: TypeResult, Data: ResultEvent{Name: "interactive", Category: "interactive", Timestamp: 1234}})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeResult {
				t.Fatalf("subscriber %d got type %q", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: publish time not stamped", i)
			}
			res, ok := e.Data.(ResultEvent)
			if !ok || res.Timestamp != 1234 {
				t.Fatalf("subscriber %d: unexpected payload %+v", i, e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeSessionBegin})
	b.Publish(Event{Type: TypeSessionAbort}) // buffer full; must not block

	e := <-ch
	if e.Type != TypeSessionBegin {
		t.Fatalf("got %q, want the first event", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected second event dropped, got %q", e.Type)
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TypeTraceReplay})
}
