package detector

import "sort"

// netWindow is the running concurrency structure over qualifying (GET,
// non-failed) requests. It retains only what can still influence a trailing
// quiet window: currently open requests plus resolved intervals that ended
// inside the retention horizon. A request that fails is erased entirely, so a
// failed GET never counts toward concurrency no matter when it ran.
type netWindow struct {
	limit int

	open map[string]TimePoint // id -> start
	done []span               // resolved successful intervals, ascending end
}

// span is a half-open interval [start, end). Two requests that trade places
// at the same instant do not stack.
type span struct {
	start TimePoint
	end   TimePoint
}

func newNetWindow(limit int) *netWindow {
	return &netWindow{limit: limit, open: map[string]TimePoint{}}
}

func (w *netWindow) has(id string) bool {
	_, ok := w.open[id]
	return ok
}

func (w *netWindow) start(id string, at TimePoint) {
	w.open[id] = at
}

// finish resolves an open request as successful, keeping its interval.
func (w *netWindow) finish(id string, at TimePoint) {
	st, ok := w.open[id]
	if !ok {
		return
	}
	delete(w.open, id)
	if at < st {
		at = st
	}
	w.done = append(w.done, span{start: st, end: at})
}

// drop erases an open request as if it never ran (failure path).
func (w *netWindow) drop(id string) {
	delete(w.open, id)
}

// prune discards resolved intervals that ended before the horizon. Open
// requests are always retained.
func (w *netWindow) prune(horizon TimePoint) {
	if len(w.done) == 0 {
		return
	}
	kept := w.done[:0]
	for _, s := range w.done {
		if s.end >= horizon {
			kept = append(kept, s)
		}
	}
	w.done = kept
}

// concurrency reports the number of requests in flight at the given instant.
func (w *netWindow) concurrency(at TimePoint) int {
	n := 0
	for _, st := range w.open {
		if st <= at {
			n++
		}
	}
	for _, s := range w.done {
		if s.start <= at && at < s.end {
			n++
		}
	}
	return n
}

// boundary is a +1/-1 concurrency step used by the sweep.
type boundary struct {
	at    TimePoint
	delta int
}

// lastBusy sweeps the retained intervals up to now and reports the latest
// instant at which concurrency exceeded the limit (the moment it fell back
// within bounds), and whether it still exceeds the limit at now. busy=0 with
// ever=false means quiescence was never broken within the retained horizon.
func (w *netWindow) lastBusy(now TimePoint) (busy TimePoint, ever, busyNow bool) {
	n := len(w.open) + len(w.done)
	if n <= w.limit {
		return 0, false, false
	}

	bounds := make([]boundary, 0, 2*n)
	for _, st := range w.open {
		if st <= now {
			bounds = append(bounds, boundary{at: st, delta: +1})
		}
	}
	for _, s := range w.done {
		if s.start <= now {
			bounds = append(bounds, boundary{at: s.start, delta: +1})
		}
		if s.end <= now {
			bounds = append(bounds, boundary{at: s.end, delta: -1})
		}
	}
	// Half-open intervals: apply releases before acquisitions at equal times.
	sort.Slice(bounds, func(i, j int) bool {
		if bounds[i].at != bounds[j].at {
			return bounds[i].at < bounds[j].at
		}
		return bounds[i].delta < bounds[j].delta
	})

	count := 0
	above := false
	for _, b := range bounds {
		count += b.delta
		if count > w.limit {
			above = true
			ever = true
		} else if above {
			above = false
			busy = b.at
		}
	}
	return busy, ever, above
}
