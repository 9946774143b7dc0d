package detector

import "fmt"

type state int

const (
	// stateIdle: lower bound milestone not yet known; events are recorded but
	// no candidate window exists.
	stateIdle state = iota
	// stateAccumulating: candidate window [windowStart, now] is growing.
	stateAccumulating
	// stateFinalized: TTI emitted; further events are ignored.
	stateFinalized
)

// Detector is the online candidate-window state machine. See the package
// documentation for the model. Not safe for concurrent use.
type Detector struct {
	cfg Config

	st  state
	now TimePoint

	windowStart TimePoint

	lowerBound TimePoint
	haveLower  bool
	dclEnd     TimePoint
	haveDCL    bool

	net *netWindow

	// nonQualifying tracks open requests that never count toward concurrency
	// (non-GET). Kept only so the paired end event can be validated.
	nonQualifying map[string]bool

	// maxTaskEnd is the latest long-task end seen so far. It is enough to
	// apply resets: tasks are reported after completion, so any task whose
	// end reaches windowStart intersects (or touches) the window.
	maxTaskEnd TimePoint
	taskCount  int
	resets     int

	res  Result
	done bool
}

// New returns a Detector with cfg defaults filled in.
func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	return &Detector{
		cfg: cfg,
		net: newNetWindow(cfg.MaxConcurrent),
	}
}

// Finalized reports whether the one-shot result has been produced.
func (d *Detector) Finalized() bool { return d.st == stateFinalized }

// Result returns the emitted result, if any.
func (d *Detector) Result() (Result, bool) {
	if d.st != stateFinalized {
		return Result{}, false
	}
	return d.res, true
}

// Now returns the current virtual time (latest timestamp observed).
func (d *Detector) Now() TimePoint { return d.now }

// WindowStart exposes the current candidate window floor. It is monotonically
// non-decreasing for the lifetime of the detector.
func (d *Detector) WindowStart() (TimePoint, bool) {
	return d.windowStart, d.st == stateAccumulating
}

func (d *Detector) advance(at TimePoint) {
	if at > d.now {
		d.now = at
		d.net.prune(d.now - d.cfg.QuietWindow)
	}
}

// ObserveLongTask records a completed long task. A task whose interval
// intersects or touches the candidate window resets windowStart to the task's
// end; the window keeps growing from the later floor.
func (d *Detector) ObserveLongTask(start, end TimePoint) error {
	if d.st == stateFinalized {
		return nil
	}
	if start < 0 {
		return fmt.Errorf("long task [%v, %v]: %w", start, end, ErrNegativeTimePoint)
	}
	if end < start {
		return fmt.Errorf("long task [%v, %v]: %w", start, end, ErrInvertedInterval)
	}
	if end-start <= d.cfg.LongTaskThreshold {
		return fmt.Errorf("long task [%v, %v]: %w (%vms)", start, end, ErrBelowThreshold, d.cfg.LongTaskThreshold)
	}
	d.taskCount++
	if end > d.maxTaskEnd {
		d.maxTaskEnd = end
	}
	d.advance(end)
	if d.st == stateAccumulating && end >= d.windowStart {
		if end > d.windowStart {
			d.windowStart = end
		}
		d.resets++
	}
	return nil
}

// ObserveRequestStart records the start of a network request. Only GET
// requests participate in concurrency accounting; everything else is tracked
// solely to validate the paired end event.
func (d *Detector) ObserveRequestStart(id, method string, at TimePoint) error {
	if d.st == stateFinalized {
		return nil
	}
	if at < 0 {
		return fmt.Errorf("request %q start: %w", id, ErrNegativeTimePoint)
	}
	if d.net.has(id) || d.nonQualifying[id] {
		return fmt.Errorf("request %q: %w", id, ErrDuplicateRequest)
	}
	d.advance(at)
	if isGET(method) {
		d.net.start(id, at)
		return nil
	}
	if d.nonQualifying == nil {
		d.nonQualifying = map[string]bool{}
	}
	d.nonQualifying[id] = true
	return nil
}

// ObserveRequestEnd resolves a request. A failed request is erased from the
// concurrency history entirely, as if it never ran.
func (d *Detector) ObserveRequestEnd(id string, outcome Outcome, at TimePoint) error {
	if d.st == stateFinalized {
		return nil
	}
	if outcome != OutcomeSuccess && outcome != OutcomeFailed {
		return fmt.Errorf("request %q: %w", id, ErrPendingOutcome)
	}
	if at < 0 {
		return fmt.Errorf("request %q end: %w", id, ErrNegativeTimePoint)
	}
	if d.nonQualifying[id] {
		delete(d.nonQualifying, id)
		d.advance(at)
		return nil
	}
	if !d.net.has(id) {
		return fmt.Errorf("request %q: %w", id, ErrUnknownRequest)
	}
	if outcome == OutcomeFailed {
		d.net.drop(id)
	} else {
		d.net.finish(id, at)
	}
	d.advance(at)
	return nil
}

// ObserveLowerBound installs the earliest instant the candidate window may
// start from (a meaningful-paint-equivalent milestone). Single assignment.
func (d *Detector) ObserveLowerBound(at TimePoint) error {
	if d.st == stateFinalized {
		return nil
	}
	if d.haveLower {
		return ErrDuplicateLower
	}
	if at < 0 {
		return fmt.Errorf("lower bound: %w", ErrNegativeTimePoint)
	}
	d.haveLower = true
	d.lowerBound = at
	d.advance(at)

	d.windowStart = at
	// A task already on record may straddle the fresh window.
	if d.taskCount > 0 && d.maxTaskEnd >= d.windowStart {
		if d.maxTaskEnd > d.windowStart {
			d.windowStart = d.maxTaskEnd
		}
		d.resets++
	}
	d.st = stateAccumulating
	return nil
}

// ObserveDOMContentLoadedEnd installs the document-parse floor. Single
// assignment. The floor is applied after window acceptance, never folded into
// the window's lower bound.
func (d *Detector) ObserveDOMContentLoadedEnd(at TimePoint) error {
	if d.st == stateFinalized {
		return nil
	}
	if d.haveDCL {
		return ErrDuplicateDCL
	}
	if at < 0 {
		return fmt.Errorf("domcontentloaded end: %w", ErrNegativeTimePoint)
	}
	d.haveDCL = true
	d.dclEnd = at
	d.advance(at)
	return nil
}

// AdvanceTo moves virtual time forward (a smaller value is a no-op) and
// reports the result if the window is now accepted. The emission is one-shot:
// once finalized the detector returns the same result forever and ignores
// further events.
func (d *Detector) AdvanceTo(now TimePoint) (Result, bool) {
	if d.st == stateFinalized {
		return d.res, true
	}
	d.advance(now)
	if d.tryFinalize() {
		return d.res, true
	}
	return Result{}, false
}

// Deadline reports the earliest instant at which, absent further events, the
// quiet conditions would hold. No deadline exists while the detector is idle,
// finalized, or concurrency currently exceeds the limit (only a request end
// can change that). Emission may additionally wait on the DOMContentLoaded
// milestone; callers re-arm on every event, so that resolves itself.
func (d *Detector) Deadline() (TimePoint, bool) {
	if d.st != stateAccumulating {
		return 0, false
	}
	busy, ever, busyNow := d.net.lastBusy(d.now)
	if busyNow {
		return 0, false
	}
	floor := d.windowStart
	if ever && busy > floor {
		floor = busy
	}
	return floor + d.cfg.QuietWindow, true
}

func (d *Detector) tryFinalize() bool {
	if d.st != stateAccumulating || !d.haveDCL {
		return false
	}
	deadline, ok := d.Deadline()
	if !ok || d.now < deadline {
		return false
	}

	tti := d.windowStart
	if d.dclEnd > tti {
		tti = d.dclEnd
	}
	d.res = Result{
		Timestamp:  tti,
		LowerBound: d.lowerBound,
		DCLEnd:     d.dclEnd,
		LongTasks:  d.taskCount,
		Resets:     d.resets,
	}
	d.st = stateFinalized
	// Terminal: release the working state.
	d.net = newNetWindow(d.cfg.MaxConcurrent)
	d.nonQualifying = nil
	return true
}

func isGET(method string) bool {
	if method == "GET" {
		return true
	}
	if len(method) != 3 {
		return false
	}
	return (method[0] == 'g' || method[0] == 'G') &&
		(method[1] == 'e' || method[1] == 'E') &&
		(method[2] == 't' || method[2] == 'T')
}
