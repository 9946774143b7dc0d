package detector

import (
	"errors"
	"fmt"
)

// TimePoint is a monotonic high-resolution timestamp in milliseconds since
// navigation start.
type TimePoint float64

// Millis returns the timestamp as plain float64 milliseconds.
func (t TimePoint) Millis() float64 { return float64(t) }

// Outcome is the terminal state of a network request.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ParseOutcome maps the wire spelling used by traces and the ingest protocol.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "success":
		return OutcomeSuccess, nil
	case "failed":
		return OutcomeFailed, nil
	default:
		return OutcomePending, fmt.Errorf("unknown outcome %q", s)
	}
}

// LongTask is a main-thread task whose duration exceeded the long-task
// threshold. Immutable once reported.
type LongTask struct {
	Start TimePoint
	End   TimePoint
}

func (t LongTask) Duration() TimePoint { return t.End - t.Start }

// Result is the one-shot detection outcome.
type Result struct {
	// Timestamp is the computed TTI instant, same time base as the inputs.
	Timestamp TimePoint

	// LowerBound and DCLEnd echo the milestones that bounded the detection.
	LowerBound TimePoint
	DCLEnd     TimePoint

	// LongTasks counts tasks observed, Resets counts window restarts they
	// (or the milestones) caused.
	LongTasks int
	Resets    int
}

// Config tunes the detection thresholds. The zero value is usable; defaults
// match the documented algorithm.
type Config struct {
	// QuietWindow is the trailing interval (ms) that must stay network-quiet
	// before the candidate window is accepted. Default 5000.
	QuietWindow TimePoint

	// MaxConcurrent is the number of simultaneous qualifying requests
	// tolerated indefinitely without breaking quiescence. Default 2.
	MaxConcurrent int

	// LongTaskThreshold (ms) validates reported long tasks. Default 50.
	LongTaskThreshold TimePoint
}

const (
	DefaultQuietWindow       TimePoint = 5000
	DefaultMaxConcurrent               = 2
	DefaultLongTaskThreshold TimePoint = 50
)

func (c Config) withDefaults() Config {
	if c.QuietWindow <= 0 {
		c.QuietWindow = DefaultQuietWindow
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.LongTaskThreshold <= 0 {
		c.LongTaskThreshold = DefaultLongTaskThreshold
	}
	return c
}

// Contract violations. Input streams are trusted but not blindly: a
// logically inconsistent report fails fast instead of corrupting state.
var (
	ErrUnknownRequest    = errors.New("request end for unknown id")
	ErrDuplicateRequest  = errors.New("request start for active id")
	ErrDuplicateLower    = errors.New("lower bound milestone reported twice")
	ErrDuplicateDCL      = errors.New("domcontentloaded end reported twice")
	ErrInvertedInterval  = errors.New("interval end precedes start")
	ErrBelowThreshold    = errors.New("task shorter than long-task threshold")
	ErrPendingOutcome    = errors.New("request end must resolve to success or failed")
	ErrNegativeTimePoint = errors.New("negative timestamp")
)
