// Package timeline defines the event model shared by trace replay, the live
// ingest endpoint and the session layer, and the time-ordered merge of the
// three reporter streams feeding the detector.
package timeline

import (
	"fmt"

	"ttiwatch/internal/detector"
)

// Kind discriminates timeline events. The spellings double as the wire/trace
// vocabulary.
type Kind string

const (
	KindLongTask     Kind = "longtask"
	KindRequestStart Kind = "request_start"
	KindRequestEnd   Kind = "request_end"
	KindLowerBound   Kind = "lower_bound"
	KindDCLEnd       Kind = "dcl_end"
)

// Event is one timestamped occurrence from any of the three reporter streams.
// At is the primary ordering timestamp; for long tasks it is the task start
// and End carries the task end.
type Event struct {
	Kind Kind               `json:"type"`
	At   detector.TimePoint `json:"at"`

	// Long task only.
	End detector.TimePoint `json:"end,omitempty"`

	// Request lifecycle only.
	RequestID string `json:"id,omitempty"`
	Method    string `json:"method,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// Validate checks the per-kind field contract.
func (e Event) Validate() error {
	if e.At < 0 {
		return fmt.Errorf("event %s: negative timestamp %v", e.Kind, e.At)
	}
	switch e.Kind {
	case KindLongTask:
		if e.End < e.At {
			return fmt.Errorf("longtask: end %v precedes start %v", e.End, e.At)
		}
	case KindRequestStart:
		if e.RequestID == "" {
			return fmt.Errorf("request_start: missing id")
		}
		if e.Method == "" {
			return fmt.Errorf("request_start %q: missing method", e.RequestID)
		}
	case KindRequestEnd:
		if e.RequestID == "" {
			return fmt.Errorf("request_end: missing id")
		}
		if _, err := detector.ParseOutcome(e.Outcome); err != nil {
			return fmt.Errorf("request_end %q: %w", e.RequestID, err)
		}
	case KindLowerBound, KindDCLEnd:
		// timestamp only
	default:
		return fmt.Errorf("unknown event type %q", e.Kind)
	}
	return nil
}

// Apply feeds one event into the detector.
func Apply(d *detector.Detector, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	switch e.Kind {
	case KindLongTask:
		return d.ObserveLongTask(e.At, e.End)
	case KindRequestStart:
		return d.ObserveRequestStart(e.RequestID, e.Method, e.At)
	case KindRequestEnd:
		outcome, err := detector.ParseOutcome(e.Outcome)
		if err != nil {
			return err
		}
		return d.ObserveRequestEnd(e.RequestID, outcome, e.At)
	case KindLowerBound:
		return d.ObserveLowerBound(e.At)
	case KindDCLEnd:
		return d.ObserveDOMContentLoadedEnd(e.At)
	default:
		return fmt.Errorf("unknown event type %q", e.Kind)
	}
}

// StreamOf maps an event to its logical reporter stream. Each stream is
// individually time-ordered; cross-stream order is established by Merge.
func StreamOf(k Kind) int {
	switch k {
	case KindLongTask:
		return 0
	case KindRequestStart, KindRequestEnd:
		return 1
	default:
		return 2
	}
}

// NumStreams is the count of logical reporter streams.
const NumStreams = 3
