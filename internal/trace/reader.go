// Package trace reads recorded page-load timelines from JSON Lines files,
// replays them through a detector, and watches a spool directory for new
// recordings.
package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"ttiwatch/internal/detector"
	"ttiwatch/internal/timeline"
)

// Read decodes a JSONL timeline: one event object per line, blank lines and
// `#` comment lines skipped. Decoding is strict (unknown fields rejected) and
// every event is validated. The result is globally time-ordered; a reporter
// stream recorded out of order is an error, not something to silently fix.
func Read(r io.Reader) ([]timeline.Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []timeline.Event
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var e timeline.Event
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		if dec.More() {
			return nil, fmt.Errorf("trace line %d: trailing data after event", line)
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	streams := timeline.Split(events)
	ordered, err := timeline.Merge(streams[0], streams[1], streams[2])
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// ReadFile reads and orders the timeline stored at path.
func ReadFile(path string) ([]timeline.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	events, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

// EndOf reports the recording's end instant: the latest timestamp any event
// carries (a long task's end counts). Zero for an empty timeline.
func EndOf(events []timeline.Event) detector.TimePoint {
	var end detector.TimePoint
	for _, e := range events {
		if e.At > end {
			end = e.At
		}
		if e.Kind == timeline.KindLongTask && e.End > end {
			end = e.End
		}
	}
	return end
}

// IsTraceFile reports whether name looks like a spool recording.
func IsTraceFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".jsonl")
}
