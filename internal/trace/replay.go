package trace

import (
	"ttiwatch/internal/detector"
	"ttiwatch/internal/timeline"
)

// Replay feeds a time-ordered timeline into the detector and reports the
// detected TTI, if any. Events arriving after the window is accepted are
// ignored, matching live behavior.
//
// A recording covers a finished page load, so the page is taken to stay quiet
// past the last event: if the quiet window is still running out at end, the
// clock is advanced to its deadline before giving up. No result means the
// recording never satisfied the quiet conditions (open requests, sustained
// concurrency, or a missing milestone).
func Replay(d *detector.Detector, events []timeline.Event, end detector.TimePoint) (detector.Result, bool, error) {
	for _, e := range events {
		if res, ok := d.AdvanceTo(e.At); ok {
			return res, true, nil
		}
		if err := timeline.Apply(d, e); err != nil {
			return detector.Result{}, false, err
		}
	}

	if res, ok := d.AdvanceTo(end); ok {
		return res, true, nil
	}
	if deadline, ok := d.Deadline(); ok && deadline > end {
		if res, ok := d.AdvanceTo(deadline); ok {
			return res, true, nil
		}
	}
	return detector.Result{}, false, nil
}

// ReplayFile reads the recording at path and replays it on a fresh detector
// with the given configuration.
func ReplayFile(path string, cfg detector.Config) (detector.Result, bool, error) {
	events, err := ReadFile(path)
	if err != nil {
		return detector.Result{}, false, err
	}
	d := detector.New(cfg)
	return Replay(d, events, EndOf(events))
}
