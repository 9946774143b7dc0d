// Package detector computes a single Time-to-Interactive (TTI) instant for a
// page load from three timestamped event streams: main-thread long tasks,
// network request lifecycle, and page lifecycle milestones.
//
// # Model
//
// The detector grows a candidate window [windowStart, now]. A long task that
// intersects the window resets windowStart to the task's end. The window is
// accepted once the trailing quiet interval (default 5s) has stayed
// network-quiet: at most MaxConcurrent (default 2) in-flight qualifying
// requests at every instant, where qualifying means method GET and not failed.
// The accepted TTI is windowStart, floored post-hoc by the DOMContentLoaded
// end milestone.
//
// # Ownership
//
// A Detector is not safe for concurrent use. It is designed to be owned by a
// single goroutine that serializes events (see internal/session). It performs
// no I/O and keeps no clock; the owner drives virtual time via AdvanceTo and
// may use Deadline to arm a timer instead of polling.
//
// A page load that never goes quiet never produces a result. That is the
// documented behavior, not an error.
package detector
