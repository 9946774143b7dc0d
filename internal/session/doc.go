// Package session owns the live detectors, one per navigation. All event
// dispatch for a navigation is serialized through the service mutex, so the
// detector itself never sees concurrent callers. Acceptance is driven by a
// per-session timer armed from the detector's deadline rather than by
// polling.
package session
