package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ResultEntry records one detected TTI. Keep it compact and schema-stable.
type ResultEntry struct {
	NavigationID string    `json:"navigation_id"`
	Page         string    `json:"page,omitempty"`
	TTIMillis    float64   `json:"tti_ms"`
	LowerBound   float64   `json:"lower_bound_ms"`
	DCLEnd       float64   `json:"dcl_end_ms"`
	LongTasks    int       `json:"long_tasks"`
	Resets       int       `json:"resets"`
	Source       string    `json:"source,omitempty"` // "live", "trace", ...
	DetectedAt   time.Time `json:"detected_at"`
}
