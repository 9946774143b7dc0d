package config

// Config is the full on-disk configuration. YAML and JSON are both accepted;
// YAML is coerced to JSON before strict decoding, so unknown keys are
// rejected in either format.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Detector DetectorConfig `json:"detector,omitempty"`
	Server   ServerConfig   `json:"server,omitempty"`
	Spool    SpoolConfig    `json:"spool,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Notify   *NotifyConfig  `json:"notify,omitempty"`
	Janitor  *JanitorConfig `json:"janitor,omitempty"`
	Pprof    *PprofConfig   `json:"pprof,omitempty"`
}

// DetectorConfig tunes the detection thresholds. All durations are Go
// duration strings (e.g. "5s", "50ms").
//
// Defaults (when fields are omitted/zero):
//   - quiet_window: "5s"
//   - max_concurrent: 2
//   - long_task_threshold: "50ms"
type DetectorConfig struct {
	QuietWindow       string `json:"quiet_window,omitempty"`
	MaxConcurrent     int    `json:"max_concurrent,omitempty"`
	LongTaskThreshold string `json:"long_task_threshold,omitempty"`
}

// ServerConfig controls the HTTP/WebSocket ingest server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8787").
//   - WebSocket upgrades are same-origin checked.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8787"

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SpoolConfig controls the trace spool watcher: new *.jsonl trace files
// appearing in Dir are replayed and their results persisted.
type SpoolConfig struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`

	// Remove replayed trace files instead of leaving them in place.
	DeleteAfter bool `json:"delete_after,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./ttiwatch_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls Telegram budget alerting. Disabled unless both Token
// and ChatID are set.
type NotifyConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`

	// Budget is the TTI budget as a Go duration string (e.g. "5s"). A
	// detected TTI above it triggers an alert; empty means alert on every
	// result.
	Budget     string `json:"budget,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// JanitorConfig controls scheduled maintenance of stored results.
//
// Schedule accepts cron expressions (5- or 6-field) and descriptors like
// "@daily" or "@every 6h".
type JanitorConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`  // default: "@hourly"
	Retention string `json:"retention,omitempty"` // default: "168h" (7 days)
}

// PprofConfig controls the optional profiling server. Binding to a
// non-loopback address requires a token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards WARN+ log lines to the notify service, rate limited.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
