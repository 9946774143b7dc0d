package app

import (
	"fmt"
	"strings"
	"time"

	"ttiwatch/internal/detector"
	"ttiwatch/internal/janitor"
	"ttiwatch/internal/notify"
	"ttiwatch/internal/observability/pprof"
	"ttiwatch/internal/server"
	logx "ttiwatch/pkg/logx"
)

// DetectorConfigFrom exposes the detector mapping for the trace-replay CLI
// path, which skips the full App.
func DetectorConfigFrom(cfg *Config) (detector.Config, error) {
	return mapDetectorConfig(cfg)
}

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

// mapDetectorConfig converts duration strings to the detector's millisecond
// timeline. Zero fields keep the detector defaults.
func mapDetectorConfig(cfg *Config) (detector.Config, error) {
	var out detector.Config
	if raw := strings.TrimSpace(cfg.Detector.QuietWindow); raw != "" {
		d, err := parseDurationField("detector.quiet_window", raw)
		if err != nil {
			return out, err
		}
		out.QuietWindow = detector.TimePoint(float64(d) / float64(time.Millisecond))
	}
	if cfg.Detector.MaxConcurrent < 0 {
		return out, fmt.Errorf("detector.max_concurrent must not be negative")
	}
	out.MaxConcurrent = cfg.Detector.MaxConcurrent
	if raw := strings.TrimSpace(cfg.Detector.LongTaskThreshold); raw != "" {
		d, err := parseDurationField("detector.long_task_threshold", raw)
		if err != nil {
			return out, err
		}
		out.LongTaskThreshold = detector.TimePoint(float64(d) / float64(time.Millisecond))
	}
	return out, nil
}

func mapServerConfig(cfg *Config) (server.Config, error) {
	read, err := parseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	write, err := parseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 0)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := parseDurationOrDefault("server.idle_timeout", cfg.Server.IdleTimeout, 60*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

func mapNotifyConfig(cfg *Config) (notify.Config, error) {
	if cfg.Notify == nil {
		return notify.Config{}, nil
	}
	budget, err := parseDurationOrDefault("notify.budget", cfg.Notify.Budget, 0)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:    cfg.Notify.Enabled,
		Token:      cfg.Notify.Token,
		ChatID:     cfg.Notify.ChatID,
		Budget:     budget,
		RatePerSec: cfg.Notify.RatePerSec,
	}, nil
}

func mapPprofConfig(cfg *Config) pprof.Config {
	if cfg.Pprof == nil {
		return pprof.Config{}
	}
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
		ReadTimeout:   10 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}

func mapJanitorConfig(cfg *Config) (janitor.Config, error) {
	if cfg.Janitor == nil {
		return janitor.Config{}, nil
	}
	retention, err := parseDurationOrDefault("janitor.retention", cfg.Janitor.Retention, 168*time.Hour)
	if err != nil {
		return janitor.Config{}, err
	}
	return janitor.Config{
		Enabled:   cfg.Janitor.Enabled,
		Schedule:  cfg.Janitor.Schedule,
		Retention: retention,
	}, nil
}
