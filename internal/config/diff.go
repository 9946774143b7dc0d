package config

import (
	"strings"

	logx "ttiwatch/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like the
// notify token).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if oldCfg.Detector != newCfg.Detector {
		changed = append(changed, "detector")
		attrs = append(attrs,
			logx.String("detector.quiet_window", strings.TrimSpace(newCfg.Detector.QuietWindow)),
			logx.Int("detector.max_concurrent", newCfg.Detector.MaxConcurrent),
			logx.String("detector.long_task_threshold", strings.TrimSpace(newCfg.Detector.LongTaskThreshold)),
		)
	}

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
		)
	}

	if oldCfg.Spool != newCfg.Spool {
		changed = append(changed, "spool")
		attrs = append(attrs,
			logx.Bool("spool.enabled", newCfg.Spool.Enabled),
			logx.String("spool.dir", strings.TrimSpace(newCfg.Spool.Dir)),
		)
	}

	if !storageEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs,
				logx.String("storage.driver", newCfg.Storage.Driver),
				logx.String("storage.path", newCfg.Storage.Path),
			)
		}
	}

	// Notify (never log token)
	if !notifyEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		if newCfg.Notify != nil {
			attrs = append(attrs,
				logx.Bool("notify.enabled", newCfg.Notify.Enabled),
				logx.Bool("notify.token_set", strings.TrimSpace(newCfg.Notify.Token) != ""),
				logx.String("notify.budget", strings.TrimSpace(newCfg.Notify.Budget)),
			)
		}
	}

	if !janitorEqual(oldCfg.Janitor, newCfg.Janitor) {
		changed = append(changed, "janitor")
		if newCfg.Janitor != nil {
			attrs = append(attrs,
				logx.Bool("janitor.enabled", newCfg.Janitor.Enabled),
				logx.String("janitor.schedule", strings.TrimSpace(newCfg.Janitor.Schedule)),
				logx.String("janitor.retention", strings.TrimSpace(newCfg.Janitor.Retention)),
			)
		}
	}

	if !pprofEqual(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		if newCfg.Pprof != nil {
			attrs = append(attrs,
				logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
				logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
				logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			)
		}
	}

	return changed, attrs
}

func storageEqual(a, b *StorageConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func notifyEqual(a, b *NotifyConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func janitorEqual(a, b *JanitorConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func pprofEqual(a, b *PprofConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
