// Package app wires configuration, logging, storage and the detection
// services into one runnable unit.
package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ttiwatch/internal/detector"
	"ttiwatch/internal/eventbus"
	"ttiwatch/internal/janitor"
	"ttiwatch/internal/notify"
	"ttiwatch/internal/observability/pprof"
	"ttiwatch/internal/server"
	"ttiwatch/internal/session"
	"ttiwatch/internal/storage"
	"ttiwatch/internal/trace"
	logx "ttiwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	sessions *session.Service
	srv      *server.Server
	notif    *notify.Service
	jan      *janitor.Service
	prof     *pprof.Service
	spool    *trace.SpoolWatcher

	detMu       sync.Mutex
	detCfg      detector.Config
	spoolDelete bool
}

func (a *App) detectorConfig() detector.Config {
	a.detMu.Lock()
	defer a.detMu.Unlock()
	return a.detCfg
}

func (a *App) setDetectorConfig(cfg detector.Config) {
	a.detMu.Lock()
	a.detCfg = cfg
	a.detMu.Unlock()
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Logging service mapping
	// Important: logx.New() calls Apply() immediately. The alert sink target
	// (the notify service) doesn't exist yet, so bootstrap with alerts
	// disabled, set the sender, then Apply() the final config.
	baseLogCfg := mapLoggingConfig(cfg)
	finalLogCfg := baseLogCfg
	baseLogCfg.Alerts.Enabled = false
	logSvc, log := logx.New(baseLogCfg, nil)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	notifCfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif, err := notify.New(notifCfg, log.With(logx.String("comp", "notify")), bus)
	if err != nil {
		return nil, err
	}
	if notif.Enabled() {
		logSvc.SetSender(notif)
	}
	logSvc.Apply(finalLogCfg)

	detCfg, err := mapDetectorConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	sessions := session.New(
		session.Config{Detector: detCfg},
		log.With(logx.String("comp", "session")),
		bus, store)

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		sessions: sessions,
		notif:    notif,
		detCfg:   detCfg,
	}

	if cfg.Server.Enabled {
		srvCfg, err := mapServerConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.srv = server.New(srvCfg, log.With(logx.String("comp", "server")), sessions, store, bus)
	}

	janCfg, err := mapJanitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.jan = janitor.New(janCfg, log.With(logx.String("comp", "janitor")), store)
	a.prof = pprof.New(mapPprofConfig(cfg), log.With(logx.String("comp", "pprof")))

	if cfg.Spool.Enabled && strings.TrimSpace(cfg.Spool.Dir) != "" {
		a.spoolDelete = cfg.Spool.DeleteAfter
		a.spool = trace.NewSpoolWatcher(
			cfg.Spool.Dir,
			log.With(logx.String("comp", "spool")),
			a.replaySpooled)
	}

	return a, nil
}

// replaySpooled replays one trace file dropped into the spool directory.
func (a *App) replaySpooled(ctx context.Context, path string) {
	res, ok, err := trace.ReplayFile(path, a.detectorConfig())
	if err != nil {
		a.log.Warn("trace replay failed", logx.String("path", path), logx.Any("err", err))
		return
	}

	ev := eventbus.ReplayEvent{Path: path, Detected: ok}
	if ok {
		ev.TTI = float64(res.Timestamp)
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeTraceReplay, Time: time.Now(), Data: ev})

	if !ok {
		a.log.Info("trace replayed; no interactivity detected", logx.String("path", path))
	} else {
		a.log.Info("trace replayed",
			logx.String("path", path),
			logx.Float64("tti_ms", float64(res.Timestamp)),
			logx.Int("long_tasks", res.LongTasks))
		if a.store != nil {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			entry := storage.ResultEntry{
				NavigationID: name,
				Page:         path,
				TTIMillis:    float64(res.Timestamp),
				LowerBound:   float64(res.LowerBound),
				DCLEnd:       float64(res.DCLEnd),
				LongTasks:    res.LongTasks,
				Resets:       res.Resets,
				Source:       "trace",
				DetectedAt:   time.Now(),
			}
			if err := a.store.AppendResult(ctx, entry); err != nil {
				a.log.Warn("trace result persist failed", logx.String("path", path), logx.Any("err", err))
			}
		}
	}

	if a.spoolDelete {
		if err := os.Remove(path); err != nil {
			a.log.Warn("spool cleanup failed", logx.String("path", path), logx.Any("err", err))
		}
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if _, err := mapDetectorConfig(cfg); err != nil {
			return err
		}
		if _, err := mapServerConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapNotifyConfig(cfg); err != nil {
			return err
		}
		_, err := mapJanitorConfig(cfg)
		return err
	})

	a.sessions.Start(a.sup.Context())
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.jan.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.prof.Enabled() {
		a.prof.Start(a.sup.Context())
	}
	if a.spool != nil {
		a.sup.GoRestart("spool.watch", a.spool.Run)
	}
	if a.srv != nil {
		a.sup.Go("http.serve", func(context.Context) error { return a.srv.Run() })
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				a.applyReload(newCfg, sections)

				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
				a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload, Time: time.Now()})
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload applies what can change live (logging, detector thresholds) and
// flags the sections that need a restart.
func (a *App) applyReload(cfg *Config, sections []string) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if detCfg, err := mapDetectorConfig(cfg); err != nil {
		a.log.Warn("invalid detector config; keeping previous", logx.Any("err", err))
	} else {
		a.setDetectorConfig(detCfg)
		a.sessions.Apply(session.Config{Detector: detCfg})
	}

	for _, s := range sections {
		switch s {
		case "server", "storage", "spool", "notify", "janitor", "pprof":
			a.log.Warn("config changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	if a.srv != nil {
		shCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = a.srv.Shutdown(shCtx)
		cancel()
	}
	err := a.sup.Stop(ctx)

	a.jan.Stop(ctx)
	a.prof.Stop(ctx)
	a.notif.Stop(ctx)
	a.sessions.Stop(ctx)
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("app stopped")
	_ = a.logs.Close()
	return err
}

// Bus exposes the application event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }
