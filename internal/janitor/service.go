// Package janitor runs scheduled maintenance over stored results.
package janitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ttiwatch/internal/storage"
	logx "ttiwatch/pkg/logx"
)

// Config for scheduled result maintenance.
type Config struct {
	Enabled   bool
	Schedule  string        // cron spec or descriptor; default "@hourly"
	Retention time.Duration // default 168h
}

type Service struct {
	cfg    Config
	log    logx.Logger
	store  storage.Store
	parser cron.Parser

	c *cron.Cron
}

func New(cfg Config, log logx.Logger, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = "@hourly"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 168 * time.Hour
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		store:  store,
	}
}

// Start schedules the prune job. Disabled or storage-less setups are a no-op.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled || s.store == nil {
		return nil
	}
	sched, err := s.parser.Parse(s.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("janitor schedule %q: %w", s.cfg.Schedule, err)
	}

	s.c = cron.New(cron.WithParser(s.parser))
	s.c.Schedule(sched, cron.FuncJob(func() { s.run(ctx) }))
	s.c.Start()
	s.log.Debug("janitor scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("retention", s.cfg.Retention))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.c = nil
}

// run prunes results older than the retention window.
func (s *Service) run(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Retention)
	removed, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		s.log.Warn("result prune failed", logx.Any("err", err))
		return
	}
	if removed > 0 {
		s.log.Info("results pruned",
			logx.Int("removed", removed),
			logx.Time("cutoff", cutoff))
	}
}
