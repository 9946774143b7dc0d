package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ttiwatch/internal/detector"
	"ttiwatch/internal/eventbus"
	"ttiwatch/internal/storage"
	"ttiwatch/internal/timeline"
	logx "ttiwatch/pkg/logx"
)

// Config configures the session service.
type Config struct {
	Detector detector.Config
}

type liveSession struct {
	id        string
	page      string
	startedAt time.Time
	det       *detector.Detector
	timer     *time.Timer
	done      bool
}

// Service tracks one detector per active navigation.
type Service struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	// test seam
	nowFunc func() time.Time

	mu       sync.Mutex
	sessions map[string]*liveSession
	runCtx   context.Context
	running  bool
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		nowFunc:  time.Now,
		sessions: map[string]*liveSession{},
	}
}

// Apply swaps the detector configuration. Running sessions keep the config
// they started with; only subsequent Begins see the change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
	s.running = true
}

// Stop discards every active session. In-flight detectors produce nothing.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.timer != nil {
			sess.timer.Stop()
		}
	}
	s.sessions = map[string]*liveSession{}
	s.running = false
}

// Begin opens a session for a navigation. An empty navID gets a generated one;
// the assigned id is returned. A prior session with the same id is aborted and
// fully discarded first.
func (s *Service) Begin(navID, page string, startedAt time.Time) string {
	if navID == "" {
		navID = uuid.NewString()
	}
	if startedAt.IsZero() {
		startedAt = s.nowFunc()
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return navID
	}
	if old, ok := s.sessions[navID]; ok {
		s.abortLocked(old)
	}
	s.sessions[navID] = &liveSession{
		id:        navID,
		page:      page,
		startedAt: startedAt,
		det:       detector.New(s.cfg.Detector),
	}
	s.mu.Unlock()

	s.log.Debug("session begin", logx.String("nav", navID), logx.String("page", page))
	s.publish(eventbus.TypeSessionBegin, eventbus.SessionEvent{NavigationID: navID, Page: page})
	return navID
}

// Dispatch feeds one timing event into a navigation's detector. Timestamps in
// ev are milliseconds since the navigation's start, as reported by the client.
// Unknown navigations and finished sessions are ignored.
func (s *Service) Dispatch(navID string, ev timeline.Event) error {
	s.mu.Lock()
	sess, ok := s.sessions[navID]
	if !ok || sess.done {
		s.mu.Unlock()
		return nil
	}
	err := timeline.Apply(sess.det, ev)
	if err == nil {
		s.pumpLocked(sess)
	}
	s.mu.Unlock()
	return err
}

// Abort drops a navigation's session without emitting anything.
func (s *Service) Abort(navID string) {
	s.mu.Lock()
	sess, ok := s.sessions[navID]
	if ok {
		s.abortLocked(sess)
	}
	s.mu.Unlock()
}

// Active reports the number of live sessions (finished ones included until
// they are replaced or aborted).
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) abortLocked(sess *liveSession) {
	if sess.timer != nil {
		sess.timer.Stop()
	}
	delete(s.sessions, sess.id)
	if !sess.done {
		s.log.Debug("session aborted", logx.String("nav", sess.id))
		s.publish(eventbus.TypeSessionAbort, eventbus.SessionEvent{NavigationID: sess.id, Page: sess.page})
	}
}

// elapsedAt maps wall time onto the session's millisecond timeline.
func elapsedAt(sess *liveSession, wall time.Time) detector.TimePoint {
	d := wall.Sub(sess.startedAt)
	if d < 0 {
		return 0
	}
	return detector.TimePoint(float64(d) / float64(time.Millisecond))
}

// pumpLocked advances the detector to the present, emits on acceptance, and
// re-arms the session timer from the detector's deadline.
func (s *Service) pumpLocked(sess *liveSession) {
	if sess.done {
		return
	}
	wall := s.nowFunc()
	if res, ok := sess.det.AdvanceTo(elapsedAt(sess, wall)); ok {
		sess.done = true
		if sess.timer != nil {
			sess.timer.Stop()
		}
		s.emit(sess, res)
		return
	}

	deadline, ok := sess.det.Deadline()
	if !ok {
		if sess.timer != nil {
			sess.timer.Stop()
		}
		return
	}
	wait := sess.startedAt.Add(time.Duration(float64(deadline) * float64(time.Millisecond))).Sub(wall)
	if wait <= 0 {
		// The deadline already passed at the instant AdvanceTo ran, so
		// finalization is blocked on a missing milestone, not on time. A
		// timer cannot make progress here; the milestone's own Dispatch
		// pumps again.
		if sess.timer != nil {
			sess.timer.Stop()
		}
		return
	}
	id := sess.id
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.timer = time.AfterFunc(wait, func() { s.onDeadline(id) })
}

func (s *Service) onDeadline(navID string) {
	s.mu.Lock()
	sess, ok := s.sessions[navID]
	if ok {
		s.pumpLocked(sess)
	}
	s.mu.Unlock()
}

// emit publishes and persists the one-shot result. Called with the lock held;
// the bus publish is non-blocking and the storage append is quick enough to
// not matter here.
func (s *Service) emit(sess *liveSession, res detector.Result) {
	s.log.Info("interactive",
		logx.String("nav", sess.id),
		logx.String("page", sess.page),
		logx.Float64("tti_ms", float64(res.Timestamp)),
		logx.Int("long_tasks", res.LongTasks),
		logx.Int("resets", res.Resets))

	s.publish(eventbus.TypeResult, eventbus.ResultEvent{
		Name:         "interactive",
		Category:     "interactive",
		Timestamp:    float64(res.Timestamp),
		Duration:     0,
		NavigationID: sess.id,
		Page:         sess.page,
	})

	if s.store != nil {
		ctx := s.runCtx
		if ctx == nil {
			ctx = context.Background()
		}
		entry := storage.ResultEntry{
			NavigationID: sess.id,
			Page:         sess.page,
			TTIMillis:    float64(res.Timestamp),
			LowerBound:   float64(res.LowerBound),
			DCLEnd:       float64(res.DCLEnd),
			LongTasks:    res.LongTasks,
			Resets:       res.Resets,
			Source:       "live",
			DetectedAt:   s.nowFunc(),
		}
		if err := s.store.AppendResult(ctx, entry); err != nil {
			s.log.Warn("result persist failed", logx.String("nav", sess.id), logx.Any("err", err))
		}
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.nowFunc(), Data: data})
}
