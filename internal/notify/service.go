// Package notify pushes Telegram messages for detected TTIs that blow their
// budget, and doubles as the alert sink for the logging pipeline. It is
// send-only: no poller, no inbound updates.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"ttiwatch/internal/eventbus"
	logx "ttiwatch/pkg/logx"
)

// Config for Telegram notifications. Disabled unless Token and ChatID are
// both set.
type Config struct {
	Enabled bool
	Token   string
	ChatID  int64

	// Budget is the TTI budget; a detected TTI above it triggers a message.
	// Zero means notify on every result.
	Budget time.Duration

	// RatePerSec caps outbound messages. Excess messages are dropped, not
	// queued; an alert storm must never back up the pipeline.
	RatePerSec int
}

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	limiter *rate.Limiter

	// send seam, swapped in tests
	send func(ctx context.Context, text string) error

	mu        sync.Mutex
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New builds the service. A missing token or chat id yields a disabled
// service, not an error, so the rest of the app wires up uniformly.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	if !s.Enabled() {
		return s, nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	chat := &tele.Chat{ID: cfg.ChatID}
	s.send = func(ctx context.Context, text string) error {
		_ = ctx
		_, err := bot.Send(chat, text)
		return err
	}
	return s, nil
}

func (s *Service) Enabled() bool {
	return s.cfg.Enabled && strings.TrimSpace(s.cfg.Token) != "" && s.cfg.ChatID != 0
}

// Start subscribes to result events. No-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if !s.Enabled() || s.bus == nil {
		return
	}
	s.mu.Lock()
	if s.runCancel != nil {
		s.mu.Unlock()
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.mu.Unlock()

	events, unsubscribe := s.bus.Subscribe(32)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-rctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type != eventbus.TypeResult {
					continue
				}
				res, ok := e.Data.(eventbus.ResultEvent)
				if !ok {
					continue
				}
				s.maybeNotify(rctx, res)
			}
		}
	}()
}

func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) maybeNotify(ctx context.Context, res eventbus.ResultEvent) {
	budget := float64(s.cfg.Budget) / float64(time.Millisecond)
	if budget > 0 && res.Timestamp <= budget {
		return
	}
	if !s.limiter.Allow() {
		s.log.Debug("notification dropped by rate limit", logx.String("nav", res.NavigationID))
		return
	}

	page := res.Page
	if page == "" {
		page = res.NavigationID
	}
	var text string
	if budget > 0 {
		text = fmt.Sprintf("TTI budget exceeded: %s reached interactive at %.0f ms (budget %.0f ms)", page, res.Timestamp, budget)
	} else {
		text = fmt.Sprintf("TTI: %s reached interactive at %.0f ms", page, res.Timestamp)
	}
	if err := s.send(ctx, text); err != nil {
		s.log.Warn("telegram send failed", logx.Any("err", err))
	}
}

// SendAlert delivers one formatted log alert line. It satisfies the logging
// pipeline's sink interface; that pipeline does its own rate limiting.
func (s *Service) SendAlert(ctx context.Context, msg string) error {
	if !s.Enabled() || s.send == nil {
		return errors.New("notifications disabled")
	}
	return s.send(ctx, msg)
}

var _ logx.Sender = (*Service)(nil)
