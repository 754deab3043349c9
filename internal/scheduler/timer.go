package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
)

// TimerScheduler runs callbacks in-process with time.AfterFunc. Pending
// tokens are lost on restart, so it only backs the development driver.
type TimerScheduler struct {
	mu        sync.Mutex
	timers    map[string]*pendingTimer
	handler   Handler
	ctx       context.Context
	retryWait time.Duration
}

type pendingTimer struct {
	timer *time.Timer
}

// NewTimerScheduler creates an in-process scheduler
func NewTimerScheduler(retryWait time.Duration) *TimerScheduler {
	return &TimerScheduler{
		timers:    make(map[string]*pendingTimer),
		ctx:       context.Background(),
		retryWait: retryWait,
	}
}

// Start installs the handler. Tokens that fire before Start are dropped with a warning.
func (s *TimerScheduler) Start(ctx context.Context, h Handler) {
	s.mu.Lock()
	s.handler = h
	s.ctx = ctx
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.stopAll()
	}()
}

// ScheduleAfter arms token to fire after delay, replacing any pending timer
func (s *TimerScheduler) ScheduleAfter(ctx context.Context, delay time.Duration, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.timers[token]; ok {
		p.timer.Stop()
	}

	p := &pendingTimer{}
	p.timer = time.AfterFunc(delay, func() { s.fire(token, p) })
	s.timers[token] = p
	return nil
}

// Cancel stops a pending token
func (s *TimerScheduler) Cancel(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.timers[token]; ok {
		p.timer.Stop()
		delete(s.timers, token)
	}
	return nil
}

// Pending returns the number of armed tokens
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *TimerScheduler) fire(token string, p *pendingTimer) {
	s.mu.Lock()
	// A replaced or cancelled timer may still fire once; only the current one counts
	if s.timers[token] != p {
		s.mu.Unlock()
		return
	}
	delete(s.timers, token)
	h, ctx := s.handler, s.ctx
	s.mu.Unlock()

	if h == nil {
		logger.Warn("Scheduler fired before a handler was installed", zap.String("token", token))
		return
	}
	if ctx.Err() != nil {
		return
	}

	if err := h(ctx, token); err != nil {
		metrics.SchedulerTasksTotal.WithLabelValues("retried").Inc()
		logger.Error("Scheduled task failed, retrying",
			zap.String("token", token),
			zap.Duration("retry_in", s.retryWait),
			zap.Error(err))
		_ = s.ScheduleAfter(ctx, s.retryWait, token)
		return
	}
	metrics.SchedulerTasksTotal.WithLabelValues("fired").Inc()
}

func (s *TimerScheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, token)
	}
}
