package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"crmbot/internal/storage"
	"crmbot/pkg/logx"
)

const (
	defaultFastInterval = 15 * time.Second
	defaultSlowInterval = 60 * time.Second
)

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, deps: deps, log: log}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config. Cadence changes take effect on the next Start();
// MaxAge and CancelStale apply from the next tick.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) error {
	// If a Stop() is in progress, wait for it to complete first.
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		if done == nil {
			// already running
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer s.mu.Unlock()

	fast := s.cfg.FastInterval
	if fast <= 0 {
		fast = defaultFastInterval
	}
	slow := s.cfg.SlowInterval
	if slow <= 0 {
		slow = defaultSlowInterval
	}

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	// Two independent timers on the same idempotent check. They are not
	// coordinated; the atomic claim keeps a doubly-seen campaign from being
	// delivered twice.
	s.c = cron.New()
	if _, err := s.c.AddFunc(fmt.Sprintf("@every %s", fast), func() { s.tick(runCtx, "fast") }); err != nil {
		return err
	}
	if _, err := s.c.AddFunc(fmt.Sprintf("@every %s", slow), func() { s.tick(runCtx, "slow") }); err != nil {
		return err
	}
	s.c.Start()

	maxAge := s.cfg.MaxAge
	if maxAge <= 0 {
		maxAge = storage.DefaultMaxAge
	}
	s.log.Info("service started",
		logx.Duration("fast", fast),
		logx.Duration("slow", slow),
		logx.Duration("max_age", maxAge))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait for it.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}

	go func() {
		if c != nil {
			// Waits for any in-flight tick (and its delivery pass) to finish.
			<-c.Stop().Done()
		}
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

func (s *Service) maxAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxAge > 0 {
		return s.cfg.MaxAge
	}
	return storage.DefaultMaxAge
}
