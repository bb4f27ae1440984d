package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tracksync/tracksync/domain/tracker"
)

// Runner is one schedulable tracker.
type Runner interface {
	Kind() tracker.Kind
	RunOnce(ctx context.Context) error
}

type scheduledRunner struct {
	runner   Runner
	interval time.Duration
}

// Scheduler drives each registered tracker on its own cadence. Every
// tracker runs in its own goroutine with a sequential loop, so at most
// one run per tracker kind is active at a time.
type Scheduler struct {
	runners []scheduledRunner
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a tracker with its polling interval. Must be called
// before Start.
func (s *Scheduler) Add(r Runner, interval time.Duration) {
	s.runners = append(s.runners, scheduledRunner{runner: r, interval: interval})
}

// Start launches one polling goroutine per registered tracker.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	for _, sr := range s.runners {
		sr := sr
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, sr)
		}()
	}

	s.logger.Info("scheduler started", slog.Int("trackers", len(s.runners)))
}

// Stop cancels every polling goroutine and waits for in-flight runs to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, sr scheduledRunner) {
	// First pass immediately on startup.
	s.run(ctx, sr.runner)

	ticker := time.NewTicker(sr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, sr.runner)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, r Runner) {
	if err := r.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("tracker run failed",
			slog.String("kind", r.Kind().String()),
			slog.String("error", err.Error()))
	}
}
