/*
scheduler.go - Automated accrual scheduler

PURPOSE:
  Periodically generates the policy additions (and their removals) that have
  come due for every assigned ledger, e.g. the new year's vacation credit.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each run is idempotent: additions carry idempotency keys, so a run that
    finds nothing due writes nothing

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled:  Whether scheduler is active

USAGE:
  scheduler := NewAccrualScheduler(svc, time.Hour, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSchedulerAll endpoint (manual trigger)
  - timeoff/scheduler.go: Per-ledger generation
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AccrualRunner runs the scheduler across all ledgers. *timeoff.Service
// implements it.
type AccrualRunner interface {
	RunSchedulerAll(ctx context.Context) (int, error)
}

// AccrualScheduler handles automated accrual generation.
type AccrualScheduler struct {
	Runner   AccrualRunner
	Interval time.Duration
	Enabled  bool
	Logger   *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(runner AccrualRunner, interval time.Duration, logger *zap.Logger) *AccrualScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccrualScheduler{
		Runner:   runner,
		Interval: interval,
		Enabled:  true,
		Logger:   logger.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("stopped")
}

func (s *AccrualScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass. Returns the number of additions created.
func (s *AccrualScheduler) RunNow(ctx context.Context) int {
	start := time.Now()
	n, err := s.Runner.RunSchedulerAll(ctx)
	if err != nil {
		s.Logger.Error("accrual run failed", zap.Int("created", n), zap.Error(err))
		return n
	}
	if n > 0 {
		s.Logger.Info("accrual run completed",
			zap.Int("created", n),
			zap.Duration("took", time.Since(start)))
	}
	return n
}
