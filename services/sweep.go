package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sidequests/clock"
	"sidequests/store"
)

type SweepReport struct {
	Expired int64     `json:"expired"`
	Deleted int64     `json:"deleted"`
	RanAt   time.Time `json:"ran_at"`
}

// Sweeper completes overdue quests and purges terminal ones once they have
// been idle for the grace period. Both steps are idempotent.
type Sweeper struct {
	store       *store.QuestStore
	clock       clock.Clock
	coordinator SweepCoordinator
	grace       time.Duration
	log         *slog.Logger
}

func NewSweeper(st *store.QuestStore, clk clock.Clock, coordinator SweepCoordinator, grace time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if coordinator == nil {
		coordinator = NewLocalCoordinator(clk)
	}
	return &Sweeper{
		store:       st,
		clock:       clk,
		coordinator: coordinator,
		grace:       grace,
		log:         logger.With("component", "sweep"),
	}
}

// Expire moves every open, in-progress or full quest past its end time to
// completed.
func (s *Sweeper) Expire(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireDue(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired quests", "count", n)
	}
	return n, nil
}

// Purge deletes completed and cancelled quests untouched for the grace
// period, along with their participants.
func (s *Sweeper) Purge(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeTerminal(ctx, s.clock.Now().Add(-s.grace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("purged quests", "count", n)
	}
	return n, nil
}

// Sweep runs Expire then Purge and records the report.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{RanAt: s.clock.Now()}
	var err error
	if report.Expired, err = s.Expire(ctx); err != nil {
		return report, fmt.Errorf("expire: %w", err)
	}
	if report.Deleted, err = s.Purge(ctx); err != nil {
		return report, fmt.Errorf("purge: %w", err)
	}
	if err := s.coordinator.Record(ctx, report); err != nil {
		s.log.Warn("failed to record sweep report", "error", err)
	}
	return report, nil
}

// LastReport returns the most recent recorded sweep, or nil.
func (s *Sweeper) LastReport(ctx context.Context) (*SweepReport, error) {
	return s.coordinator.Last(ctx)
}

type SchedulerConfig struct {
	Interval   time.Duration
	RetryDelay time.Duration
	LeaseTTL   time.Duration
}

// SweepScheduler runs the sweeper once at start and then on every interval.
// A failed run is retried after RetryDelay instead of the full interval.
type SweepScheduler struct {
	sweeper *Sweeper
	clock   clock.Clock
	cfg     SchedulerConfig
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweepScheduler(sweeper *Sweeper, clk clock.Clock, cfg SchedulerConfig) *SweepScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &SweepScheduler{
		sweeper: sweeper,
		clock:   clk,
		cfg:     cfg,
		log:     sweeper.log,
	}
}

// Start runs one sweep synchronously, then keeps sweeping in the background
// until ctx ends or Stop is called. A failing first run does not stop Start.
// Starting a running scheduler does nothing; a stopped one can be started
// again.
func (s *SweepScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	err := s.tick(ctx)
	if err != nil {
		s.log.Error("startup sweep failed", "error", err)
	}
	go s.loop(ctx, s.done, err != nil)
}

// Stop cancels the background loop and waits for it to return.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

func (s *SweepScheduler) loop(ctx context.Context, done chan struct{}, failed bool) {
	defer close(done)
	for {
		wait := s.cfg.Interval
		if failed {
			wait = s.cfg.RetryDelay
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}

		err := s.tick(ctx)
		if err != nil && ctx.Err() == nil {
			s.log.Error("sweep failed", "error", err, "retry_in", s.cfg.RetryDelay)
		}
		failed = err != nil
	}
}

// tick sweeps when this process holds the lease. A coordinator error does
// not block the sweep.
func (s *SweepScheduler) tick(ctx context.Context) error {
	token, ok, err := s.sweeper.coordinator.Acquire(ctx, s.cfg.LeaseTTL)
	switch {
	case err != nil:
		s.log.Warn("sweep lease unavailable, sweeping anyway", "error", err)
	case !ok:
		s.log.Debug("sweep lease held elsewhere, skipping")
		return nil
	default:
		defer func() {
			if err := s.sweeper.coordinator.Release(context.WithoutCancel(ctx), token); err != nil {
				s.log.Warn("failed to release sweep lease", "error", err)
			}
		}()
	}

	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	s.log.Debug("sweep finished", "expired", report.Expired, "deleted", report.Deleted)
	return nil
}
