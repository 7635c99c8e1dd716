/*
scheduler.go - Background payroll jobs

PURPOSE:
  Runs the two periodic jobs of the settlement engine:
  - ownership transfer: deals left unreleased past their role's ownership
    window move to the pool holder
  - month-end lock: once a month has been over for LockAfterDays, the
    period is locked (drafts frozen, later deals roll forward)

DESIGN:
  - One background goroutine per job, each with its own ticker
  - Both run once immediately on Start
  - Jobs are idempotent: a locked period is skipped, a moved deal is no
    longer owned by its old owner

USAGE:
  s := NewScheduler(svc, logger, SchedulerConfig{...})
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - payrun/service.go: TransferStaleDeals, LockPeriod
  - config/config.go: SchedulerConfig
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/core"
)

// Jobs is the part of payrun.Service the scheduler drives.
type Jobs interface {
	TransferStaleDeals(ctx context.Context, now time.Time) (int, error)
	LockPeriod(ctx context.Context, p core.Period) (int, error)
	PeriodLocked(ctx context.Context, p core.Period) (bool, error)
}

type SchedulerConfig struct {
	Enabled          bool
	TransferInterval time.Duration
	LockInterval     time.Duration
	LockAfterDays    int
}

// Scheduler runs the ownership-transfer and month-end lock jobs.
type Scheduler struct {
	jobs Jobs
	log  *zap.Logger
	cfg  SchedulerConfig
	now  func() time.Time

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewScheduler(jobs Jobs, log *zap.Logger, cfg SchedulerConfig) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{jobs: jobs, log: log.Named("scheduler"), cfg: cfg, now: time.Now}
}

// Start begins both jobs. It is a no-op when disabled or already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled, not starting")
		return
	}
	if s.running {
		return
	}
	s.stop = make(chan struct{})
	s.running = true

	s.wg.Add(2)
	go s.loop(s.cfg.TransferInterval, s.runTransfers)
	go s.loop(s.cfg.LockInterval, s.runMonthEndLock)

	s.log.Info("scheduler started",
		zap.Duration("transfer_interval", s.cfg.TransferInterval),
		zap.Duration("lock_interval", s.cfg.LockInterval))
}

// Stop stops both jobs and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.running = false
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(interval time.Duration, job func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	job(context.Background())
	for {
		select {
		case <-ticker.C:
			job(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow runs both jobs once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runTransfers(ctx)
	s.runMonthEndLock(ctx)
}

func (s *Scheduler) runTransfers(ctx context.Context) {
	moved, err := s.jobs.TransferStaleDeals(ctx, s.now())
	if err != nil {
		s.log.Error("ownership transfer failed", zap.Error(err))
		return
	}
	if moved > 0 {
		s.log.Info("ownership transfer done", zap.Int("deals_moved", moved))
	}
}

// runMonthEndLock locks the previous month once LockAfterDays have passed
// since it ended.
func (s *Scheduler) runMonthEndLock(ctx context.Context) {
	now := s.now().UTC()
	prev := core.PeriodOf(now).Previous()
	if now.Before(prev.End().AddDate(0, 0, s.cfg.LockAfterDays)) {
		return
	}

	locked, err := s.jobs.PeriodLocked(ctx, prev)
	if err != nil {
		s.log.Error("month-end lock check failed", zap.Stringer("period", prev), zap.Error(err))
		return
	}
	if locked {
		return
	}

	n, err := s.jobs.LockPeriod(ctx, prev)
	if err != nil {
		s.log.Error("month-end lock failed", zap.Stringer("period", prev), zap.Error(err))
		return
	}
	s.log.Info("month-end lock applied", zap.Stringer("period", prev), zap.Int("results_locked", n))
}
