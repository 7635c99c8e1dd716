package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/core"
)

type fakeJobs struct {
	mu          sync.Mutex
	transferAt  []time.Time
	locked      map[core.Period]bool
	lockCalls   []core.Period
	transferErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{locked: map[core.Period]bool{}}
}

func (f *fakeJobs) TransferStaleDeals(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferAt = append(f.transferAt, now)
	return 2, f.transferErr
}

func (f *fakeJobs) LockPeriod(_ context.Context, p core.Period) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockCalls = append(f.lockCalls, p)
	f.locked[p] = true
	return 3, nil
}

func (f *fakeJobs) PeriodLocked(_ context.Context, p core.Period) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked[p], nil
}

func (f *fakeJobs) transfers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transferAt)
}

func newTestScheduler(jobs Jobs, now time.Time) *Scheduler {
	s := NewScheduler(jobs, zap.NewNop(), SchedulerConfig{
		Enabled:          true,
		TransferInterval: time.Hour,
		LockInterval:     time.Hour,
		LockAfterDays:    5,
	})
	s.now = func() time.Time { return now }
	return s
}

func TestScheduler_MonthEndLock(t *testing.T) {
	// GIVEN: LockAfterDays = 5
	// WHEN: The jobs run on April 3rd, April 10th, then April 10th again
	// THEN: March is locked once, and only after the grace days

	jobs := newFakeJobs()
	ctx := context.Background()

	newTestScheduler(jobs, time.Date(2025, time.April, 3, 0, 0, 0, 0, time.UTC)).RunNow(ctx)
	assert.Empty(t, jobs.lockCalls)

	s := newTestScheduler(jobs, time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC))
	s.RunNow(ctx)
	s.RunNow(ctx)
	require.Len(t, jobs.lockCalls, 1)
	assert.Equal(t, core.NewPeriod(2025, time.March), jobs.lockCalls[0])
}

func TestScheduler_LockAcrossYearBoundary(t *testing.T) {
	jobs := newFakeJobs()
	newTestScheduler(jobs, time.Date(2026, time.January, 6, 0, 0, 0, 0, time.UTC)).RunNow(context.Background())

	require.Len(t, jobs.lockCalls, 1)
	assert.Equal(t, core.NewPeriod(2025, time.December), jobs.lockCalls[0])
}

func TestScheduler_TransferUsesClock(t *testing.T) {
	jobs := newFakeJobs()
	jobs.transferErr = errors.New("db down")
	now := time.Date(2025, time.May, 8, 8, 0, 0, 0, time.UTC)

	newTestScheduler(jobs, now).RunNow(context.Background())

	require.Equal(t, 1, jobs.transfers())
	assert.Equal(t, now, jobs.transferAt[0])
	assert.Len(t, jobs.lockCalls, 1, "a failed transfer run does not block the lock job")
}

func TestScheduler_StartStop(t *testing.T) {
	jobs := newFakeJobs()
	s := newTestScheduler(jobs, time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC))

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return jobs.transfers() >= 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.Equal(t, 1, jobs.transfers())
}

func TestScheduler_Disabled(t *testing.T) {
	jobs := newFakeJobs()
	s := NewScheduler(jobs, nil, SchedulerConfig{Enabled: false})

	s.Start()
	s.Stop()
	assert.Zero(t, jobs.transfers())
}
