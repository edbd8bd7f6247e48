package api_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-ledger/api"
	"github.com/warp/balance-ledger/generic"
)

type countingRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRunner) RunSchedulerAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return 1, r.err
}

func (r *countingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestAccrualScheduler_RunsOnStartAndTick(t *testing.T) {
	runner := &countingRunner{}
	s := api.NewAccrualScheduler(runner, 10*time.Millisecond, nil)

	s.Start()
	require.Eventually(t, func() bool { return runner.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	// THEN: no run after stop
	calls := runner.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, runner.Calls())

	// stopping twice is harmless
	s.Stop()
}

func TestAccrualScheduler_Disabled(t *testing.T) {
	runner := &countingRunner{}
	s := api.NewAccrualScheduler(runner, 10*time.Millisecond, nil)
	s.Enabled = false

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.Zero(t, runner.Calls())
}

func TestAccrualScheduler_RunNowReportsFailures(t *testing.T) {
	runner := &countingRunner{err: errors.New("database is locked")}
	s := api.NewAccrualScheduler(runner, time.Hour, nil)

	n := s.RunNow(context.Background())

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, runner.Calls())
}

func TestAccrualScheduler_RunsServiceEndToEnd(t *testing.T) {
	// GIVEN: an assignment made in 2016, the clock a year later
	f := newAPI(t, time.Date(2017, time.January, 2, 0, 0, 0, 0, time.UTC))
	f.seed(t)
	_, err := f.svc.AssignPolicy(context.Background(), tenant, "emp-1", "vacation", "vacation-std", generic.NewTimePoint(2016, time.January, 1))
	require.NoError(t, err)

	// THEN: both credits were written on assignment, nothing is due
	s := api.NewAccrualScheduler(f.svc, time.Hour, nil)
	assert.Equal(t, 0, s.RunNow(context.Background()))
}
