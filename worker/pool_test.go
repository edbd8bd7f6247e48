package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/worker"
)

func key(emp string) generic.LedgerKey {
	return generic.LedgerKey{TenantID: "acme", EntityID: generic.EntityID(emp), CategoryID: "vacation"}
}

func drain(t *testing.T, p *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Drain(ctx))
}

func TestPool_ProcessesJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[generic.LedgerKey]int{}
	)
	p := worker.New(worker.Config{Workers: 3}, func(_ context.Context, job generic.Job) error {
		mu.Lock()
		seen[job.Key]++
		mu.Unlock()
		return nil
	}, zap.NewNop())
	p.Start(context.Background())
	defer p.Stop()

	for _, emp := range []string{"e1", "e2", "e3", "e4"} {
		require.NoError(t, p.Enqueue(context.Background(), generic.Job{Key: key(emp)}))
	}
	drain(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 4)
	for k, n := range seen {
		assert.GreaterOrEqual(t, n, 1, k.String())
	}
}

func TestPool_SerializesOneLedger(t *testing.T) {
	// GIVEN: a handler that records overlapping runs per ledger
	var (
		running atomic.Int32
		overlap atomic.Bool
		calls   atomic.Int32
	)
	p := worker.New(worker.Config{Workers: 4}, func(_ context.Context, job generic.Job) error {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		calls.Add(1)
		return nil
	}, zap.NewNop())
	p.Start(context.Background())
	defer p.Stop()

	// WHEN: many jobs for the same ledger arrive concurrently
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Enqueue(context.Background(), generic.Job{Key: key("same")})
		}()
	}
	wg.Wait()
	drain(t, p)

	// THEN: never two at once, and waiting duplicates were coalesced
	assert.False(t, overlap.Load())
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.LessOrEqual(t, calls.Load(), int32(20))
}

func TestPool_RetriesRetryableErrors(t *testing.T) {
	var attempts atomic.Int32
	p := worker.New(worker.Config{Workers: 1, MaxAttempts: 3, RetryBackoff: time.Millisecond},
		func(_ context.Context, job generic.Job) error {
			if attempts.Add(1) < 3 {
				return generic.ErrConcurrentModification
			}
			return nil
		}, zap.NewNop())
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, p.Enqueue(context.Background(), generic.Job{Key: key("e1")}))
	drain(t, p)

	assert.Equal(t, int32(3), attempts.Load())
}

func TestPool_BackoffDoesNotHoldPartition(t *testing.T) {
	// GIVEN: one partition, and a ledger whose first run conflicts
	var slowAttempts, fastRuns atomic.Int32
	p := worker.New(worker.Config{Workers: 1, MaxAttempts: 2, RetryBackoff: 500 * time.Millisecond},
		func(_ context.Context, job generic.Job) error {
			if job.Key == key("slow") {
				if slowAttempts.Add(1) == 1 {
					return generic.ErrConcurrentModification
				}
				return nil
			}
			fastRuns.Add(1)
			return nil
		}, zap.NewNop())
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, p.Enqueue(context.Background(), generic.Job{Key: key("slow")}))
	require.Eventually(t, func() bool { return slowAttempts.Load() == 1 }, time.Second, time.Millisecond)

	// WHEN: another ledger arrives during the backoff
	require.NoError(t, p.Enqueue(context.Background(), generic.Job{Key: key("fast")}))

	// THEN: it runs without waiting for the retry
	require.Eventually(t, func() bool { return fastRuns.Load() == 1 }, 200*time.Millisecond, time.Millisecond)
	assert.Equal(t, int32(1), slowAttempts.Load())

	drain(t, p)
	assert.Equal(t, int32(2), slowAttempts.Load())
}

func TestPool_GivesUpAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	p := worker.New(worker.Config{Workers: 1, MaxAttempts: 2, RetryBackoff: time.Millisecond},
		func(_ context.Context, job generic.Job) error {
			attempts.Add(1)
			return &generic.CascadeError{Key: job.Key, EntryID: "x", Err: assert.AnError}
		}, zap.NewNop())
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, p.Enqueue(context.Background(), generic.Job{Key: key("e1")}))
	drain(t, p)

	assert.Equal(t, int32(2), attempts.Load())
}

func TestPool_DoesNotRetryOtherErrors(t *testing.T) {
	var attempts atomic.Int32
	p := worker.New(worker.Config{Workers: 1, MaxAttempts: 5, RetryBackoff: time.Millisecond},
		func(_ context.Context, job generic.Job) error {
			attempts.Add(1)
			return generic.NotFound("entry", "x")
		}, zap.NewNop())
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, p.Enqueue(context.Background(), generic.Job{Key: key("e1")}))
	drain(t, p)

	assert.Equal(t, int32(1), attempts.Load())
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	p := worker.New(worker.Config{}, func(context.Context, generic.Job) error { return nil }, nil)
	p.Start(context.Background())
	p.Stop()

	err := p.Enqueue(context.Background(), generic.Job{Key: key("e1")})
	assert.ErrorIs(t, err, worker.ErrClosed)
}
