/*
Package worker runs ledger recomputation jobs in the background.

PURPOSE:
  Implements generic.Queue with a fixed set of partitions. Each ledger key
  hashes to exactly one partition and each partition has exactly one
  goroutine, so jobs for the same ledger never run concurrently while
  independent ledgers proceed in parallel.

  ledger a ──┐
  ledger c ──┼──> partition 0 ──> worker 0
  ledger b ──┴──> partition 1 ──> worker 1

COALESCING:
  A job for a ledger that already has a job waiting is dropped: the waiting
  job recomputes from the first pending entry anyway. A job arriving while
  the ledger is being processed is kept, since it may cover newer edits.

RETRIES:
  Retryable errors (ConcurrentModification, CascadeFailure) re-enqueue the
  job after RetryBackoff * 2^attempt, up to MaxAttempts. The backoff runs on
  a timer outside the partition, which keeps serving other ledgers. Once attempts run
  out the entries stay pending; they are picked up again by Recover on the
  next start or by the next mutation of the ledger.
*/
package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
)

// ErrClosed is returned by Enqueue after Stop.
var ErrClosed = errors.New("worker pool closed")

type Config struct {
	Workers      int
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	return c
}

// Pool is a partitioned worker pool.
type Pool struct {
	cfg     Config
	handler generic.JobHandler
	logger  *zap.Logger

	partitions []chan generic.Job

	mu          sync.Mutex
	waiting     map[generic.LedgerKey]bool
	outstanding int
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, handler generic.JobHandler, logger *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:        cfg,
		handler:    handler,
		logger:     logger,
		partitions: make([]chan generic.Job, cfg.Workers),
		waiting:    make(map[generic.LedgerKey]bool),
	}
	for i := range p.partitions {
		p.partitions[i] = make(chan generic.Job, cfg.QueueSize)
	}
	return p
}

// Start launches one goroutine per partition. Workers stop when ctx is done
// or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i, ch := range p.partitions {
		p.wg.Add(1)
		go p.run(i, ch)
	}
	p.logger.Info("worker pool started", zap.Int("workers", len(p.partitions)))
}

// Stop stops accepting jobs and waits for running jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Enqueue implements generic.Queue.
func (p *Pool) Enqueue(ctx context.Context, job generic.Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.waiting[job.Key] {
		p.mu.Unlock()
		return nil
	}
	p.waiting[job.Key] = true
	p.outstanding++
	p.mu.Unlock()

	if time.Until(job.NotBefore) > 0 {
		p.dispatchLater(job)
		return nil
	}
	return p.dispatch(ctx, job)
}

func (p *Pool) dispatch(ctx context.Context, job generic.Job) error {
	select {
	case p.partitions[p.partition(job.Key)] <- job:
		return nil
	case <-ctx.Done():
		p.done(job.Key, true)
		return ctx.Err()
	case <-p.stopped():
		p.done(job.Key, true)
		return ErrClosed
	}
}

// stopped is the pool's stop signal; nil (blocks forever) before Start.
func (p *Pool) stopped() <-chan struct{} {
	if p.ctx == nil {
		return nil
	}
	return p.ctx.Done()
}

// done settles the bookkeeping of one accepted job.
func (p *Pool) done(key generic.LedgerKey, stillWaiting bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stillWaiting {
		delete(p.waiting, key)
	}
	p.outstanding--
}

func (p *Pool) partition(key generic.LedgerKey) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(len(p.partitions)))
}

func (p *Pool) run(id int, jobs <-chan generic.Job) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-jobs:
			p.mu.Lock()
			delete(p.waiting, job.Key)
			p.mu.Unlock()
			p.process(id, job)
		}
	}
}

func (p *Pool) process(id int, job generic.Job) {
	err := p.handler(p.ctx, job)
	switch {
	case err == nil:
	case generic.IsRetryable(err) && job.Attempt+1 < p.cfg.MaxAttempts:
		next := job
		next.Attempt++
		next.NotBefore = time.Now().Add(p.cfg.RetryBackoff << job.Attempt)
		p.logger.Warn("recomputation failed, retrying",
			zap.Int("worker", id),
			zap.String("ledger", job.Key.String()),
			zap.String("entry_id", string(job.EntryID)),
			zap.Int("attempt", next.Attempt),
			zap.Error(err))
		p.retry(next)
	default:
		p.logger.Error("recomputation failed; entries stay pending",
			zap.Int("worker", id),
			zap.String("ledger", job.Key.String()),
			zap.String("entry_id", string(job.EntryID)),
			zap.Int("attempts", job.Attempt+1),
			zap.Error(err))
	}
	p.done(job.Key, false)
}

// retry accepts next like Enqueue. It is always dispatched from another
// goroutine: the worker's own partition may be full, and the backoff must not
// hold up the other ledgers of the partition.
func (p *Pool) retry(next generic.Job) {
	p.mu.Lock()
	if p.closed || p.waiting[next.Key] {
		p.mu.Unlock()
		return
	}
	p.waiting[next.Key] = true
	p.outstanding++
	p.mu.Unlock()

	p.dispatchLater(next)
}

// dispatchLater hands an accepted job to its partition once NotBefore has
// passed. The job stays waiting meanwhile, so newer jobs for the ledger are
// coalesced into it.
func (p *Pool) dispatchLater(job generic.Job) {
	go func() {
		if wait := time.Until(job.NotBefore); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-p.stopped():
				p.done(job.Key, true)
				return
			case <-timer.C:
			}
		}
		ctx := p.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := p.dispatch(ctx, job); err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
			p.logger.Error("re-enqueue failed", zap.String("ledger", job.Key.String()), zap.Error(err))
		}
	}()
}

// Idle reports whether no job is queued or running.
func (p *Pool) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding == 0
}

// Drain waits until the pool is idle.
func (p *Pool) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for !p.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

var _ generic.Queue = (*Pool)(nil)
