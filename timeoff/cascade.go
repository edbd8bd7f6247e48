/*
cascade.go - Cascade recalculation engine

PURPOSE:
  Restores the running-balance invariant after a mutation. Mutations only
  write the triggering entry and flag everything after it as pending; this
  engine re-derives the pending entries, oldest first.

STATE MACHINE (per entry):
  final -> pending   (MarkPendingFrom, synchronous with the mutation)
  pending -> final   (Recompute, asynchronous)

RECOMPUTATION:
  For each entry from the first pending one to the end of the ledger:
    resource = RemovalAmount(...)            for removals
             = -(previous balance) - manual  for reset entries
             = unchanged                     otherwise
    amount   = resource + manual
    balance  = previous balance + amount

  Values are derived only from persisted state, so a recomputation that
  stops halfway is safely re-run.

CONCURRENCY:
  - One recomputation per ledger at a time, enforced by a Locker token named
    after the ledger key. A held token returns ErrConcurrentModification.
  - Every write is checked against the ledger version read at the start. An
    edit that lands mid-way makes the remaining writes fail with
    ErrConcurrentModification; the entries stay pending and the job is
    retried against the new state.
  - Independent ledgers recompute in parallel (see worker/pool.go).

FAILURE:
  A failed write returns a CascadeError naming the entry. That entry and all
  after it stay pending; the worker pool retries the job.

SEE ALSO:
  - removal.go: Removal amount calculator
  - ledger.go: Synchronous mutation path that marks entries pending
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
)

// EngineConfig tunes the cascade engine.
type EngineConfig struct {
	// SettlePoll is how long Settle waits while another worker holds the ledger.
	SettlePoll time.Duration
}

// Engine recomputes pending ledger entries.
type Engine struct {
	store  generic.EntryStore
	locker generic.Locker
	queue  generic.Queue
	logger *zap.Logger
	cfg    EngineConfig
}

// NewEngine creates a cascade engine. A nil queue discards notifications, so
// pending entries are only recomputed by Settle.
func NewEngine(store generic.EntryStore, locker generic.Locker, queue generic.Queue, logger *zap.Logger, cfg EngineConfig) *Engine {
	if queue == nil {
		queue = generic.DiscardQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SettlePoll <= 0 {
		cfg.SettlePoll = 20 * time.Millisecond
	}
	return &Engine{store: store, locker: locker, queue: queue, logger: logger, cfg: cfg}
}

// SetQueue replaces the notification queue. Used at startup, where the worker
// pool needs the engine as its handler.
func (e *Engine) SetQueue(q generic.Queue) {
	if q == nil {
		q = generic.DiscardQueue
	}
	e.queue = q
}

func lockName(key generic.LedgerKey) string {
	return "ledger:" + key.String()
}

// =============================================================================
// RECOMPUTE
// =============================================================================

// Recompute re-derives every entry from the first pending one to the end of
// the ledger. Returns how many entries were written.
func (e *Engine) Recompute(ctx context.Context, key generic.LedgerKey) (int, error) {
	unlock, ok, err := e.locker.TryLock(ctx, lockName(key))
	if err != nil {
		return 0, fmt.Errorf("lock ledger %s: %w", key, err)
	}
	if !ok {
		return 0, fmt.Errorf("ledger %s is being recomputed: %w", key, generic.ErrConcurrentModification)
	}
	defer unlock()

	snap, err := e.store.Ledger(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load ledger %s: %w", key, err)
	}
	start := snap.FirstPending()
	if start < 0 {
		return 0, nil
	}

	entries := append([]generic.Entry(nil), snap.Entries...)
	prev := snap.BalanceBefore(start)
	written := 0
	for i := start; i < len(entries); i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		entry := entries[i]
		resource := entry.ResourceAmount
		switch {
		case entry.Reset:
			resource = prev.Neg().Sub(entry.ManualAmount)
		case entry.Kind == generic.KindRemoval:
			resource = RemovalAmount(entries, i)
		}
		amount := resource.Add(entry.ManualAmount)
		balance := prev.Add(amount)

		c := generic.Computed{EntryID: entry.ID, ResourceAmount: resource, Amount: amount, Balance: balance}
		if err := e.store.SaveComputed(ctx, key, snap.Version, c); err != nil {
			if errors.Is(err, generic.ErrConcurrentModification) {
				return written, err
			}
			return written, &generic.CascadeError{Key: key, EntryID: entry.ID, Err: err}
		}

		entries[i].ResourceAmount = resource
		entries[i].Amount = amount
		entries[i].Balance = balance
		entries[i].Pending = false
		prev = balance
		written++
	}

	e.logger.Debug("ledger recomputed",
		zap.String("ledger", key.String()),
		zap.Int("from", start),
		zap.Int("entries", written))
	return written, nil
}

// =============================================================================
// QUEUE INTEGRATION
// =============================================================================

// Handle is the worker pool's job handler.
func (e *Engine) Handle(ctx context.Context, job generic.Job) error {
	_, err := e.Recompute(ctx, job.Key)
	return err
}

// Notify enqueues recomputation of key. The mutation has already committed, so
// a failed enqueue is logged rather than returned; Recover picks the ledger up
// again on the next start.
func (e *Engine) Notify(ctx context.Context, key generic.LedgerKey, entryID generic.EntryID) {
	if err := e.queue.Enqueue(ctx, generic.Job{Key: key, EntryID: entryID}); err != nil {
		e.logger.Warn("enqueue recomputation failed; ledger stays pending",
			zap.String("ledger", key.String()),
			zap.String("entry_id", string(entryID)),
			zap.Error(err))
	}
}

// Recover enqueues every ledger that still holds pending entries, e.g. after
// a crash. Returns the number of ledgers enqueued.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	keys, err := e.store.PendingLedgers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending ledgers: %w", err)
	}
	for _, key := range keys {
		if err := e.queue.Enqueue(ctx, generic.Job{Key: key}); err != nil {
			return 0, fmt.Errorf("enqueue %s: %w", key, err)
		}
	}
	if len(keys) > 0 {
		e.logger.Info("recovering pending ledgers", zap.Int("ledgers", len(keys)))
	}
	return len(keys), nil
}

// =============================================================================
// SETTLE - Read-your-writes for summaries
// =============================================================================

// Settle returns the first snapshot of key that has no pending entries. It
// recomputes inline when the ledger is free and polls while another worker
// holds it.
func (e *Engine) Settle(ctx context.Context, key generic.LedgerKey) (generic.LedgerSnapshot, error) {
	for {
		snap, err := e.store.Ledger(ctx, key)
		if err != nil {
			return generic.LedgerSnapshot{}, err
		}
		if !snap.HasPending() {
			return snap, nil
		}

		_, err = e.Recompute(ctx, key)
		switch {
		case err == nil:
			continue
		case errors.Is(err, generic.ErrConcurrentModification):
			select {
			case <-ctx.Done():
				return generic.LedgerSnapshot{}, ctx.Err()
			case <-time.After(e.cfg.SettlePoll):
			}
		default:
			return generic.LedgerSnapshot{}, err
		}
	}
}
