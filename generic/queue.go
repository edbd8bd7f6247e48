package generic

import (
	"context"
	"time"
)

// =============================================================================
// WORK QUEUE - Asynchronous recomputation dispatch
// =============================================================================

// Job asks for the pending entries of one ledger to be recomputed.
// EntryID names the entry whose change triggered the job; it is informational,
// the worker always starts from the first pending entry.
type Job struct {
	Key       LedgerKey
	EntryID   EntryID
	Attempt   int
	NotBefore time.Time
}

// Queue accepts recomputation jobs. Implementations must deliver jobs for the
// same LedgerKey to one consumer at a time.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// JobHandler processes one job. A retryable error re-enqueues the job.
type JobHandler func(ctx context.Context, job Job) error

// QueueFunc adapts a function to Queue.
type QueueFunc func(ctx context.Context, job Job) error

func (f QueueFunc) Enqueue(ctx context.Context, job Job) error { return f(ctx, job) }

// DiscardQueue drops every job. Pending entries are then only recomputed on
// demand (Settle).
var DiscardQueue Queue = QueueFunc(func(context.Context, Job) error { return nil })
