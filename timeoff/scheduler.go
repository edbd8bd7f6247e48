package timeoff

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// SCHEDULER - Fills in additions that came due
// =============================================================================

// Scheduler inserts the planned additions a ledger is missing. It only ever
// adds: edits to the assignment history go through the reconciler. Re-running
// it is a no-op thanks to the additions' idempotency keys.
type Scheduler struct {
	writer      *ledgerWriter
	planner     *AccrualPlanner
	assignments AssignmentStore
	logger      *zap.Logger
}

// maxPlanAttempts bounds how often a plan is rebuilt because the assignment
// history changed between planning and writing.
const maxPlanAttempts = 3

// Run generates the due additions (and their removals) of one ledger.
// Returns how many additions were inserted.
func (s *Scheduler) Run(ctx context.Context, key generic.LedgerKey) (int, error) {
	var err error
	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		var inserted int
		inserted, err = s.run(ctx, key)
		if errors.Is(err, generic.ErrConcurrentModification) {
			s.logger.Debug("assignments changed during accrual run, replanning",
				zap.String("ledger", key.String()),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return 0, err
		}
		if inserted > 0 {
			s.logger.Info("accruals generated",
				zap.String("ledger", key.String()),
				zap.Int("additions", inserted))
		}
		return inserted, nil
	}
	return 0, err
}

// run writes one plan. The plan is only written if the assignments it was
// built from are still current inside the ledger transaction.
func (s *Scheduler) run(ctx context.Context, key generic.LedgerKey) (int, error) {
	timeline, err := readTimeline(ctx, s.assignments, key)
	if err != nil {
		return 0, err
	}
	plan, err := s.planner.Plan(ctx, key, timeline)
	if err != nil {
		return 0, err
	}

	inserted := 0
	err = s.writer.mutate(ctx, true, func(lt *ledgerTx) error {
		if err := lt.checkTimeline(s.assignments, key, timeline); err != nil {
			return err
		}
		for _, p := range plan {
			exists, err := lt.store.ExistsIdempotencyKey(ctx, key.TenantID, p.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if _, err := lt.insert(p.entry(key)); err != nil {
				return fmt.Errorf("insert addition at %s: %w", p.Event.At, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RunAll runs every assigned ledger. A failing ledger does not stop the others;
// their errors are joined.
func (s *Scheduler) RunAll(ctx context.Context) (int, error) {
	keys, err := s.assignments.AssignedLedgers(ctx)
	if err != nil {
		return 0, err
	}
	var (
		total int
		errs  []error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.Run(ctx, key)
		if err != nil {
			s.logger.Error("accrual generation failed", zap.String("ledger", key.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}
