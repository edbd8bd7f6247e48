/*
reconciler.go - Policy-reassignment reconciler

PURPOSE:
  When an assignment is created, moved, re-pointed at another policy or
  removed, the ledger's policy additions must follow. This file applies the
  minimal edit that takes the ledger from the old schedule to the new one.

ALGORITHM:
  1. from := FirstDivergence(old timeline, new timeline)
     Nothing before from can differ, so nothing before it is touched.
  2. Reject the edit if a consumption entry covered by the old timeline is
     no longer covered by the new one (it would be orphaned).
  3. Plan the new timeline (AccrualPlanner). A misconfigured policy fails
     here, before anything is written.
  4. Within [from, ...), match planned additions to existing policy
     additions by (policy, instant):
       - matched, same amount and validity:  untouched
       - matched, terms changed:             updated in place, relinked
       - existing only:                      deleted, with its removal if exclusive
       - planned only:                       inserted
  5. Save the assignment change in the same transaction.

  The stored timeline is re-read inside the transaction. If it is no longer
  the old timeline the plan was built against, the edit is abandoned with
  ErrConcurrentModification and the service rebuilds it from fresh state.

  Everything touched is marked pending through the usual mutation path, so
  removals whose link set changed are recomputed by the cascade.

EXAMPLE:
  Moving a mid-cycle assignment from 2013-03-01 to 2013-03-02 plans the same
  additions (first at 2014-01-01). Step 4 matches them all and no entry
  changes.

SEE ALSO:
  - accrual.go: Planning
  - ledger.go: Mutation path
  - generic/assignment.go: Timeline, FirstDivergence
*/
package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/balance-ledger/generic"
)

// ReconcileResult summarizes what a reconciliation changed.
type ReconcileResult struct {
	Inserted int
	Updated  int
	Deleted  int
}

// Changed reports whether any entry was written.
func (r ReconcileResult) Changed() bool {
	return r.Inserted+r.Updated+r.Deleted > 0
}

type reconciler struct {
	writer      *ledgerWriter
	planner     *AccrualPlanner
	assignments AssignmentStore
}

// apply moves key from old to updated. save persists the assignment change;
// it runs last, inside the ledger transaction. If the stored assignments no
// longer match old, nothing is written and ErrConcurrentModification is
// returned.
func (r *reconciler) apply(ctx context.Context, key generic.LedgerKey, old, updated AssignmentTimeline, save func(AssignmentStore) error) (ReconcileResult, error) {
	var result ReconcileResult

	from, changed := generic.FirstDivergence(old, updated)

	plan, err := r.planner.Plan(ctx, key, updated)
	if err != nil {
		return result, err
	}

	err = r.writer.mutate(ctx, true, func(lt *ledgerTx) error {
		if err := lt.checkTimeline(r.assignments, key, old); err != nil {
			return err
		}
		snap, err := lt.store.Ledger(ctx, key)
		if err != nil {
			return err
		}
		if err := checkOrphans(snap, old, updated); err != nil {
			return err
		}
		if changed {
			result, err = r.diff(lt, snap, plan, from.Date())
			if err != nil {
				return err
			}
		}
		return save(lt.assignments(r.assignments))
	})
	return result, err
}

func (r *reconciler) diff(lt *ledgerTx, snap generic.LedgerSnapshot, plan []PlannedAddition, from generic.TimePoint) (ReconcileResult, error) {
	var (
		result   ReconcileResult
		existing []generic.Entry
		matched  = make(map[generic.EntryID]bool)
	)
	for _, e := range snap.Entries {
		if isPolicyAddition(e) && e.EffectiveAt.AfterOrEqual(from) {
			existing = append(existing, e)
		}
	}

	type change struct {
		planned PlannedAddition
		entry   generic.Entry
	}
	var (
		inserts []PlannedAddition
		updates []change
	)
	for _, p := range plan {
		if p.Event.At.Before(from) {
			continue
		}
		found := false
		for _, e := range existing {
			if !matched[e.ID] && p.matches(e) {
				matched[e.ID] = true
				found = true
				if !p.sameTerms(e) {
					updates = append(updates, change{planned: p, entry: e})
				}
				break
			}
		}
		if !found {
			inserts = append(inserts, p)
		}
	}

	// Deletes first, so freed idempotency keys and removals can be reused.
	for _, e := range existing {
		if matched[e.ID] {
			continue
		}
		if err := lt.delete(e); err != nil {
			return result, fmt.Errorf("delete addition %s: %w", e.ID, err)
		}
		result.Deleted++
	}
	for _, c := range updates {
		next := c.entry
		next.ResourceAmount = c.planned.Event.Amount
		next.ValidityDate = c.planned.Event.ValidityDate
		if _, err := lt.update(c.entry, next); err != nil {
			return result, fmt.Errorf("update addition %s: %w", c.entry.ID, err)
		}
		result.Updated++
	}
	for _, p := range inserts {
		if _, err := lt.insert(p.entry(snap.Key)); err != nil {
			return result, fmt.Errorf("insert addition at %s: %w", p.Event.At, err)
		}
		result.Inserted++
	}
	return result, nil
}

// checkOrphans rejects timelines that leave consumption without an assignment.
func checkOrphans(snap generic.LedgerSnapshot, old, updated AssignmentTimeline) error {
	for _, e := range snap.Entries {
		if e.Kind != generic.KindConsumption {
			continue
		}
		_, covered := old.ActiveAt(e.EffectiveAt)
		_, stillCovered := updated.ActiveAt(e.EffectiveAt)
		if covered && !stillCovered {
			return generic.Invalid("effective_at",
				fmt.Sprintf("consumption %s on %s would fall outside every assignment", e.ID, e.EffectiveAt.Date()))
		}
	}
	return nil
}

func isPolicyAddition(e generic.Entry) bool {
	return e.Kind == generic.KindAddition && e.PolicyID != ""
}

// entry builds the ledger entry for a planned addition.
func (p PlannedAddition) entry(key generic.LedgerKey) generic.Entry {
	return generic.Entry{
		Key:            key,
		PolicyID:       p.PolicyID,
		Kind:           generic.KindAddition,
		EffectiveAt:    p.Event.At,
		ValidityDate:   p.Event.ValidityDate,
		ResourceAmount: p.Event.Amount,
		ManualAmount:   p.Event.Amount.Zero(),
		IdempotencyKey: p.IdempotencyKey,
	}
}
