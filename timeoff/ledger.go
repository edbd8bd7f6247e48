/*
ledger.go - Synchronous ledger mutations

PURPOSE:
  Every mutation (create, update, destroy, reconcile, scheduler run) goes
  through one path:

    1. Open a store transaction
    2. Write the triggering entries (and maintain removal links)
    3. Mark everything after the earliest touched entry as pending
    4. Commit
    5. Notify the cascade engine, once per touched ledger

  Steps 1-4 are atomic: either the entries and their pending markers are all
  persisted, or none are. Step 3 never walks the ledger; recomputation is
  left to the cascade engine.

REMOVAL LINKS:
  Removals are shared: all additions expiring at the same instant link to one
  removal. Inserting an addition with a validity date finds or creates the
  removal at that date; dropping the last addition linked to a removal drops
  the removal too.

    2016-01-01 addition (validity 2017-04-01) --+
                                                +--> 2017-04-01 removal
    2016-06-01 addition (validity 2017-04-01) --+

SEE ALSO:
  - cascade.go: Recomputes what this file marks pending
  - generic/store.go: TxEntryStore
*/
package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// LEDGER WRITER
// =============================================================================

type ledgerWriter struct {
	store  generic.TxEntryStore
	engine *Engine
}

// mutate runs fn in one transaction. With cascade, every touched ledger is
// marked pending from its earliest touched entry and handed to the engine.
func (w *ledgerWriter) mutate(ctx context.Context, cascade bool, fn func(lt *ledgerTx) error) error {
	var lt *ledgerTx
	err := w.store.WithTx(ctx, func(s generic.EntryStore) error {
		lt = &ledgerTx{ctx: ctx, store: s, touched: make(map[generic.LedgerKey]generic.Entry)}
		if err := fn(lt); err != nil {
			return err
		}
		if !cascade {
			return nil
		}
		for key, from := range lt.touched {
			if _, err := s.MarkPendingFrom(ctx, key, from.EffectiveAt, from.Seq); err != nil {
				return fmt.Errorf("mark pending %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if cascade {
		for key, from := range lt.touched {
			w.engine.Notify(ctx, key, from.ID)
		}
	}
	return nil
}

// =============================================================================
// LEDGER TRANSACTION
// =============================================================================

// ledgerTx is the write side of one transaction. It remembers, per ledger,
// the earliest entry it touched.
type ledgerTx struct {
	ctx     context.Context
	store   generic.EntryStore
	touched map[generic.LedgerKey]generic.Entry
}

// assignments returns the assignment store bound to the transaction when the
// entry store also keeps assignments, fallback otherwise.
func (lt *ledgerTx) assignments(fallback AssignmentStore) AssignmentStore {
	if s, ok := lt.store.(AssignmentStore); ok {
		return s
	}
	return fallback
}

// checkTimeline fails with ErrConcurrentModification when the assignment
// history of key is no longer planned, the one a plan was built from.
func (lt *ledgerTx) checkTimeline(fallback AssignmentStore, key generic.LedgerKey, planned AssignmentTimeline) error {
	current, err := readTimeline(lt.ctx, lt.assignments(fallback), key)
	if err != nil {
		return err
	}
	if !current.Equal(planned) {
		return fmt.Errorf("assignments of %s changed while planning: %w", key, generic.ErrConcurrentModification)
	}
	return nil
}

func (lt *ledgerTx) touch(e generic.Entry) {
	current, ok := lt.touched[e.Key]
	if !ok || e.OrderedBefore(current) {
		lt.touched[e.Key] = e
	}
}

// insert stores e as pending. Additions with a validity date are linked to
// the removal at that date.
func (lt *ledgerTx) insert(e generic.Entry) (generic.Entry, error) {
	e.Pending = true
	e.Amount = e.DerivedAmount()
	if e.Kind == generic.KindAddition && e.ValidityDate != nil {
		removal, err := lt.removalFor(e.Key, e.PolicyID, *e.ValidityDate)
		if err != nil {
			return generic.Entry{}, err
		}
		e.RemovalID = removal.ID
	}
	stored, err := lt.store.Insert(lt.ctx, e)
	if err != nil {
		return generic.Entry{}, err
	}
	lt.touch(stored)
	return stored, nil
}

// update writes e over its stored version. prev is the entry as it was.
func (lt *ledgerTx) update(prev, e generic.Entry) (generic.Entry, error) {
	e.Pending = true
	e.Amount = e.DerivedAmount()
	if e.Kind == generic.KindAddition && !sameValidity(prev.ValidityDate, e.ValidityDate) {
		e.RemovalID = ""
		if e.ValidityDate != nil {
			removal, err := lt.removalFor(e.Key, e.PolicyID, *e.ValidityDate)
			if err != nil {
				return generic.Entry{}, err
			}
			e.RemovalID = removal.ID
		}
	}
	if err := lt.store.Update(lt.ctx, e); err != nil {
		return generic.Entry{}, err
	}
	if prev.RemovalID != "" && prev.RemovalID != e.RemovalID {
		if err := lt.dropIfUnlinked(e.Key, prev.RemovalID); err != nil {
			return generic.Entry{}, err
		}
	}
	lt.touch(prev)
	return e, nil
}

// delete removes e, and its removal when no other addition links to it.
func (lt *ledgerTx) delete(e generic.Entry) error {
	if err := lt.store.Delete(lt.ctx, e.Key.TenantID, e.ID); err != nil {
		return err
	}
	lt.touch(e)
	if e.Kind == generic.KindAddition && e.RemovalID != "" {
		return lt.dropIfUnlinked(e.Key, e.RemovalID)
	}
	return nil
}

// removalFor returns the removal expiring credit on validity, creating it
// when the ledger has none.
func (lt *ledgerTx) removalFor(key generic.LedgerKey, policyID generic.PolicyID, validity generic.TimePoint) (generic.Entry, error) {
	at := validity.At(generic.RemovalOffset)
	snap, err := lt.store.Ledger(lt.ctx, key)
	if err != nil {
		return generic.Entry{}, err
	}
	if removal, ok := snap.RemovalAt(at); ok {
		return removal, nil
	}
	zero := generic.Minutes(0)
	removal, err := lt.store.Insert(lt.ctx, generic.Entry{
		Key:            key,
		PolicyID:       policyID,
		Kind:           generic.KindRemoval,
		EffectiveAt:    at,
		ResourceAmount: zero,
		ManualAmount:   zero,
		Amount:         zero,
		Balance:        zero,
		Pending:        true,
	})
	if err != nil {
		return generic.Entry{}, fmt.Errorf("create removal at %s: %w", validity, err)
	}
	lt.touch(removal)
	return removal, nil
}

// dropIfUnlinked deletes the removal once no addition links to it.
func (lt *ledgerTx) dropIfUnlinked(key generic.LedgerKey, removalID generic.EntryID) error {
	removal, err := lt.store.Get(lt.ctx, key.TenantID, removalID)
	if generic.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(removal.CreditAdditionIDs) > 0 {
		return nil
	}
	if err := lt.store.Delete(lt.ctx, key.TenantID, removalID); err != nil {
		return err
	}
	lt.touch(removal)
	return nil
}

func sameValidity(a, b *generic.TimePoint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
