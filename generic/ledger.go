/*
ledger.go - Ordered view of one (employee, category) ledger

PURPOSE:
  A LedgerSnapshot is what the store returns for one ledger: every entry in
  ledger order plus the ledger version it was read at. The cascade engine,
  the removal calculator and the period summaries all work on snapshots.

CRITICAL INVARIANTS:
  1. ORDER: entries sorted by (EffectiveAt, Seq)
  2. RUNNING BALANCE: Balance[0] = Amount[0], Balance[i] = Balance[i-1] + Amount[i]
  3. AMOUNT: Amount = ResourceAmount + ManualAmount

  Invariant 2 only holds for non-pending entries; pending entries are
  intermediate state until the cascade recomputes them.

SEE ALSO:
  - store.go: Persistence interface
  - timeoff/cascade.go: Restores invariant 2 after mutations
*/
package generic

import (
	"fmt"
	"sort"
)

// =============================================================================
// LEDGER SNAPSHOT
// =============================================================================

type LedgerSnapshot struct {
	Key     LedgerKey
	Version int64
	Entries []Entry
}

// SortEntries puts entries in ledger order.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OrderedBefore(entries[j])
	})
}

// IndexOf returns the position of id, or -1.
func (s LedgerSnapshot) IndexOf(id EntryID) int {
	for i, e := range s.Entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// FirstPending returns the position of the first pending entry, or -1.
func (s LedgerSnapshot) FirstPending() int {
	for i, e := range s.Entries {
		if e.Pending {
			return i
		}
	}
	return -1
}

// HasPending reports whether any entry awaits recomputation.
func (s LedgerSnapshot) HasPending() bool {
	return s.FirstPending() >= 0
}

// BalanceBefore returns the balance of the entry preceding position i
// (zero for the first entry).
func (s LedgerSnapshot) BalanceBefore(i int) Amount {
	if i <= 0 || len(s.Entries) == 0 {
		return Minutes(0)
	}
	return s.Entries[i-1].Balance
}

// RemovalAt returns the removal entry effective at instant at.
func (s LedgerSnapshot) RemovalAt(at TimePoint) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Kind == KindRemoval && e.EffectiveAt.Equal(at) {
			return e, true
		}
	}
	return Entry{}, false
}

// CreditsOf returns the additions linked to removalID.
func (s LedgerSnapshot) CreditsOf(removalID EntryID) []Entry {
	var out []Entry
	for _, e := range s.Entries {
		if e.Kind == KindAddition && e.RemovalID == removalID {
			out = append(out, e)
		}
	}
	return out
}

// Between returns entries with from <= EffectiveAt < to. A zero to is open ended.
func (s LedgerSnapshot) Between(from, to TimePoint) []Entry {
	p := Period{Start: from, End: to}
	var out []Entry
	for _, e := range s.Entries {
		if p.Contains(e.EffectiveAt) {
			out = append(out, e)
		}
	}
	return out
}

// VerifyRunningBalance checks invariants 2 and 3 on a fully settled ledger.
func (s LedgerSnapshot) VerifyRunningBalance() error {
	running := Minutes(0)
	for i, e := range s.Entries {
		if e.Pending {
			return fmt.Errorf("entry %d (%s) is pending", i, e.ID)
		}
		if !e.Amount.Equal(e.DerivedAmount()) {
			return fmt.Errorf("entry %d (%s): amount %s != resource %s + manual %s",
				i, e.ID, e.Amount.Value, e.ResourceAmount.Value, e.ManualAmount.Value)
		}
		running = running.Add(e.Amount)
		if !e.Balance.Equal(running) {
			return fmt.Errorf("entry %d (%s): balance %s, expected %s", i, e.ID, e.Balance.Value, running.Value)
		}
	}
	return nil
}
