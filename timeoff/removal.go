/*
removal.go - Removal amount calculator

PURPOSE:
  A removal expires whatever is left of the additions linked to it. This file
  decides how much is left.

ALLOCATION RULE (FIFO):
  Walk the ledger up to the removal, in ledger order, tracking every open
  expiring credit (an addition linked to a removal) with its remaining amount.

    - Addition with a removal link: opens a credit (remaining = its amount)
    - Debit (negative consumption or manual entry): draws from the oldest
      open credit first; whatever exceeds all open credits is charged to the
      newest one, which goes negative
    - Removal: closes the credits linked to it; consumption already
      attributed to them is never counted again
    - Reset: drops every open credit

  The removal's resource amount is the negative of the remaining amount of
  its linked credits:

    addition 1000, consumption 600   -> remaining  400 -> removal -400
    addition 1000, consumption 1100  -> remaining -100 -> removal  100

  A positive removal carries the deficit into the following period.

PURITY:
  The result depends only on the entries before the removal. The cascade
  walks the ledger in order, so those entries are already recomputed when a
  removal is reached.

SEE ALSO:
  - cascade.go: Calls RemovalAmount for each pending removal
*/
package timeoff

import (
	"github.com/warp/balance-ledger/generic"
)

type openCredit struct {
	additionID generic.EntryID
	removalID  generic.EntryID
	remaining  generic.Amount
}

// RemovalAmount returns the resource amount of the removal at position i of
// entries, which must be in ledger order.
func RemovalAmount(entries []generic.Entry, i int) generic.Amount {
	removal := entries[i]
	credits := openCredits(entries[:i])

	total := removal.ResourceAmount.Zero()
	for _, c := range credits {
		if c.removalID == removal.ID {
			total = total.Add(c.remaining)
		}
	}
	return total.Neg()
}

// openCredits replays entries and returns the credits still open after them.
func openCredits(entries []generic.Entry) []*openCredit {
	var open []*openCredit
	for _, e := range entries {
		switch {
		case e.Reset:
			open = nil

		case e.IsCredit():
			open = append(open, &openCredit{additionID: e.ID, removalID: e.RemovalID, remaining: e.Amount})

		case e.Kind == generic.KindRemoval:
			kept := open[:0]
			for _, c := range open {
				if c.removalID != e.ID {
					kept = append(kept, c)
				}
			}
			open = kept

		case e.IsDebit():
			draw(open, e.Amount.Neg())
		}
	}
	return open
}

// draw consumes amount from the oldest credits with something left, charging
// any excess to the newest credit.
func draw(open []*openCredit, amount generic.Amount) {
	if len(open) == 0 {
		return
	}
	for _, c := range open {
		if !amount.IsPositive() {
			return
		}
		if !c.remaining.IsPositive() {
			continue
		}
		take := amount.Min(c.remaining)
		c.remaining = c.remaining.Sub(take)
		amount = amount.Sub(take)
	}
	if amount.IsPositive() {
		newest := open[len(open)-1]
		newest.remaining = newest.remaining.Sub(amount)
	}
}
