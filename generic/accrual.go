package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCRUAL EVENT - One planned policy credit
// =============================================================================

// AccrualEvent is a credit a policy grants at a point in time. ValidityDate is
// set when the credit expires.
type AccrualEvent struct {
	At           TimePoint
	Amount       Amount
	ValidityDate *TimePoint
	Reason       string
}

// Same-day ordering. A removal expiring credit on day D precedes the
// addition that opens a new period on D.
const (
	RemovalOffset  = 1 * time.Second
	AdditionOffset = 2 * time.Second
)

// =============================================================================
// PRORATION
// =============================================================================

type ProrateMethod string

const (
	ProrateNone   ProrateMethod = "none"
	ProrateLinear ProrateMethod = "linear"
)

func (m ProrateMethod) Valid() bool {
	return m == "" || m == ProrateNone || m == ProrateLinear
}

// Prorate scales amount by the share of period left at from, rounded to a
// whole unit. from is clamped into the period.
func Prorate(amount Amount, period Period, from TimePoint) Amount {
	total := DaysBetween(period.Start, period.End)
	if total <= 0 {
		return amount
	}
	left := DaysBetween(from.Date(), period.End)
	if left <= 0 {
		return amount.Zero()
	}
	if left > total {
		left = total
	}
	share := decimal.NewFromInt(int64(left)).Div(decimal.NewFromInt(int64(total)))
	return Amount{Value: amount.Value.Mul(share).Round(0), Unit: amount.Unit}
}

// =============================================================================
// LOCKER - Per-ledger mutual exclusion
// =============================================================================

// Locker hands out mutual-exclusion tokens by name. TryLock never blocks: ok
// is false when another holder owns the name.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
}
