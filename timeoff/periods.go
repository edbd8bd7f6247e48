package timeoff

import (
	"context"

	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// PERIOD SUMMARIES - Read model for UI display
// =============================================================================

// PeriodsFor returns one summary per accrual period, oldest first. Periods
// are delimited by policy additions; entries before the first addition count
// towards the first period. The ledger is settled first, so no pending value
// is ever reported.
func (s *Service) PeriodsFor(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID) ([]PeriodSummary, error) {
	snap, err := s.settled(ctx, generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID})
	if err != nil {
		return nil, err
	}
	return Summarize(snap), nil
}

// Balance returns the settled balance as of the clock's current instant.
// Removals dated in the future are not yet applied.
func (s *Service) Balance(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID) (generic.Amount, error) {
	return s.BalanceAt(ctx, tenantID, employeeID, categoryID, s.planner.now())
}

// BalanceAt returns the settled balance after every entry effective at or
// before at.
func (s *Service) BalanceAt(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID, at generic.TimePoint) (generic.Amount, error) {
	snap, err := s.settled(ctx, generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID})
	if err != nil {
		return generic.Amount{}, err
	}
	i := 0
	for i < len(snap.Entries) && !snap.Entries[i].EffectiveAt.After(at) {
		i++
	}
	return snap.BalanceBefore(i), nil
}

func (s *Service) settled(ctx context.Context, key generic.LedgerKey) (generic.LedgerSnapshot, error) {
	if err := s.checkLedger(ctx, key); err != nil {
		return generic.LedgerSnapshot{}, err
	}
	return s.engine.Settle(ctx, key)
}

// Summarize folds a settled ledger into period summaries.
func Summarize(snap generic.LedgerSnapshot) []PeriodSummary {
	var starts []generic.Entry
	for _, e := range snap.Entries {
		if isPolicyAddition(e) {
			starts = append(starts, e)
		}
	}
	if len(starts) == 0 {
		return nil
	}

	summaries := make([]PeriodSummary, len(starts))
	for i, start := range starts {
		summaries[i] = PeriodSummary{
			StartDate:    start.EffectiveAt.Date(),
			ValidityDate: start.ValidityDate,
			AmountTaken:  generic.Minutes(0),
			PeriodResult: generic.Minutes(0),
			Balance:      generic.Minutes(0),
		}
	}

	current := 0
	for _, e := range snap.Entries {
		for current+1 < len(starts) && !e.OrderedBefore(starts[current+1]) {
			current++
		}
		sum := &summaries[current]
		if e.IsDebit() {
			sum.AmountTaken = sum.AmountTaken.Sub(e.Amount)
		}
		sum.PeriodResult = sum.PeriodResult.Add(e.Amount)
		sum.Balance = e.Balance
	}
	return summaries
}
