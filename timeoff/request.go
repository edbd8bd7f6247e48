package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// TIME-OFF REQUESTS - Consumption entries linked to a request
// =============================================================================

// TimeOffRequest is an approved request as the ledger sees it: how many
// minutes it takes on each day. Validation against work schedules happens
// upstream.
type TimeOffRequest struct {
	ID         string
	EmployeeID generic.EntityID
	CategoryID generic.CategoryID
	Days       []RequestDay
}

// RequestDay is the time taken on one day.
type RequestDay struct {
	Date    generic.TimePoint
	Minutes int64
}

// RecordTimeOff writes one consumption entry per requested day, atomically.
// Recording the same request twice fails with ErrDuplicateIdempotencyKey.
func (s *Service) RecordTimeOff(ctx context.Context, tenantID generic.TenantID, req TimeOffRequest) ([]generic.Entry, error) {
	key := generic.LedgerKey{TenantID: tenantID, EntityID: req.EmployeeID, CategoryID: req.CategoryID}
	if err := s.checkLedger(ctx, key); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, generic.Invalid("request_id", "required")
	}
	if len(req.Days) == 0 {
		return nil, generic.Invalid("days", "at least one day is required")
	}
	for _, d := range req.Days {
		if d.Date.IsZero() {
			return nil, generic.Invalid("days", "date is required")
		}
		if d.Minutes <= 0 {
			return nil, generic.Invalid("days", fmt.Sprintf("minutes on %s must be positive", d.Date.Date()))
		}
	}

	entries := make([]generic.Entry, 0, len(req.Days))
	err := s.writer.mutate(ctx, true, func(lt *ledgerTx) error {
		for _, d := range req.Days {
			stored, err := lt.insert(generic.Entry{
				Key:            key,
				Kind:           generic.KindConsumption,
				EffectiveAt:    d.Date,
				ResourceAmount: generic.Minutes(-d.Minutes),
				ManualAmount:   generic.Minutes(0),
				SourceRef:      req.ID,
				IdempotencyKey: fmt.Sprintf("request/%s/%s", req.ID, d.Date.Date()),
			})
			if err != nil {
				return fmt.Errorf("record %s: %w", d.Date.Date(), err)
			}
			entries = append(entries, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CancelTimeOff deletes the consumption entries of a request. Returns how
// many entries were deleted; zero when the request left no entries.
func (s *Service) CancelTimeOff(ctx context.Context, tenantID generic.TenantID, employeeID generic.EntityID, categoryID generic.CategoryID, requestID string) (int, error) {
	key := generic.LedgerKey{TenantID: tenantID, EntityID: employeeID, CategoryID: categoryID}
	if err := s.checkLedger(ctx, key); err != nil {
		return 0, err
	}
	deleted := 0
	err := s.writer.mutate(ctx, true, func(lt *ledgerTx) error {
		snap, err := lt.store.Ledger(ctx, key)
		if err != nil {
			return err
		}
		for _, e := range snap.Entries {
			if e.Kind != generic.KindConsumption || e.SourceRef != requestID {
				continue
			}
			if err := lt.delete(e); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
