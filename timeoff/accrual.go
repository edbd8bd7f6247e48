/*
accrual.go - Accrual/expiration planning for policy assignments

PURPOSE:
  Turns an assignment timeline into the list of policy additions the ledger
  should contain "as of now". Each addition is one credit per period; for
  balancer policies it carries the validity date at which a removal will net
  it out.

RULES:
  - An assignment is active from its EffectiveAt until the next assignment of
    the same ledger starts. Reassignment = old schedule ends, new begins.
  - One addition per start anniversary inside the active span, up to and
    including the current period.
  - Mid-cycle start: with ProrateNone the first addition is at the next
    anniversary; with ProrateLinear a prorated addition is placed at the
    assignment date. Either way YearsPassed shortens that first addition's
    validity window.
  - Additions are placed at AdditionOffset past midnight so that a removal
    expiring credit on the same day (RemovalOffset) comes first.
  - A validity date on or before its addition's date rejects the whole plan.

IDEMPOTENCY:
  Every planned addition has a deterministic idempotency key derived from the
  ledger, policy and date. Re-running the plan never duplicates an addition.

SEE ALSO:
  - generic/period.go: AnniversarySchedule
  - scheduler.go: Applies a plan to the ledger
*/
package timeoff

import (
	"context"
	"fmt"

	"github.com/warp/balance-ledger/generic"
)

// PlannedAddition is an addition the ledger should contain.
type PlannedAddition struct {
	AssignmentID   string
	PolicyID       generic.PolicyID
	Event          generic.AccrualEvent
	IdempotencyKey string
}

// AccrualPlanner computes planned additions from assignments.
type AccrualPlanner struct {
	Directory Directory
	Clock     generic.Clock
}

func (ap *AccrualPlanner) now() generic.TimePoint {
	clock := ap.Clock
	if clock == nil {
		clock = generic.SystemClock
	}
	return generic.NewInstant(clock())
}

// Plan returns the planned additions of a whole timeline, in order.
func (ap *AccrualPlanner) Plan(ctx context.Context, key generic.LedgerKey, timeline AssignmentTimeline) ([]PlannedAddition, error) {
	now := ap.now()
	var plan []PlannedAddition
	for _, span := range timeline.Spans() {
		policy, err := ap.Directory.Policy(ctx, key.TenantID, span.Assignment.Resource)
		if err != nil {
			return nil, err
		}
		additions, err := PlanSpan(key, span, policy, now)
		if err != nil {
			return nil, err
		}
		plan = append(plan, additions...)
	}
	return plan, nil
}

// PlanSpan returns the planned additions of one assignment span as of now.
func PlanSpan(key generic.LedgerKey, span generic.Span[generic.PolicyID], policy Policy, now generic.TimePoint) ([]PlannedAddition, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	var (
		sched = policy.Schedule
		start = span.Assignment.EffectiveAt.Date()
		end   = span.Period.End
		today = now.Date()
		mid   = !sched.IsAnniversary(start)
		first = true
		plan  []PlannedAddition
	)
	if start.After(today) {
		return nil, nil
	}

	add := func(day generic.TimePoint, amount generic.Amount, yearsPassed int, reason string) error {
		var validity *generic.TimePoint
		if !policy.IsCounter() {
			validity = sched.ValidityFor(sched.PeriodStart(day), yearsPassed)
			if !validity.After(day) {
				return generic.Invalid("years_to_effect",
					fmt.Sprintf("removal on %s would precede its addition on %s", validity, day))
			}
		}
		plan = append(plan, PlannedAddition{
			AssignmentID: span.Assignment.ID,
			PolicyID:     policy.ID,
			Event: generic.AccrualEvent{
				At:           day.At(generic.AdditionOffset),
				Amount:       amount,
				ValidityDate: validity,
				Reason:       reason,
			},
			IdempotencyKey: accrualKey(key, policy.ID, day),
		})
		return nil
	}

	if mid && policy.Prorate == generic.ProrateLinear {
		period := generic.Period{Start: sched.PeriodStart(start), End: sched.NextStart(start)}
		if err := add(start, generic.Prorate(policy.Nominal(), period, start), sched.YearsPassed, "prorated accrual"); err != nil {
			return nil, err
		}
		first = false
	}

	for _, day := range sched.Starts(start, today) {
		if !end.IsZero() && !day.Before(end.Date()) {
			break
		}
		yearsPassed := 0
		if mid && first {
			yearsPassed = sched.YearsPassed
		}
		if err := add(day, policy.Nominal(), yearsPassed, "periodic accrual"); err != nil {
			return nil, err
		}
		first = false
	}
	return plan, nil
}

func accrualKey(key generic.LedgerKey, policyID generic.PolicyID, day generic.TimePoint) string {
	return fmt.Sprintf("accrual/%s/%s/%s/%s", key.EntityID, key.CategoryID, policyID, day.Date())
}

// matches reports whether an existing ledger entry is the addition p plans.
func (p PlannedAddition) matches(e generic.Entry) bool {
	return e.Kind == generic.KindAddition && e.PolicyID == p.PolicyID && e.EffectiveAt.Equal(p.Event.At)
}

// sameTerms reports whether e already carries p's amount and validity.
func (p PlannedAddition) sameTerms(e generic.Entry) bool {
	if !e.ResourceAmount.Equal(p.Event.Amount) {
		return false
	}
	switch {
	case e.ValidityDate == nil && p.Event.ValidityDate == nil:
		return true
	case e.ValidityDate == nil || p.Event.ValidityDate == nil:
		return false
	default:
		return e.ValidityDate.Equal(*p.Event.ValidityDate)
	}
}
