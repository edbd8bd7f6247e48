/*
policies.go - Time-off policy rules and ready-made configurations

PURPOSE:
  A policy decides how credit accrues in one time-off category:

  Counter:
    - Credits NominalAmount (often zero) on every start anniversary
    - Never expires, so no removals are generated
    - Typical use: sick leave that is only tracked, not limited

  Balancer:
    - Credits NominalAmount on every start anniversary
    - The credit expires on the end anniversary YearsToEffect years later
    - At expiry a removal entry nets out whatever is left unconsumed

EXAMPLE:
  vacation := timeoff.BalancerPolicy("vacation", generic.Minutes(12000), 1, 1, 1, 4, 1)
  period := vacation.PeriodFor(generic.NewTimePoint(2016, time.January, 1))
  // period.Start = 2016-01-01, *period.ValidityDate = 2017-04-01

SEE ALSO:
  - generic/period.go: AnniversarySchedule (the period calculator)
  - accrual.go: Turns assignments into planned additions
  - factory/policy.go: JSON-based policy creation
*/
package timeoff

import (
	"time"

	"github.com/warp/balance-ledger/generic"
)

// Validate checks the policy configuration.
func (p Policy) Validate() error {
	switch p.Type {
	case PolicyCounter:
		if p.Schedule.Expires() {
			return generic.Invalid("end_month", "counter policies never expire")
		}
	case PolicyBalancer:
		if p.NominalAmount == nil {
			return generic.Invalid("nominal_amount", "required for balancer policies")
		}
		if !p.Schedule.Expires() {
			return generic.Invalid("end_month", "required for balancer policies")
		}
	default:
		return generic.Invalid("policy_type", "must be counter or balancer, got "+string(p.Type))
	}
	if !p.Prorate.Valid() {
		return generic.Invalid("prorate", "unknown method "+string(p.Prorate))
	}
	return p.Schedule.Validate()
}

// Nominal returns the per-period credit.
func (p Policy) Nominal() generic.Amount {
	if p.NominalAmount == nil {
		return generic.Minutes(0)
	}
	return *p.NominalAmount
}

// IsCounter reports whether entries under this policy never expire.
func (p Policy) IsCounter() bool { return p.Type == PolicyCounter }

// PeriodFor returns the enclosing accrual period of t.
func (p Policy) PeriodFor(t generic.TimePoint) generic.PolicyPeriod {
	period := p.Schedule.PeriodFor(t)
	if p.IsCounter() {
		period.ValidityDate = nil
	}
	return period
}

// =============================================================================
// COMMON TIME-OFF POLICIES
// =============================================================================

// CounterPolicy returns a counter policy accruing nominal every startDay/startMonth.
func CounterPolicy(id generic.PolicyID, nominal generic.Amount, startDay int, startMonth time.Month) Policy {
	return Policy{
		ID:            id,
		Name:          "Counter",
		Type:          PolicyCounter,
		NominalAmount: &nominal,
		Schedule:      generic.AnniversarySchedule{StartDay: startDay, StartMonth: startMonth},
		Prorate:       generic.ProrateNone,
	}
}

// BalancerPolicy returns a balancer crediting nominal every start anniversary,
// expiring on the end anniversary yearsToEffect years later.
func BalancerPolicy(id generic.PolicyID, nominal generic.Amount, startDay int, startMonth time.Month, endDay int, endMonth time.Month, yearsToEffect int) Policy {
	return Policy{
		ID:            id,
		Name:          "Balancer",
		Type:          PolicyBalancer,
		NominalAmount: &nominal,
		Schedule: generic.AnniversarySchedule{
			StartDay:      startDay,
			StartMonth:    startMonth,
			EndDay:        endDay,
			EndMonth:      endMonth,
			YearsToEffect: yearsToEffect,
		},
		Prorate: generic.ProrateNone,
	}
}

// ProratedBalancerPolicy is a balancer whose mid-cycle assignments receive a
// linearly prorated first credit.
func ProratedBalancerPolicy(id generic.PolicyID, nominal generic.Amount, startDay int, startMonth time.Month, endDay int, endMonth time.Month, yearsToEffect int) Policy {
	p := BalancerPolicy(id, nominal, startDay, startMonth, endDay, endMonth, yearsToEffect)
	p.Name = "Prorated balancer"
	p.Prorate = generic.ProrateLinear
	return p
}
