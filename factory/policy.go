/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into timeoff.Policy values. Policies are
  stored as JSON (store/sqlite keeps the document as-is) and posted as JSON
  through the API, so this is the one place that knows the format.

JSON SCHEMA:
  {
    "id": "vacation",
    "name": "Vacation",
    "policy_type": "balancer",
    "unit": "minutes",
    "nominal_amount": 12000,
    "start_day": 1,
    "start_month": 1,
    "end_day": 1,
    "end_month": 4,
    "years_to_effect": 1,
    "years_passed": 0,
    "prorate": "none"
  }

DEFAULTS:
  - unit: minutes
  - prorate: none
  - counter policies: nominal_amount 0, no end date

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(timeoff.VacationJSON("vacation", "Vacation", 12000, 1, 4, 1))

SEE ALSO:
  - timeoff/policies.go: Go-based policy configurations
  - timeoff/factory.go: JSON presets
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a policy.
type PolicyJSON struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PolicyType    string `json:"policy_type"`
	Unit          string `json:"unit,omitempty"`
	NominalAmount *int64 `json:"nominal_amount,omitempty"`
	StartDay      int    `json:"start_day"`
	StartMonth    int    `json:"start_month"`
	EndDay        int    `json:"end_day,omitempty"`
	EndMonth      int    `json:"end_month,omitempty"`
	YearsToEffect int    `json:"years_to_effect,omitempty"`
	YearsPassed   int    `json:"years_passed,omitempty"`
	Prorate       string `json:"prorate,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to Go structs.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses and validates a JSON policy document.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (timeoff.Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return timeoff.Policy{}, generic.Invalid("policy", fmt.Sprintf("malformed JSON: %v", err))
	}
	return f.FromJSON(pj)
}

// FromJSON converts PolicyJSON to a validated timeoff.Policy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (timeoff.Policy, error) {
	if pj.ID == "" {
		return timeoff.Policy{}, generic.Invalid("id", "required")
	}
	unit, err := parseUnit(pj.Unit)
	if err != nil {
		return timeoff.Policy{}, err
	}

	policy := timeoff.Policy{
		ID:   generic.PolicyID(pj.ID),
		Name: pj.Name,
		Type: timeoff.PolicyType(pj.PolicyType),
		Schedule: generic.AnniversarySchedule{
			StartDay:      pj.StartDay,
			StartMonth:    time.Month(pj.StartMonth),
			EndDay:        pj.EndDay,
			EndMonth:      time.Month(pj.EndMonth),
			YearsToEffect: pj.YearsToEffect,
			YearsPassed:   pj.YearsPassed,
		},
		Prorate: parseProrate(pj.Prorate),
	}
	if pj.NominalAmount != nil {
		nominal := generic.NewAmountFromInt(*pj.NominalAmount, unit)
		policy.NominalAmount = &nominal
	}
	if err := policy.Validate(); err != nil {
		return timeoff.Policy{}, err
	}
	return policy, nil
}

// ToJSON converts a Policy to PolicyJSON.
func (f *PolicyFactory) ToJSON(policy timeoff.Policy) PolicyJSON {
	pj := PolicyJSON{
		ID:            string(policy.ID),
		Name:          policy.Name,
		PolicyType:    string(policy.Type),
		Unit:          string(generic.UnitMinutes),
		StartDay:      policy.Schedule.StartDay,
		StartMonth:    int(policy.Schedule.StartMonth),
		EndDay:        policy.Schedule.EndDay,
		EndMonth:      int(policy.Schedule.EndMonth),
		YearsToEffect: policy.Schedule.YearsToEffect,
		YearsPassed:   policy.Schedule.YearsPassed,
		Prorate:       string(policy.Prorate),
	}
	if policy.NominalAmount != nil {
		n := policy.NominalAmount.Int()
		pj.NominalAmount = &n
		if policy.NominalAmount.Unit != "" {
			pj.Unit = string(policy.NominalAmount.Unit)
		}
	}
	return pj
}

// Marshal returns the JSON document of a policy.
func (f *PolicyFactory) Marshal(policy timeoff.Policy) (string, error) {
	b, err := json.Marshal(f.ToJSON(policy))
	if err != nil {
		return "", fmt.Errorf("marshal policy %s: %w", policy.ID, err)
	}
	return string(b), nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseUnit(s string) (generic.Unit, error) {
	switch s {
	case "", "minutes":
		return generic.UnitMinutes, nil
	case "hours":
		return generic.UnitHours, nil
	case "days":
		return generic.UnitDays, nil
	default:
		return "", generic.Invalid("unit", "must be minutes, hours or days, got "+s)
	}
}

func parseProrate(s string) generic.ProrateMethod {
	if s == "" {
		return generic.ProrateNone
	}
	return generic.ProrateMethod(s)
}
