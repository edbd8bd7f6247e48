/*
Package timeoff provides JSON presets for common time-off policies.

These build policy JSON documents directly (the factory package imports
timeoff, so timeoff cannot import it back).

USAGE:
  import "github.com/warp/balance-ledger/timeoff"

  jsonStr := timeoff.VacationJSON("vacation", "Vacation", 12000, 1, 4, 1)
  policy, err := factory.NewPolicyFactory().ParsePolicy(jsonStr)
*/
package timeoff

import (
	"encoding/json"
)

// VacationJSON returns a balancer accruing nominalMinutes every January 1st,
// expiring on endDay/endMonth yearsToEffect years later.
func VacationJSON(id, name string, nominalMinutes int64, endDay, endMonth, yearsToEffect int) string {
	pj := map[string]interface{}{
		"id":              id,
		"name":            name,
		"policy_type":     "balancer",
		"unit":            "minutes",
		"nominal_amount":  nominalMinutes,
		"start_day":       1,
		"start_month":     1,
		"end_day":         endDay,
		"end_month":       endMonth,
		"years_to_effect": yearsToEffect,
		"prorate":         "none",
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// ProratedVacationJSON is VacationJSON with a prorated first credit for
// employees assigned mid-year.
func ProratedVacationJSON(id, name string, nominalMinutes int64, endDay, endMonth, yearsToEffect int) string {
	pj := map[string]interface{}{
		"id":              id,
		"name":            name,
		"policy_type":     "balancer",
		"unit":            "minutes",
		"nominal_amount":  nominalMinutes,
		"start_day":       1,
		"start_month":     1,
		"end_day":         endDay,
		"end_month":       endMonth,
		"years_to_effect": yearsToEffect,
		"prorate":         "linear",
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// SickLeaveJSON returns a zero-nominal counter: sick leave is tracked, never
// granted or expired.
func SickLeaveJSON(id, name string) string {
	pj := map[string]interface{}{
		"id":          id,
		"name":        name,
		"policy_type": "counter",
		"unit":        "minutes",
		"start_day":   1,
		"start_month": 1,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// FiscalYearVacationJSON returns a balancer whose periods start on the given
// fiscal anniversary.
func FiscalYearVacationJSON(id, name string, nominalMinutes int64, startDay, startMonth, endDay, endMonth, yearsToEffect int) string {
	pj := map[string]interface{}{
		"id":              id,
		"name":            name,
		"policy_type":     "balancer",
		"unit":            "minutes",
		"nominal_amount":  nominalMinutes,
		"start_day":       startDay,
		"start_month":     startMonth,
		"end_day":         endDay,
		"end_month":       endMonth,
		"years_to_effect": yearsToEffect,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
