package factory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-ledger/factory"
	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

func TestParsePolicy_Presets(t *testing.T) {
	f := factory.NewPolicyFactory()

	vacation, err := f.ParsePolicy(timeoff.VacationJSON("vacation", "Vacation", 12000, 1, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, timeoff.PolicyBalancer, vacation.Type)
	assert.True(t, vacation.Nominal().Equal(generic.Minutes(12000)))
	assert.Equal(t, time.April, vacation.Schedule.EndMonth)
	assert.Equal(t, generic.ProrateNone, vacation.Prorate)

	period := vacation.PeriodFor(generic.NewTimePoint(2016, time.January, 1))
	require.NotNil(t, period.ValidityDate)
	assert.True(t, period.ValidityDate.Equal(generic.NewTimePoint(2017, time.April, 1)))

	prorated, err := f.ParsePolicy(timeoff.ProratedVacationJSON("vacation-pro", "Vacation", 12000, 1, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, generic.ProrateLinear, prorated.Prorate)

	sick, err := f.ParsePolicy(timeoff.SickLeaveJSON("sick", "Sick leave"))
	require.NoError(t, err)
	assert.True(t, sick.IsCounter())
	assert.True(t, sick.Nominal().IsZero())
	assert.Nil(t, sick.PeriodFor(generic.NewTimePoint(2016, time.May, 1)).ValidityDate)
}

func TestParsePolicy_Rejections(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"id": `},
		{"missing id", `{"policy_type": "counter", "start_day": 1, "start_month": 1}`},
		{"unknown type", `{"id": "x", "policy_type": "bank", "start_day": 1, "start_month": 1}`},
		{"unknown unit", `{"id": "x", "policy_type": "counter", "unit": "weeks", "start_day": 1, "start_month": 1}`},
		{"counter with end date", `{"id": "x", "policy_type": "counter", "start_day": 1, "start_month": 1, "end_day": 1, "end_month": 4}`},
		{"balancer without nominal", `{"id": "x", "policy_type": "balancer", "start_day": 1, "start_month": 1, "end_day": 1, "end_month": 4}`},
		{"balancer without end", `{"id": "x", "policy_type": "balancer", "nominal_amount": 100, "start_day": 1, "start_month": 1}`},
		{"unknown prorate", `{"id": "x", "policy_type": "counter", "start_day": 1, "start_month": 1, "prorate": "daily"}`},
		{"start month out of range", `{"id": "x", "policy_type": "counter", "start_day": 1, "start_month": 13}`},
	}
	f := factory.NewPolicyFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePolicy(tt.json)
			assert.ErrorIs(t, err, generic.ErrInvalidEntry)
		})
	}
}

func TestMarshal_RoundTripsThroughParse(t *testing.T) {
	f := factory.NewPolicyFactory()
	p := timeoff.ProratedBalancerPolicy("vacation-long", generic.Minutes(9600), 1, time.October, 1, time.March, 2)
	p.Schedule.YearsPassed = 1

	doc, err := f.Marshal(p)
	require.NoError(t, err)
	got, err := f.ParsePolicy(doc)
	require.NoError(t, err)

	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Type, got.Type)
	assert.Equal(t, p.Schedule, got.Schedule)
	assert.Equal(t, p.Prorate, got.Prorate)
	assert.True(t, got.Nominal().Equal(generic.Minutes(9600)))
}
