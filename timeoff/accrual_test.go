package timeoff_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

// =============================================================================
// PERIOD CALCULATOR
// =============================================================================

func TestPolicyPeriodFor(t *testing.T) {
	tests := []struct {
		name         string
		policy       timeoff.Policy
		at           generic.TimePoint
		wantStart    generic.TimePoint
		wantValidity *generic.TimePoint
	}{
		{
			name:         "balancer expires the following April",
			policy:       timeoff.BalancerPolicy("b", generic.Minutes(1000), 1, time.January, 1, time.April, 1),
			at:           date(2016, time.January, 1),
			wantStart:    date(2016, time.January, 1),
			wantValidity: ptr(date(2017, time.April, 1)),
		},
		{
			name:         "mid-period instant maps to the period start",
			policy:       timeoff.BalancerPolicy("b", generic.Minutes(1000), 1, time.January, 1, time.April, 1),
			at:           date(2016, time.August, 17),
			wantStart:    date(2016, time.January, 1),
			wantValidity: ptr(date(2017, time.April, 1)),
		},
		{
			name:         "end month before start month rolls into the next year",
			policy:       timeoff.BalancerPolicy("b", generic.Minutes(1000), 1, time.October, 1, time.March, 0),
			at:           date(2017, time.February, 1),
			wantStart:    date(2016, time.October, 1),
			wantValidity: ptr(date(2017, time.March, 1)),
		},
		{
			name:      "counter never expires",
			policy:    timeoff.CounterPolicy("c", generic.Minutes(0), 1, time.January),
			at:        date(2016, time.May, 5),
			wantStart: date(2016, time.January, 1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.PeriodFor(tt.at)
			assert.True(t, got.Start.Equal(tt.wantStart), got.Start.String())
			if tt.wantValidity == nil {
				assert.Nil(t, got.ValidityDate)
				return
			}
			require.NotNil(t, got.ValidityDate)
			assert.True(t, got.ValidityDate.Equal(*tt.wantValidity), got.ValidityDate.String())

			// pure: a second call agrees
			again := tt.policy.PeriodFor(tt.at)
			assert.True(t, again.ValidityDate.Equal(*got.ValidityDate))
		})
	}
}

// =============================================================================
// ACCRUAL SCENARIOS
// =============================================================================

func TestAccrual_ZeroCounterFrom2013(t *testing.T) {
	// GIVEN: a zero-nominal counter assigned on 2013-01-01
	f := newFixture(t, clock(2018, time.June, 1))
	f.addPolicy(t, timeoff.Policy{
		ID:       "sick",
		Name:     "Sick leave",
		Type:     timeoff.PolicyCounter,
		Schedule: generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January},
	})
	f.assign(t, "sick", date(2013, time.January, 1))

	// THEN: one zero addition per year 2013-2018 and no removals
	snap := f.settle(t)
	additions := ofKind(snap, generic.KindAddition)
	require.Len(t, additions, 6)
	for i, a := range additions {
		assert.True(t, a.EffectiveAt.Date().Equal(date(2013+i, time.January, 1)), a.EffectiveAt.String())
		assert.Nil(t, a.ValidityDate)
		assertMinutes(t, 0, a.Amount)
	}
	assert.Empty(t, ofKind(snap, generic.KindRemoval))
}

func TestAccrual_BalancerFrom2013(t *testing.T) {
	// GIVEN: a balancer expiring on April 1st one year later, assigned on 2013-01-01
	f := newFixture(t, clock(2018, time.June, 1))
	f.addPolicy(t, timeoff.BalancerPolicy("vacation-std", generic.Minutes(1000), 1, time.January, 1, time.April, 1))
	f.assign(t, "vacation-std", date(2013, time.January, 1))

	snap := f.settle(t)

	// THEN: additions on 1/1 of 2013-2018
	additions := ofKind(snap, generic.KindAddition)
	require.Len(t, additions, 6)
	for i, a := range additions {
		assert.True(t, a.EffectiveAt.Equal(date(2013+i, time.January, 1).At(generic.AdditionOffset)), a.EffectiveAt.String())
		require.NotNil(t, a.ValidityDate)
		assert.True(t, a.ValidityDate.Equal(date(2014+i, time.April, 1)))
		assert.Equal(t, generic.PolicyID("vacation-std"), a.PolicyID)
		assert.NotEmpty(t, a.IdempotencyKey)
	}

	// AND: removals on 1/4 of 2014-2019, each expiring one full credit
	removals := ofKind(snap, generic.KindRemoval)
	require.Len(t, removals, 6)
	for i, r := range removals {
		assert.True(t, r.EffectiveAt.Equal(date(2014+i, time.April, 1).At(generic.RemovalOffset)), r.EffectiveAt.String())
		assert.Equal(t, []generic.EntryID{additions[i].ID}, r.CreditAdditionIDs)
		assertMinutes(t, -1000, r.Amount)
	}
	assertMinutes(t, 0, snap.Entries[len(snap.Entries)-1].Balance)

	balance, err := f.svc.Balance(context.Background(), tenant, employee, category)
	require.NoError(t, err)
	assertMinutes(t, 1000, balance)
}

func TestAccrual_PartialConsumption(t *testing.T) {
	tests := []struct {
		consumed int64
		want     int64
	}{
		{600, -400},
		{700, -300},
		{1100, 100},
		{1200, 200},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("consumed %d", tt.consumed), func(t *testing.T) {
			f := newFixture(t, clock(2016, time.June, 1))
			f.addPolicy(t, timeoff.BalancerPolicy("vacation-std", generic.Minutes(1000), 1, time.January, 1, time.April, 1))
			f.assign(t, "vacation-std", date(2015, time.January, 1))

			f.consume(t, date(2015, time.July, 1), tt.consumed)

			snap := f.settle(t)
			removals := ofKind(snap, generic.KindRemoval)
			require.NotEmpty(t, removals)
			assertMinutes(t, tt.want, removals[0].Amount, "consumed %d", tt.consumed)
		})
	}
}

func TestAccrual_MidCycleWithoutProration(t *testing.T) {
	// GIVEN: assignment on 2013-03-01 of a policy that does not prorate
	f := newFixture(t, clock(2015, time.June, 1))
	f.addPolicy(t, timeoff.BalancerPolicy("vacation-std", generic.Minutes(1000), 1, time.January, 1, time.April, 1))
	f.assign(t, "vacation-std", date(2013, time.March, 1))

	// THEN: the first credit waits for the next anniversary
	snap := f.settle(t)
	additions := ofKind(snap, generic.KindAddition)
	require.Len(t, additions, 2)
	assert.True(t, additions[0].EffectiveAt.Date().Equal(date(2014, time.January, 1)))
}

func TestAccrual_MidCycleProrated(t *testing.T) {
	// GIVEN: assignment on 2013-07-02 of a linearly prorated policy
	f := newFixture(t, clock(2014, time.June, 1))
	f.addPolicy(t, timeoff.ProratedBalancerPolicy("vacation-pro", generic.Minutes(365), 1, time.January, 1, time.April, 1))
	f.assign(t, "vacation-pro", date(2013, time.July, 2))

	// THEN: a prorated credit on the assignment date, full credits after
	snap := f.settle(t)
	additions := ofKind(snap, generic.KindAddition)
	require.Len(t, additions, 2)
	assert.True(t, additions[0].EffectiveAt.Date().Equal(date(2013, time.July, 2)))
	assertMinutes(t, 183, additions[0].Amount)
	require.NotNil(t, additions[0].ValidityDate)
	assert.True(t, additions[0].ValidityDate.Equal(date(2014, time.April, 1)))
	assertMinutes(t, 365, additions[1].Amount)
}

func TestAccrual_YearsPassedShortensFirstValidity(t *testing.T) {
	// GIVEN: credits normally last two years, one already passed for mid-cycle starts
	p := timeoff.BalancerPolicy("vacation-long", generic.Minutes(1000), 1, time.January, 1, time.April, 2)
	p.Schedule.YearsPassed = 1
	f := newFixture(t, clock(2015, time.June, 1))
	f.addPolicy(t, p)
	f.assign(t, "vacation-long", date(2013, time.March, 1))

	snap := f.settle(t)
	additions := ofKind(snap, generic.KindAddition)
	require.Len(t, additions, 2)

	// THEN: only the first addition is shortened
	assert.True(t, additions[0].ValidityDate.Equal(date(2015, time.April, 1)))
	assert.True(t, additions[1].ValidityDate.Equal(date(2017, time.April, 1)))
}

func TestAccrual_ValidityBeforeAdditionRejected(t *testing.T) {
	// GIVEN: a prorated policy whose shortened first validity falls before the assignment
	p := timeoff.ProratedBalancerPolicy("vacation-short", generic.Minutes(1000), 1, time.January, 1, time.April, 1)
	p.Schedule.YearsPassed = 1
	f := newFixture(t, clock(2014, time.June, 1))
	f.addPolicy(t, p)

	// WHEN: it is assigned mid-cycle
	_, err := f.svc.AssignPolicy(context.Background(), tenant, employee, category, "vacation-short", date(2013, time.May, 1))

	// THEN: the assignment is rejected and nothing is written
	assert.ErrorIs(t, err, generic.ErrInvalidEntry)
	snap, err := f.store.Ledger(context.Background(), ledgerKey)
	require.NoError(t, err)
	assert.Empty(t, snap.Entries)
	assignments, err := f.svc.Assignments(context.Background(), tenant, employee, category)
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestAccrual_FutureAssignmentPlansNothing(t *testing.T) {
	f := newFixture(t, clock(2016, time.June, 1))
	f.addPolicy(t, timeoff.BalancerPolicy("vacation-std", generic.Minutes(1000), 1, time.January, 1, time.April, 1))
	f.assign(t, "vacation-std", date(2017, time.January, 1))

	snap := f.settle(t)
	assert.Empty(t, snap.Entries)
}
