package timeoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/generic/store"
	"github.com/warp/balance-ledger/timeoff"
)

// lateWriteStore runs after once, right after serving a ledger that has no
// pending entries.
type lateWriteStore struct {
	*store.Memory
	after func()
}

func (s *lateWriteStore) Ledger(ctx context.Context, key generic.LedgerKey) (generic.LedgerSnapshot, error) {
	snap, err := s.Memory.Ledger(ctx, key)
	if err == nil && !snap.HasPending() && s.after != nil {
		hook := s.after
		s.after = nil
		hook()
	}
	return snap, err
}

func TestPeriodsFor(t *testing.T) {
	// GIVEN: a balancer from 2014 with consumption in the first two periods
	f := newFixture(t, clock(2016, time.June, 1))
	f.addPolicy(t, balancer("vacation-std", 1000))
	f.assign(t, "vacation-std", date(2014, time.January, 1))
	f.consume(t, date(2014, time.June, 1), 300)
	f.consume(t, date(2015, time.February, 1), 1200)

	// WHEN
	periods, err := f.svc.PeriodsFor(context.Background(), tenant, employee, category)
	require.NoError(t, err)

	// THEN: one summary per addition, oldest first
	require.Len(t, periods, 3)
	tests := []struct {
		start    generic.TimePoint
		validity generic.TimePoint
		taken    int64
		result   int64
		balance  int64
	}{
		{date(2014, time.January, 1), date(2015, time.April, 1), 300, 700, 700},
		{date(2015, time.January, 1), date(2016, time.April, 1), 1200, -200, 500},
		{date(2016, time.January, 1), date(2017, time.April, 1), 0, -500, 0},
	}
	for i, tt := range tests {
		p := periods[i]
		assert.True(t, p.StartDate.Equal(tt.start), p.StartDate.String())
		require.NotNil(t, p.ValidityDate)
		assert.True(t, p.ValidityDate.Equal(tt.validity))
		assertMinutes(t, tt.taken, p.AmountTaken, "period %d taken", i)
		assertMinutes(t, tt.result, p.PeriodResult, "period %d result", i)
		assertMinutes(t, tt.balance, p.Balance, "period %d balance", i)
	}
}

func TestPeriodsFor_SettlesPendingEntries(t *testing.T) {
	f := newFixture(t, clock(2016, time.June, 1))
	f.addPolicy(t, balancer("vacation-std", 1000))
	f.assign(t, "vacation-std", date(2016, time.January, 1))
	f.consume(t, date(2016, time.February, 1), 250)

	// the engine has no queue, so the ledger is still pending here
	snap, err := f.store.Ledger(context.Background(), ledgerKey)
	require.NoError(t, err)
	require.True(t, snap.HasPending())

	periods, err := f.svc.PeriodsFor(context.Background(), tenant, employee, category)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assertMinutes(t, 250, periods[0].AmountTaken)
	assertMinutes(t, 0, periods[0].Balance)
}

func TestPeriodsFor_EmptyLedger(t *testing.T) {
	f := newFixture(t, clock(2016, time.June, 1))
	periods, err := f.svc.PeriodsFor(context.Background(), tenant, employee, category)
	require.NoError(t, err)
	assert.Empty(t, periods)

	_, err = f.svc.PeriodsFor(context.Background(), tenant, employee, "unknown")
	assert.True(t, generic.IsNotFound(err))
}

func TestBalanceAt(t *testing.T) {
	f := newFixture(t, clock(2016, time.June, 1))
	f.addPolicy(t, balancer("vacation-std", 1000))
	f.assign(t, "vacation-std", date(2015, time.January, 1))
	f.consume(t, date(2015, time.March, 1), 400)
	ctx := context.Background()

	tests := []struct {
		at   generic.TimePoint
		want int64
	}{
		{date(2014, time.December, 31), 0},
		{date(2015, time.January, 1).At(generic.AdditionOffset), 1000},
		{date(2015, time.June, 1), 600},
		{date(2016, time.April, 2), 1000},
		{date(2017, time.April, 2), 0},
	}
	for _, tt := range tests {
		got, err := f.svc.BalanceAt(ctx, tenant, employee, category, tt.at)
		require.NoError(t, err)
		assertMinutes(t, tt.want, got, "at %s", tt.at)
	}
}

func TestBalanceAt_ReadsTheSettledSnapshot(t *testing.T) {
	// GIVEN: a settled credit of 1000
	f := newFixture(t, clock(2016, time.June, 1))
	ctx := context.Background()
	_, err := f.svc.CreateEntry(ctx, tenant, employee, category,
		timeoff.AmountSpec{ManualAmount: ptr(generic.Minutes(1000))}, date(2016, time.January, 1), timeoff.EntryOptions{})
	require.NoError(t, err)
	f.settle(t)

	// AND: a consumption commits right after the ledger is seen settled
	late := &lateWriteStore{Memory: f.store}
	late.after = func() { f.consume(t, date(2016, time.March, 1), 100) }
	engine := timeoff.NewEngine(late, f.locker, nil, zap.NewNop(), timeoff.EngineConfig{SettlePoll: time.Millisecond})
	svc := timeoff.NewService(timeoff.Deps{
		Store:       late,
		Assignments: f.dir,
		Directory:   f.dir,
		Engine:      engine,
		Clock:       func() time.Time { return f.now },
	})

	// WHEN
	balance, err := svc.BalanceAt(ctx, tenant, employee, category, date(2016, time.June, 1))

	// THEN: the balance comes from the settled view, the late write is still pending
	require.NoError(t, err)
	assertMinutes(t, 1000, balance)
	assert.Equal(t, 1, pendingCount(t, f))
}
