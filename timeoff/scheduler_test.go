package timeoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

func TestScheduler_GeneratesDueAdditionsOnce(t *testing.T) {
	// GIVEN: an assignment made in 2016
	f := newFixture(t, clock(2016, time.June, 1))
	f.addPolicy(t, balancer("vacation-std", 1000))
	f.assign(t, "vacation-std", date(2016, time.January, 1))
	ctx := context.Background()

	// WHEN: the scheduler runs in the same year
	n, err := f.svc.RunScheduler(ctx, tenant, employee, category)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// WHEN: two anniversaries pass
	f.now = clock(2018, time.February, 1)
	n, err = f.svc.RunScheduler(ctx, tenant, employee, category)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// THEN: re-running adds nothing
	n, err = f.svc.RunScheduler(ctx, tenant, employee, category)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	snap := f.settle(t)
	assert.Len(t, ofKind(snap, generic.KindAddition), 3)
	assert.Len(t, ofKind(snap, generic.KindRemoval), 3)
}

func TestScheduler_DoesNotRecreateDeletedPolicyAdditionsTwice(t *testing.T) {
	f := newFixture(t, clock(2017, time.June, 1))
	f.addPolicy(t, balancer("vacation-std", 1000))
	f.assign(t, "vacation-std", date(2016, time.January, 1))
	ctx := context.Background()

	snap := f.settle(t)
	first := ofKind(snap, generic.KindAddition)[0]
	removal := ofKind(snap, generic.KindRemoval)[0]
	require.NoError(t, f.svc.DestroyEntries(ctx, tenant, []generic.EntryID{first.ID, removal.ID}, true))

	// WHEN: the scheduler runs after an addition was destroyed by hand
	n, err := f.svc.RunScheduler(ctx, tenant, employee, category)
	require.NoError(t, err)

	// THEN: the missing addition is restored exactly once, with its removal
	assert.Equal(t, 1, n)
	snap = f.settle(t)
	assert.Len(t, ofKind(snap, generic.KindAddition), 2)
	assert.Len(t, ofKind(snap, generic.KindRemoval), 2)

	n, err = f.svc.RunScheduler(ctx, tenant, employee, category)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScheduler_ReplansWhenUnassignedMidRun(t *testing.T) {
	// GIVEN: an assignment from 2016 stored without its additions
	f := newFixture(t, clock(2018, time.February, 1))
	f.addPolicy(t, balancer("vacation-std", 1000))
	ctx := context.Background()
	require.NoError(t, f.dir.SaveAssignment(ctx, timeoff.PolicyAssignment{
		ID:          "a-1",
		TenantID:    tenant,
		EntityID:    employee,
		Scope:       string(category),
		EffectiveAt: date(2016, time.January, 1),
		Resource:    "vacation-std",
	}))

	// WHEN: the assignment is removed while the scheduler is planning
	dir := &hookedDirectory{MemoryDirectory: f.dir, nth: 1, hook: func() {
		require.NoError(t, f.svc.UnassignPolicy(ctx, tenant, "a-1"))
	}}
	n, err := f.withDirectory(dir).RunScheduler(ctx, tenant, employee, category)

	// THEN: the stale plan is discarded
	require.NoError(t, err)
	assert.Zero(t, n)
	assignments, err := f.svc.Assignments(ctx, tenant, employee, category)
	require.NoError(t, err)
	assert.Empty(t, assignments)

	snap := f.settle(t)
	assert.Empty(t, ofKind(snap, generic.KindAddition))
	assert.Empty(t, ofKind(snap, generic.KindRemoval))
}

func TestScheduler_RunAll(t *testing.T) {
	f := newFixture(t, clock(2016, time.June, 1))
	f.dir.AddEmployee(tenant, "emp-2")
	f.addPolicy(t, balancer("vacation-std", 1000))
	f.assign(t, "vacation-std", date(2016, time.January, 1))
	ctx := context.Background()
	_, err := f.svc.AssignPolicy(ctx, tenant, "emp-2", category, "vacation-std", date(2016, time.January, 1))
	require.NoError(t, err)

	f.now = clock(2017, time.January, 2)
	n, err := f.svc.RunSchedulerAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.RunSchedulerAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScheduler_UnknownLedger(t *testing.T) {
	f := newFixture(t, clock(2016, time.June, 1))
	_, err := f.svc.RunScheduler(context.Background(), tenant, "ghost", category)
	assert.True(t, generic.IsNotFound(err))
}
