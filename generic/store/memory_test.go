package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/generic/store"
)

var key = generic.LedgerKey{TenantID: "acme", EntityID: "emp-1", CategoryID: "vacation"}

func manual(at generic.TimePoint, minutes int64) generic.Entry {
	return generic.Entry{
		Key:            key,
		Kind:           generic.KindManual,
		EffectiveAt:    at,
		ResourceAmount: generic.Minutes(0),
		ManualAmount:   generic.Minutes(minutes),
		Amount:         generic.Minutes(minutes),
	}
}

func TestMemory_InsertOrdersLedger(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	late, err := m.Insert(ctx, manual(generic.NewTimePoint(2016, time.March, 1), 10))
	require.NoError(t, err)
	early, err := m.Insert(ctx, manual(generic.NewTimePoint(2016, time.January, 1), 20))
	require.NoError(t, err)
	tie, err := m.Insert(ctx, manual(generic.NewTimePoint(2016, time.January, 1), 30))
	require.NoError(t, err)

	assert.NotEmpty(t, late.ID)
	assert.Less(t, early.Seq, tie.Seq)

	snap, err := m.Ledger(ctx, key)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, []generic.EntryID{early.ID, tie.ID, late.ID},
		[]generic.EntryID{snap.Entries[0].ID, snap.Entries[1].ID, snap.Entries[2].ID})
	assert.Equal(t, int64(3), snap.Version)
}

func TestMemory_IdempotencyKeys(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	e := manual(generic.NewTimePoint(2016, time.January, 1), 10)
	e.IdempotencyKey = "accrual/emp-1/vacation/std/2016-01-01"
	stored, err := m.Insert(ctx, e)
	require.NoError(t, err)

	_, err = m.Insert(ctx, e)
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	// keys are scoped by tenant
	other := e
	other.Key.TenantID = "globex"
	_, err = m.Insert(ctx, other)
	assert.NoError(t, err)

	// deleting frees the key
	require.NoError(t, m.Delete(ctx, "acme", stored.ID))
	exists, err := m.ExistsIdempotencyKey(ctx, "acme", e.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemory_TenantIsolation(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	stored, err := m.Insert(ctx, manual(generic.NewTimePoint(2016, time.January, 1), 10))
	require.NoError(t, err)

	_, err = m.Get(ctx, "globex", stored.ID)
	assert.True(t, generic.IsNotFound(err))
	assert.True(t, generic.IsNotFound(m.Delete(ctx, "globex", stored.ID)))
	stored.Key.TenantID = "globex"
	assert.True(t, generic.IsNotFound(m.Update(ctx, stored)))
}

func TestMemory_RemovalLinks(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	removal, err := m.Insert(ctx, generic.Entry{Key: key, Kind: generic.KindRemoval, EffectiveAt: generic.NewTimePoint(2017, time.April, 1).At(generic.RemovalOffset)})
	require.NoError(t, err)
	got, err := m.Get(ctx, "acme", removal.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CreditAdditionIDs)
	assert.Empty(t, got.CreditAdditionIDs)

	second, err := m.Insert(ctx, generic.Entry{Key: key, Kind: generic.KindAddition, RemovalID: removal.ID, EffectiveAt: generic.NewTimePoint(2016, time.June, 1)})
	require.NoError(t, err)
	first, err := m.Insert(ctx, generic.Entry{Key: key, Kind: generic.KindAddition, RemovalID: removal.ID, EffectiveAt: generic.NewTimePoint(2016, time.January, 1)})
	require.NoError(t, err)

	got, err = m.Get(ctx, "acme", removal.ID)
	require.NoError(t, err)
	assert.Equal(t, []generic.EntryID{first.ID, second.ID}, got.CreditAdditionIDs)

	// deleting the removal unlinks its additions
	require.NoError(t, m.Delete(ctx, "acme", removal.ID))
	a, err := m.Get(ctx, "acme", first.ID)
	require.NoError(t, err)
	assert.Empty(t, a.RemovalID)
}

func TestMemory_PendingAndSaveComputed(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	a, err := m.Insert(ctx, manual(generic.NewTimePoint(2016, time.January, 1), 10))
	require.NoError(t, err)
	b, err := m.Insert(ctx, manual(generic.NewTimePoint(2016, time.February, 1), 20))
	require.NoError(t, err)

	n, err := m.MarkPendingFrom(ctx, key, b.EffectiveAt, b.Seq)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := m.PendingLedgers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []generic.LedgerKey{key}, pending)

	snap, err := m.Ledger(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.FirstPending())
	assert.Equal(t, a.ID, snap.Entries[0].ID)

	// a stale version is refused
	err = m.SaveComputed(ctx, key, snap.Version-1, generic.Computed{EntryID: b.ID, Amount: generic.Minutes(20), Balance: generic.Minutes(30)})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	// the current version clears the flag without bumping the version
	require.NoError(t, m.SaveComputed(ctx, key, snap.Version, generic.Computed{
		EntryID: b.ID, ResourceAmount: generic.Minutes(0), Amount: generic.Minutes(20), Balance: generic.Minutes(30),
	}))
	after, err := m.Ledger(ctx, key)
	require.NoError(t, err)
	assert.False(t, after.HasPending())
	assert.Equal(t, snap.Version, after.Version)
	assert.True(t, after.Entries[1].Balance.Equal(generic.Minutes(30)))
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	_, err := m.Insert(ctx, manual(generic.NewTimePoint(2016, time.January, 1), 10))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithTx(ctx, func(s generic.EntryStore) error {
		e := manual(generic.NewTimePoint(2016, time.February, 1), 20)
		e.IdempotencyKey = "request/r1/2016-02-01"
		if _, err := s.Insert(ctx, e); err != nil {
			return err
		}
		if _, err := s.MarkPendingFrom(ctx, key, generic.NewTimePoint(2016, time.January, 1), 0); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap, err := m.Ledger(ctx, key)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.False(t, snap.HasPending())
	assert.Equal(t, int64(1), snap.Version)
	exists, err := m.ExistsIdempotencyKey(ctx, "acme", "request/r1/2016-02-01")
	require.NoError(t, err)
	assert.False(t, exists)
}
