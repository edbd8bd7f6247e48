package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-ledger/generic"
)

func settled(id generic.EntryID, seq int64, at generic.TimePoint, amount, balance int64) generic.Entry {
	return generic.Entry{
		ID:             id,
		Kind:           generic.KindManual,
		EffectiveAt:    at,
		ResourceAmount: generic.Minutes(0),
		ManualAmount:   generic.Minutes(amount),
		Amount:         generic.Minutes(amount),
		Balance:        generic.Minutes(balance),
		Seq:            seq,
	}
}

func TestSortEntries_EffectiveAtThenSeq(t *testing.T) {
	entries := []generic.Entry{
		settled("c", 1, day(2016, time.March, 1), 0, 0),
		settled("b", 3, day(2016, time.January, 1), 0, 0),
		settled("a", 2, day(2016, time.January, 1), 0, 0),
	}
	generic.SortEntries(entries)
	assert.Equal(t, generic.EntryID("a"), entries[0].ID)
	assert.Equal(t, generic.EntryID("b"), entries[1].ID)
	assert.Equal(t, generic.EntryID("c"), entries[2].ID)
}

func TestLedgerSnapshot_Helpers(t *testing.T) {
	snap := generic.LedgerSnapshot{Entries: []generic.Entry{
		settled("a", 1, day(2016, time.January, 1), 100, 100),
		settled("b", 2, day(2016, time.February, 1), -30, 70),
		settled("c", 3, day(2016, time.March, 1), 10, 80),
	}}

	assert.Equal(t, 1, snap.IndexOf("b"))
	assert.Equal(t, -1, snap.IndexOf("z"))
	assert.True(t, snap.BalanceBefore(0).IsZero())
	assert.True(t, snap.BalanceBefore(2).Equal(generic.Minutes(70)))
	assert.False(t, snap.HasPending())
	assert.Len(t, snap.Between(day(2016, time.February, 1), day(2016, time.March, 1)), 1)
	assert.Len(t, snap.Between(day(2016, time.February, 1), generic.TimePoint{}), 2)
	require.NoError(t, snap.VerifyRunningBalance())

	snap.Entries[2].Pending = true
	assert.Equal(t, 2, snap.FirstPending())
	assert.Error(t, snap.VerifyRunningBalance())
}

func TestLedgerSnapshot_VerifyRunningBalanceDetectsDrift(t *testing.T) {
	snap := generic.LedgerSnapshot{Entries: []generic.Entry{
		settled("a", 1, day(2016, time.January, 1), 100, 100),
		settled("b", 2, day(2016, time.February, 1), -30, 60),
	}}
	assert.Error(t, snap.VerifyRunningBalance())
}

func TestLedgerSnapshot_RemovalLinks(t *testing.T) {
	expiry := day(2017, time.April, 1).At(generic.RemovalOffset)
	snap := generic.LedgerSnapshot{Entries: []generic.Entry{
		{ID: "a1", Kind: generic.KindAddition, RemovalID: "r"},
		{ID: "a2", Kind: generic.KindAddition, RemovalID: "r"},
		{ID: "a3", Kind: generic.KindAddition},
		{ID: "r", Kind: generic.KindRemoval, EffectiveAt: expiry},
	}}

	removal, ok := snap.RemovalAt(expiry)
	require.True(t, ok)
	assert.Equal(t, generic.EntryID("r"), removal.ID)
	_, ok = snap.RemovalAt(day(2017, time.April, 1))
	assert.False(t, ok)

	credits := snap.CreditsOf("r")
	require.Len(t, credits, 2)
	assert.True(t, credits[0].IsCredit())
	assert.False(t, snap.Entries[2].IsCredit())
}

func TestEntry_IsDebit(t *testing.T) {
	assert.True(t, generic.Entry{Kind: generic.KindConsumption, Amount: generic.Minutes(-1)}.IsDebit())
	assert.True(t, generic.Entry{Kind: generic.KindManual, Amount: generic.Minutes(-1)}.IsDebit())
	assert.False(t, generic.Entry{Kind: generic.KindManual, Amount: generic.Minutes(1)}.IsDebit())
	assert.False(t, generic.Entry{Kind: generic.KindManual, Reset: true, Amount: generic.Minutes(-1)}.IsDebit())
	assert.False(t, generic.Entry{Kind: generic.KindRemoval, Amount: generic.Minutes(-1)}.IsDebit())
}
