package timeoff_test

import (
	"testing"

	"github.com/warp/balance-ledger/generic"
	"github.com/warp/balance-ledger/timeoff"
)

func credit(id, removal generic.EntryID, minutes int64) generic.Entry {
	return generic.Entry{ID: id, Kind: generic.KindAddition, RemovalID: removal, Amount: generic.Minutes(minutes)}
}

func taken(minutes int64) generic.Entry {
	return generic.Entry{Kind: generic.KindConsumption, Amount: generic.Minutes(-minutes)}
}

func removal(id generic.EntryID) generic.Entry {
	return generic.Entry{ID: id, Kind: generic.KindRemoval, ResourceAmount: generic.Minutes(0)}
}

func TestRemovalAmount(t *testing.T) {
	tests := []struct {
		name    string
		entries []generic.Entry
		want    int64
	}{
		{
			name:    "unused credit expires",
			entries: []generic.Entry{credit("a", "r", 1000), removal("r")},
			want:    -1000,
		},
		{
			name:    "partial consumption 600",
			entries: []generic.Entry{credit("a", "r", 1000), taken(600), removal("r")},
			want:    -400,
		},
		{
			name:    "partial consumption 700",
			entries: []generic.Entry{credit("a", "r", 1000), taken(700), removal("r")},
			want:    -300,
		},
		{
			name:    "overdraft 1100 carries the deficit",
			entries: []generic.Entry{credit("a", "r", 1000), taken(1100), removal("r")},
			want:    100,
		},
		{
			name:    "overdraft 1200 carries the deficit",
			entries: []generic.Entry{credit("a", "r", 1000), taken(1200), removal("r")},
			want:    200,
		},
		{
			name: "oldest credit is drawn first",
			entries: []generic.Entry{
				credit("a13", "r14", 1000), credit("a14", "r15", 1000), taken(1500),
				removal("r14"), removal("r15"),
			},
			want: -500,
		},
		{
			name: "consumption attributed to an earlier removal is not counted again",
			entries: []generic.Entry{
				credit("a13", "r14", 1000), taken(400), removal("r14"),
				credit("a14", "r15", 1000), taken(100), removal("r15"),
			},
			want: -900,
		},
		{
			name: "shared removal sums its credits",
			entries: []generic.Entry{
				credit("a1", "r", 600), credit("a2", "r", 400), taken(300), removal("r"),
			},
			want: -700,
		},
		{
			name: "consumption after a reset is not drawn from earlier credits",
			entries: []generic.Entry{
				credit("a", "r", 1000),
				{Kind: generic.KindManual, Reset: true, Amount: generic.Minutes(-1000)},
				taken(200), removal("r"),
			},
			want: 0,
		},
		{
			name: "positive manual entries are not debits",
			entries: []generic.Entry{
				credit("a", "r", 1000),
				{Kind: generic.KindManual, Amount: generic.Minutes(50)},
				removal("r"),
			},
			want: -1000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := timeoff.RemovalAmount(tt.entries, len(tt.entries)-1)
			assertMinutes(t, tt.want, got)
		})
	}
}
