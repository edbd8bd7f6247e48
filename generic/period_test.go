package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-ledger/generic"
)

func day(y int, m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(y, m, d) }

func TestAnniversarySchedule_PeriodStart(t *testing.T) {
	s := generic.AnniversarySchedule{StartDay: 1, StartMonth: time.October}

	assert.True(t, s.PeriodStart(day(2016, time.October, 1)).Equal(day(2016, time.October, 1)))
	assert.True(t, s.PeriodStart(day(2016, time.September, 30)).Equal(day(2015, time.October, 1)))
	assert.True(t, s.NextStart(day(2016, time.October, 1)).Equal(day(2017, time.October, 1)))
	assert.True(t, s.IsAnniversary(day(2016, time.October, 1).At(generic.AdditionOffset)))
	assert.False(t, s.IsAnniversary(day(2016, time.October, 2)))
}

func TestAnniversarySchedule_Starts(t *testing.T) {
	s := generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January}

	tests := []struct {
		name     string
		from, to generic.TimePoint
		want     []generic.TimePoint
	}{
		{
			name: "from an anniversary",
			from: day(2013, time.January, 1), to: day(2015, time.June, 1),
			want: []generic.TimePoint{day(2013, time.January, 1), day(2014, time.January, 1), day(2015, time.January, 1)},
		},
		{
			name: "mid-cycle start skips to the next anniversary",
			from: day(2013, time.March, 1), to: day(2015, time.January, 1),
			want: []generic.TimePoint{day(2014, time.January, 1), day(2015, time.January, 1)},
		},
		{
			name: "empty range",
			from: day(2013, time.March, 1), to: day(2013, time.December, 31),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Starts(tt.from, tt.to)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.True(t, got[i].Equal(tt.want[i]), got[i].String())
			}
		})
	}
}

func TestAnniversarySchedule_ValidityFor(t *testing.T) {
	s := generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January, EndDay: 1, EndMonth: time.April, YearsToEffect: 2}

	full := s.ValidityFor(day(2016, time.January, 1), 0)
	require.NotNil(t, full)
	assert.True(t, full.Equal(day(2018, time.April, 1)))

	shortened := s.ValidityFor(day(2016, time.January, 1), 1)
	assert.True(t, shortened.Equal(day(2017, time.April, 1)))

	// never below the same-cycle end
	floor := s.ValidityFor(day(2016, time.January, 1), 5)
	assert.True(t, floor.Equal(day(2016, time.April, 1)))

	counter := generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January}
	assert.Nil(t, counter.ValidityFor(day(2016, time.January, 1), 0))
}

func TestAnniversarySchedule_Validate(t *testing.T) {
	tests := []struct {
		name     string
		schedule generic.AnniversarySchedule
		valid    bool
	}{
		{"counter", generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January}, true},
		{"balancer", generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January, EndDay: 1, EndMonth: time.April, YearsToEffect: 1}, true},
		{"end before start rolls over", generic.AnniversarySchedule{StartDay: 1, StartMonth: time.October, EndDay: 1, EndMonth: time.March}, true},
		{"no start month", generic.AnniversarySchedule{StartDay: 1}, false},
		{"start day out of range", generic.AnniversarySchedule{StartDay: 32, StartMonth: time.January}, false},
		{"end day out of range", generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January, EndDay: 0, EndMonth: time.April}, false},
		{"negative years", generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January, YearsToEffect: -1}, false},
		{"expires on its own start", generic.AnniversarySchedule{StartDay: 1, StartMonth: time.January, EndDay: 1, EndMonth: time.January}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, generic.ErrInvalidEntry)
		})
	}
}

func TestAnniversaryIn_ClampsLeapDay(t *testing.T) {
	assert.True(t, generic.AnniversaryIn(2015, time.February, 29).Equal(day(2015, time.February, 28)))
	assert.True(t, generic.AnniversaryIn(2016, time.February, 29).Equal(day(2016, time.February, 29)))
}

func TestProrate(t *testing.T) {
	period := generic.Period{Start: day(2013, time.January, 1), End: day(2014, time.January, 1)}

	assert.True(t, generic.Prorate(generic.Minutes(365), period, day(2013, time.July, 2)).Equal(generic.Minutes(183)))
	assert.True(t, generic.Prorate(generic.Minutes(365), period, day(2012, time.June, 1)).Equal(generic.Minutes(365)))
	assert.True(t, generic.Prorate(generic.Minutes(365), period, day(2014, time.February, 1)).IsZero())
}

func TestTimePoint_Ordering(t *testing.T) {
	d := day(2016, time.April, 1)
	removal := d.At(generic.RemovalOffset)
	addition := d.At(generic.AdditionOffset)

	assert.True(t, d.Before(removal))
	assert.True(t, removal.Before(addition))
	assert.True(t, addition.Date().Equal(d))
	assert.Equal(t, 1, generic.DaysBetween(d, day(2016, time.April, 2)))
}
