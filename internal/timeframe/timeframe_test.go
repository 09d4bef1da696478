package timeframe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightcore/internal/query"
	"insightcore/internal/timeframe"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestPeriodsDayBoundaries(t *testing.T) {
	loc := mustLocation(t, "America/New_York")
	from := time.Date(2024, 3, 1, 10, 30, 0, 0, loc)
	to := time.Date(2024, 3, 3, 2, 0, 0, 0, loc)

	periods := timeframe.Periods(from, to, query.IntervalDay, loc)
	require.Len(t, periods, 3)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, loc), periods[0].Start)
	assert.Equal(t, time.Date(2024, 3, 1, 23, 59, 59, 999999000, loc), periods[0].End)
	assert.Equal(t, "2024-03-01", periods[0].Label)
	assert.Equal(t, "2024-03-03", periods[2].Label)
}

func TestPeriodsWeekStartsSunday(t *testing.T) {
	loc := time.UTC
	// 2024-03-06 is a Wednesday; its week starts Sunday 2024-03-03.
	from := time.Date(2024, 3, 6, 12, 0, 0, 0, loc)
	to := time.Date(2024, 3, 20, 0, 0, 0, 0, loc)

	periods := timeframe.Periods(from, to, query.IntervalWeek, loc)
	require.Len(t, periods, 3)

	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, loc), periods[0].Start)
	assert.Equal(t, time.Weekday(0), periods[0].Start.Weekday())
	// A week covers exactly 7 days, ending the instant before the next one.
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc).Add(-time.Microsecond), periods[0].End)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc), periods[1].Start)
}

func TestPeriodsMonthCalendarBoundaries(t *testing.T) {
	loc := time.UTC
	from := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	to := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)

	periods := timeframe.Periods(from, to, query.IntervalMonth, loc)
	require.Len(t, periods, 3)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, loc), periods[0].Start)
	// February 2024 is a leap month and ends on the 29th.
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, 999999000, loc), periods[1].End)
	assert.Equal(t, "2024-02", periods[1].Label)
}

func TestPeriodsHour(t *testing.T) {
	loc := time.UTC
	from := time.Date(2024, 5, 1, 9, 45, 0, 0, loc)
	to := time.Date(2024, 5, 1, 11, 0, 0, 0, loc)

	periods := timeframe.Periods(from, to, query.IntervalHour, loc)
	require.Len(t, periods, 3)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, loc), periods[0].Start)
	assert.Equal(t, "2024-05-01 09:00", periods[0].Label)
	assert.Equal(t, time.Hour-time.Microsecond, periods[0].End.Sub(periods[0].Start))
}

func TestPeriodContains(t *testing.T) {
	loc := time.UTC
	p := timeframe.Periods(
		time.Date(2024, 3, 1, 0, 0, 0, 0, loc),
		time.Date(2024, 3, 1, 12, 0, 0, 0, loc),
		query.IntervalDay, loc)[0]

	assert.True(t, p.Contains(p.Start))
	assert.True(t, p.Contains(p.End))
	assert.False(t, p.Contains(p.End.Add(time.Microsecond)))
}

func testQuery(from, to time.Time) *query.Query {
	return &query.Query{
		DateFrom: &from,
		DateTo:   &to,
		Interval: query.IntervalDay,
		Entities: []query.Entity{{ID: "pageview", Kind: query.KindEvent}},
	}
}

func TestResolveAllTimeUsesEarliest(t *testing.T) {
	to := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	q := testQuery(time.Time{}, to)
	q.DateFrom = nil

	first := time.Date(2024, 6, 7, 15, 0, 0, 0, time.UTC)
	grid, err := timeframe.Resolve(context.Background(), q, func(context.Context) (time.Time, error) {
		return first, nil
	})
	require.NoError(t, err)
	require.Len(t, grid.Periods, 4)
	assert.Equal(t, "2024-06-07", grid.Periods[0].Label)
}

func TestResolveAllTimeWithoutEvents(t *testing.T) {
	to := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	q := testQuery(time.Time{}, to)
	q.DateFrom = nil

	_, err := timeframe.Resolve(context.Background(), q, func(context.Context) (time.Time, error) {
		return time.Time{}, query.ErrInsufficientData
	})
	assert.ErrorIs(t, err, query.ErrInsufficientData)
}

func TestResolveAggregateCollapsesToSinglePeriod(t *testing.T) {
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	q := testQuery(from, to)
	q.Display = query.DisplayAggregate

	grid, err := timeframe.Resolve(context.Background(), q, nil)
	require.NoError(t, err)
	require.Len(t, grid.Periods, 1)
	assert.Equal(t, from, grid.Periods[0].Start)
	assert.Equal(t, to, grid.Periods[0].End)
}

func TestActiveWindowStart(t *testing.T) {
	loc := time.UTC
	p := timeframe.Periods(
		time.Date(2024, 6, 10, 0, 0, 0, 0, loc),
		time.Date(2024, 6, 10, 12, 0, 0, 0, loc),
		query.IntervalDay, loc)[0]
	rangeTo := time.Date(2024, 6, 15, 0, 0, 0, 0, loc)

	tests := []struct {
		name    string
		math    query.MathType
		display query.DisplayMode
		want    time.Time
	}{
		{"weekly time series", query.MathWeeklyActive, query.DisplayLinear, time.Date(2024, 6, 4, 0, 0, 0, 0, loc)},
		{"monthly time series", query.MathMonthlyActive, query.DisplayLinear, time.Date(2024, 5, 12, 0, 0, 0, 0, loc)},
		{"weekly aggregate trails range end", query.MathWeeklyActive, query.DisplayAggregate, time.Date(2024, 6, 9, 0, 0, 0, 0, loc)},
		{"monthly aggregate trails range end", query.MathMonthlyActive, query.DisplayAggregate, time.Date(2024, 5, 17, 0, 0, 0, 0, loc)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := timeframe.ActiveWindowStart(p, tc.math, tc.display, rangeTo)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIntervalNoun(t *testing.T) {
	assert.Equal(t, "day", timeframe.IntervalNoun(query.IntervalDay))
	assert.Equal(t, "week", timeframe.IntervalNoun(query.IntervalWeek))
	assert.Equal(t, "hour", timeframe.IntervalNoun(query.IntervalHour))
	assert.Equal(t, "month", timeframe.IntervalNoun(query.IntervalMonth))
}
