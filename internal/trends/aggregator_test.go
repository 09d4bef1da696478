package trends_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightcore/internal/query"
	"insightcore/internal/timeframe"
	"insightcore/internal/trends"
)

var trendsBase = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func dayPeriods(days int) []timeframe.Period {
	return timeframe.Periods(trendsBase, trendsBase.AddDate(0, 0, days-1), query.IntervalDay, time.UTC)
}

func me(actorID string, day int, hour int) trends.MetricEvent {
	return trends.MetricEvent{
		ActorID:   actorID,
		SessionID: fmt.Sprintf("%s-s%d", actorID, day),
		Timestamp: trendsBase.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour),
	}
}

func valued(actorID string, day int, v float64) trends.MetricEvent {
	ev := me(actorID, day, 12)
	ev.Value = v
	ev.HasValue = true
	return ev
}

func TestAggregateTotal(t *testing.T) {
	periods := dayPeriods(3)
	events := []trends.MetricEvent{
		me("a", 0, 9), me("a", 0, 10), me("b", 0, 11),
		me("a", 2, 9),
	}

	values := trends.Aggregate(events, periods, trends.Options{Math: query.MathTotal})
	assert.Equal(t, []float64{3, 0, 1}, values)
}

func TestAggregateTotalSamplingScales(t *testing.T) {
	periods := dayPeriods(2)
	events := []trends.MetricEvent{me("a", 0, 9), me("b", 0, 10)}

	values := trends.Aggregate(events, periods, trends.Options{Math: query.MathTotal, Sampling: 10})
	assert.Equal(t, []float64{20, 0}, values)
}

func TestAggregateUniqueActors(t *testing.T) {
	periods := dayPeriods(2)
	events := []trends.MetricEvent{
		me("a", 0, 9), me("a", 0, 10), me("b", 0, 11),
		me("a", 1, 9),
	}

	values := trends.Aggregate(events, periods, trends.Options{Math: query.MathUniqueActors})
	assert.Equal(t, []float64{2, 1}, values)
}

func TestAggregateUniqueSessions(t *testing.T) {
	periods := dayPeriods(1)
	events := []trends.MetricEvent{
		{ActorID: "a", SessionID: "s1", Timestamp: trendsBase.Add(9 * time.Hour)},
		{ActorID: "a", SessionID: "s1", Timestamp: trendsBase.Add(10 * time.Hour)},
		{ActorID: "a", SessionID: "s2", Timestamp: trendsBase.Add(11 * time.Hour)},
		{ActorID: "b", SessionID: "", Timestamp: trendsBase.Add(12 * time.Hour)}, // no session, not counted
	}

	values := trends.Aggregate(events, periods, trends.Options{Math: query.MathUniqueSession})
	assert.Equal(t, []float64{2}, values)
}

func TestAggregateWeeklyActiveTrailingWindow(t *testing.T) {
	// Ten daily periods; one actor active only on day 0. The trailing 7 day
	// window keeps them "active" through day 6 and drops them from day 7 on.
	periods := dayPeriods(10)
	events := []trends.MetricEvent{me("a", 0, 9)}

	values := trends.Aggregate(events, periods, trends.Options{
		Math:    query.MathWeeklyActive,
		Display: query.DisplayLinear,
		RangeTo: trendsBase.AddDate(0, 0, 10),
	})
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1, 1, 0, 0, 0}, values)
}

func TestAggregatePropertySum(t *testing.T) {
	periods := dayPeriods(2)
	events := []trends.MetricEvent{
		valued("a", 0, 10),
		valued("b", 0, 5.5),
		me("c", 0, 9), // HasValue false, ignored
		valued("a", 1, 2),
	}

	values := trends.Aggregate(events, periods, trends.Options{Math: query.MathProperty, Func: query.FuncSum})
	assert.Equal(t, []float64{15.5, 2}, values)
}

func TestAggregatePropertyAvgIgnoresSampling(t *testing.T) {
	periods := dayPeriods(1)
	events := []trends.MetricEvent{valued("a", 0, 10), valued("b", 0, 20)}

	values := trends.Aggregate(events, periods, trends.Options{
		Math: query.MathProperty, Func: query.FuncAvg, Sampling: 10,
	})
	assert.Equal(t, []float64{15}, values)
}

func TestAggregatePropertyPercentiles(t *testing.T) {
	periods := dayPeriods(1)
	events := []trends.MetricEvent{
		valued("a", 0, 10), valued("b", 0, 20), valued("c", 0, 30), valued("d", 0, 40),
	}

	cases := []struct {
		fn   query.MathFunc
		want float64
	}{
		{query.FuncMin, 10},
		{query.FuncMax, 40},
		{query.FuncMedian, 25},
		{query.FuncP75, 32.5},
	}
	for _, tc := range cases {
		t.Run(string(tc.fn), func(t *testing.T) {
			values := trends.Aggregate(events, periods, trends.Options{Math: query.MathProperty, Func: tc.fn})
			assert.InDelta(t, tc.want, values[0], 1e-9)
		})
	}
}

func TestAggregateCountPerActor(t *testing.T) {
	periods := dayPeriods(1)
	events := []trends.MetricEvent{
		me("a", 0, 9), me("a", 0, 10), me("a", 0, 11),
		me("b", 0, 12),
	}

	avg := trends.Aggregate(events, periods, trends.Options{Math: query.MathCountPerActor, Func: query.FuncAvg})
	assert.Equal(t, []float64{2}, avg)

	max := trends.Aggregate(events, periods, trends.Options{Math: query.MathCountPerActor, Func: query.FuncMax})
	assert.Equal(t, []float64{3}, max)
}

func TestAggregateCumulativeDisplay(t *testing.T) {
	periods := dayPeriods(3)
	events := []trends.MetricEvent{me("a", 0, 9), me("b", 1, 9), me("c", 2, 9)}

	values := trends.Aggregate(events, periods, trends.Options{
		Math:    query.MathTotal,
		Display: query.DisplayCumulative,
	})
	assert.Equal(t, []float64{1, 2, 3}, values)
}

func TestAggregateEventsOutsideGridIgnored(t *testing.T) {
	periods := dayPeriods(1)
	events := []trends.MetricEvent{me("a", -1, 9), me("a", 0, 9), me("a", 5, 9)}

	values := trends.Aggregate(events, periods, trends.Options{Math: query.MathTotal})
	assert.Equal(t, []float64{1}, values)
}

func TestTotalCoercesNonFinite(t *testing.T) {
	require.Equal(t, 3.0, trends.Total([]float64{1, 2}))
	assert.Equal(t, 1.0, trends.Total([]float64{1, nan()}))
}

func nan() float64 {
	var zero float64
	return zero / zero
}
