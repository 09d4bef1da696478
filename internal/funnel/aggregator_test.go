package funnel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightcore/internal/funnel"
	"insightcore/internal/query"
	"insightcore/internal/timeframe"
)

func runAt(offsets ...time.Duration) *funnel.Run {
	r := &funnel.Run{}
	for _, off := range offsets {
		r.Times = append(r.Times, base.Add(off))
	}
	return r
}

func actor(id string, run *funnel.Run) funnel.ActorResult {
	return funnel.ActorResult{ActorID: id, Best: run, Buckets: []string{""}}
}

func TestAggregateStepCountsAndTimes(t *testing.T) {
	// Two actors complete all three steps, one stops after step 1.
	actors := []funnel.ActorResult{
		actor("a", runAt(0, 30*time.Minute, time.Hour)),
		actor("b", runAt(0, 90*time.Minute, 3*time.Hour)),
		actor("c", runAt(0, time.Hour)),
	}
	result := funnel.Aggregate(actors, funnel.Options{
		Steps: 3, FromStep: 0, ToStep: 2,
		Labels: []string{"signup", "activate", "purchase"},
	})

	require.Len(t, result.Buckets, 1)
	b := result.Buckets[0]

	assert.Equal(t, []float64{3, 3, 2}, b.StepCounts)
	assert.Equal(t, []string{"signup", "activate", "purchase"}, result.StepLabels)

	// Step 1 diffs: 1800, 5400, 3600 seconds.
	assert.InDelta(t, 3600, b.AvgTimes[1], 1e-9)
	assert.InDelta(t, 3600, b.MedianTimes[1], 1e-9)
	// Step 2 diffs: 1800 and 5400 seconds.
	assert.InDelta(t, 3600, b.AvgTimes[2], 1e-9)
	assert.Equal(t, float64(0), b.AvgTimes[0])

	assert.Equal(t, float64(100), b.ConversionRates[0])
	assert.InDelta(t, 100, b.ConversionRates[1], 1e-9)
	assert.InDelta(t, 100.0*2/3, b.ConversionRates[2], 1e-9)
	assert.InDelta(t, 100.0*2/3, b.Overall, 1e-9)
}

func TestAggregateExcludesActorsBelowFromStep(t *testing.T) {
	actors := []funnel.ActorResult{
		actor("a", runAt(0)),                             // stops at step 0
		actor("b", runAt(0, time.Hour, 2*time.Hour)),     // completes
		actor("c", nil),                                  // no run at all
		actor("d", runAt(0, time.Hour, 100*time.Minute)), // completes
	}
	result := funnel.Aggregate(actors, funnel.Options{Steps: 3, FromStep: 1, ToStep: 2})

	require.Len(t, result.Buckets, 1)
	assert.Equal(t, []float64{2, 2}, result.Buckets[0].StepCounts)
	assert.Equal(t, float64(100), result.Buckets[0].Overall)
}

func TestAggregateSamplingScalesCounts(t *testing.T) {
	actors := []funnel.ActorResult{
		actor("a", runAt(0, time.Hour)),
	}
	result := funnel.Aggregate(actors, funnel.Options{
		Steps: 2, FromStep: 0, ToStep: 1, Sampling: 10,
	})

	b := result.Buckets[0]
	assert.Equal(t, []float64{10, 10}, b.StepCounts)
	// Rates and times are scale invariant.
	assert.Equal(t, float64(100), b.Overall)
	assert.InDelta(t, 3600, b.AvgTimes[1], 1e-9)
}

func TestAggregatePerBucketSplit(t *testing.T) {
	actors := []funnel.ActorResult{
		{ActorID: "a", Best: runAt(0, time.Hour), Buckets: []string{"Chrome"}},
		{ActorID: "b", Best: runAt(0), Buckets: []string{"Chrome"}},
		{ActorID: "c", Best: runAt(0, time.Hour), Buckets: []string{"Firefox"}},
	}
	result := funnel.Aggregate(actors, funnel.Options{Steps: 2, FromStep: 0, ToStep: 1})

	require.Len(t, result.Buckets, 2)
	assert.Equal(t, "Chrome", result.Buckets[0].Breakdown)
	assert.Equal(t, []float64{2, 1}, result.Buckets[0].StepCounts)
	assert.Equal(t, "Firefox", result.Buckets[1].Breakdown)
	assert.Equal(t, []float64{1, 1}, result.Buckets[1].StepCounts)
}

func TestTimeToConvertHistogram(t *testing.T) {
	durations := []float64{30, 90, 3000, 7000}
	bins := funnel.TimeToConvertHistogram(durations, intPtr(2), 1)

	require.Len(t, bins, 2)
	// Width is ceil((7000-30)/2) = 3485 seconds.
	assert.Equal(t, float64(30), bins[0].From)
	assert.Equal(t, float64(30+3485), bins[0].To)
	assert.Equal(t, float64(3), bins[0].Count)
	assert.Equal(t, float64(1), bins[1].Count)
}

func TestTimeToConvertHistogramClampsAndZeroFills(t *testing.T) {
	// All durations equal: width clamps to the 60s minimum and later bins
	// stay zero-filled.
	durations := []float64{100, 100, 100}
	bins := funnel.TimeToConvertHistogram(durations, intPtr(200), 1)

	require.Len(t, bins, 90)
	assert.Equal(t, float64(3), bins[0].Count)
	assert.Equal(t, float64(60), bins[0].To-bins[0].From)
	assert.Equal(t, float64(0), bins[1].Count)
}

func TestTimeToConvertHistogramAutoBins(t *testing.T) {
	durations := make([]float64, 27)
	for i := range durations {
		durations[i] = float64(i * 100)
	}
	// cbrt(27) = 3 bins.
	bins := funnel.TimeToConvertHistogram(durations, nil, 1)
	assert.Len(t, bins, 3)
}

func TestTimeToConvertHistogramEmpty(t *testing.T) {
	assert.Nil(t, funnel.TimeToConvertHistogram(nil, nil, 1))
}

func TestConversionDurations(t *testing.T) {
	actors := []funnel.ActorResult{
		actor("a", runAt(0, time.Hour)),
		actor("b", runAt(0)), // never reached step 1
		actor("c", nil),
	}
	durations := funnel.ConversionDurations(actors, 0, 1)
	assert.Equal(t, []float64{3600}, durations)
}

func TestTrendsCountsEveryRunPerPeriod(t *testing.T) {
	loc := time.UTC
	periods := timeframe.Periods(
		time.Date(2024, 6, 1, 0, 0, 0, 0, loc),
		time.Date(2024, 6, 3, 0, 0, 0, 0, loc),
		query.IntervalDay, loc)

	day1 := time.Date(2024, 6, 1, 10, 0, 0, 0, loc)
	day2 := time.Date(2024, 6, 2, 10, 0, 0, 0, loc)

	// One actor converts twice across two days; another enters on day 1
	// without converting.
	actorRuns := [][]*funnel.Run{
		{
			{Times: []time.Time{day1, day1.Add(time.Hour)}},
			{Times: []time.Time{day2, day2.Add(time.Hour)}},
		},
		{
			{Times: []time.Time{day1}},
		},
	}

	points := funnel.Trends(actorRuns, periods, 0, 1, 1)
	require.Len(t, points, 3)

	assert.Equal(t, float64(2), points[0].ReachedFrom)
	assert.Equal(t, float64(1), points[0].ReachedTo)
	assert.InDelta(t, 50, points[0].ConversionRate, 1e-9)

	assert.Equal(t, float64(1), points[1].ReachedFrom)
	assert.Equal(t, float64(1), points[1].ReachedTo)
	assert.InDelta(t, 100, points[1].ConversionRate, 1e-9)

	assert.Equal(t, float64(0), points[2].ReachedFrom)
	assert.Equal(t, float64(0), points[2].ConversionRate)
}

func TestTrendsCollapsesOverlappingAnchors(t *testing.T) {
	loc := time.UTC
	periods := timeframe.Periods(
		time.Date(2024, 6, 1, 0, 0, 0, 0, loc),
		time.Date(2024, 6, 2, 0, 0, 0, 0, loc),
		query.IntervalDay, loc)

	// A repeated step-0 before the single completion opens two candidate
	// anchors that both advance on the same step-1 event. That is one
	// journey, not two.
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour, 0),
		ev(2*time.Hour, 1),
	}
	runs := funnel.Classify(stream, orderedConfig(2))
	require.Len(t, runs, 2)

	points := funnel.Trends([][]*funnel.Run{runs}, periods, 0, 1, 1)
	require.Len(t, points, 2)
	assert.Equal(t, float64(1), points[0].ReachedFrom)
	assert.Equal(t, float64(1), points[0].ReachedTo)
	assert.InDelta(t, 100, points[0].ConversionRate, 1e-9)
}

func intPtr(v int) *int { return &v }
