package funnel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightcore/internal/funnel"
	"insightcore/internal/query"
)

var base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// ev builds a matched event at base+offset satisfying the given steps.
func ev(offset time.Duration, steps ...int) query.MatchedEvent {
	return query.MatchedEvent{Timestamp: base.Add(offset), StepIndices: steps}
}

func exclEv(offset time.Duration, exclusions ...int) query.MatchedEvent {
	return query.MatchedEvent{Timestamp: base.Add(offset), ExclusionIndex: exclusions}
}

func orderedConfig(steps int) funnel.Config {
	return funnel.Config{Steps: steps, Window: 14 * 24 * time.Hour, Order: query.FunnelOrdered}
}

func TestClassifyOrderedSingleRun(t *testing.T) {
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour, 1),
		ev(2*time.Hour, 2),
	}
	runs := funnel.Classify(stream, orderedConfig(3))
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].MaxStep())
	assert.True(t, runs[0].Completed(3))
	assert.Equal(t, 2*time.Hour, runs[0].Duration())
}

func TestClassifyOrderedMultipleAnchors(t *testing.T) {
	// A second step-0 occurrence opens its own run; both advance
	// independently.
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour, 0),
		ev(2*time.Hour, 1),
	}
	runs := funnel.Classify(stream, orderedConfig(3))
	require.Len(t, runs, 2)

	best := funnel.Best(runs)
	require.NotNil(t, best)
	assert.Equal(t, 1, best.MaxStep())
	// The best run advanced with the first event that matched step 1; both
	// candidates reach step 1 off the same event, the earlier anchor has the
	// longer duration so the later anchor wins the duration tiebreak.
	assert.Equal(t, time.Hour, best.Duration())
}

func TestClassifyOrderedWindowFromOwnAnchor(t *testing.T) {
	// Window is measured from each run's own step-0, not from the latest
	// anchor. The first anchor expires; the second still converts.
	cfg := funnel.Config{Steps: 2, Window: time.Hour, Order: query.FunnelOrdered}
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(50*time.Minute, 0),
		ev(90*time.Minute, 1),
	}
	runs := funnel.Classify(stream, cfg)
	require.Len(t, runs, 2)

	best := funnel.Best(runs)
	assert.Equal(t, 1, best.MaxStep())
	assert.Equal(t, base.Add(50*time.Minute), best.Anchor())
}

func TestClassifyOrderedSkipsAheadStepsWithoutAdvancing(t *testing.T) {
	// Step 2 before step 1 does not advance an ordered run.
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour, 2),
		ev(2*time.Hour, 1),
	}
	runs := funnel.Classify(stream, orderedConfig(3))
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].MaxStep())
}

func TestClassifyOrderedSameEventMatchesMultipleSteps(t *testing.T) {
	// One event satisfying both of the next steps advances a run a single
	// step only.
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour, 1, 2),
	}
	runs := funnel.Classify(stream, orderedConfig(3))
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].MaxStep())
}

func TestClassifyStrictFreezesOnNoise(t *testing.T) {
	cfg := funnel.Config{Steps: 3, Window: 14 * 24 * time.Hour, Order: query.FunnelStrict}
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour), // noise between steps
		ev(2*time.Hour, 1),
	}
	runs := funnel.Classify(stream, cfg)
	require.Len(t, runs, 1)
	assert.Equal(t, 0, runs[0].MaxStep())
}

func TestClassifyStrictConsecutiveStepsConvert(t *testing.T) {
	cfg := funnel.Config{Steps: 3, Window: 14 * 24 * time.Hour, Order: query.FunnelStrict}
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour, 1),
		ev(2*time.Hour, 2),
	}
	runs := funnel.Classify(stream, cfg)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Completed(3))
}

func TestClassifyExclusionCancelsInterruptedRun(t *testing.T) {
	cfg := orderedConfig(3)
	cfg.Exclusions = []query.Exclusion{{FromStep: 0, ToStep: 1}}
	stream := []query.MatchedEvent{
		ev(0, 0),
		exclEv(30 * time.Minute, 0),
		ev(time.Hour, 1),
	}
	runs := funnel.Classify(stream, cfg)
	assert.Empty(t, runs)
}

func TestClassifyExclusionOutsideRangeIsIgnored(t *testing.T) {
	// The run already passed the exclusion's to_step, so the exclusion event
	// cannot cancel it.
	cfg := orderedConfig(3)
	cfg.Exclusions = []query.Exclusion{{FromStep: 0, ToStep: 1}}
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour, 1),
		exclEv(90 * time.Minute, 0),
		ev(2*time.Hour, 2),
	}
	runs := funnel.Classify(stream, cfg)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Completed(3))
}

func TestClassifyExclusionDoesNotTouchCompletedRuns(t *testing.T) {
	// A completed conversion stays valid even when a later exclusion cancels
	// a newer in-flight run.
	cfg := orderedConfig(2)
	cfg.Exclusions = []query.Exclusion{{FromStep: 0, ToStep: 1}}
	stream := []query.MatchedEvent{
		ev(0, 0),
		ev(time.Hour, 1), // first run completes here
		ev(2*time.Hour, 0),
		exclEv(150 * time.Minute, 0),
	}
	runs := funnel.Classify(stream, cfg)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Completed(2))
	assert.Equal(t, base, runs[0].Anchor())
}

func TestClassifyUnorderedAnyOrderConverts(t *testing.T) {
	cfg := funnel.Config{Steps: 3, Window: 14 * 24 * time.Hour, Order: query.FunnelUnordered}
	stream := []query.MatchedEvent{
		ev(0, 2),
		ev(time.Hour, 0),
		ev(2*time.Hour, 1),
	}
	runs := funnel.Classify(stream, cfg)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Completed(3))
}

func TestClassifyUnorderedPartialProgress(t *testing.T) {
	// Steps 3rd, 1st observed but never the 2nd: max step reached is 1
	// (two distinct steps satisfied).
	cfg := funnel.Config{Steps: 3, Window: 14 * 24 * time.Hour, Order: query.FunnelUnordered}
	stream := []query.MatchedEvent{
		ev(0, 2),
		ev(time.Hour, 0),
	}
	runs := funnel.Classify(stream, cfg)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].MaxStep())
}

func TestClassifyUnorderedWindowBoundsAnchor(t *testing.T) {
	cfg := funnel.Config{Steps: 2, Window: time.Hour, Order: query.FunnelUnordered}
	stream := []query.MatchedEvent{
		ev(0, 1),
		ev(2*time.Hour, 0), // outside the first anchor's window
		ev(150*time.Minute, 1),
	}
	runs := funnel.Classify(stream, cfg)
	require.Len(t, runs, 1)
	// Best attempt anchors at the second event and completes inside its own
	// window.
	assert.True(t, runs[0].Completed(2))
	assert.Equal(t, base.Add(2*time.Hour), runs[0].Anchor())
}

func TestBestTieBreaks(t *testing.T) {
	reach2Late := &funnel.Run{Times: []time.Time{base, base.Add(3 * time.Hour)}}
	reach2Early := &funnel.Run{Times: []time.Time{base.Add(time.Hour), base.Add(2 * time.Hour)}}
	reach1 := &funnel.Run{Times: []time.Time{base}}

	best := funnel.Best([]*funnel.Run{reach1, reach2Late, reach2Early})
	// Same max step: earliest completion wins.
	assert.Same(t, reach2Early, best)

	// Higher step beats earlier completion.
	best = funnel.Best([]*funnel.Run{reach1, reach2Late})
	assert.Same(t, reach2Late, best)
}

func TestBestShortestDurationOnEqualCompletion(t *testing.T) {
	slow := &funnel.Run{Times: []time.Time{base, base.Add(2 * time.Hour)}}
	fast := &funnel.Run{Times: []time.Time{base.Add(time.Hour), base.Add(2 * time.Hour)}}

	best := funnel.Best([]*funnel.Run{slow, fast})
	assert.Same(t, fast, best)
}
