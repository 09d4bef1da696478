package query

import "time"

// Event is one raw event as delivered by the event source. Events for one
// actor arrive grouped and chronologically sorted; cross-actor order is
// unspecified.
type Event struct {
	ActorID          string
	Name             string
	Timestamp        time.Time
	SessionID        string
	Properties       map[string]any
	PersonProperties map[string]any
	GroupKeys        map[int]string // group type index -> group key
}

// MatchedEvent is an event annotated against one query: which funnel steps it
// satisfies, which exclusion definitions it triggers, and its breakdown
// values. A per-actor slice of these, in chronological order, is the input to
// classification and aggregation.
type MatchedEvent struct {
	Timestamp       time.Time
	SessionID       string
	StepIndices     []int // funnel step indexes matched, empty for noise
	ExclusionIndex  []int // indexes into Query.Exclusions
	BreakdownValues []string
	PropertyValues  map[int]float64 // step index -> resolved math_property value
}

// StepValue returns the math_property value resolved for the given step, if
// that step's entity declared one and the event carried a numeric value.
func (m *MatchedEvent) StepValue(step int) (float64, bool) {
	v, ok := m.PropertyValues[step]
	return v, ok
}

// MatchesStep reports whether the event satisfies the given funnel step.
func (m *MatchedEvent) MatchesStep(step int) bool {
	for _, s := range m.StepIndices {
		if s == step {
			return true
		}
	}
	return false
}

// IsNoise reports whether the event matched no step and no exclusion.
func (m *MatchedEvent) IsNoise() bool {
	return len(m.StepIndices) == 0 && len(m.ExclusionIndex) == 0
}
