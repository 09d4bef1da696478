// Package funnel classifies per-actor event streams into step runs and folds
// them into per-step conversion statistics.
package funnel

import (
	"time"

	"insightcore/internal/query"
)

// Run is one maximal-step-reached attempt for an actor anchored at a single
// step-0 occurrence. Times is strictly non-decreasing; its length is the
// number of steps reached.
type Run struct {
	EventIdx []int       // stream indexes of the events that satisfied each step
	Times    []time.Time // timestamps at which each step was reached
	dead     bool        // strict mode: can no longer advance
}

// MaxStep is the highest step index reached, -1 when empty.
func (r *Run) MaxStep() int { return len(r.Times) - 1 }

// EventIndex returns the stream index of the event satisfying step i, -1 if
// the run never reached it.
func (r *Run) EventIndex(i int) int {
	if i < 0 || i >= len(r.EventIdx) {
		return -1
	}
	return r.EventIdx[i]
}

// Anchor is the step-0 timestamp the conversion window is measured from.
func (r *Run) Anchor() time.Time { return r.Times[0] }

// Reached reports whether the run reached step i.
func (r *Run) Reached(i int) bool { return r.MaxStep() >= i }

// Completed reports whether the run reached the last of n steps.
func (r *Run) Completed(n int) bool { return r.MaxStep() == n-1 }

// Duration is the time from anchor to the furthest step reached.
func (r *Run) Duration() time.Duration {
	return r.Times[len(r.Times)-1].Sub(r.Times[0])
}

// Config drives one classification pass.
type Config struct {
	Steps      int
	Window     time.Duration
	Order      query.FunnelOrderType
	Exclusions []query.Exclusion
}

// Classify consumes one actor's chronologically ordered matched events and
// returns every surviving run. Ordered and strict modes track all candidate
// step-0 anchors concurrently; unordered mode reduces to a single best run.
// Runs cancelled by an exclusion are discarded entirely, but only the run the
// exclusion interrupted: earlier independently completed runs stay valid.
func Classify(stream []query.MatchedEvent, cfg Config) []*Run {
	if cfg.Steps == 0 {
		return nil
	}
	if cfg.Order == query.FunnelUnordered {
		if run := classifyUnordered(stream, cfg); run != nil {
			return []*Run{run}
		}
		return nil
	}
	return classifyOrdered(stream, cfg)
}

func classifyOrdered(stream []query.MatchedEvent, cfg Config) []*Run {
	strict := cfg.Order == query.FunnelStrict

	var live []*Run
	var done []*Run // completed runs, no longer advancing

	for i := range stream {
		ev := &stream[i]

		// Exclusions cancel any live run whose progress sits inside the
		// exclusion's step range: past from_step, not yet at to_step.
		if len(ev.ExclusionIndex) > 0 {
			live = filterExcluded(live, ev, cfg.Exclusions)
		}

		// Advance live runs. Each run advances at most one step per event and
		// every step must land within the window of the run's own anchor.
		for _, r := range live {
			if r.dead {
				continue
			}
			next := r.MaxStep() + 1
			if next < cfg.Steps && ev.MatchesStep(next) && ev.Timestamp.Sub(r.Anchor()) <= cfg.Window {
				r.EventIdx = append(r.EventIdx, i)
				r.Times = append(r.Times, ev.Timestamp)
				continue
			}
			if strict && !isExclusionOnly(ev) {
				// Any event that is not the next expected step freezes the
				// run at the step already reached.
				r.dead = true
			}
		}

		// Retire completed runs so they cannot be touched by later
		// exclusions; a finished conversion stays valid.
		live, done = retireCompleted(live, done, cfg.Steps)

		// A fresh step-0 occurrence always opens a new candidate anchor.
		if ev.MatchesStep(0) {
			live = append(live, &Run{EventIdx: []int{i}, Times: []time.Time{ev.Timestamp}})
		}
	}
	return append(done, live...)
}

func filterExcluded(live []*Run, ev *query.MatchedEvent, exclusions []query.Exclusion) []*Run {
	kept := live[:0]
	for _, r := range live {
		cancelled := false
		for _, x := range ev.ExclusionIndex {
			excl := exclusions[x]
			if r.MaxStep() >= excl.FromStep && r.MaxStep() < excl.ToStep {
				cancelled = true
				break
			}
		}
		if !cancelled {
			kept = append(kept, r)
		}
	}
	return kept
}

func retireCompleted(live, done []*Run, steps int) ([]*Run, []*Run) {
	kept := live[:0]
	for _, r := range live {
		if r.Completed(steps) {
			done = append(done, r)
		} else {
			kept = append(kept, r)
		}
	}
	return kept, done
}

func isExclusionOnly(ev *query.MatchedEvent) bool {
	return len(ev.StepIndices) == 0 && len(ev.ExclusionIndex) > 0
}

// classifyUnordered evaluates every possible anchor and keeps the best run.
// All steps must occur, in any order, within the window of the anchor; the
// i-th recorded time is the actor's i-th distinct step satisfied
// chronologically, not the step's declared index.
func classifyUnordered(stream []query.MatchedEvent, cfg Config) *Run {
	var best *Run
	for i := range stream {
		if len(stream[i].StepIndices) == 0 {
			continue
		}
		run := unorderedFrom(stream, i, cfg)
		if run == nil {
			continue
		}
		if best == nil || betterRun(run, best) {
			best = run
		}
	}
	return best
}

func unorderedFrom(stream []query.MatchedEvent, anchor int, cfg Config) *Run {
	seen := make(map[int]bool, cfg.Steps)
	run := &Run{}
	anchorTS := stream[anchor].Timestamp

	for i := anchor; i < len(stream); i++ {
		ev := &stream[i]
		if ev.Timestamp.Sub(anchorTS) > cfg.Window {
			break
		}
		if len(ev.ExclusionIndex) > 0 && len(run.Times) > 0 && len(run.Times) < cfg.Steps {
			// An exclusion inside the window discards the whole attempt.
			for _, x := range ev.ExclusionIndex {
				excl := cfg.Exclusions[x]
				if len(run.Times)-1 >= excl.FromStep && len(run.Times)-1 < excl.ToStep {
					return nil
				}
			}
		}
		for _, s := range ev.StepIndices {
			if !seen[s] {
				seen[s] = true
				run.EventIdx = append(run.EventIdx, i)
				run.Times = append(run.Times, ev.Timestamp)
				break
			}
		}
		if len(seen) == cfg.Steps {
			break
		}
	}
	if len(run.Times) == 0 {
		return nil
	}
	return run
}

// Best selects the run reported for single-aggregate funnel mode: highest
// step reached, ties broken by earliest completion, then shortest total time.
func Best(runs []*Run) *Run {
	var best *Run
	for _, r := range runs {
		if best == nil || betterRun(r, best) {
			best = r
		}
	}
	return best
}

func betterRun(a, b *Run) bool {
	if a.MaxStep() != b.MaxStep() {
		return a.MaxStep() > b.MaxStep()
	}
	aEnd := a.Times[len(a.Times)-1]
	bEnd := b.Times[len(b.Times)-1]
	if !aEnd.Equal(bEnd) {
		return aEnd.Before(bEnd)
	}
	return a.Duration() < b.Duration()
}
