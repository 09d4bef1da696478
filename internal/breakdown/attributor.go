// Package breakdown resolves which breakdown bucket(s) an actor's events put
// them into, under the query's attribution policy.
package breakdown

import (
	"sort"
	"strconv"
	"strings"

	"insightcore/internal/query"
)

// TupleSeparator joins multi-property breakdown values positionally into one
// stable bucket identity.
const TupleSeparator = "::"

// OtherBucket is the synthetic bucket the low-cardinality remainder folds
// into when a caller-supplied limit is exceeded.
const OtherBucket = "Other"

// AllUsersBucket is the implicit extra bucket for the "all" cohort sentinel.
const AllUsersBucket = "all"

// StepEvents exposes the minimum a funnel run needs to share for
// attribution: the stream indexes of the events that satisfied each step.
type StepEvents interface {
	// MaxStep is the highest step index reached, -1 for none.
	MaxStep() int
	// EventIndex returns the stream index of the event satisfying step i.
	EventIndex(i int) int
}

// Join serializes a value tuple into its bucket key.
func Join(values []string) string {
	return strings.Join(values, TupleSeparator)
}

// Attribute returns the bucket keys the actor contributes to. The boolean is
// false when the actor is excluded from every bucket, which only happens
// under step attribution when the actor never reached the attribution step.
func Attribute(stream []query.MatchedEvent, b *query.Breakdown, run StepEvents) ([]string, bool) {
	if b == nil {
		return []string{""}, true
	}
	switch b.Attribution {
	case query.AttributionLastTouch:
		return []string{lastTouch(stream, run)}, true
	case query.AttributionStep:
		step := 0
		if b.AttributionStep != nil {
			step = *b.AttributionStep
		}
		if run == nil || run.MaxStep() < step {
			return nil, false
		}
		idx := run.EventIndex(step)
		if idx < 0 || idx >= len(stream) {
			return nil, false
		}
		return []string{Join(stream[idx].BreakdownValues)}, true
	case query.AttributionAllEvents:
		return allValues(stream), true
	default: // first_touch
		return []string{firstTouch(stream)}, true
	}
}

// firstTouch uses the value tuple of the first matched event; an actor with
// no value set still lands in the empty-string bucket.
func firstTouch(stream []query.MatchedEvent) string {
	for i := range stream {
		if len(stream[i].StepIndices) > 0 {
			return Join(stream[i].BreakdownValues)
		}
	}
	return ""
}

// lastTouch uses the last matched event, bounded by the furthest step the run
// reached when attached to a funnel evaluation.
func lastTouch(stream []query.MatchedEvent, run StepEvents) string {
	limit := len(stream) - 1
	if run != nil && run.MaxStep() >= 0 {
		if idx := run.EventIndex(run.MaxStep()); idx >= 0 {
			limit = idx
		}
	}
	for i := limit; i >= 0; i-- {
		if len(stream[i].StepIndices) > 0 {
			return Join(stream[i].BreakdownValues)
		}
	}
	return ""
}

// allValues attributes the actor to every distinct value seen across their
// matched events; one actor may land in several buckets at once.
func allValues(stream []query.MatchedEvent) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range stream {
		if len(stream[i].StepIndices) == 0 {
			continue
		}
		key := Join(stream[i].BreakdownValues)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	if len(out) == 0 {
		out = append(out, "")
	}
	return out
}

// CohortBuckets resolves cohort-type breakdown, which derives from externally
// computed membership rather than event properties. The "all" sentinel always
// contributes an implicit extra bucket.
func CohortBuckets(actorID string, b *query.Breakdown, isMember func(cohortID int64, actorID string) bool) []string {
	var out []string
	for _, id := range b.CohortIDs {
		if id == query.CohortAll {
			out = append(out, AllUsersBucket)
			continue
		}
		if isMember != nil && isMember(id, actorID) {
			out = append(out, strconv.FormatInt(id, 10))
		}
	}
	return out
}

// LimitBuckets keeps the top-limit buckets by weight and remaps the rest to
// the Other bucket. A zero limit means unlimited; the fold only applies when
// the caller set a limit explicitly.
func LimitBuckets(weights map[string]float64, limit int) map[string]string {
	remap := make(map[string]string, len(weights))
	if limit <= 0 || len(weights) <= limit {
		for k := range weights {
			remap[k] = k
		}
		return remap
	}
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if weights[keys[i]] != weights[keys[j]] {
			return weights[keys[i]] > weights[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for i, k := range keys {
		if i < limit {
			remap[k] = k
		} else {
			remap[k] = OtherBucket
		}
	}
	return remap
}
