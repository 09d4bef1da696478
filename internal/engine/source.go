// Package engine orchestrates query evaluation: it pulls per-actor event
// streams from the event source, fans classification across a worker pool
// and folds the results into funnel, trends and stickiness outputs.
package engine

import (
	"context"
	"time"

	"insightcore/internal/query"
)

// Scope identifies whose events a query runs over.
type Scope struct {
	TeamID uint
}

// ActorEvents is one actor's chronologically sorted raw events.
type ActorEvents struct {
	ActorID string
	Events  []query.Event
}

// ActorIterator streams actors from the event source. Events for one actor
// arrive grouped and sorted; cross-actor order is unspecified.
type ActorIterator interface {
	// Next returns the next actor, or (nil, nil) when exhausted.
	Next(ctx context.Context) (*ActorEvents, error)
	Close() error
}

// EventSource is the storage collaborator the engine reads from. It owns
// retrieval; the engine never touches storage directly.
type EventSource interface {
	QueryEvents(ctx context.Context, scope Scope, from, to time.Time) (ActorIterator, error)
	// EarliestTimestamp resolves "all time" ranges. Must return
	// query.ErrInsufficientData when the scope has no events.
	EarliestTimestamp(ctx context.Context, scope Scope) (time.Time, error)
}

// CohortSource resolves static/dynamic cohort membership, computed
// externally.
type CohortSource interface {
	Membership(ctx context.Context, scope Scope, cohortID int64) (map[string]struct{}, error)
}

// GroupSource resolves group property bags for group-scoped filters and
// breakdowns.
type GroupSource interface {
	Properties(ctx context.Context, scope Scope, typeIndex int, groupKey string) (map[string]any, error)
}
