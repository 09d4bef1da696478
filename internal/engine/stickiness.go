package engine

import (
	"context"

	"insightcore/internal/query"
	"insightcore/internal/stickiness"
)

// EvaluateStickiness computes the repeat-activity histogram for the query's
// first entity: Values[k] is the count of actors active in exactly k+1
// distinct periods of the range.
func (e *Engine) EvaluateStickiness(ctx context.Context, scope Scope, q *query.Query) (*stickiness.Result, error) {
	grid, err := e.resolveGrid(ctx, scope, q)
	if err != nil {
		return nil, err
	}
	actors, err := e.collectActors(ctx, scope, grid.From, grid.To)
	if err != nil {
		return nil, err
	}
	annotated, err := e.annotateActors(ctx, scope, q, actors)
	if err != nil {
		return nil, err
	}

	activity := make([]stickiness.ActorActivity, 0, len(annotated))
	for i := range annotated {
		a := &annotated[i]
		act := stickiness.ActorActivity{ActorID: a.ActorID}
		for j := range a.Stream {
			if a.Stream[j].MatchesStep(0) {
				act.Timestamps = append(act.Timestamps, a.Stream[j].Timestamp)
			}
		}
		if len(act.Timestamps) > 0 {
			activity = append(activity, act)
		}
	}
	return stickiness.Aggregate(activity, grid.Periods, grid.Interval, q.SamplingCorrection()), nil
}
