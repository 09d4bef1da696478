package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"insightcore/internal/breakdown"
	"insightcore/internal/pkg/async"
	"insightcore/internal/query"
	"insightcore/internal/timeframe"
	"insightcore/internal/trends"
)

// entitySeries is one entity's per-bucket metric events, pre-aggregation.
type entitySeries struct {
	entity  *query.Entity
	buckets map[string][]trends.MetricEvent
}

// EvaluateTrends computes one time series per entity and breakdown bucket,
// or the formula combination of the entity series when q.Formula is set.
func (e *Engine) EvaluateTrends(ctx context.Context, scope Scope, q *query.Query) ([]trends.Series, error) {
	grid, err := e.resolveGrid(ctx, scope, q)
	if err != nil {
		return nil, err
	}

	// Active-user math reads a trailing window that starts before the first
	// period, so the fetch range widens accordingly.
	fetchFrom := grid.From
	for i := range q.Entities {
		switch q.Entities[i].Math {
		case query.MathWeeklyActive:
			if f := grid.From.AddDate(0, 0, -6); f.Before(fetchFrom) {
				fetchFrom = f
			}
		case query.MathMonthlyActive:
			if f := grid.From.AddDate(0, 0, -29); f.Before(fetchFrom) {
				fetchFrom = f
			}
		}
	}

	actors, err := e.collectActors(ctx, scope, fetchFrom, grid.To)
	if err != nil {
		return nil, err
	}
	annotated, err := e.annotateActors(ctx, scope, q, actors)
	if err != nil {
		return nil, err
	}
	isMember, err := e.cohortMembership(ctx, scope, q.Breakdown)
	if err != nil {
		return nil, err
	}

	perEntity, err := e.bucketMetricEvents(ctx, q, annotated, isMember)
	if err != nil {
		return nil, err
	}
	e.limitTrendBuckets(q, perEntity)

	if q.Formula != "" {
		return e.formulaSeries(q, grid, perEntity)
	}
	return e.entitySeriesOutput(q, grid, perEntity), nil
}

// bucketMetricEvents splits each entity's matching events into breakdown
// buckets, one pool task per entity.
func (e *Engine) bucketMetricEvents(ctx context.Context, q *query.Query, annotated []annotatedActor, isMember func(int64, string) bool) ([]entitySeries, error) {
	perEntity := make([]entitySeries, len(q.Entities))
	tasks := make([]async.Task, len(q.Entities))
	for s := range q.Entities {
		s := s
		tasks[s] = async.Task{
			Name: fmt.Sprintf("trend-entity-%d", s),
			Execute: func(ctx context.Context) (any, error) {
				buckets := make(map[string][]trends.MetricEvent)
				for i := range annotated {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					actor := &annotated[i]
					actorBuckets := e.trendActorBuckets(actor.ActorID, q, isMember)
					for j := range actor.Stream {
						ev := &actor.Stream[j]
						if !ev.MatchesStep(s) {
							continue
						}
						me := trends.MetricEvent{
							ActorID:   actor.ActorID,
							SessionID: ev.SessionID,
							Timestamp: ev.Timestamp,
						}
						me.Value, me.HasValue = ev.StepValue(s)
						for _, bucket := range eventBuckets(ev, q.Breakdown, actorBuckets) {
							buckets[bucket] = append(buckets[bucket], me)
						}
					}
				}
				perEntity[s] = entitySeries{entity: &q.Entities[s], buckets: buckets}
				return nil, nil
			},
		}
	}
	results, err := e.pool.Execute(ctx, tasks)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
	}
	return perEntity, nil
}

// trendActorBuckets resolves the actor-level buckets for a cohort breakdown;
// nil means the breakdown, if any, is event-level.
func (e *Engine) trendActorBuckets(actorID string, q *query.Query, isMember func(int64, string) bool) []string {
	if q.Breakdown == nil || q.Breakdown.Type != query.BreakdownCohort {
		return nil
	}
	return breakdown.CohortBuckets(actorID, q.Breakdown, isMember)
}

// eventBuckets returns the buckets one event contributes to. Trends attribute
// per event: each event lands in its own value's series.
func eventBuckets(ev *query.MatchedEvent, b *query.Breakdown, actorBuckets []string) []string {
	if b == nil {
		return []string{""}
	}
	if b.Type == query.BreakdownCohort {
		return actorBuckets
	}
	return []string{breakdown.Join(ev.BreakdownValues)}
}

// limitTrendBuckets folds low-weight buckets into Other per the explicit
// limit. Weights are event counts summed across entities so the same bucket
// set survives on every series.
func (e *Engine) limitTrendBuckets(q *query.Query, perEntity []entitySeries) {
	if q.Breakdown == nil || q.Breakdown.Limit <= 0 {
		return
	}
	weights := make(map[string]float64)
	for _, es := range perEntity {
		for bucket, evs := range es.buckets {
			weights[bucket] += float64(len(evs))
		}
	}
	remap := breakdown.LimitBuckets(weights, q.Breakdown.Limit)
	for i := range perEntity {
		folded := make(map[string][]trends.MetricEvent, len(remap)+1)
		for bucket, evs := range perEntity[i].buckets {
			target, ok := remap[bucket]
			if !ok {
				target = breakdown.OtherBucket
			}
			folded[target] = append(folded[target], evs...)
		}
		perEntity[i].buckets = folded
	}
}

func trendOptions(ent *query.Entity, q *query.Query, rangeTo time.Time) trends.Options {
	return trends.Options{
		Math:     ent.Math,
		Func:     ent.MathFunc,
		Display:  q.Display,
		Sampling: q.SamplingCorrection(),
		RangeTo:  rangeTo,
	}
}

func periodLabels(grid *timeframe.Grid) []string {
	labels := make([]string, len(grid.Periods))
	for i, p := range grid.Periods {
		labels[i] = p.Label
	}
	return labels
}

// entitySeriesOutput aggregates every entity/bucket pair into output series,
// ordered by entity then bucket.
func (e *Engine) entitySeriesOutput(q *query.Query, grid *timeframe.Grid, perEntity []entitySeries) []trends.Series {
	labels := periodLabels(grid)
	var out []trends.Series
	for _, es := range perEntity {
		opts := trendOptions(es.entity, q, grid.To)
		for _, bucket := range sortedBuckets(es.buckets) {
			values := trends.Aggregate(es.buckets[bucket], grid.Periods, opts)
			out = append(out, trends.Series{
				Label:     es.entity.DisplayLabel(),
				Breakdown: bucket,
				Periods:   labels,
				Values:    values,
				Total:     trends.Total(values),
			})
		}
		// An entity whose events all filtered out still yields a zero line
		// when there is no breakdown to split it by.
		if len(es.buckets) == 0 && q.Breakdown == nil {
			values := trends.Aggregate(nil, grid.Periods, opts)
			out = append(out, trends.Series{
				Label:   es.entity.DisplayLabel(),
				Periods: labels,
				Values:  values,
				Total:   trends.Total(values),
			})
		}
	}
	return out
}

// formulaSeries evaluates the formula once per breakdown bucket after outer
// joining the per-entity bucket sets.
func (e *Engine) formulaSeries(q *query.Query, grid *timeframe.Grid, perEntity []entitySeries) ([]trends.Series, error) {
	formula, err := trends.ParseFormula(q.Formula)
	if err != nil {
		return nil, &query.ValidationError{Field: "formula", Reason: err.Error()}
	}
	for _, v := range formula.Variables() {
		if int(v-'A') >= len(q.Entities) {
			return nil, &query.ValidationError{Field: "formula", Reason: fmt.Sprintf("variable %c has no matching series", v)}
		}
	}

	labels := periodLabels(grid)
	aggregated := make([]map[string][]float64, len(perEntity))
	for i, es := range perEntity {
		opts := trendOptions(es.entity, q, grid.To)
		aggregated[i] = make(map[string][]float64, len(es.buckets))
		for bucket, evs := range es.buckets {
			aggregated[i][bucket] = trends.Aggregate(evs, grid.Periods, opts)
		}
	}

	joined := trends.AlignByBreakdown(aggregated, len(grid.Periods))
	buckets := make([]string, 0, len(joined))
	for bucket := range joined {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)

	var out []trends.Series
	for _, bucket := range buckets {
		env := make(map[byte][]float64, len(joined[bucket]))
		for i, vals := range joined[bucket] {
			env['A'+byte(i)] = vals
		}
		values := formula.Eval(env, len(grid.Periods))
		out = append(out, trends.Series{
			Label:     q.Formula,
			Breakdown: bucket,
			Periods:   labels,
			Values:    values,
			Total:     trends.Total(values),
		})
	}
	if len(out) == 0 {
		env := map[byte][]float64{}
		values := formula.Eval(env, len(grid.Periods))
		out = append(out, trends.Series{
			Label:   q.Formula,
			Periods: labels,
			Values:  values,
			Total:   trends.Total(values),
		})
	}
	return out, nil
}

func sortedBuckets(m map[string][]trends.MetricEvent) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
