package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"insightcore/internal/breakdown"
	"insightcore/internal/filters"
	"insightcore/internal/funnel"
	"insightcore/internal/pkg/async"
	"insightcore/internal/query"
)

// FunnelResult is the full output of a single-aggregate funnel evaluation.
type FunnelResult struct {
	*funnel.Result
	TimeToConvert []funnel.HistogramBin `json:"time_to_convert,omitempty"`
}

// classifiedActor is one actor after annotation and classification.
type classifiedActor struct {
	ActorID string
	Stream  []query.MatchedEvent
	Runs    []*funnel.Run
	Best    *funnel.Run
}

// EvaluateFunnel runs the funnel state machine over every actor in scope and
// aggregates per-step conversion statistics, optionally split by breakdown
// buckets and extended with the time-to-convert histogram.
func (e *Engine) EvaluateFunnel(ctx context.Context, scope Scope, q *query.Query) (*FunnelResult, error) {
	grid, err := e.resolveGrid(ctx, scope, q)
	if err != nil {
		return nil, err
	}
	actors, err := e.collectActors(ctx, scope, grid.From, grid.To)
	if err != nil {
		return nil, err
	}
	classified, err := e.classifyActors(ctx, scope, q, actors)
	if err != nil {
		return nil, err
	}
	results, err := e.attributeActors(ctx, scope, q, classified)
	if err != nil {
		return nil, err
	}

	from, to := q.StepRange()
	e.applyBucketLimit(q, results, from)

	labels := make([]string, 0, to-from+1)
	for s := from; s <= to; s++ {
		labels = append(labels, q.Entities[s].DisplayLabel())
	}

	agg := funnel.Aggregate(results, funnel.Options{
		Steps:    q.Steps(),
		FromStep: from,
		ToStep:   to,
		Sampling: q.SamplingCorrection(),
		Labels:   labels,
	})
	out := &FunnelResult{Result: agg}

	if q.BinCount != nil {
		durations := funnel.ConversionDurations(results, from, to)
		out.TimeToConvert = funnel.TimeToConvertHistogram(durations, q.BinCount, q.SamplingCorrection())
	}
	return out, nil
}

// EvaluateFunnelTrends computes the conversion-over-time view: per period,
// how many runs entered at from_step and how many of those reached to_step.
func (e *Engine) EvaluateFunnelTrends(ctx context.Context, scope Scope, q *query.Query) ([]funnel.TrendPoint, error) {
	grid, err := e.resolveGrid(ctx, scope, q)
	if err != nil {
		return nil, err
	}
	actors, err := e.collectActors(ctx, scope, grid.From, grid.To)
	if err != nil {
		return nil, err
	}
	classified, err := e.classifyActors(ctx, scope, q, actors)
	if err != nil {
		return nil, err
	}

	runs := make([][]*funnel.Run, len(classified))
	for i, c := range classified {
		runs[i] = c.Runs
	}
	from, to := q.StepRange()
	return funnel.Trends(runs, grid.Periods, from, to, q.SamplingCorrection()), nil
}

// ActorPage is one page of the step drill-down, ordered by actor id.
type ActorPage struct {
	ActorIDs []string `json:"actor_ids"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	HasMore  bool     `json:"has_more"`
}

// ListActorsAtStep returns the actors whose best run reached the given step,
// optionally restricted to one breakdown bucket. Ordering is stable by actor
// id so pagination never skips or repeats across pages.
func (e *Engine) ListActorsAtStep(ctx context.Context, scope Scope, q *query.Query, step int, breakdownValue string, page int) (*ActorPage, error) {
	if step < 0 || step >= q.Steps() {
		return nil, &query.ValidationError{Field: "step", Reason: "step out of range"}
	}
	grid, err := e.resolveGrid(ctx, scope, q)
	if err != nil {
		return nil, err
	}
	actors, err := e.collectActors(ctx, scope, grid.From, grid.To)
	if err != nil {
		return nil, err
	}
	classified, err := e.classifyActors(ctx, scope, q, actors)
	if err != nil {
		return nil, err
	}
	results, err := e.attributeActors(ctx, scope, q, classified)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, r := range results {
		if r.Best == nil || !r.Best.Reached(step) {
			continue
		}
		if q.Breakdown != nil && breakdownValue != "" && !containsString(r.Buckets, breakdownValue) {
			continue
		}
		ids = append(ids, r.ActorID)
	}
	sort.Strings(ids)

	if page < 0 {
		page = 0
	}
	start := page * e.pageSize
	if start > len(ids) {
		start = len(ids)
	}
	end := start + e.pageSize
	if end > len(ids) {
		end = len(ids)
	}
	return &ActorPage{
		ActorIDs: ids[start:end],
		Total:    len(ids),
		Page:     page,
		PageSize: e.pageSize,
		HasMore:  end < len(ids),
	}, nil
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

// annotatedActor is one actor's matched event stream, pre-classification.
type annotatedActor struct {
	ActorID string
	Stream  []query.MatchedEvent
}

// annotateActors runs filter matching for every actor across the worker
// pool. Malformed filters abort the whole query; any other per-actor failure
// is logged and skips that actor only.
func (e *Engine) annotateActors(ctx context.Context, scope Scope, q *query.Query, actors []ActorEvents) ([]annotatedActor, error) {
	resolver := e.newGroupResolver(ctx, scope)

	chunks := batches(actors)
	results := make([][]annotatedActor, len(chunks))
	tasks := make([]async.Task, len(chunks))
	for i := range chunks {
		i, chunk := i, chunks[i]
		tasks[i] = async.Task{
			Name: fmt.Sprintf("annotate-%d", i),
			Execute: func(ctx context.Context) (any, error) {
				out := make([]annotatedActor, 0, len(chunk))
				for _, actor := range chunk {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					stream, err := filters.Annotate(actor.Events, q, resolver.forEvent)
					if err != nil {
						if query.IsUserError(err) {
							return nil, err
						}
						e.logger.Warn("skipping actor with unprocessable events",
							slog.String("actor_id", actor.ActorID),
							slog.Any("error", err))
						continue
					}
					out = append(out, annotatedActor{ActorID: actor.ActorID, Stream: stream})
				}
				results[i] = out
				return nil, nil
			},
		}
	}
	poolResults, err := e.pool.Execute(ctx, tasks)
	if err != nil {
		return nil, err
	}
	for _, r := range poolResults {
		if r.Err != nil {
			return nil, r.Err
		}
	}

	var merged []annotatedActor
	for _, part := range results {
		merged = append(merged, part...)
	}
	return merged, nil
}

// classifyActors annotates actors and runs the funnel state machine over each
// stream.
func (e *Engine) classifyActors(ctx context.Context, scope Scope, q *query.Query, actors []ActorEvents) ([]classifiedActor, error) {
	annotated, err := e.annotateActors(ctx, scope, q, actors)
	if err != nil {
		return nil, err
	}
	cfg := funnel.Config{
		Steps:      q.Steps(),
		Window:     q.Window(),
		Order:      q.OrderType,
		Exclusions: q.Exclusions,
	}
	out := make([]classifiedActor, len(annotated))
	for i, a := range annotated {
		runs := funnel.Classify(a.Stream, cfg)
		out[i] = classifiedActor{
			ActorID: a.ActorID,
			Stream:  a.Stream,
			Runs:    runs,
			Best:    funnel.Best(runs),
		}
	}
	return out, nil
}

// attributeActors resolves each classified actor's breakdown buckets.
func (e *Engine) attributeActors(ctx context.Context, scope Scope, q *query.Query, classified []classifiedActor) ([]funnel.ActorResult, error) {
	isMember, err := e.cohortMembership(ctx, scope, q.Breakdown)
	if err != nil {
		return nil, err
	}

	results := make([]funnel.ActorResult, 0, len(classified))
	for _, c := range classified {
		var buckets []string
		if q.Breakdown != nil && q.Breakdown.Type == query.BreakdownCohort {
			buckets = breakdown.CohortBuckets(c.ActorID, q.Breakdown, isMember)
			if len(buckets) == 0 {
				continue
			}
		} else {
			var run breakdown.StepEvents
			if c.Best != nil {
				run = c.Best
			}
			var ok bool
			buckets, ok = breakdown.Attribute(c.Stream, q.Breakdown, run)
			if !ok {
				continue
			}
		}
		results = append(results, funnel.ActorResult{
			ActorID: c.ActorID,
			Best:    c.Best,
			Buckets: buckets,
		})
	}
	return results, nil
}

// applyBucketLimit folds low-cardinality buckets into Other when the caller
// set an explicit limit; weights are actor counts at the entry step.
func (e *Engine) applyBucketLimit(q *query.Query, results []funnel.ActorResult, fromStep int) {
	if q.Breakdown == nil || q.Breakdown.Limit <= 0 {
		return
	}
	weights := make(map[string]float64)
	for _, r := range results {
		if r.Best == nil || !r.Best.Reached(fromStep) {
			continue
		}
		for _, b := range r.Buckets {
			weights[b]++
		}
	}
	remap := breakdown.LimitBuckets(weights, q.Breakdown.Limit)
	for i := range results {
		seen := make(map[string]struct{}, len(results[i].Buckets))
		mapped := results[i].Buckets[:0]
		for _, b := range results[i].Buckets {
			target, ok := remap[b]
			if !ok {
				target = breakdown.OtherBucket
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			mapped = append(mapped, target)
		}
		results[i].Buckets = mapped
	}
}
