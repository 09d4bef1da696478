package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"insightcore/internal/experiments"
	"insightcore/internal/pkg/async"
	"insightcore/internal/query"
	"insightcore/internal/timeframe"
)

const (
	// DefaultPageSize bounds actor drill-down pages.
	DefaultPageSize = 100
	// actorBatchSize is how many actors one pool task classifies.
	actorBatchSize = 256
)

// Engine evaluates analytics queries against an event source. It is
// stateless across requests; every evaluation is pure given identical inputs,
// so callers may layer caching outside keyed on the normalized query.
type Engine struct {
	source   EventSource
	cohorts  CohortSource
	groups   GroupSource
	stats    *experiments.Calculator
	logger   *slog.Logger
	pool     *async.Pool
	pageSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCohorts attaches the cohort membership collaborator.
func WithCohorts(c CohortSource) Option { return func(e *Engine) { e.cohorts = c } }

// WithGroups attaches the group properties collaborator.
func WithGroups(g GroupSource) Option { return func(e *Engine) { e.groups = g } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithWorkers bounds the classification worker pool.
func WithWorkers(n int) Option { return func(e *Engine) { e.pool = async.NewPool(n) } }

// WithPageSize sets the actor drill-down page size.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithStatistics overrides the experiment statistics calculator, mostly to
// pin the Monte Carlo seed in tests.
func WithStatistics(c *experiments.Calculator) Option { return func(e *Engine) { e.stats = c } }

// New creates an engine over the given event source.
func New(source EventSource, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		stats:    experiments.NewCalculator(),
		logger:   slog.Default(),
		pool:     async.NewPool(runtime.GOMAXPROCS(0)),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolveGrid validates the query and materializes its period grid.
func (e *Engine) resolveGrid(ctx context.Context, scope Scope, q *query.Query) (*timeframe.Grid, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return timeframe.Resolve(ctx, q, func(ctx context.Context) (time.Time, error) {
		return e.source.EarliestTimestamp(ctx, scope)
	})
}

// collectActors drains the source iterator into memory. Classification is
// embarrassingly parallel afterwards; materializing first keeps the pool
// busy without blocking workers on storage pulls.
func (e *Engine) collectActors(ctx context.Context, scope Scope, from, to time.Time) ([]ActorEvents, error) {
	iter, err := e.source.QueryEvents(ctx, scope, from, to)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer iter.Close()

	var actors []ActorEvents
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		actor, err := iter.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("iterate actors: %w", err)
		}
		if actor == nil {
			return actors, nil
		}
		actors = append(actors, *actor)
	}
}

// groupResolver caches group property lookups for one evaluation.
type groupResolver struct {
	ctx    context.Context
	scope  Scope
	source GroupSource
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]map[string]any
}

func (e *Engine) newGroupResolver(ctx context.Context, scope Scope) *groupResolver {
	return &groupResolver{
		ctx:    ctx,
		scope:  scope,
		source: e.groups,
		logger: e.logger,
		cache:  make(map[string]map[string]any),
	}
}

// forEvent returns the filter-context group lookup bound to one event's
// group keys. A failed lookup resolves to an empty bag; the filter then
// fails closed for that event only.
func (r *groupResolver) forEvent(ev *query.Event) func(int) map[string]any {
	if r.source == nil || len(ev.GroupKeys) == 0 {
		return nil
	}
	return func(typeIndex int) map[string]any {
		key, ok := ev.GroupKeys[typeIndex]
		if !ok {
			return nil
		}
		cacheKey := fmt.Sprintf("%d:%s", typeIndex, key)
		r.mu.Lock()
		defer r.mu.Unlock()
		if bag, hit := r.cache[cacheKey]; hit {
			return bag
		}
		bag, err := r.source.Properties(r.ctx, r.scope, typeIndex, key)
		if err != nil {
			r.logger.Warn("group property lookup failed",
				slog.Int("group_type_index", typeIndex),
				slog.String("group_key", key),
				slog.Any("error", err))
			bag = nil
		}
		r.cache[cacheKey] = bag
		return bag
	}
}

// cohortMembership prefetches membership sets for a cohort breakdown.
func (e *Engine) cohortMembership(ctx context.Context, scope Scope, b *query.Breakdown) (func(int64, string) bool, error) {
	if b == nil || b.Type != query.BreakdownCohort {
		return nil, nil
	}
	if e.cohorts == nil {
		return nil, &query.ValidationError{Field: "breakdown", Reason: "cohort breakdown requested without a cohort source"}
	}
	members := make(map[int64]map[string]struct{}, len(b.CohortIDs))
	for _, id := range b.CohortIDs {
		if id == query.CohortAll {
			continue
		}
		set, err := e.cohorts.Membership(ctx, scope, id)
		if err != nil {
			return nil, fmt.Errorf("cohort %d membership: %w", id, err)
		}
		members[id] = set
	}
	return func(cohortID int64, actorID string) bool {
		set := members[cohortID]
		_, ok := set[actorID]
		return ok
	}, nil
}

// batches splits actors into pool-task sized chunks.
func batches(actors []ActorEvents) [][]ActorEvents {
	var out [][]ActorEvents
	for start := 0; start < len(actors); start += actorBatchSize {
		end := start + actorBatchSize
		if end > len(actors) {
			end = len(actors)
		}
		out = append(out, actors[start:end])
	}
	return out
}

// EvaluateExperiment computes Bayesian significance statistics for the given
// variants; the first variant is the control.
func (e *Engine) EvaluateExperiment(variants []experiments.Variant) (*experiments.Result, error) {
	return e.stats.Evaluate(variants)
}
