// Package trends computes per-period time series for trend queries: counts,
// unique actors, active-user windows, property math and formula combinations.
package trends

import (
	"math"
	"sort"
	"time"

	"insightcore/internal/query"
	"insightcore/internal/timeframe"
)

// MetricEvent is one matched event contributing to a trend series.
type MetricEvent struct {
	ActorID   string
	SessionID string
	Timestamp time.Time
	Value     float64
	HasValue  bool
}

// Options configures one entity's series computation.
type Options struct {
	Math     query.MathType
	Func     query.MathFunc
	Display  query.DisplayMode
	Sampling float64
	RangeTo  time.Time
}

// Series is one output line of a trends evaluation.
type Series struct {
	Label     string    `json:"label"`
	Breakdown string    `json:"breakdown,omitempty"`
	Periods   []string  `json:"periods"`
	Values    []float64 `json:"values"`
	Total     float64   `json:"total"`
}

// Aggregate computes the per-period values for one entity. Sampling
// correction scales count-style results; averages and percentiles are scale
// invariant and stay untouched.
func Aggregate(events []MetricEvent, periods []timeframe.Period, opts Options) []float64 {
	if opts.Sampling <= 0 {
		opts.Sampling = 1
	}
	values := make([]float64, len(periods))

	switch opts.Math {
	case query.MathUniqueActors:
		distinctPerPeriod(events, periods, values, func(e *MetricEvent) string { return e.ActorID })
		scale(values, opts.Sampling)
	case query.MathUniqueSession:
		distinctPerPeriod(events, periods, values, func(e *MetricEvent) string { return e.SessionID })
		scale(values, opts.Sampling)
	case query.MathWeeklyActive, query.MathMonthlyActive:
		activePerPeriod(events, periods, values, opts)
		scale(values, opts.Sampling)
	case query.MathProperty:
		propertyPerPeriod(events, periods, values, opts)
	case query.MathCountPerActor:
		countPerActorPerPeriod(events, periods, values, opts)
	default: // total
		for i := range events {
			if idx := indexFor(periods, events[i].Timestamp); idx >= 0 {
				values[idx]++
			}
		}
		scale(values, opts.Sampling)
	}

	if opts.Display == query.DisplayCumulative {
		Cumulative(values)
	}
	coerceAll(values)
	return values
}

func distinctPerPeriod(events []MetricEvent, periods []timeframe.Period, values []float64, key func(*MetricEvent) string) {
	seen := make([]map[string]struct{}, len(periods))
	for i := range events {
		k := key(&events[i])
		if k == "" {
			continue
		}
		idx := indexFor(periods, events[i].Timestamp)
		if idx < 0 {
			continue
		}
		if seen[idx] == nil {
			seen[idx] = make(map[string]struct{})
		}
		seen[idx][k] = struct{}{}
	}
	for i, s := range seen {
		values[i] = float64(len(s))
	}
}

// activePerPeriod counts distinct actors with any qualifying event in the
// trailing 7/30 day window ending at each period, not just inside the period.
func activePerPeriod(events []MetricEvent, periods []timeframe.Period, values []float64, opts Options) {
	for i, p := range periods {
		start := timeframe.ActiveWindowStart(p, opts.Math, opts.Display, opts.RangeTo)
		actors := make(map[string]struct{})
		for j := range events {
			ts := events[j].Timestamp
			if !ts.Before(start) && !ts.After(p.End) {
				actors[events[j].ActorID] = struct{}{}
			}
		}
		values[i] = float64(len(actors))
	}
}

func propertyPerPeriod(events []MetricEvent, periods []timeframe.Period, values []float64, opts Options) {
	samples := make([][]float64, len(periods))
	for i := range events {
		if !events[i].HasValue {
			continue
		}
		if idx := indexFor(periods, events[i].Timestamp); idx >= 0 {
			samples[idx] = append(samples[idx], events[i].Value)
		}
	}
	for i, xs := range samples {
		values[i] = statFunc(opts.Func, xs)
		if opts.Func == query.FuncSum {
			values[i] *= opts.Sampling
		}
	}
}

func countPerActorPerPeriod(events []MetricEvent, periods []timeframe.Period, values []float64, opts Options) {
	perActor := make([]map[string]float64, len(periods))
	for i := range events {
		idx := indexFor(periods, events[i].Timestamp)
		if idx < 0 {
			continue
		}
		if perActor[idx] == nil {
			perActor[idx] = make(map[string]float64)
		}
		perActor[idx][events[i].ActorID]++
	}
	for i, counts := range perActor {
		xs := make([]float64, 0, len(counts))
		for _, c := range counts {
			xs = append(xs, c)
		}
		values[i] = statFunc(opts.Func, xs)
		if opts.Func == query.FuncSum {
			values[i] *= opts.Sampling
		}
	}
}

func indexFor(periods []timeframe.Period, ts time.Time) int {
	for i, p := range periods {
		if p.Contains(ts) {
			return i
		}
	}
	return -1
}

func scale(values []float64, factor float64) {
	if factor == 1 {
		return
	}
	for i := range values {
		values[i] *= factor
	}
}

// Cumulative replaces each value with the running sum in place.
func Cumulative(values []float64) {
	var sum float64
	for i := range values {
		sum += values[i]
		values[i] = sum
	}
}

// Total sums a series after coercion.
func Total(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += coerce(v)
	}
	return sum
}

// coerce maps NaN and Inf to 0 so dashboards keep rendering; numeric edge
// cases are not errors in this engine.
func coerce(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func coerceAll(values []float64) {
	for i := range values {
		values[i] = coerce(values[i])
	}
}

func statFunc(fn query.MathFunc, xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	switch fn {
	case query.FuncSum:
		var s float64
		for _, x := range xs {
			s += x
		}
		return s
	case query.FuncAvg:
		var s float64
		for _, x := range xs {
			s += x
		}
		return s / float64(len(xs))
	case query.FuncMin:
		m := xs[0]
		for _, x := range xs {
			m = math.Min(m, x)
		}
		return m
	case query.FuncMax:
		m := xs[0]
		for _, x := range xs {
			m = math.Max(m, x)
		}
		return m
	case query.FuncMedian:
		return percentile(xs, 0.5)
	case query.FuncP75:
		return percentile(xs, 0.75)
	case query.FuncP90:
		return percentile(xs, 0.90)
	case query.FuncP95:
		return percentile(xs, 0.95)
	case query.FuncP99:
		return percentile(xs, 0.99)
	default:
		return 0
	}
}

// percentile uses linear interpolation between closest ranks.
func percentile(xs []float64, q float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
