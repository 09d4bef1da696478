package funnel

import (
	"time"

	"insightcore/internal/timeframe"
)

// TrendPoint is one period of the conversion-over-time view.
type TrendPoint struct {
	Period         string  `json:"period"`
	ReachedFrom    float64 `json:"reached_from_step_count"`
	ReachedTo      float64 `json:"reached_to_step_count"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Trends rolls independent runs into per-period entrance/conversion counts.
// Unlike single-aggregate mode, every independent run an actor produced is
// counted in the period containing its from-step timestamp: someone
// converting twice in two weeks shows up in both. Runs sharing events are
// alternative anchors of one journey and collapse to their best run first.
func Trends(actorRuns [][]*Run, periods []timeframe.Period, fromStep, toStep int, sampling float64) []TrendPoint {
	if sampling <= 0 {
		sampling = 1
	}
	points := make([]TrendPoint, len(periods))
	for i, p := range periods {
		points[i].Period = p.Label
	}

	for _, runs := range actorRuns {
		for _, run := range collapseOverlapping(runs) {
			if !run.Reached(fromStep) {
				continue
			}
			idx := periodIndex(periods, run.Times[fromStep])
			if idx < 0 {
				continue
			}
			points[idx].ReachedFrom += sampling
			if run.Reached(toStep) {
				points[idx].ReachedTo += sampling
			}
		}
	}

	for i := range points {
		points[i].ConversionRate = ratePercent(points[i].ReachedTo, points[i].ReachedFrom)
	}
	return points
}

// collapseOverlapping groups runs that share an underlying event, directly
// or through another run, and keeps only the best run of each group. Repeated
// step-0 occurrences before a completion all advance on the same later-step
// events; counting each of those anchors would inflate the trend.
func collapseOverlapping(runs []*Run) []*Run {
	if len(runs) < 2 {
		return runs
	}
	var groups [][]int // indexes into runs
	for ri, r := range runs {
		var hits []int
		for gi, g := range groups {
			for _, oi := range g {
				if sharesEvent(r, runs[oi]) {
					hits = append(hits, gi)
					break
				}
			}
		}
		if len(hits) == 0 {
			groups = append(groups, []int{ri})
			continue
		}
		groups[hits[0]] = append(groups[hits[0]], ri)
		for k := len(hits) - 1; k >= 1; k-- {
			groups[hits[0]] = append(groups[hits[0]], groups[hits[k]]...)
			groups = append(groups[:hits[k]], groups[hits[k]+1:]...)
		}
	}

	out := make([]*Run, 0, len(groups))
	for _, g := range groups {
		best := runs[g[0]]
		for _, ri := range g[1:] {
			if betterRun(runs[ri], best) {
				best = runs[ri]
			}
		}
		out = append(out, best)
	}
	return out
}

func sharesEvent(a, b *Run) bool {
	for _, i := range a.EventIdx {
		for _, j := range b.EventIdx {
			if i == j {
				return true
			}
		}
	}
	return false
}

func periodIndex(periods []timeframe.Period, ts time.Time) int {
	for i, p := range periods {
		if p.Contains(ts) {
			return i
		}
	}
	return -1
}
