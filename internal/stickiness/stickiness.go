// Package stickiness histograms actors by the number of distinct periods in
// which they performed the target entity.
package stickiness

import (
	"fmt"
	"time"

	"insightcore/internal/query"
	"insightcore/internal/timeframe"
)

// Result is the stickiness histogram. Labels[k-1] reads "k day(s)" and
// Values[k-1] is the number of actors active in exactly k distinct periods.
type Result struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// ActorActivity is one actor's qualifying event timestamps.
type ActorActivity struct {
	ActorID    string
	Timestamps []time.Time
}

// Aggregate counts each actor's distinct active periods and buckets actors by
// that count. The output is 1-indexed in labels and 0-indexed in data: an
// actor active in exactly one period contributes to Values[0].
func Aggregate(actors []ActorActivity, periods []timeframe.Period, interval query.Interval, sampling float64) *Result {
	if sampling <= 0 {
		sampling = 1
	}
	total := len(periods)
	res := &Result{
		Labels: make([]string, total),
		Values: make([]float64, total),
	}
	noun := timeframe.IntervalNoun(interval)
	for k := 1; k <= total; k++ {
		label := fmt.Sprintf("%d %s", k, noun)
		if k > 1 {
			label += "s"
		}
		res.Labels[k-1] = label
	}

	for _, actor := range actors {
		active := distinctPeriods(actor.Timestamps, periods)
		if active == 0 {
			continue
		}
		res.Values[active-1] += sampling
	}
	return res
}

func distinctPeriods(timestamps []time.Time, periods []timeframe.Period) int {
	seen := make(map[int]struct{})
	for _, ts := range timestamps {
		for i, p := range periods {
			if p.Contains(ts) {
				seen[i] = struct{}{}
				break
			}
		}
	}
	return len(seen)
}
