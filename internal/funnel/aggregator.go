package funnel

import (
	"math"
	"sort"
)

// ActorResult is one actor's contribution to aggregation: their best run and
// the breakdown buckets they were attributed to.
type ActorResult struct {
	ActorID string
	Best    *Run
	Buckets []string
}

// Options configures one aggregation pass. Sampling is the multiplicative
// correction applied to every count (1 when sampling is off).
type Options struct {
	Steps    int
	FromStep int
	ToStep   int
	Sampling float64
	Labels   []string
}

// BucketResult holds per-step statistics for one breakdown bucket. Step
// arrays are indexed relative to FromStep; AvgTimes[i] / MedianTimes[i] are
// the seconds spent converting into step i from the one before (index 0 is
// always zero).
type BucketResult struct {
	Breakdown       string    `json:"breakdown"`
	StepCounts      []float64 `json:"step_counts"`
	AvgTimes        []float64 `json:"average_conversion_times"`
	MedianTimes     []float64 `json:"median_conversion_times"`
	ConversionRates []float64 `json:"conversion_rates"`
	Overall         float64   `json:"overall_conversion_rate"`
}

// Result is a full funnel evaluation output.
type Result struct {
	StepLabels []string       `json:"step_labels"`
	Buckets    []BucketResult `json:"buckets"`
}

// Aggregate folds per-actor classification results into per-bucket step
// counts and conversion time statistics. Only actors whose best run reached
// FromStep contribute; step counts are monotonically non-increasing by
// construction.
func Aggregate(actors []ActorResult, opts Options) *Result {
	if opts.Sampling <= 0 {
		opts.Sampling = 1
	}
	from, to := opts.FromStep, opts.ToStep
	width := to - from + 1

	type acc struct {
		counts []float64
		diffs  [][]float64 // per relative step, seconds from previous step
	}
	buckets := make(map[string]*acc)
	ensure := func(key string) *acc {
		a, ok := buckets[key]
		if !ok {
			a = &acc{counts: make([]float64, width), diffs: make([][]float64, width)}
			buckets[key] = a
		}
		return a
	}

	for _, actor := range actors {
		run := actor.Best
		if run == nil || run.MaxStep() < from {
			continue
		}
		for _, key := range actor.Buckets {
			a := ensure(key)
			for s := from; s <= to && run.Reached(s); s++ {
				rel := s - from
				a.counts[rel]++
				if s > from {
					a.diffs[rel] = append(a.diffs[rel], run.Times[s].Sub(run.Times[s-1]).Seconds())
				}
			}
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &Result{StepLabels: opts.Labels}
	for _, key := range keys {
		a := buckets[key]
		br := BucketResult{
			Breakdown:       key,
			StepCounts:      make([]float64, width),
			AvgTimes:        make([]float64, width),
			MedianTimes:     make([]float64, width),
			ConversionRates: make([]float64, width),
		}
		for i := 0; i < width; i++ {
			br.StepCounts[i] = a.counts[i] * opts.Sampling
			br.AvgTimes[i] = mean(a.diffs[i])
			br.MedianTimes[i] = median(a.diffs[i])
			if i == 0 {
				br.ConversionRates[i] = 100
			} else {
				br.ConversionRates[i] = ratePercent(a.counts[i], a.counts[i-1])
			}
		}
		br.Overall = ratePercent(a.counts[width-1], a.counts[0])
		out.Buckets = append(out.Buckets, br)
	}
	return out
}

func ratePercent(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den * 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

const (
	maxUserBins = 90
	maxAutoBins = 60
	// minBinWidthSeconds avoids degenerate single-sample histograms.
	minBinWidthSeconds = 60
)

// HistogramBin is one time-to-convert bucket. From/To are seconds.
type HistogramBin struct {
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Count float64 `json:"count"`
}

// TimeToConvertHistogram bins per-actor conversion durations between the
// query's from/to steps. Requested bin counts clamp to [1, 90]; otherwise the
// count is cube-root-of-n clamped to [1, 60]. Empty bins appear zero-filled.
func TimeToConvertHistogram(durations []float64, requestedBins *int, sampling float64) []HistogramBin {
	if sampling <= 0 {
		sampling = 1
	}
	if len(durations) == 0 {
		return nil
	}
	var binCount int
	if requestedBins != nil {
		binCount = clampInt(*requestedBins, 1, maxUserBins)
	} else {
		binCount = clampInt(int(math.Ceil(math.Cbrt(float64(len(durations))))), 1, maxAutoBins)
	}

	minV, maxV := durations[0], durations[0]
	for _, d := range durations {
		minV = math.Min(minV, d)
		maxV = math.Max(maxV, d)
	}
	width := math.Ceil((maxV - minV) / float64(binCount))
	if width < minBinWidthSeconds {
		width = minBinWidthSeconds
	}

	bins := make([]HistogramBin, binCount)
	for i := range bins {
		bins[i].From = minV + float64(i)*width
		bins[i].To = minV + float64(i+1)*width
	}
	for _, d := range durations {
		idx := int((d - minV) / width)
		if idx >= binCount {
			idx = binCount - 1
		}
		bins[idx].Count += sampling
	}
	return bins
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ConversionDurations extracts each contributing actor's from-to step
// conversion time in seconds, for histogram mode.
func ConversionDurations(actors []ActorResult, from, to int) []float64 {
	var out []float64
	for _, actor := range actors {
		run := actor.Best
		if run == nil || !run.Reached(to) {
			continue
		}
		out = append(out, run.Times[to].Sub(run.Times[from]).Seconds())
	}
	return out
}
