// Package experiments computes Bayesian significance statistics for A/B
// experiment variants: probability of winning, expected loss and credible
// intervals over Beta posteriors.
package experiments

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Variant is one experiment arm's funnel outcome counts. A Beta(1,1) prior is
// applied internally, so the posterior is Beta(success+1, failure+1).
type Variant struct {
	Key     string `json:"key"`
	Success int64  `json:"success_count"`
	Failure int64  `json:"failure_count"`
}

func (v Variant) alpha() float64 { return float64(v.Success + 1) }
func (v Variant) beta() float64  { return float64(v.Failure + 1) }
func (v Variant) exposure() int64 {
	return v.Success + v.Failure
}

// Significance is the experiment verdict.
type Significance string

const (
	Significant       Significance = "significant"
	LowWinProbability Significance = "low_win_probability"
	HighLoss          Significance = "high_loss"
	NotEnoughData     Significance = "not_enough_data"
	NoResults         Significance = "no_results"
)

const (
	// MinWinProbability is the winning probability the leading variant needs
	// for a significant verdict.
	MinWinProbability = 0.9
	// MaxExpectedLoss is the relative expected loss ceiling for significance.
	MaxExpectedLoss = 0.01
	// minExposure is the per-variant sample size below which no verdict is
	// attempted.
	minExposure = 100

	maxVariants = 8
	// exactSumLimit caps the combinatorial term count of the closed-form
	// probability computation; larger inputs use Monte Carlo instead.
	exactSumLimit = 2e7
)

// Calculator evaluates experiment statistics. The Monte Carlo sample count
// and seed are tunables; a fixed seed gives reproducible results for tests.
type Calculator struct {
	Samples int
	Seed    int64
}

// NewCalculator returns a calculator with the default sample count and a
// time-independent default seed, keeping repeated evaluations of identical
// inputs stable within tolerance.
func NewCalculator() *Calculator {
	return &Calculator{Samples: 20000, Seed: 1}
}

// Result is the full statistics output for one experiment.
type Result struct {
	Probabilities     map[string]float64    `json:"probabilities"`
	ExpectedLosses    map[string]float64    `json:"expected_losses"`
	CredibleIntervals map[string][2]float64 `json:"credible_intervals"`
	Verdict           Significance          `json:"significance"`
}

// ErrTooManyVariants limits experiments to 1 control + 7 tests.
var ErrTooManyVariants = errors.New("experiments support at most 8 variants")

// Evaluate computes win probabilities, expected losses, 95% credible
// intervals and the significance verdict for the given variants. The first
// variant is the control.
func (c *Calculator) Evaluate(variants []Variant) (*Result, error) {
	if len(variants) > maxVariants {
		return nil, ErrTooManyVariants
	}
	res := &Result{
		Probabilities:     make(map[string]float64),
		ExpectedLosses:    make(map[string]float64),
		CredibleIntervals: make(map[string][2]float64),
	}
	if len(variants) < 2 {
		res.Verdict = NoResults
		return res, nil
	}

	probs := c.Probabilities(variants)
	for i, v := range variants {
		res.Probabilities[v.Key] = probs[i]
		res.CredibleIntervals[v.Key] = CredibleInterval(v)
		others := make([]Variant, 0, len(variants)-1)
		others = append(others, variants[:i]...)
		others = append(others, variants[i+1:]...)
		res.ExpectedLosses[v.Key] = c.ExpectedLoss(v, others)
	}

	res.Verdict = c.verdict(variants, probs, res.ExpectedLosses)
	return res, nil
}

func (c *Calculator) verdict(variants []Variant, probs []float64, losses map[string]float64) Significance {
	for _, v := range variants {
		if v.exposure() < minExposure {
			return NotEnoughData
		}
	}
	bestIdx := 0
	for i := range probs {
		if probs[i] > probs[bestIdx] {
			bestIdx = i
		}
	}
	if probs[bestIdx] < MinWinProbability {
		return LowWinProbability
	}
	if losses[variants[bestIdx].Key] >= MaxExpectedLoss {
		return HighLoss
	}
	return Significant
}

// Probabilities returns, per variant, the probability it is the best of all
// variants. Up to four variants use exact combinatorial summation in
// log-gamma space; beyond that, or when the summation would be impractically
// large, Monte Carlo sampling from the posteriors takes over.
func (c *Calculator) Probabilities(variants []Variant) []float64 {
	n := len(variants)
	switch {
	case n < 2:
		return singleProbability(n)
	case n == 2 && withinExactLimit(variants):
		pB := probBeats(variants[1], variants[0])
		return []float64{1 - pB, pB}
	case n == 3 && withinExactLimit(variants):
		return probabilitiesOfThree(variants)
	case n == 4 && withinExactLimit(variants):
		return probabilitiesOfFour(variants)
	default:
		return c.monteCarloProbabilities(variants)
	}
}

func singleProbability(n int) []float64 {
	if n == 1 {
		return []float64{1}
	}
	return nil
}

func withinExactLimit(variants []Variant) bool {
	product := 1.0
	for _, v := range variants[1:] {
		product *= v.alpha()
	}
	return product <= exactSumLimit
}

// probBeats is P(b's conversion rate exceeds a's): the classic single-sum
// incomplete-beta identity evaluated in log space for stability.
func probBeats(b, a Variant) float64 {
	alphaA, betaA := a.alpha(), a.beta()
	alphaB, betaB := b.alpha(), b.beta()
	total := 0.0
	for i := 0.0; i < alphaB; i++ {
		total += math.Exp(
			logBeta(alphaA+i, betaA+betaB) -
				math.Log(betaB+i) -
				logBeta(1+i, betaB) -
				logBeta(alphaA, betaA),
		)
	}
	return total
}

// jointBothBeat is P(x > target and y > target), the double-sum extension of
// probBeats.
func jointBothBeat(x, y, target Variant) float64 {
	aX, bX := x.alpha(), x.beta()
	aY, bY := y.alpha(), y.beta()
	aT, bT := target.alpha(), target.beta()
	total := 0.0
	for i := 0.0; i < aX; i++ {
		for j := 0.0; j < aY; j++ {
			total += math.Exp(
				logBeta(aT+i+j, bX+bY+bT) -
					math.Log(bX+i) - math.Log(bY+j) -
					logBeta(1+i, bX) - logBeta(1+j, bY) -
					logBeta(aT, bT),
			)
		}
	}
	return total
}

// jointAllBeat is P(x > target and y > target and z > target).
func jointAllBeat(x, y, z, target Variant) float64 {
	aX, bX := x.alpha(), x.beta()
	aY, bY := y.alpha(), y.beta()
	aZ, bZ := z.alpha(), z.beta()
	aT, bT := target.alpha(), target.beta()
	total := 0.0
	for i := 0.0; i < aX; i++ {
		for j := 0.0; j < aY; j++ {
			for k := 0.0; k < aZ; k++ {
				total += math.Exp(
					logBeta(aT+i+j+k, bX+bY+bZ+bT) -
						math.Log(bX+i) - math.Log(bY+j) - math.Log(bZ+k) -
						logBeta(1+i, bX) - logBeta(1+j, bY) - logBeta(1+k, bZ) -
						logBeta(aT, bT),
				)
			}
		}
	}
	return total
}

// probBest3 is P(target beats both others), by inclusion-exclusion over the
// pairwise events.
func probBest3(target, o1, o2 Variant) float64 {
	return 1 -
		probBeats(o1, target) -
		probBeats(o2, target) +
		jointBothBeat(o1, o2, target)
}

// probBest4 extends the inclusion-exclusion one level deeper.
func probBest4(target, o1, o2, o3 Variant) float64 {
	return 1 -
		probBeats(o1, target) - probBeats(o2, target) - probBeats(o3, target) +
		jointBothBeat(o1, o2, target) + jointBothBeat(o1, o3, target) + jointBothBeat(o2, o3, target) -
		jointAllBeat(o1, o2, o3, target)
}

func probabilitiesOfThree(v []Variant) []float64 {
	return []float64{
		probBest3(v[0], v[1], v[2]),
		probBest3(v[1], v[0], v[2]),
		probBest3(v[2], v[0], v[1]),
	}
}

func probabilitiesOfFour(v []Variant) []float64 {
	return []float64{
		probBest4(v[0], v[1], v[2], v[3]),
		probBest4(v[1], v[0], v[2], v[3]),
		probBest4(v[2], v[0], v[1], v[3]),
		probBest4(v[3], v[0], v[1], v[2]),
	}
}

func (c *Calculator) monteCarloProbabilities(variants []Variant) []float64 {
	rng := rand.New(rand.NewSource(c.Seed))
	wins := make([]float64, len(variants))
	for s := 0; s < c.Samples; s++ {
		bestIdx, bestVal := 0, -1.0
		for i, v := range variants {
			draw := betaSample(rng, v.alpha(), v.beta())
			if draw > bestVal {
				bestIdx, bestVal = i, draw
			}
		}
		wins[bestIdx]++
	}
	for i := range wins {
		wins[i] /= float64(c.Samples)
	}
	return wins
}

// ExpectedLoss is the expected shortfall of shipping variant when one of the
// others is actually better: E[max(0, max(others) - variant)] under the joint
// posterior, estimated by Monte Carlo.
func (c *Calculator) ExpectedLoss(variant Variant, others []Variant) float64 {
	rng := rand.New(rand.NewSource(c.Seed))
	var lossSum float64
	for s := 0; s < c.Samples; s++ {
		own := betaSample(rng, variant.alpha(), variant.beta())
		bestOther := 0.0
		for _, o := range others {
			if draw := betaSample(rng, o.alpha(), o.beta()); draw > bestOther {
				bestOther = draw
			}
		}
		if bestOther > own {
			lossSum += bestOther - own
		}
	}
	return lossSum / float64(c.Samples)
}

// CredibleInterval is the 95% Bayesian interval (2.5th and 97.5th posterior
// percentiles) of the variant's conversion rate.
func CredibleInterval(v Variant) [2]float64 {
	return [2]float64{
		betaQuantile(v.alpha(), v.beta(), 0.025),
		betaQuantile(v.alpha(), v.beta(), 0.975),
	}
}

// SortedKeys returns variant keys in probability order, best first, for
// stable presentation.
func SortedKeys(probs map[string]float64) []string {
	keys := make([]string, 0, len(probs))
	for k := range probs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if probs[keys[i]] != probs[keys[j]] {
			return probs[keys[i]] > probs[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
