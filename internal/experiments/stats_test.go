package experiments_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insightcore/internal/experiments"
)

func TestProbabilitiesTwoVariants(t *testing.T) {
	c := experiments.NewCalculator()
	variants := []experiments.Variant{
		{Key: "control", Success: 100, Failure: 18},
		{Key: "test", Success: 100, Failure: 10},
	}

	probs := c.Probabilities(variants)
	require.Len(t, probs, 2)
	// Closed form for Beta(101,11) vs Beta(101,19).
	assert.InDelta(t, 0.918, probs[1], 0.01)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)

	res, err := c.Evaluate(variants)
	require.NoError(t, err)
	assert.Equal(t, experiments.Significant, res.Verdict)
}

func TestProbabilitiesSymmetricVariantsSplitEvenly(t *testing.T) {
	c := experiments.NewCalculator()
	variants := []experiments.Variant{
		{Key: "a", Success: 50, Failure: 50},
		{Key: "b", Success: 50, Failure: 50},
	}

	probs := c.Probabilities(variants)
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.InDelta(t, 0.5, probs[1], 1e-9)
}

func TestProbabilitiesThreeVariantsSumToOne(t *testing.T) {
	c := experiments.NewCalculator()
	variants := []experiments.Variant{
		{Key: "control", Success: 20, Failure: 180},
		{Key: "t1", Success: 30, Failure: 170},
		{Key: "t2", Success: 25, Failure: 175},
	}

	probs := c.Probabilities(variants)
	require.Len(t, probs, 3)
	sum := probs[0] + probs[1] + probs[2]
	assert.InDelta(t, 1.0, sum, 1e-6)
	// t1 converts best and should carry the highest win probability.
	assert.Greater(t, probs[1], probs[0])
	assert.Greater(t, probs[1], probs[2])
}

func TestProbabilitiesClosedFormMatchesMonteCarlo(t *testing.T) {
	variants := []experiments.Variant{
		{Key: "control", Success: 15, Failure: 85},
		{Key: "t1", Success: 25, Failure: 75},
		{Key: "t2", Success: 20, Failure: 80},
	}

	exact := experiments.NewCalculator().Probabilities(variants)

	// Padding with two near-certain losers pushes the variant count past the
	// closed-form cutoff, so the same three leaders go through Monte Carlo.
	mc := &experiments.Calculator{Samples: 200000, Seed: 7}
	fiveWay := append(append([]experiments.Variant(nil), variants...),
		experiments.Variant{Key: "t3", Success: 0, Failure: 400},
		experiments.Variant{Key: "t4", Success: 0, Failure: 400},
	)
	probs := mc.Probabilities(fiveWay)
	require.Len(t, probs, 5)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, exact[i], probs[i], 0.02)
	}
}

func TestEvaluateSignificantVerdict(t *testing.T) {
	c := experiments.NewCalculator()
	variants := []experiments.Variant{
		{Key: "control", Success: 100, Failure: 900},
		{Key: "test", Success: 160, Failure: 840},
	}

	res, err := c.Evaluate(variants)
	require.NoError(t, err)
	assert.Equal(t, experiments.Significant, res.Verdict)
	assert.Greater(t, res.Probabilities["test"], experiments.MinWinProbability)
	assert.Less(t, res.ExpectedLosses["test"], experiments.MaxExpectedLoss)
}

func TestEvaluateLowWinProbability(t *testing.T) {
	c := experiments.NewCalculator()
	variants := []experiments.Variant{
		{Key: "control", Success: 100, Failure: 900},
		{Key: "test", Success: 103, Failure: 897},
	}

	res, err := c.Evaluate(variants)
	require.NoError(t, err)
	assert.Equal(t, experiments.LowWinProbability, res.Verdict)
}

func TestEvaluateNotEnoughData(t *testing.T) {
	c := experiments.NewCalculator()
	variants := []experiments.Variant{
		{Key: "control", Success: 30, Failure: 30},
		{Key: "test", Success: 40, Failure: 20},
	}

	res, err := c.Evaluate(variants)
	require.NoError(t, err)
	assert.Equal(t, experiments.NotEnoughData, res.Verdict)
}

func TestEvaluateNoResultsWithSingleVariant(t *testing.T) {
	c := experiments.NewCalculator()
	res, err := c.Evaluate([]experiments.Variant{{Key: "control", Success: 10, Failure: 10}})
	require.NoError(t, err)
	assert.Equal(t, experiments.NoResults, res.Verdict)
}

func TestEvaluateTooManyVariants(t *testing.T) {
	c := experiments.NewCalculator()
	variants := make([]experiments.Variant, 9)
	_, err := c.Evaluate(variants)
	assert.ErrorIs(t, err, experiments.ErrTooManyVariants)
}

func TestEvaluateDeterministicAcrossRuns(t *testing.T) {
	variants := []experiments.Variant{
		{Key: "control", Success: 120, Failure: 880},
		{Key: "test", Success: 150, Failure: 850},
	}

	first, err := experiments.NewCalculator().Evaluate(variants)
	require.NoError(t, err)
	second, err := experiments.NewCalculator().Evaluate(variants)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCredibleInterval(t *testing.T) {
	iv := experiments.CredibleInterval(experiments.Variant{Success: 100, Failure: 900})
	assert.Less(t, iv[0], iv[1])
	// The posterior mean sits near 0.1; the 95% interval should bracket it.
	assert.Greater(t, iv[0], 0.07)
	assert.Less(t, iv[1], 0.13)

	// More data tightens the interval.
	tighter := experiments.CredibleInterval(experiments.Variant{Success: 1000, Failure: 9000})
	assert.Less(t, tighter[1]-tighter[0], iv[1]-iv[0])
}

func TestExpectedLossOfClearWinnerIsSmall(t *testing.T) {
	c := experiments.NewCalculator()
	winner := experiments.Variant{Key: "test", Success: 300, Failure: 700}
	loser := experiments.Variant{Key: "control", Success: 100, Failure: 900}

	assert.Less(t, c.ExpectedLoss(winner, []experiments.Variant{loser}), 0.001)
	assert.Greater(t, c.ExpectedLoss(loser, []experiments.Variant{winner}), 0.1)
}

func TestSortedKeys(t *testing.T) {
	keys := experiments.SortedKeys(map[string]float64{
		"control": 0.2, "t1": 0.5, "t2": 0.3,
	})
	assert.Equal(t, []string{"t1", "t2", "control"}, keys)
}
