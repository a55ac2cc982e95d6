package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalSample(r *rand.Rand, n int, mu, sigma float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mu + sigma*r.NormFloat64()
	}
	return out
}

func TestKolmogorovSmirnovIdenticalSamples(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	a := normalSample(r, 200, 0, 1)

	res := KolmogorovSmirnov(a, a, 0.05)
	assert.False(t, res.Significant)
	assert.Zero(t, res.Statistic)
	assert.Equal(t, 1.0, res.PValue)
}

func TestKolmogorovSmirnovMeanShift(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	a := normalSample(r, 200, 0, 1)
	b := normalSample(r, 200, 5, 1)

	res := KolmogorovSmirnov(a, b, 0.05)
	assert.True(t, res.Significant)
	assert.Less(t, res.PValue, 1e-6)
	assert.Greater(t, res.Statistic, 0.9, "distributions barely overlap")
}

func TestKolmogorovSmirnovShortInput(t *testing.T) {
	res := KolmogorovSmirnov([]float64{1, 2}, []float64{3, 4}, 0.05)
	assert.False(t, res.Significant)
	assert.Equal(t, 1.0, res.PValue)
}

func TestWelchTDetectsMeanShift(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	a := normalSample(r, 100, 0, 1)
	b := normalSample(r, 100, 2, 3)

	res := WelchT(a, b, 0.05)
	assert.True(t, res.Significant)
	assert.Greater(t, res.Statistic, 0.0, "b has the larger mean")

	same := WelchT(a, a, 0.05)
	assert.False(t, same.Significant)
}

func TestWelchTZeroVariance(t *testing.T) {
	res := WelchT([]float64{5, 5, 5, 5}, []float64{5, 5, 5, 5}, 0.05)
	assert.False(t, res.Significant)
	assert.Equal(t, 1.0, res.PValue)
}

func TestLeveneDetectsVarianceChange(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	a := normalSample(r, 150, 0, 1)
	b := normalSample(r, 150, 0, 4)

	res := Levene(a, b, 0.05)
	assert.True(t, res.Significant)

	same := Levene(a, a, 0.05)
	assert.False(t, same.Significant, "a sample against itself has no variance change")
}

func TestLjungBoxShortAndAutocorrelated(t *testing.T) {
	r := rand.New(rand.NewSource(5))

	res := LjungBox([]float64{1, 2, 3}, 0, 0.05)
	assert.False(t, res.Significant, "too few observations never flags")

	// Strongly autocorrelated AR(1) process.
	ar := make([]float64, 200)
	for i := 1; i < len(ar); i++ {
		ar[i] = 0.9*ar[i-1] + 0.1*r.NormFloat64()
	}
	res = LjungBox(ar, 0, 0.05)
	assert.True(t, res.Significant)
	assert.Less(t, res.PValue, 1e-6)
}

func TestMannWhitneyUOneSided(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	baseline := normalSample(r, 60, 1.0, 0.3)
	worse := normalSample(r, 60, 2.0, 0.3)

	// Alternative is "first sample greater": worse-vs-baseline flags,
	// baseline-vs-worse does not.
	res := MannWhitneyU(worse, baseline, 0.05)
	assert.True(t, res.Significant)

	res = MannWhitneyU(baseline, worse, 0.05)
	assert.False(t, res.Significant)
}

func TestMannWhitneyUTies(t *testing.T) {
	a := []float64{1, 1, 1, 1, 1}
	b := []float64{1, 1, 1, 1, 1}
	res := MannWhitneyU(a, b, 0.05)
	assert.False(t, res.Significant, "all-tied samples must not flag")
}

func TestKSProbBounds(t *testing.T) {
	assert.Equal(t, 1.0, ksProb(0))
	assert.Equal(t, 1.0, ksProb(-1))
	p := ksProb(3)
	require.False(t, math.IsNaN(p))
	assert.Less(t, p, 1e-6)
}
