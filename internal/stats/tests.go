// Package stats implements the two-sample statistical tests used by the
// drift detector and performance monitor. Every test tolerates degenerate
// input (too few points, zero variance) by reporting not-significant rather
// than returning an error, so monitoring callers never have to special-case
// a bad window.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TestResult is the outcome of one hypothesis test.
type TestResult struct {
	Name        string  `json:"name"`
	Statistic   float64 `json:"statistic"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

func notSignificant(name string) TestResult {
	return TestResult{Name: name, Statistic: 0, PValue: 1, Significant: false}
}

// KolmogorovSmirnov runs the two-sample KS test on raw values, detecting
// general distribution-shape changes. P-value uses the asymptotic
// Kolmogorov distribution.
func KolmogorovSmirnov(a, b []float64, alpha float64) TestResult {
	const name = "kolmogorov_smirnov"
	if len(a) < 4 || len(b) < 4 {
		return notSignificant(name)
	}
	as := append([]float64(nil), a...)
	bs := append([]float64(nil), b...)
	sort.Float64s(as)
	sort.Float64s(bs)

	d := stat.KolmogorovSmirnov(as, nil, bs, nil)
	n := float64(len(a))
	m := float64(len(b))
	en := math.Sqrt(n * m / (n + m))
	lambda := (en + 0.12 + 0.11/en) * d
	p := ksProb(lambda)

	return TestResult{Name: name, Statistic: d, PValue: p, Significant: p < alpha}
}

// ksProb evaluates the Kolmogorov survival function
// Q(lambda) = 2 * sum_{k>=1} (-1)^{k-1} exp(-2 k^2 lambda^2).
func ksProb(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-10 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// WelchT runs Welch's two-sample t-test (unequal variances) for a mean
// shift between a and b. Two-sided.
func WelchT(a, b []float64, alpha float64) TestResult {
	const name = "welch_t"
	if len(a) < 3 || len(b) < 3 {
		return notSignificant(name)
	}
	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)
	nA := float64(len(a))
	nB := float64(len(b))

	se2 := varA/nA + varB/nB
	if se2 <= 0 {
		return notSignificant(name)
	}
	t := (meanB - meanA) / math.Sqrt(se2)

	// Welch-Satterthwaite degrees of freedom.
	num := se2 * se2
	den := (varA/nA)*(varA/nA)/(nA-1) + (varB/nB)*(varB/nB)/(nB-1)
	if den <= 0 {
		return notSignificant(name)
	}
	df := num / den

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.CDF(-math.Abs(t))

	return TestResult{Name: name, Statistic: t, PValue: p, Significant: p < alpha}
}

// Levene runs the median-centered Levene test (Brown-Forsythe variant) for
// a variance change between a and b. The median centering keeps the test
// usable on heavy-tailed financial series.
func Levene(a, b []float64, alpha float64) TestResult {
	const name = "levene"
	if len(a) < 3 || len(b) < 3 {
		return notSignificant(name)
	}
	za := absDeviationsFromMedian(a)
	zb := absDeviationsFromMedian(b)

	meanZA := stat.Mean(za, nil)
	meanZB := stat.Mean(zb, nil)
	nA := float64(len(za))
	nB := float64(len(zb))
	nTotal := nA + nB
	grand := (nA*meanZA + nB*meanZB) / nTotal

	between := nA*(meanZA-grand)*(meanZA-grand) + nB*(meanZB-grand)*(meanZB-grand)
	within := 0.0
	for _, z := range za {
		within += (z - meanZA) * (z - meanZA)
	}
	for _, z := range zb {
		within += (z - meanZB) * (z - meanZB)
	}
	if within <= 0 {
		return notSignificant(name)
	}
	// Two groups: F(1, N-2).
	w := (nTotal - 2) * between / within

	dist := distuv.F{D1: 1, D2: nTotal - 2}
	p := 1 - dist.CDF(w)

	return TestResult{Name: name, Statistic: w, PValue: p, Significant: p < alpha}
}

func absDeviationsFromMedian(xs []float64) []float64 {
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	med := stat.Quantile(0.5, stat.Empirical, cp, nil)
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Abs(x - med)
	}
	return out
}

// LjungBox tests a single sample for autocorrelation up to maxLag lags
// (maxLag <= 0 picks min(10, n/5)). Significant means the sample shows
// autocorrelation structure.
func LjungBox(xs []float64, maxLag int, alpha float64) TestResult {
	const name = "ljung_box"
	n := len(xs)
	if n < 10 {
		return notSignificant(name)
	}
	if maxLag <= 0 {
		maxLag = 10
		if n/5 < maxLag {
			maxLag = n / 5
		}
	}
	if maxLag < 1 {
		return notSignificant(name)
	}

	mean := stat.Mean(xs, nil)
	denom := 0.0
	for _, x := range xs {
		denom += (x - mean) * (x - mean)
	}
	if denom <= 0 {
		return notSignificant(name)
	}

	q := 0.0
	for k := 1; k <= maxLag; k++ {
		num := 0.0
		for t := k; t < n; t++ {
			num += (xs[t] - mean) * (xs[t-k] - mean)
		}
		rho := num / denom
		q += rho * rho / float64(n-k)
	}
	q *= float64(n) * float64(n+2)

	dist := distuv.ChiSquared{K: float64(maxLag)}
	p := 1 - dist.CDF(q)

	return TestResult{Name: name, Statistic: q, PValue: p, Significant: p < alpha}
}

// MannWhitneyU runs the one-sided Mann-Whitney U test with alternative
// "a stochastically greater than b", using the tie-corrected normal
// approximation with continuity correction.
func MannWhitneyU(a, b []float64, alpha float64) TestResult {
	const name = "mann_whitney_u"
	if len(a) < 3 || len(b) < 3 {
		return notSignificant(name)
	}
	nA := float64(len(a))
	nB := float64(len(b))
	nTotal := nA + nB

	ranks, tieCorrection := rankCombined(a, b)
	rankSumA := 0.0
	for i := range a {
		rankSumA += ranks[i]
	}
	u := rankSumA - nA*(nA+1)/2

	mu := nA * nB / 2
	sigma2 := nA * nB / 12 * ((nTotal + 1) - tieCorrection/(nTotal*(nTotal-1)))
	if sigma2 <= 0 {
		return notSignificant(name)
	}
	z := (u - mu - 0.5) / math.Sqrt(sigma2)

	normal := distuv.Normal{Mu: 0, Sigma: 1}
	p := 1 - normal.CDF(z)

	return TestResult{Name: name, Statistic: u, PValue: p, Significant: p < alpha}
}

// rankCombined assigns midranks to the concatenation a||b and returns the
// ranks plus the tie correction term sum(t^3 - t).
func rankCombined(a, b []float64) ([]float64, float64) {
	n := len(a) + len(b)
	type indexed struct {
		value float64
		pos   int
	}
	all := make([]indexed, 0, n)
	for i, v := range a {
		all = append(all, indexed{v, i})
	}
	for i, v := range b {
		all = append(all, indexed{v, len(a) + i})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].value < all[j].value })

	ranks := make([]float64, n)
	tieCorrection := 0.0
	i := 0
	for i < n {
		j := i
		for j+1 < n && all[j+1].value == all[i].value {
			j++
		}
		// Midrank for the tied block [i, j].
		mid := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[all[k].pos] = mid
		}
		t := float64(j - i + 1)
		if t > 1 {
			tieCorrection += t*t*t - t
		}
		i = j + 1
	}
	return ranks, tieCorrection
}
