package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// MinWilcoxonSamples is the smallest paired sample the Wilcoxon test accepts.
const MinWilcoxonSamples = 10

// Friedman returns the ties-corrected Friedman statistic of r and its
// p-value under a chi-squared distribution with k-1 degrees of freedom.
func Friedman(r Ranking) (statistic, p float64) {
	n := float64(r.Blocks())
	k := float64(r.Treatments())
	if k < 2 || n < 1 {
		return 0, 1
	}

	expected := n * (k + 1) / 2
	var sq float64
	for _, s := range r.Sums {
		sq += (s - expected) * (s - expected)
	}

	var correction float64
	for _, groups := range r.Ties {
		for _, t := range groups {
			tf := float64(t)
			correction += (tf*tf*tf - tf) / (k - 1)
		}
	}

	denominator := n*k*(k+1) - correction
	if denominator == 0 {
		return math.Inf(1), 0
	}
	statistic = 12 * sq / denominator
	if math.IsInf(statistic, 1) {
		return statistic, 0
	}
	return statistic, distuv.ChiSquared{K: k - 1}.Survival(statistic)
}

// CriticalDifference is the minimum rank-sum gap at which two treatments of
// r differ at significance alpha. It is NaN when r has a single block.
func CriticalDifference(r Ranking, alpha float64) float64 {
	n := float64(r.Blocks())
	k := float64(r.Treatments())
	df := (n - 1) * (k - 1)
	if df <= 0 {
		return math.NaN()
	}

	var a float64
	for _, ranks := range r.BlockRanks {
		for _, rk := range ranks {
			a += rk * rk
		}
	}
	var sumSq float64
	for _, s := range r.Sums {
		sumSq += s * s
	}

	spread := 2 * (n*a - sumSq) / df
	if spread < 0 {
		spread = 0
	}
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(1 - alpha/2)
	return t * math.Sqrt(spread)
}

// Wilcoxon runs the two-sided paired signed-rank test on x and y using the
// normal approximation. Zero differences are discarded and the variance is
// corrected for ties.
func Wilcoxon(x, y []float64) (statistic, p float64, err error) {
	if len(x) != len(y) {
		return 0, 0, fmt.Errorf("%w: %d and %d paired values", ErrRaggedSamples, len(x), len(y))
	}
	if len(x) < MinWilcoxonSamples {
		return 0, 0, fmt.Errorf("%w: %d pairs, need %d", ErrInsufficientSamples, len(x), MinWilcoxonSamples)
	}

	var diffs []float64
	for i := range x {
		if d := x[i] - y[i]; d != 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return 0, 1, nil
	}

	abs := make([]float64, len(diffs))
	for i, d := range diffs {
		abs[i] = math.Abs(d)
	}
	ranks := Rank(abs)

	var plus, minus float64
	for i, d := range diffs {
		if d > 0 {
			plus += ranks[i]
		} else {
			minus += ranks[i]
		}
	}
	statistic = math.Min(plus, minus)

	nf := float64(len(diffs))
	mean := nf * (nf + 1) / 4
	variance := nf * (nf + 1) * (2*nf + 1) / 24
	for _, t := range tieGroups(ranks) {
		tf := float64(t)
		variance -= (tf*tf*tf - tf) / 48
	}
	if variance <= 0 {
		return statistic, 1, nil
	}

	z := (statistic - mean) / math.Sqrt(variance)
	p = 2 * distuv.UnitNormal.Survival(math.Abs(z))
	return statistic, math.Min(p, 1), nil
}
