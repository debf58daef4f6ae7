package stats

import (
	"errors"
	"math"
)

// Test names the hypothesis test behind a Decision.
type Test string

const (
	TestNone     Test = ""
	TestFriedman Test = "friedman"
	TestWilcoxon Test = "wilcoxon"
)

// Decision is the outcome of one pruning round.
type Decision struct {
	// Keep lists the surviving treatment indices in their original order.
	Keep []int
	// Sums is the rank sum of every treatment.
	Sums []float64
	Test Test
	// Tested is false when the test was skipped.
	Tested    bool
	Statistic float64
	PValue    float64
	// Threshold is the critical difference applied by the Friedman post-hoc.
	Threshold float64
}

// Pruned reports whether the decision eliminated any treatment.
func (d Decision) Pruned() bool {
	return len(d.Keep) < len(d.Sums)
}

// Prune ranks samples[c][b] and decides which treatments survive. Nothing
// is eliminated before initialBlock blocks are available. Three or more
// treatments go through the Friedman test and its critical-difference
// post-hoc; two go through the Wilcoxon signed-rank test once it has
// enough pairs.
func Prune(samples [][]float64, alpha float64, initialBlock int) (Decision, error) {
	r, err := RankBlocks(samples)
	if err != nil {
		return Decision{}, err
	}

	k := r.Treatments()
	d := Decision{Keep: make([]int, k), Sums: r.Sums}
	for c := range d.Keep {
		d.Keep[c] = c
	}
	if r.Blocks() < initialBlock || k < 2 {
		return d, nil
	}

	if k > 2 {
		d.Test = TestFriedman
		d.Statistic, d.PValue = Friedman(r)
		d.Tested = true
		if d.PValue > alpha {
			return d, nil
		}

		threshold := CriticalDifference(r, alpha)
		if math.IsNaN(threshold) {
			return d, nil
		}
		d.Threshold = threshold

		best := math.Inf(1)
		for _, s := range r.Sums {
			best = math.Min(best, s)
		}
		d.Keep = d.Keep[:0]
		for c, s := range r.Sums {
			if math.Abs(s-best) <= threshold {
				d.Keep = append(d.Keep, c)
			}
		}
		return d, nil
	}

	d.Test = TestWilcoxon
	statistic, p, err := Wilcoxon(samples[0], samples[1])
	if errors.Is(err, ErrInsufficientSamples) {
		return d, nil
	}
	if err != nil {
		return Decision{}, err
	}
	d.Tested = true
	d.Statistic, d.PValue = statistic, p
	if p <= alpha {
		winner := 0
		if r.Sums[1] < r.Sums[0] {
			winner = 1
		}
		d.Keep = []int{winner}
	}
	return d, nil
}
