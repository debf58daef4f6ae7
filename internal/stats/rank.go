// Package stats implements the rank-based tests a race uses to eliminate
// inferior configurations.
package stats

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNoSamples is returned when there is nothing to rank.
	ErrNoSamples = errors.New("no samples")
	// ErrRaggedSamples is returned when treatments have different block counts.
	ErrRaggedSamples = errors.New("treatments have different numbers of blocks")
	// ErrInsufficientSamples is returned when a test needs more blocks.
	ErrInsufficientSamples = errors.New("insufficient samples")
)

// Rank assigns 1-based ranks to values, averaging the ranks of ties.
func Rank(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	ranks := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && values[idx[j]] == values[idx[i]] {
			j++
		}
		// positions i..j-1 share the mean of ranks i+1..j
		avg := float64(i+1+j) / 2
		for m := i; m < j; m++ {
			ranks[idx[m]] = avg
		}
		i = j
	}
	return ranks
}

// tieGroups returns the sizes of the groups of equal values.
func tieGroups(values []float64) []int {
	counts := map[float64]int{}
	var order []float64
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	groups := make([]int, 0, len(order))
	for _, v := range order {
		groups = append(groups, counts[v])
	}
	return groups
}

// Ranking is the within-block ranking of k treatments over n blocks.
type Ranking struct {
	// BlockRanks[b][c] is the rank of treatment c in block b.
	BlockRanks [][]float64
	// Sums[c] is the rank of treatment c summed over all blocks.
	Sums []float64
	// Ties[b] holds the sizes of the tie groups in block b.
	Ties [][]int
}

// Treatments is k.
func (r Ranking) Treatments() int { return len(r.Sums) }

// Blocks is n.
func (r Ranking) Blocks() int { return len(r.BlockRanks) }

// RankBlocks ranks samples[c][b], the value of treatment c in block b,
// within every block.
func RankBlocks(samples [][]float64) (Ranking, error) {
	if len(samples) == 0 {
		return Ranking{}, ErrNoSamples
	}
	n := len(samples[0])
	for c, s := range samples {
		if len(s) != n {
			return Ranking{}, fmt.Errorf("%w: treatment %d has %d blocks, want %d", ErrRaggedSamples, c, len(s), n)
		}
	}

	k := len(samples)
	r := Ranking{
		BlockRanks: make([][]float64, n),
		Sums:       make([]float64, k),
		Ties:       make([][]int, n),
	}
	block := make([]float64, k)
	for b := 0; b < n; b++ {
		for c := 0; c < k; c++ {
			block[c] = samples[c][b]
		}
		ranks := Rank(block)
		r.BlockRanks[b] = ranks
		r.Ties[b] = tieGroups(ranks)
		for c, rk := range ranks {
			r.Sums[c] += rk
		}
	}
	return r, nil
}
