package store

import (
	"sort"

	"github.com/vk/sweepgridgo/internal/model"
)

// SortBatches orders batches newest first and applies the limit.
func SortBatches(batches []*model.Batch, limit int) []*model.Batch {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].DateStarted.After(batches[j].DateStarted)
	})
	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}
	return batches
}

// SortExperiments orders experiments by start date, then ID.
func SortExperiments(experiments []*model.Experiment) []*model.Experiment {
	sort.SliceStable(experiments, func(i, j int) bool {
		a, b := experiments[i], experiments[j]
		if !a.DateStarted.Equal(b.DateStarted) {
			return a.DateStarted.Before(b.DateStarted)
		}
		return a.ID < b.ID
	})
	return experiments
}
