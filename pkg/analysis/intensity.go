package analysis

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"confocal3d/internal/models"
)

// Stats summarizes the intensity distribution of a set of voxels.
type Stats struct {
	Mean   float64
	Std    float64
	Min    float64
	Max    float64
	Median float64
	Total  float64
}

// ObjectStats is the intensity summary of one labeled object.
type ObjectStats struct {
	ObjectID   int
	VoxelCount int
	Stats
}

// IntensityResult holds global statistics and, when labels were supplied,
// per-object statistics plus their aggregates.
type IntensityResult struct {
	Global  Stats
	Objects []ObjectStats

	// MeanOfObjectMeans and StdOfObjectMeans aggregate the per-object
	// means; zero when Objects is empty.
	MeanOfObjectMeans float64
	StdOfObjectMeans  float64
}

// IntensityStatistics computes intensity statistics over a volume. With a
// nil labels argument only the global statistics are filled; otherwise one
// ObjectStats entry is produced per label, ordered by object id.
func IntensityStatistics(v *models.Volume, labels *models.Labeled, progress func(float64)) *IntensityResult {
	reportAt(progress, 0)

	result := &IntensityResult{Global: summarize(v.Float64())}
	reportAt(progress, 0.4)

	if labels == nil || labels.Count == 0 {
		reportAt(progress, 1)
		return result
	}

	perObject := make([][]float64, labels.Count)
	for i, l := range labels.Labels {
		if l != 0 {
			perObject[l-1] = append(perObject[l-1], float64(v.Data[i]))
		}
	}
	reportAt(progress, 0.6)

	means := make([]float64, 0, labels.Count)
	result.Objects = make([]ObjectStats, 0, labels.Count)
	for i, vals := range perObject {
		if len(vals) == 0 {
			continue
		}
		s := summarize(vals)
		result.Objects = append(result.Objects, ObjectStats{
			ObjectID:   i + 1,
			VoxelCount: len(vals),
			Stats:      s,
		})
		means = append(means, s.Mean)
		reportAt(progress, 0.6+0.4*float64(i+1)/float64(labels.Count))
	}

	if len(means) > 0 {
		result.MeanOfObjectMeans = stat.Mean(means, nil)
		if len(means) > 1 {
			result.StdOfObjectMeans = stat.StdDev(means, nil)
		}
	}
	reportAt(progress, 1)
	return result
}

// summarize computes Stats over values. The slice is sorted in place for
// the median.
func summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	var s Stats
	s.Mean = stat.Mean(values, nil)
	if len(values) > 1 {
		s.Std = stat.StdDev(values, nil)
	}
	s.Min, s.Max = values[0], values[0]
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		s.Total += v
	}
	sort.Float64s(values)
	s.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	return s
}
