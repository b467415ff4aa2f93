// Package segmentation provides one-shot, stateless 3D segmentation:
// threshold segmentation with morphological cleanup, marker-based
// watershed, and multi-scale Laplacian-of-Gaussian blob detection.
package segmentation

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
	"confocal3d/pkg/kernels"
)

var (
	// ErrUnknownMethod reports a thresholding method outside
	// {otsu, manual}.
	ErrUnknownMethod = errors.New("segmentation: unknown method")

	// ErrMissingThreshold reports a manual threshold request without a
	// threshold value.
	ErrMissingThreshold = errors.New("segmentation: manual method requires a threshold value")
)

// Threshold methods.
const (
	MethodOtsu   = "otsu"
	MethodManual = "manual"
)

// ThresholdOptions configures Threshold.
type ThresholdOptions struct {
	// Method is "otsu" (default) or "manual".
	Method string

	// Value is the manual threshold; ignored for Otsu.
	Value float64

	// HasValue marks Value as supplied.
	HasValue bool

	// MinObjectSize removes components below this voxel count.
	MinObjectSize int

	// FillHoles fills interior cavities before labeling.
	FillHoles bool

	// HistogramBins overrides the Otsu histogram resolution (0 = default).
	HistogramBins int
}

// ThresholdResult is the labeled volume plus the segmentation summary.
type ThresholdResult struct {
	Labels      *models.Labeled
	Threshold   float64
	ObjectCount int

	// VoxelCounts[i] is the size of label i+1.
	VoxelCounts []int

	// Centroids[i] is the (z, y, x) centroid of label i+1 in voxel
	// coordinates.
	Centroids [][3]float64
}

// Threshold segments a volume by intensity: pick a threshold (Otsu or
// manual), optionally fill interior holes, label 26-connected components,
// drop components under MinObjectSize and relabel densely from 1.
func Threshold(v *models.Volume, opts ThresholdOptions, progress func(float64)) (*ThresholdResult, error) {
	if opts.Method == "" {
		opts.Method = MethodOtsu
	}

	var threshold float64
	var mask *models.Volume
	switch opts.Method {
	case MethodOtsu:
		t, m := kernels.OtsuThreshold(v, opts.HistogramBins, scaled(progress, 0, 0.3))
		threshold, mask = float64(t), m
	case MethodManual:
		if !opts.HasValue {
			return nil, ErrMissingThreshold
		}
		threshold = opts.Value
		mask = models.New(v.Depth, v.Height, v.Width)
		// Manual thresholds are inclusive: a voxel exactly at the
		// requested value is foreground.
		for i, s := range v.Data {
			if float64(s) >= threshold {
				mask.Data[i] = 1
			}
		}
		reportAt(progress, 0.3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, opts.Method)
	}

	if opts.FillHoles {
		mask = kernels.FillHoles(mask)
	}
	reportAt(progress, 0.5)

	labels, count := kernels.ConnectedComponents(mask, opts.MinObjectSize, scaled(progress, 0.5, 0.9))

	counts := make([]int, count)
	sums := make([][3]float64, count)
	for z := 0; z < labels.Depth; z++ {
		for y := 0; y < labels.Height; y++ {
			for x := 0; x < labels.Width; x++ {
				l := labels.At(z, y, x)
				if l == 0 {
					continue
				}
				i := int(l) - 1
				counts[i]++
				sums[i][0] += float64(z)
				sums[i][1] += float64(y)
				sums[i][2] += float64(x)
			}
		}
	}
	centroids := make([][3]float64, count)
	for i, n := range counts {
		if n > 0 {
			centroids[i] = [3]float64{sums[i][0] / float64(n), sums[i][1] / float64(n), sums[i][2] / float64(n)}
		}
	}
	reportAt(progress, 1)

	log.Info().
		Str("method", opts.Method).
		Float64("threshold", threshold).
		Int("objects", count).
		Msg("threshold segmentation complete")

	return &ThresholdResult{
		Labels:      labels,
		Threshold:   threshold,
		ObjectCount: count,
		VoxelCounts: counts,
		Centroids:   centroids,
	}, nil
}

// reportAt invokes a progress callback if supplied.
func reportAt(progress func(float64), frac float64) {
	if progress != nil {
		progress(frac)
	}
}

// scaled maps an inner callback's [0, 1] range onto [lo, hi] of the outer
// callback.
func scaled(progress func(float64), lo, hi float64) func(float64) {
	if progress == nil {
		return nil
	}
	return func(frac float64) {
		progress(lo + frac*(hi-lo))
	}
}
