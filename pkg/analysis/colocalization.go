// Package analysis implements the quantitative measurements of the engine:
// two-channel colocalization, intensity statistics, 3D object morphology
// and Z-profile / photobleaching analysis.
package analysis

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"confocal3d/internal/models"
)

var (
	// ErrShapeMismatch reports channels with different spatial shapes.
	ErrShapeMismatch = errors.New("analysis: channel shapes do not match")

	// ErrMissingLabels reports a per-object analysis without labels.
	ErrMissingLabels = errors.New("analysis: labeled volume required")
)

// epsilon guards every division in the colocalization metrics.
const epsilon = 1e-10

// ColocalizationOptions configures Colocalization.
type ColocalizationOptions struct {
	// Mask restricts the analysis to nonzero voxels when set.
	Mask *models.Volume

	// ThresholdCh1/ThresholdCh2 override the automatic per-channel
	// thresholds when the Has flags are set.
	ThresholdCh1, ThresholdCh2 float64
	HasThresholdCh1            bool
	HasThresholdCh2            bool
}

// ColocalizationResult carries the standard colocalization coefficients.
type ColocalizationResult struct {
	PearsonR     float64
	MandersM1    float64
	MandersM2    float64
	Overlap      float64
	ThresholdCh1 float64
	ThresholdCh2 float64
}

// Colocalization quantifies spatial co-occurrence of two identically shaped
// channels: Pearson correlation over the (optionally masked) voxels,
// Manders' M1/M2 against per-channel thresholds, and a Jaccard-style
// overlap of the two thresholded masks.
//
// Unsupplied thresholds default to the median of each channel's strictly
// positive intensities. This is a deliberate simplification of the Costes
// automatic threshold, not the full iterative search; results record the
// thresholds used so callers can supply their own.
func Colocalization(ch1, ch2 *models.Volume, opts ColocalizationOptions, progress func(float64)) (*ColocalizationResult, error) {
	if !ch1.SameShape(ch2) {
		return nil, fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", ErrShapeMismatch,
			ch1.Depth, ch1.Height, ch1.Width, ch2.Depth, ch2.Height, ch2.Width)
	}
	reportAt(progress, 0)

	// Gather the voxels under analysis once.
	n := ch1.VoxelCount()
	a := make([]float64, 0, n)
	b := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if opts.Mask != nil && opts.Mask.Data[i] == 0 {
			continue
		}
		a = append(a, float64(ch1.Data[i]))
		b = append(b, float64(ch2.Data[i]))
	}
	reportAt(progress, 0.2)

	pearson := stat.Correlation(a, b, nil)
	reportAt(progress, 0.5)

	t1, t2 := opts.ThresholdCh1, opts.ThresholdCh2
	if !opts.HasThresholdCh1 {
		t1 = medianPositive(a)
	}
	if !opts.HasThresholdCh2 {
		t2 = medianPositive(b)
	}
	log.Debug().Float64("threshold_ch1", t1).Float64("threshold_ch2", t2).Msg("colocalization thresholds")
	reportAt(progress, 0.7)

	var sum1Above, sum1Coloc float64
	var sum2Above, sum2Coloc float64
	var n1, n2, nBoth float64
	for i := range a {
		above1 := a[i] >= t1
		above2 := b[i] >= t2
		if above1 {
			sum1Above += a[i]
			n1++
			if above2 {
				sum1Coloc += a[i]
			}
		}
		if above2 {
			sum2Above += b[i]
			n2++
			if above1 {
				sum2Coloc += b[i]
			}
		}
		if above1 && above2 {
			nBoth++
		}
	}
	reportAt(progress, 0.9)

	result := &ColocalizationResult{
		PearsonR:     pearson,
		MandersM1:    sum1Coloc / (sum1Above + epsilon),
		MandersM2:    sum2Coloc / (sum2Above + epsilon),
		Overlap:      nBoth / (n1 + n2 - nBoth + epsilon),
		ThresholdCh1: t1,
		ThresholdCh2: t2,
	}
	reportAt(progress, 1)

	log.Info().
		Float64("pearson", result.PearsonR).
		Float64("m1", result.MandersM1).
		Float64("m2", result.MandersM2).
		Msg("colocalization complete")
	return result, nil
}

// medianPositive returns the median of the strictly positive values, or 0
// when there are none.
func medianPositive(values []float64) float64 {
	pos := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			pos = append(pos, v)
		}
	}
	if len(pos) == 0 {
		return 0
	}
	sort.Float64s(pos)
	return stat.Quantile(0.5, stat.Empirical, pos, nil)
}

// reportAt invokes a progress callback if supplied.
func reportAt(progress func(float64), frac float64) {
	if progress != nil {
		progress(frac)
	}
}
