package kernels

import (
	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
)

// DefaultHistogramBins is the histogram resolution used when callers pass
// bins <= 0.
const DefaultHistogramBins = 256

// OtsuThreshold picks the threshold maximizing inter-class variance over a
// histogram of the min/max-normalized input, then rescales it to original
// intensity units. The returned mask marks voxels strictly above the
// threshold, so an already-binary volume maps onto itself.
func OtsuThreshold(v *models.Volume, bins int, progress func(float64)) (float32, *models.Volume) {
	if bins <= 0 {
		bins = DefaultHistogramBins
	}
	report(progress, 0)

	min, max := v.MinMax()
	span := float64(max - min)
	if span == 0 {
		// Flat volume: everything is background.
		mask := models.New(v.Depth, v.Height, v.Width)
		report(progress, 1)
		return min, mask
	}

	hist := make([]float64, bins)
	scale := float64(bins-1) / span
	for _, s := range v.Data {
		idx := int(float64(s-min) * scale)
		if idx < 0 {
			idx = 0
		} else if idx >= bins {
			idx = bins - 1
		}
		hist[idx]++
	}
	report(progress, 0.5)

	total := float64(len(v.Data))
	var sumTotal float64
	for i, h := range hist {
		sumTotal += float64(i) * h
	}

	// Running weighted sums over the background class; the split with the
	// largest inter-class variance wins.
	var weightBG, sumBG, bestVariance float64
	bestIdx := 0
	for i := 0; i < bins; i++ {
		weightBG += hist[i]
		if weightBG == 0 {
			continue
		}
		weightFG := total - weightBG
		if weightFG == 0 {
			break
		}
		sumBG += float64(i) * hist[i]
		meanBG := sumBG / weightBG
		meanFG := (sumTotal - sumBG) / weightFG
		diff := meanBG - meanFG
		variance := weightBG * weightFG * diff * diff
		if variance > bestVariance {
			bestVariance = variance
			bestIdx = i
		}
	}
	report(progress, 0.8)

	threshold := min + float32(float64(bestIdx)/float64(bins-1)*span)

	mask := models.New(v.Depth, v.Height, v.Width)
	for i, s := range v.Data {
		if s > threshold {
			mask.Data[i] = 1
		}
	}
	report(progress, 1)

	log.Debug().Float32("threshold", threshold).Int("bins", bins).Msg("otsu threshold selected")
	return threshold, mask
}
