package deconvolution

import (
	"errors"

	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
	"confocal3d/pkg/segmentation"
)

// ErrNoBeads reports that no usable bead could be extracted.
var ErrNoBeads = errors.New("deconvolution: no usable beads found")

// BeadOptions configures EstimatePSFFromBeads.
type BeadOptions struct {
	// Size is the cubic extraction window in voxels; even values are
	// bumped to odd. Default 15.
	Size int

	// Coords are explicit bead centers (z, y, x). When empty, beads are
	// detected automatically with a small-scale blob search.
	Coords [][3]int

	// Detection overrides the automatic blob detector settings; the zero
	// value selects defaults tuned for sub-resolution beads.
	Detection segmentation.BlobOptions
}

// EstimatePSFFromBeads measures an empirical PSF from an image of
// sub-resolution fluorescent beads: extract a window around each bead,
// discard windows clipped by the volume border, normalize each to unit
// intensity and average them. The result is normalized to unit total
// intensity.
func EstimatePSFFromBeads(v *models.Volume, opts BeadOptions, progress func(float64)) (*models.Volume, error) {
	size := opts.Size
	if size <= 0 {
		size = 15
	}
	size = oddAtLeast(size)
	half := size / 2
	report(progress, 0)

	coords := opts.Coords
	if len(coords) == 0 {
		det := opts.Detection
		if det == (segmentation.BlobOptions{}) {
			det = segmentation.BlobOptions{MinSigma: 1, MaxSigma: 4, NumSigma: 5, Threshold: 0.05, Overlap: 0.5}
		}
		blobs := segmentation.DetectBlobs(v, det, scaledReport(progress, 0, 0.5))
		for _, b := range blobs {
			coords = append(coords, [3]int{b.Z, b.Y, b.X})
		}
		log.Debug().Int("beads", len(coords)).Msg("detected bead candidates")
	}
	report(progress, 0.5)

	sum := models.New(size, size, size)
	used := 0
	for i, c := range coords {
		z, y, x := c[0], c[1], c[2]
		if z-half < 0 || z+half >= v.Depth ||
			y-half < 0 || y+half >= v.Height ||
			x-half < 0 || x+half >= v.Width {
			continue
		}

		var total float64
		for dz := -half; dz <= half; dz++ {
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					total += float64(v.At(z+dz, y+dy, x+dx))
				}
			}
		}
		if total <= 0 {
			continue
		}

		inv := float32(1 / total)
		for dz := -half; dz <= half; dz++ {
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					idx := sum.Index(dz+half, dy+half, dx+half)
					sum.Data[idx] += v.At(z+dz, y+dy, x+dx) * inv
				}
			}
		}
		used++
		report(progress, 0.5+0.5*float64(i+1)/float64(len(coords)))
	}

	if used == 0 {
		return nil, ErrNoBeads
	}
	log.Info().Int("beads", used).Int("size", size).Msg("empirical psf estimated")
	report(progress, 1)
	return NormalizePSF(sum)
}

// scaledReport maps an inner callback's [0, 1] range onto [lo, hi] of the
// outer callback.
func scaledReport(progress func(float64), lo, hi float64) func(float64) {
	if progress == nil {
		return nil
	}
	return func(frac float64) {
		progress(lo + frac*(hi-lo))
	}
}
