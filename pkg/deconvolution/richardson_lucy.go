package deconvolution

import (
	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
	"confocal3d/pkg/kernels"
)

// ratioFloor keeps the Richardson-Lucy ratio finite on empty regions.
const ratioFloor = 1e-10

// RichardsonLucyOptions configures RichardsonLucy.
type RichardsonLucyOptions struct {
	// Iterations is the number of multiplicative updates; zero returns
	// the observation unchanged.
	Iterations int

	// Clip zeroes negative intensities after every update. FFT round-off
	// can push near-zero voxels slightly negative.
	Clip bool
}

// RichardsonLucy restores a volume by iterative maximum-likelihood
// deconvolution under Poisson noise. Each iteration convolves the current
// estimate with the PSF, compares against the observation and reconvolves
// the ratio with the flipped PSF:
//
//	estimate *= conv(observed / (conv(estimate, psf) + eps), flip(psf))
//
// Zero iterations return a copy of the observation.
func RichardsonLucy(observed, psf *models.Volume, opts RichardsonLucyOptions, progress func(float64)) (*models.Volume, error) {
	if opts.Iterations < 0 {
		opts.Iterations = 0
	}

	psfNorm, err := NormalizePSF(psf.Clone())
	if err != nil {
		return nil, err
	}
	flipped := flip180(psfNorm)

	estimate := observed.Clone()
	if opts.Iterations == 0 {
		report(progress, 1)
		return estimate, nil
	}

	ratio := models.New(observed.Depth, observed.Height, observed.Width)
	for iter := 0; iter < opts.Iterations; iter++ {
		blurred := kernels.ConvolveFFT(estimate, psfNorm, nil)
		for i := range ratio.Data {
			ratio.Data[i] = observed.Data[i] / (blurred.Data[i] + ratioFloor)
		}
		update := kernels.ConvolveFFT(ratio, flipped, nil)
		for i := range estimate.Data {
			estimate.Data[i] *= update.Data[i]
			if opts.Clip && estimate.Data[i] < 0 {
				estimate.Data[i] = 0
			}
		}
		report(progress, float64(iter+1)/float64(opts.Iterations))
	}

	log.Info().Int("iterations", opts.Iterations).Msg("richardson-lucy deconvolution complete")
	return estimate, nil
}

// report invokes a progress callback if supplied.
func report(progress func(float64), frac float64) {
	if progress != nil {
		progress(frac)
	}
}
