package deconvolution

import (
	"math/cmplx"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"confocal3d/internal/models"
	"confocal3d/pkg/kernels"
)

// WienerOptions configures Wiener.
type WienerOptions struct {
	// NoiseToSignal is the regularization constant lambda. When zero or
	// negative it is estimated from the data: noise variance from the
	// volume's corner cubes over signal variance of the whole volume.
	NoiseToSignal float64
}

// Wiener restores a volume with a regularized inverse filter in the
// frequency domain:
//
//	F = conj(H) * G / (|H|^2 + lambda)
//
// where H is the PSF spectrum and G the observation spectrum. Negative
// output intensities are clipped to zero.
func Wiener(observed, psf *models.Volume, opts WienerOptions, progress func(float64)) (*models.Volume, error) {
	report(progress, 0)

	lambda := opts.NoiseToSignal
	if lambda <= 0 {
		lambda = estimateNoiseToSignal(observed)
		log.Debug().Float64("lambda", lambda).Msg("wiener: estimated noise-to-signal ratio")
	}

	psfNorm, err := NormalizePSF(psf.Clone())
	if err != nil {
		return nil, err
	}
	padded := padPSFToOrigin(psfNorm, observed.Depth, observed.Height, observed.Width)
	report(progress, 0.2)

	h := kernels.FFT3(padded)
	g := kernels.FFT3(observed)
	report(progress, 0.6)

	for i := range g {
		hi := h[i]
		denom := real(hi)*real(hi) + imag(hi)*imag(hi) + lambda
		g[i] = cmplx.Conj(hi) * g[i] / complex(denom, 0)
	}
	report(progress, 0.8)

	out := kernels.IFFT3Real(g, observed.Depth, observed.Height, observed.Width)
	for i, s := range out.Data {
		if s < 0 {
			out.Data[i] = 0
		}
	}
	report(progress, 1)

	log.Info().Float64("lambda", lambda).Msg("wiener deconvolution complete")
	return out, nil
}

// estimateNoiseToSignal takes the noise variance as the pooled variance of
// the volume's eight corner cubes, each min(dims)/10 voxels on a side, and
// the signal variance over the whole volume.
func estimateNoiseToSignal(v *models.Volume) float64 {
	size := v.Depth
	if v.Height < size {
		size = v.Height
	}
	if v.Width < size {
		size = v.Width
	}
	size /= 10
	if size < 1 {
		size = 1
	}

	var corner []float64
	for _, z0 := range []int{0, v.Depth - size} {
		for _, y0 := range []int{0, v.Height - size} {
			for _, x0 := range []int{0, v.Width - size} {
				for z := z0; z < z0+size; z++ {
					for y := y0; y < y0+size; y++ {
						for x := x0; x < x0+size; x++ {
							corner = append(corner, float64(v.At(z, y, x)))
						}
					}
				}
			}
		}
	}

	noiseVar := stat.PopVariance(corner, nil)
	signalVar := stat.PopVariance(v.Float64(), nil)
	if signalVar <= 0 {
		return 0.01
	}
	lambda := noiseVar / signalVar
	if lambda <= 0 {
		lambda = 1e-6
	}
	return lambda
}

// padPSFToOrigin embeds a PSF into a volume-sized buffer with its center
// circularly shifted to the origin, matching the DFT's periodic convolution
// convention.
func padPSFToOrigin(psf *models.Volume, depth, height, width int) *models.Volume {
	out := models.New(depth, height, width)
	cz, cy, cx := psf.Depth/2, psf.Height/2, psf.Width/2
	for z := 0; z < psf.Depth; z++ {
		oz := ((z - cz) + depth) % depth
		for y := 0; y < psf.Height; y++ {
			oy := ((y - cy) + height) % height
			for x := 0; x < psf.Width; x++ {
				ox := ((x - cx) + width) % width
				out.Set(oz, oy, ox, psf.At(z, y, x))
			}
		}
	}
	return out
}
