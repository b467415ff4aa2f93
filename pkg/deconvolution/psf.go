// Package deconvolution restores confocal volumes degraded by the
// microscope's point spread function: PSF models, Richardson-Lucy iteration,
// Wiener filtering and empirical PSF estimation from bead images.
package deconvolution

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
)

var (
	// ErrUnknownPSFType reports a PSF model outside
	// {gaussian, airy, gibson-lanni}.
	ErrUnknownPSFType = errors.New("deconvolution: unknown psf type")

	// ErrInvalidPSF reports a PSF with no positive mass.
	ErrInvalidPSF = errors.New("deconvolution: psf has no positive mass")
)

// PSF model names.
const (
	PSFGaussian    = "gaussian"
	PSFAiry        = "airy"
	PSFGibsonLanni = "gibson-lanni"
)

// PSFOptions configures GeneratePSF. Zero values select the defaults of a
// typical high-NA oil objective imaging GFP.
type PSFOptions struct {
	// Type is "gaussian" (default), "airy" or "gibson-lanni".
	Type string

	// Size is the PSF extent in voxels (z, y, x); even values are bumped
	// to the next odd. Zero derives the size from the model parameters.
	Size [3]int

	// SigmaZ/SigmaY/SigmaX are the Gaussian model widths in voxels.
	// Defaults: 2, 1, 1.
	SigmaZ, SigmaY, SigmaX float64

	// Wavelength is the emission wavelength in micrometers (default 0.52).
	Wavelength float64

	// NA is the objective numerical aperture (default 1.4).
	NA float64

	// RefractiveIndex of the immersion medium (default 1.518).
	RefractiveIndex float64

	// Voxel is the physical voxel size (default 0.1 x 0.1 x 0.2 um).
	Voxel models.Spacing
}

func (o *PSFOptions) applyDefaults() {
	if o.Type == "" {
		o.Type = PSFGaussian
	}
	if o.SigmaZ <= 0 {
		o.SigmaZ = 2
	}
	if o.SigmaY <= 0 {
		o.SigmaY = 1
	}
	if o.SigmaX <= 0 {
		o.SigmaX = 1
	}
	if o.Wavelength <= 0 {
		o.Wavelength = 0.52
	}
	if o.NA <= 0 {
		o.NA = 1.4
	}
	if o.RefractiveIndex <= 0 {
		o.RefractiveIndex = 1.518
	}
	if o.Voxel.X <= 0 {
		o.Voxel.X = 0.1
	}
	if o.Voxel.Y <= 0 {
		o.Voxel.Y = 0.1
	}
	if o.Voxel.Z <= 0 {
		o.Voxel.Z = 0.2
	}
}

// Resolved returns a copy of the options with defaults filled in, so
// callers can report the values a generated PSF actually used.
func (o PSFOptions) Resolved() PSFOptions {
	o.applyDefaults()
	return o
}

// GeneratePSF builds a synthetic point spread function, normalized to unit
// total intensity. The gibson-lanni model is not implemented and falls back
// to the airy model with a warning.
func GeneratePSF(opts PSFOptions) (*models.Volume, error) {
	opts.applyDefaults()

	switch opts.Type {
	case PSFGaussian:
		return gaussianPSF(opts)
	case PSFAiry:
		return airyPSF(opts)
	case PSFGibsonLanni:
		log.Warn().Msg("gibson-lanni psf model not implemented, using airy approximation")
		return airyPSF(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPSFType, opts.Type)
	}
}

// oddAtLeast rounds n up to the nearest odd value >= 3.
func oddAtLeast(n int) int {
	if n < 3 {
		n = 3
	}
	if n%2 == 0 {
		n++
	}
	return n
}

func gaussianPSF(opts PSFOptions) (*models.Volume, error) {
	size := opts.Size
	if size[0] <= 0 {
		size[0] = int(math.Ceil(3*opts.SigmaZ))*2 + 1
	}
	if size[1] <= 0 {
		size[1] = int(math.Ceil(3*opts.SigmaY))*2 + 1
	}
	if size[2] <= 0 {
		size[2] = int(math.Ceil(3*opts.SigmaX))*2 + 1
	}
	d, h, w := oddAtLeast(size[0]), oddAtLeast(size[1]), oddAtLeast(size[2])

	psf := models.New(d, h, w)
	cz, cy, cx := d/2, h/2, w/2
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dz := float64(z-cz) / opts.SigmaZ
				dy := float64(y-cy) / opts.SigmaY
				dx := float64(x-cx) / opts.SigmaX
				psf.Set(z, y, x, float32(math.Exp(-0.5*(dz*dz+dy*dy+dx*dx))))
			}
		}
	}
	return NormalizePSF(psf)
}

// airyPSF approximates the diffraction-limited widefield PSF: an Airy disk
// laterally and the paraxial sinc^2 profile axially.
func airyPSF(opts PSFOptions) (*models.Volume, error) {
	// Rayleigh lateral radius and axial extent in micrometers.
	rLateral := 0.61 * opts.Wavelength / opts.NA
	rAxial := 2 * opts.Wavelength * opts.RefractiveIndex / (opts.NA * opts.NA)

	size := opts.Size
	if size[0] <= 0 {
		size[0] = int(math.Ceil(2*rAxial/opts.Voxel.Z))*2 + 1
	}
	if size[1] <= 0 {
		size[1] = int(math.Ceil(2*rLateral/opts.Voxel.Y))*2 + 1
	}
	if size[2] <= 0 {
		size[2] = int(math.Ceil(2*rLateral/opts.Voxel.X))*2 + 1
	}
	d, h, w := oddAtLeast(size[0]), oddAtLeast(size[1]), oddAtLeast(size[2])

	psf := models.New(d, h, w)
	cz, cy, cx := d/2, h/2, w/2
	for z := 0; z < d; z++ {
		// u is the dimensionless axial coordinate of the paraxial model.
		pz := float64(z-cz) * opts.Voxel.Z
		u := 2 * math.Pi * opts.NA * opts.NA * pz / (opts.Wavelength * opts.RefractiveIndex)
		axial := sinc(u / 4)
		axial *= axial

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				py := float64(y-cy) * opts.Voxel.Y
				px := float64(x-cx) * opts.Voxel.X
				r := math.Hypot(py, px)
				// v is the dimensionless radial coordinate; the Airy
				// pattern is (2 J1(v)/v)^2.
				v := 2 * math.Pi * opts.NA * r / opts.Wavelength
				lateral := 1.0
				if v != 0 {
					j := 2 * math.J1(v) / v
					lateral = j * j
				}
				psf.Set(z, y, x, float32(axial*lateral))
			}
		}
	}
	return NormalizePSF(psf)
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(x) / x
}

// NormalizePSF scales a PSF to unit total intensity, returning the same
// volume.
func NormalizePSF(psf *models.Volume) (*models.Volume, error) {
	sum := psf.Sum()
	if sum <= 0 {
		return nil, ErrInvalidPSF
	}
	inv := float32(1 / sum)
	for i := range psf.Data {
		psf.Data[i] *= inv
	}
	return psf, nil
}

// flip180 returns the PSF mirrored along every axis, the adjoint kernel of
// the Richardson-Lucy update.
func flip180(psf *models.Volume) *models.Volume {
	out := models.New(psf.Depth, psf.Height, psf.Width)
	for z := 0; z < psf.Depth; z++ {
		for y := 0; y < psf.Height; y++ {
			for x := 0; x < psf.Width; x++ {
				out.Set(psf.Depth-1-z, psf.Height-1-y, psf.Width-1-x, psf.At(z, y, x))
			}
		}
	}
	return out
}
