package deconvolution

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confocal3d/internal/models"
	"confocal3d/pkg/kernels"
)

func TestGaussianPSFNormalizedAndSymmetric(t *testing.T) {
	psf, err := GeneratePSF(PSFOptions{Type: PSFGaussian})
	require.NoError(t, err)

	// Odd extents, unit total intensity.
	assert.Equal(t, 1, psf.Depth%2)
	assert.Equal(t, 1, psf.Height%2)
	assert.Equal(t, 1, psf.Width%2)
	assert.InDelta(t, 1.0, psf.Sum(), 1e-6)

	// 180-degree rotation symmetry.
	flipped := flip180(psf)
	for i := range psf.Data {
		assert.InDelta(t, float64(psf.Data[i]), float64(flipped.Data[i]), 1e-7)
	}

	// Peak at the center.
	center := psf.At(psf.Depth/2, psf.Height/2, psf.Width/2)
	_, max := psf.MinMax()
	assert.Equal(t, max, center)
}

func TestAiryPSF(t *testing.T) {
	psf, err := GeneratePSF(PSFOptions{Type: PSFAiry})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, psf.Sum(), 1e-6)

	center := psf.At(psf.Depth/2, psf.Height/2, psf.Width/2)
	_, max := psf.MinMax()
	assert.Equal(t, max, center)
}

func TestGibsonLanniFallsBackToAiry(t *testing.T) {
	gl, err := GeneratePSF(PSFOptions{Type: PSFGibsonLanni})
	require.NoError(t, err)
	airy, err := GeneratePSF(PSFOptions{Type: PSFAiry})
	require.NoError(t, err)

	require.True(t, gl.SameShape(airy))
	for i := range gl.Data {
		assert.Equal(t, airy.Data[i], gl.Data[i])
	}
}

func TestUnknownPSFType(t *testing.T) {
	_, err := GeneratePSF(PSFOptions{Type: "born-wolf"})
	assert.ErrorIs(t, err, ErrUnknownPSFType)
}

func TestRichardsonLucyZeroIterationsIsIdentity(t *testing.T) {
	v := models.New(8, 8, 8)
	for i := range v.Data {
		v.Data[i] = float32(i % 13)
	}
	psf, err := GeneratePSF(PSFOptions{Type: PSFGaussian, Size: [3]int{5, 5, 5}, SigmaZ: 1, SigmaY: 1, SigmaX: 1})
	require.NoError(t, err)

	out, err := RichardsonLucy(v, psf, RichardsonLucyOptions{Iterations: 0}, nil)
	require.NoError(t, err)
	for i := range v.Data {
		assert.Equal(t, v.Data[i], out.Data[i])
	}
}

// mse measures mean squared error against a reference volume.
func mse(a, b *models.Volume) float64 {
	var sum float64
	for i := range a.Data {
		d := float64(a.Data[i]) - float64(b.Data[i])
		sum += d * d
	}
	return sum / float64(len(a.Data))
}

func TestRichardsonLucyConvergesTowardTruth(t *testing.T) {
	// Ground truth: one bright spot on a dim background.
	truth := models.New(16, 16, 16)
	for i := range truth.Data {
		truth.Data[i] = 1
	}
	truth.Set(8, 8, 8, 500)

	psf, err := GeneratePSF(PSFOptions{Type: PSFGaussian, Size: [3]int{5, 5, 5}, SigmaZ: 1, SigmaY: 1, SigmaX: 1})
	require.NoError(t, err)
	observed := kernels.ConvolveFFT(truth, psf, nil)

	prev := mse(observed, truth)
	for _, iters := range []int{2, 8} {
		restored, err := RichardsonLucy(observed, psf, RichardsonLucyOptions{Iterations: iters, Clip: true}, nil)
		require.NoError(t, err)
		cur := mse(restored, truth)
		assert.Less(t, cur, prev, "mse after %d iterations", iters)
		prev = cur
	}
}

func TestRichardsonLucyClipRemovesNegatives(t *testing.T) {
	v := models.New(8, 8, 8)
	v.Set(4, 4, 4, 100)
	psf, err := GeneratePSF(PSFOptions{Type: PSFGaussian, Size: [3]int{3, 3, 3}, SigmaZ: 0.8, SigmaY: 0.8, SigmaX: 0.8})
	require.NoError(t, err)

	out, err := RichardsonLucy(v, psf, RichardsonLucyOptions{Iterations: 3, Clip: true}, nil)
	require.NoError(t, err)
	for _, s := range out.Data {
		assert.GreaterOrEqual(t, s, float32(0))
	}
}

func TestWienerRestoresShape(t *testing.T) {
	truth := models.New(12, 12, 12)
	truth.Set(6, 6, 6, 200)
	psf, err := GeneratePSF(PSFOptions{Type: PSFGaussian, Size: [3]int{5, 5, 5}, SigmaZ: 1, SigmaY: 1, SigmaX: 1})
	require.NoError(t, err)
	observed := kernels.ConvolveFFT(truth, psf, nil)

	restored, err := Wiener(observed, psf, WienerOptions{NoiseToSignal: 1e-4}, nil)
	require.NoError(t, err)
	require.True(t, restored.SameShape(observed))

	// Deblurring concentrates intensity back toward the spot.
	_, obsMax := observed.MinMax()
	_, resMax := restored.MinMax()
	assert.Greater(t, resMax, obsMax)
	for _, s := range restored.Data {
		assert.GreaterOrEqual(t, s, float32(0))
		assert.False(t, math.IsNaN(float64(s)))
	}
}

func TestWienerEstimatesLambda(t *testing.T) {
	observed := models.New(10, 10, 10)
	for i := range observed.Data {
		observed.Data[i] = float32(i%7) + 1
	}
	psf, err := GeneratePSF(PSFOptions{Type: PSFGaussian, Size: [3]int{3, 3, 3}, SigmaZ: 0.8, SigmaY: 0.8, SigmaX: 0.8})
	require.NoError(t, err)

	restored, err := Wiener(observed, psf, WienerOptions{}, nil)
	require.NoError(t, err)
	assert.True(t, restored.SameShape(observed))
}

func TestEstimatePSFFromBeadsExplicitCoords(t *testing.T) {
	v := models.New(24, 24, 24)
	centers := [][3]int{{8, 8, 8}, {16, 16, 16}}
	for _, c := range centers {
		for dz := -2; dz <= 2; dz++ {
			for dy := -2; dy <= 2; dy++ {
				for dx := -2; dx <= 2; dx++ {
					r2 := float64(dz*dz + dy*dy + dx*dx)
					v.Set(c[0]+dz, c[1]+dy, c[2]+dx, float32(100*math.Exp(-r2/2)))
				}
			}
		}
	}

	psf, err := EstimatePSFFromBeads(v, BeadOptions{Size: 7, Coords: centers}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, psf.Depth)
	assert.Equal(t, 7, psf.Height)
	assert.Equal(t, 7, psf.Width)
	assert.InDelta(t, 1.0, psf.Sum(), 1e-6)

	center := psf.At(3, 3, 3)
	_, max := psf.MinMax()
	assert.Equal(t, max, center)
}

func TestEstimatePSFFromBeadsSkipsClipped(t *testing.T) {
	v := models.New(10, 10, 10)
	v.Set(1, 1, 1, 100)

	// The only bead sits too close to the border for a 7-voxel window.
	_, err := EstimatePSFFromBeads(v, BeadOptions{Size: 7, Coords: [][3]int{{1, 1, 1}}}, nil)
	assert.ErrorIs(t, err, ErrNoBeads)
}
