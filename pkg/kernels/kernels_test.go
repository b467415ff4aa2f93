package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confocal3d/internal/models"
)

func TestGaussianKernel1D(t *testing.T) {
	k := GaussianKernel1D(2)

	// 6 sigma support, odd length, unit sum, symmetric.
	require.Equal(t, 13, len(k))
	var sum float64
	for _, w := range k {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	for i := range k {
		assert.InDelta(t, k[i], k[len(k)-1-i], 1e-15)
	}
	assert.Greater(t, k[6], k[5])
}

func TestGaussianBlurPreservesConstant(t *testing.T) {
	v := models.New(8, 8, 8)
	for i := range v.Data {
		v.Data[i] = 7
	}

	out := GaussianBlur(v, 1.5, nil)
	require.True(t, v.SameShape(out))
	for _, s := range out.Data {
		assert.InDelta(t, 7.0, float64(s), 1e-4)
	}
}

func TestGaussianBlurSpreadsSpike(t *testing.T) {
	v := models.New(9, 9, 9)
	v.Set(4, 4, 4, 1000)

	out := GaussianBlur(v, 1.0, nil)

	// The peak drops, the neighbors rise, total intensity stays put.
	assert.Less(t, out.At(4, 4, 4), v.At(4, 4, 4))
	assert.Greater(t, out.At(4, 4, 5), float32(0))
	assert.InDelta(t, v.Sum(), out.Sum(), v.Sum()*0.01)
}

func TestSetMaxWorkersKeepsResults(t *testing.T) {
	defer SetMaxWorkers(0)

	v := models.New(8, 16, 16)
	for i := range v.Data {
		v.Data[i] = float32(i % 23)
	}
	want := GaussianBlur(v, 1.5, nil)

	SetMaxWorkers(1)
	got := GaussianBlur(v, 1.5, nil)
	assert.Equal(t, want.Data, got.Data)
}

func TestOtsuBinaryVolumeMapsToItself(t *testing.T) {
	v := models.New(4, 4, 4)
	for i := range v.Data {
		if i%3 == 0 {
			v.Data[i] = 1
		}
	}

	threshold, mask := OtsuThreshold(v, 0, nil)
	assert.GreaterOrEqual(t, threshold, float32(0))
	assert.Less(t, threshold, float32(1))
	for i := range v.Data {
		assert.Equal(t, v.Data[i], mask.Data[i], "voxel %d", i)
	}
}

func TestOtsuFlatVolumeIsAllBackground(t *testing.T) {
	v := models.New(3, 3, 3)
	for i := range v.Data {
		v.Data[i] = 5
	}

	_, mask := OtsuThreshold(v, 0, nil)
	for _, s := range mask.Data {
		assert.Equal(t, float32(0), s)
	}
}

func TestOtsuSeparatesBimodal(t *testing.T) {
	v := models.New(4, 8, 8)
	for i := range v.Data {
		if i < len(v.Data)/2 {
			v.Data[i] = 10
		} else {
			v.Data[i] = 200
		}
	}

	threshold, mask := OtsuThreshold(v, 0, nil)
	assert.GreaterOrEqual(t, float64(threshold), 10.0)
	assert.Less(t, float64(threshold), 200.0)
	assert.Equal(t, float32(0), mask.Data[0])
	assert.Equal(t, float32(1), mask.Data[len(mask.Data)-1])
}

func TestConnectedComponentsDenseLabels(t *testing.T) {
	mask := models.New(8, 8, 8)
	// Two well separated boxes.
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				mask.Set(z, y, x, 1)
				mask.Set(z+5, y+5, x+5, 1)
			}
		}
	}

	labels, count := ConnectedComponents(mask, 0, nil)
	require.Equal(t, 2, count)
	require.Equal(t, 2, labels.Count)

	seen := map[int32]bool{}
	for _, l := range labels.Labels {
		if l != 0 {
			seen[l] = true
			assert.True(t, l >= 1 && l <= 2)
		}
	}
	assert.Len(t, seen, 2)
}

func TestConnectedComponentsMinSizeFilter(t *testing.T) {
	mask := models.New(6, 6, 6)
	// One 8-voxel box and one lone voxel.
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				mask.Set(z, y, x, 1)
			}
		}
	}
	mask.Set(5, 5, 5, 1)

	labels, count := ConnectedComponents(mask, 2, nil)
	assert.Equal(t, 1, count)
	assert.Equal(t, int32(0), labels.At(5, 5, 5))
	assert.Equal(t, int32(1), labels.At(0, 0, 0))
}

func TestConnectedComponents26Connectivity(t *testing.T) {
	mask := models.New(4, 4, 4)
	// Two voxels touching only at a corner belong to one component.
	mask.Set(0, 0, 0, 1)
	mask.Set(1, 1, 1, 1)

	_, count := ConnectedComponents(mask, 0, nil)
	assert.Equal(t, 1, count)
}

func TestFillHoles(t *testing.T) {
	mask := models.New(5, 5, 5)
	// Hollow 3x3x3 shell around the center.
	for z := 1; z <= 3; z++ {
		for y := 1; y <= 3; y++ {
			for x := 1; x <= 3; x++ {
				mask.Set(z, y, x, 1)
			}
		}
	}
	mask.Set(2, 2, 2, 0)

	filled := FillHoles(mask)
	assert.Equal(t, float32(1), filled.At(2, 2, 2))
	// Exterior background stays background.
	assert.Equal(t, float32(0), filled.At(0, 0, 0))
}

func TestGradientMagnitudeConstantIsZero(t *testing.T) {
	v := models.New(5, 5, 5)
	for i := range v.Data {
		v.Data[i] = 3
	}

	g := GradientMagnitude(v, nil)
	for _, s := range g.Data {
		assert.Equal(t, float32(0), s)
	}
}

func TestGradientMagnitudeDetectsStep(t *testing.T) {
	v := models.New(5, 5, 10)
	for z := 0; z < 5; z++ {
		for y := 0; y < 5; y++ {
			for x := 5; x < 10; x++ {
				v.Set(z, y, x, 100)
			}
		}
	}

	g := GradientMagnitude(v, nil)
	assert.Greater(t, g.At(2, 2, 4), float32(0))
	assert.Equal(t, float32(0), g.At(2, 2, 1))
}

func TestLaplacianConstantIsZero(t *testing.T) {
	v := models.New(4, 4, 4)
	for i := range v.Data {
		v.Data[i] = 9
	}

	lap := Laplacian(v)
	for _, s := range lap.Data {
		assert.Equal(t, float32(0), s)
	}
}

func TestLocalMinimaFindsBowl(t *testing.T) {
	v := models.New(9, 9, 9)
	for z := 0; z < 9; z++ {
		for y := 0; y < 9; y++ {
			for x := 0; x < 9; x++ {
				dz, dy, dx := float64(z-4), float64(y-4), float64(x-4)
				v.Set(z, y, x, float32(dz*dz+dy*dy+dx*dx))
			}
		}
	}

	peaks := LocalMinima(v, 1, nil)
	require.Len(t, peaks, 1)
	assert.Equal(t, 4, peaks[0].Z)
	assert.Equal(t, 4, peaks[0].Y)
	assert.Equal(t, 4, peaks[0].X)
}

func TestLocalMinimaSuppression(t *testing.T) {
	v := models.New(3, 3, 20)
	for i := range v.Data {
		v.Data[i] = 10
	}
	// Two dips four voxels apart, one deeper.
	v.Set(1, 1, 5, 1)
	v.Set(1, 1, 9, 2)

	suppressed := LocalMinima(v, 10, nil)
	require.Len(t, suppressed, 1)
	assert.Equal(t, 5, suppressed[0].X)

	separate := LocalMinima(v, 3, nil)
	assert.Len(t, separate, 2)
}

func TestRollingBallRemovesFlatBackground(t *testing.T) {
	v := models.New(9, 9, 9)
	for i := range v.Data {
		v.Data[i] = 10
	}
	v.Set(4, 4, 4, 100)

	out := RollingBallBackground(v, 3, nil)
	assert.InDelta(t, 90, float64(out.At(4, 4, 4)), 1e-3)
	assert.InDelta(t, 0, float64(out.At(0, 0, 0)), 1e-3)
}

func TestFFTRoundTrip(t *testing.T) {
	v := models.New(4, 6, 8)
	for i := range v.Data {
		v.Data[i] = float32(math.Sin(float64(i) * 0.37))
	}

	coeff := FFT3(v)
	back := IFFT3Real(coeff, v.Depth, v.Height, v.Width)
	for i := range v.Data {
		assert.InDelta(t, float64(v.Data[i]), float64(back.Data[i]), 1e-5)
	}
}

func TestConvolveFFTMatchesDirect(t *testing.T) {
	v := models.New(5, 5, 5)
	for i := range v.Data {
		v.Data[i] = float32((i*37)%11) / 10
	}
	k := models.New(3, 3, 3)
	for i := range k.Data {
		k.Data[i] = float32((i*13)%7) / 7
	}

	got := ConvolveFFT(v, k, nil)
	want := convolveDirect(v, k)
	for i := range want.Data {
		assert.InDelta(t, float64(want.Data[i]), float64(got.Data[i]), 1e-3, "voxel %d", i)
	}
}

// convolveDirect is the O(n*k) reference: "same" linear convolution with
// zero padding, kernel centered.
func convolveDirect(v, k *models.Volume) *models.Volume {
	out := models.New(v.Depth, v.Height, v.Width)
	oz, oy, ox := k.Depth/2, k.Height/2, k.Width/2
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				var sum float64
				for kz := 0; kz < k.Depth; kz++ {
					for ky := 0; ky < k.Height; ky++ {
						for kx := 0; kx < k.Width; kx++ {
							sz, sy, sx := z+oz-kz, y+oy-ky, x+ox-kx
							if sz < 0 || sz >= v.Depth || sy < 0 || sy >= v.Height || sx < 0 || sx >= v.Width {
								continue
							}
							sum += float64(v.At(sz, sy, sx)) * float64(k.At(kz, ky, kx))
						}
					}
				}
				out.Set(z, y, x, float32(sum))
			}
		}
	}
	return out
}

func TestConvolveFFTDeltaKernelIsIdentity(t *testing.T) {
	v := models.New(4, 4, 4)
	for i := range v.Data {
		v.Data[i] = float32(i)
	}
	delta := models.New(3, 3, 3)
	delta.Set(1, 1, 1, 1)

	out := ConvolveFFT(v, delta, nil)
	for i := range v.Data {
		assert.InDelta(t, float64(v.Data[i]), float64(out.Data[i]), 1e-4)
	}
}
