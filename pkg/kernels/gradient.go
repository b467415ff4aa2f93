package kernels

import (
	"math"

	"confocal3d/internal/models"
)

// Directional 3×3×3 Sobel kernels, normalized by the kernel weight sum so
// gradients stay in the input intensity range.
var (
	sobelX = [3][3][3]float64{
		{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}},
		{{-2, 0, 2}, {-4, 0, 4}, {-2, 0, 2}},
		{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}},
	}
	sobelY = [3][3][3]float64{
		{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}},
		{{-2, -4, -2}, {0, 0, 0}, {2, 4, 2}},
		{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}},
	}
	sobelZ = [3][3][3]float64{
		{{-1, -2, -1}, {-2, -4, -2}, {-1, -2, -1}},
		{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}},
		{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}},
	}
)

const sobelNorm = 32.0

// GradientMagnitude computes the per-voxel Euclidean norm of the three
// directional Sobel responses. Voxels within one voxel of any face keep a
// zero gradient; boundary gradients are degraded by design.
func GradientMagnitude(v *models.Volume, progress func(float64)) *models.Volume {
	report(progress, 0)
	out := models.New(v.Depth, v.Height, v.Width)

	forEachLine(v.Depth, func(z int) {
		if z == 0 || z == v.Depth-1 {
			return
		}
		for y := 1; y < v.Height-1; y++ {
			for x := 1; x < v.Width-1; x++ {
				var gx, gy, gz float64
				for kz := 0; kz < 3; kz++ {
					for ky := 0; ky < 3; ky++ {
						for kx := 0; kx < 3; kx++ {
							s := float64(v.At(z+kz-1, y+ky-1, x+kx-1))
							gx += s * sobelX[kz][ky][kx]
							gy += s * sobelY[kz][ky][kx]
							gz += s * sobelZ[kz][ky][kx]
						}
					}
				}
				gx /= sobelNorm
				gy /= sobelNorm
				gz /= sobelNorm
				out.Set(z, y, x, float32(math.Sqrt(gx*gx+gy*gy+gz*gz)))
			}
		}
	})
	report(progress, 1)
	return out
}

// Laplacian applies the 7-point discrete Laplacian stencil (face neighbors
// minus six times the center) with edge replication. Blob detection scales
// this response by σ² to normalize across scales.
func Laplacian(v *models.Volume) *models.Volume {
	out := models.New(v.Depth, v.Height, v.Width)
	clamp := func(i, n int) int {
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	}
	forEachLine(v.Depth, func(z int) {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				center := float64(v.At(z, y, x))
				sum := float64(v.At(clamp(z-1, v.Depth), y, x)) +
					float64(v.At(clamp(z+1, v.Depth), y, x)) +
					float64(v.At(z, clamp(y-1, v.Height), x)) +
					float64(v.At(z, clamp(y+1, v.Height), x)) +
					float64(v.At(z, y, clamp(x-1, v.Width))) +
					float64(v.At(z, y, clamp(x+1, v.Width)))
				out.Set(z, y, x, float32(sum-6*center))
			}
		}
	})
	return out
}
