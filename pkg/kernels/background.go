package kernels

import (
	"confocal3d/internal/models"
)

// sphereOffsets enumerates the voxel offsets of a spherical structuring
// element with the given radius.
func sphereOffsets(radius float64) [][3]int {
	r := int(radius)
	r2 := radius * radius
	offsets := make([][3]int, 0, (2*r+1)*(2*r+1)*(2*r+1)/2)
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if float64(dz*dz+dy*dy+dx*dx) <= r2 {
					offsets = append(offsets, [3]int{dz, dy, dx})
				}
			}
		}
	}
	return offsets
}

// RollingBallBackground estimates a slowly varying background as the
// grayscale morphological opening (erosion then dilation) with a spherical
// structuring element of the given radius, subtracts it, and clips
// negative residuals to zero.
func RollingBallBackground(v *models.Volume, radius float64, progress func(float64)) *models.Volume {
	report(progress, 0)
	offsets := sphereOffsets(radius)

	eroded := morphApply(v, offsets, false)
	report(progress, 0.45)
	background := morphApply(eroded, offsets, true)
	report(progress, 0.85)

	out := models.New(v.Depth, v.Height, v.Width)
	for i := range v.Data {
		diff := v.Data[i] - background.Data[i]
		if diff < 0 {
			diff = 0
		}
		out.Data[i] = diff
	}
	report(progress, 1)
	return out
}

// morphApply computes a min (erosion) or max (dilation) filter over the
// structuring element, clamping the element at the volume faces.
func morphApply(v *models.Volume, offsets [][3]int, dilate bool) *models.Volume {
	out := models.New(v.Depth, v.Height, v.Width)
	forEachLine(v.Depth, func(z int) {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				best := v.At(z, y, x)
				for _, off := range offsets {
					nz, ny, nx := z+off[0], y+off[1], x+off[2]
					if nz < 0 || nz >= v.Depth || ny < 0 || ny >= v.Height || nx < 0 || nx >= v.Width {
						continue
					}
					s := v.At(nz, ny, nx)
					if dilate {
						if s > best {
							best = s
						}
					} else if s < best {
						best = s
					}
				}
				out.Set(z, y, x, best)
			}
		}
	})
	return out
}
