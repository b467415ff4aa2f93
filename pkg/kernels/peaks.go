package kernels

import (
	"math"
	"sort"

	"confocal3d/internal/models"
)

// Peak is a local extremum candidate in voxel coordinates.
type Peak struct {
	Z, Y, X int
	Value   float32
}

// LocalMinima finds voxels strictly smaller than all 26 neighbors,
// excluding the one-voxel border, then thins the candidates so no two
// survive within minDistance (Euclidean). Deeper minima win. Watershed
// marker generation builds on this.
func LocalMinima(v *models.Volume, minDistance int, progress func(float64)) []Peak {
	report(progress, 0)
	var peaks []Peak
	for z := 1; z < v.Depth-1; z++ {
		for y := 1; y < v.Height-1; y++ {
			for x := 1; x < v.Width-1; x++ {
				center := v.At(z, y, x)
				if isStrictExtremum(v, z, y, x, center, false) {
					peaks = append(peaks, Peak{Z: z, Y: y, X: x, Value: center})
				}
			}
		}
	}
	report(progress, 0.7)

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Value < peaks[j].Value })
	kept := suppressPeaks(peaks, float64(minDistance))
	report(progress, 1)
	return kept
}

// isStrictExtremum reports whether the center value strictly dominates its
// 26-neighborhood (maximum when max is true, minimum otherwise).
func isStrictExtremum(v *models.Volume, z, y, x int, center float32, max bool) bool {
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dz == 0 && dy == 0 && dx == 0 {
					continue
				}
				s := v.At(z+dz, y+dy, x+dx)
				if max {
					if s >= center {
						return false
					}
				} else if s <= center {
					return false
				}
			}
		}
	}
	return true
}

// suppressPeaks keeps peaks in slice order, dropping any later peak closer
// than minDistance to an already kept one.
func suppressPeaks(peaks []Peak, minDistance float64) []Peak {
	kept := peaks[:0:0]
	for _, p := range peaks {
		ok := true
		for _, q := range kept {
			dz := float64(p.Z - q.Z)
			dy := float64(p.Y - q.Y)
			dx := float64(p.X - q.X)
			if math.Sqrt(dz*dz+dy*dy+dx*dx) < minDistance {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, p)
		}
	}
	return kept
}
