package isosurface

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sphereVolume fills a cubic grid with 1 inside a centered sphere.
func sphereVolume(size int, radius float64) []float32 {
	data := make([]float32, size*size*size)
	center := float64(size) / 2
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx := float64(x) - center
				dy := float64(y) - center
				dz := float64(z) - center
				if math.Sqrt(dx*dx+dy*dy+dz*dz) < radius {
					data[(z*size+y)*size+x] = 1
				}
			}
		}
	}
	return data
}

func TestSphereExtraction(t *testing.T) {
	size := 20
	radius := float64(size) / 4
	data := sphereVolume(size, radius)

	tris, err := New(data, size, size, size, 0.5).Triangles()
	require.NoError(t, err)

	// A sphere at this resolution produces a dense mesh.
	assert.Greater(t, len(tris), 100)

	// Total area close to the analytic sphere surface; the voxelized
	// boundary and the half-voxel crossing offset keep this loose.
	area := SurfaceArea(tris)
	exact := 4 * math.Pi * radius * radius
	assert.Greater(t, area, exact*0.7)
	assert.Less(t, area, exact*1.5)

	// Every vertex sits near the sphere boundary.
	center := float64(size) / 2
	for _, tri := range tris[:10] {
		for _, v := range [][3]float64{tri.V0, tri.V1, tri.V2} {
			dx, dy, dz := v[0]-center, v[1]-center, v[2]-center
			dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
			assert.InDelta(t, radius, dist, 1.5)
		}
	}
}

func TestSetScaleScalesArea(t *testing.T) {
	size := 12
	data := sphereVolume(size, 3)

	base := New(data, size, size, size, 0.5)
	baseTris, err := base.Triangles()
	require.NoError(t, err)

	scaled := New(data, size, size, size, 0.5)
	scaled.SetScale(2, 2, 2)
	scaledTris, err := scaled.Triangles()
	require.NoError(t, err)

	// Doubling each axis quadruples the surface area.
	assert.InDelta(t, 4*SurfaceArea(baseTris), SurfaceArea(scaledTris), SurfaceArea(baseTris)*0.01)
}

func TestEmptyVolumeGivesNoTriangles(t *testing.T) {
	data := make([]float32, 4*4*4)
	tris, err := New(data, 4, 4, 4, 0.5).Triangles()
	require.NoError(t, err)
	assert.Empty(t, tris)
}

func TestInvalidVolume(t *testing.T) {
	_, err := New(make([]float32, 8), 2, 2, 1, 0.5).Triangles()
	assert.ErrorIs(t, err, ErrInvalidVolume)

	_, err = New(make([]float32, 7), 2, 2, 2, 0.5).Triangles()
	assert.ErrorIs(t, err, ErrInvalidVolume)
}

func TestTriangleArea(t *testing.T) {
	tri := Triangle{V0: [3]float64{0, 0, 0}, V1: [3]float64{1, 0, 0}, V2: [3]float64{0, 1, 0}}
	assert.InDelta(t, 0.5, tri.Area(), 1e-12)
}

func TestCrossingVerticesAreInterpolated(t *testing.T) {
	// Single inside corner: crossings land mid-edge.
	data := make([]float32, 8)
	data[0] = 1
	tris, err := New(data, 2, 2, 2, 0.5).Triangles()
	require.NoError(t, err)
	require.NotEmpty(t, tris)

	interpolated := false
	for _, v := range [][3]float64{tris[0].V0, tris[0].V1, tris[0].V2} {
		for _, c := range v {
			if math.Abs(c-math.Round(c)) > 0.001 {
				interpolated = true
			}
		}
	}
	assert.True(t, interpolated)
}
