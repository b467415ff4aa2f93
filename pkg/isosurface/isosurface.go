// Package isosurface extracts a triangle mesh from a scalar volume at a
// given iso level. The mesh is used by the analysis module to measure
// object surface area and sphericity; callers that need a renderable mesh
// can consume the triangle soup directly.
//
// The extraction walks every cell of the voxel grid and splits it into six
// tetrahedra, emitting interpolated crossing triangles per tetrahedron.
// The output is equivalent to marching cubes without the case tables.
package isosurface

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVolume is returned when the buffer and dimensions disagree or
// the grid is too small to contain a cell.
var ErrInvalidVolume = errors.New("isosurface: invalid volume")

// Triangle is one face of the extracted surface, vertices in physical
// (x, y, z) coordinates.
type Triangle struct {
	V0, V1, V2 [3]float64
}

// Area returns the triangle's area from the cross product of its edges.
func (t Triangle) Area() float64 {
	ux, uy, uz := t.V1[0]-t.V0[0], t.V1[1]-t.V0[1], t.V1[2]-t.V0[2]
	vx, vy, vz := t.V2[0]-t.V0[0], t.V2[1]-t.V0[1], t.V2[2]-t.V0[2]
	cx := uy*vz - uz*vy
	cy := uz*vx - ux*vz
	cz := ux*vy - uy*vx
	return 0.5 * math.Sqrt(cx*cx+cy*cy+cz*cz)
}

// Extractor generates the iso-surface of a scalar volume.
type Extractor struct {
	data                 []float32
	width, height, depth int
	isoLevel             float64
	scaleX, scaleY       float64
	scaleZ               float64
}

// New creates an extractor over a flat (z, y, x) row-major buffer.
func New(data []float32, width, height, depth int, isoLevel float64) *Extractor {
	return &Extractor{
		data:     data,
		width:    width,
		height:   height,
		depth:    depth,
		isoLevel: isoLevel,
		scaleX:   1,
		scaleY:   1,
		scaleZ:   1,
	}
}

// SetScale sets the physical voxel spacing applied to output vertices.
func (e *Extractor) SetScale(x, y, z float64) {
	e.scaleX, e.scaleY, e.scaleZ = x, y, z
}

// cube corner offsets in (x, y, z) order.
var corners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// six-tetrahedron decomposition of the cell, all sharing the 0-6 diagonal.
var tetrahedra = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

// Triangles extracts the surface. An empty result is valid: it means the
// iso level never crosses the volume.
func (e *Extractor) Triangles() ([]Triangle, error) {
	if e.width < 2 || e.height < 2 || e.depth < 2 {
		return nil, fmt.Errorf("%w: grid %dx%dx%d has no cells", ErrInvalidVolume, e.width, e.height, e.depth)
	}
	if len(e.data) != e.width*e.height*e.depth {
		return nil, fmt.Errorf("%w: buffer length %d does not match %dx%dx%d", ErrInvalidVolume, len(e.data), e.width, e.height, e.depth)
	}

	var tris []Triangle
	var vals [8]float64
	var pos [8][3]float64

	for z := 0; z < e.depth-1; z++ {
		for y := 0; y < e.height-1; y++ {
			for x := 0; x < e.width-1; x++ {
				for i, c := range corners {
					cx, cy, cz := x+c[0], y+c[1], z+c[2]
					vals[i] = float64(e.data[(cz*e.height+cy)*e.width+cx])
					pos[i] = [3]float64{float64(cx) * e.scaleX, float64(cy) * e.scaleY, float64(cz) * e.scaleZ}
				}
				for _, tet := range tetrahedra {
					tris = e.emitTetra(tris, vals, pos, tet)
				}
			}
		}
	}
	return tris, nil
}

// emitTetra appends the crossing triangles for one tetrahedron.
func (e *Extractor) emitTetra(tris []Triangle, vals [8]float64, pos [8][3]float64, tet [4]int) []Triangle {
	var inside, outside [4]int
	ni, no := 0, 0
	for _, v := range tet {
		if vals[v] > e.isoLevel {
			inside[ni] = v
			ni++
		} else {
			outside[no] = v
			no++
		}
	}

	lerp := func(a, b int) [3]float64 {
		va, vb := vals[a], vals[b]
		t := 0.5
		if vb != va {
			t = (e.isoLevel - va) / (vb - va)
		}
		return [3]float64{
			pos[a][0] + t*(pos[b][0]-pos[a][0]),
			pos[a][1] + t*(pos[b][1]-pos[a][1]),
			pos[a][2] + t*(pos[b][2]-pos[a][2]),
		}
	}

	switch ni {
	case 1:
		a := inside[0]
		tris = append(tris, Triangle{lerp(a, outside[0]), lerp(a, outside[1]), lerp(a, outside[2])})
	case 3:
		d := outside[0]
		tris = append(tris, Triangle{lerp(inside[0], d), lerp(inside[1], d), lerp(inside[2], d)})
	case 2:
		a, b := inside[0], inside[1]
		c, d := outside[0], outside[1]
		p0, p1, p2, p3 := lerp(a, c), lerp(a, d), lerp(b, d), lerp(b, c)
		tris = append(tris, Triangle{p0, p1, p2}, Triangle{p0, p2, p3})
	}
	return tris
}

// SurfaceArea sums the areas of a triangle soup.
func SurfaceArea(tris []Triangle) float64 {
	var sum float64
	for _, t := range tris {
		sum += t.Area()
	}
	return sum
}
