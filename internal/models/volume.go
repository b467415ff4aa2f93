// Package models defines the in-memory data model shared by every part of
// the analysis engine: intensity volumes, labeled volumes and physical
// voxel spacing.
package models

import "math"

// Volume represents a regular 3D grid of intensity samples, optionally
// multi-channel. Data is stored channel-major in a flat slice, indexed as
// [c][z][y][x]. All computation runs in 32-bit floating point; integer
// acquisitions are cast on entry (FromUint8/FromUint16).
type Volume struct {
	// Data is the sample buffer in channel-major, row-major order.
	Data []float32

	// Channels is the number of acquisition channels (>= 1).
	Channels int

	// Depth, Height and Width are the spatial dimensions in voxels
	// along z, y and x respectively.
	Depth, Height, Width int
}

// Spacing is the physical voxel size in micrometers along each axis.
type Spacing struct {
	X, Y, Z float64
}

// Product returns the physical volume of one voxel in cubic micrometers.
func (s Spacing) Product() float64 {
	return s.X * s.Y * s.Z
}

// IsotropicUnit is the default spacing when the caller supplies none.
func IsotropicUnit() Spacing {
	return Spacing{X: 1, Y: 1, Z: 1}
}

// New creates a single-channel volume of the given spatial dimensions,
// zero-filled.
func New(depth, height, width int) *Volume {
	return NewMultiChannel(1, depth, height, width)
}

// NewMultiChannel creates a zero-filled volume with the given number of
// channels.
func NewMultiChannel(channels, depth, height, width int) *Volume {
	return &Volume{
		Data:     make([]float32, channels*depth*height*width),
		Channels: channels,
		Depth:    depth,
		Height:   height,
		Width:    width,
	}
}

// FromUint8 casts an 8-bit acquisition buffer into a float32 volume.
// The buffer is laid out channel-major like Volume.Data.
func FromUint8(raw []uint8, channels, depth, height, width int) *Volume {
	v := NewMultiChannel(channels, depth, height, width)
	for i := range v.Data {
		v.Data[i] = float32(raw[i])
	}
	return v
}

// FromUint16 casts a 16-bit acquisition buffer into a float32 volume.
func FromUint16(raw []uint16, channels, depth, height, width int) *Volume {
	v := NewMultiChannel(channels, depth, height, width)
	for i := range v.Data {
		v.Data[i] = float32(raw[i])
	}
	return v
}

// FromFloat32 wraps an existing float32 buffer without copying. The caller
// keeps ownership of the buffer and must not mutate it while an analysis
// is running.
func FromFloat32(raw []float32, channels, depth, height, width int) *Volume {
	return &Volume{
		Data:     raw,
		Channels: channels,
		Depth:    depth,
		Height:   height,
		Width:    width,
	}
}

// VoxelCount returns the number of voxels in one channel.
func (v *Volume) VoxelCount() int {
	return v.Depth * v.Height * v.Width
}

// Index returns the flat offset of (z, y, x) within the first channel.
func (v *Volume) Index(z, y, x int) int {
	return (z*v.Height+y)*v.Width + x
}

// At returns the sample at (z, y, x) in the first channel.
func (v *Volume) At(z, y, x int) float32 {
	return v.Data[v.Index(z, y, x)]
}

// Set stores a sample at (z, y, x) in the first channel.
func (v *Volume) Set(z, y, x int, value float32) {
	v.Data[v.Index(z, y, x)] = value
}

// Channel returns a zero-copy single-channel view of channel c.
func (v *Volume) Channel(c int) *Volume {
	n := v.VoxelCount()
	return &Volume{
		Data:     v.Data[c*n : (c+1)*n],
		Channels: 1,
		Depth:    v.Depth,
		Height:   v.Height,
		Width:    v.Width,
	}
}

// SameShape reports whether two volumes have identical spatial dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Depth == o.Depth && v.Height == o.Height && v.Width == o.Width
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := &Volume{
		Data:     make([]float32, len(v.Data)),
		Channels: v.Channels,
		Depth:    v.Depth,
		Height:   v.Height,
		Width:    v.Width,
	}
	copy(out.Data, v.Data)
	return out
}

// MinMax returns the minimum and maximum sample values across all channels.
func (v *Volume) MinMax() (min, max float32) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = v.Data[0], v.Data[0]
	for _, s := range v.Data {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

// Sum returns the total intensity across all channels, accumulated in
// float64 to keep large volumes stable.
func (v *Volume) Sum() float64 {
	var sum float64
	for _, s := range v.Data {
		sum += float64(s)
	}
	return sum
}

// Float64 copies one channel's samples into a float64 scratch slice for
// the gonum statistics routines.
func (v *Volume) Float64() []float64 {
	out := make([]float64, v.VoxelCount())
	for i := range out {
		out[i] = float64(v.Data[i])
	}
	return out
}

// Labeled is an integer volume of the same spatial shape as the volume it
// was derived from. Label 0 is background; object labels are dense in
// 1..Count after every labeling pass.
type Labeled struct {
	Labels               []int32
	Depth, Height, Width int

	// Count is the number of distinct objects.
	Count int
}

// NewLabeled creates a zero-filled (all background) labeled volume.
func NewLabeled(depth, height, width int) *Labeled {
	return &Labeled{
		Labels: make([]int32, depth*height*width),
		Depth:  depth,
		Height: height,
		Width:  width,
	}
}

// Index returns the flat offset of (z, y, x).
func (l *Labeled) Index(z, y, x int) int {
	return (z*l.Height+y)*l.Width + x
}

// At returns the label at (z, y, x).
func (l *Labeled) At(z, y, x int) int32 {
	return l.Labels[l.Index(z, y, x)]
}

// Set stores a label at (z, y, x).
func (l *Labeled) Set(z, y, x int, label int32) {
	l.Labels[l.Index(z, y, x)] = label
}

// Blob is one detection from multi-scale blob detection: a center in voxel
// coordinates plus the physical sigma of the best-responding scale.
type Blob struct {
	Z, Y, X int
	Sigma   float64
}

// Radius converts the blob sigma to an approximate spherical radius.
func (b Blob) Radius() float64 {
	return b.Sigma * math.Sqrt(3)
}
