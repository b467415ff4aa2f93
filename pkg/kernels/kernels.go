// Package kernels implements the primitive volumetric operations the
// segmentation, analysis and deconvolution modules are built from:
// separable Gaussian blur, gradient-magnitude edge detection, Otsu
// thresholding, connected-component labeling, rolling-ball background
// estimation and frequency-domain convolution.
//
// Every operation is deterministic given identical input and parameters.
// Operations taking a progress function call it with increasing fractions
// in [0, 1]; a nil progress function is always accepted.
package kernels

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"confocal3d/internal/models"
)

// report invokes a progress callback if one was supplied.
func report(progress func(float64), frac float64) {
	if progress != nil {
		progress(frac)
	}
}

var maxWorkers = runtime.NumCPU()

// SetMaxWorkers bounds the worker pool used by the line-parallel kernels.
// Values below 1 restore the CPU count. Intended for startup configuration,
// not concurrent use.
func SetMaxWorkers(n int) {
	if n < 1 {
		n = runtime.NumCPU()
	}
	maxWorkers = n
}

// forEachLine runs fn over line indices [0, numLines) on a bounded worker
// pool. The kernels have no internal error paths; the group exists to bound
// fan-out the same way the orchestration layer does.
func forEachLine(numLines int, fn func(line int)) {
	workers := maxWorkers
	if workers > numLines {
		workers = numLines
	}
	if workers <= 1 {
		for i := 0; i < numLines; i++ {
			fn(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(workers)
	chunk := (numLines + workers - 1) / workers
	for start := 0; start < numLines; start += chunk {
		start := start
		end := start + chunk
		if end > numLines {
			end = numLines
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// axis identifies a spatial axis of a volume.
type axis int

const (
	axisZ axis = iota
	axisY
	axisX
)

// lineGeometry describes how to walk every 1D line of a volume along an
// axis: the number of lines, the samples per line, the stride between
// consecutive samples, and the flat offset of line i's first sample.
func lineGeometry(v *models.Volume, ax axis) (numLines, lineLen, stride int, lineStart func(i int) int) {
	hw := v.Height * v.Width
	switch ax {
	case axisZ:
		numLines = hw
		lineLen = v.Depth
		stride = hw
		lineStart = func(i int) int { return i }
	case axisY:
		numLines = v.Depth * v.Width
		lineLen = v.Height
		stride = v.Width
		lineStart = func(i int) int {
			z := i / v.Width
			x := i % v.Width
			return z*hw + x
		}
	default:
		numLines = v.Depth * v.Height
		lineLen = v.Width
		stride = 1
		lineStart = func(i int) int { return i * v.Width }
	}
	return
}
