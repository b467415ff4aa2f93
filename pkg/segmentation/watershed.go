package segmentation

import (
	"container/heap"

	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
	"confocal3d/pkg/kernels"
)

// GradientMode tells Watershed how to treat its input surface.
type GradientMode int

const (
	// GradientAuto applies the legacy heuristic: inputs with a maximum
	// above 1.0 are treated as raw intensity and converted to gradient
	// magnitude first. Fragile for pre-normalized data; prefer the
	// explicit modes.
	GradientAuto GradientMode = iota

	// InputIsGradient floods the input surface as-is.
	InputIsGradient

	// InputIsIntensity always converts to gradient magnitude first.
	InputIsIntensity
)

// WatershedOptions configures Watershed.
type WatershedOptions struct {
	// Markers seed the flood. When nil, markers are derived from local
	// minima of the surface.
	Markers *models.Labeled

	// Mask restricts flooding to nonzero voxels when set.
	Mask *models.Volume

	// Compactness biases the flood toward round basins; 0 is the classic
	// watershed.
	Compactness float64

	// MinMarkerSeparation controls derived marker density (voxels).
	// Defaults to 10.
	MinMarkerSeparation int

	// Mode selects gradient handling; GradientAuto by default.
	Mode GradientMode
}

// Watershed floods labeled basins outward from markers across the input
// surface, assigning each voxel to the marker reachable through the lowest
// surface values. Returns a labeled volume of the same spatial shape.
func Watershed(v *models.Volume, opts WatershedOptions, progress func(float64)) (*models.Labeled, error) {
	reportAt(progress, 0)

	surface := v
	needGradient := opts.Mode == InputIsIntensity
	if opts.Mode == GradientAuto {
		_, max := v.MinMax()
		needGradient = max > 1.0
	}
	if needGradient {
		log.Debug().Msg("watershed: computing gradient magnitude of intensity input")
		surface = kernels.GradientMagnitude(v, scaled(progress, 0, 0.2))
	}
	reportAt(progress, 0.2)

	markers := opts.Markers
	if markers == nil {
		minSep := opts.MinMarkerSeparation
		if minSep <= 0 {
			minSep = 10
		}
		markers = markersFromMinima(surface, minSep)
		log.Debug().Int("markers", markers.Count).Msg("watershed: derived markers from local minima")
	}
	reportAt(progress, 0.4)

	labels := flood(surface, markers, opts.Mask, opts.Compactness, scaled(progress, 0.4, 1))
	reportAt(progress, 1)
	return labels, nil
}

// markersFromMinima seeds one marker per suppressed local minimum. A flat
// or monotone surface without strict minima gets a single marker at the
// global minimum.
func markersFromMinima(surface *models.Volume, minSeparation int) *models.Labeled {
	peaks := kernels.LocalMinima(surface, minSeparation, nil)
	markers := models.NewLabeled(surface.Depth, surface.Height, surface.Width)
	if len(peaks) == 0 {
		best := 0
		for i, s := range surface.Data {
			if s < surface.Data[best] {
				best = i
			}
		}
		markers.Labels[best] = 1
		markers.Count = 1
		return markers
	}
	for i, p := range peaks {
		markers.Set(p.Z, p.Y, p.X, int32(i+1))
	}
	markers.Count = len(peaks)
	return markers
}

// floodItem is one queued voxel in the priority flood.
type floodItem struct {
	priority float64
	order    int64
	idx      int
	label    int32
}

type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].order < q[j].order
}
func (q floodQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x any)        { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// flood runs Meyer's priority flood with 6-connectivity. With a positive
// compactness, the priority of a voxel grows with its squared distance to
// the seed of the claiming label, trading basin fidelity for roundness.
func flood(surface *models.Volume, markers *models.Labeled, mask *models.Volume, compactness float64, progress func(float64)) *models.Labeled {
	d, h, w := surface.Depth, surface.Height, surface.Width
	hw := h * w
	n := len(surface.Data)

	out := models.NewLabeled(d, h, w)
	out.Count = markers.Count

	inMask := func(idx int) bool {
		return mask == nil || mask.Data[idx] != 0
	}

	// Seed centers for the compactness bias.
	seeds := make([][3]float64, markers.Count+1)
	seeded := make([]bool, markers.Count+1)
	for idx, l := range markers.Labels {
		if l != 0 && !seeded[l] {
			z := idx / hw
			rem := idx % hw
			seeds[l] = [3]float64{float64(z), float64(rem / w), float64(rem % w)}
			seeded[l] = true
		}
	}

	queued := make([]bool, n)
	q := make(floodQueue, 0, n/8)
	heap.Init(&q)
	var order int64

	push := func(idx int, label int32) {
		if queued[idx] || !inMask(idx) {
			return
		}
		queued[idx] = true
		prio := float64(surface.Data[idx])
		if compactness > 0 {
			z := idx / hw
			rem := idx % hw
			dz := float64(z) - seeds[label][0]
			dy := float64(rem/w) - seeds[label][1]
			dx := float64(rem%w) - seeds[label][2]
			prio += compactness * (dz*dz + dy*dy + dx*dx)
		}
		order++
		heap.Push(&q, floodItem{priority: prio, order: order, idx: idx, label: label})
	}

	for idx, l := range markers.Labels {
		if l != 0 && inMask(idx) {
			out.Labels[idx] = l
			queued[idx] = true
		}
	}
	for idx, l := range markers.Labels {
		if l == 0 || !inMask(idx) {
			continue
		}
		forEachNeighbor6(idx, d, h, w, func(nidx int) {
			if out.Labels[nidx] == 0 {
				push(nidx, l)
			}
		})
	}

	assigned := 0
	total := n
	for q.Len() > 0 {
		item := heap.Pop(&q).(floodItem)
		if out.Labels[item.idx] != 0 {
			continue
		}
		out.Labels[item.idx] = item.label
		assigned++
		if progress != nil && assigned%4096 == 0 {
			progress(float64(assigned) / float64(total))
		}
		forEachNeighbor6(item.idx, d, h, w, func(nidx int) {
			if out.Labels[nidx] == 0 {
				push(nidx, item.label)
			}
		})
	}
	reportAt(progress, 1)
	return out
}

func forEachNeighbor6(idx, d, h, w int, fn func(nidx int)) {
	hw := h * w
	z := idx / hw
	rem := idx % hw
	y := rem / w
	x := rem % w
	if z > 0 {
		fn(idx - hw)
	}
	if z < d-1 {
		fn(idx + hw)
	}
	if y > 0 {
		fn(idx - w)
	}
	if y < h-1 {
		fn(idx + w)
	}
	if x > 0 {
		fn(idx - 1)
	}
	if x < w-1 {
		fn(idx + 1)
	}
}
