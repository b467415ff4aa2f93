package kernels

import (
	"confocal3d/internal/models"
)

// ConnectedComponents labels a binary volume with 26-connectivity. When
// minSize > 1, components below the voxel threshold are removed and the
// survivors relabeled densely from 1, so labels are always exactly
// {0, 1, .., Count}.
func ConnectedComponents(mask *models.Volume, minSize int, progress func(float64)) (*models.Labeled, int) {
	report(progress, 0)
	labeled := labelBinary(mask)
	report(progress, 0.7)

	if minSize > 1 && labeled.Count > 0 {
		sizes := make([]int, labeled.Count+1)
		for _, l := range labeled.Labels {
			sizes[l]++
		}
		// Dense remap: surviving labels compact down to 1..n.
		remap := make([]int32, labeled.Count+1)
		var next int32
		for l := 1; l <= labeled.Count; l++ {
			if sizes[l] >= minSize {
				next++
				remap[l] = next
			}
		}
		for i, l := range labeled.Labels {
			labeled.Labels[i] = remap[l]
		}
		labeled.Count = int(next)
	}
	report(progress, 1)
	return labeled, labeled.Count
}

// labelBinary performs one flood-fill labeling pass over foreground voxels.
func labelBinary(mask *models.Volume) *models.Labeled {
	out := models.NewLabeled(mask.Depth, mask.Height, mask.Width)
	hw := mask.Height * mask.Width
	n := len(mask.Data)

	visited := make([]bool, n)
	stack := make([]int, 0, 1024)
	var label int32

	for seed := 0; seed < n; seed++ {
		if mask.Data[seed] == 0 || visited[seed] {
			continue
		}
		label++
		stack = append(stack[:0], seed)
		visited[seed] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			out.Labels[idx] = label

			z := idx / hw
			rem := idx % hw
			y := rem / mask.Width
			x := rem % mask.Width

			for dz := -1; dz <= 1; dz++ {
				nz := z + dz
				if nz < 0 || nz >= mask.Depth {
					continue
				}
				for dy := -1; dy <= 1; dy++ {
					ny := y + dy
					if ny < 0 || ny >= mask.Height {
						continue
					}
					for dx := -1; dx <= 1; dx++ {
						if dz == 0 && dy == 0 && dx == 0 {
							continue
						}
						nx := x + dx
						if nx < 0 || nx >= mask.Width {
							continue
						}
						nidx := (nz*mask.Height+ny)*mask.Width + nx
						if mask.Data[nidx] != 0 && !visited[nidx] {
							visited[nidx] = true
							stack = append(stack, nidx)
						}
					}
				}
			}
		}
	}
	out.Count = int(label)
	return out
}

// FillHoles fills interior cavities of a binary mask: background regions
// not reachable from the volume border through 6-connected background
// voxels become foreground.
func FillHoles(mask *models.Volume) *models.Volume {
	d, h, w := mask.Depth, mask.Height, mask.Width
	hw := h * w
	n := len(mask.Data)

	outside := make([]bool, n)
	queue := make([]int, 0, 2*hw)

	push := func(idx int) {
		if mask.Data[idx] == 0 && !outside[idx] {
			outside[idx] = true
			queue = append(queue, idx)
		}
	}

	// Seed the flood with every face voxel.
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if z == 0 || z == d-1 || y == 0 || y == h-1 || x == 0 || x == w-1 {
					push((z*h+y)*w + x)
				}
			}
		}
	}

	for len(queue) > 0 {
		idx := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		z := idx / hw
		rem := idx % hw
		y := rem / w
		x := rem % w
		if z > 0 {
			push(idx - hw)
		}
		if z < d-1 {
			push(idx + hw)
		}
		if y > 0 {
			push(idx - w)
		}
		if y < h-1 {
			push(idx + w)
		}
		if x > 0 {
			push(idx - 1)
		}
		if x < w-1 {
			push(idx + 1)
		}
	}

	out := models.New(d, h, w)
	for i := range out.Data {
		if mask.Data[i] != 0 || !outside[i] {
			out.Data[i] = 1
		}
	}
	return out
}
