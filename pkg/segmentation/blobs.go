package segmentation

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
	"confocal3d/pkg/kernels"
)

// BlobOptions configures DetectBlobs.
type BlobOptions struct {
	// MinSigma and MaxSigma bound the scale range in voxels.
	MinSigma, MaxSigma float64

	// NumSigma is the number of geometrically spaced scales.
	NumSigma int

	// Threshold is the absolute scale-space response floor.
	Threshold float64

	// Overlap in [0, 1]: a smaller blob is dropped when its center is
	// closer than Overlap*(sigma1+sigma2) to a larger kept blob.
	Overlap float64
}

// DefaultBlobOptions mirror the usual LoG detector settings.
func DefaultBlobOptions() BlobOptions {
	return BlobOptions{MinSigma: 1, MaxSigma: 50, NumSigma: 10, Threshold: 0.1, Overlap: 0.5}
}

// DetectBlobs finds bright blob-like structures with a multi-scale
// Laplacian of Gaussian. Each scale blurs the volume, takes the discrete
// Laplacian and normalizes it by σ²; bright blobs respond with negative
// Laplacians, so the response is negated before peak finding. Candidates
// are local maxima of the 4-D (scale, z, y, x) stack above Threshold,
// with the stack border excluded in all four dimensions.
func DetectBlobs(v *models.Volume, opts BlobOptions, progress func(float64)) []models.Blob {
	reportAt(progress, 0)
	sigmas := geomSpace(opts.MinSigma, opts.MaxSigma, opts.NumSigma)

	stack := make([]*models.Volume, len(sigmas))
	for i, sigma := range sigmas {
		blurred := kernels.GaussianBlur(v, sigma, nil)
		lap := kernels.Laplacian(blurred)
		norm := float32(sigma * sigma)
		for j, s := range lap.Data {
			lap.Data[j] = -s * norm
		}
		stack[i] = lap
		reportAt(progress, float64(i+1)/float64(len(sigmas))*0.8)
	}

	candidates := scaleSpaceMaxima(stack, opts.Threshold)
	reportAt(progress, 0.95)

	blobs := make([]models.Blob, 0, len(candidates))
	for _, c := range candidates {
		blobs = append(blobs, models.Blob{Z: c.z, Y: c.y, X: c.x, Sigma: sigmas[c.scale]})
	}
	blobs = pruneOverlapping(blobs, opts.Overlap)
	reportAt(progress, 1)

	log.Info().Int("blobs", len(blobs)).Msg("blob detection complete")
	return blobs
}

// geomSpace returns n geometrically spaced values from lo to hi.
func geomSpace(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	logLo, logHi := math.Log(lo), math.Log(hi)
	for i := range out {
		out[i] = math.Exp(logLo + (logHi-logLo)*float64(i)/float64(n-1))
	}
	return out
}

type scaleCandidate struct {
	scale, z, y, x int
	value          float32
}

// scaleSpaceMaxima finds strict local maxima of the stacked responses over
// the full 3×3×3×3 neighborhood, above the absolute threshold.
func scaleSpaceMaxima(stack []*models.Volume, threshold float64) []scaleCandidate {
	if len(stack) < 3 {
		return nil
	}
	v0 := stack[0]
	var out []scaleCandidate
	for s := 1; s < len(stack)-1; s++ {
		for z := 1; z < v0.Depth-1; z++ {
			for y := 1; y < v0.Height-1; y++ {
				for x := 1; x < v0.Width-1; x++ {
					center := stack[s].At(z, y, x)
					if float64(center) <= threshold {
						continue
					}
					if isScaleSpaceMax(stack, s, z, y, x, center) {
						out = append(out, scaleCandidate{scale: s, z: z, y: y, x: x, value: center})
					}
				}
			}
		}
	}
	return out
}

func isScaleSpaceMax(stack []*models.Volume, s, z, y, x int, center float32) bool {
	for ds := -1; ds <= 1; ds++ {
		vol := stack[s+ds]
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if ds == 0 && dz == 0 && dy == 0 && dx == 0 {
						continue
					}
					if vol.At(z+dz, y+dy, x+dx) >= center {
						return false
					}
				}
			}
		}
	}
	return true
}

// pruneOverlapping sorts candidates by descending sigma and drops any later
// (smaller) blob whose center distance to a kept blob is below
// overlap*(sigma1+sigma2).
func pruneOverlapping(blobs []models.Blob, overlap float64) []models.Blob {
	if len(blobs) == 0 {
		return blobs
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Sigma > blobs[j].Sigma })

	kept := blobs[:0:0]
	for _, b := range blobs {
		ok := true
		for _, k := range kept {
			dz := float64(b.Z - k.Z)
			dy := float64(b.Y - k.Y)
			dx := float64(b.X - k.X)
			dist := math.Sqrt(dz*dz + dy*dy + dx*dx)
			if dist < overlap*(b.Sigma+k.Sigma) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, b)
		}
	}
	return kept
}
