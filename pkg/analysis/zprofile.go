package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"confocal3d/internal/models"
)

// ErrUnknownFitMethod reports a photobleaching fit method outside
// {exponential, linear}.
var ErrUnknownFitMethod = errors.New("analysis: unknown fit method")

// Photobleaching fit methods.
const (
	FitExponential = "exponential"
	FitLinear      = "linear"
)

// SliceProfile summarizes the intensity of one Z slice.
type SliceProfile struct {
	Z    int
	Mean float64
	Std  float64
	Max  float64
}

// ObjectProfilePoint is one object's mean intensity in one slice.
type ObjectProfilePoint struct {
	Z          int
	Mean       float64
	VoxelCount int
}

// ObjectProfile is an object's intensity trace over its Z extent.
type ObjectProfile struct {
	ObjectID   int
	ZMin, ZMax int
	Profile    []ObjectProfilePoint
}

// ZProfileResult holds per-slice global statistics and, when labels were
// supplied, per-object traces.
type ZProfileResult struct {
	Depth   int
	Global  []SliceProfile
	Objects []ObjectProfile
}

// ZProfile computes the axial intensity profile of a volume: mean, standard
// deviation and maximum per Z slice, plus per-object slice means over each
// object's Z extent when labels are supplied.
func ZProfile(v *models.Volume, labels *models.Labeled, progress func(float64)) *ZProfileResult {
	reportAt(progress, 0)
	result := &ZProfileResult{Depth: v.Depth, Global: make([]SliceProfile, v.Depth)}

	sliceLen := v.Height * v.Width
	buf := make([]float64, sliceLen)
	for z := 0; z < v.Depth; z++ {
		start := z * sliceLen
		max := math.Inf(-1)
		for i := 0; i < sliceLen; i++ {
			s := float64(v.Data[start+i])
			buf[i] = s
			if s > max {
				max = s
			}
		}
		p := SliceProfile{Z: z, Mean: stat.Mean(buf, nil), Max: max}
		if sliceLen > 1 {
			p.Std = stat.StdDev(buf, nil)
		}
		result.Global[z] = p
		reportAt(progress, 0.6*float64(z+1)/float64(v.Depth))
	}

	if labels == nil || labels.Count == 0 {
		reportAt(progress, 1)
		return result
	}

	// Per-object per-slice sums.
	type acc struct {
		sum   float64
		count int
	}
	perObject := make([]map[int]*acc, labels.Count)
	for z := 0; z < v.Depth; z++ {
		start := z * sliceLen
		for i := 0; i < sliceLen; i++ {
			l := labels.Labels[start+i]
			if l == 0 {
				continue
			}
			obj := perObject[l-1]
			if obj == nil {
				obj = make(map[int]*acc)
				perObject[l-1] = obj
			}
			a := obj[z]
			if a == nil {
				a = &acc{}
				obj[z] = a
			}
			a.sum += float64(v.Data[start+i])
			a.count++
		}
	}
	reportAt(progress, 0.9)

	for i, obj := range perObject {
		if len(obj) == 0 {
			continue
		}
		zMin, zMax := v.Depth, -1
		for z := range obj {
			if z < zMin {
				zMin = z
			}
			if z > zMax {
				zMax = z
			}
		}
		op := ObjectProfile{ObjectID: i + 1, ZMin: zMin, ZMax: zMax}
		for z := zMin; z <= zMax; z++ {
			point := ObjectProfilePoint{Z: z}
			if a := obj[z]; a != nil {
				point.Mean = a.sum / float64(a.count)
				point.VoxelCount = a.count
			}
			op.Profile = append(op.Profile, point)
		}
		result.Objects = append(result.Objects, op)
	}
	reportAt(progress, 1)
	return result
}

// PhotobleachingCorrection fits an intensity decay model to the per-slice
// means and returns multiplicative correction factors, one per slice, that
// restore each slice to the fitted intensity of slice 0. The returned
// method names the model actually used: an exponential fit silently falls
// back to linear when slice means are not strictly positive or the fit
// degenerates.
func PhotobleachingCorrection(profile []SliceProfile, method string) ([]float64, string, error) {
	if method == "" {
		method = FitExponential
	}
	if method != FitExponential && method != FitLinear {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownFitMethod, method)
	}
	n := len(profile)
	if n == 0 {
		return nil, method, nil
	}

	zs := make([]float64, n)
	means := make([]float64, n)
	for i, p := range profile {
		zs[i] = float64(i)
		means[i] = p.Mean
	}

	correction := make([]float64, n)
	for i := range correction {
		correction[i] = 1
	}
	if n < 2 {
		return correction, FitLinear, nil
	}

	if method == FitExponential {
		positive := true
		for _, m := range means {
			if m <= 0 {
				positive = false
				break
			}
		}
		if positive {
			logs := make([]float64, n)
			for i, m := range means {
				logs[i] = math.Log(m)
			}
			alpha, beta := stat.LinearRegression(zs, logs, nil, false)
			if !math.IsNaN(alpha) && !math.IsNaN(beta) && !math.IsInf(alpha, 0) && !math.IsInf(beta, 0) {
				for i := range correction {
					// fitted[i] = exp(alpha + beta*z), so the ratio
					// fitted[0]/fitted[i] reduces to exp(-beta*z).
					correction[i] = math.Exp(-beta * zs[i])
				}
				return correction, FitExponential, nil
			}
		}
		log.Warn().Msg("exponential photobleaching fit unavailable, falling back to linear")
	}

	alpha, beta := stat.LinearRegression(zs, means, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return correction, FitLinear, nil
	}
	for i := range correction {
		fitted := alpha + beta*zs[i]
		if math.Abs(fitted) > epsilon {
			correction[i] = alpha / fitted
		}
	}
	return correction, FitLinear, nil
}

// ApplyZCorrection scales every slice of a volume by its correction factor,
// returning a new volume.
func ApplyZCorrection(v *models.Volume, correction []float64) (*models.Volume, error) {
	if len(correction) != v.Depth {
		return nil, fmt.Errorf("%w: %d correction factors for depth %d", ErrShapeMismatch, len(correction), v.Depth)
	}
	out := v.Clone()
	sliceLen := v.Height * v.Width
	for z := 0; z < v.Depth; z++ {
		f := float32(correction[z])
		start := z * sliceLen
		for i := start; i < start+sliceLen; i++ {
			out.Data[i] = v.Data[i] * f
		}
	}
	return out, nil
}
