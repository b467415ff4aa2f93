package segmentation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confocal3d/internal/models"
)

// gaussianSpot adds an isotropic Gaussian of the given amplitude and width.
func gaussianSpot(v *models.Volume, cz, cy, cx int, sigma, amplitude float64) {
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				dz := (float64(z) - float64(cz)) / sigma
				dy := (float64(y) - float64(cy)) / sigma
				dx := (float64(x) - float64(cx)) / sigma
				add := amplitude * math.Exp(-0.5*(dz*dz+dy*dy+dx*dx))
				v.Set(z, y, x, v.At(z, y, x)+float32(add))
			}
		}
	}
}

func TestThresholdSingleBlob(t *testing.T) {
	v := models.New(20, 64, 64)
	gaussianSpot(v, 10, 32, 32, 5, 20000)

	res, err := Threshold(v, ThresholdOptions{MinObjectSize: 1}, nil)
	require.NoError(t, err)

	require.Equal(t, 1, res.ObjectCount)
	require.Len(t, res.Centroids, 1)
	c := res.Centroids[0]
	assert.InDelta(t, 10, c[0], 1)
	assert.InDelta(t, 32, c[1], 1)
	assert.InDelta(t, 32, c[2], 1)
	assert.Greater(t, res.Threshold, 0.0)
	assert.Equal(t, res.VoxelCounts[0], countLabel(res.Labels, 1))
}

func countLabel(l *models.Labeled, id int32) int {
	n := 0
	for _, v := range l.Labels {
		if v == id {
			n++
		}
	}
	return n
}

func TestThresholdManual(t *testing.T) {
	v := models.New(4, 4, 4)
	v.Set(1, 1, 1, 100)
	v.Set(2, 2, 2, 100)

	res, err := Threshold(v, ThresholdOptions{Method: MethodManual, Value: 50, HasValue: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Threshold)
	// The two voxels touch diagonally: one 26-connected object.
	assert.Equal(t, 1, res.ObjectCount)
}

func TestThresholdManualIsInclusive(t *testing.T) {
	v := models.New(3, 3, 3)
	v.Set(1, 1, 1, 50)

	res, err := Threshold(v, ThresholdOptions{Method: MethodManual, Value: 50, HasValue: true}, nil)
	require.NoError(t, err)
	// A voxel exactly at the threshold is foreground.
	assert.Equal(t, 1, res.ObjectCount)
	assert.EqualValues(t, 1, res.Labels.At(1, 1, 1))
}

func TestThresholdManualRequiresValue(t *testing.T) {
	v := models.New(2, 2, 2)
	_, err := Threshold(v, ThresholdOptions{Method: MethodManual}, nil)
	assert.ErrorIs(t, err, ErrMissingThreshold)
}

func TestThresholdUnknownMethod(t *testing.T) {
	v := models.New(2, 2, 2)
	_, err := Threshold(v, ThresholdOptions{Method: "adaptive"}, nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestThresholdProgressMonotonic(t *testing.T) {
	v := models.New(8, 16, 16)
	gaussianSpot(v, 4, 8, 8, 2, 100)

	var seen []float64
	_, err := Threshold(v, ThresholdOptions{}, func(frac float64) {
		seen = append(seen, frac)
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 1.0, seen[len(seen)-1])
}

func TestDetectBlobs(t *testing.T) {
	v := models.New(48, 48, 48)
	centers := [][3]int{{12, 12, 12}, {12, 34, 34}, {36, 22, 36}}
	for _, c := range centers {
		gaussianSpot(v, c[0], c[1], c[2], 3, 1)
	}

	blobs := DetectBlobs(v, BlobOptions{
		MinSigma: 1.5, MaxSigma: 5, NumSigma: 6,
		Threshold: 0.1, Overlap: 0.5,
	}, nil)

	require.Len(t, blobs, 3)
	for _, c := range centers {
		found := false
		for _, b := range blobs {
			dz := float64(b.Z - c[0])
			dy := float64(b.Y - c[1])
			dx := float64(b.X - c[2])
			if math.Sqrt(dz*dz+dy*dy+dx*dx) <= 2 {
				found = true
				// The detected scale sits near the true blob width.
				assert.InDelta(t, 3.0, b.Sigma, 1.5)
			}
		}
		assert.True(t, found, "blob at %v not detected", c)
	}
}

func TestDetectBlobsEmptyVolume(t *testing.T) {
	v := models.New(16, 16, 16)
	blobs := DetectBlobs(v, DefaultBlobOptions(), nil)
	assert.Empty(t, blobs)
}

func TestWatershedTwoBasins(t *testing.T) {
	// Surface: distance to the nearest of two wells.
	v := models.New(8, 16, 16)
	wells := [][3]int{{4, 4, 8}, {4, 12, 8}}
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				best := math.Inf(1)
				for _, wl := range wells {
					dz := float64(z - wl[0])
					dy := float64(y - wl[1])
					dx := float64(x - wl[2])
					if d := math.Sqrt(dz*dz + dy*dy + dx*dx); d < best {
						best = d
					}
				}
				v.Set(z, y, x, float32(best))
			}
		}
	}

	markers := models.NewLabeled(v.Depth, v.Height, v.Width)
	markers.Set(4, 4, 8, 1)
	markers.Set(4, 12, 8, 2)
	markers.Count = 2

	labels, err := Watershed(v, WatershedOptions{Markers: markers, Mode: InputIsGradient}, nil)
	require.NoError(t, err)

	assert.Equal(t, int32(1), labels.At(4, 4, 8))
	assert.Equal(t, int32(2), labels.At(4, 12, 8))
	// The ridge at y=8 splits the volume: each half follows its well.
	assert.Equal(t, int32(1), labels.At(4, 2, 8))
	assert.Equal(t, int32(2), labels.At(4, 14, 8))

	// Every voxel is claimed.
	for _, l := range labels.Labels {
		assert.NotEqual(t, int32(0), l)
	}
}

func TestWatershedDerivesMarkers(t *testing.T) {
	v := models.New(6, 12, 12)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				dz := float64(z - 3)
				dy := float64(y - 6)
				dx := float64(x - 6)
				v.Set(z, y, x, float32(math.Sqrt(dz*dz+dy*dy+dx*dx)))
			}
		}
	}

	labels, err := Watershed(v, WatershedOptions{Mode: InputIsGradient}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, labels.Count)
	assert.Equal(t, int32(1), labels.At(3, 6, 6))
}

func TestWatershedMask(t *testing.T) {
	v := models.New(4, 4, 4)
	mask := models.New(4, 4, 4)
	mask.Set(0, 0, 0, 1)
	mask.Set(0, 0, 1, 1)

	markers := models.NewLabeled(4, 4, 4)
	markers.Set(0, 0, 0, 1)
	markers.Count = 1

	labels, err := Watershed(v, WatershedOptions{Markers: markers, Mask: mask, Mode: InputIsGradient}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), labels.At(0, 0, 0))
	assert.Equal(t, int32(1), labels.At(0, 0, 1))
	assert.Equal(t, int32(0), labels.At(3, 3, 3))
}
