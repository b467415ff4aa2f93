package analyzer

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"confocal3d/internal/models"
	"confocal3d/pkg/analysis"
	"confocal3d/pkg/deconvolution"
	"confocal3d/pkg/kernels"
	"confocal3d/pkg/segmentation"
)

// Confidence scores reported per algorithm. These reflect methodological
// maturity, not per-run quality: deterministic pixel statistics score high,
// model-dependent restoration scores low.
const (
	confidenceSegmentation   = 0.85
	confidenceColocalization = 0.90
	confidenceIntensity      = 0.95
	confidenceDeconvolution  = 0.80
	confidenceBlobs          = 0.88
	confidenceMeasurements   = 0.92
	confidenceZProfile       = 0.93
)

// Segmentation methods accepted by the segmentation_3d runner.
const (
	SegMethodThreshold = "threshold"
	SegMethodWatershed = "watershed"
)

// thresholdFromParams builds threshold-segmentation options shared by the
// segmentation, measurement and per-object runners. A supplied threshold
// value selects manual thresholding, otherwise Otsu.
func thresholdFromParams(p Params) (segmentation.ThresholdOptions, error) {
	var opts segmentation.ThresholdOptions
	var err error
	if opts.HasValue = p.Has("threshold"); opts.HasValue {
		opts.Method = segmentation.MethodManual
		if opts.Value, err = p.Float("threshold", 0); err != nil {
			return opts, err
		}
	} else {
		opts.Method = segmentation.MethodOtsu
	}
	if opts.MinObjectSize, err = p.Int("min_object_size", 0); err != nil {
		return opts, err
	}
	if opts.FillHoles, err = p.Bool("fill_holes", false); err != nil {
		return opts, err
	}
	if opts.HistogramBins, err = p.Int("histogram_bins", 0); err != nil {
		return opts, err
	}
	return opts, nil
}

// thresholdParamsUsed records the resolved threshold options in a payload's
// parameters_used map.
func thresholdParamsUsed(used map[string]any, opts segmentation.ThresholdOptions) {
	used["threshold_method"] = opts.Method
	if opts.HasValue {
		used["threshold"] = opts.Value
	}
	used["min_object_size"] = opts.MinObjectSize
	used["fill_holes"] = opts.FillHoles
}

// smoothed optionally pre-blurs the working channel, reporting whether it
// did and with what width. Smoothing defaults on: confocal stacks are
// shot-noise limited and unsmoothed thresholds fragment.
func smoothed(v *models.Volume, p Params, progress func(float64)) (*models.Volume, bool, float64, error) {
	smooth, err := p.Bool("smooth", true)
	if err != nil {
		return nil, false, 0, err
	}
	sigma := 1.0
	if p.Has("sigma") {
		if sigma, err = p.Float("sigma", 1.0); err != nil {
			return nil, false, 0, err
		}
	} else if p.Has("smooth_sigma") {
		if sigma, err = p.Float("smooth_sigma", 1.0); err != nil {
			return nil, false, 0, err
		}
	}
	if !smooth || sigma <= 0 {
		return v, false, 0, nil
	}
	return kernels.GaussianBlur(v, sigma, progress), true, sigma, nil
}

// labelSummary computes per-label voxel counts and voxel-space centroids.
func labelSummary(labels *models.Labeled) ([]int, [][3]float64) {
	counts := make([]int, labels.Count)
	sums := make([][3]float64, labels.Count)
	hw := labels.Height * labels.Width
	for idx, l := range labels.Labels {
		if l == 0 {
			continue
		}
		i := int(l) - 1
		z := idx / hw
		rem := idx % hw
		counts[i]++
		sums[i][0] += float64(z)
		sums[i][1] += float64(rem / labels.Width)
		sums[i][2] += float64(rem % labels.Width)
	}
	centroids := make([][3]float64, labels.Count)
	for i, n := range counts {
		if n > 0 {
			centroids[i] = [3]float64{sums[i][0] / float64(n), sums[i][1] / float64(n), sums[i][2] / float64(n)}
		}
	}
	return counts, centroids
}

// objectSummaries renders per-object counts and centroids in physical units.
func objectSummaries(counts []int, centroids [][3]float64, spacing models.Spacing) []map[string]any {
	voxelVolume := spacing.Product()
	out := make([]map[string]any, len(counts))
	for i := range counts {
		c := centroids[i]
		out[i] = map[string]any{
			"id":          i + 1,
			"voxel_count": counts[i],
			"volume_um3":  float64(counts[i]) * voxelVolume,
			"centroid_um": [3]float64{c[0] * spacing.Z, c[1] * spacing.Y, c[2] * spacing.X},
		}
	}
	return out
}

// segmentForLabels runs the inline threshold segmentation the per-object
// analyses build on.
func segmentForLabels(v *models.Volume, p Params, used map[string]any, progress func(float64)) (*models.Labeled, error) {
	work, smooth, sigma, err := smoothed(v, p, scale(progress, 0, 0.3))
	if err != nil {
		return nil, err
	}
	opts, err := thresholdFromParams(p)
	if err != nil {
		return nil, err
	}
	seg, err := segmentation.Threshold(work, opts, scale(progress, 0.3, 1))
	if err != nil {
		return nil, err
	}
	used["smooth"] = smooth
	if smooth {
		used["sigma"] = sigma
	}
	thresholdParamsUsed(used, opts)
	return seg.Labels, nil
}

func runSegmentation(a *Analyzer, v *models.Volume, spacing models.Spacing, p Params, progress func(float64)) (map[string]any, float64, error) {
	method, err := p.String("method", SegMethodThreshold)
	if err != nil {
		return nil, 0, err
	}
	if method != SegMethodThreshold && method != SegMethodWatershed {
		return nil, 0, fmt.Errorf("%w: method=%q, want %q or %q", ErrInvalidParameter, method, SegMethodThreshold, SegMethodWatershed)
	}

	ch := v.Channel(0)
	work, smooth, sigma, err := smoothed(ch, p, scale(progress, 0, 0.2))
	if err != nil {
		return nil, 0, err
	}
	used := map[string]any{"method": method, "smooth": smooth}
	if smooth {
		used["sigma"] = sigma
	}

	payload := map[string]any{"parameters_used": used}
	switch method {
	case SegMethodThreshold:
		opts, err := thresholdFromParams(p)
		if err != nil {
			return nil, 0, err
		}
		res, err := segmentation.Threshold(work, opts, scale(progress, 0.2, 1))
		if err != nil {
			return nil, 0, err
		}
		thresholdParamsUsed(used, opts)
		payload["object_count"] = res.ObjectCount
		payload["threshold"] = res.Threshold
		payload["objects"] = objectSummaries(res.VoxelCounts, res.Centroids, spacing)

	case SegMethodWatershed:
		var opts segmentation.WatershedOptions
		if opts.Compactness, err = p.Float("compactness", 0); err != nil {
			return nil, 0, err
		}
		if opts.MinMarkerSeparation, err = p.Int("min_marker_separation", 10); err != nil {
			return nil, 0, err
		}
		if p.Has("input_is_gradient") {
			isGradient, err := p.Bool("input_is_gradient", false)
			if err != nil {
				return nil, 0, err
			}
			if isGradient {
				opts.Mode = segmentation.InputIsGradient
			} else {
				opts.Mode = segmentation.InputIsIntensity
			}
			used["input_is_gradient"] = isGradient
		}
		labels, err := segmentation.Watershed(work, opts, scale(progress, 0.2, 1))
		if err != nil {
			return nil, 0, err
		}
		counts, centroids := labelSummary(labels)
		used["compactness"] = opts.Compactness
		used["min_marker_separation"] = opts.MinMarkerSeparation
		payload["object_count"] = labels.Count
		payload["objects"] = objectSummaries(counts, centroids, spacing)
	}
	return payload, confidenceSegmentation, nil
}

func runColocalization(a *Analyzer, v *models.Volume, _ models.Spacing, p Params, progress func(float64)) (map[string]any, float64, error) {
	if v.Channels < 2 {
		return nil, 0, fmt.Errorf("%w: colocalization needs 2 channels, volume has %d", ErrChannelCount, v.Channels)
	}
	c1, err := p.Int("channel_1", 0)
	if err != nil {
		return nil, 0, err
	}
	c2, err := p.Int("channel_2", 1)
	if err != nil {
		return nil, 0, err
	}
	if c1 < 0 || c1 >= v.Channels || c2 < 0 || c2 >= v.Channels {
		return nil, 0, fmt.Errorf("%w: channel indices %d, %d out of range [0, %d)", ErrInvalidParameter, c1, c2, v.Channels)
	}

	var opts analysis.ColocalizationOptions
	if opts.HasThresholdCh1 = p.Has("threshold_ch1"); opts.HasThresholdCh1 {
		if opts.ThresholdCh1, err = p.Float("threshold_ch1", 0); err != nil {
			return nil, 0, err
		}
	}
	if opts.HasThresholdCh2 = p.Has("threshold_ch2"); opts.HasThresholdCh2 {
		if opts.ThresholdCh2, err = p.Float("threshold_ch2", 0); err != nil {
			return nil, 0, err
		}
	}

	res, err := analysis.Colocalization(v.Channel(c1), v.Channel(c2), opts, progress)
	if err != nil {
		return nil, 0, err
	}
	payload := map[string]any{
		"pearson_r":     res.PearsonR,
		"manders_m1":    res.MandersM1,
		"manders_m2":    res.MandersM2,
		"overlap":       res.Overlap,
		"threshold_ch1": res.ThresholdCh1,
		"threshold_ch2": res.ThresholdCh2,
		"parameters_used": map[string]any{
			"channel_1":     c1,
			"channel_2":     c2,
			"threshold_ch1": res.ThresholdCh1,
			"threshold_ch2": res.ThresholdCh2,
		},
	}
	return payload, confidenceColocalization, nil
}

func runIntensity(a *Analyzer, v *models.Volume, _ models.Spacing, p Params, progress func(float64)) (map[string]any, float64, error) {
	perObject, err := p.Bool("per_object", false)
	if err != nil {
		return nil, 0, err
	}
	used := map[string]any{"per_object": perObject}

	ch := v.Channel(0)
	var labels *models.Labeled
	statsProgress := progress
	if perObject {
		if labels, err = segmentForLabels(ch, p, used, scale(progress, 0, 0.5)); err != nil {
			return nil, 0, err
		}
		statsProgress = scale(progress, 0.5, 1)
	}

	channels := make([]map[string]any, v.Channels)
	for c := 0; c < v.Channels; c++ {
		channels[c] = statsPayload(analysis.IntensityStatistics(v.Channel(c), nil, nil).Global)
	}

	res := analysis.IntensityStatistics(ch, labels, statsProgress)
	payload := statsPayload(res.Global)
	payload["channels"] = channels
	payload["parameters_used"] = used
	if perObject {
		objects := make([]map[string]any, len(res.Objects))
		for i, o := range res.Objects {
			obj := statsPayload(o.Stats)
			obj["id"] = o.ObjectID
			obj["voxel_count"] = o.VoxelCount
			objects[i] = obj
		}
		payload["objects"] = objects
		payload["mean_of_object_means"] = res.MeanOfObjectMeans
		payload["std_of_object_means"] = res.StdOfObjectMeans
	}
	return payload, confidenceIntensity, nil
}

func statsPayload(s analysis.Stats) map[string]any {
	return map[string]any{
		"mean":   s.Mean,
		"std":    s.Std,
		"min":    s.Min,
		"max":    s.Max,
		"median": s.Median,
		"total":  s.Total,
	}
}

func runDeconvolution(a *Analyzer, v *models.Volume, spacing models.Spacing, p Params, progress func(float64)) (map[string]any, float64, error) {
	method, err := p.String("method", "richardson_lucy")
	if err != nil {
		return nil, 0, err
	}
	psfType, err := p.String("psf_type", deconvolution.PSFGaussian)
	if err != nil {
		return nil, 0, err
	}
	psfOpts := deconvolution.PSFOptions{Type: psfType, Voxel: spacing}
	if psfOpts.Wavelength, err = p.Float("wavelength", 0); err != nil {
		return nil, 0, err
	}
	if psfOpts.NA, err = p.Float("numerical_aperture", 0); err != nil {
		return nil, 0, err
	}
	if psfOpts.RefractiveIndex, err = p.Float("refractive_index", 0); err != nil {
		return nil, 0, err
	}
	psfOpts = psfOpts.Resolved()
	psf, err := deconvolution.GeneratePSF(psfOpts)
	if err != nil {
		return nil, 0, err
	}

	used := map[string]any{
		"method":             method,
		"psf_type":           psfType,
		"wavelength":         psfOpts.Wavelength,
		"numerical_aperture": psfOpts.NA,
		"refractive_index":   psfOpts.RefractiveIndex,
	}

	ch := v.Channel(0)
	var restored *models.Volume
	var iterations int
	switch method {
	case "richardson_lucy":
		if iterations, err = p.Int("iterations", 10); err != nil {
			return nil, 0, err
		}
		clip, err := p.Bool("clip", true)
		if err != nil {
			return nil, 0, err
		}
		used["iterations"] = iterations
		used["clip"] = clip
		restored, err = deconvolution.RichardsonLucy(ch, psf, deconvolution.RichardsonLucyOptions{
			Iterations: iterations,
			Clip:       clip,
		}, progress)
		if err != nil {
			return nil, 0, err
		}
	case "wiener":
		nsr, err := p.Float("noise_to_signal", 0)
		if err != nil {
			return nil, 0, err
		}
		used["noise_to_signal"] = nsr
		restored, err = deconvolution.Wiener(ch, psf, deconvolution.WienerOptions{NoiseToSignal: nsr}, progress)
		if err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, fmt.Errorf("%w: method=%q, want richardson_lucy or wiener", ErrInvalidParameter, method)
	}

	payload := map[string]any{
		"method":            method,
		"psf_type":          psfType,
		"improvement_ratio": contrastRatio(restored, ch),
		"parameters_used":   used,
	}
	if method == "richardson_lucy" {
		payload["iterations"] = iterations
	}
	return payload, confidenceDeconvolution, nil
}

// contrastRatio compares intensity spread after restoration against the
// input; deconvolution sharpens, so ratios above 1 indicate improvement.
func contrastRatio(restored, original *models.Volume) float64 {
	before := stat.PopStdDev(original.Float64(), nil)
	after := stat.PopStdDev(restored.Float64(), nil)
	if before <= 0 {
		return 1
	}
	return after / before
}

func runBlobDetection(a *Analyzer, v *models.Volume, _ models.Spacing, p Params, progress func(float64)) (map[string]any, float64, error) {
	opts := segmentation.DefaultBlobOptions()
	var err error
	if opts.MinSigma, err = p.Float("min_sigma", opts.MinSigma); err != nil {
		return nil, 0, err
	}
	if opts.MaxSigma, err = p.Float("max_sigma", opts.MaxSigma); err != nil {
		return nil, 0, err
	}
	if opts.NumSigma, err = p.Int("num_sigma", opts.NumSigma); err != nil {
		return nil, 0, err
	}
	if opts.Threshold, err = p.Float("threshold", opts.Threshold); err != nil {
		return nil, 0, err
	}
	if opts.Overlap, err = p.Float("overlap", opts.Overlap); err != nil {
		return nil, 0, err
	}

	blobs := segmentation.DetectBlobs(v.Channel(0), opts, progress)
	items := make([]map[string]any, len(blobs))
	for i, b := range blobs {
		items[i] = map[string]any{
			"z": b.Z, "y": b.Y, "x": b.X,
			"sigma":         b.Sigma,
			"radius_voxels": b.Radius(),
		}
	}
	payload := map[string]any{
		"count": len(blobs),
		"blobs": items,
		"parameters_used": map[string]any{
			"min_sigma": opts.MinSigma,
			"max_sigma": opts.MaxSigma,
			"num_sigma": opts.NumSigma,
			"threshold": opts.Threshold,
			"overlap":   opts.Overlap,
		},
	}
	return payload, confidenceBlobs, nil
}

func runMeasurements(a *Analyzer, v *models.Volume, spacing models.Spacing, p Params, progress func(float64)) (map[string]any, float64, error) {
	computeSurface, err := p.Bool("compute_surface", true)
	if err != nil {
		return nil, 0, err
	}
	used := map[string]any{"compute_surface": computeSurface}

	labels, err := segmentForLabels(v.Channel(0), p, used, scale(progress, 0, 0.5))
	if err != nil {
		return nil, 0, err
	}

	measurements, err := analysis.ObjectMeasurements(labels, analysis.MeasurementOptions{
		Spacing:        spacing,
		ComputeSurface: computeSurface,
	}, scale(progress, 0.5, 1))
	if err != nil {
		return nil, 0, err
	}

	objects := make([]map[string]any, len(measurements))
	for i, m := range measurements {
		obj := map[string]any{
			"id":          m.ObjectID,
			"voxel_count": m.VoxelCount,
			"volume_um3":  m.Volume,
			"centroid_um": m.Centroid,
			"extent":      m.Extent,
			"bbox": map[string]int{
				"z_min": m.BBox.ZMin, "z_max": m.BBox.ZMax,
				"y_min": m.BBox.YMin, "y_max": m.BBox.YMax,
				"x_min": m.BBox.XMin, "x_max": m.BBox.XMax,
			},
		}
		// Null surface metrics mark a per-object mesh failure, not a
		// failed analysis.
		if m.SurfaceArea != nil {
			obj["surface_area_um2"] = *m.SurfaceArea
		} else {
			obj["surface_area_um2"] = nil
		}
		if m.Sphericity != nil {
			obj["sphericity"] = *m.Sphericity
		} else {
			obj["sphericity"] = nil
		}
		objects[i] = obj
	}
	payload := map[string]any{
		"object_count":    len(objects),
		"objects":         objects,
		"parameters_used": used,
	}
	return payload, confidenceMeasurements, nil
}

func runZProfile(a *Analyzer, v *models.Volume, _ models.Spacing, p Params, progress func(float64)) (map[string]any, float64, error) {
	fitMethod, err := p.String("fit_method", analysis.FitExponential)
	if err != nil {
		return nil, 0, err
	}
	perObject, err := p.Bool("per_object", false)
	if err != nil {
		return nil, 0, err
	}
	used := map[string]any{"fit_method": fitMethod, "per_object": perObject}

	ch := v.Channel(0)
	var labels *models.Labeled
	profileProgress := scale(progress, 0, 0.8)
	if perObject {
		if labels, err = segmentForLabels(ch, p, used, scale(progress, 0, 0.4)); err != nil {
			return nil, 0, err
		}
		profileProgress = scale(progress, 0.4, 0.8)
	}

	res := analysis.ZProfile(ch, labels, profileProgress)
	correction, usedMethod, err := analysis.PhotobleachingCorrection(res.Global, fitMethod)
	if err != nil {
		return nil, 0, err
	}

	slices := make([]map[string]any, len(res.Global))
	for i, s := range res.Global {
		slices[i] = map[string]any{
			"z":    s.Z,
			"mean": s.Mean,
			"std":  s.Std,
			"max":  s.Max,
		}
	}
	payload := map[string]any{
		"depth":              res.Depth,
		"slices":             slices,
		"correction_factors": correction,
		"fit_method":         usedMethod,
		"parameters_used":    used,
	}
	if perObject {
		profiles := make([]map[string]any, len(res.Objects))
		for i, op := range res.Objects {
			trace := make([]map[string]any, len(op.Profile))
			for j, pt := range op.Profile {
				trace[j] = map[string]any{"z": pt.Z, "mean": pt.Mean, "voxel_count": pt.VoxelCount}
			}
			profiles[i] = map[string]any{
				"id":      op.ObjectID,
				"z_min":   op.ZMin,
				"z_max":   op.ZMax,
				"profile": trace,
			}
		}
		payload["object_profiles"] = profiles
	}
	report(progress, 1)
	return payload, confidenceZProfile, nil
}

// scale maps an inner callback's [0, 1] range onto [lo, hi] of the outer
// callback.
func scale(progress func(float64), lo, hi float64) func(float64) {
	if progress == nil {
		return nil
	}
	return func(frac float64) {
		progress(lo + frac*(hi-lo))
	}
}

func report(progress func(float64), frac float64) {
	if progress != nil {
		progress(frac)
	}
}
