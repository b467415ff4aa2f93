// Package analyzer orchestrates the analysis engine: it owns the detected
// compute device, routes requests to the algorithm implementations, rescales
// their progress into the standard stage sequence and wraps their outputs in
// the versioned result envelope.
package analyzer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
	"confocal3d/pkg/device"
)

// Version stamps every result envelope.
const Version = "1.0.0"

var (
	// ErrUnknownAlgorithm reports a request for an algorithm id outside
	// the registry. Checked before any voxel is touched.
	ErrUnknownAlgorithm = errors.New("analyzer: unknown algorithm")

	// ErrChannelCount reports an algorithm given fewer channels than it
	// needs.
	ErrChannelCount = errors.New("analyzer: not enough channels")
)

// Algorithm ids accepted by Analyze.
const (
	AlgSegmentation3D     = "segmentation_3d"
	AlgColocalization     = "colocalization"
	AlgIntensityAnalysis  = "intensity_analysis"
	AlgDeconvolution      = "deconvolution"
	AlgBlobDetection      = "blob_detection"
	AlgObjectMeasurements = "object_measurements"
	AlgZProfile           = "z_profile"
)

// ProgressFunc receives in-line progress updates during Analyze. Percent is
// 0..100, stage names the current phase, and etaSeconds is the estimated
// remaining time or negative when unknown. Calls happen on the calling
// goroutine; a slow sink slows the analysis.
type ProgressFunc func(percent float64, stage string, etaSeconds float64)

// Result is the envelope returned by every analysis.
type Result struct {
	ID               string         `json:"id"`
	Algorithm        string         `json:"algorithm"`
	Version          string         `json:"version"`
	Device           string         `json:"device"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
	Results          map[string]any `json:"results"`
	ConfidenceScore  float64        `json:"confidence_score"`
}

// runner executes one algorithm over the volume, reporting progress in
// [0, 1], and returns the result payload plus its confidence score.
type runner func(a *Analyzer, v *models.Volume, spacing models.Spacing, p Params, progress func(float64)) (map[string]any, float64, error)

// Analyzer is the façade of the engine. Construct one per process with the
// detected device context and share it; Analyze is safe for concurrent use.
type Analyzer struct {
	device  *device.Context
	logger  zerolog.Logger
	runners map[string]runner
}

// Option customizes the analyzer.
type Option func(*Analyzer)

// WithLogger routes engine logging to the given logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// New builds an analyzer bound to an already-detected device context.
func New(dev *device.Context, opts ...Option) *Analyzer {
	a := &Analyzer{
		device: dev,
		logger: log.Logger,
		runners: map[string]runner{
			AlgSegmentation3D:     runSegmentation,
			AlgColocalization:     runColocalization,
			AlgIntensityAnalysis:  runIntensity,
			AlgDeconvolution:      runDeconvolution,
			AlgBlobDetection:      runBlobDetection,
			AlgObjectMeasurements: runMeasurements,
			AlgZProfile:           runZProfile,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Algorithms lists the registered algorithm ids.
func (a *Analyzer) Algorithms() []string {
	out := make([]string, 0, len(a.runners))
	for id := range a.runners {
		out = append(out, id)
	}
	return out
}

// Analyze runs one algorithm over a volume and returns the result envelope.
// An unknown algorithm id fails before any processing. The progress sink is
// optional; when supplied it sees the standard stage sequence: loading (5%),
// initializing (15%), the algorithm itself rescaled into 15-95%, finalizing
// (95%) and complete (100%, eta 0).
func (a *Analyzer) Analyze(v *models.Volume, spacing models.Spacing, algorithm string, params Params, progress ProgressFunc) (*Result, error) {
	run, ok := a.runners[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
	if params == nil {
		params = Params{}
	}

	start := time.Now()
	emit := func(percent float64, stage string, eta float64) {
		if progress != nil {
			progress(percent, stage, eta)
		}
	}

	a.logger.Info().
		Str("algorithm", algorithm).
		Int("channels", v.Channels).
		Int("depth", v.Depth).Int("height", v.Height).Int("width", v.Width).
		Msg("analysis started")

	emit(5, "loading", -1)
	emit(15, "initializing", -1)

	inner := func(frac float64) {
		if frac < 0 {
			frac = 0
		} else if frac > 1 {
			frac = 1
		}
		eta := -1.0
		if frac > 0.02 {
			elapsed := time.Since(start).Seconds()
			eta = elapsed/frac - elapsed
		}
		emit(15+frac*80, algorithm, eta)
	}

	payload, confidence, err := run(a, v, spacing, params, inner)
	if err != nil {
		a.logger.Error().Err(err).Str("algorithm", algorithm).Msg("analysis failed")
		return nil, err
	}

	emit(95, "finalizing", -1)

	elapsed := time.Since(start)
	result := &Result{
		ID:               uuid.NewString(),
		Algorithm:        algorithm,
		Version:          Version,
		Device:           a.device.Describe().String(),
		ProcessingTimeMS: float64(elapsed.Microseconds()) / 1000,
		Results:          payload,
		ConfidenceScore:  confidence,
	}

	emit(100, "complete", 0)
	a.logger.Info().
		Str("algorithm", algorithm).
		Dur("elapsed", elapsed).
		Msg("analysis complete")
	return result, nil
}
