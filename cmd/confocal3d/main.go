package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"confocal3d/internal/models"
	"confocal3d/pkg/analyzer"
	"confocal3d/pkg/config"
	"confocal3d/pkg/device"
	"confocal3d/pkg/kernels"
)

func main() {
	// Parse command line arguments
	inputPath := flag.String("input", "", "Raw volume file (headerless, channel-major z/y/x order)")
	dims := flag.String("dims", "", "Volume dimensions as DxHxW, e.g. 32x256x256")
	channels := flag.Int("channels", 1, "Number of channels in the input")
	bits := flag.Int("bits", 16, "Sample width of the input: 8, 16 or 32 (float)")
	algorithm := flag.String("algorithm", analyzer.AlgSegmentation3D, "Analysis algorithm to run")
	paramsJSON := flag.String("params", "{}", "Algorithm parameters as a JSON object")
	configPath := flag.String("config", "", "Optional YAML configuration file")
	demo := flag.Bool("demo", false, "Run on a built-in synthetic volume instead of -input")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load configuration")
		}
		cfg = loaded
		if cfg.Output.Verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	}

	var vol *models.Volume
	var err error
	switch {
	case *demo:
		vol = demoVolume()
	case *inputPath != "":
		vol, err = loadRaw(*inputPath, *dims, *channels, *bits)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load input volume")
		}
	default:
		flag.Usage()
		os.Exit(1)
	}

	var params analyzer.Params
	if err := json.Unmarshal([]byte(*paramsJSON), &params); err != nil {
		log.Fatal().Err(err).Msg("failed to parse -params")
	}
	if params == nil {
		params = analyzer.Params{}
	}
	applyConfigDefaults(params, cfg, *algorithm)

	kernels.SetMaxWorkers(cfg.Processing.NumCores)
	dev := device.Detect()
	maxDim := dev.EstimateMaxVolumeDimension(cfg.Device.MemorySafetyFactor)
	log.Info().
		Str("device", dev.Describe().String()).
		Int("max_dimension", maxDim).
		Msg("device ready")

	spacing := models.Spacing{X: cfg.Spacing.X, Y: cfg.Spacing.Y, Z: cfg.Spacing.Z}
	engine := analyzer.New(dev)

	progress := func(percent float64, stage string, etaSeconds float64) {
		ev := log.Info().Float64("percent", percent).Str("stage", stage)
		if etaSeconds >= 0 {
			ev = ev.Float64("eta_s", etaSeconds)
		}
		ev.Msg("progress")
	}

	result, err := engine.Analyze(vol, spacing, *algorithm, params, progress)
	if err != nil {
		log.Fatal().Err(err).Msg("analysis failed")
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode result")
	}
	fmt.Println(string(out))
}

// applyConfigDefaults seeds algorithm parameters from the configuration
// file. Explicit -params values always win.
func applyConfigDefaults(params analyzer.Params, cfg *config.Config, algorithm string) {
	setIfAbsent := func(key string, value any) {
		if _, ok := params[key]; !ok {
			params[key] = value
		}
	}
	switch algorithm {
	case analyzer.AlgSegmentation3D, analyzer.AlgObjectMeasurements,
		analyzer.AlgIntensityAnalysis, analyzer.AlgZProfile:
		setIfAbsent("sigma", cfg.Processing.DefaultSmoothSigma)
		setIfAbsent("min_object_size", cfg.Processing.MinObjectSize)
		setIfAbsent("histogram_bins", cfg.Processing.HistogramBins)
	case analyzer.AlgDeconvolution:
		setIfAbsent("psf_type", cfg.Deconvolution.PSFType)
		setIfAbsent("iterations", cfg.Deconvolution.Iterations)
		setIfAbsent("wavelength", cfg.Deconvolution.Wavelength)
		setIfAbsent("numerical_aperture", cfg.Deconvolution.NumericalAperture)
		setIfAbsent("refractive_index", cfg.Deconvolution.RefractiveIndex)
	}
}

// loadRaw reads a headerless sample buffer with the given geometry.
func loadRaw(path, dims string, channels, bits int) (*models.Volume, error) {
	d, h, w, err := parseDims(dims)
	if err != nil {
		return nil, err
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n := channels * d * h * w

	switch bits {
	case 8:
		if len(raw) != n {
			return nil, fmt.Errorf("input is %d bytes, geometry needs %d", len(raw), n)
		}
		return models.FromUint8(raw, channels, d, h, w), nil
	case 16:
		if len(raw) != 2*n {
			return nil, fmt.Errorf("input is %d bytes, geometry needs %d", len(raw), 2*n)
		}
		samples := make([]uint16, n)
		for i := range samples {
			samples[i] = binary.LittleEndian.Uint16(raw[2*i:])
		}
		return models.FromUint16(samples, channels, d, h, w), nil
	case 32:
		if len(raw) != 4*n {
			return nil, fmt.Errorf("input is %d bytes, geometry needs %d", len(raw), 4*n)
		}
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
		return models.FromFloat32(samples, channels, d, h, w), nil
	default:
		return nil, fmt.Errorf("unsupported sample width %d, want 8, 16 or 32", bits)
	}
}

func parseDims(dims string) (d, h, w int, err error) {
	parts := strings.Split(dims, "x")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("invalid -dims %q, want DxHxW", dims)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 1 {
			return 0, 0, 0, fmt.Errorf("invalid -dims %q, want DxHxW", dims)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}

// demoVolume builds a two-channel synthetic stack: a few Gaussian spots per
// channel over a low background, enough to exercise every algorithm.
func demoVolume() *models.Volume {
	const d, h, w = 32, 64, 64
	vol := models.NewMultiChannel(2, d, h, w)

	spots := [][4]float64{
		{8, 16, 16, 3},
		{16, 32, 40, 4},
		{24, 48, 20, 3},
	}
	for c := 0; c < 2; c++ {
		ch := vol.Channel(c)
		for z := 0; z < d; z++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					val := 10.0
					for _, s := range spots {
						dz := (float64(z) - s[0]) / s[3]
						dy := (float64(y) - s[1]) / s[3]
						dx := (float64(x) - s[2]) / s[3]
						val += 200 * math.Exp(-0.5*(dz*dz+dy*dy+dx*dx))
					}
					ch.Set(z, y, x, float32(val))
				}
			}
		}
	}
	return vol
}
