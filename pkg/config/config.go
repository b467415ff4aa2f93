// Package config provides configuration loading and management for
// confocal3d. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the engine configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel kernels
		NumCores int `yaml:"numCores"`

		// DefaultSmoothSigma is the Gaussian pre-smoothing width in voxels
		DefaultSmoothSigma float64 `yaml:"defaultSmoothSigma"`

		// HistogramBins is the Otsu histogram resolution
		HistogramBins int `yaml:"histogramBins"`

		// MinObjectSize drops segmented components below this voxel count
		MinObjectSize int `yaml:"minObjectSize"`
	} `yaml:"processing"`

	// Voxel spacing in micrometers, applied when the acquisition does not
	// supply its own
	Spacing struct {
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
		Z float64 `yaml:"z"`
	} `yaml:"spacing"`

	// Deconvolution parameters
	Deconvolution struct {
		// PSFType selects the synthetic PSF model
		PSFType string `yaml:"psfType"`

		// Iterations is the Richardson-Lucy iteration count
		Iterations int `yaml:"iterations"`

		// Wavelength is the emission wavelength in micrometers
		Wavelength float64 `yaml:"wavelength"`

		// NumericalAperture of the objective
		NumericalAperture float64 `yaml:"numericalAperture"`

		// RefractiveIndex of the immersion medium
		RefractiveIndex float64 `yaml:"refractiveIndex"`
	} `yaml:"deconvolution"`

	// Device parameters
	Device struct {
		// MemorySafetyFactor scales the available-memory budget used to
		// estimate the maximum volume dimension
		MemorySafetyFactor float64 `yaml:"memorySafetyFactor"`
	} `yaml:"device"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.DefaultSmoothSigma = 1.0
	cfg.Processing.HistogramBins = 256
	cfg.Processing.MinObjectSize = 0

	cfg.Spacing.X = 0.1
	cfg.Spacing.Y = 0.1
	cfg.Spacing.Z = 0.2

	cfg.Deconvolution.PSFType = "gaussian"
	cfg.Deconvolution.Iterations = 10
	cfg.Deconvolution.Wavelength = 0.52
	cfg.Deconvolution.NumericalAperture = 1.4
	cfg.Deconvolution.RefractiveIndex = 1.518

	cfg.Device.MemorySafetyFactor = 0.8

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
