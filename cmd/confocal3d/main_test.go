package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confocal3d/pkg/analyzer"
	"confocal3d/pkg/config"
)

func TestApplyConfigDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Processing.DefaultSmoothSigma = 2.5
	cfg.Processing.MinObjectSize = 9

	params := analyzer.Params{"sigma": 1.0}
	applyConfigDefaults(params, cfg, analyzer.AlgSegmentation3D)

	// Explicit parameters win over configuration defaults.
	assert.Equal(t, 1.0, params["sigma"])
	assert.Equal(t, 9, params["min_object_size"])
	assert.Equal(t, cfg.Processing.HistogramBins, params["histogram_bins"])

	deconv := analyzer.Params{}
	applyConfigDefaults(deconv, cfg, analyzer.AlgDeconvolution)
	assert.Equal(t, cfg.Deconvolution.PSFType, deconv["psf_type"])
	assert.Equal(t, cfg.Deconvolution.Iterations, deconv["iterations"])
	assert.Equal(t, cfg.Deconvolution.Wavelength, deconv["wavelength"])

	coloc := analyzer.Params{}
	applyConfigDefaults(coloc, cfg, analyzer.AlgColocalization)
	assert.Empty(t, coloc)
}

func TestParseDims(t *testing.T) {
	d, h, w, err := parseDims("32x256x256")
	require.NoError(t, err)
	assert.Equal(t, []int{32, 256, 256}, []int{d, h, w})

	_, _, _, err = parseDims("32x256")
	assert.Error(t, err)
	_, _, _, err = parseDims("ax2x3")
	assert.Error(t, err)
}
