package kernels

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"confocal3d/internal/models"
)

// The deconvolution module works in the frequency domain. The 3D transform
// is composed from gonum's 1D FFT applied along each axis in turn.

// FFT3 computes the forward 3D DFT of a single-channel volume, returning
// flat coefficients with the volume's dimensions.
func FFT3(v *models.Volume) []complex128 {
	data := make([]complex128, v.VoxelCount())
	for i, s := range v.Data {
		data[i] = complex(float64(s), 0)
	}
	fft3(data, v.Depth, v.Height, v.Width, false)
	return data
}

// IFFT3Real computes the inverse 3D DFT and returns the real part as a
// volume of the given dimensions.
func IFFT3Real(coeff []complex128, depth, height, width int) *models.Volume {
	data := make([]complex128, len(coeff))
	copy(data, coeff)
	fft3(data, depth, height, width, true)
	out := models.New(depth, height, width)
	for i, c := range data {
		out.Data[i] = float32(real(c))
	}
	return out
}

// fft3 transforms data in place along z, then y, then x. The inverse pass
// includes the 1/N normalization.
func fft3(data []complex128, depth, height, width int, inverse bool) {
	transformAxis(data, depth, height, width, axisZ, inverse)
	transformAxis(data, depth, height, width, axisY, inverse)
	transformAxis(data, depth, height, width, axisX, inverse)
	if inverse {
		norm := 1 / float64(depth*height*width)
		for i := range data {
			data[i] *= complex(norm, 0)
		}
	}
}

func transformAxis(data []complex128, depth, height, width int, ax axis, inverse bool) {
	v := &models.Volume{Channels: 1, Depth: depth, Height: height, Width: width}
	numLines, lineLen, stride, lineStart := lineGeometry(v, ax)

	fft := fourier.NewCmplxFFT(lineLen)
	line := make([]complex128, lineLen)
	out := make([]complex128, lineLen)

	for i := 0; i < numLines; i++ {
		base := lineStart(i)
		for j := 0; j < lineLen; j++ {
			line[j] = data[base+j*stride]
		}
		if inverse {
			fft.Sequence(out, line)
		} else {
			fft.Coefficients(out, line)
		}
		for j := 0; j < lineLen; j++ {
			data[base+j*stride] = out[j]
		}
	}
}

// ConvolveFFT performs linear convolution in the frequency domain and
// crops the result to the input's shape ("same" semantics, kernel centered).
// It is the workhorse behind Richardson-Lucy restoration, where kernel
// sizes make direct convolution impractical.
func ConvolveFFT(v, kernel *models.Volume, progress func(float64)) *models.Volume {
	report(progress, 0)
	pd := v.Depth + kernel.Depth - 1
	ph := v.Height + kernel.Height - 1
	pw := v.Width + kernel.Width - 1

	a := embed(v, pd, ph, pw)
	b := embed(kernel, pd, ph, pw)
	report(progress, 0.2)

	fft3(a, pd, ph, pw, false)
	fft3(b, pd, ph, pw, false)
	for i := range a {
		a[i] *= b[i]
	}
	report(progress, 0.7)
	fft3(a, pd, ph, pw, true)

	// Crop the centered "same" window.
	oz, oy, ox := kernel.Depth/2, kernel.Height/2, kernel.Width/2
	out := models.New(v.Depth, v.Height, v.Width)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				src := ((z+oz)*ph+(y+oy))*pw + (x + ox)
				out.Set(z, y, x, float32(real(a[src])))
			}
		}
	}
	report(progress, 1)
	return out
}

// embed zero-pads a volume into the top-left corner of a (pd, ph, pw)
// complex buffer.
func embed(v *models.Volume, pd, ph, pw int) []complex128 {
	out := make([]complex128, pd*ph*pw)
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			base := (z*ph + y) * pw
			src := (z*v.Height + y) * v.Width
			for x := 0; x < v.Width; x++ {
				out[base+x] = complex(float64(v.Data[src+x]), 0)
			}
		}
	}
	return out
}
