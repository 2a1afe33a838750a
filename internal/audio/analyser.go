package audio

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize          = 256
	DefaultSmoothingTime    = 0.8
	DefaultMinDecibels      = -100.0
	DefaultMaxDecibels      = -30.0
	int16FullScale          = 32768.0
	timeDomainCentre        = 128.0
	timeDomainByteAmplitude = 128.0
)

// Analyser keeps a sliding window of the most recent samples and renders
// it as analyser-style byte arrays: a time-domain waveform and a smoothed
// magnitude spectrum in decibels.
type Analyser struct {
	mu sync.Mutex

	fftSize     int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	fft      *fourier.FFT
	window   []float64
	samples  []float64
	pos      int
	spectrum []float64
	coeffs   []complex128
	scratch  []float64
}

// NewAnalyser creates an analyser over fftSize samples. fftSize must be a
// power of two; non-positive values fall back to DefaultFFTSize.
func NewAnalyser(fftSize int) *Analyser {
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		fftSize = DefaultFFTSize
	}

	return &Analyser{
		fftSize:     fftSize,
		smoothing:   DefaultSmoothingTime,
		minDecibels: DefaultMinDecibels,
		maxDecibels: DefaultMaxDecibels,
		fft:         fourier.NewFFT(fftSize),
		window:      blackman(fftSize),
		samples:     make([]float64, fftSize),
		spectrum:    make([]float64, fftSize/2),
		scratch:     make([]float64, fftSize),
	}
}

// FrequencyBinCount returns half the FFT size
func (a *Analyser) FrequencyBinCount() int {
	return a.fftSize / 2
}

// Write appends samples in [-1,1] to the window
func (a *Analyser) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		a.samples[a.pos] = s
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// WritePCM16 appends little-endian signed 16-bit mono samples
func (a *Analyser) WritePCM16(pcm []byte) {
	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		samples[i] = float64(v) / int16FullScale
	}
	a.Write(samples)
}

// Reset clears the window and the spectrum history
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	clear(a.samples)
	clear(a.spectrum)
	a.pos = 0
}

// ByteTimeDomainData copies the current waveform into dst
func (a *Analyser) ByteTimeDomainData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := min(len(dst), a.fftSize)
	for i := 0; i < n; i++ {
		s := a.samples[(a.pos+i)%a.fftSize]
		dst[i] = clampByte(timeDomainCentre + s*timeDomainByteAmplitude)
	}
}

// ByteFrequencyData runs the FFT over the current window, applies the
// temporal smoothing and copies the spectrum into dst in 0..255.
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.fftSize; i++ {
		a.scratch[i] = a.samples[(a.pos+i)%a.fftSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	scale := 255 / (a.maxDecibels - a.minDecibels)
	n := min(len(dst), len(a.spectrum))
	for k := range a.spectrum {
		magnitude := cmplx.Abs(a.coeffs[k]) / float64(a.fftSize)
		a.spectrum[k] = a.smoothing*a.spectrum[k] + (1-a.smoothing)*magnitude
		if k >= n {
			continue
		}
		if a.spectrum[k] == 0 {
			dst[k] = 0
			continue
		}
		db := 20 * math.Log10(a.spectrum[k])
		dst[k] = clampByte((db - a.minDecibels) * scale)
	}
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := (1 - alpha) / 2
	a1 := 0.5
	a2 := alpha / 2

	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
