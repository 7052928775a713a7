package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// AnalyserConfig mirrors the knobs of a WebAudio AnalyserNode
type AnalyserConfig struct {
	FFTSize               int
	SmoothingTimeConstant float64
	MinDecibels           float64
	MaxDecibels           float64
}

// DefaultAnalyserConfig matches the browser defaults used by the web client
func DefaultAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{
		FFTSize:               256,
		SmoothingTimeConstant: 0.8,
		MinDecibels:           -100,
		MaxDecibels:           -30,
	}
}

// Analyser computes byte frequency data over the most recent FFTSize
// samples written to it. Write is called from the audio thread and
// ByteFrequencyData from the animation loop.
type Analyser struct {
	cfg AnalyserConfig
	fft *fourier.FFT

	mu     sync.Mutex
	ring   []float64
	pos    int
	window []float64
	frame  []float64
	coeffs []complex128
	smooth []float64
}

// NewAnalyser creates an analyser. FFTSize must be a power of two.
func NewAnalyser(cfg AnalyserConfig) *Analyser {
	if cfg.FFTSize < 32 || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		cfg.FFTSize = 256
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels, cfg.MaxDecibels = -100, -30
	}
	if cfg.SmoothingTimeConstant < 0 || cfg.SmoothingTimeConstant >= 1 {
		cfg.SmoothingTimeConstant = 0.8
	}

	n := cfg.FFTSize
	return &Analyser{
		cfg:    cfg,
		fft:    fourier.NewFFT(n),
		ring:   make([]float64, n),
		window: blackman(n),
		frame:  make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		smooth: make([]float64, n/2),
	}
}

// BinCount returns FFTSize/2
func (a *Analyser) BinCount() int {
	return a.cfg.FFTSize / 2
}

// Write appends played samples to the analysis window
func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % n
	}
}

// ByteFrequencyData fills dst with smoothed bin magnitudes mapped from the
// decibel range onto 0..255. Each call advances the smoothing.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	for i := 0; i < n; i++ {
		a.frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	tau := a.cfg.SmoothingTimeConstant
	rangeDB := a.cfg.MaxDecibels - a.cfg.MinDecibels

	for k := range a.smooth {
		mag := cmplxAbs(a.coeffs[k]) / float64(n)
		a.smooth[k] = tau*a.smooth[k] + (1-tau)*mag

		if k >= len(dst) {
			continue
		}
		db := math.Inf(-1)
		if a.smooth[k] > 0 {
			db = 20 * math.Log10(a.smooth[k])
		}
		v := math.Floor(255 / rangeDB * (db - a.cfg.MinDecibels))
		switch {
		case v < 0 || math.IsNaN(v):
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = byte(v)
		}
	}
}

// Reset clears the window and smoothing state
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smooth)
	a.pos = 0
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := 0.5 * (1 - alpha)
	a1 := 0.5
	a2 := 0.5 * alpha

	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
