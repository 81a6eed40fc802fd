package audio

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser exposes the frequency spectrum of a clip at its current position.
type Analyser interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []uint8)
	Disconnect() error
}

// Context creates analysers for clips. One context serves a whole session.
type Context interface {
	Resume() error
	NewAnalyser(clip Clip) (Analyser, error)
}

// AnalyserConfig mirrors the knobs of a browser AnalyserNode
type AnalyserConfig struct {
	FFTSize     int     `json:"fft_size"`     // power of two, default 256
	Smoothing   float64 `json:"smoothing"`    // time constant in [0, 1), default 0.8
	MinDecibels float64 `json:"min_decibels"` // default -100
	MaxDecibels float64 `json:"max_decibels"` // default -30
}

// DefaultAnalyserConfig returns sensible defaults
func DefaultAnalyserConfig() *AnalyserConfig {
	return &AnalyserConfig{
		FFTSize:     256,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

func (c *AnalyserConfig) validate() error {
	if c.FFTSize < 32 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("fft size %d is not a power of two >= 32", c.FFTSize)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("smoothing %v outside [0, 1)", c.Smoothing)
	}
	if c.MaxDecibels <= c.MinDecibels {
		return errors.New("max decibels must exceed min decibels")
	}
	return nil
}

// SpectrumAnalyser computes byte frequency data from decoded PCM, aligned to
// the clip's playhead.
type SpectrumAnalyser struct {
	cfg    AnalyserConfig
	clip   Clip
	pcm    *PCM
	fft    *fourier.FFT
	window []float64

	mu     sync.Mutex
	frame  []float64
	coeffs []complex128
	smooth []float64
	closed bool
}

// NewSpectrumAnalyser creates an analyser over pcm following clip's position.
func NewSpectrumAnalyser(clip Clip, pcm *PCM, cfg *AnalyserConfig) (*SpectrumAnalyser, error) {
	if cfg == nil {
		cfg = DefaultAnalyserConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := cfg.FFTSize
	return &SpectrumAnalyser{
		cfg:    *cfg,
		clip:   clip,
		pcm:    pcm,
		fft:    fourier.NewFFT(n),
		window: blackman(n),
		frame:  make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		smooth: make([]float64, n/2),
	}, nil
}

// FrequencyBinCount is half the FFT size.
func (a *SpectrumAnalyser) FrequencyBinCount() int {
	return a.cfg.FFTSize / 2
}

// ByteFrequencyData fills dst with the current spectrum scaled to 0..255.
func (a *SpectrumAnalyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		for i := range dst {
			dst[i] = 0
		}
		return
	}

	n := a.cfg.FFTSize
	end := a.pcm.SampleAt(a.clip.Position())
	start := end - n
	for i := 0; i < n; i++ {
		idx := start + i
		if idx < 0 || idx >= len(a.pcm.Samples) {
			a.frame[i] = 0
			continue
		}
		a.frame[i] = a.pcm.Samples[idx] * a.window[i]
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	rangeDb := a.cfg.MaxDecibels - a.cfg.MinDecibels
	tau := a.cfg.Smoothing
	for k := 0; k < len(a.smooth) && k < len(dst); k++ {
		mag := cmplx.Abs(a.coeffs[k]) / float64(n)
		a.smooth[k] = tau*a.smooth[k] + (1-tau)*mag

		db := math.Inf(-1)
		if a.smooth[k] > 0 {
			db = 20 * math.Log10(a.smooth[k])
		}
		v := math.Floor(255 / rangeDb * (db - a.cfg.MinDecibels))
		switch {
		case math.IsNaN(v) || v < 0:
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = uint8(v)
		}
	}
}

// Disconnect releases the analyser; later reads yield silence.
func (a *SpectrumAnalyser) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("analyser already disconnected")
	}
	a.closed = true
	return nil
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

// AnalysisContext decodes clip bytes and builds spectrum analysers.
type AnalysisContext struct {
	cfg    *AnalyserConfig
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewAnalysisContext creates the session's analysis context.
func NewAnalysisContext(cfg *AnalyserConfig, logger zerolog.Logger) (*AnalysisContext, error) {
	if cfg == nil {
		cfg = DefaultAnalyserConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid analyser config: %w", err)
	}
	return &AnalysisContext{
		cfg:    cfg,
		logger: logger.With().Str("component", "audio-analysis").Logger(),
	}, nil
}

// Resume fails once the context has been closed.
func (c *AnalysisContext) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrAnalysisUnavailable
	}
	return nil
}

// NewAnalyser decodes the clip and attaches an analyser to it.
func (c *AnalysisContext) NewAnalyser(clip Clip) (Analyser, error) {
	if err := c.Resume(); err != nil {
		return nil, err
	}

	pcm, err := Decode(clip.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to decode clip %s: %w", clip.ID(), err)
	}
	c.logger.Debug().
		Str("clip", clip.ID()).
		Int("sampleRate", pcm.SampleRate).
		Dur("duration", pcm.Duration()).
		Msg("Analyser attached")

	return NewSpectrumAnalyser(clip, pcm, c.cfg)
}

// Close makes every later Resume and NewAnalyser fail.
func (c *AnalysisContext) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
