// Package mouthsync drives the avatar's mouth proxy from the spectrum of the
// clip being played.
package mouthsync

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"

	"github.com/normanking/cortextalk/internal/audio"
)

// Mode tells the frontend who animates the mouth proxy.
type Mode string

const (
	// ModeManual means scale updates come from the analyser.
	ModeManual Mode = "manual"
	// ModeFallback means the frontend's own talking animation applies.
	ModeFallback Mode = "fallback"
)

const (
	RestingScale = 0.2
	MaxScale     = 1.4
	// meanDivisor maps mean byte energy onto the scale range.
	meanDivisor = 150.0
)

// Mouth is the visual proxy being driven.
type Mouth interface {
	SetMouth(scale float64, mode Mode)
}

// Policy decides when analysis runs relative to the video avatar.
type Policy string

const (
	// PolicyAlways runs analysis for every clip, in parallel with video.
	PolicyAlways Policy = "always"
	// PolicyFallback only runs analysis when no video visual is active.
	PolicyFallback Policy = "fallback"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAlways, PolicyFallback:
		return Policy(s), nil
	case "":
		return PolicyAlways, nil
	}
	return "", fmt.Errorf("unknown mouth policy %q", s)
}

// ContextFactory creates the audio analysis context. It is called lazily on
// the first attached clip and again only until it succeeds.
type ContextFactory func() (audio.Context, error)

// Config holds sampling settings
type Config struct {
	FrameInterval time.Duration
	Policy        Policy
}

// DefaultConfig samples at roughly display refresh rate.
func DefaultConfig() *Config {
	return &Config{
		FrameInterval: 16 * time.Millisecond,
		Policy:        PolicyAlways,
	}
}

// Sync attaches analysers to clips and maps their energy onto the mouth.
type Sync struct {
	mouth      Mouth
	newContext ContextFactory
	interval   time.Duration
	logger     zerolog.Logger

	mu          sync.Mutex
	ctx         audio.Context
	policy      Policy
	videoActive func() bool
}

// New creates a mouth sync. A nil factory means no analysis API is available.
func New(mouth Mouth, factory ContextFactory, cfg *Config, logger zerolog.Logger) *Sync {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	interval := cfg.FrameInterval
	if interval <= 0 {
		interval = DefaultConfig().FrameInterval
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyAlways
	}
	return &Sync{
		mouth:      mouth,
		newContext: factory,
		interval:   interval,
		policy:     policy,
		logger:     logger.With().Str("component", "mouth-sync").Logger(),
	}
}

// SetPolicy changes the policy for clips attached afterwards.
func (s *Sync) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// Policy returns the current policy.
func (s *Sync) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetVideoActive registers the probe used by PolicyFallback.
func (s *Sync) SetVideoActive(fn func() bool) {
	s.mu.Lock()
	s.videoActive = fn
	s.mu.Unlock()
}

// Reset puts the mouth back to its resting shape in fallback mode.
func (s *Sync) Reset() {
	if s.mouth == nil {
		return
	}
	s.mouth.SetMouth(RestingScale, ModeFallback)
}

// Attach prepares analysis for clip. Every failure degrades to fallback mode.
func (s *Sync) Attach(clip audio.Clip) {
	if s.mouth == nil {
		return
	}

	s.mu.Lock()
	policy := s.policy
	videoActive := s.videoActive
	s.mu.Unlock()

	if policy == PolicyFallback && videoActive != nil && videoActive() {
		s.logger.Debug().Str("clip", clip.ID()).Msg("Video active, skipping mouth analysis")
		return
	}

	ctx, err := s.context()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Audio analysis unavailable")
		s.Reset()
		return
	}

	s.mouth.SetMouth(RestingScale, ModeManual)

	analyser, err := ctx.NewAnalyser(clip)
	if err != nil {
		s.logger.Warn().Err(err).Str("clip", clip.ID()).Msg("Failed to create analyser")
		s.Reset()
		return
	}

	t := &track{
		sync:     s,
		clip:     clip,
		ctx:      ctx,
		analyser: analyser,
		bins:     make([]uint8, analyser.FrequencyBinCount()),
		stop:     make(chan struct{}),
	}
	clip.AddListener(t.handle)
}

// Close releases the shared context if it supports closing.
func (s *Sync) Close() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if c, ok := ctx.(interface{ Close() }); ok {
		c.Close()
	}
}

func (s *Sync) context() (audio.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return s.ctx, nil
	}
	if s.newContext == nil {
		return nil, audio.ErrAnalysisUnavailable
	}
	ctx, err := s.newContext()
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}
	s.ctx = ctx
	return ctx, nil
}

// Scale maps mean byte frequency energy onto the mouth's vertical scale.
func Scale(mean float64) float64 {
	return mgl64.Round(mgl64.Clamp(RestingScale+mean/meanDivisor, RestingScale, MaxScale), 2)
}

// track is the analysis graph of one clip.
type track struct {
	sync     *Sync
	clip     audio.Clip
	ctx      audio.Context
	analyser audio.Analyser
	bins     []uint8

	playOnce sync.Once
	mu       sync.Mutex
	closed   bool
	stop     chan struct{}
}

func (t *track) handle(ev audio.ClipEvent) {
	switch ev.Type {
	case audio.ClipPlay:
		t.playOnce.Do(func() { go t.run() })
	case audio.ClipPause, audio.ClipEnded, audio.ClipError:
		t.cleanup()
	}
}

func (t *track) run() {
	if err := t.ctx.Resume(); err != nil {
		t.sync.logger.Warn().Err(err).Msg("Audio context could not resume")
		t.sync.Reset()
		return
	}

	ticker := time.NewTicker(t.sync.interval)
	defer ticker.Stop()

	for t.sample() {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
	}
}

// sample updates the mouth once and reports whether to keep going.
func (t *track) sample() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}

	t.analyser.ByteFrequencyData(t.bins)
	var mean float64
	if len(t.bins) > 0 {
		var sum int
		for _, b := range t.bins {
			sum += int(b)
		}
		mean = float64(sum) / float64(len(t.bins))
	}
	t.sync.mouth.SetMouth(Scale(mean), ModeManual)

	return !t.clip.Paused() && !t.clip.Ended()
}

func (t *track) cleanup() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.stop)
	t.mu.Unlock()

	t.sync.Reset()
	if err := t.analyser.Disconnect(); err != nil {
		t.sync.logger.Warn().Err(err).Str("clip", t.clip.ID()).Msg("Analyser disconnect failed")
	}
}
