// Package audio models playable clips and analyses their spectrum for mouth sync.
// Playback itself happens in the frontend; this package tracks clip state and
// decodes the same bytes to drive the analyser.
package audio

import (
	"bytes"
	"errors"
	"time"
)

// Common errors
var (
	ErrUnsupportedFormat   = errors.New("unsupported audio format")
	ErrInvalidFormat       = errors.New("invalid audio data")
	ErrAnalysisUnavailable = errors.New("audio analysis unavailable")
	ErrClipEnded           = errors.New("clip already ended")
)

// AudioFormat represents audio encoding format
type AudioFormat string

const (
	FormatWAV     AudioFormat = "wav"
	FormatMP3     AudioFormat = "mp3"
	FormatUnknown AudioFormat = "unknown"
)

// MIMEType returns the media type a frontend should use for the format.
func (f AudioFormat) MIMEType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	default:
		// The chat server labels every clip as WAV.
		return "audio/wav"
	}
}

// Sniff identifies a clip's container from its leading bytes.
func Sniff(data []byte) AudioFormat {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

// PCM is a decoded mono signal
type PCM struct {
	Samples    []float64 // normalized to [-1, 1]
	SampleRate int
}

// Duration returns the playing time of the signal.
func (p *PCM) Duration() time.Duration {
	if p == nil || p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(p.Samples)) * time.Second / time.Duration(p.SampleRate)
}

// SampleAt returns the sample index for a playback position, clamped to the signal.
func (p *PCM) SampleAt(pos time.Duration) int {
	if pos <= 0 || p.SampleRate <= 0 {
		return 0
	}
	idx := int(pos.Seconds() * float64(p.SampleRate))
	if idx > len(p.Samples) {
		return len(p.Samples)
	}
	return idx
}
