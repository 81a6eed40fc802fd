package audio

import (
	"bytes"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Decode converts a WAV or MP3 clip into a mono PCM signal.
func Decode(data []byte) (*PCM, error) {
	switch Sniff(data) {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	}
	return nil, ErrUnsupportedFormat
}

func decodeWAV(data []byte) (*PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrInvalidFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing wav format", ErrInvalidFormat)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	return &PCM{
		Samples:    downmix(buf, bitDepth),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

func downmix(buf *goaudio.IntBuffer, bitDepth int) []float64 {
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	full := float64(int64(1) << (bitDepth - 1))
	if bitDepth == 8 {
		// 8-bit WAV is unsigned.
		full = 128
	}

	frames := len(buf.Data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			v := float64(buf.Data[i*channels+c])
			if bitDepth == 8 {
				v -= 128
			}
			sum += v / full
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func decodeMP3(data []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	// go-mp3 always yields 16-bit little-endian stereo.
	raw, err := io.ReadAll(dec)
	if err != nil && len(raw) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	frames := len(raw) / 4
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8)
		r := int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8)
		out[i] = (float64(l) + float64(r)) / 2 / 32768
	}
	return &PCM{Samples: out, SampleRate: dec.SampleRate()}, nil
}
