package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortextalk/tests/testutil"
)

// fixedClip is a clip frozen at a position, for analyser tests.
type fixedClip struct {
	Emitter
	data []byte
	pos  time.Duration
}

func (c *fixedClip) ID() string              { return "fixed" }
func (c *fixedClip) Data() []byte            { return c.data }
func (c *fixedClip) Play() error             { return nil }
func (c *fixedClip) Stop()                   {}
func (c *fixedClip) Paused() bool            { return false }
func (c *fixedClip) Ended() bool             { return false }
func (c *fixedClip) Position() time.Duration { return c.pos }

func TestSniff(t *testing.T) {
	assert.Equal(t, FormatWAV, Sniff(testutil.GenerateTestAudio(t, 10*time.Millisecond)))
	assert.Equal(t, FormatMP3, Sniff([]byte("ID3\x04\x00")))
	assert.Equal(t, FormatMP3, Sniff([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.Equal(t, FormatUnknown, Sniff([]byte("hello")))
	assert.Equal(t, FormatUnknown, Sniff(nil))

	assert.Equal(t, "audio/wav", FormatWAV.MIMEType())
	assert.Equal(t, "audio/mpeg", FormatMP3.MIMEType())
	assert.Equal(t, "audio/wav", FormatUnknown.MIMEType())
}

func TestDecodeWAV(t *testing.T) {
	data := testutil.GenerateToneAudio(t, 500*time.Millisecond, 440, 0.5)

	pcm, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, pcm.SampleRate)
	assert.Len(t, pcm.Samples, 8000)
	assert.Equal(t, 500*time.Millisecond, pcm.Duration())

	var peak float64
	for _, s := range pcm.Samples {
		if s > peak {
			peak = s
		}
	}
	assert.InDelta(t, 0.5, peak, 0.01)
}

func TestDecodeRejectsUnknown(t *testing.T) {
	_, err := Decode([]byte("definitely not audio"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestPCMSampleAt(t *testing.T) {
	pcm := &PCM{Samples: make([]float64, 100), SampleRate: 1000}

	assert.Equal(t, 0, pcm.SampleAt(-time.Second))
	assert.Equal(t, 50, pcm.SampleAt(50*time.Millisecond))
	assert.Equal(t, 100, pcm.SampleAt(time.Hour))
	assert.Equal(t, time.Duration(0), (*PCM)(nil).Duration())
}

func TestAnalyserToneVersusSilence(t *testing.T) {
	ctx, err := NewAnalysisContext(nil, zerolog.Nop())
	require.NoError(t, err)

	energy := func(data []byte) int {
		clip := &fixedClip{data: data, pos: 250 * time.Millisecond}
		an, err := ctx.NewAnalyser(clip)
		require.NoError(t, err)
		defer an.Disconnect()

		assert.Equal(t, 128, an.FrequencyBinCount())
		bins := make([]uint8, an.FrequencyBinCount())
		an.ByteFrequencyData(bins)
		sum := 0
		for _, b := range bins {
			sum += int(b)
		}
		return sum
	}

	tone := energy(testutil.GenerateToneAudio(t, 500*time.Millisecond, 1000, 0.5))
	silence := energy(testutil.GenerateTestAudio(t, 500*time.Millisecond))

	assert.Greater(t, tone, 0)
	assert.Equal(t, 0, silence)
}

func TestAnalyserDisconnect(t *testing.T) {
	data := testutil.GenerateToneAudio(t, 200*time.Millisecond, 1000, 0.8)
	pcm, err := Decode(data)
	require.NoError(t, err)

	an, err := NewSpectrumAnalyser(&fixedClip{data: data, pos: 100 * time.Millisecond}, pcm, nil)
	require.NoError(t, err)

	require.NoError(t, an.Disconnect())
	assert.Error(t, an.Disconnect())

	bins := make([]uint8, an.FrequencyBinCount())
	for i := range bins {
		bins[i] = 9
	}
	an.ByteFrequencyData(bins)
	for _, b := range bins {
		assert.Zero(t, b)
	}
}

func TestAnalyserConfigValidation(t *testing.T) {
	_, err := NewAnalysisContext(&AnalyserConfig{FFTSize: 100, Smoothing: 0.5, MinDecibels: -100, MaxDecibels: -30}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewAnalysisContext(&AnalyserConfig{FFTSize: 256, Smoothing: 1, MinDecibels: -100, MaxDecibels: -30}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewAnalysisContext(&AnalyserConfig{FFTSize: 256, Smoothing: 0.5, MinDecibels: -30, MaxDecibels: -30}, zerolog.Nop())
	assert.Error(t, err)
}

func TestAnalysisContextClosed(t *testing.T) {
	ctx, err := NewAnalysisContext(nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, ctx.Resume())

	ctx.Close()
	assert.ErrorIs(t, ctx.Resume(), ErrAnalysisUnavailable)
	_, err = ctx.NewAnalyser(&fixedClip{data: testutil.GenerateTestAudio(t, 10*time.Millisecond)})
	assert.ErrorIs(t, err, ErrAnalysisUnavailable)
}

func TestPlayhead(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewPlayhead(func() time.Time { return now })

	assert.Equal(t, time.Duration(0), p.Position())
	p.Start()
	now = now.Add(300 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, p.Position())

	p.Pause()
	now = now.Add(time.Second)
	assert.Equal(t, 300*time.Millisecond, p.Position())
	assert.False(t, p.Running())

	p.Start()
	now = now.Add(100 * time.Millisecond)
	p.End()
	assert.Equal(t, 400*time.Millisecond, p.Position())
	assert.True(t, p.Ended())

	p.Start()
	assert.False(t, p.Running())
}

type eventLog struct {
	mu     sync.Mutex
	events []ClipEventType
}

func (l *eventLog) record(ev ClipEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev.Type)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []ClipEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ClipEventType(nil), l.events...)
}

func TestVirtualClipPlaysToEnd(t *testing.T) {
	player := &VirtualPlayer{Speed: 20}
	clip, err := player.NewClip(testutil.GenerateTestAudio(t, time.Second))
	require.NoError(t, err)
	assert.NotEmpty(t, clip.ID())
	assert.Equal(t, 50*time.Millisecond, clip.(*VirtualClip).Duration())

	log := &eventLog{}
	clip.AddListener(log.record)

	require.NoError(t, clip.Play())
	assert.False(t, clip.Paused())

	assert.Eventually(t, clip.Ended, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ClipEventType{ClipPlay, ClipEnded}, log.snapshot())
	assert.ErrorIs(t, clip.Play(), ErrClipEnded)
}

func TestVirtualClipStop(t *testing.T) {
	clip, err := (&VirtualPlayer{}).NewClip(testutil.GenerateTestAudio(t, time.Second))
	require.NoError(t, err)

	log := &eventLog{}
	clip.AddListener(log.record)

	require.NoError(t, clip.Play())
	clip.Stop()
	clip.Stop()

	assert.True(t, clip.Paused())
	assert.False(t, clip.Ended())
	assert.Equal(t, []ClipEventType{ClipPlay, ClipPause}, log.snapshot())
}

func TestVirtualClipFail(t *testing.T) {
	clip, err := (&VirtualPlayer{}).NewClip(testutil.GenerateTestAudio(t, time.Second))
	require.NoError(t, err)

	var got error
	clip.AddListener(func(ev ClipEvent) {
		if ev.Type == ClipError {
			got = ev.Err
		}
	})

	require.NoError(t, clip.Play())
	boom := errors.New("decoder crashed")
	clip.(*VirtualClip).Fail(boom)

	assert.ErrorIs(t, got, boom)
	assert.True(t, clip.Ended())
}

func TestVirtualClipRejectsUndecodable(t *testing.T) {
	player := &VirtualPlayer{}

	_, err := player.NewClip(nil)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	clip, err := player.NewClip([]byte("garbage"))
	require.NoError(t, err)
	assert.ErrorIs(t, clip.Play(), ErrUnsupportedFormat)
}

func TestClipEventTerminal(t *testing.T) {
	assert.True(t, ClipEnded.Terminal())
	assert.True(t, ClipError.Terminal())
	assert.False(t, ClipPlay.Terminal())
	assert.False(t, ClipPause.Terminal())
}
