package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/normanking/cortextalk/internal/config"
)

func TestDetectFullPage(t *testing.T) {
	f := Detect(Hello{IdleVideo: true, TalkVideo: true, Mouth: true, AudioContext: true, SpeechRecognition: true}, nil)
	assert.Equal(t, Features{true, true, true, true, true}, f)
	assert.True(t, f.Video())
}

func TestDetectMissingPieces(t *testing.T) {
	f := Detect(Hello{TalkVideo: true, AudioContext: true}, nil)
	assert.False(t, f.IdleVideo)
	assert.True(t, f.TalkVideo)
	assert.False(t, f.MouthProxy)
	assert.False(t, f.AudioAnalysis, "analysis needs a mouth to drive")
	assert.False(t, f.SpeechRecognition)
}

func TestDetectConfigDisables(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Avatar.Enabled = false
	cfg.Audio.Analysis = false
	cfg.Dictation.Enabled = false

	f := Detect(Hello{IdleVideo: true, TalkVideo: true, Mouth: true, AudioContext: true, SpeechRecognition: true}, cfg)
	assert.Equal(t, Features{MouthProxy: true}, f)
	assert.False(t, f.Video())
}

func TestConsole(t *testing.T) {
	f := Console(nil)
	assert.Equal(t, Features{MouthProxy: true, AudioAnalysis: true}, f)
}
