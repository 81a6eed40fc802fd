// Package capability decides once per session which optional subsystems are
// available.
package capability

import "github.com/normanking/cortextalk/internal/config"

// Features is the typed availability of optional subsystems.
type Features struct {
	IdleVideo         bool `json:"idleVideo"`
	TalkVideo         bool `json:"talkVideo"`
	MouthProxy        bool `json:"mouthProxy"`
	AudioAnalysis     bool `json:"audioAnalysis"`
	SpeechRecognition bool `json:"speechRecognition"`
}

// Video reports whether any avatar video is present.
func (f Features) Video() bool {
	return f.IdleVideo || f.TalkVideo
}

// Hello is what a page reports about itself when it connects.
type Hello struct {
	IdleVideo         bool   `json:"idleVideo"`
	TalkVideo         bool   `json:"talkVideo"`
	Mouth             bool   `json:"mouth"`
	AudioContext      bool   `json:"audioContext"`
	SpeechRecognition bool   `json:"speechRecognition"`
	UserAgent         string `json:"userAgent,omitempty"`
}

// Detect combines the page's report with what configuration allows.
func Detect(h Hello, cfg *config.Config) Features {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	video := cfg.Avatar.Enabled
	return Features{
		IdleVideo:         video && h.IdleVideo,
		TalkVideo:         video && h.TalkVideo,
		MouthProxy:        h.Mouth,
		AudioAnalysis:     cfg.Audio.Analysis && h.Mouth && h.AudioContext,
		SpeechRecognition: cfg.Dictation.Enabled && h.SpeechRecognition,
	}
}

// Console is the feature set of the headless terminal mode: the mouth is
// drawn as a level bar and analysed locally; there is no video or microphone.
func Console(cfg *config.Config) Features {
	return Detect(Hello{Mouth: true, AudioContext: true}, cfg)
}
