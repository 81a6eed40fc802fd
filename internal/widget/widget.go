// Package widget assembles one chat widget session from configuration, the
// detected features and the media adapters of its page.
package widget

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortextalk/internal/audio"
	"github.com/normanking/cortextalk/internal/avatar"
	"github.com/normanking/cortextalk/internal/bus"
	"github.com/normanking/cortextalk/internal/capability"
	"github.com/normanking/cortextalk/internal/config"
	"github.com/normanking/cortextalk/internal/conversation"
	"github.com/normanking/cortextalk/internal/dictation"
	"github.com/normanking/cortextalk/internal/mouthsync"
)

// Media are the page-side adapters. Absent ones stay nil.
type Media struct {
	Player     audio.Player
	IdleVisual avatar.Visual
	TalkVisual avatar.Visual
	Recognizer dictation.Recognizer
	// Analysis overrides the audio context factory used for mouth sync.
	Analysis mouthsync.ContextFactory
}

// Widget is one assembled session
type Widget struct {
	Bus        *bus.EventBus
	Session    *conversation.Session
	Dispatcher *conversation.Dispatcher
	Avatar     *avatar.Controller
	Mouth      *mouthsync.Sync
	Dictation  *dictation.Controller
	Features   capability.Features

	logger zerolog.Logger

	mu   sync.Mutex
	msgs conversation.Messages
}

// New wires a widget. Subsystems whose feature is off are built inert.
func New(cfg *config.Config, features capability.Features, transport conversation.Transport, media Media, logger zerolog.Logger) (*Widget, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	policy, err := mouthsync.ParsePolicy(cfg.Audio.MouthPolicy)
	if err != nil {
		return nil, err
	}

	b := bus.NewEventBus()
	view := &busView{bus: b}
	w := &Widget{
		Bus:      b,
		Features: features,
		logger:   logger.With().Str("component", "widget").Logger(),
	}

	var idle, talk avatar.Visual
	if features.IdleVideo {
		idle = media.IdleVisual
	}
	if features.TalkVideo {
		talk = media.TalkVisual
	}
	w.Avatar = avatar.NewController(idle, talk, logger)
	w.Avatar.SetStateHandler(func(s avatar.State) {
		b.PublishSync(bus.Event{Type: bus.EventTypeAvatarState, Data: map[string]any{"state": s}})
	})

	var mouth mouthsync.Mouth
	if features.MouthProxy {
		mouth = &busMouth{bus: b}
	}
	var factory mouthsync.ContextFactory
	if features.AudioAnalysis {
		factory = media.Analysis
		if factory == nil {
			analyserCfg := analyserConfig(cfg)
			factory = func() (audio.Context, error) {
				return audio.NewAnalysisContext(analyserCfg, logger)
			}
		}
	}
	w.Mouth = mouthsync.New(mouth, factory, &mouthsync.Config{
		FrameInterval: cfg.Audio.FrameInterval,
		Policy:        policy,
	}, logger)
	w.Mouth.SetVideoActive(w.Avatar.VideoActive)
	w.Avatar.SetMouthReset(w.Mouth.Reset)

	player := media.Player
	if player == nil {
		player = &audio.VirtualPlayer{Speed: cfg.Audio.PlaybackSpeed}
	}
	msgs := messages(cfg)
	w.msgs = msgs
	w.Dispatcher = conversation.NewDispatcher(view, player, w.Avatar, w.Mouth, msgs, logger)

	input := &conversation.InputField{}
	input.OnChange(func(v string) {
		b.PublishSync(bus.Event{Type: bus.EventTypeDictationInput, Data: map[string]any{"value": v}})
	})
	w.Session = conversation.NewSession(conversation.SessionConfig{
		Transport:  transport,
		Dispatcher: w.Dispatcher,
		View:       view,
		Input:      input,
		Avatar:     w.Avatar,
		Messages:   msgs,
		ChunkSize:  cfg.Server.ChunkSize,
	}, logger)

	var rec dictation.Recognizer
	if features.SpeechRecognition {
		rec = media.Recognizer
	}
	w.Dictation = dictation.NewController(rec, input, cfg.Dictation.Language, labels(cfg), logger)
	w.Dictation.SetControlHandler(func(c dictation.Control) {
		b.PublishSync(bus.Event{Type: bus.EventTypeDictationControl, Data: map[string]any{"control": c}})
	})

	w.logger.Info().
		Str("session", w.Session.ID()).
		Interface("features", features).
		Str("mouthPolicy", string(policy)).
		Msg("Widget session created")
	return w, nil
}

// Start publishes the initial presentation of every control.
func (w *Widget) Start() {
	w.Bus.PublishSync(bus.Event{Type: bus.EventTypeSendState, Data: sendData(conversation.SendState{
		Label: w.sendLabel(),
	})})
	w.Bus.PublishSync(bus.Event{Type: bus.EventTypeAvatarState, Data: map[string]any{"state": w.Avatar.GetState()}})
	w.Bus.PublishSync(bus.Event{Type: bus.EventTypeDictationControl, Data: map[string]any{"control": w.Dictation.Control()}})
}

func (w *Widget) sendLabel() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.msgs.SendLabel
}

// ApplyConfig applies the hot-reloadable settings: strings and mouth policy.
func (w *Widget) ApplyConfig(cfg *config.Config) {
	policy, err := mouthsync.ParsePolicy(cfg.Audio.MouthPolicy)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Ignoring mouth policy")
	} else {
		w.Mouth.SetPolicy(policy)
	}
	msgs := messages(cfg)
	w.mu.Lock()
	w.msgs = msgs
	w.mu.Unlock()
	w.Session.SetMessages(msgs)
	w.logger.Info().Str("session", w.Session.ID()).Msg("Configuration reloaded")
}

// Close stops playback and releases the analysis context.
func (w *Widget) Close() {
	w.Dispatcher.StopAudio()
	w.Mouth.Close()
	w.Bus.Clear()
}

func messages(cfg *config.Config) conversation.Messages {
	return conversation.Messages{
		NowPlaying:    cfg.Messages.NowPlaying,
		StatusDefault: cfg.Messages.StatusDefault,
		Apology:       cfg.Messages.Apology,
		SendLabel:     cfg.Messages.Send,
		SendingLabel:  cfg.Messages.Sending,
	}
}

func labels(cfg *config.Config) dictation.Labels {
	d := cfg.Dictation
	return dictation.Labels{
		Idle:             d.Idle,
		Recording:        d.Recording,
		Unavailable:      d.Unavailable,
		UnavailableTitle: d.UnavailableTitle,
		Denied:           d.Denied,
		DeniedTitle:      d.DeniedTitle,
	}
}

func analyserConfig(cfg *config.Config) *audio.AnalyserConfig {
	return &audio.AnalyserConfig{
		FFTSize:     cfg.Audio.FFTSize,
		Smoothing:   cfg.Audio.Smoothing,
		MinDecibels: cfg.Audio.MinDecibels,
		MaxDecibels: cfg.Audio.MaxDecibels,
	}
}
