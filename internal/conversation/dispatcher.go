package conversation

import (
	"encoding/base64"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortextalk/internal/audio"
	"github.com/normanking/cortextalk/internal/stream"
)

// Avatar is the talking presentation switched by clip playback.
type Avatar interface {
	SetTalking(talking bool)
}

// MouthSync attaches mouth animation to a clip before it plays.
type MouthSync interface {
	Attach(clip audio.Clip)
}

// Dispatcher applies stream events to the bot bubble of a turn and plays
// the audio clips they carry.
type Dispatcher struct {
	view   View
	player audio.Player
	avatar Avatar
	mouth  MouthSync
	logger zerolog.Logger

	mu     sync.Mutex
	msgs   Messages
	active map[string]audio.Clip
}

// NewDispatcher creates a dispatcher. Avatar and mouth may be nil.
func NewDispatcher(view View, player audio.Player, avatar Avatar, mouth MouthSync, msgs Messages, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		view:   view,
		player: player,
		avatar: avatar,
		mouth:  mouth,
		msgs:   msgs,
		active: make(map[string]audio.Clip),
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// SetMessages swaps the placeholder strings, e.g. after a config reload.
func (d *Dispatcher) SetMessages(msgs Messages) {
	d.mu.Lock()
	d.msgs = msgs
	d.mu.Unlock()
}

// Begin starts dispatching into bubble. onDone runs for each done record.
func (d *Dispatcher) Begin(bubble Bubble, onDone func()) *Turn {
	return &Turn{d: d, bubble: bubble, onDone: onDone}
}

// StopAudio stops every clip still playing; their finalize runs through the
// pause they report.
func (d *Dispatcher) StopAudio() {
	d.mu.Lock()
	clips := make([]audio.Clip, 0, len(d.active))
	for _, c := range d.active {
		clips = append(clips, c)
	}
	d.mu.Unlock()

	for _, c := range clips {
		c.Stop()
	}
}

// Playing returns how many clips have not reached a terminal event.
func (d *Dispatcher) Playing() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) setTalking(talking bool) {
	if d.avatar != nil {
		d.avatar.SetTalking(talking)
	}
}

// Turn is the dispatch state of one bot bubble. Its fields are guarded by
// the dispatcher's mutex.
type Turn struct {
	d      *Dispatcher
	onDone func()

	bubble       Bubble
	acc          string
	pendingText  string
	audioPending bool
}

// Bubble returns a snapshot of the bot bubble.
func (t *Turn) Bubble() Bubble {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return t.bubble
}

// AudioPending reports whether a clip is holding back the bubble text.
func (t *Turn) AudioPending() bool {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	return t.audioPending
}

// Dispatch parses one record and handles it. Malformed records are logged
// and dropped.
func (t *Turn) Dispatch(record string) {
	ev, err := stream.Parse(record)
	if err != nil {
		t.d.logger.Error().Err(err).Str("record", record).Msg("Failed to parse stream record")
		return
	}
	t.Handle(ev)
}

// Handle applies one event.
func (t *Turn) Handle(ev stream.Event) {
	switch ev.Type {
	case stream.EventText:
		t.text(ev.Data)
	case stream.EventAudio:
		t.audio(ev.Data)
	case stream.EventStatus:
		t.status(ev.Data)
	case stream.EventDone:
		if t.onDone != nil {
			t.onDone()
		}
	default:
		t.d.logger.Warn().Str("type", string(ev.Type)).Msg("Unknown stream event type")
	}
}

func (t *Turn) text(data string) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()

	t.acc += data
	if t.audioPending {
		t.pendingText = t.acc
		return
	}
	t.bubble.Text = t.acc
	d.view.UpdateBubble(t.bubble)
	d.view.ScrollToEnd()
}

func (t *Turn) status(data string) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if data == "" {
		data = d.msgs.StatusDefault
	}
	t.bubble.Text = data
	d.view.UpdateBubble(t.bubble)
}

func (t *Turn) audio(data string) {
	d := t.d
	if data == "" {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Audio payload is not valid base64")
		return
	}
	clip, err := d.player.NewClip(raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Failed to create audio clip")
		return
	}

	if d.mouth != nil {
		d.mouth.Attach(clip)
	}

	var once sync.Once
	finalize := func() { once.Do(func() { t.finalize(clip) }) }
	clip.AddListener(func(ev audio.ClipEvent) {
		switch ev.Type {
		case audio.ClipPlay:
			d.setTalking(true)
		case audio.ClipPause, audio.ClipEnded, audio.ClipError:
			if ev.Err != nil {
				d.logger.Warn().Err(ev.Err).Str("clip", clip.ID()).Msg("Audio playback failed")
			}
			finalize()
		}
	})

	d.mu.Lock()
	d.active[clip.ID()] = clip
	t.audioPending = true
	t.bubble.Text = d.msgs.NowPlaying
	d.view.UpdateBubble(t.bubble)
	d.mu.Unlock()

	d.logger.Debug().Str("clip", clip.ID()).Int("bytes", len(raw)).Msg("Playing audio clip")
	if err := clip.Play(); err != nil {
		d.logger.Error().Err(err).Str("clip", clip.ID()).Msg("Audio playback rejected")
		finalize()
	}
}

func (t *Turn) finalize(clip audio.Clip) {
	d := t.d
	d.mu.Lock()
	delete(d.active, clip.ID())
	if !t.audioPending {
		d.mu.Unlock()
		return
	}
	t.audioPending = false
	if t.pendingText != "" {
		t.bubble.Text = t.pendingText
		t.pendingText = ""
		d.view.UpdateBubble(t.bubble)
		d.view.ScrollToEnd()
	} else {
		t.bubble.Text = ""
		t.acc = ""
		d.view.UpdateBubble(t.bubble)
	}
	d.mu.Unlock()

	d.setTalking(false)
}
