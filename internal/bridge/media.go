package bridge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/cortextalk/internal/audio"
	"github.com/normanking/cortextalk/internal/avatar"
)

// Clip errors reported by the page
var (
	ErrPlayRejected   = errors.New("page rejected playback")
	ErrPlaybackFailed = errors.New("page playback failed")
)

// emitter is the outbound side of a connection.
type emitter interface {
	emit(frameType string, data map[string]any)
}

// remoteVisual is one of the page's avatar videos. Rejections come back as
// media frames, so Play never fails locally.
type remoteVisual struct {
	out emitter
	id  avatar.VisualID
}

func (v *remoteVisual) Play() error {
	v.out.emit(FrameVideoPlay, map[string]any{"target": v.id})
	return nil
}

func (v *remoteVisual) Pause() {
	v.out.emit(FrameVideoPause, map[string]any{"target": v.id})
}

func (v *remoteVisual) Rewind() error {
	v.out.emit(FrameVideoRewind, map[string]any{"target": v.id})
	return nil
}

func (v *remoteVisual) SetActive(active bool) {
	v.out.emit(FrameVideoActive, map[string]any{"target": v.id, "active": active})
}

// remoteRecognizer drives the page's speech recognition.
type remoteRecognizer struct {
	out emitter
}

func (r *remoteRecognizer) Start(lang string) error {
	r.out.emit(FrameRecognitionBegin, map[string]any{"lang": lang})
	return nil
}

func (r *remoteRecognizer) Stop() {
	r.out.emit(FrameRecognitionHalt, nil)
}

// remotePlayer creates clips the page plays. Clips are registered so media
// frames addressed to them can be routed back.
type remotePlayer struct {
	out emitter

	mu    sync.Mutex
	clips map[string]*remoteClip
}

func newRemotePlayer(out emitter) *remotePlayer {
	return &remotePlayer{out: out, clips: make(map[string]*remoteClip)}
}

func (p *remotePlayer) NewClip(data []byte) (audio.Clip, error) {
	if len(data) == 0 {
		return nil, audio.ErrInvalidFormat
	}
	clip := &remoteClip{
		id:       uuid.NewString(),
		data:     data,
		format:   audio.Sniff(data),
		playhead: audio.NewPlayhead(nil),
		player:   p,
	}
	p.mu.Lock()
	p.clips[clip.id] = clip
	p.mu.Unlock()
	return clip, nil
}

func (p *remotePlayer) clip(id string) *remoteClip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clips[id]
}

func (p *remotePlayer) forget(id string) {
	p.mu.Lock()
	delete(p.clips, id)
	p.mu.Unlock()
}

// pending returns the number of clips that have not finished.
func (p *remotePlayer) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clips)
}

// remoteClip mirrors a clip playing in the page. Its position follows the
// play and pause frames the page reports.
type remoteClip struct {
	audio.Emitter

	id       string
	data     []byte
	format   audio.AudioFormat
	playhead *audio.Playhead
	player   *remotePlayer

	mu       sync.Mutex
	finished bool
}

func (c *remoteClip) ID() string              { return c.id }
func (c *remoteClip) Data() []byte            { return c.data }
func (c *remoteClip) Paused() bool            { return !c.playhead.Running() }
func (c *remoteClip) Position() time.Duration { return c.playhead.Position() }

func (c *remoteClip) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Play asks the page to start the clip.
func (c *remoteClip) Play() error {
	if c.Ended() {
		return audio.ErrClipEnded
	}
	c.player.out.emit(FrameAudioPlay, map[string]any{
		"id":   c.id,
		"mime": c.format.MIMEType(),
		"data": base64.StdEncoding.EncodeToString(c.data),
	})
	return nil
}

// Stop halts the clip for good; listeners see a pause.
func (c *remoteClip) Stop() {
	if !c.finish() {
		return
	}
	c.player.out.emit(FrameAudioStop, map[string]any{"id": c.id})
	c.Emit(audio.ClipEvent{Type: audio.ClipPause})
}

// handle applies a media event the page reported for this clip.
func (c *remoteClip) handle(event, reason string) {
	if c.Ended() {
		return
	}
	switch event {
	case "play":
		c.playhead.Start()
		c.Emit(audio.ClipEvent{Type: audio.ClipPlay})
	case "pause":
		c.playhead.Pause()
		c.Emit(audio.ClipEvent{Type: audio.ClipPause})
	case "ended":
		if c.finish() {
			c.Emit(audio.ClipEvent{Type: audio.ClipEnded})
		}
	case "error", "rejected":
		err := ErrPlayRejected
		if event == "error" {
			err = ErrPlaybackFailed
		}
		if reason != "" {
			err = fmt.Errorf("%w: %s", err, reason)
		}
		if c.finish() {
			c.Emit(audio.ClipEvent{Type: audio.ClipError, Err: err})
		}
	}
}

// finish marks the clip done; it reports false if it already was.
func (c *remoteClip) finish() bool {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return false
	}
	c.finished = true
	c.mu.Unlock()

	c.playhead.End()
	c.player.forget(c.id)
	return true
}
