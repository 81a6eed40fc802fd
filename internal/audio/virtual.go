package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Player creates clips from decoded audio payloads.
type Player interface {
	NewClip(data []byte) (Clip, error)
}

// VirtualPlayer plays clips against the wall clock without an output device.
// It backs the headless console mode and tests.
type VirtualPlayer struct {
	// Speed scales clip durations; 0 means real time.
	Speed float64
}

// NewClip decodes data to learn its duration. Undecodable clips are still
// returned, but their Play call is rejected, as a browser would reject them.
func (p *VirtualPlayer) NewClip(data []byte) (Clip, error) {
	if len(data) == 0 {
		return nil, ErrInvalidFormat
	}
	clip := &VirtualClip{
		id:       uuid.NewString(),
		data:     data,
		playhead: NewPlayhead(nil),
	}
	pcm, err := Decode(data)
	if err != nil {
		clip.decodeErr = err
		return clip, nil
	}
	clip.duration = pcm.Duration()
	if p != nil && p.Speed > 0 {
		clip.duration = time.Duration(float64(clip.duration) / p.Speed)
	}
	return clip, nil
}

// VirtualClip is a clip whose playback is simulated by a timer
type VirtualClip struct {
	Emitter

	id        string
	data      []byte
	duration  time.Duration
	decodeErr error
	playhead  *Playhead

	mu    sync.Mutex
	timer *time.Timer
}

func (c *VirtualClip) ID() string   { return c.id }
func (c *VirtualClip) Data() []byte { return c.data }

// Duration returns the simulated playing time.
func (c *VirtualClip) Duration() time.Duration { return c.duration }

// Play starts the clip and schedules its ended event.
func (c *VirtualClip) Play() error {
	if c.decodeErr != nil {
		return fmt.Errorf("clip %s not playable: %w", c.id, c.decodeErr)
	}
	if c.playhead.Ended() {
		return ErrClipEnded
	}
	if c.playhead.Running() {
		return nil
	}

	remaining := c.duration - c.playhead.Position()
	if remaining < 0 {
		remaining = 0
	}
	c.playhead.Start()
	c.mu.Lock()
	c.timer = time.AfterFunc(remaining, c.finish)
	c.mu.Unlock()

	c.Emit(ClipEvent{Type: ClipPlay})
	return nil
}

func (c *VirtualClip) finish() {
	if c.playhead.Ended() || !c.playhead.Running() {
		return
	}
	c.playhead.End()
	c.Emit(ClipEvent{Type: ClipEnded})
}

// Stop halts playback and reports a pause.
func (c *VirtualClip) Stop() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	if !c.playhead.Running() {
		return
	}
	c.playhead.Pause()
	c.Emit(ClipEvent{Type: ClipPause})
}

// Fail reports a playback error, as a decoder failure mid-clip would.
func (c *VirtualClip) Fail(err error) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	c.playhead.End()
	c.Emit(ClipEvent{Type: ClipError, Err: err})
}

func (c *VirtualClip) Paused() bool            { return !c.playhead.Running() }
func (c *VirtualClip) Ended() bool             { return c.playhead.Ended() }
func (c *VirtualClip) Position() time.Duration { return c.playhead.Position() }
