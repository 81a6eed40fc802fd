package audio

import (
	"sync"
	"time"
)

// ClipEventType identifies a playback state change
type ClipEventType string

const (
	ClipPlay  ClipEventType = "play"
	ClipPause ClipEventType = "pause"
	ClipEnded ClipEventType = "ended"
	ClipError ClipEventType = "error"
)

// Terminal reports whether playback cannot continue after this event.
func (t ClipEventType) Terminal() bool {
	return t == ClipEnded || t == ClipError
}

// ClipEvent is delivered to clip listeners
type ClipEvent struct {
	Type ClipEventType
	Err  error
}

// Clip is one self-contained playable audio clip.
//
// Play starts playback; a returned error is a rejected play attempt. Stop
// pauses playback for good and is reported to listeners as a pause.
type Clip interface {
	ID() string
	Data() []byte
	Play() error
	Stop()
	Paused() bool
	Ended() bool
	Position() time.Duration
	AddListener(fn func(ClipEvent))
}

// Emitter fans clip events out to listeners in registration order.
type Emitter struct {
	mu        sync.Mutex
	listeners []func(ClipEvent)
}

// AddListener registers fn for every subsequent event.
func (e *Emitter) AddListener(fn func(ClipEvent)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Emit delivers ev synchronously. Listeners may call back into the clip.
func (e *Emitter) Emit(ev ClipEvent) {
	e.mu.Lock()
	listeners := make([]func(ClipEvent), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Playhead tracks a clip's position from wall-clock time between play and
// pause notifications.
type Playhead struct {
	mu      sync.Mutex
	now     func() time.Time
	started time.Time
	offset  time.Duration
	running bool
	ended   bool
}

// NewPlayhead creates a paused playhead at position zero.
func NewPlayhead(now func() time.Time) *Playhead {
	if now == nil {
		now = time.Now
	}
	return &Playhead{now: now}
}

// Start resumes advancing the position.
func (p *Playhead) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.ended {
		return
	}
	p.started = p.now()
	p.running = true
}

// Pause freezes the position.
func (p *Playhead) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.offset += p.now().Sub(p.started)
	p.running = false
}

// End freezes the playhead permanently.
func (p *Playhead) End() {
	p.mu.Lock()
	if p.running {
		p.offset += p.now().Sub(p.started)
		p.running = false
	}
	p.ended = true
	p.mu.Unlock()
}

// Position returns the elapsed playing time.
func (p *Playhead) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return p.offset + p.now().Sub(p.started)
	}
	return p.offset
}

// Running reports whether the playhead is advancing.
func (p *Playhead) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Ended reports whether End was called.
func (p *Playhead) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}
