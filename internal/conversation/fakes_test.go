package conversation

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/normanking/cortextalk/internal/audio"
)

type viewEvent struct {
	kind   string
	bubble Bubble
	send   SendState
}

type recordingView struct {
	mu     sync.Mutex
	events []viewEvent
}

func (v *recordingView) add(e viewEvent) {
	v.mu.Lock()
	v.events = append(v.events, e)
	v.mu.Unlock()
}

func (v *recordingView) AppendBubble(b Bubble)    { v.add(viewEvent{kind: "append", bubble: b}) }
func (v *recordingView) UpdateBubble(b Bubble)    { v.add(viewEvent{kind: "update", bubble: b}) }
func (v *recordingView) ScrollToEnd()             { v.add(viewEvent{kind: "scroll"}) }
func (v *recordingView) SetSendState(s SendState) { v.add(viewEvent{kind: "send", send: s}) }

func (v *recordingView) snapshot() []viewEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]viewEvent(nil), v.events...)
}

// texts returns every text shown for bubble id, in order.
func (v *recordingView) texts(id string) []string {
	var out []string
	for _, e := range v.snapshot() {
		if (e.kind == "update" || e.kind == "append") && e.bubble.ID == id {
			out = append(out, e.bubble.Text)
		}
	}
	return out
}

func (v *recordingView) appended() []Bubble {
	var out []Bubble
	for _, e := range v.snapshot() {
		if e.kind == "append" {
			out = append(out, e.bubble)
		}
	}
	return out
}

func (v *recordingView) sendStates() []SendState {
	var out []SendState
	for _, e := range v.snapshot() {
		if e.kind == "send" {
			out = append(out, e.send)
		}
	}
	return out
}

type manualClip struct {
	audio.Emitter
	id      string
	data    []byte
	playErr error

	mu     sync.Mutex
	paused bool
	ended  bool
}

func (c *manualClip) ID() string              { return c.id }
func (c *manualClip) Data() []byte            { return c.data }
func (c *manualClip) Position() time.Duration { return 0 }

func (c *manualClip) Play() error {
	if c.playErr != nil {
		return c.playErr
	}
	c.fire(audio.ClipPlay, nil)
	return nil
}

func (c *manualClip) Stop() { c.fire(audio.ClipPause, nil) }

func (c *manualClip) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *manualClip) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *manualClip) fire(t audio.ClipEventType, err error) {
	c.mu.Lock()
	c.paused = t != audio.ClipPlay
	if t.Terminal() {
		c.ended = true
	}
	c.mu.Unlock()
	c.Emit(audio.ClipEvent{Type: t, Err: err})
}

type fakePlayer struct {
	mu      sync.Mutex
	clips   []*manualClip
	playErr error
}

func (p *fakePlayer) NewClip(data []byte) (audio.Clip, error) {
	if len(data) == 0 {
		return nil, audio.ErrInvalidFormat
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &manualClip{id: string(rune('a' + len(p.clips))), data: data, paused: true, playErr: p.playErr}
	p.clips = append(p.clips, c)
	return c, nil
}

func (p *fakePlayer) clip(i int) *manualClip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clips[i]
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clips)
}

type fakeAvatar struct {
	mu    sync.Mutex
	calls []bool
}

func (a *fakeAvatar) SetTalking(talking bool) {
	a.mu.Lock()
	a.calls = append(a.calls, talking)
	a.mu.Unlock()
}

func (a *fakeAvatar) snapshot() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bool(nil), a.calls...)
}

type fakeMouth struct {
	mu       sync.Mutex
	attached []string
}

func (m *fakeMouth) Attach(clip audio.Clip) {
	m.mu.Lock()
	m.attached = append(m.attached, clip.ID())
	m.mu.Unlock()
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) count(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), substr)
}

// failingBody yields its data and then a read error.
type failingBody struct {
	r *strings.Reader
}

func (b *failingBody) Read(p []byte) (int, error) {
	if b.r.Len() == 0 {
		return 0, errors.New("connection reset by peer")
	}
	return b.r.Read(p)
}

func (b *failingBody) Close() error { return nil }
