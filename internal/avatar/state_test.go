package avatar

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVisual struct {
	name    string
	log     *[]string
	playErr error
	active  bool
	playing bool
}

func (v *fakeVisual) Play() error {
	*v.log = append(*v.log, v.name+".play")
	if v.playErr != nil {
		return v.playErr
	}
	v.playing = true
	return nil
}

func (v *fakeVisual) Pause() {
	*v.log = append(*v.log, v.name+".pause")
	v.playing = false
}

func (v *fakeVisual) Rewind() error {
	*v.log = append(*v.log, v.name+".rewind")
	return nil
}

func (v *fakeVisual) SetActive(active bool) {
	*v.log = append(*v.log, fmt.Sprintf("%s.active=%v", v.name, active))
	v.active = active
}

type rig struct {
	ctrl       *Controller
	idle, talk *fakeVisual
	log        []string
	states     []State
	mouthReset int
	mu         sync.Mutex
}

func newRig(t *testing.T, withIdle, withTalk bool) *rig {
	t.Helper()
	r := &rig{}
	var idle, talk Visual
	if withIdle {
		r.idle = &fakeVisual{name: "idle", log: &r.log}
		idle = r.idle
	}
	if withTalk {
		r.talk = &fakeVisual{name: "talk", log: &r.log}
		talk = r.talk
	}
	r.ctrl = NewController(idle, talk, zerolog.Nop())
	r.ctrl.SetStateHandler(func(s State) {
		r.mu.Lock()
		r.states = append(r.states, s)
		r.mu.Unlock()
	})
	r.ctrl.SetMouthReset(func() { r.mouthReset++ })
	return r
}

func (r *rig) activeCount() int {
	n := 0
	for _, v := range []*fakeVisual{r.idle, r.talk} {
		if v != nil && v.active {
			n++
		}
	}
	return n
}

func (r *rig) clearLog() { r.log = nil }

func TestInitialState(t *testing.T) {
	r := newRig(t, true, true)
	s := r.ctrl.GetState()
	assert.Equal(t, ModeLoading, s.Mode)
	assert.False(t, s.HasVideo)
	assert.False(t, r.ctrl.VideoActive())
}

func TestIdleLoadedShowsIdle(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.HandleMedia(VisualIdle, "loadeddata")

	s := r.ctrl.GetState()
	assert.Equal(t, ModeIdle, s.Mode)
	assert.True(t, s.IdleReady)
	assert.True(t, s.HasVideo)
	assert.Equal(t, VisualIdle, s.Active)
	assert.Equal(t, []string{"idle.active=true", "idle.play"}, r.log)
	assert.True(t, r.ctrl.VideoActive())
	require.Len(t, r.states, 1)
}

func TestTalkCycle(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.Handle(IdleLoaded)
	r.clearLog()

	r.ctrl.SetTalking(true)
	assert.Equal(t, []string{"idle.pause", "idle.active=false", "talk.active=true", "talk.rewind", "talk.play"}, r.log)
	s := r.ctrl.GetState()
	assert.Equal(t, ModeTalking, s.Mode)
	assert.True(t, s.Talking)
	assert.Equal(t, VisualTalk, s.Active)
	assert.Equal(t, 1, r.activeCount())

	r.clearLog()
	r.ctrl.SetTalking(true)
	assert.Empty(t, r.log, "repeated start is a no-op")

	r.ctrl.SetTalking(false)
	assert.Equal(t, []string{"talk.pause", "talk.rewind", "talk.active=false", "idle.active=true", "idle.play"}, r.log)
	s = r.ctrl.GetState()
	assert.Equal(t, ModeIdle, s.Mode)
	assert.False(t, s.Talking)
	assert.Equal(t, 1, r.mouthReset)

	r.clearLog()
	r.ctrl.SetTalking(false)
	assert.Empty(t, r.log, "repeated stop is a no-op")
}

func TestFallbackBeforeReady(t *testing.T) {
	r := newRig(t, true, true)

	r.ctrl.HandleMedia(VisualIdle, "error")
	s := r.ctrl.GetState()
	assert.Equal(t, ModeDisabled, s.Mode)
	assert.True(t, s.VideosDisabled)
	assert.False(t, s.HasVideo)
	assert.Equal(t, 1, r.mouthReset)

	r.clearLog()
	assert.NotPanics(t, func() { r.ctrl.Handle(StartTalking) })
	assert.Empty(t, r.log)
	assert.Equal(t, 0, r.activeCount())
	assert.True(t, r.ctrl.GetState().Talking)

	// Disabled is terminal.
	r.ctrl.Handle(IdleLoaded)
	r.ctrl.Handle(VisibilityRegained)
	assert.Equal(t, ModeDisabled, r.ctrl.GetState().Mode)
	assert.Empty(t, r.log)
}

func TestDisableWhileTalking(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.Handle(IdleLoaded)
	r.ctrl.Handle(StartTalking)
	r.clearLog()

	r.ctrl.Handle(IdlePlayRejected)
	assert.Equal(t, ModeDisabled, r.ctrl.GetState().Mode)
	assert.Equal(t, 0, r.activeCount())
	assert.False(t, r.talk.playing)
	assert.False(t, r.idle.playing)
}

func TestTalkRejectionFallsBackToIdle(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.Handle(IdleLoaded)
	r.talk.playErr = errors.New("NotAllowedError")

	r.ctrl.Handle(StartTalking)
	s := r.ctrl.GetState()
	assert.Equal(t, ModeIdle, s.Mode)
	assert.Equal(t, VisualIdle, s.Active)
	assert.False(t, s.VideosDisabled)
	assert.True(t, s.Talking)
	assert.Equal(t, 1, r.activeCount())

	// Recoverable on the next talk request.
	r.talk.playErr = nil
	r.ctrl.Handle(StopTalking)
	r.ctrl.Handle(StartTalking)
	assert.Equal(t, ModeTalking, r.ctrl.GetState().Mode)
}

func TestTalkRejectionWithoutIdleHidesVideo(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.HandleMedia(VisualTalk, "rejected")
	assert.Equal(t, ModeLoading, r.ctrl.GetState().Mode)

	r.ctrl.Handle(StartTalking)
	require.Equal(t, ModeTalking, r.ctrl.GetState().Mode)

	r.ctrl.HandleMedia(VisualTalk, "rejected")
	s := r.ctrl.GetState()
	assert.Equal(t, ModeLoading, s.Mode)
	assert.False(t, s.HasVideo)
	assert.False(t, s.VideosDisabled)
	assert.Equal(t, 0, r.activeCount())
}

func TestIdlePlayRejectionDisables(t *testing.T) {
	r := newRig(t, true, true)
	r.idle.playErr = errors.New("autoplay blocked")

	r.ctrl.Handle(IdleLoaded)
	assert.Equal(t, ModeDisabled, r.ctrl.GetState().Mode)
	assert.Equal(t, 0, r.activeCount())
}

func TestTalkLoadErrorKeepsIdle(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.Handle(IdleLoaded)

	r.ctrl.HandleMedia(VisualTalk, "error")
	r.clearLog()
	r.ctrl.Handle(StartTalking)

	s := r.ctrl.GetState()
	assert.Equal(t, ModeIdle, s.Mode)
	assert.True(t, s.Talking)
	assert.False(t, s.VideosDisabled)
	assert.Empty(t, r.log)
}

func TestTalkLoadErrorWhileTalking(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.Handle(IdleLoaded)
	r.ctrl.Handle(StartTalking)

	r.ctrl.Handle(TalkLoadError)
	s := r.ctrl.GetState()
	assert.Equal(t, ModeIdle, s.Mode)
	assert.Equal(t, VisualIdle, s.Active)
}

func TestIdleLoadedWhileTalkingWaits(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.Handle(StartTalking)
	r.clearLog()

	r.ctrl.Handle(IdleLoaded)
	s := r.ctrl.GetState()
	assert.Equal(t, ModeTalking, s.Mode)
	assert.True(t, s.IdleReady)
	assert.Empty(t, r.log)
	assert.Equal(t, 1, r.activeCount())

	r.ctrl.Handle(StopTalking)
	assert.Equal(t, ModeIdle, r.ctrl.GetState().Mode)
	assert.True(t, r.idle.active)
}

func TestVisibilityRegained(t *testing.T) {
	r := newRig(t, true, true)
	r.ctrl.Handle(IdleLoaded)
	r.idle.Pause()
	r.clearLog()

	r.ctrl.Handle(VisibilityRegained)
	assert.Equal(t, []string{"idle.play"}, r.log)

	r.ctrl.Handle(StartTalking)
	r.clearLog()
	r.ctrl.Handle(VisibilityRegained)
	assert.Empty(t, r.log)
}

func TestNoVisuals(t *testing.T) {
	r := newRig(t, false, false)
	r.ctrl.Handle(IdleLoaded)
	r.ctrl.Handle(StartTalking)

	s := r.ctrl.GetState()
	assert.Equal(t, ModeLoading, s.Mode)
	assert.True(t, s.Talking)
	assert.False(t, s.HasVideo)

	r.ctrl.Handle(StopTalking)
	assert.False(t, r.ctrl.GetState().Talking)
	assert.Equal(t, 1, r.mouthReset)
}

func TestStateHandlerOnlyOnChange(t *testing.T) {
	r := newRig(t, true, false)
	r.ctrl.Handle(IdleLoaded)
	r.ctrl.Handle(IdleLoaded)
	r.ctrl.Handle(VisibilityRegained)

	assert.Len(t, r.states, 1)
}
