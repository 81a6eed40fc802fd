// Package avatar manages the avatar's idle and talk visuals
package avatar

import (
	"sync"

	"github.com/rs/zerolog"
)

// Mode is the playback state of the avatar visuals
type Mode string

const (
	ModeLoading  Mode = "loading"
	ModeIdle     Mode = "idle"
	ModeTalking  Mode = "talking"
	ModeDisabled Mode = "disabled"
)

// VisualID names one of the two visuals
type VisualID string

const (
	VisualNone VisualID = ""
	VisualIdle VisualID = "idle"
	VisualTalk VisualID = "talk"
)

// Input drives the state machine
type Input string

const (
	StartTalking       Input = "start_talking"
	StopTalking        Input = "stop_talking"
	IdleLoaded         Input = "idle_loaded"
	IdleLoadError      Input = "idle_load_error"
	TalkLoadError      Input = "talk_load_error"
	IdlePlayRejected   Input = "idle_play_rejected"
	TalkPlayRejected   Input = "talk_play_rejected"
	VisibilityRegained Input = "visibility_regained"
)

// Visual is a looping video the frontend can show.
type Visual interface {
	// Play starts playback; an error means the attempt was rejected.
	Play() error
	Pause()
	Rewind() error
	SetActive(active bool)
}

// State represents the avatar's current state
type State struct {
	Mode           Mode     `json:"mode"`
	Talking        bool     `json:"talking"`
	HasVideo       bool     `json:"hasVideo"`
	Active         VisualID `json:"active"`
	IdleReady      bool     `json:"idleReady"`
	VideosDisabled bool     `json:"videosDisabled"`
}

// Controller manages avatar state transitions
type Controller struct {
	idle   Visual
	talk   Visual
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	talkBroken bool

	onStateChange func(State)
	onMouthReset  func()
}

// NewController creates a controller for the given visuals. Either may be nil
// when the page has no such video.
func NewController(idle, talk Visual, logger zerolog.Logger) *Controller {
	return &Controller{
		idle:   idle,
		talk:   talk,
		logger: logger.With().Str("component", "avatar").Logger(),
		state:  State{Mode: ModeLoading},
	}
}

// SetStateHandler sets the callback for state changes
func (c *Controller) SetStateHandler(handler func(State)) {
	c.mu.Lock()
	c.onStateChange = handler
	c.mu.Unlock()
}

// SetMouthReset sets the callback that returns the mouth proxy to rest.
func (c *Controller) SetMouthReset(fn func()) {
	c.mu.Lock()
	c.onMouthReset = fn
	c.mu.Unlock()
}

// GetState returns the current state
func (c *Controller) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// VideoActive reports whether a visual is currently shown.
func (c *Controller) VideoActive() bool {
	s := c.GetState()
	return s.HasVideo && s.Active != VisualNone
}

// SetTalking requests the talking or idle presentation.
func (c *Controller) SetTalking(talking bool) {
	if talking {
		c.Handle(StartTalking)
		return
	}
	c.Handle(StopTalking)
}

// Handle applies one input. Inputs without an entry for the current mode are
// ignored.
func (c *Controller) Handle(in Input) {
	c.mu.Lock()
	before := c.state
	p := &plan{}
	if fn, ok := transitions[c.state.Mode][in]; ok {
		fn(c, p)
	}
	after := c.state
	onState := c.onStateChange
	onMouth := c.onMouthReset
	c.mu.Unlock()

	if before.Mode != after.Mode {
		c.logger.Debug().
			Str("input", string(in)).
			Str("from", string(before.Mode)).
			Str("to", string(after.Mode)).
			Msg("Avatar transition")
	}

	if after != before && onState != nil {
		onState(after)
	}
	if p.resetMouth && onMouth != nil {
		onMouth()
	}

	// Visual calls happen outside the lock; a rejected play feeds back in.
	for _, step := range p.steps {
		if rejected := c.apply(step); rejected != "" {
			c.Handle(rejected)
		}
	}
}

// HandleMedia maps a frontend media event on a visual to an input.
func (c *Controller) HandleMedia(target VisualID, event string) {
	var in Input
	switch {
	case target == VisualIdle && event == "loadeddata":
		in = IdleLoaded
	case target == VisualIdle && event == "error":
		in = IdleLoadError
	case target == VisualIdle && event == "rejected":
		in = IdlePlayRejected
	case target == VisualTalk && event == "error":
		in = TalkLoadError
	case target == VisualTalk && event == "rejected":
		in = TalkPlayRejected
	default:
		return
	}
	if in == IdleLoadError || in == TalkLoadError {
		c.logger.Warn().Str("visual", string(target)).Msg("Avatar video failed to load")
	}
	c.Handle(in)
}

type stepKind int

const (
	stepPlay stepKind = iota
	stepPause
	stepRewind
	stepActivate
	stepDeactivate
)

type step struct {
	kind   stepKind
	target VisualID
}

// plan collects the visual side effects of one transition.
type plan struct {
	steps      []step
	resetMouth bool
}

func (p *plan) add(kind stepKind, target VisualID) {
	p.steps = append(p.steps, step{kind: kind, target: target})
}

func (c *Controller) visual(id VisualID) Visual {
	switch id {
	case VisualIdle:
		return c.idle
	case VisualTalk:
		return c.talk
	}
	return nil
}

func (c *Controller) apply(s step) Input {
	v := c.visual(s.target)
	if v == nil {
		return ""
	}
	switch s.kind {
	case stepPlay:
		if err := v.Play(); err != nil {
			c.logger.Warn().Err(err).Str("visual", string(s.target)).Msg("Avatar video play rejected")
			if s.target == VisualIdle {
				return IdlePlayRejected
			}
			return TalkPlayRejected
		}
	case stepPause:
		v.Pause()
	case stepRewind:
		if err := v.Rewind(); err != nil {
			// Seeking before metadata loads fails; playback continues.
			c.logger.Debug().Err(err).Str("visual", string(s.target)).Msg("Rewind failed")
		}
	case stepActivate:
		v.SetActive(true)
	case stepDeactivate:
		v.SetActive(false)
	}
	return ""
}

type transition func(c *Controller, p *plan)

var transitions map[Mode]map[Input]transition

func init() {
	transitions = map[Mode]map[Input]transition{
		ModeLoading: {
			StartTalking:       (*Controller).startTalking,
			StopTalking:        (*Controller).stopTalking,
			IdleLoaded:         (*Controller).idleLoaded,
			IdleLoadError:      (*Controller).disable,
			IdlePlayRejected:   (*Controller).disable,
			TalkLoadError:      (*Controller).talkLoadError,
			TalkPlayRejected:   (*Controller).talkRejected,
			VisibilityRegained: (*Controller).reassertIdle,
		},
		ModeIdle: {
			StartTalking:       (*Controller).startTalking,
			StopTalking:        (*Controller).stopTalking,
			IdleLoadError:      (*Controller).disable,
			IdlePlayRejected:   (*Controller).disable,
			TalkLoadError:      (*Controller).talkLoadError,
			VisibilityRegained: (*Controller).reassertIdle,
		},
		ModeTalking: {
			StartTalking:     (*Controller).setTalkingFlag,
			StopTalking:      (*Controller).stopTalking,
			IdleLoaded:       (*Controller).markIdleReady,
			IdleLoadError:    (*Controller).disable,
			IdlePlayRejected: (*Controller).disable,
			TalkLoadError:    (*Controller).talkLoadError,
			TalkPlayRejected: (*Controller).talkRejected,
		},
		ModeDisabled: {
			StartTalking: (*Controller).setTalkingFlag,
			StopTalking:  (*Controller).clearTalkingFlag,
		},
	}
}

func (c *Controller) setTalkingFlag(*plan) {
	c.state.Talking = true
}

func (c *Controller) clearTalkingFlag(p *plan) {
	c.state.Talking = false
	p.resetMouth = true
}

func (c *Controller) startTalking(p *plan) {
	c.state.Talking = true
	if c.talk == nil || c.talkBroken {
		return
	}
	if c.state.Active == VisualIdle {
		p.add(stepPause, VisualIdle)
		p.add(stepDeactivate, VisualIdle)
	}
	p.add(stepActivate, VisualTalk)
	p.add(stepRewind, VisualTalk)
	p.add(stepPlay, VisualTalk)
	c.state.Active = VisualTalk
	c.state.HasVideo = true
	c.state.Mode = ModeTalking
}

func (c *Controller) stopTalking(p *plan) {
	c.state.Talking = false
	p.resetMouth = true
	c.showIdle(p)
}

// showIdle swaps the talk visual out for the idle one, or hides video when
// the idle visual is not ready.
func (c *Controller) showIdle(p *plan) {
	if c.state.Active == VisualTalk {
		p.add(stepPause, VisualTalk)
		p.add(stepRewind, VisualTalk)
		p.add(stepDeactivate, VisualTalk)
		c.state.Active = VisualNone
	}
	if c.idle == nil || !c.state.IdleReady {
		c.state.HasVideo = false
		c.state.Mode = ModeLoading
		return
	}
	if c.state.Active != VisualIdle || c.state.Mode != ModeIdle {
		p.add(stepActivate, VisualIdle)
		p.add(stepPlay, VisualIdle)
	}
	c.state.Active = VisualIdle
	c.state.HasVideo = true
	c.state.Mode = ModeIdle
}

func (c *Controller) idleLoaded(p *plan) {
	if c.idle == nil {
		return
	}
	c.state.IdleReady = true
	c.state.Active = VisualIdle
	c.state.HasVideo = true
	c.state.Mode = ModeIdle
	p.add(stepActivate, VisualIdle)
	p.add(stepPlay, VisualIdle)
}

func (c *Controller) markIdleReady(*plan) {
	if c.idle != nil {
		c.state.IdleReady = true
	}
}

func (c *Controller) talkLoadError(p *plan) {
	c.talkBroken = true
	if c.state.Mode == ModeTalking {
		c.showIdle(p)
	}
}

func (c *Controller) talkRejected(p *plan) {
	if c.state.Active != VisualTalk {
		return
	}
	c.showIdle(p)
}

func (c *Controller) reassertIdle(p *plan) {
	if c.state.Talking {
		return
	}
	if c.state.Mode == ModeIdle && c.state.Active == VisualIdle {
		// The page may have paused it while hidden.
		p.add(stepPlay, VisualIdle)
		return
	}
	c.showIdle(p)
}

func (c *Controller) disable(p *plan) {
	for _, id := range []VisualID{VisualIdle, VisualTalk} {
		if c.visual(id) == nil {
			continue
		}
		p.add(stepPause, id)
		p.add(stepRewind, id)
		p.add(stepDeactivate, id)
	}
	p.resetMouth = true
	c.state.Mode = ModeDisabled
	c.state.Active = VisualNone
	c.state.HasVideo = false
	c.state.IdleReady = false
	c.state.VideosDisabled = true
	c.logger.Warn().Msg("Avatar videos disabled for this session")
}
