// Package dictation composes speech recognition results into the chat input
// without overwriting what was typed before recording started.
package dictation

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"
)

var (
	ErrDisabled         = errors.New("dictation is disabled")
	ErrAlreadyRecording = errors.New("dictation is already recording")
)

// Recognizer error codes that revoke dictation for the session.
const (
	ErrCodeNotAllowed        = "not-allowed"
	ErrCodeServiceNotAllowed = "service-not-allowed"
)

// Recognizer is a speech recognition engine. Results and lifecycle arrive
// through the controller's On* callbacks.
type Recognizer interface {
	Start(lang string) error
	Stop()
}

// Input is the text field dictation writes into.
type Input interface {
	Value() string
	Set(v string)
}

// Result is one recognition result of a batch.
type Result struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"isFinal"`
}

// ResultBatch is the growing result list; only entries from ResultIndex on
// are new.
type ResultBatch struct {
	ResultIndex int      `json:"resultIndex"`
	Results     []Result `json:"results"`
}

// Labels are the control's captions
type Labels struct {
	Idle             string `mapstructure:"idle"`
	Recording        string `mapstructure:"recording"`
	Unavailable      string `mapstructure:"unavailable"`
	UnavailableTitle string `mapstructure:"unavailable_title"`
	Denied           string `mapstructure:"denied"`
	DeniedTitle      string `mapstructure:"denied_title"`
}

// DefaultLabels returns the stock captions
func DefaultLabels() Labels {
	return Labels{
		Idle:             "语音输入",
		Recording:        "停止录音",
		Unavailable:      "语音不可用",
		UnavailableTitle: "当前浏览器不支持语音识别",
		Denied:           "语音被拒绝",
		DeniedTitle:      "麦克风访问被拒绝，刷新页面后可重新授权。",
	}
}

// Control is the presentation of the dictation button.
type Control struct {
	Label     string `json:"label"`
	Title     string `json:"title,omitempty"`
	Recording bool   `json:"recording"`
	Disabled  bool   `json:"disabled"`
}

// Session is the state of the current recognition session.
type Session struct {
	BaseText        string
	FinalTranscript string
	Recording       bool
}

// Controller runs one recognition session at a time.
type Controller struct {
	rec    Recognizer
	input  Input
	lang   string
	labels Labels
	logger zerolog.Logger

	mu        sync.Mutex
	session   Session
	control   Control
	onControl func(Control)
}

// NewController creates a controller. A nil recognizer disables dictation
// with the unavailable caption.
func NewController(rec Recognizer, input Input, lang string, labels Labels, logger zerolog.Logger) *Controller {
	c := &Controller{
		rec:    rec,
		input:  input,
		lang:   lang,
		labels: labels,
		logger: logger.With().Str("component", "dictation").Logger(),
	}
	if rec == nil {
		c.control = Control{Label: labels.Unavailable, Title: labels.UnavailableTitle, Disabled: true}
	} else {
		c.control = Control{Label: labels.Idle}
	}
	return c
}

// SetControlHandler sets the callback for control changes
func (c *Controller) SetControlHandler(fn func(Control)) {
	c.mu.Lock()
	c.onControl = fn
	c.mu.Unlock()
}

// Control returns the current control presentation.
func (c *Controller) Control() Control {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.control
}

// Session returns the current session state.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Toggle stops an active session or starts a new one.
func (c *Controller) Toggle() error {
	c.mu.Lock()
	disabled := c.control.Disabled
	recording := c.session.Recording
	c.mu.Unlock()

	if disabled {
		return ErrDisabled
	}
	if recording {
		c.rec.Stop()
		return nil
	}
	return c.Start()
}

// Start asks the recognizer to begin a session.
func (c *Controller) Start() error {
	c.mu.Lock()
	disabled := c.control.Disabled
	recording := c.session.Recording
	c.mu.Unlock()

	switch {
	case disabled:
		return ErrDisabled
	case recording:
		return ErrAlreadyRecording
	}
	if err := c.rec.Start(c.lang); err != nil {
		c.logger.Error().Err(err).Msg("Speech recognition failed to start")
		return err
	}
	return nil
}

// OnStart captures the base text of a new session.
func (c *Controller) OnStart() {
	base := c.input.Value()

	c.mu.Lock()
	c.session = Session{BaseText: base, Recording: true}
	c.control.Label = c.labels.Recording
	c.control.Recording = true
	ctl, fn := c.control, c.onControl
	c.mu.Unlock()

	c.notify(ctl, fn)
}

// OnResult folds the new results of a batch into the input.
func (c *Controller) OnResult(batch ResultBatch) {
	c.mu.Lock()
	var interim strings.Builder
	start := batch.ResultIndex
	if start < 0 {
		start = 0
	}
	for i := start; i < len(batch.Results); i++ {
		r := batch.Results[i]
		if r.IsFinal {
			c.session.FinalTranscript += r.Transcript
		} else {
			interim.WriteString(r.Transcript)
		}
	}
	value := compose(c.session.BaseText, c.session.FinalTranscript, interim.String())
	c.mu.Unlock()

	c.input.Set(value)
}

// OnEnd composes the final text and returns to idle.
func (c *Controller) OnEnd() {
	c.finish("")
}

// OnError composes the final text and, for permission denials, disables
// dictation for the rest of the session.
func (c *Controller) OnError(code string) {
	c.logger.Error().Str("error", code).Msg("Speech recognition error")
	c.finish(code)
}

func (c *Controller) finish(code string) {
	c.mu.Lock()
	value := compose(c.session.BaseText, c.session.FinalTranscript, "")
	wasRecording := c.session.Recording
	c.session.Recording = false
	c.control.Recording = false
	if !c.control.Disabled {
		c.control.Label = c.labels.Idle
	}
	if code == ErrCodeNotAllowed || code == ErrCodeServiceNotAllowed {
		c.control = Control{Label: c.labels.Denied, Title: c.labels.DeniedTitle, Disabled: true}
	}
	ctl, fn := c.control, c.onControl
	c.mu.Unlock()

	if wasRecording {
		c.input.Set(value)
	}
	c.notify(ctl, fn)
}

func (c *Controller) notify(ctl Control, fn func(Control)) {
	if fn != nil {
		fn(ctl)
	}
}

// compose joins the base text and recognized text with one separating space.
func compose(base, final, interim string) string {
	recognized := strings.TrimSpace(final + interim)
	if recognized == "" {
		return base
	}
	if base == "" {
		return recognized
	}
	sep := " "
	if r := []rune(base); unicode.IsSpace(r[len(r)-1]) {
		sep = ""
	}
	return base + sep + recognized
}
