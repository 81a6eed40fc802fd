package dictation

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInput struct {
	value string
	sets  int
}

func (f *fakeInput) Value() string { return f.value }
func (f *fakeInput) Set(v string)  { f.value = v; f.sets++ }

type fakeRecognizer struct {
	starts   int
	stops    int
	lang     string
	startErr error
}

func (r *fakeRecognizer) Start(lang string) error {
	r.starts++
	r.lang = lang
	return r.startErr
}

func (r *fakeRecognizer) Stop() { r.stops++ }

func newTestController(input *fakeInput) (*Controller, *fakeRecognizer, *[]Control) {
	rec := &fakeRecognizer{}
	c := NewController(rec, input, "zh-CN", DefaultLabels(), zerolog.Nop())
	var controls []Control
	c.SetControlHandler(func(ctl Control) { controls = append(controls, ctl) })
	return c, rec, &controls
}

func TestCompose(t *testing.T) {
	tests := []struct {
		base, final, interim, want string
	}{
		{"", "", "", ""},
		{"typed", "", "  ", "typed"},
		{"", " world ", "", "world"},
		{"Hello ", "world", "", "Hello world"},
		{"Hello", "world", "", "Hello world"},
		{"Hello\n", "world", "", "Hello\nworld"},
		{"你好", "世界", "", "你好 世界"},
		{"a", "b", "c", "a bc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compose(tt.base, tt.final, tt.interim), "%q %q %q", tt.base, tt.final, tt.interim)
	}
}

func TestNonDestructiveComposition(t *testing.T) {
	input := &fakeInput{value: "Hello "}
	c, rec, _ := newTestController(input)

	require.NoError(t, c.Toggle())
	assert.Equal(t, 1, rec.starts)
	assert.Equal(t, "zh-CN", rec.lang)

	c.OnStart()
	c.OnResult(ResultBatch{ResultIndex: 0, Results: []Result{{Transcript: "world", IsFinal: true}}})
	assert.Equal(t, "Hello world", input.value)

	require.NoError(t, c.Toggle())
	assert.Equal(t, 1, rec.stops)
	c.OnEnd()
	assert.Equal(t, "Hello world", input.value)

	require.NoError(t, c.Toggle())
	c.OnStart()
	assert.Equal(t, "Hello world", c.Session().BaseText)
	assert.Empty(t, c.Session().FinalTranscript)

	c.OnResult(ResultBatch{Results: []Result{{Transcript: "again", IsFinal: false}}})
	assert.Equal(t, "Hello world again", input.value)
}

func TestResultsOnlyFromResultIndex(t *testing.T) {
	input := &fakeInput{}
	c, _, _ := newTestController(input)
	c.OnStart()

	c.OnResult(ResultBatch{ResultIndex: 0, Results: []Result{{Transcript: "今天", IsFinal: true}}})
	c.OnResult(ResultBatch{ResultIndex: 1, Results: []Result{
		{Transcript: "今天", IsFinal: true},
		{Transcript: "天气", IsFinal: false},
	}})
	assert.Equal(t, "今天天气", input.value)

	c.OnResult(ResultBatch{ResultIndex: 1, Results: []Result{
		{Transcript: "今天", IsFinal: true},
		{Transcript: "天气很好", IsFinal: true},
	}})
	assert.Equal(t, "今天天气很好", input.value)
	assert.Equal(t, "今天天气很好", c.Session().FinalTranscript)
}

func TestEndDropsInterim(t *testing.T) {
	input := &fakeInput{value: "base"}
	c, _, controls := newTestController(input)
	c.OnStart()

	c.OnResult(ResultBatch{Results: []Result{{Transcript: "maybe", IsFinal: false}}})
	assert.Equal(t, "base maybe", input.value)

	c.OnEnd()
	assert.Equal(t, "base", input.value)
	assert.False(t, c.Session().Recording)

	last := (*controls)[len(*controls)-1]
	assert.Equal(t, Control{Label: DefaultLabels().Idle}, last)
}

func TestControlLabels(t *testing.T) {
	c, _, controls := newTestController(&fakeInput{})
	labels := DefaultLabels()
	assert.Equal(t, Control{Label: labels.Idle}, c.Control())

	c.OnStart()
	assert.Equal(t, Control{Label: labels.Recording, Recording: true}, c.Control())
	c.OnEnd()
	assert.Equal(t, []Control{
		{Label: labels.Recording, Recording: true},
		{Label: labels.Idle},
	}, *controls)
}

func TestPermissionDenialDisables(t *testing.T) {
	for _, code := range []string{ErrCodeNotAllowed, ErrCodeServiceNotAllowed} {
		input := &fakeInput{value: "kept"}
		c, rec, _ := newTestController(input)

		c.OnStart()
		c.OnError(code)
		c.OnEnd()

		ctl := c.Control()
		assert.True(t, ctl.Disabled, code)
		assert.Equal(t, DefaultLabels().Denied, ctl.Label)
		assert.Equal(t, DefaultLabels().DeniedTitle, ctl.Title)
		assert.Equal(t, "kept", input.value)

		assert.ErrorIs(t, c.Toggle(), ErrDisabled)
		assert.Equal(t, 0, rec.starts)
	}
}

func TestOtherErrorsRecoverable(t *testing.T) {
	input := &fakeInput{value: "x"}
	c, rec, _ := newTestController(input)

	c.OnStart()
	c.OnResult(ResultBatch{Results: []Result{{Transcript: "y", IsFinal: true}}})
	c.OnError("no-speech")

	assert.Equal(t, "x y", input.value)
	assert.False(t, c.Control().Disabled)
	require.NoError(t, c.Toggle())
	assert.Equal(t, 1, rec.starts)
}

func TestErrorBeforeStartKeepsInput(t *testing.T) {
	input := &fakeInput{value: "typed meanwhile"}
	c, _, _ := newTestController(input)

	c.OnError(ErrCodeNotAllowed)
	assert.Equal(t, "typed meanwhile", input.value)
	assert.Zero(t, input.sets)
	assert.True(t, c.Control().Disabled)
}

func TestUnavailableRecognizer(t *testing.T) {
	c := NewController(nil, &fakeInput{}, "zh-CN", DefaultLabels(), zerolog.Nop())

	ctl := c.Control()
	assert.True(t, ctl.Disabled)
	assert.Equal(t, DefaultLabels().Unavailable, ctl.Label)
	assert.Equal(t, DefaultLabels().UnavailableTitle, ctl.Title)
	assert.ErrorIs(t, c.Toggle(), ErrDisabled)
}

func TestStartFailure(t *testing.T) {
	c, rec, _ := newTestController(&fakeInput{})
	rec.startErr = errors.New("InvalidStateError")

	assert.Error(t, c.Toggle())
	assert.False(t, c.Session().Recording)
}

func TestStartWhileRecording(t *testing.T) {
	c, _, _ := newTestController(&fakeInput{})
	c.OnStart()
	assert.ErrorIs(t, c.Start(), ErrAlreadyRecording)
}
