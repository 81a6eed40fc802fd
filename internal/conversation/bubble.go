// Package conversation runs chat turns: it owns the bubbles of a page,
// dispatches streamed records and plays the audio clips they carry.
package conversation

import (
	"sync"

	"github.com/google/uuid"
)

// Role identifies who a bubble belongs to
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Bubble is one rendered conversational entry.
type Bubble struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NewBubble creates a bubble with a fresh ID.
func NewBubble(role Role, text string) Bubble {
	return Bubble{ID: uuid.NewString(), Role: role, Text: text}
}

// SendState is the presentation of the send control.
type SendState struct {
	Busy  bool   `json:"busy"`
	Label string `json:"label"`
}

// View renders conversation changes. Implementations must not call back into
// the conversation.
type View interface {
	AppendBubble(b Bubble)
	UpdateBubble(b Bubble)
	ScrollToEnd()
	SetSendState(s SendState)
}

// Messages are the user-visible strings of the conversation.
type Messages struct {
	NowPlaying    string
	StatusDefault string
	Apology       string
	SendLabel     string
	SendingLabel  string
}

// DefaultMessages returns the stock strings
func DefaultMessages() Messages {
	return Messages{
		NowPlaying:    "正在播放语音...",
		StatusDefault: "正在准备语音...",
		Apology:       "抱歉，服务器出错了，请稍后重试。",
		SendLabel:     "发送",
		SendingLabel:  "发送中...",
	}
}

// InputField is the shared text input, written by typing and by dictation.
type InputField struct {
	mu       sync.Mutex
	value    string
	onChange func(string)
}

// Value returns the current text.
func (f *InputField) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// Set replaces the text and notifies the change handler.
func (f *InputField) Set(v string) {
	f.mu.Lock()
	f.value = v
	fn := f.onChange
	f.mu.Unlock()

	if fn != nil {
		fn(v)
	}
}

// Sync records text typed on the page without echoing it back.
func (f *InputField) Sync(v string) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

// OnChange registers the handler called by Set.
func (f *InputField) OnChange(fn func(string)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}
