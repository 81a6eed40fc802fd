package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortextalk/internal/stream"
)

// ErrTurnInFlight is returned when sending while a previous turn is running.
var ErrTurnInFlight = errors.New("a conversational turn is already in flight")

// Transport opens the streamed reply to a user message.
type Transport interface {
	Stream(ctx context.Context, message string) (io.ReadCloser, error)
}

// SessionConfig wires a session's collaborators.
type SessionConfig struct {
	Transport  Transport
	Dispatcher *Dispatcher
	View       View
	Input      *InputField
	Avatar     Avatar
	Messages   Messages
	// ChunkSize is the read size for the reply body; 0 uses the default.
	ChunkSize int
}

// Session is the conversation of one page. It admits one turn at a time.
type Session struct {
	id         string
	transport  Transport
	dispatcher *Dispatcher
	view       View
	input      *InputField
	avatar     Avatar
	chunkSize  int
	logger     zerolog.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	msgs    Messages
	bubbles []Bubble
	turn    *Turn
}

// NewSession creates a session with an empty conversation.
func NewSession(cfg SessionConfig, logger zerolog.Logger) *Session {
	input := cfg.Input
	if input == nil {
		input = &InputField{}
	}
	size := cfg.ChunkSize
	if size <= 0 {
		size = stream.DefaultChunkSize
	}
	id := uuid.NewString()
	return &Session{
		id:         id,
		transport:  cfg.Transport,
		dispatcher: cfg.Dispatcher,
		view:       cfg.View,
		input:      input,
		avatar:     cfg.Avatar,
		msgs:       cfg.Messages,
		chunkSize:  size,
		logger:     logger.With().Str("component", "session").Str("session", id).Logger(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Input returns the shared input field.
func (s *Session) Input() *InputField { return s.input }

// InFlight reports whether a turn is holding the send control.
func (s *Session) InFlight() bool { return s.inFlight.Load() }

// Bubbles returns the bubbles appended so far. Bot bubbles show the text
// they were created with; use CurrentTurn for live text.
func (s *Session) Bubbles() []Bubble {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bubble, len(s.bubbles))
	copy(out, s.bubbles)
	return out
}

// CurrentTurn returns the most recent bot turn, or nil.
func (s *Session) CurrentTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// SetMessages swaps the user-visible strings.
func (s *Session) SetMessages(msgs Messages) {
	s.mu.Lock()
	s.msgs = msgs
	s.mu.Unlock()
	s.dispatcher.SetMessages(msgs)
}

func (s *Session) messages() Messages {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs
}

// SendInput sends the trimmed input as one turn and blocks until the reply
// stream is consumed. The send control is released by the done record, by a
// transport failure, or when the stream ends.
func (s *Session) SendInput(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrTurnInFlight
	}

	message := strings.TrimSpace(s.input.Value())
	if message == "" {
		s.inFlight.Store(false)
		return nil
	}

	msgs := s.messages()
	s.append(NewBubble(RoleUser, message))
	s.input.Set("")
	s.view.SetSendState(SendState{Busy: true, Label: msgs.SendingLabel})
	if s.avatar != nil {
		s.avatar.SetTalking(false)
	}

	var once sync.Once
	var released atomic.Bool
	release := func() {
		once.Do(func() {
			released.Store(true)
			s.inFlight.Store(false)
			s.view.SetSendState(SendState{Busy: false, Label: s.messages().SendLabel})
		})
	}

	body, err := s.transport.Stream(ctx, message)
	if err != nil {
		s.fail(err, release)
		return nil
	}
	defer body.Close()

	bot := NewBubble(RoleBot, "")
	s.append(bot)
	turn := s.dispatcher.Begin(bot, release)
	s.mu.Lock()
	s.turn = turn
	s.mu.Unlock()

	reader := stream.NewReaderSize(body, s.chunkSize)
	records := 0
	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(err, release)
			return nil
		}
		records++
		turn.Dispatch(record)
	}

	if !released.Load() {
		s.logger.Warn().Int("records", records).Msg("Reply stream ended without done")
	}
	release()
	return nil
}

func (s *Session) append(b Bubble) {
	s.mu.Lock()
	s.bubbles = append(s.bubbles, b)
	s.mu.Unlock()

	s.view.AppendBubble(b)
	s.view.ScrollToEnd()
}

// fail surfaces a transport failure as one apology bubble.
func (s *Session) fail(err error, release func()) {
	s.logger.Error().Err(err).Msg("Chat request failed")
	s.append(NewBubble(RoleBot, s.messages().Apology))
	release()
}
