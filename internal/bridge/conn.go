package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortextalk/internal/avatar"
	"github.com/normanking/cortextalk/internal/bus"
	"github.com/normanking/cortextalk/internal/capability"
	"github.com/normanking/cortextalk/internal/conversation"
	"github.com/normanking/cortextalk/internal/dictation"
	"github.com/normanking/cortextalk/internal/logging"
	"github.com/normanking/cortextalk/internal/widget"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound frames buffered per connection.
	sendBuffer = 256

	defaultLogLimit = 100
)

// Conn is one page and the widget session it renders.
type Conn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	logger zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	player *remotePlayer

	mu     sync.Mutex
	widget *widget.Widget
}

func newConn(s *Server, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Conn{
		id:     id,
		server: s,
		ws:     ws,
		logger: s.logger.With().Str("conn", id).Logger(),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	c.player = newRemotePlayer(c)
	return c
}

// ID returns the connection ID.
func (c *Conn) ID() string { return c.id }

// Widget returns the session, or nil before the page said hello.
func (c *Conn) Widget() *widget.Widget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.widget
}

// emit queues a frame for the page. A full buffer drops the frame rather
// than stall the session.
func (c *Conn) emit(frameType string, data map[string]any) {
	payload, err := json.Marshal(frame(frameType, data))
	if err != nil {
		c.logger.Error().Err(err).Str("type", frameType).Msg("Failed to encode frame")
		return
	}
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.logger.Warn().Str("type", frameType).Msg("Send buffer full, dropping frame")
	}
}

// close ends the session and the connection. Safe to call more than once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if w := c.Widget(); w != nil {
			w.Close()
		}
		close(c.done)
		c.server.remove(c)
		c.ws.Close()
		c.logger.Info().Msg("Page disconnected")
	})
}

// readPump pumps frames from the page into the session.
func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("WebSocket error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn().Int("type", messageType).Msg("Received unknown message type")
			continue
		}
		c.handle(message)
	}
}

// writePump pumps queued frames to the page and keeps the connection alive.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error().Err(err).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handle routes one inbound frame.
func (c *Conn) handle(message []byte) {
	var f inbound
	if err := json.Unmarshal(message, &f); err != nil {
		c.logger.Error().Err(err).Msg("Failed to parse message")
		return
	}
	if f.Type == "" {
		c.logger.Error().Msg("Message missing type field")
		return
	}

	if f.Type == FrameHello {
		c.start(f.Capabilities)
		return
	}
	if f.Type == FrameLogs {
		c.sendLogs(f.Limit)
		return
	}

	w := c.Widget()
	if w == nil {
		c.logger.Warn().Str("type", f.Type).Msg("Message before hello")
		return
	}

	switch f.Type {
	case FrameSend:
		w.Session.Input().Sync(f.Value)
		go c.sendInput(w)
	case FrameInput:
		w.Session.Input().Sync(f.Value)
	case FrameMedia:
		c.handleMedia(w, f)
	case FrameVisibility:
		if !f.Hidden {
			w.Avatar.Handle(avatar.VisibilityRegained)
		}
	case FrameDictationToggle:
		if err := w.Dictation.Toggle(); err != nil {
			c.logger.Debug().Err(err).Msg("Dictation toggle ignored")
		}
	case FrameRecognitionStart:
		w.Dictation.OnStart()
	case FrameRecognitionResult:
		w.Dictation.OnResult(dictation.ResultBatch{ResultIndex: f.ResultIndex, Results: f.Results})
	case FrameRecognitionEnd:
		w.Dictation.OnEnd()
	case FrameRecognitionError:
		w.Dictation.OnError(f.Error)
	default:
		c.logger.Warn().Str("type", f.Type).Msg("Unknown message type")
	}
}

// start creates the page's session from the capabilities it reported.
func (c *Conn) start(hello capability.Hello) {
	c.mu.Lock()
	if c.widget != nil {
		c.mu.Unlock()
		c.logger.Warn().Msg("Duplicate hello ignored")
		return
	}

	cfg := c.server.Config()
	features := capability.Detect(hello, cfg)
	media := widget.Media{
		Player:     c.player,
		IdleVisual: &remoteVisual{out: c, id: avatar.VisualIdle},
		TalkVisual: &remoteVisual{out: c, id: avatar.VisualTalk},
		Recognizer: &remoteRecognizer{out: c},
	}
	w, err := widget.New(cfg, features, c.server.transport, media, c.logger)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error().Err(err).Msg("Failed to create widget session")
		c.close()
		return
	}
	w.Bus.SubscribeMultiple(bus.ViewEvents, func(e bus.Event) {
		c.emit(string(e.Type), e.Data)
	})
	c.widget = w
	c.mu.Unlock()

	c.logger.Info().
		Str("session", w.Session.ID()).
		Str("userAgent", hello.UserAgent).
		Msg("Page connected")
	c.emit(FrameReady, map[string]any{"session": w.Session.ID(), "features": features})
	w.Start()
}

func (c *Conn) sendInput(w *widget.Widget) {
	err := w.Session.SendInput(c.ctx)
	if errors.Is(err, conversation.ErrTurnInFlight) {
		c.logger.Debug().Msg("Send ignored while a turn is in flight")
	}
}

func (c *Conn) handleMedia(w *widget.Widget, f inbound) {
	if id, ok := strings.CutPrefix(f.Target, audioTargetPrefix); ok {
		clip := c.player.clip(id)
		if clip == nil {
			c.logger.Debug().Str("clip", id).Str("event", f.Event).Msg("Media event for unknown clip")
			return
		}
		if f.Event == "error" || f.Event == "rejected" {
			c.logger.Warn().Str("clip", id).Str("event", f.Event).Str("error", f.Error).Msg("Audio playback failed")
		}
		clip.handle(f.Event, f.Error)
		return
	}

	switch target := avatar.VisualID(f.Target); target {
	case avatar.VisualIdle, avatar.VisualTalk:
		w.Avatar.HandleMedia(target, f.Event)
	default:
		c.logger.Warn().Str("target", f.Target).Msg("Media event for unknown target")
	}
}

func (c *Conn) sendLogs(limit int) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	entries := []logging.LogEntry{}
	if logs := c.server.logs; logs != nil {
		entries = append(entries, logs.GetHistory(limit)...)
	}
	c.emit(FrameLogHistory, map[string]any{"entries": entries})
}
