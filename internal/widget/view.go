package widget

import (
	"github.com/normanking/cortextalk/internal/bus"
	"github.com/normanking/cortextalk/internal/conversation"
	"github.com/normanking/cortextalk/internal/mouthsync"
)

// busView publishes conversation changes as bus events.
type busView struct {
	bus *bus.EventBus
}

func (v *busView) AppendBubble(b conversation.Bubble) {
	v.bus.PublishSync(bus.Event{Type: bus.EventTypeBubbleAppended, Data: map[string]any{"bubble": b}})
}

func (v *busView) UpdateBubble(b conversation.Bubble) {
	v.bus.PublishSync(bus.Event{Type: bus.EventTypeBubbleUpdated, Data: map[string]any{"bubble": b}})
}

func (v *busView) ScrollToEnd() {
	v.bus.PublishSync(bus.Event{Type: bus.EventTypeChatScroll})
}

func (v *busView) SetSendState(s conversation.SendState) {
	v.bus.PublishSync(bus.Event{Type: bus.EventTypeSendState, Data: sendData(s)})
}

func sendData(s conversation.SendState) map[string]any {
	return map[string]any{"busy": s.Busy, "label": s.Label}
}

// busMouth publishes mouth proxy changes.
type busMouth struct {
	bus *bus.EventBus
}

func (m *busMouth) SetMouth(scale float64, mode mouthsync.Mode) {
	m.bus.PublishSync(bus.Event{Type: bus.EventTypeMouthChanged, Data: map[string]any{
		"scale": scale,
		"mode":  string(mode),
	}})
}
