package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/cortextalk/internal/bus"
	"github.com/normanking/cortextalk/internal/capability"
	"github.com/normanking/cortextalk/internal/chat"
	"github.com/normanking/cortextalk/internal/conversation"
	"github.com/normanking/cortextalk/internal/mouthsync"
	"github.com/normanking/cortextalk/internal/widget"
)

const barWidth = 30

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Run one conversational turn in the terminal",
		Long: `Send a message to the chat server and render the streamed reply.
Audio clips play on a virtual clock; the mouth level is drawn as a bar.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, logs, err := loadConfig(false)
			if err != nil {
				return err
			}
			defer logs.Close()

			if speed, _ := cmd.Flags().GetFloat64("speed"); speed > 0 {
				cfg.Audio.PlaybackSpeed = speed
			}
			showMouth, _ := cmd.Flags().GetBool("mouth")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			transport := chat.NewClient(&chat.ClientConfig{
				Endpoint: cfg.Server.ChatURL,
				Timeout:  cfg.Server.Timeout,
			}, logs.Zerolog())
			w, err := widget.New(cfg, capability.Console(cfg), transport, widget.Media{}, logs.Zerolog())
			if err != nil {
				return err
			}
			defer w.Close()

			out := &consoleView{showMouth: showMouth}
			out.subscribe(w.Bus)

			w.Session.Input().Set(strings.Join(args, " "))
			if err := w.Session.SendInput(ctx); err != nil {
				return err
			}
			waitForAudio(ctx, w)
			out.finish()
			return nil
		},
	}
	cmd.Flags().Float64("speed", 0, "virtual playback speed (overrides audio.playback_speed)")
	cmd.Flags().Bool("mouth", true, "draw the mouth level while audio plays")
	return cmd
}

// waitForAudio blocks until every clip of the turn has finished.
func waitForAudio(ctx context.Context, w *widget.Widget) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for w.Dispatcher.Playing() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// consoleView renders widget events as terminal lines.
type consoleView struct {
	showMouth bool

	mu      sync.Mutex
	texts   map[string]string
	barOpen bool
}

func (v *consoleView) subscribe(b *bus.EventBus) {
	v.texts = make(map[string]string)
	b.SubscribeMultiple([]bus.EventType{bus.EventTypeBubbleAppended, bus.EventTypeBubbleUpdated}, v.onBubble)
	if v.showMouth {
		b.Subscribe(bus.EventTypeMouthChanged, v.onMouth)
	}
}

func (v *consoleView) onBubble(e bus.Event) {
	bubble, ok := e.Data["bubble"].(conversation.Bubble)
	if !ok {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if prev, seen := v.texts[bubble.ID]; (seen && prev == bubble.Text) || bubble.Text == "" {
		v.texts[bubble.ID] = bubble.Text
		return
	}
	v.texts[bubble.ID] = bubble.Text
	v.closeBar()

	if bubble.Role == conversation.RoleUser {
		fmt.Println(userStyle.Render("you> ") + bubble.Text)
		return
	}
	fmt.Println(titleStyle.Render("bot> ") + bubble.Text)
}

func (v *consoleView) onMouth(e bus.Event) {
	scale, _ := e.Data["scale"].(float64)
	mode, _ := e.Data["mode"].(string)
	if mode != string(mouthsync.ModeManual) {
		return
	}
	level := (scale - mouthsync.RestingScale) / (mouthsync.MaxScale - mouthsync.RestingScale)
	n := int(level*barWidth + 0.5)
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Printf("\r%s %s%s %.2f", dimStyle.Render("mouth"), strings.Repeat("█", n), strings.Repeat("·", barWidth-n), scale)
	v.barOpen = true
}

func (v *consoleView) closeBar() {
	if v.barOpen {
		fmt.Println()
		v.barOpen = false
	}
}

func (v *consoleView) finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeBar()
}
