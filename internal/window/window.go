// Package window provides presentation windows backed by bridge views.
package window

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/app"
	"github.com/raumlabs/hostbridge/internal/bridge"
	"github.com/raumlabs/hostbridge/internal/update"
)

// Notice is broadcast on bridge.ChannelWindow when a window opens or closes,
// so the view shell can create or drop the matching view.
type Notice struct {
	ID     string      `json:"id"`
	Mode   update.Mode `json:"mode"`
	Action string      `json:"action"`
}

// BridgeWindow is an update.Window whose view is attached through the hub.
type BridgeWindow struct {
	id        string
	mode      update.Mode
	hub       *bridge.Hub
	lifecycle *app.Lifecycle
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	shown     bool
	destroyed bool
}

// ID returns the window's view id.
func (w *BridgeWindow) ID() string { return w.id }

// Show announces the window, attaches its view outbox and registers it.
func (w *BridgeWindow) Show() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shown || w.destroyed {
		return nil
	}
	// Announce first so the window's own view does not receive its open notice.
	w.hub.Broadcast(bridge.ChannelWindow, Notice{ID: w.id, Mode: w.mode, Action: "open"})
	if _, err := w.hub.Attach(w.id); err != nil {
		w.hub.Broadcast(bridge.ChannelWindow, Notice{ID: w.id, Mode: w.mode, Action: "close"})
		return err
	}
	w.shown = true
	if w.lifecycle != nil {
		w.lifecycle.WindowOpened(w.id)
	}
	w.logger.Debugw("Update window shown", "id", w.id, "mode", w.mode)
	return nil
}

// Emit pushes ev to the view on bridge.ChannelEvent.
func (w *BridgeWindow) Emit(ev update.Event) {
	w.mu.Lock()
	live := w.shown && !w.destroyed
	w.mu.Unlock()
	if !live {
		return
	}
	if err := w.hub.Send(w.id, bridge.ChannelEvent, ev); err != nil {
		w.logger.Debugw("Dropping update event", "id", w.id, "error", err)
	}
}

// Destroy detaches the view and unregisters the window. It is idempotent.
func (w *BridgeWindow) Destroy() {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.destroyed = true
	shown := w.shown
	w.mu.Unlock()

	if !shown {
		return
	}
	w.hub.Detach(w.id)
	w.hub.Broadcast(bridge.ChannelWindow, Notice{ID: w.id, Mode: w.mode, Action: "close"})
	if w.lifecycle != nil {
		w.lifecycle.WindowClosed(w.id)
	}
	w.logger.Debugw("Update window destroyed", "id", w.id)
}

// Factory opens BridgeWindows. It implements update.WindowFactory.
type Factory struct {
	Hub       *bridge.Hub
	Lifecycle *app.Lifecycle
	Logger    *zap.SugaredLogger
}

// OpenWindow creates a window with a fresh id. It is shown by the caller.
func (f *Factory) OpenWindow(_ context.Context, mode update.Mode) (update.Window, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BridgeWindow{
		id:        "update-" + uuid.NewString(),
		mode:      mode,
		hub:       f.Hub,
		lifecycle: f.Lifecycle,
		logger:    logger,
	}, nil
}

// Commands turns messages views post on bridge.ChannelCommand into
// controller commands. It implements update.CommandSource.
type Commands struct {
	Hub *bridge.Hub
}

// OnCommand registers handler for command messages.
func (c *Commands) OnCommand(handler func(command string)) func() {
	return c.Hub.OnMessage(bridge.ChannelCommand, func(_ string, payload json.RawMessage) {
		if cmd := parseCommand(payload); cmd != "" {
			handler(cmd)
		}
	})
}

// parseCommand accepts "run_update" or {"command":"run_update"}.
func parseCommand(payload json.RawMessage) string {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil {
		return strings.TrimSpace(obj.Command)
	}
	return ""
}
