// Package bridge is the in-process transport between the host and its views:
// request/response invocation, view-to-host messages and host-to-view push.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultOutboxSize is the number of pushed messages buffered per view.
const DefaultOutboxSize = 64

var (
	// ErrNoHandler is returned by Invoke for channels without a handler.
	ErrNoHandler = errors.New("no handler registered for channel")

	// ErrViewExists is returned by Attach for an id that is already attached.
	ErrViewExists = errors.New("view already attached")

	// ErrUnknownView is returned for ids that are not attached.
	ErrUnknownView = errors.New("unknown view")
)

// InvokeHandler answers a request on a channel.
type InvokeHandler func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// MessageHandler receives a message a view posted on a channel.
type MessageHandler func(viewID string, payload json.RawMessage)

// Message is pushed from the host to a view.
type Message struct {
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload"`
}

// Observer receives transport metrics.
type Observer interface {
	ObserveInvoke(channel string, duration time.Duration, err error)
	ObserveDropped(viewID, channel string)
}

// View is an attached view's outbox.
type View struct {
	ID  string
	out chan Message
}

// Messages returns the push stream. It is closed when the view detaches.
func (v *View) Messages() <-chan Message {
	return v.out
}

// Hub routes invocations, view messages and pushes.
type Hub struct {
	logger     *zap.SugaredLogger
	observer   Observer
	outboxSize int

	mu        sync.RWMutex
	handlers  map[string]InvokeHandler
	listeners map[string]map[int]MessageHandler
	nextID    int
	views     map[string]*View
}

// Option configures a Hub.
type Option func(*Hub)

// WithOutboxSize sets the per-view push buffer.
func WithOutboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.outboxSize = n
		}
	}
}

// WithObserver reports metrics to o.
func WithObserver(o Observer) Option {
	return func(h *Hub) { h.observer = o }
}

// NewHub creates an empty hub.
func NewHub(logger *zap.SugaredLogger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Hub{
		logger:     logger,
		outboxSize: DefaultOutboxSize,
		handlers:   make(map[string]InvokeHandler),
		listeners:  make(map[string]map[int]MessageHandler),
		views:      make(map[string]*View),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle registers the invoke handler for channel, replacing any previous one.
func (h *Hub) Handle(channel string, handler InvokeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[channel] = handler
}

// Channels lists channels with an invoke handler.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.handlers))
	for ch := range h.handlers {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Invoke calls the handler registered for channel.
func (h *Hub) Invoke(ctx context.Context, channel string, payload json.RawMessage) (result interface{}, err error) {
	h.mu.RLock()
	handler, ok := h.handlers[channel]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, channel)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorw("Invoke handler panicked", "channel", channel, "panic", r)
			err = fmt.Errorf("handler for %s failed: %v", channel, r)
		}
		if h.observer != nil {
			h.observer.ObserveInvoke(channel, time.Since(start), err)
		}
	}()
	return handler(ctx, payload)
}

// OnMessage adds a listener for messages views post on channel.
func (h *Hub) OnMessage(channel string, handler MessageHandler) (remove func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.listeners[channel] == nil {
		h.listeners[channel] = make(map[int]MessageHandler)
	}
	h.listeners[channel][id] = handler
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners[channel], id)
		if len(h.listeners[channel]) == 0 {
			delete(h.listeners, channel)
		}
	}
}

// Post delivers a view message to the channel's listeners and reports how many received it.
func (h *Hub) Post(viewID, channel string, payload json.RawMessage) int {
	h.mu.RLock()
	handlers := make([]MessageHandler, 0, len(h.listeners[channel]))
	for _, l := range h.listeners[channel] {
		handlers = append(handlers, l)
	}
	h.mu.RUnlock()

	for _, l := range handlers {
		l(viewID, payload)
	}
	if len(handlers) == 0 {
		h.logger.Debugw("View message without listener", "view", viewID, "channel", channel)
	}
	return len(handlers)
}

// Attach creates the outbox for viewID.
func (h *Hub) Attach(viewID string) (*View, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.views[viewID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrViewExists, viewID)
	}
	v := &View{ID: viewID, out: make(chan Message, h.outboxSize)}
	h.views[viewID] = v
	h.logger.Debugw("View attached", "view", viewID)
	return v, nil
}

// View returns the attached view for viewID.
func (h *Hub) View(viewID string) (*View, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.views[viewID]
	return v, ok
}

// Detach closes and removes the outbox of viewID.
func (h *Hub) Detach(viewID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[viewID]
	if !ok {
		return
	}
	delete(h.views, viewID)
	close(v.out)
	h.logger.Debugw("View detached", "view", viewID)
}

// Views lists attached view ids.
func (h *Hub) Views() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.views))
	for id := range h.views {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Send pushes a message to one view. Delivery is best-effort: a full outbox
// drops the message.
func (h *Hub) Send(viewID, channel string, payload interface{}) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.views[viewID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownView, viewID)
	}
	h.deliverLocked(v, Message{Channel: channel, Payload: payload})
	return nil
}

// Broadcast pushes a message to every attached view and returns how many
// outboxes accepted it.
func (h *Hub) Broadcast(channel string, payload interface{}) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, v := range h.views {
		if h.deliverLocked(v, Message{Channel: channel, Payload: payload}) {
			n++
		}
	}
	return n
}

// deliverLocked must run with at least the read lock held so Detach cannot
// close the outbox concurrently.
func (h *Hub) deliverLocked(v *View, msg Message) bool {
	select {
	case v.out <- msg:
		return true
	default:
		h.logger.Warnw("View outbox full, dropping message", "view", v.ID, "channel", msg.Channel)
		if h.observer != nil {
			h.observer.ObserveDropped(v.ID, msg.Channel)
		}
		return false
	}
}
