// Package tui renders update windows in a terminal with Bubble Tea.
package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/update"
)

const eventBuffer = 256

// Terminal opens terminal update windows and relays their key presses as
// update commands. It implements update.WindowFactory and update.CommandSource.
type Terminal struct {
	logger  *zap.Logger
	options []tea.ProgramOption

	mu       sync.Mutex
	nextID   int
	handlers map[int]func(string)
}

// NewTerminal creates a Terminal. Program options are passed to every window.
func NewTerminal(logger *zap.Logger, opts ...tea.ProgramOption) *Terminal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Terminal{
		logger:   logger,
		options:  opts,
		handlers: make(map[int]func(string)),
	}
}

// OnCommand implements update.CommandSource.
func (t *Terminal) OnCommand(handler func(command string)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

func (t *Terminal) dispatch(command string) {
	t.mu.Lock()
	handlers := make([]func(string), 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	t.logger.Debug("Terminal command", zap.String("command", command))
	for _, h := range handlers {
		// Handlers may block on the controller; keep the render loop free.
		go h(command)
	}
}

// OpenWindow implements update.WindowFactory.
func (t *Terminal) OpenWindow(_ context.Context, mode update.Mode) (update.Window, error) {
	return &Window{
		terminal: t,
		mode:     mode,
		events:   make(chan update.Event, eventBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Window is a terminal update window.
type Window struct {
	terminal *Terminal
	mode     update.Mode
	events   chan update.Event
	stop     chan struct{}
	done     chan struct{}

	mu        sync.Mutex
	program   *tea.Program
	destroyed bool
}

// Show starts the Bubble Tea program.
func (w *Window) Show() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.program != nil || w.destroyed {
		return nil
	}

	p := tea.NewProgram(newModel(w.mode, w.terminal.dispatch), w.terminal.options...)
	w.program = p

	go func() {
		defer close(w.done)
		if _, err := p.Run(); err != nil {
			w.terminal.logger.Warn("Update window stopped", zap.Error(err))
		}
	}()
	go w.pump(p)
	return nil
}

// pump forwards buffered events so Emit never waits on the render loop.
func (w *Window) pump(p *tea.Program) {
	for {
		select {
		case ev := <-w.events:
			p.Send(eventMsg{event: ev})
		case <-w.stop:
			return
		case <-w.done:
			return
		}
	}
}

// Emit queues ev for rendering and drops it when the queue is full.
func (w *Window) Emit(ev update.Event) {
	select {
	case w.events <- ev:
	default:
		w.terminal.logger.Debug("Update window queue full, dropping event", zap.String("type", string(ev.Type)))
	}
}

// Destroy stops the program and waits for the terminal to be restored.
func (w *Window) Destroy() {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.destroyed = true
	p := w.program
	w.mu.Unlock()

	close(w.stop)
	if p == nil {
		return
	}
	p.Send(closeMsg{})
	<-w.done
}
