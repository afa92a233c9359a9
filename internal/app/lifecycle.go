// Package app tracks the host process lifecycle: open windows, guards that
// keep the process alive without windows, and the quit signal.
package app

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Lifecycle decides when the host quits. By default the process quits once
// the last window closes; a guard suppresses that while it is held.
type Lifecycle struct {
	mu      sync.Mutex
	logger  *zap.SugaredLogger
	windows map[string]struct{}
	guards  int
	quit    bool
	hooks   []func()
	done    chan struct{}
}

// New creates a Lifecycle.
func New(logger *zap.SugaredLogger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Lifecycle{
		logger:  logger,
		windows: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// PreventQuitOnAllWindowsClosed installs a guard. Releasing it does not quit
// the process by itself, even when no window is open at that point.
func (l *Lifecycle) PreventQuitOnAllWindowsClosed() func() {
	l.mu.Lock()
	l.guards++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.guards--
			l.mu.Unlock()
		})
	}
}

// Guarded reports whether any guard is held.
func (l *Lifecycle) Guarded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.guards > 0
}

// WindowOpened registers a window.
func (l *Lifecycle) WindowOpened(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows[id] = struct{}{}
}

// WindowClosed unregisters a window and quits when it was the last one and
// no guard is held.
func (l *Lifecycle) WindowClosed(id string) {
	l.mu.Lock()
	if _, ok := l.windows[id]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.windows, id)
	allClosed := len(l.windows) == 0
	guarded := l.guards > 0
	l.mu.Unlock()

	if !allClosed {
		return
	}
	if guarded {
		l.logger.Debugw("All windows closed, quit suppressed by guard")
		return
	}
	l.logger.Infow("All windows closed, quitting")
	l.Quit()
}

// WindowCount returns the number of open windows.
func (l *Lifecycle) WindowCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// OnQuit registers fn to run once when the process quits.
func (l *Lifecycle) OnQuit(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, fn)
}

// Quit runs the quit hooks and closes Done. Later calls do nothing.
func (l *Lifecycle) Quit() {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return
	}
	l.quit = true
	hooks := l.hooks
	l.hooks = nil
	l.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	close(l.done)
}

// Done is closed once the process quits.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until Quit or ctx is done.
func (l *Lifecycle) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
