// Package notify raises desktop notifications for update milestones.
package notify

import (
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/update"
)

// SendFunc displays one notification.
type SendFunc func(title, message string) error

// Notifier is an update.Emitter that turns state events into notifications.
// Quiet outcomes (no update, declined) are not shown.
type Notifier struct {
	appName string
	send    SendFunc
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	remote string
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithSendFunc replaces the beeep backend.
func WithSendFunc(fn SendFunc) Option {
	return func(n *Notifier) { n.send = fn }
}

// New creates a notifier for appName.
func New(appName string, logger *zap.SugaredLogger, opts ...Option) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	n := &Notifier{
		appName: appName,
		logger:  logger,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Emit implements update.Emitter. Delivery happens off the caller's goroutine.
func (n *Notifier) Emit(ev update.Event) {
	switch ev.Type {
	case update.EventVersion:
		if info, ok := ev.Data.(update.VersionInfo); ok {
			n.mu.Lock()
			n.remote = info.RemoteVersion
			n.mu.Unlock()
		}
	case update.EventState:
		state, ok := ev.Data.(update.State)
		if !ok {
			return
		}
		if title, msg, show := n.message(state); show {
			go n.deliver(title, msg)
		}
	}
}

func (n *Notifier) message(state update.State) (title, msg string, show bool) {
	n.mu.Lock()
	remote := n.remote
	n.mu.Unlock()

	switch state {
	case update.StateFound:
		return n.appName + " update available", fmt.Sprintf("Version %s is available", remote), true
	case update.StateReadyToInstall:
		return n.appName + " update ready", fmt.Sprintf("Restarting to install version %s", remote), true
	case update.AbortSourceUnreachable:
		return n.appName + " update failed", "The update server could not be reached", true
	case update.AbortUnexpected, update.AbortPlatformError:
		return n.appName + " update failed", fmt.Sprintf("The update was aborted (%d)", int(state)), true
	}
	return "", "", false
}

func (n *Notifier) deliver(title, msg string) {
	if err := n.send(title, msg); err != nil {
		n.logger.Warnw("Failed to show notification", "title", title, "error", err)
		return
	}
	n.logger.Debugw("Notification shown", "title", title)
}
