package update

import (
	"context"
	"time"
)

// Emitter receives outbound events. Implementations must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(ev Event) { f(ev) }

// Emitters fans an event out to several emitters, skipping nil entries.
type Emitters []Emitter

// Emit implements Emitter.
func (es Emitters) Emit(ev Event) {
	for _, e := range es {
		if e != nil {
			e.Emit(ev)
		}
	}
}

// Window is a presentation window owned by the host process.
type Window interface {
	Emitter
	Show() error
	Destroy()
}

// WindowFactory opens the presentation window for a mode.
type WindowFactory interface {
	OpenWindow(ctx context.Context, mode Mode) (Window, error)
}

// CommandSource delivers user commands ("run_update", "app_exit") issued in a
// presentation window. The returned function removes the handler.
type CommandSource interface {
	OnCommand(handler func(command string)) (remove func())
}

// ExitGuard keeps the application alive while all windows are closed.
// The returned function lifts the guard; calling it more than once is a no-op.
type ExitGuard interface {
	PreventQuitOnAllWindowsClosed() (release func())
}

// PlatformEventKind names a platform updater notification.
type PlatformEventKind string

const (
	PlatformChecking    PlatformEventKind = "checking-for-update"
	PlatformAvailable   PlatformEventKind = "update-available"
	PlatformUnavailable PlatformEventKind = "update-not-available"
	PlatformDownloaded  PlatformEventKind = "update-downloaded"
	PlatformError       PlatformEventKind = "error"
)

// PlatformEvent is emitted by the platform updater.
type PlatformEvent struct {
	Kind PlatformEventKind
	Err  error
}

// PlatformUpdater is the native install mechanism the controller hands a
// downloaded package to. Its verification and staging happen asynchronously;
// results arrive as events.
type PlatformUpdater interface {
	SetPackageSource(dir string) error
	CheckForUpdates(ctx context.Context)
	Subscribe(handler func(PlatformEvent)) (unsubscribe func())
	QuitAndInstall() error
}

// Recorder persists cycle outcomes.
type Recorder interface {
	RecordOutcome(ctx context.Context, outcome Outcome) error
}

// Observer receives metrics about update cycles.
type Observer interface {
	ObserveCheck(source Source, result VersionCheckResult)
	ObserveState(state State)
	ObserveDownload(bytes int64, duration time.Duration, ok bool)
}
