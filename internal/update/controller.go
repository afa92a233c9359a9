package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// DefaultStartDelay is the pause between Init and the version check.
const DefaultStartDelay = time.Second

// ErrAlreadyActive is logged when Init is called while a cycle is running.
var ErrAlreadyActive = errors.New("update cycle already active")

// AppInfo identifies the running application.
type AppInfo struct {
	Name    string
	Version string
}

// Options configures one Init call.
type Options struct {
	// URL is the manifest base URL (SourceHTTP) or "owner/repo" (SourceGit).
	URL    string
	Source Source
	Mode   Mode
	// StartDelay defaults to DefaultStartDelay when zero.
	StartDelay time.Duration
	// Progress receives every emitted event.
	Progress func(Event)
	// Check bypasses the network check when set.
	Check *VersionCheckResult
}

// Controller runs the update state machine. One Controller handles one cycle
// at a time; Init may be called again once the previous cycle has ended.
type Controller struct {
	logger     *zap.Logger
	app        AppInfo
	tempDir    string
	platform   PlatformUpdater
	downloader *Downloader
	checkerCfg CheckerConfig
	newChecker func(source Source, url string) (Checker, error)
	windows    WindowFactory
	commands   CommandSource
	guard      ExitGuard
	emitter    Emitter
	recorder   Recorder
	observer   Observer

	mu                  sync.Mutex
	state               State
	session             *Session
	cycleCtx            context.Context
	message             string
	window              Window
	progress            func(Event)
	decision            chan bool
	done                chan struct{}
	removeCommands      func()
	releaseGuard        func()
	unsubscribePlatform func()
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithTempDir sets the staging directory for RELEASES and the package.
func WithTempDir(dir string) ControllerOption {
	return func(c *Controller) { c.tempDir = dir }
}

// WithDownloader replaces the default downloader.
func WithDownloader(d *Downloader) ControllerOption {
	return func(c *Controller) { c.downloader = d }
}

// WithCheckerConfig sets the HTTP client, comparator and token used by checkers.
// URL and TempDir are filled in per cycle.
func WithCheckerConfig(cfg CheckerConfig) ControllerOption {
	return func(c *Controller) { c.checkerCfg = cfg }
}

// WithCheckerFactory replaces strategy selection, mainly for tests.
func WithCheckerFactory(fn func(source Source, url string) (Checker, error)) ControllerOption {
	return func(c *Controller) { c.newChecker = fn }
}

// WithWindows sets the presentation window factory used by widget and splash modes.
func WithWindows(f WindowFactory) ControllerOption {
	return func(c *Controller) { c.windows = f }
}

// WithCommands sets where user commands come from.
func WithCommands(s CommandSource) ControllerOption {
	return func(c *Controller) { c.commands = s }
}

// WithExitGuard sets the app lifecycle hook used while a window is shown.
func WithExitGuard(g ExitGuard) ControllerOption {
	return func(c *Controller) { c.guard = g }
}

// WithEmitter adds an emitter that receives every event.
func WithEmitter(e Emitter) ControllerOption {
	return func(c *Controller) { c.emitter = e }
}

// WithRecorder persists cycle outcomes.
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithObserver reports metrics.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observer = o }
}

// NewController creates a controller for app that hands packages to platform.
func NewController(logger *zap.Logger, app AppInfo, platform PlatformUpdater, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		logger:   logger,
		app:      app,
		tempDir:  DefaultTempDir(app.Name),
		platform: platform,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.downloader == nil {
		c.downloader = NewDownloader(nil, logger)
	}
	if c.newChecker == nil {
		c.newChecker = func(source Source, url string) (Checker, error) {
			cfg := c.checkerCfg
			cfg.URL = url
			cfg.TempDir = c.tempDir
			return NewChecker(source, cfg, c.logger)
		}
	}
	return c
}

// DefaultTempDir returns <os temp>/<appName>_update.
func DefaultTempDir(appName string) string {
	return filepath.Join(os.TempDir(), appName+"_update")
}

// Done returns a channel closed once the current or most recent cycle has
// released its window, exit guard and subscriptions. It is closed when no
// cycle has started.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return closedDone
	}
	return c.done
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// TempDir returns the staging directory.
func (c *Controller) TempDir() string {
	return c.tempDir
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the active session.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Init runs one update cycle up to its first decision point. It returns false
// on every abort path and true once a download has started: immediately in
// silent and widget modes, after the user's run_update command in splash mode.
// Download and install progress is only observable through events.
//
// When Init returns false the cycle has been torn down: the window is
// destroyed, the exit guard released and the outcome recorded. Cancelling ctx
// before the check or while a decision is pending ends the cycle as
// AbortDeclined, the same code an app_exit command produces.
func (c *Controller) Init(ctx context.Context, opts Options) bool {
	if opts.Mode == "" {
		opts.Mode = ModeSilent
	}
	if opts.Source == "" {
		opts.Source = SourceHTTP
	}
	delay := opts.StartDelay
	if delay <= 0 {
		delay = DefaultStartDelay
	}

	if err := c.begin(ctx, opts); err != nil {
		c.logger.Error("Update init rejected", zap.Error(err))
		return false
	}

	if opts.Check == nil && !IsReleaseVersion(c.app.Version) {
		c.logger.Warn("Local version is not a release version", zap.String("version", c.app.Version))
	}

	c.emit(EventVersion, VersionInfo{Name: c.app.Name, Version: c.app.Version})

	select {
	case <-ctx.Done():
		c.abort(AbortDeclined, "cancelled before version check: "+ctx.Err().Error())
		return false
	case <-time.After(delay):
	}

	result, err := c.runCheck(ctx, opts)
	if c.observer != nil {
		c.observer.ObserveCheck(opts.Source, result)
	}
	switch {
	case err != nil:
		c.emit(EventLog, err.Error())
		c.abort(AbortUnexpected, err.Error())
		return false
	case !result.OK:
		label := "URL"
		if opts.Source == SourceGit {
			label = "GitHub repository"
		}
		c.emit(EventLog, fmt.Sprintf("Failed to fetch %s: %s", label, opts.URL))
		c.abort(AbortSourceUnreachable, result.RemoteVersion)
		return false
	case !result.IsNewer:
		c.abort(AbortNoUpdate, "no update available")
		return false
	}

	decision, err := c.enterFound(ctx, opts, result)
	if err != nil {
		c.emit(EventLog, err.Error())
		c.abort(AbortUnexpected, err.Error())
		return false
	}

	if !opts.Mode.Interactive() {
		c.mu.Lock()
		sess, ok := c.beginDownloadLocked()
		c.mu.Unlock()
		if !ok {
			return false
		}
		c.startDownload(sess)
		return true
	}

	select {
	case ok := <-decision:
		return ok
	case <-ctx.Done():
		c.mu.Lock()
		if c.decision != nil {
			td := c.abortLocked(AbortDeclined, "cancelled while awaiting decision: "+ctx.Err().Error())
			c.mu.Unlock()
			td.run(c)
			return false
		}
		c.mu.Unlock()
		return <-decision
	}
}

func (c *Controller) begin(ctx context.Context, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return ErrAlreadyActive
	}
	c.state = StateIdle
	c.message = ""
	c.progress = opts.Progress
	c.cycleCtx = context.WithoutCancel(ctx)
	c.done = make(chan struct{})
	c.session = &Session{
		ID:           ulid.Make().String(),
		StartedAt:    time.Now(),
		Source:       opts.Source,
		Mode:         opts.Mode,
		LocalVersion: c.app.Version,
	}
	return nil
}

func (c *Controller) runCheck(ctx context.Context, opts Options) (result VersionCheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("version check failed unexpectedly: %v", r)
		}
	}()

	if opts.Check != nil {
		return *opts.Check, nil
	}

	if opts.Source == SourceGit {
		c.emit(EventLog, "Check Version (GitHub)")
	} else {
		c.emit(EventLog, "Check Version (HTTP)")
	}

	checker, err := c.newChecker(opts.Source, opts.URL)
	if err != nil {
		return VersionCheckResult{}, err
	}
	return checker.Check(ctx, c.app.Version), nil
}

// enterFound installs the window, listeners and session data for a newer
// version. The returned channel is the pending decision in splash mode.
func (c *Controller) enterFound(ctx context.Context, opts Options, result VersionCheckResult) (<-chan bool, error) {
	var (
		win     Window
		release func()
	)
	if opts.Mode.RequiresWindow() {
		if c.guard != nil {
			release = c.guard.PreventQuitOnAllWindowsClosed()
		}
		if c.windows != nil {
			w, err := c.windows.OpenWindow(ctx, opts.Mode)
			if err == nil {
				if err = w.Show(); err != nil {
					w.Destroy()
				}
			}
			if err != nil {
				if release != nil {
					release()
				}
				return nil, fmt.Errorf("failed to open update window: %w", err)
			}
			win = w
		}
	}

	c.mu.Lock()
	c.window = win
	c.releaseGuard = release
	c.session.RemoteVersion = result.RemoteVersion
	c.session.Package = PackageInfo{
		Checksum: result.PackageChecksum,
		FileName: result.PackageFileName,
		Size:     result.PackageSize,
		URL:      result.PackageURL,
	}
	c.state = StateFound
	if opts.Mode.Interactive() {
		c.decision = make(chan bool, 1)
	}
	decision := c.decision
	pkg := c.session.Package
	c.mu.Unlock()

	c.emit(EventLog, "New Version Found")
	c.emit(EventLog, pkg)
	c.emit(EventVersion, VersionInfo{Name: c.app.Name, Version: c.app.Version, RemoteVersion: result.RemoteVersion})
	c.emitState(StateFound)

	c.emit(EventLog, "Init Updater Events")
	var unsubscribe, removeCommands func()
	if c.platform != nil {
		unsubscribe = c.platform.Subscribe(c.onPlatformEvent)
	}
	if c.commands != nil {
		removeCommands = c.commands.OnCommand(c.onCommand)
	}

	c.mu.Lock()
	if c.state.IsTerminal() {
		// Ended while subscribing; nothing else will remove these.
		c.mu.Unlock()
		callAll(removeCommands, unsubscribe)
		return decision, nil
	}
	c.unsubscribePlatform = unsubscribe
	c.removeCommands = removeCommands
	c.mu.Unlock()

	return decision, nil
}

func (c *Controller) onCommand(command string) {
	switch command {
	case CommandRunUpdate:
		c.mu.Lock()
		if c.state != StateFound || c.decision == nil {
			c.mu.Unlock()
			c.logger.Debug("Ignoring run_update outside of a pending decision")
			return
		}
		c.resolveLocked(true)
		sess, ok := c.beginDownloadLocked()
		c.mu.Unlock()
		if ok {
			c.startDownload(sess)
		}

	case CommandAppExit:
		c.mu.Lock()
		if c.state != StateFound || c.decision == nil {
			c.mu.Unlock()
			c.logger.Debug("Ignoring app_exit outside of a pending decision")
			return
		}
		td := c.abortLocked(AbortDeclined, "declined by user")
		c.mu.Unlock()
		td.run(c)

	default:
		c.logger.Debug("Unknown update command", zap.String("command", command))
	}
}

// resolveLocked hands the decision to the waiting Init call. It is only valid
// while a splash cycle awaits the user in StateFound.
func (c *Controller) resolveLocked(ok bool) {
	if c.decision == nil || c.state != StateFound {
		panic(fmt.Sprintf("update: decision resolved in state %s without a pending decision", c.state))
	}
	c.decision <- ok
	c.decision = nil
}

func (c *Controller) beginDownloadLocked() (Session, bool) {
	if c.state != StateFound {
		return Session{}, false
	}
	c.state = StateDownloading
	return *c.session, true
}

func (c *Controller) startDownload(sess Session) {
	c.emit(EventLog, "Run Update")
	c.emitState(StateDownloading)

	c.mu.Lock()
	ctx := c.cycleCtx
	c.mu.Unlock()

	go c.runDownload(ctx, sess)
}

func (c *Controller) runDownload(ctx context.Context, sess Session) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("update download failed unexpectedly: %v", r)
			c.emit(EventLog, msg)
			c.abort(AbortUnexpected, msg)
		}
	}()

	name := filepath.Base(sess.Package.FileName)
	if name == "." || name == string(filepath.Separator) || sess.Package.URL == "" {
		msg := "update package is missing a file name or download URL"
		c.emit(EventLog, msg)
		c.abort(AbortUnexpected, msg)
		return
	}

	started := time.Now()
	var received int64
	res := c.downloader.Download(ctx, sess.Package.URL, filepath.Join(c.tempDir, name), func(p DownloadProgress) {
		received = p.BytesReceived
		c.emit(EventDownload, p)
	})
	if c.observer != nil {
		c.observer.ObserveDownload(received, time.Since(started), res.OK)
	}
	if !res.OK {
		msg := "Download failed: " + res.Message
		c.emit(EventLog, msg)
		c.abort(AbortUnexpected, msg)
		return
	}
	c.emit(EventLog, "Download Finished")

	c.mu.Lock()
	if c.state != StateDownloading {
		c.mu.Unlock()
		return
	}
	c.state = StatePreparing
	c.mu.Unlock()
	c.emitState(StatePreparing)

	if c.platform == nil {
		c.abort(AbortPlatformError, "no platform updater configured")
		return
	}
	if err := c.platform.SetPackageSource(c.tempDir); err != nil {
		c.emit(EventAutoUpdater, err.Error())
		c.abort(AbortPlatformError, err.Error())
		return
	}
	c.platform.CheckForUpdates(ctx)
}

func (c *Controller) onPlatformEvent(ev PlatformEvent) {
	switch ev.Kind {
	case PlatformError:
		msg := string(ev.Kind)
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		c.emit(EventAutoUpdater, msg)
		c.abort(AbortPlatformError, msg)
	case PlatformDownloaded:
		c.emit(EventAutoUpdater, string(ev.Kind))
		c.finish()
	default:
		c.emit(EventAutoUpdater, string(ev.Kind))
	}
}

func (c *Controller) finish() {
	c.mu.Lock()
	if c.state != StatePreparing {
		c.mu.Unlock()
		return
	}
	c.state = StateReadyToInstall
	c.message = "ready to install"
	targets := c.targetsLocked()
	outcome := c.outcomeLocked()
	td := c.detachLocked()
	c.mu.Unlock()

	c.emitTo(targets, Event{Type: EventLog, Data: "Quit to install"})
	c.emitStateTo(targets, StateReadyToInstall)
	callAll(td.removeCommands, td.unsubscribePlatform)
	c.record(outcome)

	if err := c.platform.QuitAndInstall(); err != nil {
		c.logger.Error("Quit and install failed", zap.Error(err))
		c.emitTo(targets, Event{Type: EventLog, Data: "Install failed: " + err.Error()})
	}

	td.removeCommands, td.unsubscribePlatform = nil, nil
	td.run(c)
}

// abort moves an idle or active cycle into the absorbing Aborted state.
func (c *Controller) abort(code State, message string) {
	c.mu.Lock()
	td := c.abortLocked(code, message)
	c.mu.Unlock()
	td.run(c)
}

func (c *Controller) abortLocked(code State, message string) *teardown {
	if c.session == nil || (c.state != StateIdle && !c.state.IsActive()) {
		return nil
	}
	// The pending decision is answered after teardown so Init never returns
	// while the window or the exit guard is still held.
	decision := c.decision
	c.decision = nil
	c.state = code
	c.message = message
	targets := c.targetsLocked()
	outcome := c.outcomeLocked()
	td := c.detachLocked()
	td.decision = decision
	td.targets = targets
	td.aborted = code
	td.outcome = outcome
	return td
}

// teardown holds what a terminal transition must release after the lock is dropped.
type teardown struct {
	targets             emitTargets
	aborted             State
	outcome             Outcome
	decision            chan bool
	done                chan struct{}
	removeCommands      func()
	window              Window
	releaseGuard        func()
	unsubscribePlatform func()
}

func (c *Controller) detachLocked() *teardown {
	td := &teardown{
		removeCommands:      c.removeCommands,
		window:              c.window,
		releaseGuard:        c.releaseGuard,
		unsubscribePlatform: c.unsubscribePlatform,
		done:                c.done,
	}
	c.removeCommands = nil
	c.window = nil
	c.releaseGuard = nil
	c.unsubscribePlatform = nil
	c.session = nil
	return td
}

func (td *teardown) run(c *Controller) {
	if td == nil {
		return
	}
	if td.aborted != 0 {
		c.logger.Info("Update aborted",
			zap.Int("code", int(td.aborted)),
			zap.String("reason", td.outcome.Message))
		c.emitTo(td.targets, Event{Type: EventLog, Data: "Update Aborted"})
		c.emitStateTo(td.targets, td.aborted)
	}

	callAll(td.removeCommands)
	// The window goes before the guard: closing the last window with the
	// guard already lifted would quit the application mid-teardown.
	if td.window != nil {
		td.window.Destroy()
	}
	callAll(td.releaseGuard, td.unsubscribePlatform)

	if td.aborted != 0 {
		c.record(td.outcome)
	}
	if td.decision != nil {
		td.decision <- false
	}
	if td.done != nil {
		close(td.done)
	}
}

func (c *Controller) outcomeLocked() Outcome {
	s := c.session
	return Outcome{
		SessionID:     s.ID,
		StartedAt:     s.StartedAt,
		FinishedAt:    time.Now(),
		Source:        s.Source,
		Mode:          s.Mode,
		LocalVersion:  s.LocalVersion,
		RemoteVersion: s.RemoteVersion,
		PackageName:   s.Package.FileName,
		State:         c.state,
		Message:       c.message,
	}
}

func (c *Controller) record(outcome Outcome) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordOutcome(context.Background(), outcome); err != nil {
		c.logger.Warn("Failed to record update outcome", zap.Error(err))
	}
}

type emitTargets struct {
	window   Window
	progress func(Event)
}

func (c *Controller) targetsLocked() emitTargets {
	return emitTargets{window: c.window, progress: c.progress}
}

func (c *Controller) emit(typ EventType, data interface{}) {
	c.mu.Lock()
	targets := c.targetsLocked()
	c.mu.Unlock()
	c.emitTo(targets, Event{Type: typ, Data: data})
}

func (c *Controller) emitState(s State) {
	c.mu.Lock()
	targets := c.targetsLocked()
	c.mu.Unlock()
	c.emitStateTo(targets, s)
}

func (c *Controller) emitStateTo(targets emitTargets, s State) {
	if c.observer != nil {
		c.observer.ObserveState(s)
	}
	c.emitTo(targets, Event{Type: EventState, Data: s})
}

func (c *Controller) emitTo(targets emitTargets, ev Event) {
	if ev.Type == EventLog {
		c.logger.Debug("Update event", zap.Any("data", ev.Data))
	}
	if targets.window != nil {
		targets.window.Emit(ev)
	}
	if targets.progress != nil {
		targets.progress(ev)
	}
	if c.emitter != nil {
		c.emitter.Emit(ev)
	}
}

func callAll(fns ...func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}
