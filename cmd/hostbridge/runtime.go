package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/app"
	"github.com/raumlabs/hostbridge/internal/bridge"
	"github.com/raumlabs/hostbridge/internal/config"
	"github.com/raumlabs/hostbridge/internal/logs"
	"github.com/raumlabs/hostbridge/internal/notify"
	"github.com/raumlabs/hostbridge/internal/observability"
	"github.com/raumlabs/hostbridge/internal/secret"
	"github.com/raumlabs/hostbridge/internal/squirrel"
	"github.com/raumlabs/hostbridge/internal/storage"
	"github.com/raumlabs/hostbridge/internal/update"
)

const (
	checkTimeout    = 30 * time.Second
	closeTimeout    = 5 * time.Second
	outcomeCapacity = 4
)

// runtime holds the services shared by commands.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	sugar     *zap.SugaredLogger
	store     *storage.Manager
	obs       *observability.Manager
	hub       *bridge.Hub
	lifecycle *app.Lifecycle
	platform  *installer
	outcomes  chan update.Outcome
}

// loadConfig loads the configuration for cmd. Load failures exit with ExitCodeConfigError.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, &exitError{code: ExitCodeConfigError, err: fmt.Errorf("failed to load configuration: %w", err)}
	}
	return cfg, nil
}

// setupLogger builds the command logger. One-shot commands stay at warn unless
// a level was asked for explicitly.
func setupLogger(cmd *cobra.Command, cfg *config.Config, serverCommand bool) (*zap.Logger, error) {
	base := *cfg.Logging
	if !serverCommand && !cmd.Flags().Changed("log-level") && base.Level == logs.LogLevelInfo {
		base.Level = ""
	}
	logger, err := logs.SetupCommandLogger(serverCommand, base)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger, nil
}

func newRuntime(cmd *cobra.Command, configPath string, serverCommand bool) (*runtime, error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, err
	}
	logger, err := setupLogger(cmd, cfg, serverCommand)
	if err != nil {
		return nil, err
	}
	sugar := logger.Sugar()

	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		sugar:     sugar,
		lifecycle: app.New(sugar),
		outcomes:  make(chan update.Outcome, outcomeCapacity),
	}

	rt.store, err = storage.NewManager(cfg.DataDir, sugar)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	obsCfg := cfg.Observability
	obsCfg.Tracing.ServiceVersion = version
	rt.obs, err = observability.NewManager(sugar, obsCfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	hubOpts := []bridge.Option{bridge.WithOutboxSize(cfg.Bridge.OutboxSize)}
	if metrics := rt.obs.Metrics(); metrics != nil {
		hubOpts = append(hubOpts, bridge.WithObserver(metrics))
	}
	rt.hub = bridge.NewHub(sugar, hubOpts...)
	bridge.RegisterGlobal(rt.hub, rt.store)

	updater, err := squirrel.New(logger.Named("squirrel"), squirrel.WithQuitFunc(rt.lifecycle.Quit))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.platform = newInstaller(updater)

	logger.Debug("Runtime ready",
		zap.String("version", version),
		zap.String("data_dir", cfg.DataDir))
	return rt, nil
}

// Close releases storage, flushes traces and syncs the logger.
func (rt *runtime) Close() {
	if rt.obs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := rt.obs.Close(ctx); err != nil {
			rt.sugar.Warnw("Failed to shut down observability", "error", err)
		}
		cancel()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.sugar.Warnw("Failed to close storage", "error", err)
		}
	}
	_ = rt.logger.Sync()
}

// appInfo identifies this build to the update controller.
func (rt *runtime) appInfo() update.AppInfo {
	return update.AppInfo{Name: config.AppName, Version: appVersion()}
}

// appVersion is the build version without a tag "v" prefix.
func appVersion() string {
	return strings.TrimPrefix(version, "v")
}

// tempDir is the update staging directory.
func (rt *runtime) tempDir() string {
	if rt.cfg.Update.TempDir != "" {
		return rt.cfg.Update.TempDir
	}
	return update.DefaultTempDir(config.AppName)
}

// checkerConfig resolves the comparator and, for release sources, the API token.
func (rt *runtime) checkerConfig(ctx context.Context) (update.CheckerConfig, error) {
	cmp, err := update.ComparatorByName(rt.cfg.Update.Comparator)
	if err != nil {
		return update.CheckerConfig{}, &exitError{code: ExitCodeConfigError, err: err}
	}
	cc := update.CheckerConfig{
		URL:        rt.cfg.Update.URL,
		TempDir:    rt.tempDir(),
		HTTPClient: &http.Client{Timeout: checkTimeout},
		Comparator: cmp,
		APIBaseURL: rt.cfg.Update.APIBaseURL,
	}
	if update.Source(rt.cfg.Update.Source) == update.SourceGit {
		cc.Token = rt.tokens().Token(ctx)
	}
	return cc, nil
}

func (rt *runtime) tokens() *secret.TokenSource {
	return secret.NewTokenSource(rt.sugar, rt.cfg.Update.TokenAccount, rt.cfg.Update.TokenEnv)
}

// newController wires a controller to the runtime's platform updater, history,
// metrics and notifications. opts add presentation collaborators.
func (rt *runtime) newController(ctx context.Context, opts ...update.ControllerOption) (*update.Controller, error) {
	cc, err := rt.checkerConfig(ctx)
	if err != nil {
		return nil, err
	}

	base := []update.ControllerOption{
		update.WithTempDir(rt.tempDir()),
		update.WithCheckerConfig(cc),
		update.WithRecorder(&outcomeTap{
			store:    rt.store,
			keep:     rt.cfg.Update.HistoryKeep,
			logger:   rt.sugar,
			outcomes: rt.outcomes,
		}),
	}
	if metrics := rt.obs.Metrics(); metrics != nil {
		base = append(base, update.WithObserver(metrics))
	}
	if rt.cfg.Update.Notify {
		base = append(base, update.WithEmitter(notify.New(config.AppName, rt.sugar)))
	}
	return update.NewController(rt.logger.Named("update"), rt.appInfo(), rt.platform, append(base, opts...)...), nil
}

// updateOptions builds the Init options from configuration.
func (rt *runtime) updateOptions(mode update.Mode, progress func(update.Event)) update.Options {
	return update.Options{
		URL:        rt.cfg.Update.URL,
		Source:     update.Source(rt.cfg.Update.Source),
		Mode:       mode,
		StartDelay: rt.cfg.Update.StartDelay(),
		Progress:   progress,
	}
}

// outcomeTap stores finished cycles, trims history and hands the outcome to
// whoever waits on the cycle.
type outcomeTap struct {
	store    *storage.Manager
	keep     int
	logger   *zap.SugaredLogger
	outcomes chan<- update.Outcome
}

// RecordOutcome implements update.Recorder.
func (t *outcomeTap) RecordOutcome(ctx context.Context, outcome update.Outcome) error {
	err := t.store.RecordOutcome(ctx, outcome)
	if err == nil && t.keep > 0 {
		if pruned, perr := t.store.PruneHistory(t.keep); perr != nil {
			t.logger.Warnw("Failed to prune update history", "error", perr)
		} else if pruned > 0 {
			t.logger.Debugw("Pruned update history", "removed", pruned)
		}
	}

	select {
	case t.outcomes <- outcome:
	default:
		t.logger.Debugw("Outcome not consumed", "session", outcome.SessionID)
	}
	return err
}

// installer reports the result of QuitAndInstall, which runs after the
// outcome has been recorded and before the window is destroyed. Callers wait
// on Controller.Done for the rest of the teardown.
type installer struct {
	*squirrel.Updater
	installed chan error
}

func newInstaller(u *squirrel.Updater) *installer {
	return &installer{Updater: u, installed: make(chan error, 1)}
}

// QuitAndInstall implements update.PlatformUpdater.
func (i *installer) QuitAndInstall() error {
	err := i.Updater.QuitAndInstall()
	select {
	case i.installed <- err:
	default:
	}
	return err
}
