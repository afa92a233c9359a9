package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raumlabs/hostbridge/internal/bridge"
	"github.com/raumlabs/hostbridge/internal/httpapi"
	"github.com/raumlabs/hostbridge/internal/socket"
	"github.com/raumlabs/hostbridge/internal/update"
	"github.com/raumlabs/hostbridge/internal/window"
)

const uptimeInterval = 15 * time.Second

func newServeCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the view bridge and run background updates",
		Long: `Serve exposes the bridge channels to out-of-process views on a local socket
and, with --check-on-start, runs one update cycle in the configured mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath())
		},
	}

	cmd.Flags().StringP("listen", "l", "", "API endpoint: unix://path, npipe://name or host:port (default: socket in data dir)")
	cmd.Flags().Int("outbox-size", 0, "Per-view message buffer size")
	cmd.Flags().Bool("check-on-start", false, "Run an update cycle once the bridge is up")
	cmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")
	cmd.Flags().Bool("tracing", false, "Export OpenTelemetry traces")
	cmd.Flags().String("otlp-endpoint", "", "OTLP HTTP endpoint for traces")
	addUpdateFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	rt, err := newRuntime(cmd, configPath, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller, err := rt.newController(ctx,
		update.WithWindows(&window.Factory{Hub: rt.hub, Lifecycle: rt.lifecycle, Logger: rt.sugar}),
		update.WithCommands(&window.Commands{Hub: rt.hub}),
		update.WithExitGuard(rt.lifecycle),
	)
	if err != nil {
		return err
	}
	bridge.RegisterUpdate(rt.hub, controller, rt.store)

	endpoint := rt.cfg.Listen
	if endpoint == "" {
		endpoint = socket.DetectEndpoint(rt.cfg.DataDir)
	}
	ln, err := socket.Listen(endpoint, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", endpoint, err)
	}

	rt.logger.Info("Starting hostbridge",
		zap.String("version", version),
		zap.String("endpoint", endpoint),
		zap.String("update_mode", rt.cfg.Update.Mode))

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rt.lifecycle.OnQuit(cancel)

	server := httpapi.NewServer(rt.hub, rt.sugar, httpapi.WithObservability(rt.obs))
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(serveCtx, ln) }()

	go refreshUptime(serveCtx, rt)

	if rt.cfg.Update.CheckOnStart {
		if rt.cfg.Update.URL == "" {
			rt.logger.Warn("Update check on start skipped: no update URL configured")
		} else {
			go func() {
				mode := update.Mode(rt.cfg.Update.Mode)
				started := controller.Init(serveCtx, rt.updateOptions(mode, nil))
				rt.logger.Info("Update cycle initialized",
					zap.Bool("started", started),
					zap.String("state", controller.State().String()))
			}()
		}
	}

	select {
	case <-ctx.Done():
		rt.logger.Info("Received shutdown signal")
	case <-rt.lifecycle.Done():
		rt.logger.Info("Application quit")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	}

	cancel()
	if err := <-errCh; err != nil {
		rt.logger.Warn("API server stopped with error", zap.Error(err))
	}
	rt.logger.Info("hostbridge stopped")
	return nil
}

func refreshUptime(ctx context.Context, rt *runtime) {
	ticker := time.NewTicker(uptimeInterval)
	defer ticker.Stop()
	rt.obs.RefreshUptime()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.obs.RefreshUptime()
		}
	}
}
