package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/raumlabs/hostbridge/internal/tui"
	"github.com/raumlabs/hostbridge/internal/update"
)

const defaultHistoryLimit = 20

// addUpdateFlags registers the flags that shape an update cycle.
func addUpdateFlags(flags *pflag.FlagSet) {
	flags.String("url", "", "Update source: manifest base URL (http) or owner/repo (git)")
	flags.String("source", "", "Update source kind (http, git)")
	flags.String("mode", "", "Presentation mode (silent, widget, splash)")
	flags.Int("start-delay-ms", 0, "Delay before the version check in milliseconds")
	flags.String("comparator", "", "Version comparator (digits, semver)")
	flags.String("api-base-url", "", "Release API base URL for source git")
	flags.String("token-account", "", "Keyring account holding the release API token")
	flags.String("update-temp-dir", "", "Staging directory for downloaded packages")
	flags.Bool("notify", true, "Show desktop notifications for update results")
	flags.Int("history-keep", 0, "Number of finished update cycles kept in history")
}

func newUpdateCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for, download and install application updates",
	}
	addUpdateFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newUpdateCheckCommand(configPath),
		newUpdateRunCommand(configPath),
		newUpdateHistoryCommand(configPath),
		newUpdateTokenCommand(configPath),
	)
	return cmd
}

func newUpdateCheckCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the running version against the update source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdateCheck(cmd, configPath())
		},
	}
	addOutputFlag(cmd.Flags())
	return cmd
}

// checkReport is the output of update check.
type checkReport struct {
	CurrentVersion string                    `json:"current_version"`
	Source         update.Source             `json:"source"`
	URL            string                    `json:"url"`
	Result         update.VersionCheckResult `json:"result"`
}

func runUpdateCheck(cmd *cobra.Command, configPath string) error {
	rt, err := newRuntime(cmd, configPath, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := requireUpdateURL(rt); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cc, err := rt.checkerConfig(ctx)
	if err != nil {
		return err
	}
	source := update.Source(rt.cfg.Update.Source)
	checker, err := update.NewChecker(source, cc, rt.logger.Named("update"))
	if err != nil {
		return &exitError{code: ExitCodeConfigError, err: err}
	}

	result := checker.Check(ctx, appVersion())
	report := checkReport{
		CurrentVersion: appVersion(),
		Source:         source,
		URL:            rt.cfg.Update.URL,
		Result:         result,
	}

	out := cmd.OutOrStdout()
	format, _ := cmd.Flags().GetString("output")
	done, err := printStructured(out, format, report)
	if err != nil {
		return err
	}
	if !done {
		printCheckReport(out, report)
	}

	if !result.OK {
		return &exitError{
			code: ExitCodeSourceUnreachable,
			err:  fmt.Errorf("update check failed: %s", result.RemoteVersion),
		}
	}
	return nil
}

func printCheckReport(w io.Writer, r checkReport) {
	fmt.Fprintf(w, "%-18s %s\n", "Current version:", r.CurrentVersion)
	fmt.Fprintf(w, "%-18s %s (%s)\n", "Source:", r.URL, r.Source)
	if !r.Result.OK {
		fmt.Fprintf(w, "%-18s unreachable\n", "Status:")
		return
	}
	fmt.Fprintf(w, "%-18s %s\n", "Latest version:", r.Result.RemoteVersion)
	if !r.Result.IsNewer {
		fmt.Fprintf(w, "%-18s up to date\n", "Status:")
		return
	}
	fmt.Fprintf(w, "%-18s update available\n", "Status:")
	fmt.Fprintf(w, "%-18s %s (%s)\n", "Package:", r.Result.PackageFileName, formatBytes(r.Result.PackageSize))
}

func newUpdateRunCommand(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one update cycle and install the new version",
		Long: `Run checks the update source, downloads a newer package and installs it.
Widget and splash modes use an interactive terminal window and fall back to
silent mode when no terminal is attached. The exit code reports the outcome:
0 installed, 10 no update, 11 source unreachable, 12 failed, 13 platform error,
14 declined.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdateRun(cmd, configPath())
		},
	}
}

func runUpdateRun(cmd *cobra.Command, configPath string) error {
	rt, err := newRuntime(cmd, configPath, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := requireUpdateURL(rt); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	mode := update.Mode(rt.cfg.Update.Mode)
	var opts []update.ControllerOption
	if mode.RequiresWindow() {
		if isInteractive(out) {
			terminal := tui.NewTerminal(rt.logger.Named("tui"))
			opts = append(opts,
				update.WithWindows(terminal),
				update.WithCommands(terminal),
				update.WithExitGuard(rt.lifecycle))
		} else {
			rt.logger.Warn("No terminal attached, running update silently", zap.String("mode", string(mode)))
			mode = update.ModeSilent
		}
	}
	var progress func(update.Event)
	if !mode.RequiresWindow() {
		progress = newProgressPrinter(out).Print
	}

	controller, err := rt.newController(ctx, opts...)
	if err != nil {
		return err
	}

	var state update.State
	if controller.Init(ctx, rt.updateOptions(mode, progress)) {
		select {
		case outcome := <-rt.outcomes:
			state = outcome.State
		case <-ctx.Done():
			return &exitError{code: ExitCodeGeneralError, err: errors.New("interrupted while the update was in progress")}
		}
		if state == update.StateReadyToInstall {
			select {
			case err := <-rt.platform.installed:
				if err != nil {
					return &exitError{code: ExitCodePlatformError, err: fmt.Errorf("install failed: %w", err)}
				}
			case <-ctx.Done():
			}
		}
		// Let the window restore the terminal before printing and exiting.
		select {
		case <-controller.Done():
		case <-ctx.Done():
		}
	} else {
		state = controller.State()
	}

	fmt.Fprintf(out, "Update %s\n", describeState(state))
	if code := exitCodeForState(state); code != ExitCodeSuccess {
		return &exitError{code: code}
	}
	return nil
}

func describeState(s update.State) string {
	switch s {
	case update.StateReadyToInstall:
		return "installed, restart to use the new version"
	case update.AbortNoUpdate:
		return "not needed, running the latest version"
	case update.AbortSourceUnreachable:
		return "failed, source unreachable"
	case update.AbortUnexpected:
		return "failed"
	case update.AbortPlatformError:
		return "rejected by the platform updater"
	case update.AbortDeclined:
		return "declined"
	default:
		return s.String()
	}
}

// isInteractive reports whether out and stdin are terminals.
func isInteractive(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

func requireUpdateURL(rt *runtime) error {
	if rt.cfg.Update.URL == "" {
		return &exitError{code: ExitCodeConfigError, err: errors.New("no update URL configured (set update.url or pass --url)")}
	}
	return nil
}

// progressPrinter renders silent-mode events as lines.
type progressPrinter struct {
	mu          sync.Mutex
	w           io.Writer
	lastPercent int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, lastPercent: -1}
}

// Print handles one controller event.
func (p *progressPrinter) Print(ev update.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case update.EventVersion:
		if info, ok := ev.Data.(update.VersionInfo); ok && info.RemoteVersion != "" {
			fmt.Fprintf(p.w, "Found %s %s (running %s)\n", info.Name, info.RemoteVersion, info.Version)
		}
	case update.EventState:
		if s, ok := ev.Data.(update.State); ok && s.IsActive() {
			fmt.Fprintf(p.w, "State: %s\n", s)
		}
	case update.EventDownload:
		dp, ok := ev.Data.(update.DownloadProgress)
		if !ok {
			return
		}
		pct, known := dp.Percent()
		if !known {
			return
		}
		// every 10%
		step := int(pct) / 10 * 10
		if step > p.lastPercent {
			p.lastPercent = step
			fmt.Fprintf(p.w, "Downloading: %3d%% (%s of %s)\n", step, formatBytes(dp.BytesReceived), formatBytes(dp.TotalBytes))
		}
	}
}

func newUpdateHistoryCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished update cycles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdateHistory(cmd, configPath())
		},
	}
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Maximum number of entries")
	addOutputFlag(cmd.Flags())
	return cmd
}

func runUpdateHistory(cmd *cobra.Command, configPath string) error {
	rt, err := newRuntime(cmd, configPath, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	records, err := rt.store.ListHistory(limit)
	if err != nil {
		return fmt.Errorf("failed to read update history: %w", err)
	}

	out := cmd.OutOrStdout()
	format, _ := cmd.Flags().GetString("output")
	if done, err := printStructured(out, format, records); done || err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No update history")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.FinishedAt.Local().Format(time.DateTime),
			r.State.String(),
			strconv.Itoa(int(r.State)),
			r.LocalVersion,
			dash(r.RemoteVersion),
			string(r.Mode),
			string(r.Source),
			dash(r.Message),
		})
	}
	return printTable(out, []string{"FINISHED", "STATE", "CODE", "LOCAL", "REMOTE", "MODE", "SOURCE", "MESSAGE"}, rows)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newUpdateTokenCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the release API token in the OS keyring",
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store the release API token read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, configPath(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			token, err := readToken(cmd)
			if err != nil {
				return err
			}
			if err := rt.tokens().StoreToken(cmd.Context(), token); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token stored")
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the release API token from the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, configPath(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.tokens().DeleteToken(cmd.Context()); err != nil {
				return fmt.Errorf("failed to delete token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token deleted")
			return nil
		},
	}

	cmd.AddCommand(setCmd, deleteCmd)
	return cmd
}

// readToken reads a token without echo from a terminal, otherwise the first
// line of stdin.
func readToken(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Token: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return validToken(string(raw))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return validToken(line)
}

func validToken(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty token")
	}
	return s, nil
}
