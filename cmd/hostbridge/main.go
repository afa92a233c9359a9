package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0" // This will be injected by -ldflags during build

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if err == nil {
		return ExitCodeSuccess
	}
	var ee *exitError
	if !errors.As(err, &ee) || ee.err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCodeFor(err)
}

func newRootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "hostbridge",
		Short:         "Host-side view bridge and self-updater for desktop applications",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path (JSON, TOML or YAML)")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Data directory path (default: ~/.hostbridge)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-dir", "", "Custom log directory path (overrides standard OS location)")
	rootCmd.PersistentFlags().Bool("log-to-file", true, "Enable logging to file in standard OS location")

	configPath := func() string { return configFile }
	rootCmd.AddCommand(
		newServeCommand(configPath),
		newUpdateCommand(configPath),
		newVersionCommand(),
	)
	return rootCmd
}
