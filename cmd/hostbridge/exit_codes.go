package main

import (
	"errors"

	"github.com/raumlabs/hostbridge/internal/config"
	"github.com/raumlabs/hostbridge/internal/update"
)

// Exit codes let launchers and scripts react to the outcome of an update run

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodeConfigError indicates configuration validation failed
	ExitCodeConfigError = 4

	// ExitCodeNoUpdate indicates the running version is current
	ExitCodeNoUpdate = 10

	// ExitCodeSourceUnreachable indicates the update source could not be read
	ExitCodeSourceUnreachable = 11

	// ExitCodeUpdateFailed indicates an unexpected failure during check or download
	ExitCodeUpdateFailed = 12

	// ExitCodePlatformError indicates the platform updater rejected the package
	ExitCodePlatformError = 13

	// ExitCodeDeclined indicates the user dismissed the update
	ExitCodeDeclined = 14
)

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodeNoUpdate:
		return "No update available"
	case ExitCodeSourceUnreachable:
		return "Update source unreachable"
	case ExitCodeUpdateFailed:
		return "Update failed"
	case ExitCodePlatformError:
		return "Platform updater error"
	case ExitCodeDeclined:
		return "Update declined"
	default:
		return "Unknown error"
	}
}

// exitCodeForState maps the terminal state of an update cycle to an exit code.
func exitCodeForState(s update.State) int {
	switch s {
	case update.StateReadyToInstall:
		return ExitCodeSuccess
	case update.AbortNoUpdate:
		return ExitCodeNoUpdate
	case update.AbortSourceUnreachable:
		return ExitCodeSourceUnreachable
	case update.AbortPlatformError:
		return ExitCodePlatformError
	case update.AbortDeclined:
		return ExitCodeDeclined
	default:
		return ExitCodeUpdateFailed
	}
}

// exitError carries a process exit code out of a command. A nil err exits
// without printing an error line.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return exitCodeDescription(e.code)
}

func (e *exitError) Unwrap() error {
	return e.err
}

// exitCodeFor resolves the exit code of a command error.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return ExitCodeConfigError
	}
	return ExitCodeGeneralError
}
