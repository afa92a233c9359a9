package logs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// LogDirEnv overrides the OS log directory.
const LogDirEnv = "HOSTBRIDGE_LOG_DIR"

const (
	osWindows = "windows"
	osDarwin  = "darwin"
	osLinux   = "linux"
)

// GetLogDir returns the standard log directory for the current OS.
// HOSTBRIDGE_LOG_DIR overrides it.
func GetLogDir() (string, error) {
	if dir := os.Getenv(LogDirEnv); dir != "" {
		return dir, nil
	}
	switch runtime.GOOS {
	case osWindows:
		return getWindowsLogDir()
	case osDarwin:
		return getMacOSLogDir()
	case osLinux:
		return getLinuxLogDir()
	default:
		// Fallback to home directory for unsupported OS
		return getDefaultLogDir()
	}
}

// getWindowsLogDir returns Windows standard log directory
// Uses %LOCALAPPDATA%\hostbridge\logs
func getWindowsLogDir() (string, error) {
	localAppData := os.Getenv("LOCALAPPDATA")
	if localAppData == "" {
		// Fallback to %USERPROFILE%\AppData\Local
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return getDefaultLogDir()
		}
		localAppData = filepath.Join(userProfile, "AppData", "Local")
	}
	return filepath.Join(localAppData, "hostbridge", "logs"), nil
}

// getMacOSLogDir returns macOS standard log directory
// Uses ~/Library/Logs/hostbridge
func getMacOSLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return getDefaultLogDir()
	}
	return filepath.Join(homeDir, "Library", "Logs", "hostbridge"), nil
}

// getLinuxLogDir returns Linux standard log directory
// Uses ~/.local/var/log/hostbridge or /var/log/hostbridge if running as root
func getLinuxLogDir() (string, error) {
	if os.Getuid() == 0 {
		return "/var/log/hostbridge", nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return getDefaultLogDir()
	}

	// Use XDG_STATE_HOME if set, otherwise use ~/.local/state
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		stateDir = filepath.Join(homeDir, ".local", "state")
	}

	return filepath.Join(stateDir, "hostbridge", "logs"), nil
}

// getDefaultLogDir returns a fallback log directory
func getDefaultLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Last resort fallback to temp directory
		return filepath.Join(os.TempDir(), "hostbridge", "logs"), nil
	}
	return filepath.Join(homeDir, ".hostbridge", "logs"), nil
}

// EnsureLogDir creates the log directory if it doesn't exist
func EnsureLogDir(logDir string) error {
	return os.MkdirAll(logDir, 0755)
}

// GetLogFilePath returns the full path for a log file in the standard log directory
func GetLogFilePath(filename string) (string, error) {
	logDir, err := GetLogDir()
	if err != nil {
		return "", err
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}

// GetLogFilePathWithDir returns the full path for a log file in a custom log directory
func GetLogFilePathWithDir(logDir, filename string) (string, error) {
	if logDir == "" {
		return GetLogFilePath(filename)
	}

	// Expand user home directory if needed
	if strings.HasPrefix(logDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		logDir = filepath.Join(homeDir, logDir[2:])
	}

	if err := EnsureLogDir(logDir); err != nil {
		return "", err
	}

	return filepath.Join(logDir, filename), nil
}
