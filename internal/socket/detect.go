// Package socket resolves and serves the local endpoint that exposes the bridge API.
package socket

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EndpointEnv overrides the detected endpoint.
const EndpointEnv = "HOSTBRIDGE_ENDPOINT"

const (
	unixScheme  = "unix://"
	npipeScheme = "npipe://"
)

// DetectEndpoint returns the socket/pipe endpoint for dataDir.
// Priority: HOSTBRIDGE_ENDPOINT env, then the platform default.
func DetectEndpoint(dataDir string) string {
	if env := os.Getenv(EndpointEnv); env != "" {
		return env
	}
	return DefaultEndpoint(dataDir)
}

// DefaultEndpoint returns the default socket/pipe path for the platform.
func DefaultEndpoint(dataDir string) string {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	if strings.HasPrefix(dataDir, "~/") {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, dataDir[2:])
	}

	if runtime.GOOS == "windows" {
		return windowsPipeEndpoint(dataDir)
	}
	return unixScheme + filepath.Join(dataDir, "hostbridge.sock")
}

// windowsPipeEndpoint returns a per-user pipe name, hashed for non-default data dirs.
func windowsPipeEndpoint(dataDir string) string {
	username := os.Getenv("USERNAME")
	if username == "" {
		username = "default"
	}

	if dataDir == DefaultDataDir() {
		return fmt.Sprintf("npipe:////./pipe/hostbridge-%s", username)
	}

	hash := sha256.Sum256([]byte(dataDir))
	return fmt.Sprintf("npipe:////./pipe/hostbridge-%s-%x", username, hash[:4])
}

// DefaultDataDir returns ~/.hostbridge.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hostbridge")
}

// IsUnixEndpoint reports whether endpoint uses the unix:// scheme.
func IsUnixEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, unixScheme)
}

// IsPipeEndpoint reports whether endpoint uses the npipe:// scheme.
func IsPipeEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, npipeScheme)
}

// UnixPath strips the unix:// scheme.
func UnixPath(endpoint string) string {
	return strings.TrimPrefix(endpoint, unixScheme)
}

// PipePath converts npipe:////./pipe/name to //./pipe/name.
func PipePath(endpoint string) string {
	if !IsPipeEndpoint(endpoint) {
		return ""
	}
	p := strings.TrimLeft(strings.TrimPrefix(endpoint, npipeScheme), "/")
	switch {
	case p == "":
		return ""
	case strings.HasPrefix(p, "./pipe/"):
		return "//" + p
	case strings.HasPrefix(p, `\\.\`):
		return p
	default:
		return "//./pipe/" + p
	}
}
