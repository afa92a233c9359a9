//go:build !windows

package socket

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func listenUnix(socketPath string, logger *zap.Logger) (net.Listener, error) {
	logger.Info("Creating Unix domain socket listener", zap.String("path", socketPath))

	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("cannot create socket directory: %w", err)
	}

	if err := cleanupStaleSocket(socketPath, logger); err != nil {
		return nil, fmt.Errorf("cannot cleanup stale socket: %w", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot create Unix socket: %w", err)
	}

	// user read/write only
	if err := os.Chmod(socketPath, 0600); err != nil {
		ln.Close()
		os.Remove(socketPath)
		return nil, fmt.Errorf("cannot set socket permissions: %w", err)
	}

	if err := verifySocketOwnership(socketPath); err != nil {
		ln.Close()
		os.Remove(socketPath)
		return nil, fmt.Errorf("socket ownership verification failed: %w", err)
	}

	return &unixListener{Listener: ln, socketPath: socketPath, logger: logger}, nil
}

// cleanupStaleSocket removes a socket file left by a crashed process.
func cleanupStaleSocket(socketPath string, logger *zap.Logger) error {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil
	}

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket is in use by another process")
	}

	logger.Info("Removing stale socket file", zap.String("path", socketPath))
	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("cannot remove stale socket: %w", err)
	}
	return nil
}

func verifySocketOwnership(socketPath string) error {
	var stat unix.Stat_t
	if err := unix.Stat(socketPath, &stat); err != nil {
		return fmt.Errorf("cannot stat socket: %w", err)
	}
	if uid := uint32(unix.Getuid()); stat.Uid != uid {
		return fmt.Errorf("socket not owned by current user (uid=%d, expected=%d)", stat.Uid, uid)
	}
	return nil
}

// unixListener removes the socket file on Close.
type unixListener struct {
	net.Listener
	socketPath string
	logger     *zap.Logger
}

func (ul *unixListener) Close() error {
	err := ul.Listener.Close()
	if removeErr := os.Remove(ul.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		ul.logger.Warn("Failed to remove socket file", zap.Error(removeErr), zap.String("path", ul.socketPath))
	}
	return err
}

func listenPipe(string, *zap.Logger) (net.Listener, error) {
	return nil, fmt.Errorf("named pipes are only supported on Windows")
}
