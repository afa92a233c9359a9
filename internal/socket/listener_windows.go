//go:build windows

package socket

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
	"go.uber.org/zap"
)

func listenPipe(pipeName string, logger *zap.Logger) (net.Listener, error) {
	logger.Info("Creating Windows named pipe listener", zap.String("pipe", pipeName))

	// An empty security descriptor restricts the pipe to the current user.
	ln, err := winio.ListenPipe(pipeName, &winio.PipeConfig{
		InputBufferSize:  65536,
		OutputBufferSize: 65536,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create named pipe: %w", err)
	}
	return ln, nil
}

func listenUnix(string, *zap.Logger) (net.Listener, error) {
	return nil, fmt.Errorf("Unix domain sockets are not supported on Windows")
}
