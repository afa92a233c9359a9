package socket

import (
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
)

// Listen opens a listener for endpoint. Plain host:port endpoints (optionally
// prefixed with tcp://) are served over TCP.
func Listen(endpoint string, logger *zap.Logger) (net.Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case IsUnixEndpoint(endpoint):
		path := UnixPath(endpoint)
		if path == "" {
			return nil, fmt.Errorf("invalid unix socket path in endpoint: %s", endpoint)
		}
		return listenUnix(path, logger)
	case IsPipeEndpoint(endpoint):
		path := PipePath(endpoint)
		if path == "" {
			return nil, fmt.Errorf("invalid named pipe path in endpoint: %s", endpoint)
		}
		return listenPipe(path, logger)
	default:
		addr := strings.TrimPrefix(endpoint, "tcp://")
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("cannot listen on %s: %w", addr, err)
		}
		logger.Info("TCP listener created", zap.String("address", ln.Addr().String()))
		return ln, nil
	}
}
