//go:build !windows

package socket

import (
	"context"
	"fmt"
	"net"
)

// CreateDialer creates a DialContext function for Unix domain sockets.
// Non-socket endpoints return a nil dialer and the endpoint unchanged.
func CreateDialer(endpoint string) (func(context.Context, string, string) (net.Conn, error), string, error) {
	if !IsUnixEndpoint(endpoint) {
		return nil, endpoint, nil
	}

	socketPath := UnixPath(endpoint)
	if socketPath == "" {
		return nil, "", fmt.Errorf("invalid unix socket path in endpoint: %s", endpoint)
	}

	dialer := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	return dialer, "http://localhost", nil
}
