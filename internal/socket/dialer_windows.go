//go:build windows

package socket

import (
	"context"
	"fmt"
	"net"

	winio "github.com/Microsoft/go-winio"
)

// CreateDialer creates a DialContext function for Windows named pipes.
// Non-pipe endpoints return a nil dialer and the endpoint unchanged.
func CreateDialer(endpoint string) (func(context.Context, string, string) (net.Conn, error), string, error) {
	if !IsPipeEndpoint(endpoint) {
		return nil, endpoint, nil
	}

	pipePath := PipePath(endpoint)
	if pipePath == "" {
		return nil, "", fmt.Errorf("invalid named pipe path in endpoint: %s", endpoint)
	}

	dialer := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return winio.DialPipeContext(ctx, pipePath)
	}
	return dialer, "http://localhost", nil
}
