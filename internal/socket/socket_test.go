package socket_test

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/raumlabs/hostbridge/internal/socket"
)

func TestDetectEndpoint_Default(t *testing.T) {
	t.Setenv(socket.EndpointEnv, "")
	dataDir := filepath.Join(t.TempDir(), "data")

	endpoint := socket.DetectEndpoint(dataDir)

	if runtime.GOOS == "windows" {
		assert.Contains(t, endpoint, "npipe:////./pipe/hostbridge-")
	} else {
		assert.Equal(t, "unix://"+filepath.Join(dataDir, "hostbridge.sock"), endpoint)
	}
}

func TestDetectEndpoint_EnvironmentOverride(t *testing.T) {
	t.Setenv(socket.EndpointEnv, "unix:///tmp/custom.sock")
	assert.Equal(t, "unix:///tmp/custom.sock", socket.DetectEndpoint(""))
}

func TestPipePath(t *testing.T) {
	tests := map[string]string{
		"npipe:////./pipe/hostbridge-me": "//./pipe/hostbridge-me",
		"npipe://hostbridge":             "//./pipe/hostbridge",
		"npipe://":                       "",
		"unix:///tmp/x.sock":             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, socket.PipePath(in), in)
	}
}

func TestCreateDialer_HTTPEndpoint(t *testing.T) {
	dialer, baseURL, err := socket.CreateDialer("http://localhost:8080")
	assert.NoError(t, err)
	assert.Nil(t, dialer)
	assert.Equal(t, "http://localhost:8080", baseURL)
}

func TestListenAndDial_Unix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix socket test not applicable on Windows")
	}
	// short path: unix socket paths are length limited
	dir, err := os.MkdirTemp("", "hb")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	endpoint := "unix://" + filepath.Join(dir, "s.sock")

	ln, err := socket.Listen(endpoint, zaptest.NewLogger(t))
	require.NoError(t, err)

	info, err := os.Stat(socket.UnixPath(endpoint))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})}
	go srv.Serve(ln)

	client, baseURL, err := socket.NewHTTPClient(endpoint, 5*time.Second)
	require.NoError(t, err)
	resp, err := client.Get(baseURL + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	// a live socket cannot be taken over
	_, err = socket.Listen(endpoint, nil)
	assert.Error(t, err)

	require.NoError(t, srv.Close())
	_, err = os.Stat(socket.UnixPath(endpoint))
	assert.True(t, os.IsNotExist(err), "socket file removed on close")
}

func TestListen_StaleSocketRemoved(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix socket test not applicable on Windows")
	}
	dir, err := os.MkdirTemp("", "hb")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "s.sock")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	ln, err := socket.Listen("unix://"+path, nil)
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}

func TestListen_TCP(t *testing.T) {
	ln, err := socket.Listen("tcp://127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	client, baseURL, err := socket.NewHTTPClient(ln.Addr().String(), time.Second)
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, "http://"+ln.Addr().String(), baseURL)
}
