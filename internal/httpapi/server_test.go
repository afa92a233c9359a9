package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/raumlabs/hostbridge/internal/bridge"
	"github.com/raumlabs/hostbridge/internal/observability"
	"github.com/raumlabs/hostbridge/internal/socket"
	"github.com/raumlabs/hostbridge/internal/storage"
)

func newTestServer(t *testing.T) (*bridge.Hub, *httptest.Server) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	store, err := storage.NewManager(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	obs, err := observability.NewManager(logger, observability.DefaultConfig("hostbridge", "test"))
	require.NoError(t, err)

	hub := bridge.NewHub(logger, bridge.WithObserver(obs.Metrics()))
	bridge.RegisterGlobal(hub, store)

	srv := httptest.NewServer(NewServer(hub, logger, WithObservability(obs), WithHeartbeat(50*time.Millisecond)))
	t.Cleanup(srv.Close)
	return hub, srv
}

func postJSON(t *testing.T, url, body string) (int, Response) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestServer_InvokeGlobal(t *testing.T) {
	_, srv := newTestServer(t)

	code, resp := postJSON(t, srv.URL+"/api/v1/invoke/global", `{"op":"set","key":"theme","value":"dark"}`)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.True(t, resp.Success)

	code, resp = postJSON(t, srv.URL+"/api/v1/invoke/global", `{"op":"get","key":"theme"}`)
	require.Equal(t, http.StatusOK, code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["found"])
	assert.Equal(t, "dark", data["value"])

	code, resp = postJSON(t, srv.URL+"/api/v1/invoke/global", `{"op":"explode","key":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown global op")
}

func TestServer_InvokeErrors(t *testing.T) {
	_, srv := newTestServer(t)

	code, resp := postJSON(t, srv.URL+"/api/v1/invoke/nowhere", `{}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, resp.Error, "nowhere")

	code, resp = postJSON(t, srv.URL+"/api/v1/invoke/global", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "valid JSON")
}

func TestServer_PostMessage(t *testing.T) {
	hub, srv := newTestServer(t)

	got := make(chan string, 1)
	remove := hub.OnMessage(bridge.ChannelCommand, func(viewID string, payload json.RawMessage) {
		got <- viewID + ":" + string(payload)
	})
	defer remove()

	code, resp := postJSON(t, srv.URL+"/api/v1/views/update-1/messages/command", `"run_update"`)
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, float64(1), resp.Data.(map[string]interface{})["listeners"])
	assert.Equal(t, `update-1:"run_update"`, <-got)
}

func TestServer_ViewEventsStream(t *testing.T) {
	hub, srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/views/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		_, ok := hub.View("v1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Send("v1", bridge.ChannelEvent, map[string]interface{}{"type": "state", "data": 2}))

	reader := bufio.NewReader(resp.Body)
	event, data := readEvent(t, reader, "event")
	assert.Equal(t, "event", event)
	assert.JSONEq(t, `{"type":"state","data":2}`, data)

	event, _ = readEvent(t, reader, "ping")
	assert.Equal(t, "ping", event)

	cancel()
	require.Eventually(t, func() bool {
		_, ok := hub.View("v1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "stream-owned view detached")
}

func TestServer_ViewEventsEndsOnDetach(t *testing.T) {
	hub, srv := newTestServer(t)
	_, err := hub.Attach("window-1")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/views/window-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	hub.Detach("window-1")
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after detach")
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	postJSON(t, srv.URL+"/api/v1/invoke/global", `{"op":"list"}`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `hostbridge_bridge_invokes_total{channel="global",status="success"} 1`)
	assert.Contains(t, string(body), `path="/api/v1/invoke/{channel}"`)
}

func TestServer_ServeOverSocket(t *testing.T) {
	hub := bridge.NewHub(nil)
	hub.Handle("echo", func(_ context.Context, payload json.RawMessage) (interface{}, error) {
		return payload, nil
	})
	s := NewServer(hub, nil)

	ln, err := socket.Listen("tcp://127.0.0.1:0", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	client, baseURL, err := socket.NewHTTPClient(ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	resp, err := client.Post(baseURL+"/api/v1/invoke/echo", "application/json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, out.Data)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// readEvent reads SSE frames until one named want arrives.
func readEvent(t *testing.T, r *bufio.Reader, want string) (event, data string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			if event == want {
				return event, data
			}
			event, data = "", ""
		}
	}
	t.Fatalf("no %q event", want)
	return "", ""
}
