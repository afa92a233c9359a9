package update

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDownloader_Success(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "65536")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "MyApp-1.3.0-full.nupkg")

	var events []DownloadProgress
	res := NewDownloader(nil, zaptest.NewLogger(t)).Download(context.Background(), srv.URL, dest, func(p DownloadProgress) {
		events = append(events, p)
	})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, dest, res.Message)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, int64(len(payload)), last.BytesReceived)
	assert.Equal(t, int64(len(payload)), last.TotalBytes)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].BytesReceived, events[i-1].BytesReceived)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the package should remain")
}

func TestDownloader_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	called := false
	res := NewDownloader(nil, zaptest.NewLogger(t)).Download(context.Background(), srv.URL, filepath.Join(dir, "pkg.nupkg"), func(DownloadProgress) {
		called = true
	})
	assert.False(t, res.OK)
	assert.Equal(t, "404", res.Message)
	assert.False(t, called)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloader_UnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("chunked body"))
	}))
	defer srv.Close()

	var last DownloadProgress
	res := NewDownloader(nil, zaptest.NewLogger(t)).Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "pkg"), func(p DownloadProgress) {
		last = p
	})
	require.True(t, res.OK, res.Message)
	assert.Equal(t, int64(-1), last.TotalBytes)
	assert.Equal(t, int64(len("chunked body")), last.BytesReceived)
	_, ok := last.Percent()
	assert.False(t, ok)
}

func TestDownloader_TruncatedBodyRemovesTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("short"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	res := NewDownloader(nil, zaptest.NewLogger(t)).Download(context.Background(), srv.URL, filepath.Join(dir, "pkg.nupkg"), nil)
	assert.False(t, res.OK)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloader_CreatesDestinationDir(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pkg"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a", "b", "pkg.nupkg")
	res := NewDownloader(nil, nil).Download(context.Background(), srv.URL, dest, nil)
	require.True(t, res.OK, res.Message)
	assert.FileExists(t, dest)
}

func TestProgressWriter_RateSampling(t *testing.T) {
	now := time.Unix(0, 0)
	var got []DownloadProgress
	pw := &progressWriter{
		w:          &bytes.Buffer{},
		total:      3000,
		window:     500 * time.Millisecond,
		now:        func() time.Time { return now },
		lastSample: now,
		onProgress: func(p DownloadProgress) { got = append(got, p) },
	}

	_, _ = pw.Write(make([]byte, 1000))
	assert.Zero(t, got[0].BitsPerSecond, "no sample before the window elapses")

	now = now.Add(600 * time.Millisecond)
	_, _ = pw.Write(make([]byte, 1000))
	assert.InDelta(t, 4000.0, got[1].BitsPerSecond, 0.001)

	now = now.Add(100 * time.Millisecond)
	_, _ = pw.Write(make([]byte, 1000))
	assert.InDelta(t, 4000.0, got[2].BitsPerSecond, 0.001, "rate holds until the next window")
	assert.Equal(t, int64(3000), got[2].BytesReceived)

	pct, ok := got[2].Percent()
	assert.True(t, ok)
	assert.InDelta(t, 100.0, pct, 0.001)
}
