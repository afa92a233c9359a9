package update

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type releaseServer struct {
	*httptest.Server
	latestStatus int
	latest       GitHubRelease
	list         []GitHubRelease
	manifest     string
	authHeader   atomic.Value
}

func newReleaseServer(t *testing.T) *releaseServer {
	t.Helper()
	rs := &releaseServer{latestStatus: http.StatusOK, manifest: testManifest}
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/app/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		rs.authHeader.Store(r.Header.Get("Authorization"))
		if rs.latestStatus != http.StatusOK {
			w.WriteHeader(rs.latestStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(rs.latest)
	})
	mux.HandleFunc("/repos/acme/app/releases", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rs.list)
	})
	mux.HandleFunc("/download/RELEASES", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rs.manifest))
	})
	rs.Server = httptest.NewServer(mux)
	t.Cleanup(rs.Close)
	return rs
}

func (rs *releaseServer) release(tag string, assets ...string) GitHubRelease {
	rel := GitHubRelease{TagName: tag, HTMLURL: rs.URL + "/releases/" + tag}
	for _, name := range assets {
		rel.Assets = append(rel.Assets, GitHubAsset{Name: name, BrowserDownloadURL: rs.URL + "/download/" + name})
	}
	return rel
}

func (rs *releaseServer) checker(t *testing.T, tempDir string, token string) Checker {
	t.Helper()
	c, err := NewChecker(SourceGit, CheckerConfig{
		URL:        "acme/app",
		TempDir:    tempDir,
		APIBaseURL: rs.URL,
		Token:      token,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestReleaseChecker_NewerRelease(t *testing.T) {
	rs := newReleaseServer(t)
	rs.latest = rs.release("v1.3.0", "RELEASES", "MyApp-1.3.0-full.nupkg", "MyApp-1.3.0-delta.nupkg")
	tempDir := filepath.Join(t.TempDir(), "update")

	result := rs.checker(t, tempDir, "secret").Check(context.Background(), "1.2.0")
	assert.True(t, result.OK)
	assert.True(t, result.IsNewer)
	assert.Equal(t, "1.3.0", result.RemoteVersion)
	assert.Equal(t, "A1B2C3", result.PackageChecksum)
	assert.Equal(t, int64(2048), result.PackageSize)
	assert.Equal(t, "MyApp-1.3.0-full.nupkg", result.PackageFileName)
	assert.Equal(t, rs.URL+"/download/MyApp-1.3.0-full.nupkg", result.PackageURL)
	assert.Equal(t, "Bearer secret", rs.authHeader.Load())

	data, err := os.ReadFile(filepath.Join(tempDir, ManifestFileName))
	require.NoError(t, err)
	assert.Equal(t, testManifest, string(data))
}

func TestReleaseChecker_NotNewer(t *testing.T) {
	rs := newReleaseServer(t)
	rs.latest = rs.release("v1.2.0")

	result := rs.checker(t, t.TempDir(), "").Check(context.Background(), "1.2.0")
	assert.True(t, result.OK)
	assert.False(t, result.IsNewer)
	assert.Equal(t, "1.2.0", result.RemoteVersion)
	assert.Equal(t, "", rs.authHeader.Load())
}

func TestReleaseChecker_MissingPackageAsset(t *testing.T) {
	rs := newReleaseServer(t)
	rs.latest = rs.release("v1.3.0", "RELEASES", "MyApp-1.3.0-delta.nupkg")
	tempDir := filepath.Join(t.TempDir(), "update")

	result := rs.checker(t, tempDir, "").Check(context.Background(), "1.2.0")
	assert.False(t, result.OK)
	assert.Contains(t, result.RemoteVersion, "required assets")

	_, err := os.Stat(filepath.Join(tempDir, ManifestFileName))
	assert.True(t, os.IsNotExist(err), "RELEASES must not be written when the package is missing")
}

func TestReleaseChecker_DuplicateAssets(t *testing.T) {
	rs := newReleaseServer(t)
	rs.latest = rs.release("v1.3.0", "RELEASES", "A-1.3.0-full.nupkg", "B-1.3.0-full.nupkg")

	result := rs.checker(t, t.TempDir(), "").Check(context.Background(), "1.2.0")
	assert.False(t, result.OK)
}

func TestReleaseChecker_FallsBackToReleaseList(t *testing.T) {
	rs := newReleaseServer(t)
	rs.latestStatus = http.StatusNotFound
	rs.list = []GitHubRelease{
		rs.release("v2.0.0-rc.1", "RELEASES", "MyApp-2.0.0-full.nupkg"),
		rs.release("v1.9.0"),
	}

	result := rs.checker(t, t.TempDir(), "").Check(context.Background(), "1.2.0")
	assert.True(t, result.OK)
	assert.True(t, result.IsNewer)
	assert.Equal(t, "2.0.0-rc.1", result.RemoteVersion)
}

func TestReleaseChecker_NoReleases(t *testing.T) {
	rs := newReleaseServer(t)
	rs.latestStatus = http.StatusNotFound

	result := rs.checker(t, t.TempDir(), "").Check(context.Background(), "1.2.0")
	assert.False(t, result.OK)
	assert.Contains(t, result.RemoteVersion, ErrReleaseNotFound.Error())
}

func TestReleaseChecker_RateLimited(t *testing.T) {
	rs := newReleaseServer(t)
	rs.latestStatus = http.StatusForbidden

	result := rs.checker(t, t.TempDir(), "").Check(context.Background(), "1.2.0")
	assert.False(t, result.OK)
	assert.Contains(t, result.RemoteVersion, "403")
}

func TestFindUpdateAssets(t *testing.T) {
	m, p, err := findUpdateAssets([]GitHubAsset{
		{Name: "notes.txt"},
		{Name: "RELEASES"},
		{Name: "Setup.exe"},
		{Name: "App-1.0.0-full.nupkg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "RELEASES", m.Name)
	assert.Equal(t, "App-1.0.0-full.nupkg", p.Name)

	_, _, err = findUpdateAssets(nil)
	assert.ErrorIs(t, err, ErrMissingAssets)
}
