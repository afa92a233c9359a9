package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/raumlabs/hostbridge/internal/config"
	"github.com/raumlabs/hostbridge/internal/update"
)

func TestExitCodeForState(t *testing.T) {
	tests := []struct {
		state update.State
		want  int
	}{
		{update.StateReadyToInstall, ExitCodeSuccess},
		{update.AbortNoUpdate, ExitCodeNoUpdate},
		{update.AbortSourceUnreachable, ExitCodeSourceUnreachable},
		{update.AbortUnexpected, ExitCodeUpdateFailed},
		{update.AbortPlatformError, ExitCodePlatformError},
		{update.AbortDeclined, ExitCodeDeclined},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeForState(tt.state))
			assert.NotEqual(t, "Unknown error", exitCodeDescription(tt.want))
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, ExitCodeSuccess, exitCodeFor(nil))
	assert.Equal(t, ExitCodeGeneralError, exitCodeFor(errors.New("boom")))
	assert.Equal(t, ExitCodeDeclined, exitCodeFor(fmt.Errorf("wrapped: %w", &exitError{code: ExitCodeDeclined})))
	assert.Equal(t, ExitCodeConfigError, exitCodeFor(&config.ValidationError{Fields: []config.FieldError{{Field: "update.mode"}}}))
	assert.Equal(t, "Update declined", (&exitError{code: ExitCodeDeclined}).Error())
}

// cliEnv isolates HOME and returns flags that keep a command inside temp dirs.
func cliEnv(t *testing.T) []string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	return []string{
		"--data-dir", t.TempDir(),
		"--log-to-file=false",
	}
}

func updateFlags(t *testing.T, url string) []string {
	t.Helper()
	return []string{
		"--url", url,
		"--update-temp-dir", t.TempDir(),
		"--start-delay-ms", "1",
		"--notify=false",
	}
}

func manifestServer(t *testing.T, manifest string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+update.ManifestFileName {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, manifest)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUpdateCheck_UpdateAvailable(t *testing.T) {
	env := cliEnv(t)
	srv := manifestServer(t, "ABC123 hostbridge-9.0.0-full.nupkg 2048\n")

	args := append([]string{"update", "check"}, env...)
	args = append(args, updateFlags(t, srv.URL+"/")...)
	code, out, errOut := runCLI(t, args...)
	require.Equal(t, ExitCodeSuccess, code, errOut)
	assert.Contains(t, out, "9.0.0")
	assert.Contains(t, out, "update available")
	assert.Contains(t, out, "hostbridge-9.0.0-full.nupkg (2.0 KiB)")
}

func TestUpdateCheck_JSONOutput(t *testing.T) {
	env := cliEnv(t)
	srv := manifestServer(t, "ABC123 hostbridge-0.0.1-full.nupkg 10\n")

	args := append([]string{"update", "check", "-o", "json"}, env...)
	args = append(args, updateFlags(t, srv.URL+"/")...)
	code, out, errOut := runCLI(t, args...)
	require.Equal(t, ExitCodeSuccess, code, errOut)

	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Result.OK)
	assert.False(t, report.Result.IsNewer)
	assert.Equal(t, "0.0.1", report.Result.RemoteVersion)
	assert.Equal(t, update.SourceHTTP, report.Source)
}

func TestUpdateCheck_Unreachable(t *testing.T) {
	env := cliEnv(t)
	srv := manifestServer(t, "")

	args := append([]string{"update", "check"}, env...)
	args = append(args, updateFlags(t, srv.URL+"/missing/")...)
	code, out, errOut := runCLI(t, args...)
	assert.Equal(t, ExitCodeSourceUnreachable, code)
	assert.Contains(t, out, "unreachable")
	assert.Contains(t, errOut, "update check failed")
}

func TestUpdateCheck_RequiresURL(t *testing.T) {
	env := cliEnv(t)
	code, _, errOut := runCLI(t, append([]string{"update", "check"}, env...)...)
	assert.Equal(t, ExitCodeConfigError, code)
	assert.Contains(t, errOut, "no update URL")
}

func TestUpdateRun_InvalidConfig(t *testing.T) {
	env := cliEnv(t)
	args := append([]string{"update", "run", "--mode", "popup"}, env...)
	code, _, errOut := runCLI(t, args...)
	assert.Equal(t, ExitCodeConfigError, code)
	assert.Contains(t, errOut, "update.mode")
}

func TestUpdateRun_OutcomesAndHistory(t *testing.T) {
	env := cliEnv(t)
	current := manifestServer(t, "ABC123 hostbridge-0.0.9-full.nupkg 10\n")
	broken := manifestServer(t, "")

	args := append([]string{"update", "run"}, env...)
	code, out, errOut := runCLI(t, append(args, updateFlags(t, current.URL+"/")...)...)
	assert.Equal(t, ExitCodeNoUpdate, code, errOut)
	assert.Contains(t, out, "running the latest version")
	assert.NotContains(t, errOut, "Error:")

	code, out, _ = runCLI(t, append(args, updateFlags(t, broken.URL+"/gone/")...)...)
	assert.Equal(t, ExitCodeSourceUnreachable, code)
	assert.Contains(t, out, "source unreachable")

	// widget mode without a terminal runs silently
	widget := append(append(args, updateFlags(t, current.URL+"/")...), "--mode", "widget")
	code, _, _ = runCLI(t, widget...)
	assert.Equal(t, ExitCodeNoUpdate, code)

	historyArgs := append([]string{"update", "history", "-o", "json"}, env...)
	code, out, errOut = runCLI(t, historyArgs...)
	require.Equal(t, ExitCodeSuccess, code, errOut)

	var records []struct {
		State update.State `json:"state"`
		Mode  update.Mode  `json:"mode"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 3)
	assert.Equal(t, update.AbortNoUpdate, records[0].State)
	assert.Equal(t, update.ModeSilent, records[0].Mode)
	assert.Equal(t, update.AbortSourceUnreachable, records[1].State)
	assert.Equal(t, update.AbortNoUpdate, records[2].State)

	code, out, _ = runCLI(t, append([]string{"update", "history"}, env...)...)
	assert.Equal(t, ExitCodeSuccess, code)
	assert.Contains(t, out, "FINISHED")
	assert.Contains(t, out, "aborted_source_unreachable")
}

func TestUpdateHistory_Empty(t *testing.T) {
	env := cliEnv(t)
	code, out, _ := runCLI(t, append([]string{"update", "history"}, env...)...)
	assert.Equal(t, ExitCodeSuccess, code)
	assert.Contains(t, out, "No update history")
}

func TestUpdateToken_SetAndDelete(t *testing.T) {
	keyring.MockInit()
	env := cliEnv(t)

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("  secret-token \n"))
	root.SetArgs(append([]string{"update", "token", "set"}, env...))
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Token stored")

	stored, err := keyring.Get("hostbridge", "release-api-token")
	require.NoError(t, err)
	assert.Equal(t, "secret-token", stored)

	root = newRootCommand()
	root.SetOut(&out)
	root.SetArgs(append([]string{"update", "token", "delete"}, env...))
	require.NoError(t, root.Execute())
	_, err = keyring.Get("hostbridge", "release-api-token")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestUpdateToken_RejectsEmpty(t *testing.T) {
	keyring.MockInit()
	env := cliEnv(t)

	root := newRootCommand()
	root.SetIn(strings.NewReader("\n"))
	root.SetArgs(append([]string{"update", "token", "set"}, env...))
	assert.ErrorContains(t, root.Execute(), "empty token")
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, ExitCodeSuccess, code)
	assert.Contains(t, out, "hostbridge "+version)
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)

	p.Print(update.Event{Type: update.EventVersion, Data: update.VersionInfo{Name: "hostbridge", Version: "1.0.0", RemoteVersion: "1.1.0"}})
	p.Print(update.Event{Type: update.EventState, Data: update.StateDownloading})
	for _, n := range []int64{0, 50, 120, 990, 1000} {
		p.Print(update.Event{Type: update.EventDownload, Data: update.DownloadProgress{BytesReceived: n, TotalBytes: 1000}})
	}
	p.Print(update.Event{Type: update.EventDownload, Data: update.DownloadProgress{BytesReceived: 5, TotalBytes: -1}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"Found hostbridge 1.1.0 (running 1.0.0)",
		"State: downloading",
		"Downloading:   0% (0 B of 1000 B)",
		"Downloading:  10% (120 B of 1000 B)",
		"Downloading:  90% (990 B of 1000 B)",
		"Downloading: 100% (1000 B of 1000 B)",
	}, lines)
}
