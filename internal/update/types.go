package update

import (
	"fmt"
	"time"
)

// State is the numeric update state reported to views through "state" events.
// Non-negative values are progress states, negative values are abort codes.
type State int

const (
	StateIdle           State = 0
	StateFound          State = 1
	StateDownloading    State = 2
	StatePreparing      State = 3
	StateReadyToInstall State = 4
)

// Abort codes. They are reported as the state value of the absorbing Aborted state.
const (
	AbortNoUpdate          State = -1
	AbortSourceUnreachable State = -2
	AbortUnexpected        State = -3
	AbortPlatformError     State = -4
	AbortDeclined          State = -10
)

// IsAborted reports whether s is one of the abort codes.
func (s State) IsAborted() bool {
	return s < 0
}

// IsTerminal reports whether s ends an update cycle.
func (s State) IsTerminal() bool {
	return s.IsAborted() || s == StateReadyToInstall
}

// IsActive reports whether a cycle in state s can still be aborted.
func (s State) IsActive() bool {
	return s == StateFound || s == StateDownloading || s == StatePreparing
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFound:
		return "found"
	case StateDownloading:
		return "downloading"
	case StatePreparing:
		return "preparing"
	case StateReadyToInstall:
		return "ready_to_install"
	case AbortNoUpdate:
		return "aborted_no_update"
	case AbortSourceUnreachable:
		return "aborted_source_unreachable"
	case AbortUnexpected:
		return "aborted_unexpected"
	case AbortPlatformError:
		return "aborted_platform_error"
	case AbortDeclined:
		return "aborted_declined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode selects how an available update is presented.
type Mode string

const (
	// ModeSilent downloads without any window.
	ModeSilent Mode = "silent"
	// ModeWidget shows a small progress widget and downloads immediately.
	ModeWidget Mode = "widget"
	// ModeSplash shows a decision window and waits for the user.
	ModeSplash Mode = "splash"
)

// RequiresWindow reports whether the mode presents a window.
func (m Mode) RequiresWindow() bool {
	return m == ModeWidget || m == ModeSplash
}

// Interactive reports whether the mode waits for a user decision.
func (m Mode) Interactive() bool {
	return m == ModeSplash
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSilent, ModeWidget, ModeSplash:
		return true
	}
	return false
}

// Source selects the version check strategy.
type Source string

const (
	// SourceHTTP polls a RELEASES manifest under a base URL.
	SourceHTTP Source = "http"
	// SourceGit queries the GitHub releases API for an owner/repo.
	SourceGit Source = "git"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceHTTP || s == SourceGit
}

// Commands accepted from a presentation window.
const (
	CommandRunUpdate = "run_update"
	CommandAppExit   = "app_exit"
)

// EventType names an outbound event.
type EventType string

const (
	EventVersion     EventType = "version"
	EventLog         EventType = "log"
	EventState       EventType = "state"
	EventDownload    EventType = "download"
	EventAutoUpdater EventType = "autoupdater"
)

// Event is pushed to the presentation window and to local progress callbacks.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// VersionInfo is the payload of "version" events.
type VersionInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	RemoteVersion string `json:"remote_version,omitempty"`
}

// VersionCheckResult is the normalized outcome of one version check.
type VersionCheckResult struct {
	OK              bool   `json:"ok"`
	IsNewer         bool   `json:"is_newer"`
	RemoteVersion   string `json:"remote_version"`
	PackageChecksum string `json:"package_checksum,omitempty"`
	PackageFileName string `json:"package_file_name,omitempty"`
	PackageSize     int64  `json:"package_size,omitempty"`
	PackageURL      string `json:"package_url,omitempty"`
}

// failedCheck builds the result reported for any check failure.
func failedCheck(err error) VersionCheckResult {
	return VersionCheckResult{OK: false, RemoteVersion: err.Error()}
}

// DownloadProgress is the payload of "download" events.
//
// TotalBytes is -1 when the server did not send Content-Length.
// BitsPerSecond keeps the field name views already consume; its value is the
// byte delta of the last sampling window divided by the window length.
type DownloadProgress struct {
	BytesReceived int64   `json:"bytes"`
	TotalBytes    int64   `json:"totalbytes"`
	BitsPerSecond float64 `json:"bps"`
}

// Percent returns the completed percentage, or false when the total is unknown.
func (p DownloadProgress) Percent() (float64, bool) {
	if p.TotalBytes <= 0 {
		return 0, false
	}
	return float64(p.BytesReceived) / float64(p.TotalBytes) * 100, true
}

// PackageInfo describes the package of the current session.
type PackageInfo struct {
	Checksum string `json:"package_checksum"`
	FileName string `json:"package_name"`
	Size     int64  `json:"package_size"`
	URL      string `json:"package_url"`
}

// Session is the state of one Init call.
type Session struct {
	ID            string      `json:"id"`
	StartedAt     time.Time   `json:"started_at"`
	Source        Source      `json:"source"`
	Mode          Mode        `json:"mode"`
	LocalVersion  string      `json:"local_version"`
	RemoteVersion string      `json:"remote_version,omitempty"`
	Package       PackageInfo `json:"package"`
}

// Outcome summarizes a finished update cycle.
type Outcome struct {
	SessionID     string    `json:"session_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Source        Source    `json:"source"`
	Mode          Mode      `json:"mode"`
	LocalVersion  string    `json:"local_version"`
	RemoteVersion string    `json:"remote_version,omitempty"`
	PackageName   string    `json:"package_name,omitempty"`
	State         State     `json:"state"`
	Message       string    `json:"message,omitempty"`
}
