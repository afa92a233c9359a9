package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/raumlabs/hostbridge/internal/update"
)

const maxLogLines = 5

// Messages

type eventMsg struct {
	event update.Event
}

type closeMsg struct{}

// model renders one update cycle.
type model struct {
	mode     update.Mode
	dispatch func(command string)

	name          string
	version       string
	remoteVersion string
	state         update.State
	progress      *update.DownloadProgress
	logs          []string
	width         int
	decided       bool
}

func newModel(mode update.Mode, dispatch func(string)) model {
	return model{mode: mode, dispatch: dispatch, width: 60}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case eventMsg:
		m.apply(msg.event)
		return m, nil

	case closeMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if !m.awaiting() {
		return m, nil
	}
	switch msg.String() {
	case "enter", "u":
		m.decided = true
		m.send(update.CommandRunUpdate)
	case "q", "esc", "ctrl+c":
		m.decided = true
		m.send(update.CommandAppExit)
	}
	return m, nil
}

func (m model) send(command string) {
	if m.dispatch != nil {
		m.dispatch(command)
	}
}

// awaiting reports whether the window is asking the user to decide.
func (m model) awaiting() bool {
	return m.mode.Interactive() && m.state == update.StateFound && !m.decided
}

func (m *model) apply(ev update.Event) {
	switch ev.Type {
	case update.EventVersion:
		if info, ok := ev.Data.(update.VersionInfo); ok {
			m.name = info.Name
			m.version = info.Version
			if info.RemoteVersion != "" {
				m.remoteVersion = info.RemoteVersion
			}
		}
	case update.EventState:
		if s, ok := ev.Data.(update.State); ok {
			m.state = s
		}
	case update.EventDownload:
		if p, ok := ev.Data.(update.DownloadProgress); ok {
			m.progress = &p
		}
	case update.EventLog, update.EventAutoUpdater:
		line := fmt.Sprint(ev.Data)
		if s, ok := ev.Data.(string); ok {
			line = s
		}
		m.logs = append(m.logs, line)
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
	}
}

func (m model) View() string {
	var b strings.Builder

	title := " Update "
	if m.name != "" {
		title = fmt.Sprintf(" %s update ", m.name)
	}
	b.WriteString(RenderTitle(title))
	b.WriteString("\n\n")

	if m.remoteVersion != "" {
		fmt.Fprintf(&b, "Version %s → %s\n", m.version, m.remoteVersion)
	} else if m.version != "" {
		fmt.Fprintf(&b, "Version %s\n", m.version)
	}
	b.WriteString(renderState(m.state))
	b.WriteString("\n")

	if m.progress != nil && m.state == update.StateDownloading {
		if pct, ok := m.progress.Percent(); ok {
			fmt.Fprintf(&b, "%s %5.1f%%\n", renderBar(pct, m.width-10), pct)
		}
		fmt.Fprintf(&b, "%s", MutedStyle.Render(fmt.Sprintf("%s received, %s/s",
			formatBytes(m.progress.BytesReceived), formatBytes(int64(m.progress.BitsPerSecond)))))
		b.WriteString("\n")
	}

	if len(m.logs) > 0 {
		b.WriteString("\n")
		for _, l := range m.logs {
			b.WriteString(MutedStyle.Render(l))
			b.WriteString("\n")
		}
	}

	if m.awaiting() {
		b.WriteString("\n")
		b.WriteString(RenderHelp("enter/u: update now • q/esc: not now"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderState(s update.State) string {
	switch s {
	case update.StateIdle:
		return MutedStyle.Render("Checking for updates...")
	case update.StateFound:
		return busyStyle.Render("A new version is available")
	case update.StateDownloading:
		return busyStyle.Render("Downloading...")
	case update.StatePreparing:
		return busyStyle.Render("Preparing update...")
	case update.StateReadyToInstall:
		return SuccessStyle.Render("Quit to install")
	case update.AbortNoUpdate:
		return SuccessStyle.Render("Up to date")
	case update.AbortDeclined:
		return MutedStyle.Render("Update postponed")
	default:
		return ErrorStyle.Render(fmt.Sprintf("Update aborted (%d)", int(s)))
	}
}
