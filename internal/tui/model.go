// Package tui is a live terminal monitor for a running daemon.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/yegors/handsfree/internal/control"
)

const maxEntries = 200

// Entry is one transcript line
type Entry struct {
	SessionID string
	Sequence  int
	Text      string
	At        time.Time
}

// Model is the root bubbletea model for the monitor
type Model struct {
	socketPath string

	client    *control.Client
	evClient  *control.Client
	connected bool

	state     string
	sessionID string
	backend   string
	queued    int

	rms   float64
	class string

	entries []Entry

	notice      string
	noticeIsErr bool

	width  int
	height int

	reconnectAttempt int
}

// New creates a monitor for the daemon at socketPath
func New(socketPath string) Model {
	return Model{
		socketPath: socketPath,
		state:      "connecting",
	}
}

// Init connects to the daemon
func (m Model) Init() tea.Cmd {
	return connectCmd(m.socketPath)
}

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := control.Connect(socketPath)
		if err != nil {
			return ConnectErrorMsg{Err: err}
		}
		evClient, err := control.Connect(socketPath)
		if err != nil {
			client.Close()
			return ConnectErrorMsg{Err: err}
		}
		return ConnectedMsg{Client: client, EvClient: evClient}
	}
}

func subscribeCmd(evClient *control.Client) tea.Cmd {
	return func() tea.Msg {
		if err := evClient.Subscribe(); err != nil {
			return EventErrorMsg{Err: err}
		}
		return readEventCmd(evClient)()
	}
}

func readEventCmd(evClient *control.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return EventErrorMsg{Err: err}
		}
		return EventMsg{Event: ev}
	}
}

func commandCmd(client *control.Client, cmd string) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(control.Command{Cmd: cmd})
		if err != nil {
			return EventErrorMsg{Err: err}
		}
		return ResponseMsg{Response: resp}
	}
}

func clearNoticeCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearNoticeMsg{}
	})
}

func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

// Update processes messages and returns the updated model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ConnectedMsg:
		m.client = msg.Client
		m.evClient = msg.EvClient
		m.connected = true
		m.reconnectAttempt = 0
		m.notice = ""
		return m, tea.Batch(
			subscribeCmd(m.evClient),
			commandCmd(m.client, control.CmdStatus),
		)

	case ConnectErrorMsg:
		m.connected = false
		m.state = "disconnected"
		m.notice = "Daemon not running. Reconnecting..."
		m.noticeIsErr = true
		return m, reconnectCmd(m.reconnectAttempt)

	case ResponseMsg:
		m.applyResponse(msg.Response)
		if !msg.Response.OK && msg.Response.Error != "" {
			m.notice = msg.Response.Error
			m.noticeIsErr = true
			return m, clearNoticeCmd()
		}
		return m, nil

	case EventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, readEventCmd(m.evClient))

	case EventErrorMsg:
		m.disconnect()
		m.state = "disconnected"
		m.notice = "Disconnected. Reconnecting..."
		m.noticeIsErr = true
		return m, reconnectCmd(m.reconnectAttempt)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.socketPath)

	case ClearNoticeMsg:
		m.notice = ""
		m.noticeIsErr = false
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.disconnect()
		return m, tea.Quit
	case " ", "t":
		if m.client == nil {
			return m, nil
		}
		return m, commandCmd(m.client, control.CmdToggle)
	case "c":
		m.entries = nil
		return m, nil
	}
	return m, nil
}

func (m *Model) disconnect() {
	m.connected = false
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	if m.evClient != nil {
		m.evClient.Close()
		m.evClient = nil
	}
}

func (m *Model) applyResponse(r control.Response) {
	if r.State != "" {
		m.state = r.State
	}
	m.sessionID = r.SessionID
	if r.Backend != "" {
		m.backend = r.Backend
	}
	if r.Queued != nil {
		m.queued = *r.Queued
	}
}

// handleEvent processes a daemon event and returns any resulting command
func (m *Model) handleEvent(ev control.Event) tea.Cmd {
	switch ev.Event {
	case control.EventTranscript:
		entry := Entry{SessionID: ev.SessionID, Text: ev.Text, At: ev.At}
		if ev.Sequence != nil {
			entry.Sequence = *ev.Sequence
		}
		m.entries = append(m.entries, entry)
		if len(m.entries) > maxEntries {
			m.entries = m.entries[len(m.entries)-maxEntries:]
		}

	case control.EventLevel:
		if ev.RMS != nil {
			m.rms = *ev.RMS
		}
		m.class = ev.Class

	case control.EventLifecycle:
		switch ev.Kind {
		case "started":
			m.state = "recording"
			m.sessionID = ev.SessionID
		case "stopped":
			m.state = "idle"
			m.rms, m.class = 0, ""
			if ev.Reason != "" && ev.Reason != "user" {
				m.notice = "Stopped: " + ev.Reason
				m.noticeIsErr = false
				return clearNoticeCmd()
			}
		case "model_loading", "model_loaded":
			m.notice = ev.Kind + " " + ev.Message
			m.noticeIsErr = false
			return clearNoticeCmd()
		}

	case control.EventWarning:
		m.notice = ev.Message
		m.noticeIsErr = false
		return clearNoticeCmd()

	case control.EventError:
		m.notice = ev.Message
		m.noticeIsErr = true
		return clearNoticeCmd()
	}
	return nil
}
