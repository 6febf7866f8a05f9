package tui

import (
	"errors"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/handsfree/internal/control"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	model, ok := updated.(Model)
	require.True(t, ok)
	return model, cmd
}

func seq(n int) *int { return &n }

func TestNewModel(t *testing.T) {
	m := New("/tmp/hf.sock")
	assert.False(t, m.connected)
	assert.Equal(t, "connecting", m.state)
	assert.NotNil(t, m.Init())
}

func TestConnectErrorSchedulesReconnect(t *testing.T) {
	m, cmd := update(t, New("/nonexistent"), ConnectErrorMsg{Err: errors.New("connection refused")})
	assert.False(t, m.connected)
	assert.Equal(t, "disconnected", m.state)
	assert.True(t, m.noticeIsErr)
	assert.NotNil(t, cmd)

	m, cmd = update(t, m, ReconnectTickMsg{})
	assert.Equal(t, 1, m.reconnectAttempt)
	assert.NotNil(t, cmd)
}

func TestResponseUpdatesStatus(t *testing.T) {
	m, _ := update(t, New(""), ResponseMsg{Response: control.Response{
		OK:        true,
		State:     "recording",
		SessionID: "sess-1",
		Backend:   "openai",
		Queued:    seq(2),
	}})
	assert.Equal(t, "recording", m.state)
	assert.Equal(t, "sess-1", m.sessionID)
	assert.Equal(t, "openai", m.backend)
	assert.Equal(t, 2, m.queued)

	m, cmd := update(t, m, ResponseMsg{Response: control.Response{
		State: "idle",
		Error: "transcription backend not configured",
		Code:  control.CodeNotConfigured,
	}})
	assert.Equal(t, "idle", m.state)
	assert.Equal(t, "transcription backend not configured", m.notice)
	assert.NotNil(t, cmd)
}

func TestEventsUpdateView(t *testing.T) {
	m := New("")
	m.handleEvent(control.Event{Event: control.EventLifecycle, Kind: "started", SessionID: "s1"})
	assert.Equal(t, "recording", m.state)

	rms := 0.2
	m.handleEvent(control.Event{Event: control.EventLevel, RMS: &rms, Class: "speech"})
	assert.Equal(t, 0.2, m.rms)

	m.handleEvent(control.Event{Event: control.EventTranscript, SessionID: "s1", Sequence: seq(1), Text: "open the terminal"})
	m.handleEvent(control.Event{Event: control.EventTranscript, SessionID: "s1", Sequence: seq(2), Text: "and run tests"})
	require.Len(t, m.entries, 2)
	assert.Equal(t, 2, m.entries[1].Sequence)

	view := m.View()
	assert.Contains(t, view, "open the terminal")
	assert.Contains(t, view, "and run tests")
	assert.Contains(t, view, "speech")

	cmd := m.handleEvent(control.Event{Event: control.EventLifecycle, Kind: "stopped", Reason: "silence_timeout"})
	assert.Equal(t, "idle", m.state)
	assert.Equal(t, 0.0, m.rms)
	assert.Equal(t, "Stopped: silence_timeout", m.notice)
	assert.NotNil(t, cmd)

	m.handleEvent(control.Event{Event: control.EventError, Message: "rate limited"})
	assert.True(t, m.noticeIsErr)
	assert.Contains(t, m.View(), "rate limited")
}

func TestEntriesAreBounded(t *testing.T) {
	m := New("")
	for i := 1; i <= maxEntries+10; i++ {
		m.handleEvent(control.Event{Event: control.EventTranscript, Sequence: seq(i), Text: fmt.Sprint(i)})
	}
	require.Len(t, m.entries, maxEntries)
	assert.Equal(t, 11, m.entries[0].Sequence)

	m.height = 10
	assert.Len(t, m.visibleEntries(), 3)
}

func TestKeys(t *testing.T) {
	m := New("")
	m.handleEvent(control.Event{Event: control.EventTranscript, Text: "x"})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Nil(t, cmd, "toggle needs a connection")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	assert.Empty(t, m.entries)

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
