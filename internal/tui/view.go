package tui

import (
	"fmt"
	"strings"
)

const meterWidth = 30

// View renders the monitor
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("handsfree"))
	b.WriteString("  ")
	b.WriteString(m.renderState())
	if m.backend != "" {
		b.WriteString(statusStyle.Render(fmt.Sprintf("  backend: %s", m.backend)))
	}
	if m.queued > 0 {
		b.WriteString(statusStyle.Render(fmt.Sprintf("  queued: %d", m.queued)))
	}
	b.WriteString("\n")
	b.WriteString(m.renderMeter())
	b.WriteString("\n\n")

	for _, e := range m.visibleEntries() {
		b.WriteString(sequenceStyle.Render(fmt.Sprintf("%3d ", e.Sequence)))
		b.WriteString(e.Text)
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString("\n")
		if m.noticeIsErr {
			b.WriteString(errorStyle.Render(m.notice))
		} else {
			b.WriteString(noticeStyle.Render(m.notice))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space: toggle  c: clear  q: quit"))
	return b.String()
}

func (m Model) renderState() string {
	switch m.state {
	case "recording", "sealing", "starting":
		return recordingStyle.Render("● " + m.state)
	default:
		return idleStyle.Render("○ " + m.state)
	}
}

func (m Model) renderMeter() string {
	filled := int(m.rms * 4 * meterWidth) // speech sits around 0.05-0.25 RMS
	filled = max(0, min(filled, meterWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", meterWidth-filled)

	switch m.class {
	case "speech":
		return speechStyle.Render(bar) + " speech"
	case "ambient":
		return ambientStyle.Render(bar) + " ambient"
	default:
		return statusStyle.Render(bar)
	}
}

// visibleEntries returns the transcript tail that fits the window
func (m Model) visibleEntries() []Entry {
	rows := len(m.entries)
	if m.height > 0 {
		rows = max(1, m.height-7)
	}
	if len(m.entries) <= rows {
		return m.entries
	}
	return m.entries[len(m.entries)-rows:]
}
