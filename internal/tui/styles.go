package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGreen  = lipgloss.Color("#5FFF87")
	colorYellow = lipgloss.Color("#FFD75F")
	colorCyan   = lipgloss.Color("#5FD7FF")
	colorGray   = lipgloss.Color("#6C6C6C")
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	statusStyle    = lipgloss.NewStyle().Foreground(colorGray)
	recordingStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	idleStyle      = lipgloss.NewStyle().Foreground(colorGray)
	speechStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	ambientStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	noticeStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	errorStyle     = lipgloss.NewStyle().Foreground(colorRed)
	sequenceStyle  = lipgloss.NewStyle().Foreground(colorGray)
	helpStyle      = lipgloss.NewStyle().Italic(true).Foreground(colorGray)
)
