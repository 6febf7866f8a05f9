package tui

import "github.com/yegors/handsfree/internal/control"

// ConnectedMsg is sent when both daemon connections are established.
type ConnectedMsg struct {
	Client   *control.Client // commands
	EvClient *control.Client // event subscription
}

// ConnectErrorMsg is sent when the daemon connection fails.
type ConnectErrorMsg struct {
	Err error
}

// EventMsg wraps a streamed event from the daemon.
type EventMsg struct {
	Event control.Event
}

// EventErrorMsg is sent when either connection breaks.
type EventErrorMsg struct {
	Err error
}

// ResponseMsg carries the response to a status or toggle command.
type ResponseMsg struct {
	Response control.Response
}

// ClearNoticeMsg clears a transient notice after a timeout.
type ClearNoticeMsg struct{}

// ReconnectTickMsg triggers a reconnection attempt.
type ReconnectTickMsg struct{}
