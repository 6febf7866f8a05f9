// Package control serves session commands and an event feed over a Unix
// socket using NDJSON, one JSON object per line.
package control

import (
	"time"

	"github.com/yegors/handsfree/internal/pipeline"
)

// Commands accepted on the socket
const (
	CmdToggle    = "toggle"
	CmdStart     = "start"
	CmdStop      = "stop"
	CmdStatus    = "status"
	CmdSubscribe = "subscribe"
)

// Event names streamed to subscribers
const (
	EventTranscript = "transcript"
	EventLifecycle  = "lifecycle"
	EventError      = "error"
	EventWarning    = "warning"
	EventLevel      = "level"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd    string   `json:"cmd"`
	Events []string `json:"events,omitempty"` // subscribe filter, empty for every event
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Submitted *int   `json:"submitted,omitempty"`
	Queued    *int   `json:"queued,omitempty"`
	InFlight  *bool  `json:"inFlight,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// Event is streamed from the daemon to subscribed clients.
type Event struct {
	Event     string    `json:"event"`
	SessionID string    `json:"sessionId,omitempty"`
	Sequence  *int      `json:"sequence,omitempty"`
	Text      string    `json:"text,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
	RMS       *float64  `json:"rms,omitempty"`
	Class     string    `json:"class,omitempty"`
	At        time.Time `json:"at,omitzero"`
}

func responseFromStatus(st pipeline.Status) Response {
	return Response{
		OK:        true,
		State:     st.State,
		SessionID: st.SessionID,
		Submitted: &st.Submitted,
		Queued:    &st.Queued,
		InFlight:  &st.InFlight,
		Backend:   st.Backend,
	}
}

func transcriptEvent(r pipeline.TranscriptResult) Event {
	seq := r.Sequence
	return Event{Event: EventTranscript, SessionID: r.SessionID, Sequence: &seq, Text: r.Text, At: r.CapturedAt}
}

func lifecycleEvent(e pipeline.LifecycleEvent) Event {
	msg := e.Cause
	if msg == "" {
		msg = e.Detail
	}
	return Event{Event: EventLifecycle, SessionID: e.SessionID, Kind: string(e.Kind), Reason: string(e.Reason), Message: msg, At: e.At}
}

func errorEvent(e pipeline.ErrorEvent) Event {
	seq := e.Sequence
	return Event{Event: EventError, SessionID: e.SessionID, Sequence: &seq, Kind: e.Kind, Message: e.Message, At: e.At}
}

func warningEvent(w pipeline.Warning) Event {
	return Event{Event: EventWarning, SessionID: w.SessionID, Kind: string(w.Kind), Message: w.Message, At: w.At}
}

func levelEvent(l pipeline.LevelEvent) Event {
	rms := l.RMS
	return Event{Event: EventLevel, SessionID: l.SessionID, RMS: &rms, Class: l.Class}
}
