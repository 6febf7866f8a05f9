package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/yegors/handsfree/internal/control"
	"github.com/yegors/handsfree/internal/storage/sqlite"
	"github.com/yegors/handsfree/internal/tui"
	"github.com/yegors/handsfree/pkg/logger"
)

// ToggleCmd flips listening on the running daemon. Bind it to a hotkey.
type ToggleCmd struct{}

func (c *ToggleCmd) Run(g *Globals) error { return sendCommand(g, control.CmdToggle) }

// StartCmd starts listening on the running daemon
type StartCmd struct{}

func (c *StartCmd) Run(g *Globals) error { return sendCommand(g, control.CmdStart) }

// StopCmd stops listening on the running daemon
type StopCmd struct{}

func (c *StopCmd) Run(g *Globals) error { return sendCommand(g, control.CmdStop) }

// StatusCmd prints the daemon's state
type StatusCmd struct{}

func (c *StatusCmd) Run(g *Globals) error { return sendCommand(g, control.CmdStatus) }

func sendCommand(g *Globals, cmd string) error {
	path, err := g.socketPath()
	if err != nil {
		return err
	}
	resp, err := control.Send(path, cmd)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}

	fmt.Println(formatResponse(resp))
	if !resp.OK {
		return errors.New(resp.Error)
	}
	return nil
}

func formatResponse(r control.Response) string {
	parts := []string{r.State}
	if r.SessionID != "" {
		parts = append(parts, "session="+r.SessionID)
	}
	if r.Submitted != nil {
		parts = append(parts, fmt.Sprintf("segments=%d", *r.Submitted))
	}
	if r.Queued != nil && *r.Queued > 0 {
		parts = append(parts, fmt.Sprintf("queued=%d", *r.Queued))
	}
	if r.Backend != "" {
		parts = append(parts, "backend="+r.Backend)
	}
	if r.Code != "" {
		parts = append(parts, "error="+r.Code)
	}
	return strings.Join(parts, " ")
}

// MonitorCmd opens the terminal monitor
type MonitorCmd struct{}

func (c *MonitorCmd) Run(g *Globals) error {
	path, err := g.socketPath()
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(tui.New(path), tea.WithAltScreen()).Run()
	return err
}

// HistoryCmd prints recorded sessions, or one session's transcripts
type HistoryCmd struct {
	Session string `arg:"" optional:"" help:"Session ID to print transcripts for"`
	Limit   int    `short:"n" default:"20" help:"Maximum rows to print"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	store, err := sqlite.Open(cfg.Storage.SQLitePath, logger.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if c.Session != "" {
		records, err := store.GetTranscriptsBySession(c.Session, c.Limit, 0)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\n", r.Sequence, r.CapturedAt.Local().Format("15:04:05"), r.Text)
		}
		return nil
	}

	sessions, err := store.GetSessions(c.Limit, 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "SESSION\tSTARTED\tENDED\tREASON\tTRANSCRIPTS")
	for _, s := range sessions {
		ended := "-"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format("15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), ended, s.StopReason, s.Transcripts)
	}
	return nil
}
