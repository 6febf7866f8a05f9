package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/yegors/handsfree/internal/config"
)

var (
	// Version is injected at build time
	Version = "dev"
)

// Globals are flags shared by every command
type Globals struct {
	Config string `short:"c" help:"Path to configuration file (optional - will search in configs/ and root directory)" type:"path"`
	Socket string `help:"Control socket path (defaults to the configured socket_path)"`
}

var cli struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the dictation daemon"`
	Toggle  ToggleCmd  `cmd:"" help:"Start listening, or stop if already listening"`
	Start   StartCmd   `cmd:"" help:"Start listening"`
	Stop    StopCmd    `cmd:"" help:"Stop listening"`
	Status  StatusCmd  `cmd:"" help:"Show the daemon's session state"`
	Monitor MonitorCmd `cmd:"" help:"Watch levels and transcripts in the terminal"`
	History HistoryCmd `cmd:"" help:"Print recorded sessions and transcripts"`
	Version VersionCmd `cmd:"" help:"Print the version"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("handsfree"),
		kong.Description("Hands-free dictation: speak, pause, and the words land where you type."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

// loadConfig loads and validates configuration, falling back to defaults
// when no file is found
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("error loading configuration: %w", err)
		}
		fmt.Fprintf(os.Stderr, "No configuration file found, using defaults\n")
		return config.Default(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// socketPath resolves the control socket from flags or configuration
func (g *Globals) socketPath() (string, error) {
	if g.Socket != "" {
		return g.Socket, nil
	}
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return "", err
	}
	return cfg.Control.SocketPath, nil
}

// VersionCmd prints the version
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("handsfree %s\n", Version)
	return nil
}
