package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/yegors/handsfree/internal/api"
	"github.com/yegors/handsfree/internal/audio"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/internal/control"
	"github.com/yegors/handsfree/internal/metrics"
	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/internal/storage/sqlite"
	"github.com/yegors/handsfree/internal/surface"
	"github.com/yegors/handsfree/internal/transcription"
	"github.com/yegors/handsfree/internal/websocket"
	"github.com/yegors/handsfree/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// ServeCmd runs the daemon
type ServeCmd struct {
	Start bool `help:"Begin listening immediately"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	if g.Socket != "" {
		cfg.Control.SocketPath = g.Socket
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("error creating logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting handsfree daemon",
		logger.String("version", Version),
		logger.String("config_path", cfg.Path()),
		logger.String("audio_backend", cfg.Audio.Backend),
		logger.String("transcription_backend", cfg.Transcription.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := config.NewSettings(cfg)

	// Create microphone source
	source, err := audio.NewSource(cfg.Audio, log)
	if err != nil {
		return fmt.Errorf("failed to create audio source: %w", err)
	}

	// Create transcription client. A missing backend is not fatal: starts
	// are refused with not_configured until the config is fixed.
	var p *pipeline.Pipeline
	progress := func(stage, detail string) {
		if p != nil {
			p.Progress(stage, detail)
		}
	}
	client, err := transcription.New(ctx, cfg.Transcription, progress, log)
	if err != nil {
		log.Warn("Transcription backend unavailable", logger.Error(err))
		client = nil
	}

	var opts []pipeline.Option
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		opts = append(opts, pipeline.WithMetrics(collector))
	}
	p = pipeline.New(pipeline.ConfigFrom(cfg), source, client, settings, log, opts...)

	var unsubscribe []func()
	defer func() {
		for _, off := range unsubscribe {
			off()
		}
	}()

	// Create transcript journal
	var store *sqlite.Store
	var journal *sqlite.Journal
	if cfg.Storage.Enabled {
		store, err = sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			return fmt.Errorf("failed to open transcript journal: %w", err)
		}
		defer store.Close()
		journal = sqlite.NewJournal(store)
		unsubscribe = append(unsubscribe, journal.Subscribe(p))
		log.Info("Recording transcripts", logger.String("path", cfg.Storage.SQLitePath))
	}

	// Watch the config file for hot-reloadable settings
	if cfg.Path() != "" {
		watcher, err := config.NewWatcher(cfg.Path(), settings, log)
		if err != nil {
			log.Warn("Config hot reload disabled", logger.Error(err))
		} else {
			watcher.OnReload(func(next *config.Config) {
				if next.Audio != cfg.Audio || next.Transcription.Backend != cfg.Transcription.Backend {
					log.Warn("Audio or backend settings changed; restart to apply")
				}
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// Event workers outlive the pipeline so the last transcripts are delivered
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	defer func() {
		cancelWorkers()
		workers.Wait()
	}()

	if journal != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			journal.Run(workerCtx)
		}()
	}

	// Input surface

	sink, err := surface.NewSink(cfg.Surface.Mode, os.Stdout)
	if err != nil {
		return err
	}
	if sink != nil {
		typist := surface.NewTypist(sink, settings, cfg.Surface.SubmitOnStop, log)
		unsubscribe = append(unsubscribe, typist.Subscribe(p))
		workers.Add(1)
		go func() {
			defer workers.Done()
			typist.Run(workerCtx)
		}()
	}
	notifier := surface.NewNotifier(settings, log)
	unsubscribe = append(unsubscribe, notifier.Subscribe(p))
	workers.Add(1)
	go func() {
		defer workers.Done()
		notifier.Run(workerCtx)
	}()

	// Control socket
	ctrlServer := control.NewServer(cfg.Control.SocketPath, p, p, log)
	if err := ctrlServer.Listen(); err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return ctrlServer.Serve(gctx) })

	// WebSocket feed and HTTP API
	if cfg.Server.Enabled {
		wsServer := websocket.NewServer(log)
		wsServer.SetMessageHandler(api.NewCommandHandler(gctx, p, log))
		unsubscribe = append(unsubscribe, wsServer.Feed(p))
		group.Go(func() error {
			wsServer.Run(gctx)
			return nil
		})

		var metricsHandler http.Handler
		if collector != nil {
			metricsHandler = collector.Handler()
		}
		router := api.NewRouter(p, store, wsServer, metricsHandler, cfg, log)

		server := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router.Routes(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		group.Go(func() error {
			log.Info("Starting HTTP server", logger.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.Error(err))
			}
			return nil
		})
	}

	if c.Start {
		if _, err := p.Start(ctx); err != nil {
			log.Warn("Failed to start listening", logger.Error(err))
		}
	}

	<-gctx.Done()
	log.Info("Shutting down...")

	// Stop listening and let queued segments finish
	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := p.Close(closeCtx); err != nil {
		log.Warn("Pipeline did not drain cleanly", logger.Error(err))
	}
	cancel()

	err = group.Wait()
	log.Info("Shutdown complete")
	return err
}
