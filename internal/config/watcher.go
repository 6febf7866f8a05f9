package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/yegors/handsfree/pkg/logger"
)

// Watcher reloads the configuration file when it changes and pushes the
// hot-reloadable values into Settings.
type Watcher struct {
	path         string
	settings     *Settings
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	logger       *logger.Logger
	stopCh       chan struct{}
	mu           sync.Mutex
	pendingTimer *time.Timer
	onReload     func(*Config)
}

// NewWatcher creates a watcher for the configuration file at path
func NewWatcher(path string, settings *Settings, log *logger.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Editors often replace the file, so watch the directory and filter by name
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		path:     filepath.Clean(path),
		settings: settings,
		watcher:  fsWatcher,
		debounce: 300 * time.Millisecond,
		logger:   log.Named("config-watcher"),
		stopCh:   make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked with every successfully reloaded config
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start begins watching in a background goroutine
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.triggerReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", Error(err))
		}
	}
}

func (w *Watcher) triggerReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	w.pendingTimer = nil
	onReload := w.onReload
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		w.logger.Warn("Ignoring invalid config change", Error(err), String("path", w.path))
		return
	}

	w.settings.Update(cfg)
	w.logger.Info("Configuration reloaded",
		String("language", cfg.Transcription.Language),
		Bool("surface_enabled", cfg.Surface.Enabled),
		Bool("show_indicator", cfg.Surface.ShowIndicator))

	if onReload != nil {
		onReload(cfg)
	}
}

// Stop stops watching for changes
func (w *Watcher) Stop() error {
	close(w.stopCh)

	w.mu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

// Import logger functions
var (
	String = logger.String
	Bool   = logger.Bool
	Error  = logger.Error
)
