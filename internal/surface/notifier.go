package surface

import (
	"context"

	"github.com/gen2brain/beeep"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/internal/worker"
	"github.com/yegors/handsfree/pkg/logger"
)

const appName = "handsfree"

// Notifier shows desktop notifications for session changes. Start and stop
// notices follow the show_indicator setting; warnings other than empty
// transcripts are always shown.
type Notifier struct {
	settings *config.Settings
	notify   func(title, message string) error
	logger   *logger.Logger
	work     *worker.Queue
}

// NewNotifier creates a notifier backed by the desktop notification service
func NewNotifier(settings *config.Settings, log *logger.Logger) *Notifier {
	return &Notifier{
		settings: settings,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		logger: log.Named("notifier"),
		work:   worker.NewQueue(),
	}
}

// Run shows queued notifications until ctx is done
func (n *Notifier) Run(ctx context.Context) {
	n.work.Run(ctx)
}

// Subscribe attaches the notifier to a pipeline. The returned func detaches it.
func (n *Notifier) Subscribe(events Events) func() {
	offLifecycle := events.OnLifecycle(n.onLifecycle)
	offWarning := events.OnWarning(n.onWarning)
	return func() {
		offLifecycle()
		offWarning()
	}
}

func (n *Notifier) onLifecycle(ev pipeline.LifecycleEvent) {
	var message string
	switch ev.Kind {
	case pipeline.LifecycleStarted:
		message = "Listening..."
	case pipeline.LifecycleStopped:
		message = "Stopped"
	case pipeline.LifecycleModelLoading:
		message = "Loading speech model..."
	default:
		return
	}
	if n.settings != nil && !n.settings.ShowIndicator() {
		return
	}
	n.show(message)
}

func (n *Notifier) onWarning(w pipeline.Warning) {
	// silence the backend could not transcribe is routine
	if w.Kind == pipeline.WarningEmptyTranscript {
		return
	}
	n.show(w.Message)
}

func (n *Notifier) show(message string) {
	n.work.Enqueue(func() {
		if err := n.notify(appName, message); err != nil {
			n.logger.Debug("Failed to show notification", Error(err))
		}
	})
}
