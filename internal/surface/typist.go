package surface

import (
	"context"
	"strings"

	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/internal/segmenter"
	"github.com/yegors/handsfree/internal/worker"
	"github.com/yegors/handsfree/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// Events is the subset of pipeline streams the surface follows
type Events interface {
	OnTranscript(fn func(pipeline.TranscriptResult)) func()
	OnLifecycle(fn func(pipeline.LifecycleEvent)) func()
	OnWarning(fn func(pipeline.Warning)) func()
}

// Typist types transcripts into the input surface as they arrive. Text of
// consecutive segments in a session is joined with a single space.
type Typist struct {
	sink         Sink
	settings     *config.Settings
	submitOnStop bool
	logger       *logger.Logger
	work         *worker.Queue

	// owned by the worker goroutine
	session string
	typed   bool
}

// NewTypist creates a typist writing to sink. When submitOnStop is set,
// Enter is pressed after the last transcript of a session the user stopped.
func NewTypist(sink Sink, settings *config.Settings, submitOnStop bool, log *logger.Logger) *Typist {
	return &Typist{
		sink:         sink,
		settings:     settings,
		submitOnStop: submitOnStop,
		logger:       log.Named("typist"),
		work:         worker.NewQueue(),
	}
}

// Run delivers queued text until ctx is done
func (t *Typist) Run(ctx context.Context) {
	t.work.Run(ctx)
}

// Subscribe attaches the typist to a pipeline. The returned func detaches it.
func (t *Typist) Subscribe(events Events) func() {
	offTranscript := events.OnTranscript(t.onTranscript)
	offLifecycle := events.OnLifecycle(t.onLifecycle)
	return func() {
		offTranscript()
		offLifecycle()
	}
}

func (t *Typist) onTranscript(r pipeline.TranscriptResult) {
	t.work.Enqueue(func() { t.deliver(r) })
}

func (t *Typist) onLifecycle(ev pipeline.LifecycleEvent) {
	if ev.Kind != pipeline.LifecycleDrained {
		return
	}
	t.work.Enqueue(func() { t.finish(ev) })
}

func (t *Typist) deliver(r pipeline.TranscriptResult) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return
	}
	if t.settings != nil && !t.settings.SurfaceEnabled() {
		t.logger.Debug("Surface disabled, dropping transcript",
			String("session_id", r.SessionID),
			Int("sequence", r.Sequence))
		return
	}

	if r.SessionID != t.session {
		t.session = r.SessionID
		t.typed = false
	}
	if t.typed {
		text = " " + text
	}

	if err := t.sink.Type(text); err != nil {
		t.logger.Error("Failed to type transcript",
			String("session_id", r.SessionID),
			Int("sequence", r.Sequence),
			Error(err))
		return
	}
	t.typed = true
}

func (t *Typist) finish(ev pipeline.LifecycleEvent) {
	typed := t.typed && ev.SessionID == t.session
	if ev.SessionID == t.session {
		t.session = ""
		t.typed = false
	}

	if !t.submitOnStop || ev.Reason != segmenter.StopUser || !typed {
		return
	}
	if t.settings != nil && !t.settings.SurfaceEnabled() {
		return
	}
	if err := t.sink.Submit(); err != nil {
		t.logger.Error("Failed to submit input", String("session_id", ev.SessionID), Error(err))
	}
}
