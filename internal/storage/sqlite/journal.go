package sqlite

import (
	"context"
	"time"

	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/internal/worker"
)

// Journal records pipeline events. The pipeline itself keeps no history.
// Writes happen on the journal's own goroutine, started with Run.
type Journal struct {
	store *Store
	now   func() time.Time
	work  *worker.Queue
}

// NewJournal creates a journal writing to store
func NewJournal(store *Store) *Journal {
	return &Journal{store: store, now: time.Now, work: worker.NewQueue()}
}

// Run writes queued events until ctx is done, then flushes what is left
func (j *Journal) Run(ctx context.Context) {
	j.work.Run(ctx)
}

// Subscribe attaches the journal to p and returns a func that detaches it
func (j *Journal) Subscribe(p *pipeline.Pipeline) func() {
	offLifecycle := p.OnLifecycle(j.onLifecycle)
	offTranscript := p.OnTranscript(j.onTranscript)
	return func() {
		offLifecycle()
		offTranscript()
	}
}

func (j *Journal) onLifecycle(ev pipeline.LifecycleEvent) {
	switch ev.Kind {
	case pipeline.LifecycleStarted, pipeline.LifecycleStopped:
		j.work.Enqueue(func() { j.recordLifecycle(ev) })
	}
}

func (j *Journal) recordLifecycle(ev pipeline.LifecycleEvent) {
	switch ev.Kind {
	case pipeline.LifecycleStarted:
		if err := j.store.CreateSession(ev.SessionID, ev.At); err != nil {
			j.store.logger.Error("Failed to record session start", String("session_id", ev.SessionID), Error(err))
		}
	case pipeline.LifecycleStopped:
		if err := j.store.EndSession(ev.SessionID, ev.At, string(ev.Reason)); err != nil {
			j.store.logger.Error("Failed to record session end", String("session_id", ev.SessionID), Error(err))
		}
	}
}

func (j *Journal) onTranscript(r pipeline.TranscriptResult) {
	createdAt := j.now()
	j.work.Enqueue(func() { j.recordTranscript(r, createdAt) })
}

func (j *Journal) recordTranscript(r pipeline.TranscriptResult, createdAt time.Time) {
	record := &TranscriptRecord{
		SessionID:  r.SessionID,
		Sequence:   r.Sequence,
		Text:       r.Text,
		CapturedAt: r.CapturedAt,
		CreatedAt:  createdAt,
		DurationMs: r.Duration.Milliseconds(),
		LatencyMs:  r.Latency.Milliseconds(),
	}
	if _, err := j.store.StoreTranscript(record); err != nil {
		j.store.logger.Error("Failed to store transcript",
			String("session_id", r.SessionID),
			Int("sequence", r.Sequence),
			Error(err))
	}
}
