// Package pipeline wires the segmenter to a transcription client and
// republishes what happens as typed event streams.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yegors/handsfree/internal/audio"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/internal/segmenter"
	"github.com/yegors/handsfree/internal/transcription"
	"github.com/yegors/handsfree/pkg/logger"
	"golang.org/x/sync/semaphore"
)

// Import logger functions
var (
	String   = logger.String
	Int      = logger.Int
	Duration = logger.Duration
	Error    = logger.Error
)

// Start failures, re-exported for consumers of the façade
var (
	ErrNotConfigured  = segmenter.ErrNotConfigured
	ErrAlreadyActive  = segmenter.ErrAlreadyActive
	ErrStartCancelled = segmenter.ErrStartCancelled
)

// Metrics receives pipeline measurements
type Metrics interface {
	SegmentSealed()
	SegmentDiscarded(reason string)
	Transcription(result string, took time.Duration)
	SessionStarted()
	SessionStopped(reason string)
	QueueDepth(n int)
}

type nopMetrics struct{}

func (nopMetrics) SegmentSealed() {}
func (nopMetrics) SegmentDiscarded(string) {}
func (nopMetrics) Transcription(string, time.Duration) {}
func (nopMetrics) SessionStarted() {}
func (nopMetrics) SessionStopped(string) {}
func (nopMetrics) QueueDepth(int) {}

// Config holds pipeline settings
type Config struct {
	Segmenter   segmenter.Config
	CallTimeout time.Duration // upper bound for one transcription call
}

// ConfigFrom builds pipeline settings from a validated configuration
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Segmenter:   segmenter.ConfigFrom(cfg),
		CallTimeout: time.Duration(cfg.Transcription.TimeoutSecs) * time.Second,
	}
}

// Status is a snapshot of the pipeline
type Status struct {
	State     string    `json:"state"`
	SessionID string    `json:"sessionId,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Submitted int       `json:"submitted"`
	Discarded int       `json:"discarded"`
	Queued    int       `json:"queued"`
	InFlight  bool      `json:"inFlight"`
	Backend   string    `json:"backend"`
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithMetrics records measurements into m
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSegmenterOptions passes options through to the segmenter
func WithSegmenterOptions(opts ...segmenter.Option) Option {
	return func(p *Pipeline) { p.segOpts = append(p.segOpts, opts...) }
}

type sessionEnd struct {
	sessionID string
	reason    segmenter.StopReason
}

// Pipeline is the façade over the segmenter and transcription client. Sealed
// segments are queued in capture order and transcribed one at a time.
type Pipeline struct {
	cfg      Config
	client   transcription.Client
	settings *config.Settings
	metrics  Metrics
	logger   *logger.Logger
	segOpts  []segmenter.Option
	seg      *segmenter.Segmenter

	// calls outlive session stops; only Close cancels them
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// worker holds the single transcription slot
	worker *semaphore.Weighted

	mu       sync.Mutex
	queue    []audio.Segment
	inFlight bool
	pending  []sessionEnd // stopped sessions awaiting their drained notice, oldest first

	transcripts stream[TranscriptResult]
	lifecycle   stream[LifecycleEvent]
	errors      stream[ErrorEvent]
	warnings    stream[Warning]
	levels      stream[LevelEvent]
}

// New creates a pipeline capturing from source and transcribing with client.
// Language and prompt are read from settings on every call.
func New(cfg Config, source audio.Source, client transcription.Client, settings *config.Settings, log *logger.Logger, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:      cfg,
		client:   client,
		settings: settings,
		metrics:  nopMetrics{},
		logger:   log.Named("pipeline"),
		ctx:      ctx,
		cancel:   cancel,
		worker:   semaphore.NewWeighted(1),
	}
	if p.cfg.CallTimeout <= 0 {
		p.cfg.CallTimeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	p.transcripts.name, p.transcripts.logger = "transcript", p.logger
	p.lifecycle.name, p.lifecycle.logger = "lifecycle", p.logger
	p.errors.name, p.errors.logger = "error", p.logger
	p.warnings.name, p.warnings.logger = "warning", p.logger
	p.levels.name, p.levels.logger = "level", p.logger
	p.seg = segmenter.New(cfg.Segmenter, source, p, p, log, p.segOpts...)
	return p
}

// OnTranscript subscribes to transcript results. The returned func unsubscribes.
func (p *Pipeline) OnTranscript(fn func(TranscriptResult)) func() {
	return p.transcripts.subscribe(fn)
}

// OnLifecycle subscribes to session lifecycle events
func (p *Pipeline) OnLifecycle(fn func(LifecycleEvent)) func() {
	return p.lifecycle.subscribe(fn)
}

// OnError subscribes to per-segment transcription failures
func (p *Pipeline) OnError(fn func(ErrorEvent)) func() {
	return p.errors.subscribe(fn)
}

// OnWarning subscribes to advisory notices
func (p *Pipeline) OnWarning(fn func(Warning)) func() {
	return p.warnings.subscribe(fn)
}

// OnLevel subscribes to energy samples
func (p *Pipeline) OnLevel(fn func(LevelEvent)) func() {
	return p.levels.subscribe(fn)
}

// Start begins a listening session
func (p *Pipeline) Start(ctx context.Context) (Status, error) {
	_, err := p.seg.Start(ctx)
	return p.Status(), err
}

// Stop ends the active session. In-flight and queued segments are still
// transcribed and published.
func (p *Pipeline) Stop() Status {
	p.seg.Stop()
	return p.Status()
}

// Toggle stops an active session or starts a new one
func (p *Pipeline) Toggle(ctx context.Context) (Status, error) {
	_, err := p.seg.Toggle(ctx)
	return p.Status(), err
}

// Status returns a snapshot of the session and queue
func (p *Pipeline) Status() Status {
	info := p.seg.Info()
	p.mu.Lock()
	queued, inFlight := len(p.queue), p.inFlight
	p.mu.Unlock()

	return Status{
		State:     info.State.String(),
		SessionID: info.SessionID,
		StartedAt: info.StartedAt,
		Submitted: info.Submitted,
		Discarded: info.Discarded,
		Queued:    queued,
		InFlight:  inFlight,
		Backend:   p.backendName(),
	}
}

func (p *Pipeline) backendName() string {
	if p.client == nil {
		return ""
	}
	return p.client.Name()
}

// Progress republishes backend progress, such as local model loading, on
// the lifecycle stream
func (p *Pipeline) Progress(stage, detail string) {
	p.logger.Info("Transcription backend progress", String("stage", stage), String("detail", detail))
	p.lifecycle.publish(LifecycleEvent{
		Kind:   LifecycleKind(stage),
		Detail: detail,
		At:     time.Now(),
	})
}

// Close stops any session and waits for queued segments to resolve, or for
// ctx to expire, before cancelling outstanding calls
func (p *Pipeline) Close(ctx context.Context) error {
	p.seg.Stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("Abandoning queued segments on shutdown", Int("queued", p.Status().Queued))
		err = ctx.Err()
	}
	p.cancel()

	if c, ok := p.client.(transcription.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close transcription client: %w", cerr)
		}
	}
	return err
}

// Ready implements segmenter.Target
func (p *Pipeline) Ready() error {
	if p.client == nil {
		return ErrNotConfigured
	}
	if v, ok := p.client.(transcription.Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrNotConfigured, err)
		}
	}
	return nil
}

// Submit implements segmenter.Target. It never blocks on the backend.
func (p *Pipeline) Submit(seg audio.Segment) {
	p.mu.Lock()
	p.queue = append(p.queue, seg)
	depth := len(p.queue)
	p.mu.Unlock()

	p.metrics.SegmentSealed()
	p.metrics.QueueDepth(depth)
	p.kick()
}

// kick starts the worker unless one already holds the slot
func (p *Pipeline) kick() {
	if !p.worker.TryAcquire(1) {
		return
	}
	p.wg.Add(1)
	go p.drain()
}

// drain works while holding the transcription slot until nothing is left
func (p *Pipeline) drain() {
	defer p.wg.Done()
	for p.step() {
	}
}

// step resolves one unit of work: it publishes the drained notices that are
// due, or transcribes the oldest queued segment. It returns false once the
// slot is released. The slot is released under the queue lock so a
// concurrent Submit or Stopped either sees the worker still running or wins
// the slot itself.
func (p *Pipeline) step() bool {
	p.mu.Lock()
	p.inFlight = false
	due := p.dueLocked()
	if len(due) == 0 && len(p.queue) == 0 {
		p.worker.Release(1)
		p.mu.Unlock()
		return false
	}
	if len(due) > 0 {
		p.mu.Unlock()
		p.publishDrained(due)
		return true
	}
	seg := p.queue[0]
	p.queue[0] = audio.Segment{}
	p.queue = p.queue[1:]
	p.inFlight = true
	depth := len(p.queue)
	p.mu.Unlock()

	p.metrics.QueueDepth(depth)
	p.transcribe(seg)
	return true
}

// dueLocked pops stopped sessions, oldest first, that have no segment left
// in the queue. The caller holds the slot, so nothing is in flight.
func (p *Pipeline) dueLocked() []sessionEnd {
	n := 0
	for n < len(p.pending) && !p.queuedLocked(p.pending[n].sessionID) {
		n++
	}
	if n == 0 {
		return nil
	}
	due := slices.Clone(p.pending[:n])
	p.pending = slices.Delete(p.pending, 0, n)
	return due
}

func (p *Pipeline) queuedLocked(sessionID string) bool {
	return slices.ContainsFunc(p.queue, func(seg audio.Segment) bool {
		return seg.SessionID == sessionID
	})
}

func (p *Pipeline) transcribe(seg audio.Segment) {
	req := transcription.Request{Segment: seg}
	if p.settings != nil {
		req.Language = p.settings.Language()
		req.Prompt = p.settings.Prompt()
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.CallTimeout)
	start := time.Now()
	text, err := p.client.Transcribe(ctx, req)
	took := time.Since(start)
	cancel()

	log := p.logger.With(String("session_id", seg.SessionID), Int("sequence", seg.Sequence))
	if err != nil {
		kind := transcription.KindName(transcription.KindOf(err))
		p.metrics.Transcription(kind, took)
		log.Warn("Transcription failed", String("kind", kind), Error(err))

		now := time.Now()
		p.errors.publish(ErrorEvent{
			SessionID: seg.SessionID,
			Sequence:  seg.Sequence,
			Kind:      kind,
			Message:   err.Error(),
			Cause:     err,
			At:        now,
		})
		p.warnings.publish(Warning{
			Kind:      WarningTranscriptionFailed,
			SessionID: seg.SessionID,
			Message:   fmt.Sprintf("segment %d: %v", seg.Sequence, err),
			At:        now,
		})
		return
	}

	if text == "" {
		p.metrics.Transcription("empty", took)
		log.Debug("Transcription returned no text", Duration("latency", took))
		p.warnings.publish(Warning{
			Kind:      WarningEmptyTranscript,
			SessionID: seg.SessionID,
			Message:   fmt.Sprintf("segment %d: no speech recognized", seg.Sequence),
			At:        time.Now(),
		})
		return
	}

	p.metrics.Transcription("success", took)
	log.Info("Transcription completed", Int("text_length", len(text)), Duration("latency", took))
	p.transcripts.publish(TranscriptResult{
		SessionID:  seg.SessionID,
		Sequence:   seg.Sequence,
		Text:       text,
		IsFinal:    true,
		CapturedAt: seg.CapturedAt,
		Duration:   seg.Duration,
		Latency:    took,
	})
}

func (p *Pipeline) publishDrained(ends []sessionEnd) {
	for _, end := range ends {
		p.logger.Debug("Session drained", String("session_id", end.sessionID))
		p.lifecycle.publish(LifecycleEvent{
			Kind:      LifecycleDrained,
			SessionID: end.sessionID,
			Reason:    end.reason,
			At:        time.Now(),
		})
	}
}

// Started implements segmenter.Observer
func (p *Pipeline) Started(info segmenter.Info) {
	p.metrics.SessionStarted()
	p.lifecycle.publish(LifecycleEvent{
		Kind:      LifecycleStarted,
		SessionID: info.SessionID,
		At:        info.StartedAt,
	})
}

// Stopped implements segmenter.Observer. The drained notice follows once
// every segment of the session has resolved. Notices for back-to-back
// sessions are published in stop order, each after its own stopped event.
func (p *Pipeline) Stopped(info segmenter.Info, reason segmenter.StopReason, cause error) {
	p.metrics.SessionStopped(string(reason))

	ev := LifecycleEvent{
		Kind:      LifecycleStopped,
		SessionID: info.SessionID,
		Reason:    reason,
		At:        time.Now(),
	}
	if cause != nil {
		ev.Cause = cause.Error()
	}

	p.lifecycle.publish(ev)

	p.mu.Lock()
	p.pending = append(p.pending, sessionEnd{sessionID: info.SessionID, reason: reason})
	p.mu.Unlock()

	// A busy worker publishes the notice once the session's segments resolve
	if !p.worker.TryAcquire(1) {
		return
	}
	p.mu.Lock()
	due := p.dueLocked()
	p.mu.Unlock()
	p.publishDrained(due)

	p.wg.Add(1)
	go p.drain()
}

// Warn implements segmenter.Observer
func (p *Pipeline) Warn(w segmenter.Warning) {
	p.warnings.publish(w)
}

// Level implements segmenter.Observer
func (p *Pipeline) Level(sessionID string, sample audio.EnergySample) {
	p.levels.publish(LevelEvent{
		SessionID: sessionID,
		RMS:       sample.RMS,
		Class:     sample.Class.String(),
	})
}

// Discarded implements segmenter.Observer
func (p *Pipeline) Discarded(sessionID, reason string) {
	p.metrics.SegmentDiscarded(reason)
}
