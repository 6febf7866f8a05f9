package segmenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/handsfree/internal/audio"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/pkg/logger"
)

// Import logger functions
var (
	String   = logger.String
	Int      = logger.Int
	Bool     = logger.Bool
	Duration = logger.Duration
	Error    = logger.Error
)

var (
	// ErrNotConfigured means no transcription target is available
	ErrNotConfigured = errors.New("transcription backend not configured")
	// ErrAlreadyActive is returned by Start while a session is running
	ErrAlreadyActive = errors.New("session already active")
	// ErrStartCancelled is returned when Stop interrupts a pending Start
	ErrStartCancelled = errors.New("start cancelled by stop")
)

// State is the session state
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateSealing
	StateStopping
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateSealing:
		return "sealing"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// StopReason tells consumers why a session ended
type StopReason string

const (
	StopUser           StopReason = "user"
	StopSilenceTimeout StopReason = "silence_timeout"
	StopCaptureLost    StopReason = "capture_lost"
)

// WarningKind classifies advisory notices
type WarningKind string

const (
	WarningContinuousRecording WarningKind = "continuous_recording"
	WarningSilenceTimeout      WarningKind = "silence_timeout"
	WarningAlreadyActive       WarningKind = "already_active"
	WarningCaptureLost         WarningKind = "capture_lost"
)

// Warning is an advisory notice that does not change recording state
// unless its kind says so
type Warning struct {
	Kind      WarningKind `json:"kind"`
	SessionID string      `json:"sessionId,omitempty"`
	Message   string      `json:"message"`
	At        time.Time   `json:"at"`
}

// Discard reasons
const (
	DiscardNoSpeech = "no_speech"
	DiscardTooSmall = "too_small"
)

// Info is a snapshot of the segmenter
type Info struct {
	State          State
	SessionID      string
	StartedAt      time.Time
	Submitted      int  // segments handed to the target this session
	Discarded      int  // segments dropped this session
	SegmentOpen    bool // a segment is being recorded into
	ContainsSpeech bool // the open segment has seen speech
}

// Analyzer is a stream tap that classifies the most recent audio
type Analyzer interface {
	io.Writer
	Sample() audio.EnergySample
}

// Target receives sealed segments
type Target interface {
	// Ready reports whether segments can be transcribed at all
	Ready() error
	// Submit enqueues a segment without blocking
	Submit(seg audio.Segment)
}

// Observer receives lifecycle notices. Calls are made without the
// segmenter's lock held, but must not block for long.
type Observer interface {
	Started(info Info)
	Stopped(info Info, reason StopReason, cause error)
	Warn(w Warning)
	Level(sessionID string, sample audio.EnergySample)
	Discarded(sessionID, reason string)
}

// Config holds segmentation timing
type Config struct {
	PollInterval        time.Duration
	Window              time.Duration
	Thresholds          audio.Thresholds
	SilenceThreshold    time.Duration
	MinSegment          time.Duration
	MinSegmentBytes     int
	TotalSilenceTimeout time.Duration
	ContinuousWarning   time.Duration
}

// DefaultConfig returns the reference timings
func DefaultConfig() Config {
	return Config{
		PollInterval:        100 * time.Millisecond,
		Window:              100 * time.Millisecond,
		Thresholds:          audio.DefaultThresholds(),
		SilenceThreshold:    1500 * time.Millisecond,
		MinSegment:          time.Second,
		MinSegmentBytes:     1024,
		TotalSilenceTimeout: 5 * time.Minute,
		ContinuousWarning:   10 * time.Minute,
	}
}

// ConfigFrom builds segmenter timings from a validated configuration
func ConfigFrom(cfg *config.Config) Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return Config{
		PollInterval: ms(cfg.VAD.PollIntervalMs),
		Window:       ms(cfg.VAD.WindowMs),
		Thresholds: audio.Thresholds{
			Speech:  cfg.VAD.SpeechThreshold,
			Silence: cfg.VAD.SilenceThreshold,
		},
		SilenceThreshold:    ms(cfg.Segmenter.SilenceThresholdMs),
		MinSegment:          ms(cfg.Segmenter.MinSegmentMs),
		MinSegmentBytes:     cfg.Segmenter.MinSegmentBytes,
		TotalSilenceTimeout: time.Duration(cfg.Segmenter.TotalSilenceTimeoutSecs) * time.Second,
		ContinuousWarning:   time.Duration(cfg.Segmenter.ContinuousWarningSecs) * time.Second,
	}
}

// Option customizes a Segmenter
type Option func(*Segmenter)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *Segmenter) { s.clock = c }
}

// WithAnalyzer replaces the energy analyzer factory
func WithAnalyzer(f func(audio.Format) Analyzer) Option {
	return func(s *Segmenter) { s.newAnalyzer = f }
}

type session struct {
	id        string
	startedAt time.Time
	// start of the current stretch without speech, for the auto-stop watchdog
	totalSilenceStart time.Time
	continuousWarned  bool
	stream            audio.Stream
	analyzer          Analyzer
	recorder          *audio.Recorder
	segmentOpenedAt   time.Time
	containsSpeech    bool
	silenceSince      time.Time
	sequence          int
	discarded         int
	cancel            context.CancelFunc
}

// Segmenter turns energy classifications into sealed segments. All state
// transitions happen under one mutex, so ticks, seals and stops are
// serialized on a single logical timeline.
type Segmenter struct {
	cfg         Config
	source      audio.Source
	target      Target
	observer    Observer
	clock       Clock
	newAnalyzer func(audio.Format) Analyzer
	logger      *logger.Logger

	mu          sync.Mutex
	state       State
	session     *session
	startCancel context.CancelFunc
	startGen    uint64
}

// New creates a segmenter
func New(cfg Config, source audio.Source, target Target, observer Observer, log *logger.Logger, opts ...Option) *Segmenter {
	s := &Segmenter{
		cfg:      cfg,
		source:   source,
		target:   target,
		observer: observer,
		clock:    SystemClock{},
		logger:   log.Named("segmenter"),
	}
	s.newAnalyzer = func(f audio.Format) Analyzer {
		return audio.NewEnergyMonitor(f, cfg.Window, cfg.Thresholds)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// notices are delivered after the lock is released
type notices []func()

func (n *notices) add(fn func()) { *n = append(*n, fn) }

func (n notices) emit() {
	for _, fn := range n {
		fn()
	}
}

// Start acquires the microphone and begins a session
func (s *Segmenter) Start(ctx context.Context) (Info, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		info := s.infoLocked()
		s.mu.Unlock()
		s.logger.Warn("Start ignored, session already active", String("session_id", info.SessionID))
		s.observer.Warn(Warning{
			Kind:      WarningAlreadyActive,
			SessionID: info.SessionID,
			Message:   "already listening",
			At:        s.clock.Now(),
		})
		return info, ErrAlreadyActive
	}
	if err := s.target.Ready(); err != nil {
		s.mu.Unlock()
		if !errors.Is(err, ErrNotConfigured) {
			err = fmt.Errorf("%w: %v", ErrNotConfigured, err)
		}
		return Info{State: StateIdle}, err
	}

	acquireCtx, cancel := context.WithCancel(ctx)
	s.startGen++
	gen := s.startGen
	s.state = StateStarting
	s.startCancel = cancel
	s.mu.Unlock()

	stream, err := s.source.Acquire(acquireCtx)

	s.mu.Lock()
	cancel()
	if s.state != StateStarting || s.startGen != gen {
		// Stop arrived while acquiring
		s.mu.Unlock()
		if stream != nil {
			stream.Release()
		}
		return Info{State: StateIdle}, ErrStartCancelled
	}
	s.startCancel = nil
	if err != nil {
		s.state = StateIdle
		s.mu.Unlock()
		s.logger.Warn("Failed to acquire microphone", Error(err))
		return Info{State: StateIdle}, err
	}

	now := s.clock.Now()
	format := stream.Format()
	sess := &session{
		id:                uuid.NewString(),
		startedAt:         now,
		totalSilenceStart: now,
		stream:            stream,
		analyzer:          s.newAnalyzer(format),
		recorder:          audio.NewRecorder(format),
		segmentOpenedAt:   now,
		silenceSince:      now,
	}
	sess.recorder.Open()
	stream.Attach("recorder", sess.recorder)
	stream.Attach("energy", sess.analyzer)

	loopCtx, loopCancel := context.WithCancel(context.Background())
	sess.cancel = loopCancel
	s.session = sess
	s.state = StateRecording
	info := s.infoLocked()
	ticker := s.clock.NewTicker(s.cfg.PollInterval)
	s.mu.Unlock()

	go s.run(loopCtx, ticker, sess.id, stream)

	s.logger.Info("Session started",
		String("session_id", sess.id),
		Int("sample_rate", format.SampleRate),
		Int("channels", format.Channels))
	s.observer.Started(info)
	return info, nil
}

// run drives polling ticks until the session's loop is cancelled
func (s *Segmenter) run(ctx context.Context, ticker Ticker, id string, stream audio.Stream) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Tick()
		case <-stream.Done():
			s.captureEnded(id, stream.Err())
			return
		}
	}
}

// Tick processes one energy sample. Ticks outside Recording, including
// stale ticks racing a stop, are no-ops.
func (s *Segmenter) Tick() {
	var out notices

	s.mu.Lock()
	sess := s.session
	if s.state != StateRecording || sess == nil || sess.analyzer == nil {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	sample := sess.analyzer.Sample()
	out.add(func() { s.observer.Level(sess.id, sample) })
	s.observeLocked(now, sample, &out)
	s.mu.Unlock()

	out.emit()
}

func (s *Segmenter) observeLocked(now time.Time, sample audio.EnergySample, out *notices) {
	sess := s.session

	switch sample.Class {
	case audio.ClassSpeech:
		sess.containsSpeech = true
		sess.silenceSince = now
		sess.totalSilenceStart = now
	case audio.ClassAmbient:
		sess.silenceSince = now
	}

	if !sess.continuousWarned && now.Sub(sess.startedAt) >= s.cfg.ContinuousWarning {
		sess.continuousWarned = true
		w := Warning{
			Kind:      WarningContinuousRecording,
			SessionID: sess.id,
			Message:   fmt.Sprintf("recording continuously for %s", s.cfg.ContinuousWarning),
			At:        now,
		}
		s.logger.Warn("Continuous recording advisory", String("session_id", sess.id))
		out.add(func() { s.observer.Warn(w) })
	}

	if now.Sub(sess.totalSilenceStart) >= s.cfg.TotalSilenceTimeout {
		w := Warning{
			Kind:      WarningSilenceTimeout,
			SessionID: sess.id,
			Message:   fmt.Sprintf("stopped after %s without speech", s.cfg.TotalSilenceTimeout),
			At:        now,
		}
		s.logger.Info("Auto-stopping after prolonged silence", String("session_id", sess.id))
		out.add(func() { s.observer.Warn(w) })
		s.stopLocked(StopSilenceTimeout, nil, out)
		return
	}

	if sample.Class == audio.ClassSilence &&
		now.Sub(sess.silenceSince) >= s.cfg.SilenceThreshold &&
		now.Sub(sess.segmentOpenedAt) >= s.cfg.MinSegment {
		s.sealLocked(now, out)
	}
}

// sealLocked closes the open segment and opens the next one in the same step
func (s *Segmenter) sealLocked(now time.Time, out *notices) {
	sess := s.session
	s.state = StateSealing
	defer func() { s.state = StateRecording }()

	openedAt := sess.segmentOpenedAt
	speech := sess.containsSpeech
	sess.containsSpeech = false
	sess.segmentOpenedAt = now
	sess.silenceSince = now

	if !speech {
		sess.recorder.Discard(true)
		s.discardLocked(DiscardNoSpeech, out)
		return
	}

	seg, err := sess.recorder.Seal()
	if err != nil {
		s.logger.Error("Failed to seal segment", Error(err), String("session_id", sess.id))
		return
	}
	s.dispatchLocked(seg, openedAt, out)
}

func (s *Segmenter) dispatchLocked(seg audio.Segment, openedAt time.Time, out *notices) {
	sess := s.session
	if len(seg.Data) < s.cfg.MinSegmentBytes {
		s.discardLocked(DiscardTooSmall, out)
		return
	}

	sess.sequence++
	seg.Sequence = sess.sequence
	seg.SessionID = sess.id
	seg.ContainsSpeech = true
	seg.CapturedAt = openedAt

	s.logger.Debug("Segment sealed",
		String("session_id", sess.id),
		Int("sequence", seg.Sequence),
		Int("bytes", len(seg.Data)),
		Duration("duration", seg.Duration))
	s.target.Submit(seg)
}

func (s *Segmenter) discardLocked(reason string, out *notices) {
	sess := s.session
	sess.discarded++
	id := sess.id
	s.logger.Debug("Segment discarded", String("session_id", id), String("reason", reason))
	out.add(func() { s.observer.Discarded(id, reason) })
}

// Stop ends the active session. It reports whether anything was stopped;
// repeated calls are no-ops.
func (s *Segmenter) Stop() bool {
	var out notices
	s.mu.Lock()
	stopped := s.stopLocked(StopUser, nil, &out)
	s.mu.Unlock()
	out.emit()
	return stopped
}

// Toggle stops an active session or starts a new one
func (s *Segmenter) Toggle(ctx context.Context) (Info, error) {
	s.mu.Lock()
	active := s.state != StateIdle
	s.mu.Unlock()

	if active {
		s.Stop()
		return s.Info(), nil
	}
	return s.Start(ctx)
}

func (s *Segmenter) captureEnded(id string, cause error) {
	var out notices
	s.mu.Lock()
	if s.session == nil || s.session.id != id {
		s.mu.Unlock()
		return
	}
	if cause == nil {
		cause = errors.New("capture ended unexpectedly")
	}
	s.logger.Error("Capture lost", Error(cause), String("session_id", id))
	w := Warning{Kind: WarningCaptureLost, SessionID: id, Message: cause.Error(), At: s.clock.Now()}
	out.add(func() { s.observer.Warn(w) })
	s.stopLocked(StopCaptureLost, cause, &out)
	s.mu.Unlock()
	out.emit()
}

// stopLocked halts the timers before the final seal, then releases the device
func (s *Segmenter) stopLocked(reason StopReason, cause error, out *notices) bool {
	switch s.state {
	case StateIdle, StateStopping:
		return false
	case StateStarting:
		if s.startCancel != nil {
			s.startCancel()
			s.startCancel = nil
		}
		s.state = StateIdle
		s.logger.Info("Start cancelled by stop")
		return true
	}

	sess := s.session
	s.state = StateStopping

	sess.cancel()
	sess.analyzer = nil

	if sess.containsSpeech {
		seg, err := sess.recorder.Close()
		if err != nil {
			s.logger.Error("Failed to seal final segment", Error(err), String("session_id", sess.id))
		} else {
			s.dispatchLocked(seg, sess.segmentOpenedAt, out)
		}
	} else {
		sess.recorder.Discard(false)
	}
	sess.containsSpeech = false

	sess.stream.Detach("recorder")
	sess.stream.Detach("energy")
	if err := sess.stream.Release(); err != nil {
		s.logger.Warn("Failed to release microphone", Error(err), String("session_id", sess.id))
	}

	info := s.infoLocked()
	info.State = StateIdle
	info.SegmentOpen = false
	s.session = nil
	s.state = StateIdle

	s.logger.Info("Session stopped",
		String("session_id", sess.id),
		String("reason", string(reason)),
		Int("submitted", info.Submitted),
		Int("discarded", info.Discarded),
		Duration("duration", s.clock.Now().Sub(sess.startedAt)))
	out.add(func() { s.observer.Stopped(info, reason, cause) })
	return true
}

// Info returns a snapshot of the current state
func (s *Segmenter) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

// State returns the current state
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Segmenter) infoLocked() Info {
	info := Info{State: s.state}
	if sess := s.session; sess != nil {
		info.SessionID = sess.id
		info.StartedAt = sess.startedAt
		info.Submitted = sess.sequence
		info.Discarded = sess.discarded
		info.SegmentOpen = sess.recorder.IsOpen()
		info.ContainsSpeech = sess.containsSpeech
	}
	return info
}
