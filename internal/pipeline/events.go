package pipeline

import (
	"slices"
	"sync"
	"time"

	"github.com/yegors/handsfree/internal/segmenter"
	"github.com/yegors/handsfree/pkg/logger"
)

// TranscriptResult is published once per transcribed segment, in capture order
type TranscriptResult struct {
	SessionID  string        `json:"sessionId"`
	Sequence   int           `json:"sequence"`
	Text       string        `json:"text"`
	IsFinal    bool          `json:"isFinal"`
	CapturedAt time.Time     `json:"capturedAt"`
	Duration   time.Duration `json:"duration"` // audio length
	Latency    time.Duration `json:"latency"`  // backend round trip
}

// LifecycleKind names a lifecycle notice
type LifecycleKind string

const (
	LifecycleStarted      LifecycleKind = "started"
	LifecycleStopped      LifecycleKind = "stopped"
	LifecycleDrained      LifecycleKind = "drained" // last queued segment of a stopped session resolved
	LifecycleModelLoading LifecycleKind = "model_loading"
	LifecycleModelLoaded  LifecycleKind = "model_loaded"
)

// LifecycleEvent reports session starts and stops
type LifecycleEvent struct {
	Kind      LifecycleKind        `json:"kind"`
	SessionID string               `json:"sessionId,omitempty"`
	Reason    segmenter.StopReason `json:"reason,omitempty"`
	Cause     string               `json:"cause,omitempty"`
	Detail    string               `json:"detail,omitempty"`
	At        time.Time            `json:"at"`
}

// ErrorEvent reports a failed transcription. The session continues.
type ErrorEvent struct {
	SessionID string    `json:"sessionId"`
	Sequence  int       `json:"sequence"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	At        time.Time `json:"at"`
}

// Warning is an advisory notice
type Warning = segmenter.Warning

// Warnings raised by the pipeline
const (
	// WarningTranscriptionFailed mirrors an ErrorEvent on the warning stream
	WarningTranscriptionFailed segmenter.WarningKind = "transcription_failed"
	// WarningEmptyTranscript notes a segment the backend returned no text for
	WarningEmptyTranscript segmenter.WarningKind = "empty_transcript"
)

// LevelEvent carries one energy classification
type LevelEvent struct {
	SessionID string  `json:"sessionId"`
	RMS       float64 `json:"rms"`
	Class     string  `json:"class"`
}

// stream is one typed event stream. Listeners run synchronously on the
// publishing goroutine, in subscription order, and must not block.
type stream[T any] struct {
	name   string
	logger *logger.Logger

	mu        sync.RWMutex
	nextID    int
	listeners []listener[T]
}

type listener[T any] struct {
	id int
	fn func(T)
}

func (s *stream[T]) subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners = slices.DeleteFunc(s.listeners, func(l listener[T]) bool { return l.id == id })
	}
}

func (s *stream[T]) publish(v T) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		s.invoke(l.fn, v)
	}
}

// invoke runs one listener. A panicking listener is logged and skipped.
func (s *stream[T]) invoke(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("Event listener panicked",
				String("stream", s.name),
				logger.Any("panic", r))
		}
	}()
	fn(v)
}
