package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

var (
	// ErrDeviceUnavailable reports a missing or busy capture device
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrPermissionDenied reports that access to the microphone was refused
	ErrPermissionDenied = errors.New("microphone permission denied")
)

// Source acquires a live microphone stream
type Source interface {
	// Acquire opens the device. It blocks until the first frames arrive or
	// the device fails, and returns ErrPermissionDenied or ErrDeviceUnavailable
	// (possibly wrapped) on failure.
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is one acquired capture. All taps attached to it observe the same
// bytes from a single hardware stream.
type Stream interface {
	Format() Format
	// Attach adds a tap receiving every captured byte from now on
	Attach(id string, w io.Writer)
	// Detach removes a tap
	Detach(id string)
	// Done is closed when capture ends for any reason
	Done() <-chan struct{}
	// Err returns the reason capture ended unexpectedly, if any
	Err() error
	// Release tears the capture down. Safe to call more than once.
	Release() error
}

// Factory builds a Source from configuration
type Factory func(cfg config.AudioConfig, log *logger.Logger) (Source, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{}
)

// RegisterBackend makes a capture backend available to NewSource
func RegisterBackend(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// Backends lists the compiled-in capture backends
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSource creates the configured capture backend
func NewSource(cfg config.AudioConfig, log *logger.Logger) (Source, error) {
	backendsMu.RLock()
	f, ok := backends[cfg.Backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("audio backend %q not compiled in (available: %v)", cfg.Backend, Backends())
	}
	return f(cfg, log)
}

// captureStream is the Stream shared by the capture backends
type captureStream struct {
	*Fanout
	format  Format
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	err     error
	release func() error
	relOnce sync.Once
	relErr  error
}

func newCaptureStream(format Format, log *logger.Logger) *captureStream {
	return &captureStream{
		Fanout: NewFanout(log),
		format: format,
		done:   make(chan struct{}),
	}
}

func (s *captureStream) Format() Format        { return s.format }
func (s *captureStream) Done() <-chan struct{} { return s.done }

func (s *captureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// finish marks capture as ended, recording err if it is the first reason
func (s *captureStream) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *captureStream) Release() error {
	s.relOnce.Do(func() {
		if s.release != nil {
			s.relErr = s.release()
		}
		s.finish(nil)
		s.Fanout.Close()
	})
	return s.relErr
}
