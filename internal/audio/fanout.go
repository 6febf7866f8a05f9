package audio

import (
	"io"
	"sync"

	"github.com/yegors/handsfree/pkg/logger"
)

// Fanout distributes a single captured byte stream to any number of taps
type Fanout struct {
	mu     sync.RWMutex
	taps   map[string]io.Writer
	closed bool
	logger *logger.Logger
}

// NewFanout creates an empty fan-out
func NewFanout(log *logger.Logger) *Fanout {
	return &Fanout{
		taps:   make(map[string]io.Writer),
		logger: log.Named("fanout"),
	}
}

// Attach adds a tap. Attaching an existing id replaces its writer.
func (f *Fanout) Attach(id string, w io.Writer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.taps[id] = w
	f.logger.Debug("Tap attached", String("id", id), Int("tap_count", len(f.taps)))
}

// Detach removes a tap
func (f *Fanout) Detach(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.taps, id)
}

// Write copies p to every tap. A failing tap is detached; capture continues.
func (f *Fanout) Write(p []byte) (int, error) {
	f.mu.RLock()
	var failed []string
	for id, w := range f.taps {
		if _, err := w.Write(p); err != nil {
			f.logger.Warn("Tap write failed, detaching", String("id", id), Error(err))
			failed = append(failed, id)
		}
	}
	f.mu.RUnlock()

	for _, id := range failed {
		f.Detach(id)
	}
	return len(p), nil
}

// Len returns the number of attached taps
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.taps)
}

// Close detaches every tap and refuses new ones
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.taps = make(map[string]io.Writer)
}
