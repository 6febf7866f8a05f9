// Package surface delivers transcripts to the user's input surface and shows
// desktop notifications for session changes.
package surface

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// Sink writes text where the user is typing
type Sink interface {
	// Type inserts text at the cursor
	Type(text string) error
	// Submit presses Enter
	Submit() error
}

// NewSink returns the sink for a surface mode. Mode "none" yields nil.
func NewSink(mode string, out io.Writer) (Sink, error) {
	switch mode {
	case "paste":
		return &PasteSink{settle: 80 * time.Millisecond, restore: 120 * time.Millisecond}, nil
	case "stdout":
		return NewWriterSink(out), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown surface mode: %s", mode)
	}
}

// PasteSink puts text on the clipboard and sends the paste shortcut to the
// focused window, restoring the previous clipboard afterwards
type PasteSink struct {
	settle  time.Duration // wait for the clipboard owner to publish
	restore time.Duration // wait for the target to read the clipboard

	mu sync.Mutex
	kb *keybd_event.KeyBonding
}

func (s *PasteSink) keys() (*keybd_event.KeyBonding, error) {
	if s.kb != nil {
		return s.kb, nil
	}
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}
	if runtime.GOOS == "linux" {
		// uinput devices need a moment before the first event is seen
		time.Sleep(2 * time.Second)
	}
	s.kb = &kb
	return s.kb, nil
}

// Type pastes text into the focused application
func (s *PasteSink) Type(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb, err := s.keys()
	if err != nil {
		return err
	}

	orig, _ := clipboard.ReadAll()
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	time.Sleep(s.settle)

	kb.Clear()
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	kb.SetKeys(keybd_event.VK_V)
	err = kb.Launching()

	time.Sleep(s.restore)
	_ = clipboard.WriteAll(orig)
	if err != nil {
		return fmt.Errorf("failed to send paste keystroke: %w", err)
	}
	return nil
}

// Submit presses Enter in the focused application
func (s *PasteSink) Submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kb, err := s.keys()
	if err != nil {
		return err
	}
	kb.Clear()
	kb.SetKeys(keybd_event.VK_ENTER)
	if err := kb.Launching(); err != nil {
		return fmt.Errorf("failed to send enter keystroke: %w", err)
	}
	return nil
}

// WriterSink writes transcripts to a stream, one submitted command per line
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Type(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, text)
	return err
}

func (s *WriterSink) Submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, "\n")
	return err
}
