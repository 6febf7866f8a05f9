package audio

import (
	"errors"
	"sync"
)

// ErrNoOpenSegment is returned when sealing a recorder that was never opened
var ErrNoOpenSegment = errors.New("no open segment")

// Recorder is the encoding sink bound to a capture stream. It buffers PCM
// into the open segment; sealing swaps in a fresh buffer under the same lock
// so no captured byte falls between two segments.
type Recorder struct {
	mu     sync.Mutex
	format Format
	buf    []byte
	open   bool
}

// NewRecorder creates a recorder for the given capture format
func NewRecorder(format Format) *Recorder {
	return &Recorder{format: format}
}

// Write appends captured PCM to the open segment. Bytes arriving while no
// segment is open are dropped.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		r.buf = append(r.buf, p...)
	}
	return len(p), nil
}

// Open starts a new segment, dropping anything buffered before
func (r *Recorder) Open() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = make([]byte, 0, r.format.BytesPerSecond())
	r.open = true
}

// Seal finalizes the open segment and immediately opens the next one.
// Back-to-back seals are valid and yield empty segments.
func (r *Recorder) Seal() (Segment, error) {
	pcm, err := r.swap(true)
	if err != nil {
		return Segment{}, err
	}

	data, err := EncodeWAV(pcm, r.format)
	if err != nil {
		return Segment{}, err
	}
	return Segment{
		Data:     data,
		Format:   r.format,
		Duration: r.format.Duration(len(pcm)),
	}, nil
}

// Close seals the open segment without opening another
func (r *Recorder) Close() (Segment, error) {
	pcm, err := r.swap(false)
	if err != nil {
		return Segment{}, err
	}
	data, err := EncodeWAV(pcm, r.format)
	if err != nil {
		return Segment{}, err
	}
	return Segment{
		Data:     data,
		Format:   r.format,
		Duration: r.format.Duration(len(pcm)),
	}, nil
}

// Discard drops the open segment's bytes. With reopen the next segment
// starts immediately; otherwise the recorder goes idle.
func (r *Recorder) Discard(reopen bool) {
	_, _ = r.swap(reopen)
}

// Buffered returns the PCM bytes in the open segment
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// IsOpen reports whether a segment is being recorded into
func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Recorder) swap(reopen bool) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return nil, ErrNoOpenSegment
	}

	pcm := r.buf
	r.buf = make([]byte, 0, r.format.BytesPerSecond())
	r.open = reopen

	// A partial frame belongs to the next segment
	if fb := r.format.FrameBytes(); fb > 0 {
		if rem := len(pcm) % fb; rem != 0 {
			if reopen {
				r.buf = append(r.buf, pcm[len(pcm)-rem:]...)
			}
			pcm = pcm[:len(pcm)-rem]
		}
	}
	return pcm, nil
}
