package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/pkg/logger"
)

func init() {
	RegisterBackend("ffmpeg", func(cfg config.AudioConfig, log *logger.Logger) (Source, error) {
		return NewFFmpegSource(FFmpegConfig{
			FFmpegPath:     cfg.FFmpegPath,
			InputFormat:    cfg.InputFormat,
			Device:         cfg.Device,
			SampleRate:     cfg.SampleRate,
			Channels:       cfg.Channels,
			AcquireTimeout: time.Duration(cfg.AcquireTimeoutSec) * time.Second,
		}, log), nil
	})
}

// FFmpegConfig contains configuration for the ffmpeg capture backend
type FFmpegConfig struct {
	FFmpegPath     string
	InputFormat    string // ffmpeg -f value for the input device (pulse, alsa, avfoundation, dshow)
	Device         string // ffmpeg -i value
	SampleRate     int
	Channels       int
	AcquireTimeout time.Duration // how long to wait for the first frames
}

// FFmpegSource captures the microphone through an ffmpeg child process
// producing raw s16le PCM on stdout
type FFmpegSource struct {
	config FFmpegConfig
	logger *logger.Logger
}

// NewFFmpegSource creates a new ffmpeg capture source
func NewFFmpegSource(config FFmpegConfig, log *logger.Logger) *FFmpegSource {
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 10 * time.Second
	}
	return &FFmpegSource{
		config: config,
		logger: log.Named("ffmpeg-source").With(String("device", config.Device)),
	}
}

// Args returns the ffmpeg command line used for capture
func (s *FFmpegSource) Args() []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error", // Minimal logging
		"-fflags", "nobuffer", // Disable input buffering
		"-flags", "low_delay", // Enable low delay mode
		"-f", s.config.InputFormat, // Input device format
		"-i", s.config.Device, // Input device
		"-f", "s16le", // Raw PCM output
		"-acodec", "pcm_s16le", // Audio codec
		"-ac", fmt.Sprintf("%d", s.config.Channels), // Channels
		"-ar", fmt.Sprintf("%d", s.config.SampleRate), // Sample rate
		"-flush_packets", "1", // Flush packets immediately
		"pipe:1", // Output to stdout
	}
}

// Acquire starts ffmpeg and waits for the device to deliver audio
func (s *FFmpegSource) Acquire(ctx context.Context) (Stream, error) {
	format := Format{SampleRate: s.config.SampleRate, Channels: s.config.Channels}
	procCtx, procCancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(procCtx, s.config.FFmpegPath, s.Args()...)
	cmd.WaitDelay = 2 * time.Second
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		procCancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	s.logger.Info("Starting ffmpeg capture",
		String("path", s.config.FFmpegPath),
		String("input_format", s.config.InputFormat),
		Int("sample_rate", s.config.SampleRate),
		Int("channels", s.config.Channels))

	if err := cmd.Start(); err != nil {
		procCancel()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	stream := newCaptureStream(format, s.logger)
	var waitOnce sync.Once
	stream.release = func() error {
		procCancel()
		waitOnce.Do(func() { _ = cmd.Wait() })
		return nil
	}

	ready := make(chan struct{})
	go s.pump(stream, stdout, stderr, ready)

	timer := time.NewTimer(s.config.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		s.logger.Info("Microphone acquired")
		return stream, nil
	case <-stream.Done():
		stream.Release()
		return nil, classifyFFmpegFailure(stderr.String(), stream.Err())
	case <-timer.C:
		stream.Release()
		return nil, fmt.Errorf("%w: no audio within %s", ErrDeviceUnavailable, s.config.AcquireTimeout)
	case <-ctx.Done():
		stream.Release()
		return nil, ctx.Err()
	}
}

// pump copies ffmpeg output into the stream's taps until EOF or error
func (s *FFmpegSource) pump(stream *captureStream, stdout io.Reader, stderr *lockedBuffer, ready chan struct{}) {
	buffer := make([]byte, 4096)
	bytesProcessed := 0
	started := time.Now()
	lastLogTime := started

	for {
		n, err := stdout.Read(buffer)
		if n > 0 {
			if bytesProcessed == 0 {
				close(ready)
			}
			bytesProcessed += n

			if time.Since(lastLogTime) > 30*time.Second {
				s.logger.Debug("Capture progress",
					Int("bytes_processed", bytesProcessed),
					String("duration", time.Since(started).String()))
				lastLogTime = time.Now()
			}

			stream.Write(buffer[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				err = nil
			}
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("ffmpeg: %s", msg)
			}
			if err != nil {
				s.logger.Warn("Capture ended", Error(err), Int("total_bytes_processed", bytesProcessed))
			} else {
				s.logger.Debug("Capture ended", Int("total_bytes_processed", bytesProcessed))
			}
			stream.finish(err)
			return
		}
	}
}

// classifyFFmpegFailure maps ffmpeg's startup diagnostics onto the device errors
func classifyFFmpegFailure(stderr string, cause error) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	if msg == "" {
		msg = "capture process exited"
	}

	lower := strings.ToLower(msg)
	for _, marker := range []string{"permission denied", "operation not permitted", "not authorized", "access denied"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
}

// lockedBuffer collects stderr output written by the exec package's copier
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 8192 {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
