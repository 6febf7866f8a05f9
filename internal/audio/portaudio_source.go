//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/pkg/logger"
)

func init() {
	RegisterBackend("portaudio", func(cfg config.AudioConfig, log *logger.Logger) (Source, error) {
		return NewPortAudioSource(cfg.SampleRate, cfg.Channels, log), nil
	})
}

// PortAudioSource captures the default input device through PortAudio
type PortAudioSource struct {
	sampleRate int
	channels   int
	logger     *logger.Logger
}

// NewPortAudioSource creates a capture source for the default input device
func NewPortAudioSource(sampleRate, channels int, log *logger.Logger) *PortAudioSource {
	return &PortAudioSource{
		sampleRate: sampleRate,
		channels:   channels,
		logger:     log.Named("portaudio-source"),
	}
}

// Acquire opens and starts the default input stream
func (s *PortAudioSource) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio init failed: %v", ErrDeviceUnavailable, err)
	}

	in := make([]int16, 1024*s.channels)
	pa, err := portaudio.OpenDefaultStream(s.channels, 0, float64(s.sampleRate), len(in)/s.channels, in)
	if err != nil {
		portaudio.Terminate()
		return nil, classifyPortAudioFailure(err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		portaudio.Terminate()
		return nil, classifyPortAudioFailure(err)
	}

	s.logger.Info("Microphone acquired",
		Int("sample_rate", s.sampleRate),
		Int("channels", s.channels))

	stream := newCaptureStream(Format{SampleRate: s.sampleRate, Channels: s.channels}, s.logger)
	stopCh := make(chan struct{})
	var wg sync.WaitGroup
	stream.release = func() error {
		close(stopCh)
		err := pa.Stop()
		wg.Wait()
		pa.Close()
		portaudio.Terminate()
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		out := make([]byte, len(in)*pcmBytesPerSample)
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			if err := pa.Read(); err != nil {
				select {
				case <-stopCh:
					return
				default:
				}
				s.logger.Warn("Stream read error", Error(err))
				if err != portaudio.InputOverflowed {
					stream.finish(err)
					return
				}
				continue
			}
			for i, v := range in {
				binary.LittleEndian.PutUint16(out[i*pcmBytesPerSample:], uint16(v))
			}
			stream.Write(out)
		}
	}()

	return stream, nil
}

func classifyPortAudioFailure(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
