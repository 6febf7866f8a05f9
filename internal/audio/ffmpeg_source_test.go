package audio

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/handsfree/pkg/logger"
)

// fakeFFmpeg writes an executable shell script standing in for ffmpeg
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts required")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestSource(path string) *FFmpegSource {
	return NewFFmpegSource(FFmpegConfig{
		FFmpegPath:     path,
		InputFormat:    "pulse",
		Device:         "default",
		SampleRate:     16000,
		Channels:       1,
		AcquireTimeout: 3 * time.Second,
	}, logger.NewNop())
}

func TestFFmpegArgs(t *testing.T) {
	s := newTestSource("ffmpeg")
	args := s.Args()
	assert.Contains(t, args, "pulse")
	assert.Contains(t, args, "s16le")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestFFmpegAcquireStreamsToTaps(t *testing.T) {
	path := fakeFFmpeg(t, "head -c 6400 /dev/zero\nexec sleep 30")
	s := newTestSource(path)

	stream, err := s.Acquire(context.Background())
	require.NoError(t, err)

	rec := NewRecorder(stream.Format())
	rec.Open()
	stream.Attach("recorder", rec)

	require.NoError(t, stream.Release())
	require.NoError(t, stream.Release())

	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream not done after release")
	}
	assert.NoError(t, stream.Err())
}

func TestFFmpegAcquirePermissionDenied(t *testing.T) {
	path := fakeFFmpeg(t, "echo 'default: Permission denied' >&2\nexit 1")
	_, err := newTestSource(path).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestFFmpegAcquireDeviceUnavailable(t *testing.T) {
	path := fakeFFmpeg(t, "echo 'default: No such device' >&2\nexit 1")
	_, err := newTestSource(path).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = newTestSource(filepath.Join(t.TempDir(), "missing")).Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestFFmpegAcquireTimeout(t *testing.T) {
	path := fakeFFmpeg(t, "exec sleep 30")
	s := newTestSource(path)
	s.config.AcquireTimeout = 100 * time.Millisecond

	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestClassifyFFmpegFailure(t *testing.T) {
	assert.ErrorIs(t, classifyFFmpegFailure("Operation not permitted", nil), ErrPermissionDenied)
	assert.ErrorIs(t, classifyFFmpegFailure("", nil), ErrDeviceUnavailable)
	assert.ErrorIs(t, classifyFFmpegFailure("Device or resource busy", nil), ErrDeviceUnavailable)
}
