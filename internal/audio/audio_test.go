package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/handsfree/internal/config"
	"github.com/yegors/handsfree/pkg/logger"
)

var testFormat = Format{SampleRate: 16000, Channels: 1}

// pcmConstant returns n samples of constant amplitude (normalized)
func pcmConstant(n int, amplitude float64) []byte {
	out := make([]byte, n*pcmBytesPerSample)
	v := int16(amplitude * 32767)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*pcmBytesPerSample:], uint16(v))
	}
	return out
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(nil))
	assert.Equal(t, 0.0, RMS([]byte{1}))
	assert.Equal(t, 0.0, RMS(pcmConstant(100, 0)))
	assert.InDelta(t, 0.5, RMS(pcmConstant(100, 0.5)), 0.001)
}

func TestThresholdsClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		rms  float64
		want Class
	}{
		{0, ClassSilence},
		{0.02, ClassSilence},
		{0.021, ClassAmbient},
		{0.05, ClassAmbient},
		{0.051, ClassSpeech},
		{0.9, ClassSpeech},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.rms), "rms=%v", tt.rms)
	}
	assert.Equal(t, "ambient", ClassAmbient.String())
}

func TestEnergyMonitorUsesLatestWindow(t *testing.T) {
	m := NewEnergyMonitor(testFormat, 100*time.Millisecond, DefaultThresholds())
	assert.Equal(t, ClassSilence, m.Sample().Class)

	// 100ms at 16kHz mono = 1600 samples
	m.Write(pcmConstant(1600, 0.3))
	assert.Equal(t, ClassSpeech, m.Sample().Class)

	m.Write(pcmConstant(1600, 0.03))
	s := m.Sample()
	assert.Equal(t, ClassAmbient, s.Class)
	assert.InDelta(t, 0.03, s.RMS, 0.001)

	m.Write(pcmConstant(800, 0))
	m.Write(pcmConstant(800, 0))
	assert.Equal(t, ClassSilence, m.Sample().Class)
}

func TestEnergyMonitorRealignsSplitSamples(t *testing.T) {
	m := NewEnergyMonitor(testFormat, 10*time.Millisecond, DefaultThresholds())
	data := pcmConstant(400, 0.3)
	m.Write(data[:1])
	m.Write(data[1:])
	assert.InDelta(t, 0.3, m.Sample().RMS, 0.001)
}

func TestRecorderSealReopensWithoutGap(t *testing.T) {
	r := NewRecorder(testFormat)
	_, err := r.Seal()
	assert.ErrorIs(t, err, ErrNoOpenSegment)

	r.Open()
	r.Write(pcmConstant(1600, 0.1))
	// odd byte split across the seal goes to the next segment
	r.Write([]byte{0x01})

	seg, err := r.Seal()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, seg.Duration)
	assert.Equal(t, wavHeaderSize+3200, len(seg.Data))
	assert.True(t, r.IsOpen())
	assert.Equal(t, 1, r.Buffered())

	r.Write([]byte{0x00})
	assert.Equal(t, 2, r.Buffered())
}

func TestRecorderBackToBackSeals(t *testing.T) {
	r := NewRecorder(testFormat)
	r.Open()
	r.Write(pcmConstant(160, 0.1))

	first, err := r.Seal()
	require.NoError(t, err)
	second, err := r.Seal()
	require.NoError(t, err)

	assert.Equal(t, wavHeaderSize+320, len(first.Data))
	assert.Equal(t, time.Duration(0), second.Duration)
	assert.Equal(t, wavHeaderSize, len(second.Data))
}

func TestRecorderDiscardAndClose(t *testing.T) {
	r := NewRecorder(testFormat)
	r.Write(pcmConstant(10, 0.1))
	assert.Equal(t, 0, r.Buffered(), "bytes before open are dropped")

	r.Open()
	r.Write(pcmConstant(10, 0.1))
	r.Discard(true)
	assert.True(t, r.IsOpen())
	assert.Equal(t, 0, r.Buffered())

	r.Write(pcmConstant(10, 0.1))
	seg, err := r.Close()
	require.NoError(t, err)
	assert.Equal(t, wavHeaderSize+20, len(seg.Data))
	assert.False(t, r.IsOpen())

	r.Discard(false)
	assert.False(t, r.IsOpen())
}

func TestWAVRoundTrip(t *testing.T) {
	pcm := pcmConstant(320, 0.25)
	data, err := EncodeWAV(pcm, testFormat)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	samples, format, err := DecodePCM(data)
	require.NoError(t, err)
	assert.Equal(t, testFormat, format)
	require.Len(t, samples, 320)
	assert.Equal(t, int16(binary.LittleEndian.Uint16(pcm[20:])), samples[10])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("boom") }

type countingWriter struct{ n int }

func (c *countingWriter) Write(p []byte) (int, error) { c.n += len(p); return len(p), nil }

func TestFanout(t *testing.T) {
	f := NewFanout(logger.NewNop())
	a, b := &countingWriter{}, &countingWriter{}
	f.Attach("a", a)
	f.Attach("b", b)
	f.Attach("bad", failingWriter{})

	n, err := f.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, a.n)
	assert.Equal(t, 4, b.n)
	assert.Equal(t, 2, f.Len(), "failing tap is detached")

	f.Detach("a")
	f.Write([]byte{1, 2})
	assert.Equal(t, 4, a.n)
	assert.Equal(t, 6, b.n)

	f.Close()
	f.Attach("c", &countingWriter{})
	assert.Equal(t, 0, f.Len())
}

func TestFormat(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 2}
	assert.Equal(t, 4, f.FrameBytes())
	assert.Equal(t, 64000, f.BytesPerSecond())
	assert.Equal(t, time.Second, f.Duration(64000))
	assert.Equal(t, 6400, f.BytesFor(100*time.Millisecond))
}

func TestNewSourceUnknownBackend(t *testing.T) {
	_, err := NewSource(config.AudioConfig{Backend: "jack"}, logger.NewNop())
	assert.Error(t, err)
	assert.Contains(t, Backends(), "ffmpeg")
}

var _ io.Writer = (*Recorder)(nil)
var _ io.Writer = (*EnergyMonitor)(nil)
