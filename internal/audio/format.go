package audio

import "time"

const pcmBytesPerSample = 2

// Format describes the raw PCM produced by a capture stream.
// Capture is always signed 16-bit little-endian interleaved.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the size of one interleaved frame
func (f Format) FrameBytes() int {
	return f.Channels * pcmBytesPerSample
}

// BytesPerSecond returns the PCM data rate
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameBytes()
}

// Duration returns the playback length of n PCM bytes
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// BytesFor returns the number of whole-frame PCM bytes covering d
func (f Format) BytesFor(d time.Duration) int {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * f.FrameBytes()
}

// Segment is one sealed span of captured audio, encoded as WAV.
// Segments are immutable once sealed.
type Segment struct {
	Data           []byte        // encoded WAV payload
	Format         Format        // format of the encoded audio
	Duration       time.Duration // playback length
	ContainsSpeech bool          // at least one speech sample was observed while open
	CapturedAt     time.Time     // when the segment was opened
	Sequence       int           // position within the session, assigned to submitted segments only
	SessionID      string
}
