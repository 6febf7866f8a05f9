package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

const pcmMaxAmplitude = 32768.0

// Class is the energy classification of one analysed window
type Class int

const (
	ClassSilence Class = iota
	ClassAmbient
	ClassSpeech
)

// String returns a human-readable representation of the class
func (c Class) String() string {
	switch c {
	case ClassSilence:
		return "silence"
	case ClassAmbient:
		return "ambient"
	case ClassSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// Thresholds are the RMS boundaries between classes
type Thresholds struct {
	Speech  float64 // RMS above this is speech
	Silence float64 // RMS above this (and not speech) is ambient
}

// DefaultThresholds returns the reference thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{Speech: 0.05, Silence: 0.02}
}

// Classify maps an RMS value onto a class
func (t Thresholds) Classify(rms float64) Class {
	switch {
	case rms > t.Speech:
		return ClassSpeech
	case rms > t.Silence:
		return ClassAmbient
	default:
		return ClassSilence
	}
}

// EnergySample is the result of one polling tick
type EnergySample struct {
	RMS   float64
	Class Class
}

// RMS computes the root mean square of normalized 16-bit little-endian samples
func RMS(pcm []byte) float64 {
	numSamples := len(pcm) / pcmBytesPerSample
	if numSamples == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i < numSamples; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*pcmBytesPerSample:]))
		normalized := float64(sample) / pcmMaxAmplitude
		sumSquares += normalized * normalized
	}

	return math.Sqrt(sumSquares / float64(numSamples))
}

// EnergyMonitor keeps the most recent window of captured audio and
// classifies it on demand. It is a stream tap and holds no state between
// samples besides the window itself.
type EnergyMonitor struct {
	mu         sync.Mutex
	window     []byte
	size       int
	written    int64
	thresholds Thresholds
}

// NewEnergyMonitor creates a monitor analysing the last window of audio
func NewEnergyMonitor(format Format, window time.Duration, thresholds Thresholds) *EnergyMonitor {
	size := format.BytesFor(window)
	if size < pcmBytesPerSample {
		size = pcmBytesPerSample
	}
	return &EnergyMonitor{
		window:     make([]byte, 0, size),
		size:       size,
		thresholds: thresholds,
	}
}

// Write appends captured bytes, keeping only the latest window
func (m *EnergyMonitor) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.written += int64(len(p))
	if len(p) >= m.size {
		m.window = append(m.window[:0], p[len(p)-m.size:]...)
		return len(p), nil
	}
	if overflow := len(m.window) + len(p) - m.size; overflow > 0 {
		m.window = append(m.window[:0], m.window[overflow:]...)
	}
	m.window = append(m.window, p...)
	return len(p), nil
}

// Sample classifies the current window
func (m *EnergyMonitor) Sample() EnergySample {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Reads may split a sample; realign on the absolute stream offset
	start := 0
	if (m.written-int64(len(m.window)))%pcmBytesPerSample != 0 {
		start = 1
	}
	rms := 0.0
	if start < len(m.window) {
		rms = RMS(m.window[start:])
	}
	return EnergySample{RMS: rms, Class: m.thresholds.Classify(rms)}
}
