package transcription

import (
	"fmt"

	"github.com/yegors/handsfree/internal/audio"
	"github.com/zeozeozeo/gomplerate"
)

// whisperSampleRate is the input rate local whisper models expect
const whisperSampleRate = 16000

// SegmentToFloat32 decodes a WAV segment into 16 kHz mono float32 samples
func SegmentToFloat32(seg audio.Segment) ([]float32, error) {
	samples, format, err := audio.DecodePCM(seg.Data)
	if err != nil {
		return nil, err
	}
	if format.Channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", format.Channels)
	}

	mono := toMono(samples, format.Channels)
	mono, err = resampleInt16(mono, format.SampleRate, whisperSampleRate)
	if err != nil {
		return nil, err
	}
	return int16ToFloat32(mono), nil
}

// toMono averages interleaved channels
func toMono(samples []int16, channels int) []int16 {
	if channels == 1 {
		return samples
	}

	mono := make([]int16, len(samples)/channels)
	for i := 0; i < len(mono); i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

func resampleInt16(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate == toRate {
		return samples, nil
	}
	resampler, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	return resampler.ResampleInt16(samples), nil
}

// int16ToFloat32 normalizes samples to [-1, 1]
func int16ToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for i, s := range samples {
		result[i] = float32(s) / 32768.0
	}
	return result
}
