package pcm

import (
	"encoding/binary"
	"math"
)

// DefaultSampleRate is assumed when a caller provides no rate hint.
const DefaultSampleRate = 16000

// Audio is the canonical normalized form every capture source is reduced to:
// mono float frames in [-1, 1] plus the rate they were captured at. Immutable
// once produced; Normalize always returns freshly allocated frames.
type Audio struct {
	SampleRate int       `json:"sample_rate"`
	DurationMS int       `json:"duration_ms"`
	Frames     []float32 `json:"frames"`
}

// Normalize converts any supported raw input into canonical Audio.
//
// Supported shapes: []float32 (already normalized, copied through), []int16
// (fixed-point, scaled by 1/32768) and []byte (reinterpreted as little-endian
// 16-bit signed PCM). The declared sample rate is trusted as-is; no sniffing,
// no resampling. Unsupported shapes degrade to empty Audio rather than
// failing, so a bad recorder payload produces a zero-duration capture instead
// of halting the pipeline.
func Normalize(input any, sampleRate int) Audio {
	switch src := input.(type) {
	case []float32:
		return FromFloat32(src, sampleRate)
	case []int16:
		return FromInt16(src, sampleRate)
	case []byte:
		return FromBytes(src, sampleRate)
	default:
		return finish(nil, sampleRate)
	}
}

// FromFloat32 copies already-normalized frames into canonical Audio.
func FromFloat32(frames []float32, sampleRate int) Audio {
	out := make([]float32, len(frames))
	copy(out, frames)
	return finish(out, sampleRate)
}

// FromInt16 scales fixed-point 16-bit samples into [-1, 1].
func FromInt16(samples []int16, sampleRate int) Audio {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return finish(out, sampleRate)
}

// FromBytes reinterprets a raw buffer as little-endian 16-bit signed PCM. A
// trailing odd byte is dropped.
func FromBytes(data []byte, sampleRate int) Audio {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(s) / 32768
	}
	return finish(out, sampleRate)
}

func finish(frames []float32, sampleRate int) Audio {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if frames == nil {
		frames = []float32{}
	}
	return Audio{
		SampleRate: sampleRate,
		DurationMS: DurationMS(len(frames), sampleRate),
		Frames:     frames,
	}
}

// DurationMS derives the millisecond duration of frameCount samples at rate.
func DurationMS(frameCount, sampleRate int) int {
	if frameCount == 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Round(float64(frameCount) / float64(sampleRate) * 1000))
}
