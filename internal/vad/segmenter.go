// Package vad partitions normalized audio frames into speech and non-speech
// time ranges using short-time energy. It is intentionally model-free: a
// deterministic classifier that behaves identically on-device and in tests.
// A model-backed replacement only has to preserve the Segment signature.
package vad

import "math"

// Defaults tuned for normalized mono capture audio.
const (
	DefaultWindowMS   = 30
	DefaultThreshold  = 0.02
	DefaultConfidence = 0.6
)

// Segment is a half-open speech range in capture time. StartMS < EndMS and
// consecutive segments from one pass never overlap.
type Segment struct {
	StartMS    int     `json:"start_ms"`
	EndMS      int     `json:"end_ms"`
	Confidence float64 `json:"confidence"`
}

// Segmenter classifies fixed non-overlapping windows by mean absolute
// amplitude. Zero values fall back to the package defaults, so Segmenter{}
// is ready to use.
type Segmenter struct {
	WindowMS   int
	Threshold  float64
	Confidence float64
}

// Segment runs the two-state speech/silence machine over frames. Output
// depends only on (frames, sampleRate); the segmenter keeps no state between
// calls. A trailing partial window is classified over its own samples, and a
// segment still open at end of input is closed at the final frame.
func (s Segmenter) Segment(frames []float32, sampleRate int) []Segment {
	windowMS := s.WindowMS
	if windowMS <= 0 {
		windowMS = DefaultWindowMS
	}
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	confidence := s.Confidence
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	if sampleRate <= 0 || len(frames) == 0 {
		return nil
	}

	windowSize := int(math.Round(float64(windowMS) / 1000 * float64(sampleRate)))
	if windowSize <= 0 {
		windowSize = 1
	}

	var (
		segments []Segment
		inSpeech bool
		startMS  int
	)
	for offset := 0; offset < len(frames); offset += windowSize {
		end := offset + windowSize
		if end > len(frames) {
			end = len(frames)
		}
		speech := meanAbs(frames[offset:end]) > threshold
		offsetMS := sampleOffsetMS(offset, sampleRate)

		switch {
		case speech && !inSpeech:
			inSpeech = true
			startMS = offsetMS
		case !speech && inSpeech:
			inSpeech = false
			if offsetMS > startMS {
				segments = append(segments, Segment{StartMS: startMS, EndMS: offsetMS, Confidence: confidence})
			}
		}
	}
	if inSpeech {
		// A speech tail only a few samples long can round start and end to
		// the same millisecond; such a zero-width range is dropped.
		if endMS := sampleOffsetMS(len(frames), sampleRate); endMS > startMS {
			segments = append(segments, Segment{StartMS: startMS, EndMS: endMS, Confidence: confidence})
		}
	}
	return segments
}

// SegmentFrames runs a default-configured segmenter.
func SegmentFrames(frames []float32, sampleRate int) []Segment {
	return Segmenter{}.Segment(frames, sampleRate)
}

func meanAbs(window []float32) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, f := range window {
		sum += math.Abs(float64(f))
	}
	return sum / float64(len(window))
}

func sampleOffsetMS(offset, sampleRate int) int {
	return int(math.Round(float64(offset) / float64(sampleRate) * 1000))
}
