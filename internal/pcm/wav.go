package pcm

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV reports a reader that is not a decodable RIFF/WAVE stream.
var ErrInvalidWAV = errors.New("pcm: invalid wav stream")

// ReadWAV decodes a WAV capture file and normalizes its PCM payload. Multi
// channel files are downmixed to mono by averaging. The file's own sample
// rate is used; callers wanting a different rate must resample upstream.
func ReadWAV(r io.ReadSeeker) (Audio, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Audio{}, ErrInvalidWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Audio{}, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 || bitDepth > 32 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	n := len(buf.Data) / channels
	frames := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		frames[i] = sum / float32(channels)
	}

	return finish(frames, int(dec.SampleRate)), nil
}
