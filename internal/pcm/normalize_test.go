package pcm

import (
	"bytes"
	"math"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestFromInt16Scaling(t *testing.T) {
	out := FromInt16([]int16{-32768, 0, 32767}, 16000)
	if out.Frames[0] != -1.0 {
		t.Fatalf("expected -32768 to normalize to exactly -1.0, got %v", out.Frames[0])
	}
	if out.Frames[1] != 0 {
		t.Fatalf("expected 0 to stay 0, got %v", out.Frames[1])
	}
	if math.Abs(float64(out.Frames[2])-0.99997) > 1e-4 {
		t.Fatalf("expected 32767 to normalize to ~0.99997, got %v", out.Frames[2])
	}
}

func TestFromBytesLittleEndian(t *testing.T) {
	// 0x00 0x80 = -32768, 0xFF 0x7F = 32767
	out := FromBytes([]byte{0x00, 0x80, 0xFF, 0x7F}, 8000)
	if len(out.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(out.Frames))
	}
	if out.Frames[0] != -1.0 {
		t.Fatalf("expected first sample -1.0, got %v", out.Frames[0])
	}
	if out.Frames[1] <= 0.999 {
		t.Fatalf("expected second sample near 1.0, got %v", out.Frames[1])
	}
	if out.SampleRate != 8000 {
		t.Fatalf("expected declared rate trusted as-is, got %d", out.SampleRate)
	}
}

func TestFromBytesOddTrailingByte(t *testing.T) {
	out := FromBytes([]byte{0x00, 0x00, 0x7F}, 16000)
	if len(out.Frames) != 1 {
		t.Fatalf("expected trailing byte dropped, got %d frames", len(out.Frames))
	}
}

func TestNormalizeEmptyInputs(t *testing.T) {
	for name, input := range map[string]any{
		"float32": []float32{},
		"int16":   []int16{},
		"bytes":   []byte{},
	} {
		out := Normalize(input, 16000)
		if out.DurationMS != 0 {
			t.Fatalf("%s: expected duration 0, got %d", name, out.DurationMS)
		}
		if len(out.Frames) != 0 {
			t.Fatalf("%s: expected zero-length frames, got %d", name, len(out.Frames))
		}
	}
}

func TestNormalizeUnsupportedShapeDegrades(t *testing.T) {
	out := Normalize("not audio", 44100)
	if out.DurationMS != 0 || len(out.Frames) != 0 {
		t.Fatalf("expected empty audio for unsupported shape, got %+v", out)
	}
	if out.SampleRate != 44100 {
		t.Fatalf("expected rate hint preserved, got %d", out.SampleRate)
	}
}

func TestDefaultSampleRate(t *testing.T) {
	out := FromInt16(make([]int16, 16000), 0)
	if out.SampleRate != DefaultSampleRate {
		t.Fatalf("expected default rate 16000, got %d", out.SampleRate)
	}
	if out.DurationMS != 1000 {
		t.Fatalf("expected 1000ms for 16000 frames at 16kHz, got %d", out.DurationMS)
	}
}

func TestDurationRounding(t *testing.T) {
	// 8008 frames at 16kHz = 500.5ms, rounds to 501.
	out := FromFloat32(make([]float32, 8008), 16000)
	if out.DurationMS != 501 {
		t.Fatalf("expected 501ms, got %d", out.DurationMS)
	}
}

func TestNormalizeCopiesFloatInput(t *testing.T) {
	src := []float32{0.5, -0.5}
	out := FromFloat32(src, 16000)
	src[0] = 0
	if out.Frames[0] != 0.5 {
		t.Fatal("expected normalized frames independent of caller slice")
	}
}

func TestReadWAV(t *testing.T) {
	var buf seekableBuffer
	enc := wav.NewEncoder(&buf, 16000, 16, 1, 1)
	pcmBuf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, 1600),
		SourceBitDepth: 16,
	}
	for i := range pcmBuf.Data {
		pcmBuf.Data[i] = 8192
	}
	if err := enc.Write(pcmBuf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}

	out, err := ReadWAV(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Fatalf("expected 16kHz, got %d", out.SampleRate)
	}
	if len(out.Frames) != 1600 {
		t.Fatalf("expected 1600 frames, got %d", len(out.Frames))
	}
	if out.DurationMS != 100 {
		t.Fatalf("expected 100ms, got %d", out.DurationMS)
	}
	if math.Abs(float64(out.Frames[0])-0.25) > 1e-3 {
		t.Fatalf("expected sample ~0.25, got %v", out.Frames[0])
	}
}

func TestReadWAVInvalid(t *testing.T) {
	if _, err := ReadWAV(bytes.NewReader([]byte("definitely not riff"))); err == nil {
		t.Fatal("expected error for non-wav stream")
	}
}

// seekableBuffer adapts bytes.Buffer to the io.WriteSeeker the wav encoder
// needs (it rewrites the RIFF header on Close).
type seekableBuffer struct {
	data []byte
	pos  int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if b.pos+len(p) > len(b.data) {
		grown := make([]byte, b.pos+len(p))
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		b.pos = int(offset)
	case 1:
		b.pos += int(offset)
	case 2:
		b.pos = len(b.data) + int(offset)
	}
	return int64(b.pos), nil
}

func (b *seekableBuffer) Bytes() []byte { return b.data }
