package protocol

import (
	"encoding/json"
	"time"

	"github.com/veldt-labs/veldt-core/internal/vad"
)

// AudioFrame carries raw PCM streamed from a capture device. PCM is
// little-endian 16-bit signed mono at SampleRate.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// CaptureResult summarizes one finished capture session.
type CaptureResult struct {
	SessionID  string        `json:"session_id"`
	RecordKey  string        `json:"record_key"`
	DurationMS int           `json:"duration_ms"`
	Segments   []vad.Segment `json:"segments"`
	CapturedAt time.Time     `json:"captured_at"`
}

// SyncEnvelope is the unit of delivery to the remote ingestion endpoint.
// Payload stays opaque to the queue and transport.
type SyncEnvelope struct {
	Kind       string          `json:"kind"`
	RecordKey  string          `json:"record_key"`
	Payload    json.RawMessage `json:"payload"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Envelope kinds.
const (
	KindCapture = "capture"
	KindReport  = "report"
)

const (
	SubjectAudioFramePrefix = "capture.audio.frame"
	SubjectCaptureResult    = "capture.result"
	SubjectSyncDelivered    = "sync.delivered"
)
