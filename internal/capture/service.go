// Package capture glues the pipeline together: raw audio frames come in off
// the bus, get normalized and segmented, and leave as a persisted capture
// record plus a sync envelope awaiting delivery.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/veldt-labs/veldt-core/internal/bus"
	"github.com/veldt-labs/veldt-core/internal/config"
	"github.com/veldt-labs/veldt-core/internal/pcm"
	"github.com/veldt-labs/veldt-core/internal/protocol"
	"github.com/veldt-labs/veldt-core/internal/store"
	"github.com/veldt-labs/veldt-core/internal/syncq"
	"github.com/veldt-labs/veldt-core/internal/vad"
)

// Record is the persisted metadata for one capture session.
type Record struct {
	SessionID  string        `json:"session_id"`
	SampleRate int           `json:"sample_rate"`
	DurationMS int           `json:"duration_ms"`
	Segments   []vad.Segment `json:"segments"`
	CapturedAt time.Time     `json:"captured_at"`
}

// Service buffers PCM per session and finalizes each session into the store
// and the sync queue.
type Service struct {
	cfg       config.CaptureConfig
	bus       *bus.Client
	records   store.Store[Record]
	queue     *syncq.Queue[protocol.SyncEnvelope]
	segmenter vad.Segmenter
	log       *slog.Logger
	clock     func() time.Time

	sessions map[string]*sessionState
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	wg       sync.WaitGroup
	ready    bool

	captured metric.Int64Counter
}

type sessionState struct {
	Buffer     []byte
	SampleRate int
	Dropped    bool
}

// NewService wires the pipeline. The bus client may be nil for callers that
// only use Process directly (tests, the one-shot CLI).
func NewService(parent context.Context, cfg config.CaptureConfig, busClient *bus.Client, records store.Store[Record], queue *syncq.Queue[protocol.SyncEnvelope], log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:     cfg,
		bus:     busClient,
		records: records,
		queue:   queue,
		segmenter: vad.Segmenter{
			WindowMS:  cfg.WindowMS,
			Threshold: cfg.EnergyLevel,
		},
		log:      log.With(slog.String("component", "capture")),
		clock:    time.Now,
		sessions: make(map[string]*sessionState),
		ctx:      ctx,
		cancel:   cancel,
	}
	meter := otel.Meter("github.com/veldt-labs/veldt-core/internal/capture")
	s.captured, _ = meter.Int64Counter("veldt_capture_sessions_total",
		metric.WithDescription("Capture sessions finalized"))
	return s
}

// Start subscribes to the audio frame subject.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

// Close drains the subscription and waits for in-flight finalizations.
func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{SampleRate: frame.SampleRate}
		s.sessions[frame.SessionID] = state
	}
	if s.cfg.SessionBuffer > 0 && len(state.Buffer)+len(frame.PCM) > s.cfg.SessionBuffer {
		if !state.Dropped {
			s.log.Warn("session buffer full, dropping audio",
				slog.String("session_id", frame.SessionID))
			state.Dropped = true
		}
	} else {
		state.Buffer = append(state.Buffer, frame.PCM...)
	}
	final := frame.Final
	var pcmBytes []byte
	var rate int
	if final {
		pcmBytes = state.Buffer
		rate = state.SampleRate
		delete(s.sessions, frame.SessionID)
	}
	s.mu.Unlock()

	if !final {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()
		result, err := s.Process(ctx, frame.SessionID, pcmBytes, rate)
		if err != nil {
			s.log.Warn("capture finalize failed",
				slog.String("session_id", frame.SessionID),
				slog.String("error", err.Error()))
			return
		}
		s.publishResult(result)
	}()
}

// Process normalizes and segments one session's PCM, persists the capture
// record and enqueues its sync envelope. Exposed so non-bus callers can run
// the same pipeline on already-buffered audio.
func (s *Service) Process(ctx context.Context, sessionID string, pcmBytes []byte, sampleRate int) (protocol.CaptureResult, error) {
	if sampleRate <= 0 {
		sampleRate = s.cfg.SampleRate
	}
	audio := pcm.FromBytes(pcmBytes, sampleRate)
	segments := s.segmenter.Segment(audio.Frames, audio.SampleRate)
	if s.cfg.MinSpeechMS > 0 {
		segments = dropShort(segments, s.cfg.MinSpeechMS)
	}

	rec := Record{
		SessionID:  sessionID,
		SampleRate: audio.SampleRate,
		DurationMS: audio.DurationMS,
		Segments:   segments,
		CapturedAt: s.clock().UTC(),
	}
	saved, err := s.records.Save(ctx, sessionID, rec)
	if err != nil {
		return protocol.CaptureResult{}, fmt.Errorf("persist capture record: %w", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return protocol.CaptureResult{}, fmt.Errorf("encode sync payload: %w", err)
	}
	s.queue.Enqueue(protocol.SyncEnvelope{
		Kind:       protocol.KindCapture,
		RecordKey:  saved.Key,
		Payload:    payload,
		CapturedAt: rec.CapturedAt,
	}, 0)

	s.captured.Add(ctx, 1)
	s.log.Info("capture session finalized",
		slog.String("session_id", sessionID),
		slog.Int("duration_ms", audio.DurationMS),
		slog.Int("segments", len(segments)))

	return protocol.CaptureResult{
		SessionID:  sessionID,
		RecordKey:  saved.Key,
		DurationMS: audio.DurationMS,
		Segments:   segments,
		CapturedAt: rec.CapturedAt,
	}, nil
}

func (s *Service) publishResult(result protocol.CaptureResult) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		s.log.Warn("failed to marshal capture result", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectCaptureResult, data); err != nil {
		s.log.Warn("failed to publish capture result", slog.String("error", err.Error()))
	}
}

func dropShort(segments []vad.Segment, minMS int) []vad.Segment {
	kept := segments[:0]
	for _, seg := range segments {
		if seg.EndMS-seg.StartMS >= minMS {
			kept = append(kept, seg)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
