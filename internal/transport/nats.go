// Package transport adapts the NATS bus into a sync-queue delivery handler.
// The queue stays transport-agnostic; swapping the uplink means swapping this
// adapter.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/veldt-labs/veldt-core/internal/bus"
	"github.com/veldt-labs/veldt-core/internal/protocol"
	"github.com/veldt-labs/veldt-core/internal/syncq"
)

// Publisher delivers sync envelopes to the remote ingestion subject.
type Publisher struct {
	bus     *bus.Client
	subject string
	log     *slog.Logger
}

// NewPublisher creates a delivery adapter targeting subject.
func NewPublisher(busClient *bus.Client, subject string, log *slog.Logger) *Publisher {
	return &Publisher{
		bus:     busClient,
		subject: subject,
		log:     log.With(slog.String("component", "transport")),
	}
}

// Deliver publishes one envelope and waits for the ingestion endpoint's ack.
// Any transport or endpoint rejection is returned as the failure outcome the
// queue absorbs into backoff state.
func (p *Publisher) Deliver(ctx context.Context, env protocol.SyncEnvelope) error {
	if !p.bus.Healthy() {
		return fmt.Errorf("deliver %s: bus disconnected", env.RecordKey)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", env.RecordKey, err)
	}

	msg, err := p.bus.Conn().RequestWithContext(ctx, p.subject, data)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", env.RecordKey, err)
	}
	var ack struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		return fmt.Errorf("decode ack for %s: %w", env.RecordKey, err)
	}
	if ack.Status != "ok" {
		return fmt.Errorf("ingest rejected %s: %s", env.RecordKey, ack.Error)
	}

	p.notifyDelivered(env)
	return nil
}

// Handler exposes Deliver in the queue's handler shape.
func (p *Publisher) Handler() syncq.Handler[protocol.SyncEnvelope] {
	return p.Deliver
}

func (p *Publisher) notifyDelivered(env protocol.SyncEnvelope) {
	note, err := json.Marshal(struct {
		RecordKey   string    `json:"record_key"`
		Kind        string    `json:"kind"`
		DeliveredAt time.Time `json:"delivered_at"`
	}{env.RecordKey, env.Kind, time.Now().UTC()})
	if err != nil {
		return
	}
	if err := p.bus.Conn().Publish(protocol.SubjectSyncDelivered, note); err != nil {
		p.log.Warn("failed to publish delivery notice",
			slog.String("record_key", env.RecordKey),
			slog.String("error", err.Error()))
	}
}
