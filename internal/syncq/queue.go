// Package syncq buffers delivery payloads for an unreliable uplink and drives
// retry scheduling with capped exponential backoff. The queue is passive: an
// external trigger (timer tick, manual sync button) invokes Flush, and the
// caller's handler performs the actual delivery. Items leave the queue only
// when the handler succeeds or the caller cancels them; retries are otherwise
// unbounded, which is deliberate for devices that can stay offline for days.
//
// The three user-visible states derive from returned values alone: an item is
// "queued" once Enqueue returns, "synced" when a pass counts it in
// Result.Processed, and "will retry" while Items still reports it with
// Attempts > 0.
package syncq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Backoff schedule bounds, milliseconds.
const (
	backoffBaseMS = 1000
	backoffCapMS  = 60000
)

// Item is one buffered delivery. Attempts counts handler invocations so far;
// NextAttemptAt is the epoch-millisecond instant the item becomes due again.
type Item[T any] struct {
	ID            string `json:"id"`
	Payload       T      `json:"payload"`
	Attempts      int    `json:"attempts"`
	NextAttemptAt int64  `json:"next_attempt_at"`
}

// Handler delivers one payload. A nil return marks the item synced; a non-nil
// return is the explicit failure outcome that reschedules it.
type Handler[T any] func(ctx context.Context, payload T) error

// Result summarizes one flush pass.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type entry[T any] struct {
	item     Item[T]
	inflight bool
	done     bool
}

type settings struct {
	clock          func() time.Time
	attemptTimeout time.Duration
	log            *slog.Logger
}

// Option adjusts queue construction.
type Option func(*settings)

// WithClock injects a clock, used by tests and by callers that schedule
// against a frozen timeline.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) { s.clock = clock }
}

// WithAttemptTimeout bounds each handler invocation. A handler that does not
// complete within d is treated as a failed attempt. Zero disables the bound;
// the handler must then limit its own latency.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *settings) { s.attemptTimeout = d }
}

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(s *settings) { s.log = log }
}

// Queue is a FIFO-with-skip retry buffer. Each instance owns its item list
// exclusively; all bookkeeping happens under one mutex, and only the handler
// invocation runs outside it.
type Queue[T any] struct {
	mu             sync.Mutex
	entries        []*entry[T]
	clock          func() time.Time
	attemptTimeout time.Duration
	log            *slog.Logger

	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

// New creates an empty queue.
func New[T any](opts ...Option) *Queue[T] {
	s := settings{clock: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	q := &Queue[T]{
		clock:          s.clock,
		attemptTimeout: s.attemptTimeout,
		log:            s.log,
	}
	meter := otel.Meter("github.com/veldt-labs/veldt-core/internal/syncq")
	q.delivered, _ = meter.Int64Counter("veldt_sync_delivered_total",
		metric.WithDescription("Items delivered by flush passes"))
	q.failed, _ = meter.Int64Counter("veldt_sync_failed_total",
		metric.WithDescription("Failed delivery attempts"))
	return q
}

// Enqueue buffers payload and returns the created item. delay postpones the
// first attempt; zero makes the item immediately due.
func (q *Queue[T]) Enqueue(payload T, delay time.Duration) Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := Item[T]{
		ID:            uuid.NewString(),
		Payload:       payload,
		NextAttemptAt: q.clock().Add(delay).UnixMilli(),
	}
	q.entries = append(q.entries, &entry[T]{item: item})
	return item
}

// Flush runs one delivery pass at the current clock time.
func (q *Queue[T]) Flush(ctx context.Context, handler Handler[T]) Result {
	return q.FlushAt(ctx, q.clock(), handler)
}

// FlushAt runs one delivery pass as of now. Due items are attempted in
// enqueue order, sequentially; items claimed here are invisible to
// overlapping passes, so no payload is ever delivered twice concurrently.
// Failures are absorbed into backoff state
// (min(60s, 1s * 2^(attempts-1)) from the pass time), never surfaced as an
// error. Synced items are purged only after the whole pass resolves.
func (q *Queue[T]) FlushAt(ctx context.Context, now time.Time, handler Handler[T]) Result {
	nowMS := now.UnixMilli()

	q.mu.Lock()
	var due []*entry[T]
	for _, e := range q.entries {
		if e.done || e.inflight || e.item.NextAttemptAt > nowMS {
			continue
		}
		e.inflight = true
		due = append(due, e)
	}
	q.mu.Unlock()

	var res Result
	for _, e := range due {
		if ctx.Err() != nil {
			// Pass aborted: release unattempted items untouched.
			q.mu.Lock()
			e.inflight = false
			q.mu.Unlock()
			continue
		}

		q.mu.Lock()
		e.item.Attempts++
		attempts := e.item.Attempts
		payload := e.item.Payload
		id := e.item.ID
		q.mu.Unlock()

		err := q.attempt(ctx, handler, payload)

		q.mu.Lock()
		cancelled := e.done
		switch {
		case cancelled:
			// Cancelled mid-attempt: neither credited as synced nor
			// rescheduled, the purge below removes it.
		case err == nil:
			e.done = true
			res.Processed++
		default:
			e.item.NextAttemptAt = nowMS + backoffMS(attempts)
			res.Failed++
			if q.log != nil {
				q.log.Warn("delivery failed, rescheduled",
					slog.String("item_id", id),
					slog.Int("attempts", attempts),
					slog.Int64("next_attempt_at", e.item.NextAttemptAt),
					slog.String("error", err.Error()))
			}
		}
		e.inflight = false
		q.mu.Unlock()

		if cancelled {
			continue
		}
		if err == nil {
			q.delivered.Add(ctx, 1)
		} else {
			q.failed.Add(ctx, 1)
		}
	}

	q.purge()
	return res
}

func (q *Queue[T]) attempt(ctx context.Context, handler Handler[T], payload T) error {
	if q.attemptTimeout <= 0 {
		return handler(ctx, payload)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, q.attemptTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- handler(attemptCtx, payload) }()
	select {
	case err := <-errCh:
		return err
	case <-attemptCtx.Done():
		return attemptCtx.Err()
	}
}

// Cancel removes the item with the given id, reporting whether it was still
// queued. An inflight item is marked for purge once its attempt resolves.
func (q *Queue[T]) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.item.ID == id && !e.done {
			e.done = true
			return true
		}
	}
	return false
}

// Len reports the number of items still awaiting delivery.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if !e.done {
			n++
		}
	}
	return n
}

// Items returns a snapshot of pending items in queue order.
func (q *Queue[T]) Items() []Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]Item[T], 0, len(q.entries))
	for _, e := range q.entries {
		if !e.done {
			items = append(items, e.item)
		}
	}
	return items
}

func (q *Queue[T]) purge() {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.entries[:0]
	for _, e := range q.entries {
		if !e.done || e.inflight {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
}

// backoffMS computes the retry delay after the given attempt count:
// 1s, 2s, 4s, ... capped at 60s from the seventh attempt on.
func backoffMS(attempts int) int64 {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 7 {
		return backoffCapMS
	}
	d := int64(backoffBaseMS) << (attempts - 1)
	if d > backoffCapMS {
		return backoffCapMS
	}
	return d
}
