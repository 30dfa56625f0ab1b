package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veldt-labs/veldt-core/internal/bus"
	"github.com/veldt-labs/veldt-core/internal/capture"
	"github.com/veldt-labs/veldt-core/internal/config"
	"github.com/veldt-labs/veldt-core/internal/natsserver"
	"github.com/veldt-labs/veldt-core/internal/protocol"
	"github.com/veldt-labs/veldt-core/internal/report"
	"github.com/veldt-labs/veldt-core/internal/store"
	"github.com/veldt-labs/veldt-core/internal/syncq"
	"github.com/veldt-labs/veldt-core/internal/transport"
)

// Runtime owns the assembled capture-to-sync pipeline and its HTTP surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	queue    *syncq.Queue[protocol.SyncEnvelope]
	captures store.Store[capture.Record]
	reports  store.Store[report.Entity]
	busc     *bus.Client
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start assembles the pipeline and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	r.busc, err = bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer r.busc.Close()

	closeStores, err := r.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	var queueOpts []syncq.Option
	queueOpts = append(queueOpts, syncq.WithLogger(r.logger))
	if r.cfg.Sync.AttemptTimeoutMS > 0 {
		queueOpts = append(queueOpts,
			syncq.WithAttemptTimeout(time.Duration(r.cfg.Sync.AttemptTimeoutMS)*time.Millisecond))
	}
	r.queue = syncq.New[protocol.SyncEnvelope](queueOpts...)
	if err := registerPipelineGauges(r.queue); err != nil {
		r.logger.Warn("failed to register queue depth gauge", slog.String("error", err.Error()))
	}

	captureSvc := capture.NewService(ctx, r.cfg.Capture, r.busc, r.captures, r.queue, r.logger)
	if err := captureSvc.Start(); err != nil {
		return fmt.Errorf("start capture service: %w", err)
	}
	defer captureSvc.Close()

	publisher := transport.NewPublisher(r.busc, r.cfg.Sync.IngestSubject, r.logger)
	r.wg.Add(1)
	go r.runFlusher(ctx, publisher)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/status", r.handleStatus)
	mux.HandleFunc("/v1/reports", r.handleReport)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) openStores(ctx context.Context) (func(), error) {
	switch r.cfg.Store.Backend {
	case "memory":
		r.captures = store.NewMemory[capture.Record]()
		r.reports = store.NewMemory[report.Entity]()
		return func() {}, nil
	default:
		db, err := store.OpenDB(ctx, r.cfg.Store, r.logger)
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}
		r.captures = store.NewSQLite[capture.Record](db, "captures")
		r.reports = store.NewSQLite[report.Entity](db, "reports")
		return func() { _ = db.Close() }, nil
	}
}

// runFlusher is the external trigger for the passive queue: a periodic tick
// drives one delivery pass.
func (r *Runtime) runFlusher(ctx context.Context, publisher *transport.Publisher) {
	defer r.wg.Done()
	interval := time.Duration(r.cfg.Sync.FlushIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := r.queue.Flush(ctx, publisher.Handler())
			if res.Processed > 0 || res.Failed > 0 {
				r.logger.Info("sync pass finished",
					slog.Int("processed", res.Processed),
					slog.Int("failed", res.Failed),
					slog.Int("pending", r.queue.Len()))
			}
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busc.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	items := r.queue.Items()
	retrying := 0
	for _, item := range items {
		if item.Attempts > 0 {
			retrying++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bus_connected": r.busc.Healthy(),
		"queued":        len(items),
		"will_retry":    retrying,
	})
}

// handleReport is the offline report intake: normalize and sanitize the
// payload, persist it, and queue it for delivery.
func (r *Runtime) handleReport(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "POST only"})
		return
	}
	var payload report.Entity
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	ingested := report.Ingest(payload)
	saved, err := r.reports.Save(req.Context(), ingested.ID, ingested.Record)
	if err != nil {
		r.logger.Error("report save failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInsufficientStorage, map[string]any{"error": "storage failure"})
		return
	}

	data, err := json.Marshal(ingested.Record)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "encode failure"})
		return
	}
	item := r.queue.Enqueue(protocol.SyncEnvelope{
		Kind:       protocol.KindReport,
		RecordKey:  saved.Key,
		Payload:    data,
		CapturedAt: time.UnixMilli(saved.UpdatedAt).UTC(),
	}, 0)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "queued",
		"id":      ingested.ID,
		"item_id": item.ID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
