package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/veldt-labs/veldt-core/internal/config"
)

func TestSetupTelemetryDefaults(t *testing.T) {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, handler, err := setupTelemetry(cfg, logger)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if handler == nil {
		t.Fatal("expected a metrics handler from the prometheus exporter")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

type fixedDepth int

func (d fixedDepth) Len() int { return int(d) }

func TestRegisterPipelineGauges(t *testing.T) {
	if err := registerPipelineGauges(fixedDepth(3)); err != nil {
		t.Fatalf("gauge registration failed: %v", err)
	}
}
