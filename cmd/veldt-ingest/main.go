// veldt-ingest runs the capture pipeline over a WAV file from disk: useful
// for backfilling recordings made while the daemon was not running.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/veldt-labs/veldt-core/internal/capture"
	"github.com/veldt-labs/veldt-core/internal/config"
	"github.com/veldt-labs/veldt-core/internal/pcm"
	"github.com/veldt-labs/veldt-core/internal/store"
	"github.com/veldt-labs/veldt-core/internal/vad"
)

var version = "0.1.0-dev"

func main() {
	var (
		wavPath   string
		sessionID string
		dbPath    string
	)
	segmentCmd := flag.NewFlagSet("segment", flag.ExitOnError)
	segmentCmd.StringVar(&wavPath, "file", "", "Path to WAV recording")
	segmentCmd.StringVar(&sessionID, "session", "", "Session id (default: file name)")
	segmentCmd.StringVar(&dbPath, "db", "", "Record database to persist into (optional)")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'segment' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "segment":
		segmentCmd.Parse(os.Args[2:])
		if err := runSegment(wavPath, sessionID, dbPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runSegment(wavPath, sessionID, dbPath string) error {
	if wavPath == "" {
		return fmt.Errorf("-file is required")
	}
	if sessionID == "" {
		base := filepath.Base(wavPath)
		sessionID = base[:len(base)-len(filepath.Ext(base))]
	}

	f, err := os.Open(wavPath)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	audio, err := pcm.ReadWAV(f)
	if err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	segments := vad.SegmentFrames(audio.Frames, audio.SampleRate)

	rec := capture.Record{
		SessionID:  sessionID,
		SampleRate: audio.SampleRate,
		DurationMS: audio.DurationMS,
		Segments:   segments,
		CapturedAt: time.Now().UTC(),
	}

	if dbPath != "" {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx := context.Background()
		db, err := store.OpenDB(ctx, config.StoreConfig{Path: dbPath}, logger)
		if err != nil {
			return fmt.Errorf("open record db: %w", err)
		}
		defer db.Close()
		if _, err := store.NewSQLite[capture.Record](db, "captures").Save(ctx, sessionID, rec); err != nil {
			return fmt.Errorf("persist record: %w", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
