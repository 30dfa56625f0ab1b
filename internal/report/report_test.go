package report

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalizeEntity(t *testing.T) {
	out := NormalizeEntity(Entity{
		"name":  "  Alice ",
		"email": "Alice@Example.COM",
		"count": 3,
	})
	if out["name"] != "Alice" {
		t.Fatalf("expected trimmed name, got %q", out["name"])
	}
	if out["email"] != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", out["email"])
	}
	if out["count"] != 3 {
		t.Fatalf("expected non-string passthrough, got %v", out["count"])
	}
}

func TestSanitizeInput(t *testing.T) {
	out := SanitizeInput(Entity{"name": "Bob;--", "comment": "$DROP TABLE"})
	if out["name"] != "Bob" {
		t.Fatalf("expected injection tokens stripped, got %q", out["name"])
	}
	if out["comment"] != "DROP TABLE" {
		t.Fatalf("expected $ stripped, got %q", out["comment"])
	}
}

func TestIngestAssignsID(t *testing.T) {
	in := Ingest(Entity{"note": "water point damaged"})
	if in.ID == "" {
		t.Fatal("expected generated id")
	}
	if in.Record["_ingested"] != true {
		t.Fatal("expected record marked ingested")
	}

	byID := Ingest(Entity{"id": "r-42"})
	if byID.ID != "r-42" {
		t.Fatalf("expected payload id kept, got %q", byID.ID)
	}
}

func TestRiskScore(t *testing.T) {
	risk := RiskScore([]RiskEvent{
		{Severity: "high", Amount: 5000},
		{Severity: "low", Amount: 25000},
	})
	if math.Abs(risk.Score-0.75) > 1e-9 {
		t.Fatalf("expected score 0.75, got %v", risk.Score)
	}
	if risk.Band != "high" {
		t.Fatalf("expected band high, got %q", risk.Band)
	}
	if risk.Count != 2 {
		t.Fatalf("expected count 2, got %d", risk.Count)
	}

	if empty := RiskScore(nil); empty.Score != 0 || empty.Band != "low" {
		t.Fatalf("expected zero score low band for no events, got %+v", empty)
	}
}

func TestGeoStats(t *testing.T) {
	out := GeoStats([]Point{
		{Lat: 10.0, Lng: 20.0},
		{Lat: 12.5, Lng: 18.2},
		{Lat: math.NaN(), Lng: 1},
	})
	if out.Count != 2 {
		t.Fatalf("expected 2 valid points, got %d", out.Count)
	}
	if out.Bounds.MinLat != 10.0 || out.Bounds.MaxLat != 12.5 {
		t.Fatalf("unexpected lat bounds: %+v", out.Bounds)
	}
	if out.Bounds.MinLng != 18.2 || out.Bounds.MaxLng != 20.0 {
		t.Fatalf("unexpected lng bounds: %+v", out.Bounds)
	}

	if empty := GeoStats(nil); empty.Count != 0 || empty.Bounds != nil {
		t.Fatalf("expected empty summary, got %+v", empty)
	}
}

func TestSummarizeText(t *testing.T) {
	out := SummarizeText("Hello world. Additional context here.")
	if out.Summary != "Hello world" {
		t.Fatalf("expected first sentence, got %q", out.Summary)
	}
	if out.Length != 37 {
		t.Fatalf("expected length 37, got %d", out.Length)
	}

	if empty := SummarizeText(""); empty.Summary != "" || empty.Length != 0 {
		t.Fatalf("expected empty summary, got %+v", empty)
	}
}

func TestSummarizeTextMultiByte(t *testing.T) {
	// 120 two-byte runes: truncation must cut at 100 runes, not split one.
	long := strings.Repeat("é", 120)
	out := SummarizeText(long)
	if got := utf8.RuneCountInString(out.Summary); got != 100 {
		t.Fatalf("expected 100-rune summary, got %d runes", got)
	}
	if !utf8.ValidString(out.Summary) {
		t.Fatalf("summary is not valid UTF-8: %q", out.Summary)
	}
	if out.Length != 120 {
		t.Fatalf("expected length in runes (120), got %d", out.Length)
	}
}
