// Package report carries the field-report ingest helpers: entity
// normalization, input sanitation, risk scoring, geospatial bounds and naive
// summarization. Routes and services call these instead of re-implementing
// the logic inline.
package report

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Entity is a loosely-typed report attribute map, as captured in the field.
type Entity map[string]any

// NormalizeEntity canonicalizes common entity fields: string values are
// trimmed and emails lowercased. Idempotent; non-string values pass through.
func NormalizeEntity(entity Entity) Entity {
	out := make(Entity, len(entity))
	for k, v := range entity {
		if s, ok := v.(string); ok {
			out[k] = strings.TrimSpace(s)
		} else {
			out[k] = v
		}
	}
	if email, ok := out["email"].(string); ok {
		out["email"] = strings.ToLower(email)
	}
	return out
}

// SanitizeInput strips trivial injection tokens from string fields. Not a
// security boundary: the storage layer still uses parameterized queries.
func SanitizeInput(payload Entity) Entity {
	cleaned := make(Entity, len(payload))
	replacer := strings.NewReplacer("$", "", ";", "", "--", "")
	for k, v := range payload {
		if s, ok := v.(string); ok {
			cleaned[k] = replacer.Replace(s)
		} else {
			cleaned[k] = v
		}
	}
	return cleaned
}

// Ingested is the result of running a raw report payload through ingest.
type Ingested struct {
	ID     string `json:"id"`
	Record Entity `json:"record"`
}

// Ingest sanitizes and normalizes a raw report payload, assigns an ID when
// the payload carries none, and marks the record as ingested.
func Ingest(payload Entity) Ingested {
	record := NormalizeEntity(SanitizeInput(payload))
	record["_ingested"] = true

	id, _ := record["id"].(string)
	if id == "" {
		id, _ = record["uuid"].(string)
	}
	if id == "" {
		id = uuid.NewString()
		record["id"] = id
	}
	return Ingested{ID: id, Record: record}
}

// RiskEvent is one contributing event for risk scoring.
type RiskEvent struct {
	Severity string  `json:"severity"`
	Amount   float64 `json:"amount"`
}

// Risk is the aggregate scoring outcome.
type Risk struct {
	Score float64 `json:"score"`
	Band  string  `json:"band"`
	Count int     `json:"count"`
}

// RiskScore computes an additive risk score over events, normalized to 0..1
// and mapped to a low/medium/high band. High and critical severities add 0.5,
// medium adds 0.25, and the amount feature adds up to 0.5 per event.
func RiskScore(events []RiskEvent) Risk {
	var total float64
	for _, e := range events {
		switch strings.ToLower(e.Severity) {
		case "high", "critical":
			total += 0.5
		case "medium":
			total += 0.25
		}
		total += math.Min(0.5, e.Amount/10000)
	}

	score := 0.0
	if len(events) > 0 {
		score = math.Min(1.0, total/float64(len(events)))
	}
	band := "low"
	switch {
	case score >= 0.66:
		band = "high"
	case score >= 0.33:
		band = "medium"
	}
	return Risk{Score: score, Band: band, Count: len(events)}
}

// Point is a geotagged record location.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is a lat/lng bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// GeoSummary aggregates the spatial extent of a record set.
type GeoSummary struct {
	Count  int     `json:"count"`
	Bounds *Bounds `json:"bounds,omitempty"`
}

// GeoStats computes bounds and count over points. NaN coordinates are
// skipped; an empty or fully-invalid set yields Count 0 and no bounds.
func GeoStats(points []Point) GeoSummary {
	b := Bounds{
		MinLat: math.Inf(1), MinLng: math.Inf(1),
		MaxLat: math.Inf(-1), MaxLng: math.Inf(-1),
	}
	count := 0
	for _, p := range points {
		if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
			continue
		}
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLng = math.Min(b.MinLng, p.Lng)
		b.MaxLng = math.Max(b.MaxLng, p.Lng)
		count++
	}
	if count == 0 {
		return GeoSummary{}
	}
	return GeoSummary{Count: count, Bounds: &b}
}

// Summary is the naive summarization result.
type Summary struct {
	Summary string `json:"summary"`
	Length  int    `json:"length"`
}

// SummarizeText takes the first sentence truncated to 100 characters. A
// placeholder strategy with a stable interface; an abstractive model can
// replace it without touching callers.
func SummarizeText(text string) Summary {
	summary := strings.SplitN(text, ".", 2)[0]
	if runes := []rune(summary); len(runes) > 100 {
		summary = string(runes[:100])
	}
	return Summary{Summary: summary, Length: utf8.RuneCountInString(text)}
}
