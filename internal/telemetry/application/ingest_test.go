package application

import (
	"context"
	"errors"
	"testing"
	"time"

	channel "watertank-cloud/internal/channel/domain"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

func newTestPipeline(t *testing.T) (*Pipeline, *fakeChannelRepo, *fakeRecordRepo) {
	t.Helper()
	channels := &fakeChannelRepo{}
	records := &fakeRecordRepo{}
	seedChannel(channels, "tank1", "SECRET000001", "level", "temp")
	p, err := NewPipeline(channels, records, testLogger(t))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, channels, records
}

func TestIngest_CoercesAndPersists(t *testing.T) {
	p, _, records := newTestPipeline(t)

	rec, err := p.Ingest(context.Background(), "tank1", "SECRET000001", map[string]any{
		"level": "42.5",
		"temp":  19,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rec.Values["level"] != 42.5 {
		t.Fatalf("string not coerced: %v", rec.Values["level"])
	}
	if rec.Values["temp"] != float64(19) {
		t.Fatalf("int not coerced: %v", rec.Values["temp"])
	}
	if rec.ID == "" {
		t.Fatal("record has no id")
	}
	if rec.Timestamp.IsZero() || rec.Timestamp.Location() != time.UTC {
		t.Fatalf("bad timestamp: %v", rec.Timestamp)
	}
	if got := records.all(); len(got) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(got))
	}
}

func TestIngest_UnknownChannel(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	_, err := p.Ingest(context.Background(), "ghost", "SECRET000001", map[string]any{"level": 1.0})
	if !errors.Is(err, channel.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestIngest_WrongKey(t *testing.T) {
	p, _, records := newTestPipeline(t)

	_, err := p.Ingest(context.Background(), "tank1", "WRONG0000000", map[string]any{"level": 1.0})
	if !errors.Is(err, channel.ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}
	if got := records.all(); len(got) != 0 {
		t.Fatalf("record persisted despite auth failure: %d", len(got))
	}
}

func TestIngest_NoValidFieldsPersistsNothing(t *testing.T) {
	p, _, records := newTestPipeline(t)

	_, err := p.Ingest(context.Background(), "tank1", "SECRET000001", map[string]any{
		"pressure": 3.2,
		"salinity": 0.4,
	})
	if !errors.Is(err, telemetry.ErrNoValidFields) {
		t.Fatalf("expected ErrNoValidFields, got %v", err)
	}
	if got := records.all(); len(got) != 0 {
		t.Fatalf("record persisted despite rejection: %d", len(got))
	}
}

func TestIngest_PartialBagKeepsValidFields(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	rec, err := p.Ingest(context.Background(), "tank1", "SECRET000001", map[string]any{
		"level":    7.0,
		"pressure": 3.2,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, ok := rec.Values["pressure"]; ok {
		t.Fatal("undefined field survived coercion")
	}
	if rec.Values["level"] != 7.0 {
		t.Fatalf("valid field lost: %v", rec.Values)
	}
}

func TestIngestTrusted_SkipsKeyCheck(t *testing.T) {
	p, _, records := newTestPipeline(t)

	rec, err := p.IngestTrusted(context.Background(), "tank1", map[string]any{"temp": "18.5"})
	if err != nil {
		t.Fatalf("ingest trusted: %v", err)
	}
	if rec.Values["temp"] != 18.5 {
		t.Fatalf("coercion skipped on trusted path: %v", rec.Values["temp"])
	}
	if got := records.all(); len(got) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(got))
	}
}

func TestIngest_ClockOverride(t *testing.T) {
	channels := &fakeChannelRepo{}
	records := &fakeRecordRepo{}
	seedChannel(channels, "tank1", "SECRET000001", "level")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := NewPipeline(channels, records, testLogger(t), WithPipelineClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	rec, err := p.Ingest(context.Background(), "tank1", "SECRET000001", map[string]any{"level": 1.0})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !rec.Timestamp.Equal(fixed) {
		t.Fatalf("expected %v, got %v", fixed, rec.Timestamp)
	}
}
