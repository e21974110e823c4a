package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	channelapp "watertank-cloud/internal/channel/application"
	channel "watertank-cloud/internal/channel/domain"
	"watertank-cloud/internal/telemetry/application"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

type stubChannelRepo struct {
	channels map[string]channel.Channel
}

func (r *stubChannelRepo) Insert(_ context.Context, ch channel.Channel) error {
	if _, ok := r.channels[ch.Name]; ok {
		return channel.ErrDuplicateChannel
	}
	r.channels[ch.Name] = ch
	return nil
}

func (r *stubChannelRepo) Get(_ context.Context, name string) (channel.Channel, error) {
	ch, ok := r.channels[name]
	if !ok {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	return ch, nil
}

func (r *stubChannelRepo) List(_ context.Context, limit int) ([]channel.Summary, error) {
	summaries := make([]channel.Summary, 0, len(r.channels))
	for name, ch := range r.channels {
		summaries = append(summaries, channel.Summary{Name: name, Fields: ch.Fields})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (r *stubChannelRepo) UpdateFields(_ context.Context, name string, fields []string) error {
	ch, ok := r.channels[name]
	if !ok {
		return channel.ErrChannelNotFound
	}
	ch.Fields = fields
	r.channels[name] = ch
	return nil
}

func (r *stubChannelRepo) Delete(_ context.Context, name string) error {
	delete(r.channels, name)
	return nil
}

type stubRecordStore struct {
	records []telemetry.DataRecord
}

func (s *stubRecordStore) Insert(_ context.Context, rec telemetry.DataRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *stubRecordStore) FillSentinel(_ context.Context, channelName, field string) error {
	for i := range s.records {
		if s.records[i].ChannelName == channelName {
			s.records[i].Values[field] = telemetry.Sentinel
		}
	}
	return nil
}

func (s *stubRecordStore) DeleteByChannel(_ context.Context, channelName string) error {
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.ChannelName != channelName {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return nil
}

func (s *stubRecordStore) Latest(_ context.Context, channelName string) (telemetry.DataRecord, error) {
	var latest telemetry.DataRecord
	found := false
	for _, rec := range s.records {
		if rec.ChannelName != channelName {
			continue
		}
		if !found || rec.Timestamp.After(latest.Timestamp) {
			latest = rec
			found = true
		}
	}
	if !found {
		return telemetry.DataRecord{}, telemetry.ErrNoData
	}
	return latest, nil
}

func (s *stubRecordStore) History(_ context.Context, channelName string, start, end *time.Time, limit int) ([]telemetry.DataRecord, error) {
	var result []telemetry.DataRecord
	for _, rec := range s.records {
		if rec.ChannelName != channelName {
			continue
		}
		if start != nil && rec.Timestamp.Before(*start) {
			continue
		}
		if end != nil && rec.Timestamp.After(*end) {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newDataHandler(t *testing.T) (*Handler, *stubRecordStore) {
	t.Helper()
	channels := &stubChannelRepo{channels: map[string]channel.Channel{
		"tank1": {Name: "tank1", APIKey: "SECRET000001", Fields: []string{"level", "temp"}, CreatedAt: time.Now().UTC()},
	}}
	store := &stubRecordStore{}
	logger := log.New(testWriter{t}, "", 0)

	pipeline, err := application.NewPipeline(channels, store, logger)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	query, err := application.NewQueryService(channels, store)
	if err != nil {
		t.Fatalf("new query service: %v", err)
	}
	registry, err := channelapp.NewRegistryService(channels, store, logger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	h, err := NewHandler(pipeline, query, registry, logger)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h, store
}

func TestWriteBodyEndpoint(t *testing.T) {
	h, store := newDataHandler(t)

	body := `{"level":"42.5","temp":19,"bogus":1}`
	req := httptest.NewRequest(http.MethodPost, "/channels/tank1/data?api_key=SECRET000001", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(store.records))
	}
	stored := store.records[0]
	if stored.Values["level"] != 42.5 {
		t.Fatalf("string value not coerced: %v", stored.Values["level"])
	}
	if _, ok := stored.Values["bogus"]; ok {
		t.Fatal("undefined field persisted")
	}

	var resp struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", resp.Timestamp)
	}
}

func TestWriteBodyEndpoint_Unauthorized(t *testing.T) {
	h, store := newDataHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/channels/tank1/data?api_key=WRONG", strings.NewReader(`{"level":1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(store.records) != 0 {
		t.Fatal("record persisted despite auth failure")
	}
}

func TestWriteBodyEndpoint_NoValidFields(t *testing.T) {
	h, _ := newDataHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/channels/tank1/data?api_key=SECRET000001", strings.NewReader(`{"bogus":1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWriteQueryEndpoint(t *testing.T) {
	h, store := newDataHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/channels/tank1/update?api_key=SECRET000001&level=55.5&temp=offline", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored := store.records[0]
	if stored.Values["level"] != 55.5 {
		t.Fatalf("query param not coerced to number: %v", stored.Values["level"])
	}
	if stored.Values["temp"] != "offline" {
		t.Fatalf("non-numeric string not preserved: %v", stored.Values["temp"])
	}
	if _, ok := stored.Values["api_key"]; ok {
		t.Fatal("api_key leaked into the field bag")
	}
}

func TestWriteQueryEndpoint_MissingKey(t *testing.T) {
	h, _ := newDataHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/channels/tank1/update?level=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h, store := newDataHandler(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		store.records = append(store.records, telemetry.DataRecord{
			ID: "r", ChannelName: "tank1", Timestamp: base.Add(time.Duration(i) * time.Hour),
			Values: map[string]any{"level": float64(i), "temp": 20.0},
		})
	}

	url := "/channels/tank1/data?api_key=SECRET000001&field_name=level&start_time=" + base.Add(time.Hour).Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("expected 2 records after start_time, got %d", len(resp))
	}
	if _, ok := resp[0]["temp"]; ok {
		t.Fatal("field projection ignored")
	}
	if _, ok := resp[0]["timestamp"]; !ok {
		t.Fatal("flattened record lacks timestamp")
	}
}

func TestHistoryEndpoint_BadTimestamp(t *testing.T) {
	h, _ := newDataHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/channels/tank1/data?api_key=SECRET000001&start_time=yesterday", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLatestEndpoint(t *testing.T) {
	h, store := newDataHandler(t)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.records = append(store.records, telemetry.DataRecord{
		ID: "r1", ChannelName: "tank1", Timestamp: ts,
		Values: map[string]any{"level": 55.5, "temp": telemetry.Sentinel},
	})

	req := httptest.NewRequest(http.MethodGet, "/data/tank1/latest?api_key=SECRET000001", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["level"] != 55.5 || resp["temp"] != telemetry.Sentinel {
		t.Fatalf("flattened values wrong: %v", resp)
	}
	if resp["channel_name"] != "tank1" {
		t.Fatalf("latest record lacks channel_name: %v", resp)
	}
}

func TestLatestEndpoint_NoData(t *testing.T) {
	h, _ := newDataHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/data/tank1/latest?api_key=SECRET000001", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLatestFieldEndpoint(t *testing.T) {
	h, store := newDataHandler(t)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.records = append(store.records, telemetry.DataRecord{
		ID: "r1", ChannelName: "tank1", Timestamp: ts,
		Values: map[string]any{"level": 55.5},
	})

	req := httptest.NewRequest(http.MethodGet, "/data/tank1/latest/level?api_key=SECRET000001", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ChannelName string `json:"channel_name"`
		Field       string `json:"field"`
		Value       any    `json:"value"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Field != "level" || resp.Value != 55.5 {
		t.Fatalf("unexpected projection: %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/data/tank1/latest/ghost?api_key=SECRET000001", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for undefined field, got %d", rec.Code)
	}
}

func TestUnknownRoutes(t *testing.T) {
	h, _ := newDataHandler(t)

	for _, tc := range []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/channels/tank1/unknown", http.StatusNotFound},
		{http.MethodDelete, "/channels/tank1/data", http.StatusMethodNotAllowed},
		{http.MethodPost, "/data/tank1/latest", http.StatusMethodNotAllowed},
		{http.MethodGet, "/data/tank1", http.StatusNotFound},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rec.Code)
		}
	}
}
