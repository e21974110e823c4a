package application

import (
	"context"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	channel "watertank-cloud/internal/channel/domain"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

type fakeChannelRepo struct {
	channels map[string]channel.Channel
}

func (r *fakeChannelRepo) Insert(_ context.Context, ch channel.Channel) error {
	if _, ok := r.channels[ch.Name]; ok {
		return channel.ErrDuplicateChannel
	}
	r.channels[ch.Name] = ch
	return nil
}

func (r *fakeChannelRepo) Get(_ context.Context, name string) (channel.Channel, error) {
	ch, ok := r.channels[name]
	if !ok {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	return ch, nil
}

func (r *fakeChannelRepo) List(_ context.Context, limit int) ([]channel.Summary, error) {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > limit {
		names = names[:limit]
	}
	summaries := make([]channel.Summary, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, channel.Summary{Name: name, Fields: r.channels[name].Fields})
	}
	return summaries, nil
}

func (r *fakeChannelRepo) UpdateFields(_ context.Context, name string, fields []string) error {
	ch, ok := r.channels[name]
	if !ok {
		return channel.ErrChannelNotFound
	}
	ch.Fields = fields
	r.channels[name] = ch
	return nil
}

func (r *fakeChannelRepo) Delete(_ context.Context, name string) error {
	if _, ok := r.channels[name]; !ok {
		return channel.ErrChannelNotFound
	}
	delete(r.channels, name)
	return nil
}

type fakeRecordRepo struct {
	mu      sync.Mutex
	records []telemetry.DataRecord
}

func (r *fakeRecordRepo) Insert(_ context.Context, rec telemetry.DataRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecordRepo) FillSentinel(_ context.Context, channelName, field string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ChannelName == channelName {
			r.records[i].Values[field] = telemetry.Sentinel
		}
	}
	return nil
}

func (r *fakeRecordRepo) DeleteByChannel(_ context.Context, channelName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.ChannelName != channelName {
			kept = append(kept, rec)
		}
	}
	r.records = kept
	return nil
}

func (r *fakeRecordRepo) all() []telemetry.DataRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.DataRecord(nil), r.records...)
}

// fakeRecordQuery reads from a fakeRecordRepo, mimicking the SQL ordering.
type fakeRecordQuery struct {
	repo *fakeRecordRepo
}

func (q *fakeRecordQuery) Latest(_ context.Context, channelName string) (telemetry.DataRecord, error) {
	var latest telemetry.DataRecord
	found := false
	for _, rec := range q.repo.all() {
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

func (q *fakeRecordQuery) History(_ context.Context, channelName string, start, end *time.Time, limit int) ([]telemetry.DataRecord, error) {
	var result []telemetry.DataRecord
	for _, rec := range q.repo.all() {
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

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(testWriter{t}, "", 0)
}

func seedChannel(repo *fakeChannelRepo, name, apiKey string, fields ...string) {
	if repo.channels == nil {
		repo.channels = make(map[string]channel.Channel)
	}
	repo.channels[name] = channel.Channel{
		Name:      name,
		APIKey:    apiKey,
		Fields:    fields,
		CreatedAt: time.Now().UTC(),
	}
}
