package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	channel "watertank-cloud/internal/channel/domain"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

// Pipeline accepts a reading for a channel regardless of which transport
// delivered it: lookup, API key check, field coercion, timestamp, persist.
// No lock is held across the sequence; a schema mutation racing an in-flight
// ingest may interleave (accepted behavior).
type Pipeline struct {
	channels channel.Repository
	records  telemetry.RecordRepository
	logger   *log.Logger
	now      func() time.Time
}

// PipelineOption configures the ingestion pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineClock overrides the timestamp source.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline constructs the ingestion pipeline.
func NewPipeline(channels channel.Repository, records telemetry.RecordRepository, logger *log.Logger, opts ...PipelineOption) (*Pipeline, error) {
	if channels == nil {
		return nil, errors.New("ingest: nil channel repository")
	}
	if records == nil {
		return nil, errors.New("ingest: nil record repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Pipeline{
		channels: channels,
		records:  records,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest validates the API key and persists a new record for the channel.
func (p *Pipeline) Ingest(ctx context.Context, channelName, apiKey string, bag map[string]any) (telemetry.DataRecord, error) {
	ch, err := p.channels.Get(ctx, channelName)
	if err != nil {
		return telemetry.DataRecord{}, err
	}
	if apiKey != ch.APIKey {
		return telemetry.DataRecord{}, channel.ErrInvalidAPIKey
	}
	return p.persist(ctx, ch, bag)
}

// IngestTrusted persists a record without an API key check. The MQTT adapter
// uses this path when broker-level ACLs are the configured trust boundary.
func (p *Pipeline) IngestTrusted(ctx context.Context, channelName string, bag map[string]any) (telemetry.DataRecord, error) {
	ch, err := p.channels.Get(ctx, channelName)
	if err != nil {
		return telemetry.DataRecord{}, err
	}
	return p.persist(ctx, ch, bag)
}

func (p *Pipeline) persist(ctx context.Context, ch channel.Channel, bag map[string]any) (telemetry.DataRecord, error) {
	values, err := telemetry.CoerceFields(ch.Fields, bag, func(field string) {
		p.logger.Printf("ingest: field %q not defined for channel %q, ignoring", field, ch.Name)
	})
	if err != nil {
		return telemetry.DataRecord{}, err
	}

	rec := telemetry.DataRecord{
		ID:          uuid.NewString(),
		ChannelName: ch.Name,
		Timestamp:   p.now(),
		Values:      values,
	}
	if err := p.records.Insert(ctx, rec); err != nil {
		return telemetry.DataRecord{}, err
	}
	return rec, nil
}
