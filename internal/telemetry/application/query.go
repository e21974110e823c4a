package application

import (
	"context"
	"errors"
	"time"

	channel "watertank-cloud/internal/channel/domain"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

const (
	// DefaultHistoryLimit applies when the caller does not bound a history
	// query.
	DefaultHistoryLimit = 100
	// MaxHistoryLimit caps any history query.
	MaxHistoryLimit = 1000
)

// HistoryParams narrows a history query. Field selects a single-field
// projection; Start and End bound the inclusive timestamp range.
type HistoryParams struct {
	Field string
	Start *time.Time
	End   *time.Time
	Limit int
}

// FieldValue is the latest-field projection returned by LatestField.
type FieldValue struct {
	ChannelName string
	Field       string
	Value       any
	Timestamp   time.Time
}

// QueryService retrieves latest and historical records for a channel.
type QueryService struct {
	channels channel.Repository
	query    telemetry.RecordQuery
}

// NewQueryService constructs the query service.
func NewQueryService(channels channel.Repository, query telemetry.RecordQuery) (*QueryService, error) {
	if channels == nil {
		return nil, errors.New("query: nil channel repository")
	}
	if query == nil {
		return nil, errors.New("query: nil record query")
	}
	return &QueryService{channels: channels, query: query}, nil
}

// Latest returns the record with the maximum timestamp for the channel.
func (s *QueryService) Latest(ctx context.Context, channelName, apiKey string) (telemetry.DataRecord, error) {
	if _, err := s.authorize(ctx, channelName, apiKey); err != nil {
		return telemetry.DataRecord{}, err
	}
	return s.query.Latest(ctx, channelName)
}

// LatestField returns a single field out of the latest record. The field must
// be part of the channel's current schema; ErrNoData when the latest record
// does not carry the key (possible when the field was added after the record
// was written).
func (s *QueryService) LatestField(ctx context.Context, channelName, field, apiKey string) (FieldValue, error) {
	ch, err := s.authorize(ctx, channelName, apiKey)
	if err != nil {
		return FieldValue{}, err
	}
	if !ch.HasField(field) {
		return FieldValue{}, channel.ErrInvalidField
	}
	rec, err := s.query.Latest(ctx, channelName)
	if err != nil {
		return FieldValue{}, err
	}
	value, ok := rec.Values[field]
	if !ok {
		return FieldValue{}, telemetry.ErrNoData
	}
	return FieldValue{
		ChannelName: channelName,
		Field:       field,
		Value:       value,
		Timestamp:   rec.Timestamp,
	}, nil
}

// History returns records in the inclusive [start, end] range ascending by
// timestamp, projected to the requested field or to all current schema
// fields, capped at the clamped limit.
func (s *QueryService) History(ctx context.Context, channelName, apiKey string, params HistoryParams) ([]telemetry.DataRecord, error) {
	ch, err := s.authorize(ctx, channelName, apiKey)
	if err != nil {
		return nil, err
	}

	projected := ch.Fields
	if params.Field != "" {
		if !ch.HasField(params.Field) {
			return nil, channel.ErrInvalidField
		}
		projected = []string{params.Field}
	}

	limit := clampLimit(params.Limit)
	records, err := s.query.History(ctx, channelName, params.Start, params.End, limit)
	if err != nil {
		return nil, err
	}

	result := make([]telemetry.DataRecord, 0, len(records))
	for _, rec := range records {
		values := make(map[string]any, len(projected))
		for _, field := range projected {
			if value, ok := rec.Values[field]; ok {
				values[field] = value
			}
		}
		result = append(result, telemetry.DataRecord{
			ID:          rec.ID,
			ChannelName: rec.ChannelName,
			Timestamp:   rec.Timestamp,
			Values:      values,
		})
	}
	return result, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func (s *QueryService) authorize(ctx context.Context, name, apiKey string) (channel.Channel, error) {
	ch, err := s.channels.Get(ctx, name)
	if err != nil {
		return channel.Channel{}, err
	}
	if apiKey != ch.APIKey {
		return channel.Channel{}, channel.ErrInvalidAPIKey
	}
	return ch, nil
}
