package telemetry

import (
	"context"
	"time"
)

// Sentinel marks a retired field's value in historical records.
const Sentinel = "N/A"

// DataRecord is one immutable timestamped reading for a channel. Values maps
// field name to either a float64 or an opaque scalar kept as submitted.
type DataRecord struct {
	ID          string
	ChannelName string
	Timestamp   time.Time
	Values      map[string]any
}

// RecordRepository persists data records.
type RecordRepository interface {
	// Insert appends a new record. Every call creates an independent row.
	Insert(ctx context.Context, rec DataRecord) error
	// FillSentinel sets field to the sentinel value across every record of
	// the channel, adding the key where it was absent.
	FillSentinel(ctx context.Context, channelName, field string) error
	// DeleteByChannel removes all records of the channel.
	DeleteByChannel(ctx context.Context, channelName string) error
}

// RecordQuery loads records for the query service.
type RecordQuery interface {
	// Latest returns the record with the maximum timestamp. Returns ErrNoData
	// when the channel has no records.
	Latest(ctx context.Context, channelName string) (DataRecord, error)
	// History returns records in [start, end] (either bound may be nil),
	// ascending by timestamp, at most limit rows.
	History(ctx context.Context, channelName string, start, end *time.Time, limit int) ([]DataRecord, error)
}
