package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	telemetry "watertank-cloud/internal/telemetry/domain"
)

const defaultDataTable = "channel_data"

// RecordRepository is a Postgres implementation for data records.
type RecordRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*RecordRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *RecordRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewRecordRepository constructs a repository with default table name.
func NewRecordRepository(db *sql.DB, opts ...RepositoryOption) *RecordRepository {
	repo := &RecordRepository{db: db, table: defaultDataTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert appends a new data record.
func (r *RecordRepository) Insert(ctx context.Context, rec telemetry.DataRecord) error {
	if r == nil || r.db == nil {
		return errors.New("record repo: nil db")
	}
	if rec.ID == "" || rec.ChannelName == "" || rec.Timestamp.IsZero() {
		return errors.New("record repo: invalid record")
	}
	values, err := json.Marshal(rec.Values)
	if err != nil {
		return fmt.Errorf("record repo: marshal values: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, channel_name, ts, "values")
VALUES ($1, $2, $3, $4)`, r.table)

	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.ChannelName, rec.Timestamp, values); err != nil {
		return storeErr(err)
	}
	return nil
}

// FillSentinel sets field to the sentinel value across every record of the
// channel. The key is created where it was absent so historical records keep
// a uniform shape.
func (r *RecordRepository) FillSentinel(ctx context.Context, channelName, field string) error {
	if r == nil || r.db == nil {
		return errors.New("record repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET "values" = jsonb_set("values", ARRAY[$2], to_jsonb($3::text), true)
WHERE channel_name = $1`, r.table)

	if _, err := r.db.ExecContext(ctx, query, channelName, field, telemetry.Sentinel); err != nil {
		return storeErr(err)
	}
	return nil
}

// DeleteByChannel removes all records of the channel.
func (r *RecordRepository) DeleteByChannel(ctx context.Context, channelName string) error {
	if r == nil || r.db == nil {
		return errors.New("record repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE channel_name = $1`, r.table)
	if _, err := r.db.ExecContext(ctx, query, channelName); err != nil {
		return storeErr(err)
	}
	return nil
}

func scanRecord(scan func(dest ...any) error) (telemetry.DataRecord, error) {
	var rec telemetry.DataRecord
	var values []byte
	if err := scan(&rec.ID, &rec.ChannelName, &rec.Timestamp, &values); err != nil {
		return telemetry.DataRecord{}, err
	}
	if err := json.Unmarshal(values, &rec.Values); err != nil {
		return telemetry.DataRecord{}, fmt.Errorf("record repo: unmarshal values: %w", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

func storeErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return fmt.Errorf("%w: %v", telemetry.ErrStorageUnavailable, err)
}
