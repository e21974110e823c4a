package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	telemetry "watertank-cloud/internal/telemetry/domain"
)

// RecordQuery is a Postgres query implementation for data records.
type RecordQuery struct {
	db    *sql.DB
	table string
}

// QueryOption configures the record query.
type QueryOption func(*RecordQuery)

// WithQueryTable overrides the default table name for queries.
func WithQueryTable(table string) QueryOption {
	return func(query *RecordQuery) {
		if query != nil && table != "" {
			query.table = table
		}
	}
}

// NewRecordQuery constructs a query with default table name.
func NewRecordQuery(db *sql.DB, opts ...QueryOption) *RecordQuery {
	query := &RecordQuery{db: db, table: defaultDataTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// Latest returns the record with the maximum timestamp for the channel.
func (q *RecordQuery) Latest(ctx context.Context, channelName string) (telemetry.DataRecord, error) {
	if q == nil || q.db == nil {
		return telemetry.DataRecord{}, errors.New("record query: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, channel_name, ts, "values"
FROM %s
WHERE channel_name = $1
ORDER BY ts DESC
LIMIT 1`, q.table)

	row := q.db.QueryRowContext(ctx, query, channelName)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.DataRecord{}, telemetry.ErrNoData
	}
	if err != nil {
		return telemetry.DataRecord{}, storeErr(err)
	}
	return rec, nil
}

// History returns records in [start, end] ascending by timestamp, at most
// limit rows. Either bound may be nil.
func (q *RecordQuery) History(ctx context.Context, channelName string, start, end *time.Time, limit int) ([]telemetry.DataRecord, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("record query: nil db")
	}
	if limit <= 0 {
		return nil, nil
	}

	conditions := "channel_name = $1"
	args := []any{channelName}
	if start != nil {
		args = append(args, *start)
		conditions += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if end != nil {
		args = append(args, *end)
		conditions += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT id, channel_name, ts, "values"
FROM %s
WHERE %s
ORDER BY ts ASC
LIMIT $%d`, q.table, conditions, len(args))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	records := make([]telemetry.DataRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, storeErr(err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return records, nil
}
