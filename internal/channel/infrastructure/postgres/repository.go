package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	channel "watertank-cloud/internal/channel/domain"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

const defaultChannelTable = "channels"

// ChannelRepository is a Postgres implementation for channel definitions.
type ChannelRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ChannelRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ChannelRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewChannelRepository constructs a repository with default table name.
func NewChannelRepository(db *sql.DB, opts ...RepositoryOption) *ChannelRepository {
	repo := &ChannelRepository{db: db, table: defaultChannelTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Insert stores a new channel definition.
func (r *ChannelRepository) Insert(ctx context.Context, ch channel.Channel) error {
	if r == nil || r.db == nil {
		return errors.New("channel repo: nil db")
	}
	fields, err := json.Marshal(ch.Fields)
	if err != nil {
		return fmt.Errorf("channel repo: marshal fields: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (channel_name, api_key, fields, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (channel_name) DO NOTHING`, r.table)

	result, err := r.db.ExecContext(ctx, query, ch.Name, ch.APIKey, fields, ch.CreatedAt)
	if err != nil {
		return storeErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return channel.ErrDuplicateChannel
	}
	return nil
}

// Get loads a channel by name.
func (r *ChannelRepository) Get(ctx context.Context, name string) (channel.Channel, error) {
	if r == nil || r.db == nil {
		return channel.Channel{}, errors.New("channel repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT channel_name, api_key, fields, created_at
FROM %s
WHERE channel_name = $1`, r.table)

	var ch channel.Channel
	var fields []byte
	err := r.db.QueryRowContext(ctx, query, name).Scan(&ch.Name, &ch.APIKey, &fields, &ch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	if err != nil {
		return channel.Channel{}, storeErr(err)
	}
	if err := json.Unmarshal(fields, &ch.Fields); err != nil {
		return channel.Channel{}, fmt.Errorf("channel repo: unmarshal fields: %w", err)
	}
	return ch, nil
}

// List returns up to limit channel summaries ordered by name.
func (r *ChannelRepository) List(ctx context.Context, limit int) ([]channel.Summary, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("channel repo: nil db")
	}
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT channel_name, fields
FROM %s
ORDER BY channel_name ASC
LIMIT $1`, r.table)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	summaries := make([]channel.Summary, 0)
	for rows.Next() {
		var summary channel.Summary
		var fields []byte
		if err := rows.Scan(&summary.Name, &fields); err != nil {
			return nil, storeErr(err)
		}
		if err := json.Unmarshal(fields, &summary.Fields); err != nil {
			return nil, fmt.Errorf("channel repo: unmarshal fields: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return summaries, nil
}

// UpdateFields replaces the channel's field list.
func (r *ChannelRepository) UpdateFields(ctx context.Context, name string, fields []string) error {
	if r == nil || r.db == nil {
		return errors.New("channel repo: nil db")
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("channel repo: marshal fields: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET fields = $2 WHERE channel_name = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, name, encoded)
	if err != nil {
		return storeErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return channel.ErrChannelNotFound
	}
	return nil
}

// Delete removes the channel definition.
func (r *ChannelRepository) Delete(ctx context.Context, name string) error {
	if r == nil || r.db == nil {
		return errors.New("channel repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE channel_name = $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, name)
	if err != nil {
		return storeErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return channel.ErrChannelNotFound
	}
	return nil
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", telemetry.ErrStorageUnavailable, err)
}
