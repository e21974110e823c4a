package channel

import (
	"context"
	"time"
)

// Channel is a named, API-key-protected telemetry schema.
type Channel struct {
	Name      string
	APIKey    string
	Fields    []string
	CreatedAt time.Time
}

// HasField reports whether name is part of the channel's current schema.
func (c Channel) HasField(name string) bool {
	for _, field := range c.Fields {
		if field == name {
			return true
		}
	}
	return false
}

// AddFields returns the schema extended by the given fields. Duplicates are
// ignored; existing order is preserved and new fields append in input order.
func AddFields(fields, add []string) []string {
	result := append([]string(nil), fields...)
	seen := make(map[string]struct{}, len(result))
	for _, field := range result {
		seen[field] = struct{}{}
	}
	for _, field := range add {
		if field == "" {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		result = append(result, field)
	}
	return result
}

// RemoveFields returns the schema with the given fields removed. Unknown
// fields are ignored.
func RemoveFields(fields, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, field := range remove {
		drop[field] = struct{}{}
	}
	result := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, ok := drop[field]; ok {
			continue
		}
		result = append(result, field)
	}
	return result
}

// DedupeFields removes duplicate and empty names preserving first occurrence.
func DedupeFields(fields []string) []string {
	return AddFields(nil, fields)
}

// Summary is the bounded listing projection of a channel.
type Summary struct {
	Name   string
	Fields []string
}

// Repository persists channel definitions.
type Repository interface {
	// Insert stores a new channel. Returns ErrDuplicateChannel when the name
	// is already taken.
	Insert(ctx context.Context, ch Channel) error
	// Get loads a channel by name. Returns ErrChannelNotFound when absent.
	Get(ctx context.Context, name string) (Channel, error)
	// List returns up to limit channel summaries ordered by name.
	List(ctx context.Context, limit int) ([]Summary, error)
	// UpdateFields replaces the channel's field list.
	UpdateFields(ctx context.Context, name string, fields []string) error
	// Delete removes the channel definition.
	Delete(ctx context.Context, name string) error
}
