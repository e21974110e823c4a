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

// ListCap bounds List results. Channels beyond the cap are silently cut off;
// there is no pagination cursor.
const ListCap = 100

// RegistryService owns channel definitions and their schema maintenance.
type RegistryService struct {
	channels channel.Repository
	records  telemetry.RecordRepository
	logger   *log.Logger
	now      func() time.Time
	newKey   func() (string, error)
}

// RegistryOption configures the registry service.
type RegistryOption func(*RegistryService)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) RegistryOption {
	return func(s *RegistryService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKeyGenerator overrides API key generation.
func WithKeyGenerator(gen func() (string, error)) RegistryOption {
	return func(s *RegistryService) {
		if gen != nil {
			s.newKey = gen
		}
	}
}

// NewRegistryService constructs the channel registry.
func NewRegistryService(channels channel.Repository, records telemetry.RecordRepository, logger *log.Logger, opts ...RegistryOption) (*RegistryService, error) {
	if channels == nil {
		return nil, errors.New("registry: nil channel repository")
	}
	if records == nil {
		return nil, errors.New("registry: nil record repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	svc := &RegistryService{
		channels: channels,
		records:  records,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newKey:   channel.NewAPIKey,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates a channel with a generated API key and seeds its first
// data record. Initial values outside the schema are dropped with a warning;
// fields they do not cover get the sentinel value. Initial values pass
// through as given, without numeric coercion.
func (s *RegistryService) Register(ctx context.Context, name string, fields []string, initialValues map[string]any) (channel.Channel, error) {
	if name == "" {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	fields = channel.DedupeFields(fields)

	apiKey, err := s.newKey()
	if err != nil {
		return channel.Channel{}, err
	}
	ch := channel.Channel{
		Name:      name,
		APIKey:    apiKey,
		Fields:    fields,
		CreatedAt: s.now(),
	}
	if err := s.channels.Insert(ctx, ch); err != nil {
		return channel.Channel{}, err
	}

	seed := telemetry.DataRecord{
		ID:          uuid.NewString(),
		ChannelName: name,
		Timestamp:   s.now(),
		Values:      make(map[string]any, len(fields)),
	}
	for _, field := range fields {
		seed.Values[field] = telemetry.Sentinel
	}
	for field, value := range initialValues {
		if !ch.HasField(field) {
			s.logger.Printf("registry: initial value for undefined field %q on channel %q ignored", field, name)
			continue
		}
		seed.Values[field] = value
	}
	if err := s.records.Insert(ctx, seed); err != nil {
		return channel.Channel{}, err
	}
	return ch, nil
}

// Get returns the channel after API key verification.
func (s *RegistryService) Get(ctx context.Context, name, apiKey string) (channel.Channel, error) {
	return s.authorize(ctx, name, apiKey)
}

// List returns up to ListCap channel summaries.
func (s *RegistryService) List(ctx context.Context) ([]channel.Summary, error) {
	return s.channels.List(ctx, ListCap)
}

// AddFields unions new fields into the channel schema. Idempotent.
func (s *RegistryService) AddFields(ctx context.Context, name, apiKey string, add []string) ([]string, error) {
	ch, err := s.authorize(ctx, name, apiKey)
	if err != nil {
		return nil, err
	}
	fields := channel.AddFields(ch.Fields, add)
	if err := s.channels.UpdateFields(ctx, name, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// RemoveFields removes fields from the schema and synchronously overwrites
// their value to the sentinel in every historical record of the channel.
// Unknown fields are ignored.
func (s *RegistryService) RemoveFields(ctx context.Context, name, apiKey string, remove []string) ([]string, error) {
	ch, err := s.authorize(ctx, name, apiKey)
	if err != nil {
		return nil, err
	}
	fields := channel.RemoveFields(ch.Fields, remove)
	if err := s.channels.UpdateFields(ctx, name, fields); err != nil {
		return nil, err
	}
	for _, field := range remove {
		if !ch.HasField(field) {
			continue
		}
		if err := s.records.FillSentinel(ctx, name, field); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// RemoveField retires a single named field. Unlike RemoveFields it fails with
// ErrInvalidField when the field is not part of the schema.
func (s *RegistryService) RemoveField(ctx context.Context, name, apiKey, field string) error {
	ch, err := s.authorize(ctx, name, apiKey)
	if err != nil {
		return err
	}
	if !ch.HasField(field) {
		return channel.ErrInvalidField
	}
	_, err = s.RemoveFields(ctx, name, apiKey, []string{field})
	return err
}

// Delete removes the channel and cascades to all of its data records. The
// channel row goes first: once it is gone every read path fails its channel
// lookup, so the window before the bulk record delete is unobservable through
// the public interface.
func (s *RegistryService) Delete(ctx context.Context, name, apiKey string) error {
	if _, err := s.authorize(ctx, name, apiKey); err != nil {
		return err
	}
	if err := s.channels.Delete(ctx, name); err != nil {
		return err
	}
	return s.records.DeleteByChannel(ctx, name)
}

func (s *RegistryService) authorize(ctx context.Context, name, apiKey string) (channel.Channel, error) {
	ch, err := s.channels.Get(ctx, name)
	if err != nil {
		return channel.Channel{}, err
	}
	if apiKey != ch.APIKey {
		return channel.Channel{}, channel.ErrInvalidAPIKey
	}
	return ch, nil
}
