package telemetry

import "errors"

var (
	ErrNoValidFields = errors.New("telemetry: no valid channel fields in data")
	ErrNoData        = errors.New("telemetry: no data for channel")

	// ErrStorageUnavailable wraps store-level failures so adapters can map
	// them apart from the user-visible taxonomy.
	ErrStorageUnavailable = errors.New("telemetry: storage unavailable")
)
