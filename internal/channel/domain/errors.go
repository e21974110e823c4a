package channel

import "errors"

var (
	ErrDuplicateChannel = errors.New("channel: already exists")
	ErrChannelNotFound  = errors.New("channel: not found")
	ErrInvalidAPIKey    = errors.New("channel: invalid api key")
	ErrInvalidField     = errors.New("channel: field not defined")
)
