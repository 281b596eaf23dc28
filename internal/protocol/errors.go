package protocol

import "errors"

var (
	ErrMessageTooLarge  = errors.New("protocol: message too large")
	ErrEmptyMessage     = errors.New("protocol: empty message")
	ErrDecode           = errors.New("protocol: decode response")
	ErrMissingValues    = errors.New("protocol: missing values")
	ErrInvalidTimestamp = errors.New("protocol: invalid timestamp")
)
