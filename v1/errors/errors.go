package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotAcquired is returned by Acquire when quorum or a positive
	// validity window could not be reached within the allowed attempts.
	ErrNotAcquired = errors.New("redlock: lock not acquired")

	ErrNoNodes            = errors.New("redlock: no storage nodes configured")
	ErrInvalidTTL         = errors.New("redlock: ttl must be positive")
	ErrEmptyResource      = errors.New("redlock: resource name is empty")
	ErrInvalidRetry       = errors.New("redlock: retry count must not be negative")
	ErrInvalidDriftFactor = errors.New("redlock: drift factor must be in [0, 1)")
)
