package domain

import "errors"

// Risk engine error kinds.
var (
	// ErrInvalidPositionData is returned when bin allocations cannot produce an entry price.
	ErrInvalidPositionData = errors.New("invalid position data")

	// ErrInsufficientData is returned when a metric has no usable signal this cycle.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrUpstreamUnavailable is returned when the chain or a market API cannot be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrSubmissionFailed is returned when an on-chain transaction was rejected or not confirmed.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrExitInFlight is returned when another exit for the same position holds the lock.
	ErrExitInFlight = errors.New("exit already in flight")

	// ErrLockHeld is returned by lock managers when the key is already held.
	ErrLockHeld = errors.New("lock held")
)
