package backend

import "errors"

// Error taxonomy for the trade-store boundary. Callers branch with
// errors.Is; wrapped errors carry the transport detail.
var (
	// ErrBackendUnreachable covers network failures and HTTP errors that
	// survived the retry policy. Autonomous close attempts are retried on
	// the next evaluation pass; user-initiated calls surface it verbatim.
	ErrBackendUnreachable = errors.New("backend unreachable")

	// ErrNotFound means the position vanished from the backend; the local
	// cache entry must be dropped.
	ErrNotFound = errors.New("position not found")

	// ErrAlreadyClosed is a successful terminal state for the trigger
	// state machine, not a failure: a duplicate close attempt collapsed.
	ErrAlreadyClosed = errors.New("position already closed")

	// ErrInsufficientBalance means the requested notional exceeds the
	// account balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidThreshold means a stop-loss or take-profit lies on the
	// wrong side of the current price for the position's direction.
	ErrInvalidThreshold = errors.New("threshold on wrong side of current price")

	// ErrValidationFailed covers any other request rejected by the
	// backend's own validation.
	ErrValidationFailed = errors.New("trade request rejected")
)
