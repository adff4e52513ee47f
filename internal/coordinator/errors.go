package coordinator

import "errors"

// Sentinel errors returned by coordinator operations. Callers compare
// with errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrInvalidTransition means a state machine guard was violated.
	// Not retryable as-is; the caller must re-check session state.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrInsufficientStock means a reservation was denied because the
	// available pool cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCapacityExceeded means the session's viewer cap is reached.
	ErrCapacityExceeded = errors.New("viewer capacity exceeded")

	// ErrReservationNotHeld means commit/release hit an already resolved
	// reservation. Release treats this as success; commit as an error.
	ErrReservationNotHeld = errors.New("reservation not held")

	// ErrPaymentFailed means the payment authority declined the charge.
	// The reservation stays held and the commit may be retried within TTL.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrSessionNotLive means the operation requires a live session
	// (e.g. reservations are only accepted while the broadcast runs).
	ErrSessionNotLive = errors.New("session not live")

	// ErrSessionClosed means the session has reached a terminal state.
	ErrSessionClosed = errors.New("session closed")

	ErrSessionNotFound     = errors.New("session not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrProductNotFeatured  = errors.New("product not featured in session")
)
