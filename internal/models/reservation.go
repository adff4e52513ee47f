package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationState is the lifecycle state of a stock hold.
type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
	ReservationExpired   ReservationState = "expired"
)

// Resolved reports whether the reservation no longer contributes to
// reserved stock.
func (s ReservationState) Resolved() bool {
	return s != ReservationHeld
}

// Reservation is a time-bounded hold on product quantity pending purchase.
type Reservation struct {
	ID         uuid.UUID        `json:"id"`
	ProductID  uuid.UUID        `json:"product_id"`
	SessionID  uuid.UUID        `json:"session_id"`
	ViewerID   uuid.UUID        `json:"viewer_id"`
	Quantity   int              `json:"quantity"`
	State      ReservationState `json:"state"`
	ExpiresAt  time.Time        `json:"expires_at"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}
