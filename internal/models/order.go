package models

import (
	"time"

	"github.com/google/uuid"
)

// Order records a committed purchase for reporting.
type Order struct {
	ID            uuid.UUID `json:"id"`
	ReservationID uuid.UUID `json:"reservation_id"`
	SessionID     uuid.UUID `json:"session_id"`
	ProductID     uuid.UUID `json:"product_id"`
	ViewerID      uuid.UUID `json:"viewer_id"`
	Quantity      int       `json:"quantity"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	ChargeRef     string    `json:"charge_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
