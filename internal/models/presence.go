package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerPresence tracks one active viewer in a session. At most one
// presence exists per (session, viewer); reconnects refresh it.
type ViewerPresence struct {
	SessionID  uuid.UUID `json:"session_id"`
	ViewerID   uuid.UUID `json:"viewer_id"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
