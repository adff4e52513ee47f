package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a broadcast session.
type SessionState string

const (
	SessionScheduled SessionState = "scheduled"
	SessionLive      SessionState = "live"
	SessionEnded     SessionState = "ended"
	SessionCancelled SessionState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == SessionEnded || s == SessionCancelled
}

// SessionConfig holds the mutable per-session settings.
type SessionConfig struct {
	AllowChat        bool     `json:"allow_chat"`
	AllowProducts    bool     `json:"allow_products"`
	RecordingEnabled bool     `json:"recording_enabled"`
	MaxViewers       int      `json:"max_viewers"` // 0 = unlimited
	Tags             []string `json:"tags,omitempty"`
}

// BroadcastSession represents one live shopping broadcast.
type BroadcastSession struct {
	ID             uuid.UUID     `json:"id"`
	HostID         uuid.UUID     `json:"host_id"`
	Title          string        `json:"title"`
	Category       string        `json:"category"`
	State          SessionState  `json:"state"`
	Config         SessionConfig `json:"config"`
	ScheduledStart time.Time     `json:"scheduled_start"`
	ActualStart    *time.Time    `json:"actual_start,omitempty"`
	ActualEnd      *time.Time    `json:"actual_end,omitempty"`
	CancelReason   string        `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
