package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionMetricsSnapshot is an immutable view of a session's aggregate
// metrics, recomputed on every mutating event. Consumers only ever see
// the latest snapshot.
type SessionMetricsSnapshot struct {
	SessionID         uuid.UUID `json:"session_id"`
	Timestamp         time.Time `json:"timestamp"`
	ViewerCount       int       `json:"viewer_count"`
	PeakViewerCount   int       `json:"peak_viewer_count"`
	ChatMessageCount  int       `json:"chat_message_count"`
	PurchaseCount     int       `json:"purchase_count"`
	RevenueTotalCents int64     `json:"revenue_total_cents"`
	EngagementScore   float64   `json:"engagement_score"`
}

// FinalAnalytics is the closing snapshot returned when a session ends.
type FinalAnalytics struct {
	SessionMetricsSnapshot
	TotalUniqueViewers int   `json:"total_unique_viewers"`
	DurationSeconds    int64 `json:"duration_seconds"`
}
