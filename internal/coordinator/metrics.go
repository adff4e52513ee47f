package coordinator

import (
	"time"

	"github.com/shoplive/backend/internal/models"
)

// engagementWeights for the engagement score. The score is a plain
// weighted sum, so it is deterministic and monotone in each input.
const (
	weightChat     = 1.0
	weightPurchase = 5.0
	weightViewer   = 0.5
)

func engagementScore(chatCount, viewerCount, purchaseCount int) float64 {
	return weightChat*float64(chatCount) +
		weightPurchase*float64(purchaseCount) +
		weightViewer*float64(viewerCount)
}

// recompute folds the session's counters into a fresh snapshot.
// Caller holds the session entry lock.
func (e *sessionEntry) recompute(now time.Time) models.SessionMetricsSnapshot {
	viewerCount := len(e.presences)
	if viewerCount > e.peakViewers {
		e.peakViewers = viewerCount
	}
	snap := models.SessionMetricsSnapshot{
		SessionID:         e.session.ID,
		Timestamp:         now,
		ViewerCount:       viewerCount,
		PeakViewerCount:   e.peakViewers,
		ChatMessageCount:  e.chatCount,
		PurchaseCount:     e.purchaseCount,
		RevenueTotalCents: e.revenueCents,
		EngagementScore:   engagementScore(e.chatCount, viewerCount, e.purchaseCount),
	}
	e.lastSnapshot = snap
	return snap
}

// finalAnalytics builds the closing snapshot for an ended session.
// Caller holds the session entry lock and has already set ActualEnd.
func (e *sessionEntry) finalAnalytics(now time.Time) models.FinalAnalytics {
	snap := e.recompute(now)
	fa := models.FinalAnalytics{
		SessionMetricsSnapshot: snap,
		TotalUniqueViewers:     len(e.uniqueViewers),
	}
	if e.session.ActualStart != nil && e.session.ActualEnd != nil {
		fa.DurationSeconds = int64(e.session.ActualEnd.Sub(*e.session.ActualStart).Seconds())
	}
	return fa
}
