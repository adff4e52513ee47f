package coordinator

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/models"
)

// Start moves a session from Scheduled to Live and opens it to the
// viewer registry and the inventory ledger. forcedEarly marks a host
// going live before the scheduled start; the transition guard is the
// same either way.
func (c *Coordinator) Start(sessionID uuid.UUID, forcedEarly bool) (models.BroadcastSession, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return models.BroadcastSession{}, err
	}

	e.mu.Lock()
	if e.session.State != models.SessionScheduled {
		e.mu.Unlock()
		return models.BroadcastSession{}, ErrInvalidTransition
	}
	now := time.Now().UTC()
	e.session.State = models.SessionLive
	e.session.ActualStart = &now
	e.session.UpdatedAt = now
	s := e.session
	e.mu.Unlock()

	c.logger.Info("session started",
		zap.String("session_id", sessionID.String()),
		zap.Bool("forced_early", forcedEarly))
	c.flushSession(s)
	c.pub.Publish(sessionID, NewEvent(EventSessionStatus, sessionID, SessionStatusData{State: s.State}))
	return s, nil
}

// End moves a live session to Ended, flushes the final snapshot and
// synchronously releases every outstanding held reservation for the
// session before returning. abrupt marks an emergency stop by the host.
func (c *Coordinator) End(sessionID uuid.UUID, abrupt bool) (models.FinalAnalytics, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return models.FinalAnalytics{}, err
	}

	e.mu.Lock()
	if e.session.State != models.SessionLive {
		e.mu.Unlock()
		return models.FinalAnalytics{}, ErrInvalidTransition
	}
	now := time.Now().UTC()
	e.session.State = models.SessionEnded
	e.session.ActualEnd = &now
	e.session.UpdatedAt = now

	// Stock must not stay stranded: release holds before the caller
	// sees the session as ended. Lock order is session then product.
	released := c.ledger.ReleaseSession(sessionID)
	final := e.finalAnalytics(now)
	s := e.session
	e.mu.Unlock()

	c.logger.Info("session ended",
		zap.String("session_id", sessionID.String()),
		zap.Bool("abrupt", abrupt),
		zap.Int("released_reservations", len(released)))

	c.flushSession(s)
	c.flushSnapshot(final.SessionMetricsSnapshot)
	c.publishReleased(released)
	c.pub.Publish(sessionID, NewEvent(EventSessionStatus, sessionID, SessionStatusData{State: s.State}))
	c.pub.Publish(sessionID, NewEvent(EventMetricsUpdate, sessionID, final.SessionMetricsSnapshot))
	return final, nil
}

// Cancel aborts a scheduled or live session and releases all of its
// held reservations. Cancelling an already terminal session is a no-op
// that succeeds, so retries are harmless.
func (c *Coordinator) Cancel(sessionID uuid.UUID, reason string) error {
	e, err := c.entry(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.session.State.Terminal() {
		e.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	e.session.State = models.SessionCancelled
	e.session.CancelReason = reason
	e.session.UpdatedAt = now

	released := c.ledger.ReleaseSession(sessionID)
	snap := e.recompute(now)
	s := e.session
	e.mu.Unlock()

	c.logger.Info("session cancelled",
		zap.String("session_id", sessionID.String()),
		zap.String("reason", reason),
		zap.Int("released_reservations", len(released)))

	c.flushSession(s)
	c.flushSnapshot(snap)
	c.publishReleased(released)
	c.pub.Publish(sessionID, NewEvent(EventSessionStatus, sessionID, SessionStatusData{State: s.State, Reason: reason}))
	return nil
}
