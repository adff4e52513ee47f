package coordinator

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/models"
)

// Join upserts a viewer presence. Viewers may wait in a scheduled
// session; only terminal sessions reject joins. A reconnect refreshes
// the existing presence instead of counting twice.
func (c *Coordinator) Join(sessionID, viewerID uuid.UUID) (models.ViewerPresence, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return models.ViewerPresence{}, err
	}

	e.mu.Lock()
	if e.session.State.Terminal() {
		e.mu.Unlock()
		return models.ViewerPresence{}, ErrSessionClosed
	}
	now := time.Now().UTC()
	p, exists := e.presences[viewerID]
	if exists {
		p.LastSeenAt = now
		out := *p
		e.mu.Unlock()
		return out, nil
	}
	if max := e.session.Config.MaxViewers; max > 0 && len(e.presences) >= max {
		e.mu.Unlock()
		return models.ViewerPresence{}, ErrCapacityExceeded
	}
	p = &models.ViewerPresence{
		SessionID:  sessionID,
		ViewerID:   viewerID,
		JoinedAt:   now,
		LastSeenAt: now,
	}
	e.presences[viewerID] = p
	e.uniqueViewers[viewerID] = struct{}{}
	snap := e.recompute(now)
	out := *p
	e.mu.Unlock()

	c.pub.Publish(sessionID, NewEvent(EventViewerJoined, sessionID, ViewerEventData{
		ViewerID:    viewerID,
		ViewerCount: snap.ViewerCount,
	}))
	c.pub.Publish(sessionID, NewEvent(EventMetricsUpdate, sessionID, snap))
	return out, nil
}

// Heartbeat refreshes a presence. A heartbeat for an absent presence is
// a no-op; the client must re-join.
func (c *Coordinator) Heartbeat(sessionID, viewerID uuid.UUID) error {
	e, err := c.entry(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if p, ok := e.presences[viewerID]; ok {
		p.LastSeenAt = time.Now().UTC()
	}
	e.mu.Unlock()
	return nil
}

// Leave removes a presence immediately. Idempotent, so an explicit
// leave racing the eviction sweep is harmless.
func (c *Coordinator) Leave(sessionID, viewerID uuid.UUID) error {
	e, err := c.entry(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, ok := e.presences[viewerID]; !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.presences, viewerID)
	snap := e.recompute(time.Now().UTC())
	e.mu.Unlock()

	c.pub.Publish(sessionID, NewEvent(EventViewerLeft, sessionID, ViewerEventData{
		ViewerID:    viewerID,
		ViewerCount: snap.ViewerCount,
	}))
	c.pub.Publish(sessionID, NewEvent(EventMetricsUpdate, sessionID, snap))
	return nil
}

// Chat records a chat message into the metrics fold and broadcasts it.
// Chat bodies are not persisted; moderation is out of scope.
func (c *Coordinator) Chat(sessionID, viewerID uuid.UUID, message string) error {
	e, err := c.entry(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.session.State.Terminal() {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	if !e.session.Config.AllowChat {
		e.mu.Unlock()
		return ErrInvalidTransition
	}
	e.chatCount++
	snap := e.recompute(time.Now().UTC())
	e.mu.Unlock()

	c.pub.Publish(sessionID, NewEvent(EventChatMessage, sessionID, ChatEventData{
		ViewerID: viewerID,
		Message:  message,
	}))
	c.pub.Publish(sessionID, NewEvent(EventMetricsUpdate, sessionID, snap))
	return nil
}

// Viewers returns the active presences of a session.
func (c *Coordinator) Viewers(sessionID uuid.UUID) ([]models.ViewerPresence, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ViewerPresence, 0, len(e.presences))
	for _, p := range e.presences {
		out = append(out, *p)
	}
	return out, nil
}

// sweepPresences evicts viewers whose last heartbeat is older than the
// presence timeout, treating it as an implicit leave. A failure in one
// session never aborts the sweep for the others.
func (c *Coordinator) sweepPresences(now time.Time) {
	cutoff := now.Add(-c.opts.PresenceTimeout)
	for _, e := range c.entries() {
		type evicted struct {
			viewerID uuid.UUID
		}
		var gone []evicted

		e.mu.Lock()
		for id, p := range e.presences {
			if p.LastSeenAt.Before(cutoff) {
				delete(e.presences, id)
				gone = append(gone, evicted{viewerID: id})
			}
		}
		var snap models.SessionMetricsSnapshot
		sessionID := e.session.ID
		if len(gone) > 0 {
			snap = e.recompute(now)
		}
		e.mu.Unlock()

		if len(gone) == 0 {
			continue
		}
		c.logger.Debug("evicted stale viewers",
			zap.String("session_id", sessionID.String()),
			zap.Int("count", len(gone)))
		for _, g := range gone {
			c.pub.Publish(sessionID, NewEvent(EventViewerLeft, sessionID, ViewerEventData{
				ViewerID:    g.viewerID,
				ViewerCount: snap.ViewerCount,
			}))
		}
		c.pub.Publish(sessionID, NewEvent(EventMetricsUpdate, sessionID, snap))
	}
}
