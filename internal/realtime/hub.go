// Package realtime fans session events out to long-lived subscribers
// over NDJSON streams and WebSockets, with Redis pub/sub bridging
// instances.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/coordinator"
)

// DefaultSubscriberBuffer is the per-subscriber event buffer. A
// subscriber that stops draining it is dropped, never waited on.
const DefaultSubscriberBuffer = 256

// SnapshotProvider supplies the current metrics snapshot pushed to a
// new subscriber on connect.
type SnapshotProvider func(sessionID uuid.UUID) (interface{}, bool)

// RedisPublisher publishes session events for other instances.
type RedisPublisher interface {
	PublishSessionEvent(sessionID uuid.UUID, payload []byte) error
}

// RedisSubscriber subscribes to a session's channel and invokes the
// handler for incoming events from other instances.
type RedisSubscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(payload []byte)) (cancel func(), err error)
}

// Subscription is one subscriber's handle onto the hub.
type Subscription struct {
	ID        string
	SessionID uuid.UUID
	ch        chan coordinator.Event
	hub       *Hub
	once      sync.Once
}

// Events is the subscriber's receive channel. It is closed when the
// subscription is dropped or unsubscribed.
func (s *Subscription) Events() <-chan coordinator.Event { return s.ch }

// Close unsubscribes. Safe to call multiple times.
func (s *Subscription) Close() { s.hub.Unsubscribe(s) }

// Hub maintains session_id -> set of subscriptions and broadcasts
// events. Delivery is non-blocking per subscriber: a full buffer means
// the subscriber is dropped so it can never stall the others.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]map[string]*Subscription
	redisSubs map[uuid.UUID]func() // cancel Redis subscription per session

	snapshot   SnapshotProvider
	redisPub   RedisPublisher
	redisSub   RedisSubscriber
	instanceID string
	heartbeat  time.Duration
	logger     *zap.Logger
}

// redisEnvelope wraps events on the Redis bridge with the publishing
// instance, so an instance can skip its own echoes.
type redisEnvelope struct {
	Origin string            `json:"origin"`
	Event  coordinator.Event `json:"event"`
}

// NewHub creates a fan-out hub. The Redis bridge is optional; pass nil
// for a single-instance deployment.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber, heartbeat time.Duration) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		sessions:   make(map[uuid.UUID]map[string]*Subscription),
		redisSubs:  make(map[uuid.UUID]func()),
		redisPub:   redisPub,
		redisSub:   redisSub,
		instanceID: uuid.New().String(),
		heartbeat:  heartbeat,
		logger:     logger,
	}
}

// SetSnapshotProvider wires the source of connect-time snapshots.
func (h *Hub) SetSnapshotProvider(fn SnapshotProvider) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Subscribe registers a new subscriber and immediately pushes the
// current snapshot as a connected event, so no subscriber has to wait
// for the next state change to see state.
func (h *Hub) Subscribe(sessionID uuid.UUID) *Subscription {
	sub := &Subscription{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		ch:        make(chan coordinator.Event, DefaultSubscriberBuffer),
		hub:       h,
	}

	h.mu.Lock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Subscription)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeSession(sessionID, func(payload []byte) {
				var env redisEnvelope
				if err := json.Unmarshal(payload, &env); err != nil || env.Origin == h.instanceID {
					return
				}
				h.broadcastLocal(sessionID, env.Event)
			})
			if err == nil {
				h.redisSubs[sessionID] = cancel
			} else {
				h.logger.Warn("redis subscribe failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			}
		}
	}
	h.sessions[sessionID][sub.ID] = sub
	snapshot := h.snapshot
	h.mu.Unlock()

	connected := coordinator.NewEvent(coordinator.EventConnected, sessionID, nil)
	if snapshot != nil {
		if snap, ok := snapshot(sessionID); ok {
			connected.Data = snap
		}
	}
	sub.ch <- connected

	h.logger.Debug("subscriber joined",
		zap.String("subscription_id", sub.ID),
		zap.String("session_id", sessionID.String()))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.once.Do(func() {
		h.mu.Lock()
		if m, ok := h.sessions[sub.SessionID]; ok {
			delete(m, sub.ID)
			if len(m) == 0 {
				delete(h.sessions, sub.SessionID)
				if cancel, ok := h.redisSubs[sub.SessionID]; ok {
					cancel()
					delete(h.redisSubs, sub.SessionID)
				}
			}
		}
		close(sub.ch)
		h.mu.Unlock()
	})
}

// Publish delivers an event to every subscriber of the session, locally
// and via Redis for other instances. Never blocks the caller.
func (h *Hub) Publish(sessionID uuid.UUID, event coordinator.Event) {
	h.broadcastLocal(sessionID, event)
	if h.redisPub != nil {
		payload, err := json.Marshal(redisEnvelope{Origin: h.instanceID, Event: event})
		if err != nil {
			return
		}
		if err := h.redisPub.PublishSessionEvent(sessionID, payload); err != nil {
			h.logger.Warn("redis publish failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
}

// broadcastLocal sends to local subscribers only. Subscribers whose
// buffer is full are collected and dropped after the send pass; the
// delivery failure is logged, never surfaced to the writer.
func (h *Hub) broadcastLocal(sessionID uuid.UUID, event coordinator.Event) {
	h.mu.RLock()
	var stale []*Subscription
	for _, sub := range h.sessions[sessionID] {
		select {
		case sub.ch <- event:
		default:
			stale = append(stale, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range stale {
		h.logger.Warn("dropping slow subscriber",
			zap.String("subscription_id", sub.ID),
			zap.String("session_id", sessionID.String()))
		h.Unsubscribe(sub)
	}
}

// SubscriberCount returns the number of local subscribers for a session.
func (h *Hub) SubscriberCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Run emits heartbeat events on a fixed interval per subscriber,
// independent of session activity, so transport idle timeouts can tell
// a dead connection from a quiet session. The same pass reconciles the
// subscriber set: anyone who cannot take the heartbeat is dropped.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.mu.RLock()
			ids := make([]uuid.UUID, 0, len(h.sessions))
			for id := range h.sessions {
				ids = append(ids, id)
			}
			h.mu.RUnlock()
			for _, id := range ids {
				h.broadcastLocal(id, coordinator.NewEvent(coordinator.EventHeartbeat, id, nil))
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := make([]*Subscription, 0)
	for _, m := range h.sessions {
		for _, sub := range m {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.Unsubscribe(sub)
	}
}
