package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shoplive/backend/internal/models"
)

// EventType discriminates the JSON events pushed to subscribers.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventMetricsUpdate EventType = "metrics_update"
	EventViewerJoined  EventType = "viewer_joined"
	EventViewerLeft    EventType = "viewer_left"
	EventPurchase      EventType = "purchase"
	EventHeartbeat     EventType = "heartbeat"
	EventChatMessage   EventType = "chat_message"
	EventSessionStatus EventType = "session_status"
	EventProductUpdate EventType = "product_update"
)

// Event is the envelope fanned out to session subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID uuid.UUID   `json:"session_id"`
	At        time.Time   `json:"at"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, sessionID uuid.UUID, data interface{}) Event {
	return Event{Type: t, SessionID: sessionID, At: time.Now().UTC(), Data: data}
}

// ViewerEventData is the payload of viewer_joined / viewer_left events.
type ViewerEventData struct {
	ViewerID    uuid.UUID `json:"viewer_id"`
	ViewerCount int       `json:"viewer_count"`
}

// PurchaseEventData is the payload of purchase events.
type PurchaseEventData struct {
	ProductID   uuid.UUID `json:"product_id"`
	ViewerID    uuid.UUID `json:"viewer_id"`
	Quantity    int       `json:"quantity"`
	AmountCents int64     `json:"amount_cents"`
}

// ChatEventData is the payload of chat_message events.
type ChatEventData struct {
	ViewerID uuid.UUID `json:"viewer_id"`
	Message  string    `json:"message"`
}

// SessionStatusData is the payload of session_status events.
type SessionStatusData struct {
	State  models.SessionState `json:"state"`
	Reason string              `json:"reason,omitempty"`
}

// StockEventData is the payload of product_update events.
type StockEventData struct {
	ProductID         uuid.UUID `json:"product_id"`
	AvailableQuantity int       `json:"available_quantity"`
	SoldQuantity      int       `json:"sold_quantity"`
}

// Publisher fans events out to a session's subscribers. Delivery is
// fire-and-forget; implementations must never block the caller.
type Publisher interface {
	Publish(sessionID uuid.UUID, event Event)
}

// Flusher hands committed state to the durable store asynchronously.
// The coordinator never waits on it for admission decisions.
type Flusher interface {
	SessionChanged(ctx context.Context, s models.BroadcastSession) error
	StockChanged(ctx context.Context, s models.ProductStock) error
	ReservationChanged(ctx context.Context, r models.Reservation) error
	OrderPlaced(ctx context.Context, o models.Order) error
	SnapshotSampled(ctx context.Context, m models.SessionMetricsSnapshot) error
}

// NopPublisher discards events. Useful in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(uuid.UUID, Event) {}

// NopFlusher discards flushes. Useful in tests.
type NopFlusher struct{}

func (NopFlusher) SessionChanged(context.Context, models.BroadcastSession) error       { return nil }
func (NopFlusher) StockChanged(context.Context, models.ProductStock) error             { return nil }
func (NopFlusher) ReservationChanged(context.Context, models.Reservation) error        { return nil }
func (NopFlusher) OrderPlaced(context.Context, models.Order) error                     { return nil }
func (NopFlusher) SnapshotSampled(context.Context, models.SessionMetricsSnapshot) error { return nil }
