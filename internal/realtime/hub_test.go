package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shoplive/backend/internal/coordinator"
)

func recvEvent(t *testing.T, sub *Subscription) coordinator.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return coordinator.Event{}
	}
}

func TestSubscribeDeliversConnectedSnapshot(t *testing.T) {
	h := NewHub(nil, nil, nil, time.Minute)
	sessionID := uuid.New()
	h.SetSnapshotProvider(func(id uuid.UUID) (interface{}, bool) {
		return map[string]int{"viewer_count": 7}, id == sessionID
	})

	sub := h.Subscribe(sessionID)
	defer sub.Close()

	e := recvEvent(t, sub)
	assert.Equal(t, coordinator.EventConnected, e.Type)
	assert.Equal(t, sessionID, e.SessionID)
	assert.NotNil(t, e.Data)
	assert.Equal(t, 1, h.SubscriberCount(sessionID))
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := NewHub(nil, nil, nil, time.Minute)
	sessionID := uuid.New()

	a := h.Subscribe(sessionID)
	b := h.Subscribe(sessionID)
	defer a.Close()
	defer b.Close()
	recvEvent(t, a)
	recvEvent(t, b)

	h.Publish(sessionID, coordinator.NewEvent(coordinator.EventViewerJoined, sessionID, nil))

	assert.Equal(t, coordinator.EventViewerJoined, recvEvent(t, a).Type)
	assert.Equal(t, coordinator.EventViewerJoined, recvEvent(t, b).Type)
}

func TestPublishScopedToSession(t *testing.T) {
	h := NewHub(nil, nil, nil, time.Minute)
	target := uuid.New()
	other := uuid.New()

	sub := h.Subscribe(other)
	defer sub.Close()
	recvEvent(t, sub)

	h.Publish(target, coordinator.NewEvent(coordinator.EventPurchase, target, nil))

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected cross-session delivery: %v", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDroppedOthersUnaffected(t *testing.T) {
	h := NewHub(nil, nil, nil, time.Minute)
	sessionID := uuid.New()

	slow := h.Subscribe(sessionID)
	healthy := h.Subscribe(sessionID)
	defer healthy.Close()
	// The healthy subscriber drains its connected event; the slow one
	// never reads at all.
	recvEvent(t, healthy)

	for i := 0; i < DefaultSubscriberBuffer; i++ {
		h.Publish(sessionID, coordinator.NewEvent(coordinator.EventMetricsUpdate, sessionID, nil))
	}

	assert.Equal(t, 1, h.SubscriberCount(sessionID), "slow subscriber dropped")

	// The healthy subscriber got the full stream.
	for i := 0; i < DefaultSubscriberBuffer; i++ {
		assert.Equal(t, coordinator.EventMetricsUpdate, recvEvent(t, healthy).Type)
	}

	// The slow subscriber's channel ends; whatever was buffered first.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-slow.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("slow subscriber channel never closed")
		}
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := NewHub(nil, nil, nil, time.Minute)
	sessionID := uuid.New()
	sub := h.Subscribe(sessionID)
	recvEvent(t, sub)

	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, h.SubscriberCount(sessionID))
}

func TestRunEmitsHeartbeatsAndStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := NewHub(nil, nil, nil, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	sessionID := uuid.New()
	sub := h.Subscribe(sessionID)
	recvEvent(t, sub)

	e := recvEvent(t, sub)
	assert.Equal(t, coordinator.EventHeartbeat, e.Type)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}

	// Shutdown closes every remaining subscription.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed on shutdown")
		}
	}
}

func newBridgeHub(t *testing.T, addr string) *Hub {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ps := NewRedisPubSub(client, nil)
	return NewHub(nil, ps, ps, time.Minute)
}

func TestRedisBridgeDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	hubA := newBridgeHub(t, mr.Addr())
	hubB := newBridgeHub(t, mr.Addr())
	sessionID := uuid.New()

	subB := subscribeDrained(t, hubB, sessionID)
	defer subB.Close()

	hubA.Publish(sessionID, coordinator.NewEvent(coordinator.EventPurchase, sessionID, nil))

	e := recvEvent(t, subB)
	assert.Equal(t, coordinator.EventPurchase, e.Type)
	assert.Equal(t, sessionID, e.SessionID)
}

func TestRedisBridgeSkipsOwnEcho(t *testing.T) {
	mr := miniredis.RunT(t)

	hub := newBridgeHub(t, mr.Addr())
	sessionID := uuid.New()
	sub := subscribeDrained(t, hub, sessionID)
	defer sub.Close()

	hub.Publish(sessionID, coordinator.NewEvent(coordinator.EventViewerJoined, sessionID, nil))

	// Exactly one local delivery; the Redis echo is discarded.
	e := recvEvent(t, sub)
	assert.Equal(t, coordinator.EventViewerJoined, e.Type)
	select {
	case dup := <-sub.Events():
		t.Fatalf("duplicate delivery via redis echo: %v", dup.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

// subscribeDrained subscribes and drains the connected event.
func subscribeDrained(t *testing.T, hub *Hub, sessionID uuid.UUID) *Subscription {
	t.Helper()
	sub := hub.Subscribe(sessionID)
	recvEvent(t, sub)
	return sub
}
