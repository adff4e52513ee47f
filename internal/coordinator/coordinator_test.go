package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplive/backend/internal/models"
	"github.com/shoplive/backend/internal/payments"
)

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ uuid.UUID, e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recordingPublisher) byType(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// stubAuthority scripts charge outcomes per call.
type stubAuthority struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (a *stubAuthority) Charge(_ context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.calls < len(a.results) {
		err = a.results[a.calls]
	}
	a.calls++
	if err != nil {
		return payments.ChargeResult{}, err
	}
	return payments.ChargeResult{ChargeRef: "stub-" + req.ReservationID.String()}, nil
}

func newTestCoordinator(t *testing.T, authority payments.Authority) (*Coordinator, *recordingPublisher) {
	t.Helper()
	if authority == nil {
		authority = payments.NoopAuthority{}
	}
	pub := &recordingPublisher{}
	c := New(NewLedger(nil), pub, NopFlusher{}, authority, Options{}, nil)
	return c, pub
}

func liveSession(t *testing.T, c *Coordinator) models.BroadcastSession {
	t.Helper()
	s := c.CreateSession(models.BroadcastSession{
		HostID: uuid.New(),
		Title:  "friday drop",
		Config: models.SessionConfig{AllowChat: true, AllowProducts: true},
	})
	s, err := c.Start(s.ID, false)
	require.NoError(t, err)
	return s
}

func featureProduct(t *testing.T, c *Coordinator, sessionID uuid.UUID, total int) models.Product {
	t.Helper()
	p := models.Product{ID: uuid.New(), Name: "hoodie", PriceCents: 4500, Currency: "USD"}
	c.Ledger().Track(p, total)
	require.NoError(t, c.FeatureProduct(sessionID, p.ID))
	return p
}

func TestLifecycleHappyPath(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := c.CreateSession(models.BroadcastSession{HostID: uuid.New(), Title: "launch"})
	assert.Equal(t, models.SessionScheduled, s.State)

	started, err := c.Start(s.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.SessionLive, started.State)
	require.NotNil(t, started.ActualStart)

	final, err := c.End(s.ID, false)
	require.NoError(t, err)
	got, err := c.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, got.State)
	assert.GreaterOrEqual(t, final.DurationSeconds, int64(0))
}

func TestStartTwiceRejected(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)

	_, err := c.Start(s.ID, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEndRequiresLive(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := c.CreateSession(models.BroadcastSession{HostID: uuid.New()})

	_, err := c.End(s.ID, false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := c.CreateSession(models.BroadcastSession{HostID: uuid.New()})

	require.NoError(t, c.Cancel(s.ID, "host unavailable"))
	got, err := c.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.State)
	assert.Equal(t, "host unavailable", got.CancelReason)

	// Repeat cancel succeeds without effect.
	require.NoError(t, c.Cancel(s.ID, "second call"))
	got, err = c.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "host unavailable", got.CancelReason)
}

func TestCancelReleasesHeldStock(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	p := featureProduct(t, c, s.ID, 4)

	r, err := c.Reserve(s.ID, p.ID, uuid.New(), 3, time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.Cancel(s.ID, "stream issue"))

	got, err := c.Ledger().Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationReleased, got.State)
	stock, err := c.Ledger().Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stock.Available())
}

func TestEndReleasesHeldStock(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	p := featureProduct(t, c, s.ID, 2)

	_, err := c.Reserve(s.ID, p.ID, uuid.New(), 2, time.Minute)
	require.NoError(t, err)

	_, err = c.End(s.ID, true)
	require.NoError(t, err)

	stock, err := c.Ledger().Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stock.Available())
	assert.Equal(t, 0, stock.SoldQuantity)
}

func TestUpdateRejectedWhenTerminal(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := c.CreateSession(models.BroadcastSession{HostID: uuid.New()})
	require.NoError(t, c.Cancel(s.ID, "no show"))

	title := "new title"
	_, err := c.Update(s.ID, SessionPatch{Title: &title})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJoinBeforeStart(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := c.CreateSession(models.BroadcastSession{
		HostID: uuid.New(),
		Config: models.SessionConfig{AllowProducts: true},
	})
	p := featureProduct(t, c, s.ID, 5)
	viewer := uuid.New()

	// Waiting in a scheduled session is allowed.
	_, err := c.Join(s.ID, viewer)
	require.NoError(t, err)

	// Buying is not, until the host goes live.
	_, err = c.Reserve(s.ID, p.ID, viewer, 1, time.Minute)
	assert.ErrorIs(t, err, ErrSessionNotLive)

	_, err = c.Start(s.ID, false)
	require.NoError(t, err)
	_, err = c.Reserve(s.ID, p.ID, viewer, 1, time.Minute)
	assert.NoError(t, err)
}

func TestJoinTerminalSessionRejected(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	_, err := c.End(s.ID, false)
	require.NoError(t, err)

	_, err = c.Join(s.ID, uuid.New())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestJoinCapacity(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := c.CreateSession(models.BroadcastSession{
		HostID: uuid.New(),
		Config: models.SessionConfig{MaxViewers: 2},
	})
	first := uuid.New()
	_, err := c.Join(s.ID, first)
	require.NoError(t, err)
	_, err = c.Join(s.ID, uuid.New())
	require.NoError(t, err)

	_, err = c.Join(s.ID, uuid.New())
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// A reconnect of a present viewer is not a new admission.
	_, err = c.Join(s.ID, first)
	assert.NoError(t, err)
}

func TestLeaveIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	viewer := uuid.New()
	_, err := c.Join(s.ID, viewer)
	require.NoError(t, err)

	require.NoError(t, c.Leave(s.ID, viewer))
	require.NoError(t, c.Leave(s.ID, viewer))

	viewers, err := c.Viewers(s.ID)
	require.NoError(t, err)
	assert.Empty(t, viewers)
}

func TestPresenceSweepEvictsStaleViewers(t *testing.T) {
	c, pub := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	stale := uuid.New()
	fresh := uuid.New()
	_, err := c.Join(s.ID, stale)
	require.NoError(t, err)
	_, err = c.Join(s.ID, fresh)
	require.NoError(t, err)

	// Age one presence past the timeout, then heartbeat the other.
	e, err := c.entry(s.ID)
	require.NoError(t, err)
	e.mu.Lock()
	e.presences[stale].LastSeenAt = time.Now().UTC().Add(-2 * c.opts.PresenceTimeout)
	e.mu.Unlock()
	require.NoError(t, c.Heartbeat(s.ID, fresh))

	c.sweepPresences(time.Now().UTC())

	viewers, err := c.Viewers(s.ID)
	require.NoError(t, err)
	require.Len(t, viewers, 1)
	assert.Equal(t, fresh, viewers[0].ViewerID)

	left := pub.byType(EventViewerLeft)
	require.Len(t, left, 1)
	data := left[0].Data.(ViewerEventData)
	assert.Equal(t, stale, data.ViewerID)
}

func TestHeartbeatWithoutPresenceIsNoop(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)

	require.NoError(t, c.Heartbeat(s.ID, uuid.New()))
	viewers, err := c.Viewers(s.ID)
	require.NoError(t, err)
	assert.Empty(t, viewers)
}

func TestReserveRequiresFeaturedProduct(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	p := models.Product{ID: uuid.New(), Name: "unfeatured", PriceCents: 100, Currency: "USD"}
	c.Ledger().Track(p, 5)

	_, err := c.Reserve(s.ID, p.ID, uuid.New(), 1, time.Minute)
	assert.ErrorIs(t, err, ErrProductNotFeatured)
}

func TestCommitProducesOrder(t *testing.T) {
	c, pub := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	p := featureProduct(t, c, s.ID, 5)
	viewer := uuid.New()

	r, err := c.Reserve(s.ID, p.ID, viewer, 2, time.Minute)
	require.NoError(t, err)

	order, err := c.Commit(context.Background(), r.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, r.ID, order.ReservationID)
	assert.Equal(t, p.PriceCents*2, order.AmountCents)
	assert.NotEmpty(t, order.ChargeRef)

	stock, err := c.Ledger().Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stock.SoldQuantity)
	assert.Equal(t, 0, stock.ReservedQuantity)

	require.Len(t, pub.byType(EventPurchase), 1)

	snap, err := c.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.PurchaseCount)
	assert.Equal(t, order.AmountCents, snap.RevenueTotalCents)
}

func TestCommitDeclineLeavesReservationHeld(t *testing.T) {
	auth := &stubAuthority{results: []error{payments.ErrDeclined, nil}}
	c, _ := newTestCoordinator(t, auth)
	s := liveSession(t, c)
	p := featureProduct(t, c, s.ID, 5)

	r, err := c.Reserve(s.ID, p.ID, uuid.New(), 1, time.Minute)
	require.NoError(t, err)

	_, err = c.Commit(context.Background(), r.ID, 0)
	require.ErrorIs(t, err, ErrPaymentFailed)

	// The hold survives the decline and the retry succeeds.
	got, err := c.Ledger().Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationHeld, got.State)

	order, err := c.Commit(context.Background(), r.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, order.Quantity)
}

func TestCommitResolvedReservationRejected(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	p := featureProduct(t, c, s.ID, 5)

	r, err := c.Reserve(s.ID, p.ID, uuid.New(), 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Release(r.ID))

	_, err = c.Commit(context.Background(), r.ID, 0)
	assert.ErrorIs(t, err, ErrReservationNotHeld)
}

func TestReservationSweepFreesStock(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	p := featureProduct(t, c, s.ID, 1)

	_, err := c.Reserve(s.ID, p.ID, uuid.New(), 1, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = c.Reserve(s.ID, p.ID, uuid.New(), 1, time.Minute)
	require.ErrorIs(t, err, ErrInsufficientStock)

	c.sweepReservations(time.Now().UTC().Add(time.Second))

	_, err = c.Reserve(s.ID, p.ID, uuid.New(), 1, time.Minute)
	assert.NoError(t, err)
}

func TestChatFoldsIntoMetrics(t *testing.T) {
	c, pub := newTestCoordinator(t, nil)
	s := liveSession(t, c)
	viewer := uuid.New()
	_, err := c.Join(s.ID, viewer)
	require.NoError(t, err)

	require.NoError(t, c.Chat(s.ID, viewer, "is this restocking?"))
	require.NoError(t, c.Chat(s.ID, viewer, "take my money"))

	snap, err := c.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ChatMessageCount)
	assert.Len(t, pub.byType(EventChatMessage), 2)
}

func TestChatDisabled(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := c.CreateSession(models.BroadcastSession{HostID: uuid.New()})

	err := c.Chat(s.ID, uuid.New(), "hello")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPeakViewersNeverDecreases(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)

	viewers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, v := range viewers {
		_, err := c.Join(s.ID, v)
		require.NoError(t, err)
	}
	require.NoError(t, c.Leave(s.ID, viewers[0]))
	require.NoError(t, c.Leave(s.ID, viewers[1]))

	snap, err := c.Snapshot(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ViewerCount)
	assert.Equal(t, 3, snap.PeakViewerCount)
}

func TestFinalAnalyticsCountsUniqueViewers(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	s := liveSession(t, c)

	early := uuid.New()
	_, err := c.Join(s.ID, early)
	require.NoError(t, err)
	require.NoError(t, c.Leave(s.ID, early))
	_, err = c.Join(s.ID, uuid.New())
	require.NoError(t, err)
	// A rejoin is still one unique viewer.
	_, err = c.Join(s.ID, early)
	require.NoError(t, err)

	final, err := c.End(s.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, final.TotalUniqueViewers)
	assert.Equal(t, 2, final.ViewerCount)
}

func TestEngagementScoreWeights(t *testing.T) {
	assert.Equal(t, 0.0, engagementScore(0, 0, 0))
	assert.Equal(t, 1.0, engagementScore(1, 0, 0))
	assert.Equal(t, 5.0, engagementScore(0, 0, 1))
	assert.Equal(t, 0.5, engagementScore(0, 1, 0))
	assert.Equal(t, 13.0, engagementScore(3, 10, 1))
}

func TestSessionNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	_, err := c.Session(uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = c.Join(uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRestoreSessionSkipsTerminal(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	ended := models.BroadcastSession{ID: uuid.New(), State: models.SessionEnded}
	c.RestoreSession(ended, nil)
	_, err := c.Session(ended.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	live := models.BroadcastSession{ID: uuid.New(), State: models.SessionLive, Config: models.SessionConfig{AllowProducts: true}}
	p := models.Product{ID: uuid.New(), Name: "restored", PriceCents: 900, Currency: "USD"}
	c.Ledger().Track(p, 3)
	c.RestoreSession(live, []uuid.UUID{p.ID})

	_, err = c.Reserve(live.ID, p.ID, uuid.New(), 1, time.Minute)
	assert.NoError(t, err)
}

var _ Publisher = (*recordingPublisher)(nil)
var _ payments.Authority = (*stubAuthority)(nil)
