// Package coordinator implements the live session coordinator: the
// session lifecycle state machine, the inventory ledger, the viewer
// registry and the metrics aggregator. All state is process-local and
// is the source of truth for admission decisions; the durable store is
// written asynchronously through a Flusher.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/models"
	"github.com/shoplive/backend/internal/payments"
)

// Options are the coordinator's policy knobs. They are configuration,
// not contract; zero values fall back to the defaults below.
type Options struct {
	ReservationTTL   time.Duration // default cart hold
	ReservationSweep time.Duration // expiry sweep cadence
	PresenceTimeout  time.Duration // viewer considered gone after this idle time
	PresenceSweep    time.Duration // presence eviction cadence
}

func (o Options) withDefaults() Options {
	if o.ReservationTTL <= 0 {
		o.ReservationTTL = 3 * time.Minute
	}
	if o.ReservationSweep <= 0 {
		o.ReservationSweep = 5 * time.Second
	}
	if o.PresenceTimeout <= 0 {
		o.PresenceTimeout = 60 * time.Second
	}
	if o.PresenceSweep <= 0 {
		o.PresenceSweep = 15 * time.Second
	}
	return o
}

// sessionEntry holds all per-session state. Its mutex serializes every
// mutating operation for the session; different sessions never contend.
type sessionEntry struct {
	mu            sync.Mutex
	session       models.BroadcastSession
	presences     map[uuid.UUID]*models.ViewerPresence
	uniqueViewers map[uuid.UUID]struct{}
	products      map[uuid.UUID]struct{} // featured product IDs
	chatCount     int
	purchaseCount int
	revenueCents  int64
	peakViewers   int
	lastSnapshot  models.SessionMetricsSnapshot
}

func newSessionEntry(s models.BroadcastSession) *sessionEntry {
	return &sessionEntry{
		session:       s,
		presences:     make(map[uuid.UUID]*models.ViewerPresence),
		uniqueViewers: make(map[uuid.UUID]struct{}),
		products:      make(map[uuid.UUID]struct{}),
	}
}

// Coordinator drives broadcast sessions and their inventory. Safe for
// concurrent use by many callers.
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionEntry

	ledger    *Ledger
	pub       Publisher
	flusher   Flusher
	authority payments.Authority
	opts      Options
	logger    *zap.Logger
}

// New creates a coordinator. Publisher, flusher and authority may not
// be nil; pass NopPublisher/NopFlusher/payments.NoopAuthority in tests.
func New(ledger *Ledger, pub Publisher, flusher Flusher, authority payments.Authority, opts Options, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		sessions:  make(map[uuid.UUID]*sessionEntry),
		ledger:    ledger,
		pub:       pub,
		flusher:   flusher,
		authority: authority,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// Ledger exposes the inventory ledger (read paths for handlers).
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// CreateSession registers a new scheduled session.
func (c *Coordinator) CreateSession(s models.BroadcastSession) models.BroadcastSession {
	now := time.Now().UTC()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.State = models.SessionScheduled
	s.CreatedAt = now
	s.UpdatedAt = now

	c.mu.Lock()
	c.sessions[s.ID] = newSessionEntry(s)
	c.mu.Unlock()

	c.flushSession(s)
	return s
}

// RestoreSession seeds a session rebuilt from the store, including its
// featured products. Terminal sessions are ignored.
func (c *Coordinator) RestoreSession(s models.BroadcastSession, featured []uuid.UUID) {
	if s.State.Terminal() {
		return
	}
	e := newSessionEntry(s)
	for _, id := range featured {
		e.products[id] = struct{}{}
	}
	c.mu.Lock()
	c.sessions[s.ID] = e
	c.mu.Unlock()
}

// Session returns a copy of the session's current state.
func (c *Coordinator) Session(sessionID uuid.UUID) (models.BroadcastSession, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return models.BroadcastSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, nil
}

// Snapshot returns the latest metrics snapshot for a session.
func (c *Coordinator) Snapshot(sessionID uuid.UUID) (models.SessionMetricsSnapshot, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return models.SessionMetricsSnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastSnapshot.SessionID == uuid.Nil {
		return e.recompute(time.Now().UTC()), nil
	}
	return e.lastSnapshot, nil
}

// SessionPatch are the mutable config fields of a session.
type SessionPatch struct {
	Title         *string
	Category      *string
	Tags          *[]string
	MaxViewers    *int
	AllowChat     *bool
	AllowProducts *bool
}

// Update mutates session config. Rejected once the session is terminal.
func (c *Coordinator) Update(sessionID uuid.UUID, patch SessionPatch) (models.BroadcastSession, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return models.BroadcastSession{}, err
	}
	e.mu.Lock()
	if e.session.State.Terminal() {
		e.mu.Unlock()
		return models.BroadcastSession{}, ErrInvalidTransition
	}
	if patch.Title != nil {
		e.session.Title = *patch.Title
	}
	if patch.Category != nil {
		e.session.Category = *patch.Category
	}
	if patch.Tags != nil {
		e.session.Config.Tags = *patch.Tags
	}
	if patch.MaxViewers != nil {
		e.session.Config.MaxViewers = *patch.MaxViewers
	}
	if patch.AllowChat != nil {
		e.session.Config.AllowChat = *patch.AllowChat
	}
	if patch.AllowProducts != nil {
		e.session.Config.AllowProducts = *patch.AllowProducts
	}
	e.session.UpdatedAt = time.Now().UTC()
	s := e.session
	e.mu.Unlock()

	c.flushSession(s)
	return s, nil
}

// FeatureProduct makes a ledger-tracked product purchasable in a session.
func (c *Coordinator) FeatureProduct(sessionID, productID uuid.UUID) error {
	if _, err := c.ledger.Product(productID); err != nil {
		return err
	}
	e, err := c.entry(sessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.session.State.Terminal() {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	e.products[productID] = struct{}{}
	e.mu.Unlock()

	if stock, err := c.ledger.Stock(productID); err == nil {
		c.pub.Publish(sessionID, NewEvent(EventProductUpdate, sessionID, StockEventData{
			ProductID:         productID,
			AvailableQuantity: stock.Available(),
			SoldQuantity:      stock.SoldQuantity,
		}))
	}
	return nil
}

// FeaturedProducts lists the product IDs featured in a session.
func (c *Coordinator) FeaturedProducts(sessionID uuid.UUID) ([]uuid.UUID, error) {
	e, err := c.entry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uuid.UUID, 0, len(e.products))
	for id := range e.products {
		out = append(out, id)
	}
	return out, nil
}

// Run drives the background sweeps until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	resTicker := time.NewTicker(c.opts.ReservationSweep)
	presTicker := time.NewTicker(c.opts.PresenceSweep)
	defer resTicker.Stop()
	defer presTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resTicker.C:
			c.sweepReservations(time.Now().UTC())
		case <-presTicker.C:
			c.sweepPresences(time.Now().UTC())
		}
	}
}

func (c *Coordinator) entry(sessionID uuid.UUID) (*sessionEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (c *Coordinator) entries() []*sessionEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*sessionEntry, 0, len(c.sessions))
	for _, e := range c.sessions {
		out = append(out, e)
	}
	return out
}

func (c *Coordinator) flushSession(s models.BroadcastSession) {
	if err := c.flusher.SessionChanged(context.Background(), s); err != nil {
		c.logger.Warn("flush session", zap.String("session_id", s.ID.String()), zap.Error(err))
	}
}

func (c *Coordinator) flushStock(s models.ProductStock) {
	if err := c.flusher.StockChanged(context.Background(), s); err != nil {
		c.logger.Warn("flush stock", zap.String("product_id", s.ProductID.String()), zap.Error(err))
	}
}

func (c *Coordinator) flushReservation(r models.Reservation) {
	if err := c.flusher.ReservationChanged(context.Background(), r); err != nil {
		c.logger.Warn("flush reservation", zap.String("reservation_id", r.ID.String()), zap.Error(err))
	}
}

func (c *Coordinator) flushOrder(o models.Order) {
	if err := c.flusher.OrderPlaced(context.Background(), o); err != nil {
		c.logger.Warn("flush order", zap.String("order_id", o.ID.String()), zap.Error(err))
	}
}

func (c *Coordinator) flushSnapshot(m models.SessionMetricsSnapshot) {
	if err := c.flusher.SnapshotSampled(context.Background(), m); err != nil {
		c.logger.Warn("flush snapshot", zap.String("session_id", m.SessionID.String()), zap.Error(err))
	}
}

// publishReleased fans out stock updates and flushes rows for a batch of
// resolved reservations (release, expiry, cancellation).
func (c *Coordinator) publishReleased(rs []models.Reservation) {
	for _, r := range rs {
		c.flushReservation(r)
		stock, err := c.ledger.Stock(r.ProductID)
		if err != nil {
			continue
		}
		c.flushStock(stock)
		c.pub.Publish(r.SessionID, NewEvent(EventProductUpdate, r.SessionID, StockEventData{
			ProductID:         r.ProductID,
			AvailableQuantity: stock.Available(),
			SoldQuantity:      stock.SoldQuantity,
		}))
	}
}
