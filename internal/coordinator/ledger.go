package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/models"
)

// Ledger owns product stock counters. All mutation goes through
// reserve/commit/release; callers never touch counters directly.
// Each product has its own lock, so operations on different products
// never block each other. Requests on the same product serialize on
// the product mutex, which grants them in arrival order.
type Ledger struct {
	mu            sync.RWMutex
	products      map[uuid.UUID]*productEntry
	byReservation map[uuid.UUID]uuid.UUID // reservation -> product
	logger        *zap.Logger
}

type productEntry struct {
	mu           sync.Mutex
	product      models.Product
	stock        models.ProductStock
	reservations map[uuid.UUID]*models.Reservation
	committing   map[uuid.UUID]struct{} // reservations mid-payment; sweep must not expire them
}

// NewLedger creates an empty inventory ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		products:      make(map[uuid.UUID]*productEntry),
		byReservation: make(map[uuid.UUID]uuid.UUID),
		logger:        logger,
	}
}

// Track registers a product and its stock with the ledger. Existing
// entries are replaced only in their catalog fields; live counters are
// kept so a re-track cannot erase reservations.
func (l *Ledger) Track(p models.Product, totalQuantity int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.products[p.ID]; ok {
		e.mu.Lock()
		e.product = p
		e.stock.TotalQuantity = totalQuantity
		e.mu.Unlock()
		return
	}
	l.products[p.ID] = &productEntry{
		product: p,
		stock: models.ProductStock{
			ProductID:     p.ID,
			TotalQuantity: totalQuantity,
		},
		reservations: make(map[uuid.UUID]*models.Reservation),
		committing:   make(map[uuid.UUID]struct{}),
	}
}

// Restore seeds a product with previously persisted counters. Used when
// rebuilding in-memory state from the store on process start.
func (l *Ledger) Restore(p models.Product, stock models.ProductStock, held []models.Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := &productEntry{
		product:      p,
		stock:        stock,
		reservations: make(map[uuid.UUID]*models.Reservation),
		committing:   make(map[uuid.UUID]struct{}),
	}
	for i := range held {
		r := held[i]
		if r.State != models.ReservationHeld {
			continue
		}
		e.reservations[r.ID] = &r
		l.byReservation[r.ID] = p.ID
	}
	l.products[p.ID] = e
}

// Product returns the catalog entry for a product.
func (l *Ledger) Product(productID uuid.UUID) (models.Product, error) {
	e, err := l.entry(productID)
	if err != nil {
		return models.Product{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.product, nil
}

// Stock returns a copy of the current counters for a product.
func (l *Ledger) Stock(productID uuid.UUID) (models.ProductStock, error) {
	e, err := l.entry(productID)
	if err != nil {
		return models.ProductStock{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stock, nil
}

// Reserve atomically checks availability and creates a held reservation.
// The request either fully succeeds or fails with ErrInsufficientStock;
// there is no partial fulfillment.
func (l *Ledger) Reserve(productID, sessionID, viewerID uuid.UUID, quantity int, ttl time.Duration) (models.Reservation, error) {
	if quantity <= 0 {
		return models.Reservation{}, ErrInsufficientStock
	}
	e, err := l.entry(productID)
	if err != nil {
		return models.Reservation{}, err
	}

	e.mu.Lock()
	if e.stock.Available() < quantity {
		e.mu.Unlock()
		return models.Reservation{}, ErrInsufficientStock
	}
	now := time.Now().UTC()
	r := &models.Reservation{
		ID:        uuid.New(),
		ProductID: productID,
		SessionID: sessionID,
		ViewerID:  viewerID,
		Quantity:  quantity,
		State:     models.ReservationHeld,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	e.stock.ReservedQuantity += quantity
	e.reservations[r.ID] = r
	out := *r
	e.mu.Unlock()

	l.mu.Lock()
	l.byReservation[r.ID] = productID
	l.mu.Unlock()

	return out, nil
}

// Get returns a copy of a reservation.
func (l *Ledger) Get(reservationID uuid.UUID) (models.Reservation, error) {
	e, r, err := l.reservation(reservationID)
	if err != nil {
		return models.Reservation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *r, nil
}

// BeginCommit verifies a reservation is held and marks it as mid-payment
// so the expiry sweep leaves it alone while the external charge runs.
// The product lock is NOT held across the payment call; the caller must
// follow up with FinalizeCommit or AbortCommit.
func (l *Ledger) BeginCommit(reservationID uuid.UUID) (models.Reservation, error) {
	e, r, err := l.reservation(reservationID)
	if err != nil {
		return models.Reservation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.State != models.ReservationHeld {
		return models.Reservation{}, ErrReservationNotHeld
	}
	e.committing[reservationID] = struct{}{}
	return *r, nil
}

// FinalizeCommit moves a held reservation's quantity from reserved to
// sold after a successful charge. If the reservation was released or
// the session cancelled while the charge ran, it returns
// ErrReservationNotHeld and the stock accounting is left untouched.
func (l *Ledger) FinalizeCommit(reservationID uuid.UUID) (models.Reservation, models.ProductStock, error) {
	e, r, err := l.reservation(reservationID)
	if err != nil {
		return models.Reservation{}, models.ProductStock{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.committing, reservationID)
	if r.State != models.ReservationHeld {
		return models.Reservation{}, models.ProductStock{}, ErrReservationNotHeld
	}
	now := time.Now().UTC()
	e.stock.ReservedQuantity -= r.Quantity
	e.stock.SoldQuantity += r.Quantity
	r.State = models.ReservationCommitted
	r.ResolvedAt = &now
	return *r, e.stock, nil
}

// AbortCommit clears the mid-payment mark after a failed charge. The
// reservation stays held and may be retried until it expires.
func (l *Ledger) AbortCommit(reservationID uuid.UUID) {
	e, _, err := l.reservation(reservationID)
	if err != nil {
		return
	}
	e.mu.Lock()
	delete(e.committing, reservationID)
	e.mu.Unlock()
}

// Release returns a held reservation's quantity to the available pool.
// Releasing an already resolved reservation is a no-op, not an error,
// so duplicate calls from retries or cancellation are harmless.
// The returned bool reports whether stock actually changed.
func (l *Ledger) Release(reservationID uuid.UUID) (models.Reservation, models.ProductStock, bool, error) {
	e, r, err := l.reservation(reservationID)
	if err != nil {
		return models.Reservation{}, models.ProductStock{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.State != models.ReservationHeld {
		return *r, e.stock, false, nil
	}
	l.resolveLocked(e, r, models.ReservationReleased)
	return *r, e.stock, true, nil
}

// ReleaseSession releases every held reservation belonging to a session.
// Called synchronously from end/cancel so stock is never stranded.
func (l *Ledger) ReleaseSession(sessionID uuid.UUID) []models.Reservation {
	l.mu.RLock()
	entries := make([]*productEntry, 0, len(l.products))
	for _, e := range l.products {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var released []models.Reservation
	for _, e := range entries {
		e.mu.Lock()
		for _, r := range e.reservations {
			if r.SessionID != sessionID || r.State != models.ReservationHeld {
				continue
			}
			l.resolveLocked(e, r, models.ReservationReleased)
			released = append(released, *r)
		}
		e.mu.Unlock()
	}
	return released
}

// SweepExpired expires held reservations past their deadline, returning
// their quantity to the available pool. Reservations mid-payment are
// skipped until the charge settles.
func (l *Ledger) SweepExpired(now time.Time) []models.Reservation {
	l.mu.RLock()
	entries := make([]*productEntry, 0, len(l.products))
	for _, e := range l.products {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var expired []models.Reservation
	for _, e := range entries {
		e.mu.Lock()
		for id, r := range e.reservations {
			if r.State != models.ReservationHeld || now.Before(r.ExpiresAt) {
				continue
			}
			if _, inFlight := e.committing[id]; inFlight {
				continue
			}
			l.resolveLocked(e, r, models.ReservationExpired)
			expired = append(expired, *r)
		}
		e.mu.Unlock()
	}
	if len(expired) > 0 {
		l.logger.Debug("expired reservations", zap.Int("count", len(expired)))
	}
	return expired
}

// resolveLocked finalizes a held reservation into a terminal non-sold
// state. Caller holds e.mu.
func (l *Ledger) resolveLocked(e *productEntry, r *models.Reservation, state models.ReservationState) {
	now := time.Now().UTC()
	e.stock.ReservedQuantity -= r.Quantity
	r.State = state
	r.ResolvedAt = &now
}

func (l *Ledger) entry(productID uuid.UUID) (*productEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	return e, nil
}

func (l *Ledger) reservation(reservationID uuid.UUID) (*productEntry, *models.Reservation, error) {
	l.mu.RLock()
	productID, ok := l.byReservation[reservationID]
	var e *productEntry
	if ok {
		e = l.products[productID]
	}
	l.mu.RUnlock()
	if !ok || e == nil {
		return nil, nil, ErrReservationNotFound
	}
	e.mu.Lock()
	r, ok := e.reservations[reservationID]
	e.mu.Unlock()
	if !ok {
		return nil, nil, ErrReservationNotFound
	}
	return e, r, nil
}
