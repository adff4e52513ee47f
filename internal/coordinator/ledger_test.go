package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplive/backend/internal/models"
)

func testProduct(t *testing.T, l *Ledger, total int) models.Product {
	t.Helper()
	p := models.Product{
		ID:         uuid.New(),
		SellerID:   uuid.New(),
		Name:       "limited sneaker",
		PriceCents: 12900,
		Currency:   "USD",
	}
	l.Track(p, total)
	return p
}

func TestReserveDecrementsAvailable(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 10)

	r, err := l.Reserve(p.ID, uuid.New(), uuid.New(), 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationHeld, r.State)
	assert.Equal(t, 3, r.Quantity)

	stock, err := l.Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stock.Available())
	assert.Equal(t, 3, stock.ReservedQuantity)
	assert.Equal(t, 0, stock.SoldQuantity)
}

func TestReserveInsufficientStock(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 2)

	_, err := l.Reserve(p.ID, uuid.New(), uuid.New(), 3, time.Minute)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// No partial fulfillment: the failed request must not touch counters.
	stock, err := l.Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stock.Available())
}

func TestReserveUnknownProduct(t *testing.T) {
	l := NewLedger(nil)
	_, err := l.Reserve(uuid.New(), uuid.New(), uuid.New(), 1, time.Minute)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestConcurrentReserveLastUnit(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 1)
	sessionID := uuid.New()

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(p.ID, sessionID, uuid.New(), 1, time.Minute)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var granted, denied int
	for err := range results {
		if err == nil {
			granted++
		} else {
			assert.ErrorIs(t, err, ErrInsufficientStock)
			denied++
		}
	}
	assert.Equal(t, 1, granted, "exactly one caller wins the last unit")
	assert.Equal(t, callers-1, denied)

	stock, err := l.Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stock.Available())
	assert.LessOrEqual(t, stock.ReservedQuantity+stock.SoldQuantity, stock.TotalQuantity)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 20)
	sessionID := uuid.New()

	const callers = 50
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Reserve(p.ID, sessionID, uuid.New(), 3, time.Minute)
		}()
	}
	wg.Wait()

	stock, err := l.Stock(p.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stock.Available(), 0)
	assert.LessOrEqual(t, stock.ReservedQuantity+stock.SoldQuantity, stock.TotalQuantity)
}

func TestCommitMovesReservedToSold(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 5)

	r, err := l.Reserve(p.ID, uuid.New(), uuid.New(), 2, time.Minute)
	require.NoError(t, err)

	_, err = l.BeginCommit(r.ID)
	require.NoError(t, err)
	committed, stock, err := l.FinalizeCommit(r.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ReservationCommitted, committed.State)
	assert.NotNil(t, committed.ResolvedAt)
	assert.Equal(t, 0, stock.ReservedQuantity)
	assert.Equal(t, 2, stock.SoldQuantity)
	assert.Equal(t, 3, stock.Available())
}

func TestCommitOnResolvedReservation(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 5)

	r, err := l.Reserve(p.ID, uuid.New(), uuid.New(), 2, time.Minute)
	require.NoError(t, err)
	_, _, changed, err := l.Release(r.ID)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = l.BeginCommit(r.ID)
	assert.ErrorIs(t, err, ErrReservationNotHeld)
}

func TestFinalizeAfterConcurrentRelease(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 5)

	r, err := l.Reserve(p.ID, uuid.New(), uuid.New(), 2, time.Minute)
	require.NoError(t, err)
	_, err = l.BeginCommit(r.ID)
	require.NoError(t, err)

	// The hold is resolved while the payment call would be in flight.
	_, _, changed, err := l.Release(r.ID)
	require.NoError(t, err)
	require.True(t, changed)

	_, _, err = l.FinalizeCommit(r.ID)
	assert.ErrorIs(t, err, ErrReservationNotHeld)

	stock, err := l.Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stock.Available())
	assert.Equal(t, 0, stock.SoldQuantity)
}

func TestReleaseIdempotent(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 5)

	r, err := l.Reserve(p.ID, uuid.New(), uuid.New(), 2, time.Minute)
	require.NoError(t, err)

	_, _, changed, err := l.Release(r.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	// Second release is a no-op, not an error.
	_, stock, changed, err := l.Release(r.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 5, stock.Available())
}

func TestReleaseUnknownReservation(t *testing.T) {
	l := NewLedger(nil)
	_, _, _, err := l.Release(uuid.New())
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestSweepExpiredReturnsStock(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 2)

	r, err := l.Reserve(p.ID, uuid.New(), uuid.New(), 2, 50*time.Millisecond)
	require.NoError(t, err)

	// A later reserve fails while the hold is alive.
	_, err = l.Reserve(p.ID, uuid.New(), uuid.New(), 2, time.Minute)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	expired := l.SweepExpired(time.Now().UTC().Add(time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, r.ID, expired[0].ID)
	assert.Equal(t, models.ReservationExpired, expired[0].State)

	// Once swept, the same quantity is grantable again.
	_, err = l.Reserve(p.ID, uuid.New(), uuid.New(), 2, time.Minute)
	assert.NoError(t, err)
}

func TestSweepSkipsReservationMidPayment(t *testing.T) {
	l := NewLedger(nil)
	p := testProduct(t, l, 2)

	r, err := l.Reserve(p.ID, uuid.New(), uuid.New(), 1, time.Millisecond)
	require.NoError(t, err)
	_, err = l.BeginCommit(r.ID)
	require.NoError(t, err)

	expired := l.SweepExpired(time.Now().UTC().Add(time.Hour))
	assert.Empty(t, expired, "in-flight commit must not be expired")

	l.AbortCommit(r.ID)
	expired = l.SweepExpired(time.Now().UTC().Add(time.Hour))
	assert.Len(t, expired, 1)
}

func TestReleaseSession(t *testing.T) {
	l := NewLedger(nil)
	p1 := testProduct(t, l, 3)
	p2 := testProduct(t, l, 3)
	sessionID := uuid.New()
	other := uuid.New()

	_, err := l.Reserve(p1.ID, sessionID, uuid.New(), 2, time.Minute)
	require.NoError(t, err)
	_, err = l.Reserve(p2.ID, sessionID, uuid.New(), 1, time.Minute)
	require.NoError(t, err)
	keep, err := l.Reserve(p2.ID, other, uuid.New(), 1, time.Minute)
	require.NoError(t, err)

	released := l.ReleaseSession(sessionID)
	assert.Len(t, released, 2)

	s1, _ := l.Stock(p1.ID)
	s2, _ := l.Stock(p2.ID)
	assert.Equal(t, 3, s1.Available())
	assert.Equal(t, 2, s2.Available(), "the other session's hold survives")

	got, err := l.Get(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationHeld, got.State)
}

func TestRestoreRebuildsHeldReservations(t *testing.T) {
	l := NewLedger(nil)
	p := models.Product{ID: uuid.New(), Name: "restored", PriceCents: 100, Currency: "USD"}
	held := models.Reservation{
		ID:        uuid.New(),
		ProductID: p.ID,
		SessionID: uuid.New(),
		ViewerID:  uuid.New(),
		Quantity:  2,
		State:     models.ReservationHeld,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	l.Restore(p, models.ProductStock{ProductID: p.ID, TotalQuantity: 5, ReservedQuantity: 2}, []models.Reservation{held})

	stock, err := l.Stock(p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stock.Available())

	_, _, changed, err := l.Release(held.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	stock, _ = l.Stock(p.ID)
	assert.Equal(t, 5, stock.Available())
}
