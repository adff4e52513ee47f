package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive/backend/internal/models"
	"github.com/shoplive/backend/internal/payments"
)

// Reserve places a hold on product stock for a viewer. Reservations are
// only accepted while the session is live and only for products featured
// in it. A ttl of zero uses the configured default.
func (c *Coordinator) Reserve(sessionID, productID, viewerID uuid.UUID, quantity int, ttl time.Duration) (models.Reservation, error) {
	if ttl <= 0 {
		ttl = c.opts.ReservationTTL
	}
	e, err := c.entry(sessionID)
	if err != nil {
		return models.Reservation{}, err
	}

	// The session lock is held across the ledger call so a concurrent
	// end/cancel cannot slip a new hold in after its release pass.
	e.mu.Lock()
	if e.session.State != models.SessionLive {
		e.mu.Unlock()
		return models.Reservation{}, ErrSessionNotLive
	}
	if !e.session.Config.AllowProducts {
		e.mu.Unlock()
		return models.Reservation{}, ErrProductNotFeatured
	}
	if _, ok := e.products[productID]; !ok {
		e.mu.Unlock()
		return models.Reservation{}, ErrProductNotFeatured
	}
	r, err := c.ledger.Reserve(productID, sessionID, viewerID, quantity, ttl)
	e.mu.Unlock()
	if err != nil {
		return models.Reservation{}, err
	}

	c.flushReservation(r)
	if stock, serr := c.ledger.Stock(productID); serr == nil {
		c.flushStock(stock)
		c.pub.Publish(sessionID, NewEvent(EventProductUpdate, sessionID, StockEventData{
			ProductID:         productID,
			AvailableQuantity: stock.Available(),
			SoldQuantity:      stock.SoldQuantity,
		}))
	}
	return r, nil
}

// Commit captures payment for a held reservation and converts its
// quantity from reserved to sold. The per-product lock is NOT held
// across the payment authority call: the ledger verifies the hold,
// the lock is dropped for the charge, then the commit is finalized
// (or left held on decline, so the caller may retry within TTL).
func (c *Coordinator) Commit(ctx context.Context, reservationID uuid.UUID, amountCents int64) (models.Order, error) {
	res, err := c.ledger.BeginCommit(reservationID)
	if err != nil {
		return models.Order{}, err
	}

	product, err := c.ledger.Product(res.ProductID)
	if err != nil {
		c.ledger.AbortCommit(reservationID)
		return models.Order{}, err
	}
	if amountCents <= 0 {
		amountCents = product.PriceCents * int64(res.Quantity)
	}

	charge, err := c.authority.Charge(ctx, payments.ChargeRequest{
		ReservationID: res.ID,
		SessionID:     res.SessionID,
		ViewerID:      res.ViewerID,
		AmountCents:   amountCents,
		Currency:      product.Currency,
	})
	if err != nil {
		c.ledger.AbortCommit(reservationID)
		c.logger.Info("charge failed, reservation stays held",
			zap.String("reservation_id", reservationID.String()),
			zap.Error(err))
		return models.Order{}, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	committed, stock, err := c.ledger.FinalizeCommit(reservationID)
	if err != nil {
		// The hold was resolved while the charge ran (session cancel or
		// explicit release). The captured charge needs manual follow-up.
		c.logger.Error("charged but reservation no longer held",
			zap.String("reservation_id", reservationID.String()),
			zap.String("charge_ref", charge.ChargeRef),
			zap.Error(err))
		return models.Order{}, err
	}

	order := models.Order{
		ID:            uuid.New(),
		ReservationID: committed.ID,
		SessionID:     committed.SessionID,
		ProductID:     committed.ProductID,
		ViewerID:      committed.ViewerID,
		Quantity:      committed.Quantity,
		AmountCents:   amountCents,
		Currency:      product.Currency,
		ChargeRef:     charge.ChargeRef,
		CreatedAt:     time.Now().UTC(),
	}

	// Fold the purchase into the session metrics.
	var snap models.SessionMetricsSnapshot
	if e, serr := c.entry(committed.SessionID); serr == nil {
		e.mu.Lock()
		e.purchaseCount++
		e.revenueCents += amountCents
		snap = e.recompute(time.Now().UTC())
		e.mu.Unlock()
	}

	c.flushReservation(committed)
	c.flushStock(stock)
	c.flushOrder(order)

	c.pub.Publish(committed.SessionID, NewEvent(EventPurchase, committed.SessionID, PurchaseEventData{
		ProductID:   committed.ProductID,
		ViewerID:    committed.ViewerID,
		Quantity:    committed.Quantity,
		AmountCents: amountCents,
	}))
	c.pub.Publish(committed.SessionID, NewEvent(EventProductUpdate, committed.SessionID, StockEventData{
		ProductID:         committed.ProductID,
		AvailableQuantity: stock.Available(),
		SoldQuantity:      stock.SoldQuantity,
	}))
	if snap.SessionID != uuid.Nil {
		c.pub.Publish(committed.SessionID, NewEvent(EventMetricsUpdate, committed.SessionID, snap))
	}
	return order, nil
}

// Release returns a held reservation's quantity to the available pool.
// Releasing an already resolved reservation succeeds without effect.
func (c *Coordinator) Release(reservationID uuid.UUID) error {
	r, stock, changed, err := c.ledger.Release(reservationID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	c.flushReservation(r)
	c.flushStock(stock)
	c.pub.Publish(r.SessionID, NewEvent(EventProductUpdate, r.SessionID, StockEventData{
		ProductID:         r.ProductID,
		AvailableQuantity: stock.Available(),
		SoldQuantity:      stock.SoldQuantity,
	}))
	return nil
}

// sweepReservations expires stale holds on the configured cadence.
func (c *Coordinator) sweepReservations(now time.Time) {
	expired := c.ledger.SweepExpired(now)
	if len(expired) == 0 {
		return
	}
	c.publishReleased(expired)
}
