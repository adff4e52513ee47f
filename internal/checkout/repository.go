package checkout

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive/backend/internal/models"
)

// Repository handles reservation and order persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a checkout repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertReservation writes a reservation row, replacing its state.
func (r *Repository) UpsertReservation(ctx context.Context, res models.Reservation) error {
	const q = `INSERT INTO reservations (id, product_id, session_id, viewer_id, quantity, state, expires_at, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			expires_at = EXCLUDED.expires_at,
			resolved_at = EXCLUDED.resolved_at`
	_, err := r.pool.Exec(ctx, q,
		res.ID, res.ProductID, res.SessionID, res.ViewerID, res.Quantity,
		res.State, res.ExpiresAt, res.CreatedAt, res.ResolvedAt)
	return err
}

// ListHeldByProduct returns the held reservations for a product, used
// to rebuild the ledger on process start.
func (r *Repository) ListHeldByProduct(ctx context.Context, productID uuid.UUID) ([]models.Reservation, error) {
	const q = `SELECT id, product_id, session_id, viewer_id, quantity, state, expires_at, created_at, resolved_at
		FROM reservations WHERE product_id = $1 AND state = 'held' ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Reservation
	for rows.Next() {
		var res models.Reservation
		if err := rows.Scan(&res.ID, &res.ProductID, &res.SessionID, &res.ViewerID, &res.Quantity,
			&res.State, &res.ExpiresAt, &res.CreatedAt, &res.ResolvedAt); err != nil {
			return nil, err
		}
		list = append(list, res)
	}
	return list, rows.Err()
}

// InsertOrder records a committed purchase.
func (r *Repository) InsertOrder(ctx context.Context, o models.Order) error {
	const q = `INSERT INTO orders (id, reservation_id, session_id, product_id, viewer_id, quantity, amount_cents, currency, charge_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q,
		o.ID, o.ReservationID, o.SessionID, o.ProductID, o.ViewerID,
		o.Quantity, o.AmountCents, o.Currency, o.ChargeRef, o.CreatedAt)
	return err
}

// ListOrdersBySession returns the orders placed during a session.
func (r *Repository) ListOrdersBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error) {
	const q = `SELECT id, reservation_id, session_id, product_id, viewer_id, quantity, amount_cents, currency, charge_ref, created_at
		FROM orders WHERE session_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.ReservationID, &o.SessionID, &o.ProductID, &o.ViewerID,
			&o.Quantity, &o.AmountCents, &o.Currency, &o.ChargeRef, &o.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}
