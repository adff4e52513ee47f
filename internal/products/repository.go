package products

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive/backend/internal/models"
)

// Repository handles product and stock persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a product repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new product with its initial stock.
func (r *Repository) Create(ctx context.Context, p *models.Product, totalQuantity int) error {
	const q = `INSERT INTO products (id, seller_id, name, description, price_cents, currency, total_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, q, p.ID, p.SellerID, p.Name, p.Description, p.PriceCents, p.Currency, totalQuantity).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

// GetByID returns a product and its stock counters.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, *models.ProductStock, error) {
	const q = `SELECT id, seller_id, name, description, price_cents, currency,
			total_quantity, reserved_quantity, sold_quantity, created_at, updated_at
		FROM products WHERE id = $1`
	var p models.Product
	var s models.ProductStock
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.SellerID, &p.Name, &p.Description, &p.PriceCents, &p.Currency,
		&s.TotalQuantity, &s.ReservedQuantity, &s.SoldQuantity, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	s.ProductID = p.ID
	return &p, &s, nil
}

// ListAll returns every product with its stock, used for restore.
func (r *Repository) ListAll(ctx context.Context) ([]models.Product, []models.ProductStock, error) {
	const q = `SELECT id, seller_id, name, description, price_cents, currency,
			total_quantity, reserved_quantity, sold_quantity, created_at, updated_at
		FROM products ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ps []models.Product
	var stocks []models.ProductStock
	for rows.Next() {
		var p models.Product
		var s models.ProductStock
		if err := rows.Scan(
			&p.ID, &p.SellerID, &p.Name, &p.Description, &p.PriceCents, &p.Currency,
			&s.TotalQuantity, &s.ReservedQuantity, &s.SoldQuantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, nil, err
		}
		s.ProductID = p.ID
		ps = append(ps, p)
		stocks = append(stocks, s)
	}
	return ps, stocks, rows.Err()
}

// UpsertStock writes the stock counters for a product.
func (r *Repository) UpsertStock(ctx context.Context, s models.ProductStock) error {
	const q = `UPDATE products SET
			total_quantity = $2, reserved_quantity = $3, sold_quantity = $4, updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, s.ProductID, s.TotalQuantity, s.ReservedQuantity, s.SoldQuantity)
	return err
}

// Feature links a product into a session.
func (r *Repository) Feature(ctx context.Context, sessionID, productID uuid.UUID) error {
	const q = `INSERT INTO session_products (session_id, product_id) VALUES ($1, $2)
		ON CONFLICT (session_id, product_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, sessionID, productID)
	return err
}

// FeaturedBySession returns the product IDs featured in a session.
func (r *Repository) FeaturedBySession(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT product_id FROM session_products WHERE session_id = $1 ORDER BY featured_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
