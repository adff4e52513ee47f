package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is a sellable item that can be featured in a session.
type Product struct {
	ID          uuid.UUID `json:"id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProductStock holds the inventory counters for a product.
// Mutated only through the ledger's reserve/release/commit operations.
type ProductStock struct {
	ProductID        uuid.UUID `json:"product_id"`
	TotalQuantity    int       `json:"total_quantity"`
	ReservedQuantity int       `json:"reserved_quantity"`
	SoldQuantity     int       `json:"sold_quantity"`
}

// Available returns the quantity still open for reservation.
func (s ProductStock) Available() int {
	return s.TotalQuantity - s.ReservedQuantity - s.SoldQuantity
}
