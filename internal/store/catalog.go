package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/harborfresh/orderflow/internal/database"
)

// ProductPricing is the slice of the catalog this core reads at order
// creation. The values are copied into order items, never referenced
// live, so later price changes leave existing orders untouched.
type ProductPricing struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// CatalogStore reads the product catalog owned by the catalog
// collaborator.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

func (s *CatalogStore) GetPricing(ctx context.Context, productID int64) (*ProductPricing, error) {
	pricing := &ProductPricing{}

	query := `
		SELECT id, name, price
		FROM products
		WHERE id = $1`

	err := s.db.QueryRowContext(ctx, query, productID).Scan(
		&pricing.ID,
		&pricing.Name,
		&pricing.Price,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product pricing: %w", err)
	}

	return pricing, nil
}

// Seed inserts a product row. Catalog writes belong to the catalog
// collaborator; this exists for migrations and tests only.
func (s *CatalogStore) Seed(ctx context.Context, sku, name string, price decimal.Decimal) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO products (sku, name, price, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 RETURNING id`,
		sku, name, price).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("seed product: %w", err)
	}
	return id, nil
}
