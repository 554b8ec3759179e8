package warehouse

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence contract the Service depends on.
// Implementations return products in ascending id order.
type Store interface {
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context) ([]Product, error)
	Query(ctx context.Context, pred Predicate) ([]Product, error)
	// Insert ignores p.ID and returns the product with its assigned id.
	Insert(ctx context.Context, p Product) (Product, error)
	// UpdateQuantities writes InStockQuantity and ReservedQuantity keyed by p.ID.
	UpdateQuantities(ctx context.Context, p Product) error
}

func filter(products []Product, pred Predicate) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}
