package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, in_stock_quantity, reserved_quantity
		FROM products
		WHERE id=$1
	`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.InStockQuantity, &p.ReservedQuantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("select product %d: %w", id, err)
	}
	return p, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, in_stock_quantity, reserved_quantity
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.InStockQuantity, &p.ReservedQuantity); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return out, nil
}

// Query filters in Go; predicates are arbitrary functions and cannot be pushed into SQL.
func (r *PostgresRepository) Query(ctx context.Context, pred Predicate) ([]Product, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return filter(all, pred), nil
}

func (r *PostgresRepository) Insert(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO products(name, in_stock_quantity, reserved_quantity)
		VALUES($1, $2, $3)
		RETURNING id
	`, p.Name, p.InStockQuantity, p.ReservedQuantity).Scan(&p.ID)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) UpdateQuantities(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products
		SET in_stock_quantity=$2, reserved_quantity=$3, updated_at=now()
		WHERE id=$1
	`, p.ID, p.InStockQuantity, p.ReservedQuantity)
	if err != nil {
		return fmt.Errorf("update product %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
