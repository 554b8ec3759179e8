package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Store is satisfied by *pgxpool.Pool.
type Store interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres keeps the last sequence per partition in event_sequence.
type Postgres struct {
	store Store
}

func NewPostgres(store Store) *Postgres {
	return &Postgres{store: store}
}

// Next atomically increments and returns the next sequence for a partition.
func (r *Postgres) Next(ctx context.Context, partitionKey string) (int64, error) {
	var seq int64
	err := r.store.QueryRow(ctx, `
		INSERT INTO event_sequence (partition_key, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (partition_key)
		DO UPDATE SET last_sequence = event_sequence.last_sequence + 1, updated_at = now()
		RETURNING last_sequence
	`, partitionKey).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}
