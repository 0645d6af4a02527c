package inventory

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serat-auto/backoffice/internal/platform/db"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback with a ledger and an idempotency store bound to a repeatable-read
// transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Stock, shared.IdempotencyGuard) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewLedger(tx), shared.NewIdempotencyStore(tx))
	})
}

// Available reads the current balance outside any transaction.
func (r *Repository) Available(ctx context.Context, productID int64) (int, error) {
	return NewLedger(r.pool).Available(ctx, productID)
}

// Movements lists journaled movements of a product.
func (r *Repository) Movements(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	return NewLedger(r.pool).Movements(ctx, filter)
}
