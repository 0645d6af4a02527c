package ventes

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serat-auto/backoffice/internal/inventory"
	"github.com/serat-auto/backoffice/internal/platform/db"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Repository binds the sale store, the stock ledger and the idempotency keys to one PostgreSQL
// transaction.
type Repository struct {
	pool  *pgxpool.Pool
	reads *sales.Store
}

var _ UnitOfWork = (*Repository)(nil)

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, reads: sales.NewStore(pool)}
}

// WithinTx runs fn inside a repeatable-read transaction; any error rolls everything back.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, store SaleWriter, stock inventory.Stock, keys shared.IdempotencyGuard) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, sales.NewStore(tx), inventory.NewLedger(tx), shared.NewIdempotencyStore(tx))
	})
}

// Get reads a live sale outside any transaction.
func (r *Repository) Get(ctx context.Context, id int64) (sales.Sale, error) {
	return r.reads.Get(ctx, id)
}

// List pages live sales.
func (r *Repository) List(ctx context.Context, filter sales.ListFilter) ([]sales.Sale, int, error) {
	return r.reads.List(ctx, filter)
}
