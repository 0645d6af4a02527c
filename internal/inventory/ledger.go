package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/serat-auto/backoffice/internal/platform/db"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Stock is the ledger contract consumed by sale workflows.
type Stock interface {
	CheckAvailable(ctx context.Context, productID int64, qty int) (bool, error)
	Available(ctx context.Context, productID int64) (int, error)
	Decrement(ctx context.Context, productID int64, qty int, ref Reference) (Movement, error)
	Increment(ctx context.Context, productID int64, qty int, ref Reference) (Movement, error)
}

// Ledger mutates products.stock and journals every change into stock_movements.
// Bound to a pgx.Tx it takes part in the caller's transaction.
type Ledger struct {
	db db.DBTX
}

var _ Stock = (*Ledger)(nil)

// NewLedger binds the ledger to conn.
func NewLedger(conn db.DBTX) *Ledger {
	return &Ledger{db: conn}
}

// Available returns the current stock of a live product.
func (l *Ledger) Available(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := l.db.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 AND is_deleted = FALSE`, productID).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.NewNotFound("product", productID)
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}

// CheckAvailable reports whether qty units can currently be taken. It is advisory only;
// Decrement re-checks atomically.
func (l *Ledger) CheckAvailable(ctx context.Context, productID int64, qty int) (bool, error) {
	stock, err := l.Available(ctx, productID)
	if err != nil {
		return false, err
	}
	return stock >= qty, nil
}

// Decrement takes qty units in a single conditional statement so concurrent sales cannot
// oversell. Unit tests go through the in-memory Stock fake; this statement needs a live
// PostgreSQL.
func (l *Ledger) Decrement(ctx context.Context, productID int64, qty int, ref Reference) (Movement, error) {
	if qty <= 0 {
		return Movement{}, shared.Invalid("quantity", "must be positive")
	}
	var balance int
	err := l.db.QueryRow(ctx, `UPDATE products SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2 AND is_deleted = FALSE
		RETURNING stock`, productID, qty).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, l.shortfall(ctx, productID, qty)
	}
	if err != nil {
		return Movement{}, fmt.Errorf("decrement stock of product %d: %w", productID, err)
	}
	return l.journal(ctx, productID, -qty, balance, ref)
}

// Increment returns qty units to stock.
func (l *Ledger) Increment(ctx context.Context, productID int64, qty int, ref Reference) (Movement, error) {
	if qty <= 0 {
		return Movement{}, shared.Invalid("quantity", "must be positive")
	}
	var balance int
	err := l.db.QueryRow(ctx, `UPDATE products SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
		RETURNING stock`, productID, qty).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, shared.NewNotFound("product", productID)
	}
	if err != nil {
		return Movement{}, fmt.Errorf("increment stock of product %d: %w", productID, err)
	}
	return l.journal(ctx, productID, qty, balance, ref)
}

func (l *Ledger) shortfall(ctx context.Context, productID int64, requested int) error {
	var (
		title string
		stock int
	)
	err := l.db.QueryRow(ctx, `SELECT title, stock FROM products WHERE id = $1 AND is_deleted = FALSE`, productID).Scan(&title, &stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewNotFound("product", productID)
	}
	if err != nil {
		return err
	}
	return &shared.InsufficientStockError{ProductID: productID, Title: title, Available: stock, Requested: requested}
}

func (l *Ledger) journal(ctx context.Context, productID int64, change, balance int, ref Reference) (Movement, error) {
	m := Movement{
		ProductID:    productID,
		Type:         ref.Type,
		QtyChange:    change,
		BalanceAfter: balance,
		RefModule:    ref.Module,
		RefID:        ref.ID,
		ActorID:      ref.ActorID,
		Note:         ref.Note,
	}
	if m.Type == "" {
		m.Type = TransactionTypeAdjust
	}
	var at any
	if !ref.At.IsZero() {
		at = ref.At
	}
	err := l.db.QueryRow(ctx, `INSERT INTO stock_movements
		(product_id, tx_type, qty_change, balance_after, ref_module, ref_id, actor_id, note, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::timestamptz, NOW()))
		RETURNING id, posted_at`,
		m.ProductID, string(m.Type), m.QtyChange, m.BalanceAfter, m.RefModule, m.RefID, m.ActorID, m.Note, at,
	).Scan(&m.ID, &m.PostedAt)
	if err != nil {
		return Movement{}, fmt.Errorf("journal stock movement: %w", err)
	}
	return m, nil
}

// Movements lists the most recent movements of a product, newest first.
func (l *Ledger) Movements(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.Query(ctx, `SELECT id, product_id, tx_type, qty_change, balance_after, ref_module, ref_id, actor_id, note, posted_at
		FROM stock_movements WHERE product_id = $1 ORDER BY posted_at DESC, id DESC LIMIT $2`, filter.ProductID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var (
			m      Movement
			txType string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &txType, &m.QtyChange, &m.BalanceAfter, &m.RefModule, &m.RefID, &m.ActorID, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Type = TransactionType(txType)
		out = append(out, m)
	}
	return out, rows.Err()
}
