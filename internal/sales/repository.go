package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/serat-auto/backoffice/internal/platform/db"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Repository persists sale aggregates. Every read excludes soft-deleted rows.
type Repository interface {
	Insert(ctx context.Context, sale *Sale) error
	Get(ctx context.Context, id int64) (Sale, error)
	GetForUpdate(ctx context.Context, id int64) (Sale, error)
	Replace(ctx context.Context, sale *Sale) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
	List(ctx context.Context, filter ListFilter) ([]Sale, int, error)
	ListWithInstallments(ctx context.Context, scope InstallmentScope) ([]Sale, error)
	ListOverdueCandidates(ctx context.Context, now time.Time) ([]Sale, error)
	SaveInstallments(ctx context.Context, id, expectedVersion int64, items []Installment, at time.Time) (int64, error)
}

// Store implements Repository on a pool or a transaction.
type Store struct {
	db db.DBTX
}

var _ Repository = (*Store)(nil)

// NewStore binds the store to conn.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

const saleColumns = `id, customer_id, articles, services, installments, reduction, reduction_value,
	total_cost, payment_type, notes, created_by, version, created_at, updated_at`

const liveSales = `FROM ventes WHERE is_deleted = FALSE`

// ============================================================================
// READS
// ============================================================================

func (s *Store) Get(ctx context.Context, id int64) (Sale, error) {
	return s.getOne(ctx, `SELECT `+saleColumns+` `+liveSales+` AND id = $1`, id)
}

// GetForUpdate locks the row for the remainder of the enclosing transaction.
func (s *Store) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	return s.getOne(ctx, `SELECT `+saleColumns+` `+liveSales+` AND id = $1 FOR UPDATE`, id)
}

func (s *Store) getOne(ctx context.Context, query string, id int64) (Sale, error) {
	sale, err := scanSale(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, shared.NewNotFound("vente", id)
		}
		return Sale{}, err
	}
	return sale, nil
}

func (s *Store) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if filter.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argPos))
		args = append(args, *filter.CustomerID)
		argPos++
	}
	where := liveSales
	if len(conditions) > 0 {
		where += " AND " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	window := shared.NewPagination(filter.Page, filter.Limit, total)
	query := fmt.Sprintf(`SELECT %s %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		saleColumns, where, argPos, argPos+1)
	args = append(args, window.Limit, window.Offset())

	sales, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

// ListWithInstallments returns live sales that carry at least one installment.
func (s *Store) ListWithInstallments(ctx context.Context, scope InstallmentScope) ([]Sale, error) {
	query := `SELECT ` + saleColumns + ` ` + liveSales + ` AND jsonb_array_length(installments) > 0`
	var args []any
	if scope.CustomerID != nil {
		query += ` AND customer_id = $1`
		args = append(args, *scope.CustomerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return s.query(ctx, query, args...)
}

// ListOverdueCandidates returns live sales holding a pending installment due before now.
func (s *Store) ListOverdueCandidates(ctx context.Context, now time.Time) ([]Sale, error) {
	query := `SELECT ` + saleColumns + ` ` + liveSales + `
		AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(installments) AS e
			WHERE e->>'status' = 'pending' AND (e->>'dueDate')::timestamptz < $1
		)
		ORDER BY id`
	return s.query(ctx, query, now)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Sale, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, rows.Err()
}

func scanSale(row pgx.Row) (Sale, error) {
	var (
		sale                                 Sale
		articles, services, installments     []byte
		reduction, reductionValue, totalCost pgtype.Numeric
		notes                                pgtype.Text
		paymentType                          string
	)
	err := row.Scan(
		&sale.ID, &sale.CustomerID, &articles, &services, &installments,
		&reduction, &reductionValue, &totalCost, &paymentType, &notes,
		&sale.CreatedBy, &sale.Version, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		return Sale{}, err
	}
	if err := unmarshalList(articles, &sale.Articles); err != nil {
		return Sale{}, fmt.Errorf("decode articles of vente %d: %w", sale.ID, err)
	}
	if err := unmarshalList(services, &sale.Services); err != nil {
		return Sale{}, fmt.Errorf("decode services of vente %d: %w", sale.ID, err)
	}
	if err := unmarshalList(installments, &sale.Installments); err != nil {
		return Sale{}, fmt.Errorf("decode installments of vente %d: %w", sale.ID, err)
	}
	sale.Reduction = db.Decimal(reduction)
	sale.ReductionValue = db.Decimal(reductionValue)
	sale.TotalCost = db.Decimal(totalCost)
	sale.PaymentType = PaymentType(paymentType)
	if notes.Valid {
		sale.Notes = &notes.String
	}
	return sale, nil
}

func unmarshalList[T any](raw []byte, dest *[]T) error {
	if len(raw) == 0 {
		*dest = []T{}
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}
	if *dest == nil {
		*dest = []T{}
	}
	return nil
}

func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

// ============================================================================
// WRITES
// ============================================================================

// Insert stores a new sale and fills in its id and version.
func (s *Store) Insert(ctx context.Context, sale *Sale) error {
	articles, services, installments, err := encodeLines(sale)
	if err != nil {
		return err
	}
	const query = `INSERT INTO ventes (customer_id, articles, services, installments, reduction, reduction_value,
		total_cost, payment_type, notes, created_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $11)
		RETURNING id, version`
	err = s.db.QueryRow(ctx, query,
		sale.CustomerID, articles, services, installments,
		db.Numeric(sale.Reduction), db.Numeric(sale.ReductionValue), db.Numeric(sale.TotalCost),
		string(sale.PaymentType), sale.Notes, sale.CreatedBy, sale.CreatedAt,
	).Scan(&sale.ID, &sale.Version)
	if err != nil {
		return fmt.Errorf("insert vente: %w", err)
	}
	sale.UpdatedAt = sale.CreatedAt
	return nil
}

// Replace rewrites every mutable column of a live sale whose version still matches.
func (s *Store) Replace(ctx context.Context, sale *Sale) error {
	articles, services, installments, err := encodeLines(sale)
	if err != nil {
		return err
	}
	const query = `UPDATE ventes SET customer_id = $1, articles = $2, services = $3, installments = $4,
		reduction = $5, reduction_value = $6, total_cost = $7, payment_type = $8, notes = $9,
		version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12 AND is_deleted = FALSE
		RETURNING version`
	err = s.db.QueryRow(ctx, query,
		sale.CustomerID, articles, services, installments,
		db.Numeric(sale.Reduction), db.Numeric(sale.ReductionValue), db.Numeric(sale.TotalCost),
		string(sale.PaymentType), sale.Notes, sale.UpdatedAt, sale.ID, sale.Version,
	).Scan(&sale.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missingOrConflict(ctx, sale.ID)
	}
	if err != nil {
		return fmt.Errorf("update vente %d: %w", sale.ID, err)
	}
	return nil
}

// SoftDelete hides a live sale from every subsequent read.
func (s *Store) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE ventes SET is_deleted = TRUE, deleted_at = $2, updated_at = $2, version = version + 1
		WHERE id = $1 AND is_deleted = FALSE`, id, at)
	if err != nil {
		return fmt.Errorf("delete vente %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFound("vente", id)
	}
	return nil
}

// SaveInstallments replaces the schedule if the row is still at expectedVersion and returns
// the new version. A stale version yields shared.ErrConflict.
func (s *Store) SaveInstallments(ctx context.Context, id, expectedVersion int64, items []Installment, at time.Time) (int64, error) {
	payload, err := marshalList(items)
	if err != nil {
		return 0, err
	}
	var version int64
	err = s.db.QueryRow(ctx, `UPDATE ventes SET installments = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND is_deleted = FALSE
		RETURNING version`, payload, at, id, expectedVersion).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, s.missingOrConflict(ctx, id)
	}
	if err != nil {
		return 0, fmt.Errorf("save installments of vente %d: %w", id, err)
	}
	return version, nil
}

func (s *Store) missingOrConflict(ctx context.Context, id int64) error {
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 `+liveSales+` AND id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return shared.NewNotFound("vente", id)
	}
	return fmt.Errorf("vente %d: %w", id, shared.ErrConflict)
}

func encodeLines(sale *Sale) (articles, services, installments []byte, err error) {
	if articles, err = marshalList(sale.Articles); err != nil {
		return nil, nil, nil, err
	}
	if services, err = marshalList(sale.Services); err != nil {
		return nil, nil, nil, err
	}
	if installments, err = marshalList(sale.Installments); err != nil {
		return nil, nil, nil, err
	}
	return articles, services, installments, nil
}
