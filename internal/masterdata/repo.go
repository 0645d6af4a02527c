package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/serat-auto/backoffice/internal/platform/db"
	"github.com/serat-auto/backoffice/internal/shared"
)

// repo implements Repository against PostgreSQL.
type repo struct {
	db db.DBTX
}

// NewRepository creates a new master data repository.
func NewRepository(conn db.DBTX) Repository {
	return &repo{db: conn}
}

func (r *repo) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	const query = `SELECT id, fname, lname, cin, phone_number FROM customers WHERE id = $1 AND is_deleted = FALSE`
	var c Customer
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.FName, &c.LName, &c.CIN, &c.PhoneNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, shared.NewNotFound("customer", id)
		}
		return Customer{}, err
	}
	return c, nil
}

func (r *repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	const query = `SELECT id, title, s_price, stock FROM products WHERE id = $1 AND is_deleted = FALSE`
	var (
		p     Product
		price pgtype.Numeric
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Title, &price, &p.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.NewNotFound("product", id)
		}
		return Product{}, err
	}
	p.SPrice = db.Decimal(price)
	return p, nil
}

func (r *repo) GetService(ctx context.Context, id int64) (Service, error) {
	const query = `SELECT id, service_type, description, actual_cost FROM services WHERE id = $1 AND is_deleted = FALSE`
	var (
		s    Service
		cost pgtype.Numeric
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.ServiceType, &s.Description, &cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Service{}, shared.NewNotFound("service", id)
		}
		return Service{}, err
	}
	s.ActualCost = db.Decimal(cost)
	return s, nil
}

// CustomersByIDs resolves customers in one round trip. Soft-deleted customers are still
// returned so historical sales keep a display name.
func (r *repo) CustomersByIDs(ctx context.Context, ids []int64) (map[int64]Customer, error) {
	out := make(map[int64]Customer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const query = `SELECT id, fname, lname, cin, phone_number FROM customers WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.FName, &c.LName, &c.CIN, &c.PhoneNumber); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}
