// Package ventes runs the sale lifecycle: create, update and delete a sale together with the
// stock movements it causes, as one atomic unit.
package ventes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/serat-auto/backoffice/internal/inventory"
	"github.com/serat-auto/backoffice/internal/masterdata"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/sales/installments"
	"github.com/serat-auto/backoffice/internal/sales/pricing"
	"github.com/serat-auto/backoffice/internal/shared"
)

const module = "ventes"

// SaleWriter is the transaction-bound part of the sale store used by writes.
type SaleWriter interface {
	Insert(ctx context.Context, sale *sales.Sale) error
	GetForUpdate(ctx context.Context, id int64) (sales.Sale, error)
	Replace(ctx context.Context, sale *sales.Sale) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
}

// UnitOfWork runs sale writes and their stock movements in one transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store SaleWriter, stock inventory.Stock, keys shared.IdempotencyGuard) error) error
	Get(ctx context.Context, id int64) (sales.Sale, error)
	List(ctx context.Context, filter sales.ListFilter) ([]sales.Sale, int, error)
}

// Customers checks that the buyer exists.
type Customers interface {
	GetCustomer(ctx context.Context, id int64) (masterdata.Customer, error)
}

// Pricer prices a sale against the catalog.
type Pricer interface {
	Calculate(ctx context.Context, in pricing.Input) (pricing.Result, error)
}

// Invalidator drops derived views after a committed write.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Metrics counts sale writes and stock rejections.
type Metrics interface {
	SaleRecorded(op string)
	StockRejected()
}

// Input is a validated, canonical sale write request.
type Input struct {
	// CustomerID is required on create; zero on update keeps the current customer.
	CustomerID    int64
	Articles      []pricing.ArticleLine
	Services      []pricing.ServiceLine
	Reduction     decimal.Decimal
	ReductionType sales.ReductionType
	PaymentType   sales.PaymentType
	Installments  []installments.Draft
	Notes         *string
	ActorID       int64
	// Key is the optional Idempotency-Key of a create.
	Key string
	At  time.Time
}

// Deps bundles optional collaborators.
type Deps struct {
	Audit       shared.AuditRecorder
	Invalidator Invalidator
	Metrics     Metrics
}

// Service implements the sale lifecycle.
type Service struct {
	uow       UnitOfWork
	customers Customers
	pricer    Pricer
	deps      Deps
	logger    *slog.Logger
}

// NewService wires the sale lifecycle service.
func NewService(uow UnitOfWork, customers Customers, pricer Pricer, deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{uow: uow, customers: customers, pricer: pricer, deps: deps, logger: logger}
}

// ============================================================================
// WRITES
// ============================================================================

// Create validates and prices a new sale, persists it and takes its articles out of stock.
func (s *Service) Create(ctx context.Context, in Input) (sales.Sale, error) {
	if in.CustomerID <= 0 {
		return sales.Sale{}, shared.Invalid("customer", "required")
	}
	if err := validateInput(in); err != nil {
		return sales.Sale{}, err
	}
	if _, err := s.customers.GetCustomer(ctx, in.CustomerID); err != nil {
		return sales.Sale{}, err
	}
	priced, err := s.price(ctx, in, nil)
	if err != nil {
		s.rejected(err)
		return sales.Sale{}, err
	}
	schedule, err := installments.Normalize(in.PaymentType, in.Installments, priced.TotalCost)
	if err != nil {
		return sales.Sale{}, err
	}

	sale := sales.Sale{
		CustomerID:     in.CustomerID,
		Articles:       priced.Articles,
		Services:       priced.Services,
		Reduction:      in.Reduction,
		ReductionValue: priced.ReductionValue,
		TotalCost:      priced.TotalCost,
		PaymentType:    in.PaymentType,
		Installments:   schedule,
		Notes:          in.Notes,
		CreatedBy:      in.ActorID,
		CreatedAt:      in.At,
		UpdatedAt:      in.At,
	}
	err = s.uow.WithinTx(ctx, func(ctx context.Context, store SaleWriter, stock inventory.Stock, keys shared.IdempotencyGuard) error {
		if in.Key != "" {
			if err := keys.CheckAndInsert(ctx, in.Key, module); err != nil {
				return err
			}
		}
		if err := store.Insert(ctx, &sale); err != nil {
			return err
		}
		ref := s.reference(inventory.TransactionTypeSale, sale.ID, in.ActorID, in.At, "vente created")
		return take(ctx, stock, sale.Quantities(), ref)
	})
	if err != nil {
		return sales.Sale{}, s.abort("create vente", err)
	}

	s.committed(ctx, "create", sale.ID, in.ActorID, in.At, map[string]any{
		"customer_id": sale.CustomerID,
		"total_cost":  sale.TotalCost.StringFixed(2),
	})
	return sale, nil
}

// Update replaces the lines, pricing and schedule of a sale. Stock moves by the per-product
// difference between the old and new lines only.
func (s *Service) Update(ctx context.Context, id int64, in Input) (sales.Sale, error) {
	if err := validateInput(in); err != nil {
		return sales.Sale{}, err
	}
	if in.CustomerID > 0 {
		if _, err := s.customers.GetCustomer(ctx, in.CustomerID); err != nil {
			return sales.Sale{}, err
		}
	}

	var updated sales.Sale
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store SaleWriter, stock inventory.Stock, _ shared.IdempotencyGuard) error {
		current, err := store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		held := current.Quantities()
		priced, err := s.price(ctx, in, held)
		if err != nil {
			return err
		}
		schedule, err := installments.Normalize(in.PaymentType, in.Installments, priced.TotalCost)
		if err != nil {
			return err
		}

		next := current
		if in.CustomerID > 0 {
			next.CustomerID = in.CustomerID
		}
		next.Articles = priced.Articles
		next.Services = priced.Services
		next.Reduction = in.Reduction
		next.ReductionValue = priced.ReductionValue
		next.TotalCost = priced.TotalCost
		next.PaymentType = in.PaymentType
		next.Installments = schedule
		next.Notes = in.Notes
		next.UpdatedAt = in.At

		if err := move(ctx, stock, sales.StockDelta(held, next.Quantities()), s.reference(inventory.TransactionTypeSale, id, in.ActorID, in.At, "vente updated")); err != nil {
			return err
		}
		if err := store.Replace(ctx, &next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return sales.Sale{}, s.abort("update vente", err)
	}

	s.committed(ctx, "update", id, in.ActorID, in.At, map[string]any{
		"total_cost": updated.TotalCost.StringFixed(2),
		"version":    updated.Version,
	})
	return updated, nil
}

// Delete soft-deletes a sale and returns its articles to stock. Deleting twice is NotFound.
func (s *Service) Delete(ctx context.Context, id, actorID int64, at time.Time) error {
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store SaleWriter, stock inventory.Stock, _ shared.IdempotencyGuard) error {
		current, err := store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := store.SoftDelete(ctx, id, at); err != nil {
			return err
		}
		ref := s.reference(inventory.TransactionTypeReturn, id, actorID, at, "vente deleted")
		return restore(ctx, stock, current.Quantities(), ref)
	})
	if err != nil {
		return s.abort("delete vente", err)
	}
	s.committed(ctx, "delete", id, actorID, at, nil)
	return nil
}

// ============================================================================
// READS
// ============================================================================

// Get returns a live sale.
func (s *Service) Get(ctx context.Context, id int64) (sales.Sale, error) {
	return s.uow.Get(ctx, id)
}

// List returns a page of live sales, newest first.
func (s *Service) List(ctx context.Context, filter sales.ListFilter) ([]sales.Sale, shared.Pagination, error) {
	filter.Page, filter.Limit = shared.NormalizePage(filter.Page, filter.Limit)
	list, total, err := s.uow.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if list == nil {
		list = []sales.Sale{}
	}
	return list, shared.NewPagination(filter.Page, filter.Limit, total), nil
}

// ============================================================================
// HELPERS
// ============================================================================

func validateInput(in Input) error {
	if !in.PaymentType.Valid() {
		return shared.Invalid("paymentType", "must be comptant or facilite")
	}
	if in.Notes != nil && utf8.RuneCountInString(*in.Notes) > sales.MaxSaleNotes {
		return shared.Invalid("notes", fmt.Sprintf("must be at most %d characters", sales.MaxSaleNotes))
	}
	return nil
}

func (s *Service) price(ctx context.Context, in Input, held map[int64]int) (pricing.Result, error) {
	return s.pricer.Calculate(ctx, pricing.Input{
		Articles:      in.Articles,
		Services:      in.Services,
		Reduction:     in.Reduction,
		ReductionType: in.ReductionType,
		Reserved:      held,
	})
}

func (s *Service) rejected(err error) {
	if errors.Is(err, shared.ErrInsufficientStock) && s.deps.Metrics != nil {
		s.deps.Metrics.StockRejected()
	}
}

func (s *Service) reference(kind inventory.TransactionType, saleID, actorID int64, at time.Time, note string) inventory.Reference {
	return inventory.Reference{
		Type:    kind,
		Module:  module,
		ID:      strconv.FormatInt(saleID, 10),
		ActorID: actorID,
		Note:    note,
		At:      at,
	}
}

// take removes quantities from stock. Products are visited in id order so concurrent sales lock
// rows in the same sequence.
func take(ctx context.Context, stock inventory.Stock, qty map[int64]int, ref inventory.Reference) error {
	ref.Type = inventory.TransactionTypeSale
	for _, id := range productIDs(qty) {
		if qty[id] <= 0 {
			continue
		}
		if _, err := stock.Decrement(ctx, id, qty[id], ref); err != nil {
			return err
		}
	}
	return nil
}

func restore(ctx context.Context, stock inventory.Stock, qty map[int64]int, ref inventory.Reference) error {
	ref.Type = inventory.TransactionTypeReturn
	for _, id := range productIDs(qty) {
		if qty[id] <= 0 {
			continue
		}
		if _, err := stock.Increment(ctx, id, qty[id], ref); err != nil {
			return err
		}
	}
	return nil
}

// move applies a signed per-product delta: positive values leave stock, negative ones return.
func move(ctx context.Context, stock inventory.Stock, delta map[int64]int, ref inventory.Reference) error {
	out := make(map[int64]int, len(delta))
	back := make(map[int64]int, len(delta))
	for id, d := range delta {
		if d > 0 {
			out[id] = d
		} else {
			back[id] = -d
		}
	}
	if err := restore(ctx, stock, back, ref); err != nil {
		return err
	}
	return take(ctx, stock, out, ref)
}

func productIDs(qty map[int64]int) []int64 {
	ids := make([]int64, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Service) abort(op string, err error) error {
	s.rejected(err)
	if !shared.IsDomainError(err) {
		s.logger.Error(op, slog.Any("error", err))
	}
	return shared.AbortTx(op, err)
}

// committed runs the post-commit side effects of a write. None of them can fail the write.
func (s *Service) committed(ctx context.Context, op string, saleID, actorID int64, at time.Time, meta map[string]any) {
	if s.deps.Invalidator != nil {
		s.deps.Invalidator.Invalidate(ctx)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SaleRecorded(op)
	}
	if s.deps.Audit != nil {
		err := s.deps.Audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "vente." + op,
			Entity:   "vente",
			EntityID: strconv.FormatInt(saleID, 10),
			Meta:     meta,
			At:       at,
		})
		if err != nil {
			s.logger.Warn("audit vente", slog.String("op", op), slog.Any("error", err))
		}
	}
	s.logger.Info("vente "+op, slog.Int64("vente_id", saleID), slog.Int64("actor_id", actorID))
}
