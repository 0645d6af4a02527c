package installments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/serat-auto/backoffice/internal/masterdata"
	"github.com/serat-auto/backoffice/internal/platform/cache"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/shared"
)

const defaultRetries = 3

// SaleStore is the slice of the sale repository the scheduler needs.
type SaleStore interface {
	Get(ctx context.Context, id int64) (sales.Sale, error)
	ListWithInstallments(ctx context.Context, scope sales.InstallmentScope) ([]sales.Sale, error)
	ListOverdueCandidates(ctx context.Context, now time.Time) ([]sales.Sale, error)
	SaveInstallments(ctx context.Context, id, expectedVersion int64, items []sales.Installment, at time.Time) (int64, error)
}

// CustomerDirectory resolves customer display data.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, id int64) (masterdata.Customer, error)
	CustomersByIDs(ctx context.Context, ids []int64) (map[int64]masterdata.Customer, error)
}

// Metrics receives sweep counts.
type Metrics interface {
	OverdueSwept(count int)
}

// Service tracks installment payment status and serves the installment views.
type Service struct {
	sales     SaleStore
	customers CustomerDirectory
	cache     *cache.Versioned
	audit     shared.AuditRecorder
	metrics   Metrics
	logger    *slog.Logger
	views     singleflight.Group
	retries   int
}

// NewService wires the installment service. cache, audit and metrics may be nil.
func NewService(store SaleStore, customers CustomerDirectory, viewCache *cache.Versioned, audit shared.AuditRecorder, metrics Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sales:     store,
		customers: customers,
		cache:     viewCache,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		retries:   defaultRetries,
	}
}

// Change is the outcome of a payment status change.
type Change struct {
	ID          string            `json:"id"`
	SaleID      int64             `json:"venteId"`
	Index       int               `json:"installmentIndex"`
	Installment sales.Installment `json:"installment"`
}

// MarkPaid records a payment on the installment at index.
func (s *Service) MarkPaid(ctx context.Context, saleID int64, index int, p Payment, actorID int64, now time.Time) (Change, error) {
	if err := p.Validate(); err != nil {
		return Change{}, err
	}
	return s.mutate(ctx, saleID, index, actorID, now, "installment.paid", func(list []sales.Installment) (sales.Installment, error) {
		return MarkPaid(list, index, p, now)
	})
}

// MarkUnpaid reverts the installment at index to pending.
func (s *Service) MarkUnpaid(ctx context.Context, saleID int64, index int, actorID int64, now time.Time) (Change, error) {
	return s.mutate(ctx, saleID, index, actorID, now, "installment.unpaid", func(list []sales.Installment) (sales.Installment, error) {
		return MarkUnpaid(list, index)
	})
}

// mutate applies fn to a copy of the schedule and persists it against the version it read.
// A concurrent writer forces a re-read, up to s.retries attempts.
func (s *Service) mutate(ctx context.Context, saleID int64, idx int, actorID int64, now time.Time, action string, fn func([]sales.Installment) (sales.Installment, error)) (Change, error) {
	for attempt := 1; ; attempt++ {
		sale, err := s.sales.Get(ctx, saleID)
		if err != nil {
			return Change{}, err
		}
		if _, err := sale.InstallmentAt(idx); err != nil {
			return Change{}, err
		}
		list := append([]sales.Installment(nil), sale.Installments...)
		updated, err := fn(list)
		if err != nil {
			return Change{}, err
		}
		_, err = s.sales.SaveInstallments(ctx, sale.ID, sale.Version, list, now)
		if errors.Is(err, shared.ErrConflict) && attempt < s.retries {
			s.logger.Debug("installment write conflict, retrying", slog.Int64("sale_id", saleID), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Change{}, err
		}

		s.invalidate(ctx)
		s.record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "vente",
			EntityID: strconv.FormatInt(saleID, 10),
			Meta:     map[string]any{"index": idx, "status": string(updated.Status)},
			At:       now,
		})
		s.logger.Info(action, slog.Int64("sale_id", saleID), slog.Int("index", idx), slog.Int64("actor_id", actorID))
		return Change{ID: sales.InstallmentID(saleID, idx), SaleID: saleID, Index: idx, Installment: updated}, nil
	}
}

// SweepOverdue marks every pending installment due before now as overdue. Each affected sale is
// persisted on its own, so an interrupted sweep leaves every sale consistent.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.sales.ListOverdueCandidates(ctx, now)
	if err != nil {
		return 0, err
	}
	updated := 0
	defer func() {
		if updated > 0 {
			s.invalidate(ctx)
		}
		if s.metrics != nil {
			s.metrics.OverdueSwept(updated)
		}
	}()

	for _, sale := range candidates {
		n, err := s.sweepSale(ctx, sale, now)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return updated, fmt.Errorf("sweep vente %d: %w", sale.ID, err)
		}
		updated += n
	}
	s.logger.Info("overdue sweep", slog.Int("updated", updated), slog.Int("sales", len(candidates)))
	return updated, nil
}

func (s *Service) sweepSale(ctx context.Context, sale sales.Sale, now time.Time) (int, error) {
	for attempt := 1; ; attempt++ {
		list := append([]sales.Installment(nil), sale.Installments...)
		n := SweepOverdue(list, now)
		if n == 0 {
			return 0, nil
		}
		_, err := s.sales.SaveInstallments(ctx, sale.ID, sale.Version, list, now)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, shared.ErrConflict) || attempt >= s.retries {
			return 0, err
		}
		if sale, err = s.sales.Get(ctx, sale.ID); err != nil {
			return 0, err
		}
	}
}

// All returns every installment of every live sale.
func (s *Service) All(ctx context.Context, q Query, now time.Time) (Listing, error) {
	q, err := q.Normalize()
	if err != nil {
		return Listing{}, err
	}
	var out Listing
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		list, err := s.sales.ListWithInstallments(ctx, sales.InstallmentScope{})
		if err != nil {
			return nil, err
		}
		customers, err := s.customers.CustomersByIDs(ctx, customerIDs(list))
		if err != nil {
			return nil, err
		}
		return BuildListing(Flatten(list, customers, now, true), q), nil
	}, "all", q.Status, q.SortBy, q.SortOrder, strconv.Itoa(q.Page), strconv.Itoa(q.Limit), minute(now))
	return out, err
}

// ForCustomer returns the installments of one customer's live sales.
func (s *Service) ForCustomer(ctx context.Context, customerID int64, q Query, now time.Time) (CustomerListing, error) {
	q, err := q.Normalize()
	if err != nil {
		return CustomerListing{}, err
	}
	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return CustomerListing{}, err
	}
	var out CustomerListing
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		list, err := s.sales.ListWithInstallments(ctx, sales.InstallmentScope{CustomerID: &customerID})
		if err != nil {
			return nil, err
		}
		listing := BuildListing(Flatten(list, nil, now, false), q)
		return CustomerListing{
			Customer:     customerRef(customer, customerID),
			Installments: listing.Installments,
			Pagination:   listing.Pagination,
			Stats:        listing.Stats,
		}, nil
	}, "customer", strconv.FormatInt(customerID, 10), q.Status, q.SortBy, q.SortOrder, strconv.Itoa(q.Page), strconv.Itoa(q.Limit), minute(now))
	return out, err
}

// Dashboard groups open installments by customer.
func (s *Service) Dashboard(ctx context.Context, q DashboardQuery, now time.Time) (Dashboard, error) {
	q, err := q.Normalize()
	if err != nil {
		return Dashboard{}, err
	}
	var out Dashboard
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		list, err := s.sales.ListWithInstallments(ctx, sales.InstallmentScope{})
		if err != nil {
			return nil, err
		}
		customers, err := s.customers.CustomersByIDs(ctx, customerIDs(list))
		if err != nil {
			return nil, err
		}
		return BuildDashboard(list, customers, q, now), nil
	}, "dashboard", strconv.Itoa(q.DaysAhead), strconv.FormatBool(q.IncludeAll), strconv.Itoa(q.Page), strconv.Itoa(q.Limit), minute(now))
	return out, err
}

// ClientUpcoming lists one customer's installments due within daysAhead days.
func (s *Service) ClientUpcoming(ctx context.Context, customerID int64, daysAhead int, now time.Time) (ClientUpcoming, error) {
	if daysAhead < 0 {
		return ClientUpcoming{}, shared.Invalid("daysAhead", "must not be negative")
	}
	if daysAhead == 0 {
		daysAhead = DefaultWindow
	}
	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return ClientUpcoming{}, err
	}
	var out ClientUpcoming
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		list, err := s.sales.ListWithInstallments(ctx, sales.InstallmentScope{CustomerID: &customerID})
		if err != nil {
			return nil, err
		}
		return BuildClientUpcoming(list, customer, daysAhead, now), nil
	}, "client", strconv.FormatInt(customerID, 10), strconv.Itoa(daysAhead), minute(now))
	return out, err
}

// Invalidate drops every cached view. Sale writers call it after committing.
func (s *Service) Invalidate(ctx context.Context) {
	s.invalidate(ctx)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump installment view cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit installment change", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// cached serves a view from the versioned cache, coalescing concurrent builds of the same key.
// Cache failures degrade to a direct build.
func (s *Service) cached(ctx context.Context, dest any, build func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, append([]string{"installments"}, parts...)...)
	if err != nil {
		s.logger.Warn("installment view cache key", slog.Any("error", err))
		return direct(ctx, dest, build)
	}
	var buildErr error
	raw, err, _ := s.views.Do(key, func() (any, error) {
		var payload json.RawMessage
		err := s.cache.FetchJSON(ctx, key, &payload, func(ctx context.Context) (any, error) {
			v, err := build(ctx)
			buildErr = err
			return v, err
		})
		return payload, err
	})
	if buildErr != nil {
		return buildErr
	}
	if err != nil {
		s.logger.Warn("installment view cache", slog.String("key", key), slog.Any("error", err))
		return direct(ctx, dest, build)
	}
	return json.Unmarshal(raw.(json.RawMessage), dest)
}

func direct(ctx context.Context, dest any, build func(context.Context) (any, error)) error {
	v, err := build(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func customerIDs(list []sales.Sale) []int64 {
	seen := make(map[int64]struct{}, len(list))
	ids := make([]int64, 0, len(list))
	for _, s := range list {
		if _, ok := seen[s.CustomerID]; ok {
			continue
		}
		seen[s.CustomerID] = struct{}{}
		ids = append(ids, s.CustomerID)
	}
	return ids
}

// minute buckets view cache keys. Effective status and daysUntilDue in a cached view are those of
// the first build within the minute.
func minute(now time.Time) string {
	return now.UTC().Truncate(time.Minute).Format("200601021504")
}
