package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/serat-auto/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Stock, shared.IdempotencyGuard) error) error
	Available(ctx context.Context, productID int64) (int, error)
	Movements(ctx context.Context, filter StockCardFilter) ([]Movement, error)
}

const idempotencyModule = "inventory"

// Service coordinates manual inventory operations. Sale-driven movements go through the
// ledger directly inside the sale transaction.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// PostAdjustment posts an adjustment which may be positive or negative. A negative adjustment
// never takes stock below zero.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (StockCardEntry, error) {
	if input.ProductID <= 0 {
		return StockCardEntry{}, shared.Invalid("productId", "required")
	}
	if input.Qty == 0 {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	if len(input.Note) > 200 {
		return StockCardEntry{}, shared.Invalid("note", "must be at most 200 characters")
	}

	ref := Reference{Type: TransactionTypeAdjust, Module: idempotencyModule, ActorID: input.ActorID, Note: input.Note, At: input.At}
	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, stock Stock, keys shared.IdempotencyGuard) error {
		if input.Key != "" {
			if err := keys.CheckAndInsert(ctx, input.Key, idempotencyModule); err != nil {
				return err
			}
		}
		var err error
		if input.Qty > 0 {
			movement, err = stock.Increment(ctx, input.ProductID, input.Qty, ref)
		} else {
			movement, err = stock.Decrement(ctx, input.ProductID, -input.Qty, ref)
		}
		return err
	})
	if err != nil {
		return StockCardEntry{}, shared.AbortTx("post adjustment", err)
	}

	if s.audit != nil {
		auditErr := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory.adjust",
			Entity:   "product",
			EntityID: fmt.Sprintf("%d", input.ProductID),
			Meta: map[string]any{
				"qty":           input.Qty,
				"balance_after": movement.BalanceAfter,
				"note":          input.Note,
			},
			At: input.At,
		})
		if auditErr != nil {
			s.logger.Warn("audit inventory adjustment", slog.Int64("product_id", input.ProductID), slog.Any("error", auditErr))
		}
	}
	return movement.CardEntry(), nil
}

// StockCard lists the recent movements of a product together with its balance.
func (s *Service) StockCard(ctx context.Context, filter StockCardFilter) (StockCard, error) {
	if filter.ProductID <= 0 {
		return StockCard{}, shared.Invalid("productId", "required")
	}
	available, err := s.repo.Available(ctx, filter.ProductID)
	if err != nil {
		return StockCard{}, err
	}
	movements, err := s.repo.Movements(ctx, filter)
	if err != nil {
		return StockCard{}, err
	}
	card := StockCard{ProductID: filter.ProductID, Available: available, Entries: make([]StockCardEntry, 0, len(movements))}
	for _, m := range movements {
		card.Entries = append(card.Entries, m.CardEntry())
	}
	return card, nil
}

// IsShortfall reports whether err is a stock rejection.
func IsShortfall(err error) bool {
	return errors.Is(err, shared.ErrInsufficientStock)
}
