// Package pricing derives sale line totals and the final total cost from catalog prices.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/serat-auto/backoffice/internal/masterdata"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Catalog resolves live products and services.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
	GetService(ctx context.Context, id int64) (masterdata.Service, error)
}

// ArticleLine is a requested product quantity.
type ArticleLine struct {
	ProductID int64
	Quantity  int
}

// ServiceLine is a requested service. A nil Cost falls back to the catalog actual cost and an
// empty Description to the catalog description.
type ServiceLine struct {
	ServiceID   int64
	Cost        *decimal.Decimal
	Description string
}

// Input gathers everything needed to price a sale.
type Input struct {
	Articles      []ArticleLine
	Services      []ServiceLine
	Reduction     decimal.Decimal
	ReductionType sales.ReductionType
	// Reserved holds quantities already taken from stock by the sale being updated; they count
	// as available to that sale.
	Reserved map[int64]int
}

// Result carries the snapshotted lines and totals.
type Result struct {
	Articles       []sales.Article
	Services       []sales.ServiceItem
	ArticlesTotal  decimal.Decimal
	ServicesTotal  decimal.Decimal
	PreTotal       decimal.Decimal
	ReductionValue decimal.Decimal
	TotalCost      decimal.Decimal
}

// Calculator prices sales against the catalog. It never mutates anything.
type Calculator struct {
	catalog Catalog
}

// NewCalculator constructs a Calculator.
func NewCalculator(catalog Catalog) *Calculator {
	return &Calculator{catalog: catalog}
}

// Calculate validates references, checks stock and computes totals.
func (c *Calculator) Calculate(ctx context.Context, in Input) (Result, error) {
	if err := validateReduction(in.Reduction, in.ReductionType); err != nil {
		return Result{}, err
	}

	res := Result{
		Articles:      make([]sales.Article, 0, len(in.Articles)),
		Services:      make([]sales.ServiceItem, 0, len(in.Services)),
		ArticlesTotal: decimal.Zero,
		ServicesTotal: decimal.Zero,
	}

	products := make(map[int64]masterdata.Product)
	requested := make(map[int64]int)
	for _, line := range in.Articles {
		if line.Quantity < 1 {
			return Result{}, shared.Invalid("articles.quantity", "must be at least 1")
		}
		product, ok := products[line.ProductID]
		if !ok {
			var err error
			product, err = c.catalog.GetProduct(ctx, line.ProductID)
			if err != nil {
				return Result{}, err
			}
			products[line.ProductID] = product
		}
		requested[line.ProductID] += line.Quantity

		unit := product.SPrice
		total := unit.Mul(decimal.NewFromInt(int64(line.Quantity)))
		res.Articles = append(res.Articles, sales.Article{
			ProductID:    product.ID,
			ProductTitle: product.Title,
			Quantity:     line.Quantity,
			UnitPrice:    unit,
			TotalPrice:   total,
		})
		res.ArticlesTotal = res.ArticlesTotal.Add(total)
	}

	for _, line := range in.Articles {
		qty, pending := requested[line.ProductID]
		if !pending {
			continue
		}
		delete(requested, line.ProductID)
		product := products[line.ProductID]
		available := product.Stock + in.Reserved[line.ProductID]
		if available < qty {
			return Result{}, &shared.InsufficientStockError{
				ProductID: product.ID,
				Title:     product.Title,
				Available: available,
				Requested: qty,
			}
		}
	}

	for _, line := range in.Services {
		svc, err := c.catalog.GetService(ctx, line.ServiceID)
		if err != nil {
			return Result{}, err
		}
		cost := svc.ActualCost
		if line.Cost != nil {
			if line.Cost.IsNegative() {
				return Result{}, shared.Invalid("services.cost", "must not be negative")
			}
			if !sales.IsCents(*line.Cost) {
				return Result{}, shared.Invalid("services.cost", "must have at most 2 decimal places")
			}
			cost = *line.Cost
		}
		description := line.Description
		if description == "" {
			description = svc.Description
		}
		res.Services = append(res.Services, sales.ServiceItem{
			ServiceID:   svc.ID,
			ServiceType: svc.ServiceType,
			Description: description,
			Cost:        cost,
		})
		res.ServicesTotal = res.ServicesTotal.Add(cost)
	}

	res.PreTotal = res.ArticlesTotal.Add(res.ServicesTotal)
	res.ReductionValue = ApplyReduction(res.PreTotal, in.Reduction, in.ReductionType)
	res.TotalCost = decimal.Max(decimal.Zero, res.PreTotal.Sub(res.ReductionValue))
	return res, nil
}

// ApplyReduction returns the amount to subtract from pre. An amount is capped at pre; a percent
// applies only strictly between 0 and 100 and is otherwise ignored.
func ApplyReduction(pre, reduction decimal.Decimal, kind sales.ReductionType) decimal.Decimal {
	if !reduction.IsPositive() || !pre.IsPositive() {
		return decimal.Zero
	}
	switch kind {
	case sales.ReductionAmount:
		return decimal.Min(reduction, pre)
	case sales.ReductionPercent:
		if reduction.LessThan(hundred) {
			return pre.Mul(reduction).Div(hundred).Round(2)
		}
	}
	return decimal.Zero
}

func validateReduction(reduction decimal.Decimal, kind sales.ReductionType) error {
	if reduction.IsNegative() {
		return shared.Invalid("reduction", "must not be negative")
	}
	switch kind {
	case sales.ReductionNone:
		if reduction.IsPositive() {
			return shared.Invalid("reductionType", "required when reduction is set")
		}
	case sales.ReductionAmount:
		if !sales.IsCents(reduction) {
			return shared.Invalid("reduction", "must have at most 2 decimal places")
		}
	case sales.ReductionPercent:
	default:
		return shared.Invalid("reductionType", "must be amount or percent")
	}
	return nil
}
