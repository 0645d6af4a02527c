package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serat-auto/backoffice/internal/masterdata"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/shared"
)

type stubCatalog struct {
	products map[int64]masterdata.Product
	services map[int64]masterdata.Service
}

func (c stubCatalog) GetProduct(ctx context.Context, id int64) (masterdata.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return masterdata.Product{}, shared.NewNotFound("product", id)
	}
	return p, nil
}

func (c stubCatalog) GetService(ctx context.Context, id int64) (masterdata.Service, error) {
	s, ok := c.services[id]
	if !ok {
		return masterdata.Service{}, shared.NewNotFound("service", id)
	}
	return s, nil
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func ptr[T any](v T) *T { return &v }

func catalog() stubCatalog {
	return stubCatalog{
		products: map[int64]masterdata.Product{
			1: {ID: 1, Title: "Pneu 205/55", SPrice: dec("100"), Stock: 10},
			2: {ID: 2, Title: "Filtre", SPrice: dec("12.50"), Stock: 5},
		},
		services: map[int64]masterdata.Service{
			1: {ID: 1, ServiceType: "vidange", Description: "Vidange moteur", ActualCost: dec("80")},
		},
	}
}

func TestCalculateSnapshotsPrices(t *testing.T) {
	calc := NewCalculator(catalog())
	res, err := calc.Calculate(context.Background(), Input{
		Articles: []ArticleLine{{ProductID: 1, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Len(t, res.Articles, 1)
	assert.Equal(t, "Pneu 205/55", res.Articles[0].ProductTitle)
	assert.True(t, res.Articles[0].UnitPrice.Equal(dec("100")))
	assert.True(t, res.Articles[0].TotalPrice.Equal(dec("300")))
	assert.True(t, res.TotalCost.Equal(dec("300")), res.TotalCost.String())
}

func TestCalculateServiceCostFallsBackToCatalog(t *testing.T) {
	calc := NewCalculator(catalog())
	res, err := calc.Calculate(context.Background(), Input{
		Services: []ServiceLine{
			{ServiceID: 1},
			{ServiceID: 1, Cost: ptr(dec("0")), Description: "offert"},
			{ServiceID: 1, Cost: ptr(dec("45.5"))},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Services, 3)
	assert.True(t, res.Services[0].Cost.Equal(dec("80")))
	assert.Equal(t, "Vidange moteur", res.Services[0].Description)
	assert.True(t, res.Services[1].Cost.IsZero())
	assert.Equal(t, "offert", res.Services[1].Description)
	assert.True(t, res.ServicesTotal.Equal(dec("125.5")))
	assert.True(t, res.TotalCost.Equal(dec("125.5")))
}

func TestCalculateMissingReferences(t *testing.T) {
	calc := NewCalculator(catalog())
	_, err := calc.Calculate(context.Background(), Input{Articles: []ArticleLine{{ProductID: 99, Quantity: 1}}})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = calc.Calculate(context.Background(), Input{Services: []ServiceLine{{ServiceID: 99}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCalculateStockCheckSumsLinesOfSameProduct(t *testing.T) {
	calc := NewCalculator(catalog())
	_, err := calc.Calculate(context.Background(), Input{
		Articles: []ArticleLine{{ProductID: 2, Quantity: 3}, {ProductID: 2, Quantity: 3}},
	})
	var shortfall *shared.InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, int64(2), shortfall.ProductID)
	assert.Equal(t, "Filtre", shortfall.Title)
	assert.Equal(t, 5, shortfall.Available)
	assert.Equal(t, 6, shortfall.Requested)
}

func TestCalculateReservedQuantitiesCountAsAvailable(t *testing.T) {
	calc := NewCalculator(catalog())
	res, err := calc.Calculate(context.Background(), Input{
		Articles: []ArticleLine{{ProductID: 2, Quantity: 7}},
		Reserved: map[int64]int{2: 2},
	})
	require.NoError(t, err)
	assert.True(t, res.TotalCost.Equal(dec("87.5")))

	_, err = calc.Calculate(context.Background(), Input{
		Articles: []ArticleLine{{ProductID: 2, Quantity: 8}},
		Reserved: map[int64]int{2: 2},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestCalculateRejectsInvalidQuantity(t *testing.T) {
	calc := NewCalculator(catalog())
	_, err := calc.Calculate(context.Background(), Input{Articles: []ArticleLine{{ProductID: 1, Quantity: 0}}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApplyReduction(t *testing.T) {
	pre := dec("1000")
	cases := []struct {
		name      string
		reduction string
		kind      sales.ReductionType
		want      string
	}{
		{"percent zero ignored", "0", sales.ReductionPercent, "0"},
		{"percent hundred ignored", "100", sales.ReductionPercent, "0"},
		{"percent above hundred ignored", "150", sales.ReductionPercent, "0"},
		{"percent half", "50", sales.ReductionPercent, "500"},
		{"percent fraction", "12.5", sales.ReductionPercent, "125"},
		{"amount", "250", sales.ReductionAmount, "250"},
		{"amount capped", "1500", sales.ReductionAmount, "1000"},
		{"no type", "250", sales.ReductionNone, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyReduction(pre, dec(tc.reduction), tc.kind)
			assert.True(t, got.Equal(dec(tc.want)), "got %s", got)
		})
	}
}

func TestCalculateAppliesReductionAndFloorsAtZero(t *testing.T) {
	calc := NewCalculator(catalog())
	ctx := context.Background()
	lines := []ArticleLine{{ProductID: 1, Quantity: 10}}

	res, err := calc.Calculate(ctx, Input{Articles: lines, Reduction: dec("50"), ReductionType: sales.ReductionPercent})
	require.NoError(t, err)
	assert.True(t, res.TotalCost.Equal(dec("500")))
	assert.True(t, res.ReductionValue.Equal(dec("500")))

	res, err = calc.Calculate(ctx, Input{Articles: lines, Reduction: dec("100"), ReductionType: sales.ReductionPercent})
	require.NoError(t, err)
	assert.True(t, res.TotalCost.Equal(dec("1000")))

	res, err = calc.Calculate(ctx, Input{Articles: lines, Reduction: dec("5000"), ReductionType: sales.ReductionAmount})
	require.NoError(t, err)
	assert.True(t, res.TotalCost.IsZero())
}

func TestCalculateRejectsMalformedReduction(t *testing.T) {
	calc := NewCalculator(catalog())
	ctx := context.Background()

	_, err := calc.Calculate(ctx, Input{Reduction: dec("10")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = calc.Calculate(ctx, Input{Reduction: dec("10"), ReductionType: "fixed"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = calc.Calculate(ctx, Input{Reduction: dec("-1"), ReductionType: sales.ReductionAmount})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCalculateRejectsSubCentMoney(t *testing.T) {
	calc := NewCalculator(catalog())
	ctx := context.Background()

	_, err := calc.Calculate(ctx, Input{Services: []ServiceLine{{ServiceID: 1, Cost: ptr(dec("10.005"))}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	lines := []ArticleLine{{ProductID: 1, Quantity: 1}}
	_, err = calc.Calculate(ctx, Input{Articles: lines, Reduction: dec("5.001"), ReductionType: sales.ReductionAmount})
	require.ErrorIs(t, err, shared.ErrValidation)

	res, err := calc.Calculate(ctx, Input{Articles: lines, Reduction: dec("12.5"), ReductionType: sales.ReductionPercent})
	require.NoError(t, err)
	assert.True(t, res.TotalCost.Equal(dec("87.5")), res.TotalCost.String())
}
