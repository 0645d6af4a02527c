package masterdata

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Customer is the read model of a customer referenced by sales.
type Customer struct {
	ID          int64  `json:"id"`
	FName       string `json:"fname"`
	LName       string `json:"lname"`
	CIN         string `json:"cin"`
	PhoneNumber string `json:"phoneNumber"`
}

// DisplayName joins first and last names, falling back to a generic label.
func (c Customer) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.FName) + " " + strings.TrimSpace(c.LName))
	if name == "" {
		return "Client"
	}
	return name
}

// Product is the read model of a sellable product.
type Product struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	SPrice decimal.Decimal `json:"sPrice"`
	Stock  int             `json:"stock"`
}

// Service is the read model of a workshop service.
type Service struct {
	ID          int64           `json:"id"`
	ServiceType string          `json:"serviceType"`
	Description string          `json:"description"`
	ActualCost  decimal.Decimal `json:"actualCost"`
}

// Repository exposes lookups of live (not soft-deleted) reference data.
type Repository interface {
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetService(ctx context.Context, id int64) (Service, error)
	CustomersByIDs(ctx context.Context, ids []int64) (map[int64]Customer, error)
}
