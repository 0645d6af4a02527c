// Package sales holds the sale ("vente") aggregate: its embedded articles, service items and
// installment schedule, and the store that persists it as a single row.
package sales

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/serat-auto/backoffice/internal/shared"
)

// ============================================================================
// ENUMS
// ============================================================================

// PaymentType selects between paying in full and paying by installments.
type PaymentType string

const (
	PaymentComptant PaymentType = "comptant"
	PaymentFacilite PaymentType = "facilite"
)

// Valid reports whether p is a known payment type.
func (p PaymentType) Valid() bool {
	return p == PaymentComptant || p == PaymentFacilite
}

// InstallmentStatus is the stored state of one installment.
type InstallmentStatus string

const (
	StatusPending InstallmentStatus = "pending"
	StatusPaid    InstallmentStatus = "paid"
	StatusOverdue InstallmentStatus = "overdue"
)

// PaymentMethod records how an installment was settled.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
	MethodCheck    PaymentMethod = "check"
)

// Valid reports whether m is an accepted payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodCheck:
		return true
	}
	return false
}

// ReductionType is supplied at write time only; it is not persisted.
type ReductionType string

const (
	ReductionNone    ReductionType = ""
	ReductionAmount  ReductionType = "amount"
	ReductionPercent ReductionType = "percent"
)

const (
	MaxSaleNotes        = 500
	MaxInstallmentNotes = 200
)

// AmountTolerance is the absolute slack allowed between the installment sum and the total.
var AmountTolerance = decimal.New(1, -2)

// IsCents reports whether d carries no more than two decimal places, the precision of every
// money column.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// ============================================================================
// AGGREGATE
// ============================================================================

// Article is a product line with a snapshotted unit price.
type Article struct {
	ProductID    int64           `json:"product"`
	ProductTitle string          `json:"productTitle"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	TotalPrice   decimal.Decimal `json:"totalPrice"`
}

// ServiceItem is a workshop service billed on the sale.
type ServiceItem struct {
	ServiceID   int64           `json:"service"`
	ServiceType string          `json:"serviceType"`
	Description string          `json:"description"`
	Cost        decimal.Decimal `json:"cost"`
}

// Installment is one scheduled payment. It has no identity outside its sale; its position in
// Sale.Installments is its address.
type Installment struct {
	Amount        decimal.Decimal   `json:"amount"`
	DueDate       time.Time         `json:"dueDate"`
	Status        InstallmentStatus `json:"status"`
	PaymentDate   *time.Time        `json:"paymentDate"`
	PaymentMethod *PaymentMethod    `json:"paymentMethod"`
	Notes         *string           `json:"notes"`
}

// EffectiveStatus is the status as of now: a pending installment past its due date reads as
// overdue even before the sweep has persisted it.
func (i Installment) EffectiveStatus(now time.Time) InstallmentStatus {
	if i.Status == StatusPending && i.DueDate.Before(now) {
		return StatusOverdue
	}
	return i.Status
}

// Open reports whether the installment still awaits payment.
func (i Installment) Open() bool {
	return i.Status == StatusPending || i.Status == StatusOverdue
}

// Sale is the aggregate root.
type Sale struct {
	ID             int64           `json:"id"`
	CustomerID     int64           `json:"customer"`
	Articles       []Article       `json:"articles"`
	Services       []ServiceItem   `json:"services"`
	Reduction      decimal.Decimal `json:"reduction"`
	ReductionValue decimal.Decimal `json:"reductionValue"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	PaymentType    PaymentType     `json:"paymentType"`
	Installments   []Installment   `json:"installments"`
	Notes          *string         `json:"notes"`
	CreatedBy      int64           `json:"createdBy"`
	IsDeleted      bool            `json:"-"`
	DeletedAt      *time.Time      `json:"-"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ArticlesTotal sums the article line totals.
func (s Sale) ArticlesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Articles {
		total = total.Add(a.TotalPrice)
	}
	return total
}

// ServicesTotal sums the service costs.
func (s Sale) ServicesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, sv := range s.Services {
		total = total.Add(sv.Cost)
	}
	return total
}

// Quantities aggregates article quantities per product.
func (s Sale) Quantities() map[int64]int {
	return QuantitiesOf(s.Articles)
}

// InstallmentAt returns a pointer into the schedule or NotFound for a bad index.
func (s *Sale) InstallmentAt(index int) (*Installment, error) {
	if index < 0 || index >= len(s.Installments) {
		return nil, &shared.NotFoundError{Entity: "installment", ID: InstallmentID(s.ID, index)}
	}
	return &s.Installments[index], nil
}

// QuantitiesOf aggregates quantities per product for a set of lines.
func QuantitiesOf(articles []Article) map[int64]int {
	out := make(map[int64]int, len(articles))
	for _, a := range articles {
		out[a.ProductID] += a.Quantity
	}
	return out
}

// StockDelta returns, per product, how many more units the new lines consume than the old ones.
// Positive values must be taken from stock, negative values returned to it. Zero deltas are omitted.
func StockDelta(old, next map[int64]int) map[int64]int {
	delta := make(map[int64]int)
	for id, qty := range next {
		if d := qty - old[id]; d != 0 {
			delta[id] = d
		}
	}
	for id, qty := range old {
		if _, ok := next[id]; !ok && qty != 0 {
			delta[id] = -qty
		}
	}
	return delta
}

// InstallmentID is the synthetic display id of an installment.
func InstallmentID(saleID int64, index int) string {
	return fmt.Sprintf("%d_%d", saleID, index)
}

// ParseInstallmentID splits a synthetic id back into sale id and index.
func ParseInstallmentID(id string) (int64, int, error) {
	salePart, indexPart, ok := strings.Cut(id, "_")
	if !ok {
		return 0, 0, shared.Invalid("installmentId", "expected {saleId}_{index}")
	}
	saleID, err := strconv.ParseInt(salePart, 10, 64)
	if err != nil || saleID <= 0 {
		return 0, 0, shared.Invalid("installmentId", "invalid sale id")
	}
	index, err := strconv.Atoi(indexPart)
	if err != nil || index < 0 {
		return 0, 0, shared.Invalid("installmentId", "invalid index")
	}
	return saleID, index, nil
}

// ListFilter narrows sale listings.
type ListFilter struct {
	CustomerID *int64
	Page       int
	Limit      int
}

// InstallmentScope narrows the sales scanned by installment views.
type InstallmentScope struct {
	CustomerID *int64
}
