// Package installments validates installment schedules, tracks their payment status and builds
// the read views over them.
package installments

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Draft is a proposed installment as received from a caller.
type Draft struct {
	Amount  *decimal.Decimal
	DueDate *time.Time
}

// Payment carries the optional fields recorded when an installment is paid.
type Payment struct {
	Method *sales.PaymentMethod
	Notes  *string
}

// Validate checks the payment method and notes length.
func (p Payment) Validate() error {
	if p.Method != nil && !p.Method.Valid() {
		return shared.Invalid("paymentMethod", "must be one of cash, card, transfer, check")
	}
	if p.Notes != nil && utf8.RuneCountInString(*p.Notes) > sales.MaxInstallmentNotes {
		return shared.Invalid("notes", fmt.Sprintf("must be at most %d characters", sales.MaxInstallmentNotes))
	}
	return nil
}

// Normalize validates drafts against the sale total and returns the schedule to persist.
// Comptant sales carry no installments; any drafts are dropped.
func Normalize(paymentType sales.PaymentType, drafts []Draft, total decimal.Decimal) ([]sales.Installment, error) {
	switch paymentType {
	case sales.PaymentComptant:
		return []sales.Installment{}, nil
	case sales.PaymentFacilite:
	default:
		return nil, shared.Invalid("paymentType", "must be comptant or facilite")
	}
	if len(drafts) == 0 {
		return nil, shared.Invalid("installments", "required for payment type facilite")
	}

	out := make([]sales.Installment, 0, len(drafts))
	sum := decimal.Zero
	for i, d := range drafts {
		if d.Amount == nil || d.DueDate == nil || d.DueDate.IsZero() {
			return nil, shared.Invalid(fmt.Sprintf("installments[%d]", i), "amount and dueDate are required")
		}
		if d.Amount.IsNegative() {
			return nil, shared.Invalid(fmt.Sprintf("installments[%d].amount", i), "must not be negative")
		}
		if !sales.IsCents(*d.Amount) {
			return nil, shared.Invalid(fmt.Sprintf("installments[%d].amount", i), "must have at most 2 decimal places")
		}
		sum = sum.Add(*d.Amount)
		out = append(out, sales.Installment{
			Amount:  *d.Amount,
			DueDate: d.DueDate.UTC(),
			Status:  sales.StatusPending,
		})
	}

	diff := sum.Sub(total).Abs()
	if diff.GreaterThan(sales.AmountTolerance) {
		return nil, &shared.AmountMismatchError{Expected: total, Actual: sum, Difference: diff}
	}
	return out, nil
}

// MarkPaid settles the installment at index. Re-applying overwrites the payment fields.
func MarkPaid(list []sales.Installment, index int, p Payment, now time.Time) (sales.Installment, error) {
	if err := p.Validate(); err != nil {
		return sales.Installment{}, err
	}
	if index < 0 || index >= len(list) {
		return sales.Installment{}, errIndex(index)
	}
	paidAt := now.UTC()
	inst := &list[index]
	inst.Status = sales.StatusPaid
	inst.PaymentDate = &paidAt
	inst.PaymentMethod = nil
	if p.Method != nil {
		method := *p.Method
		inst.PaymentMethod = &method
	}
	inst.Notes = nil
	if p.Notes != nil && *p.Notes != "" {
		notes := *p.Notes
		inst.Notes = &notes
	}
	return *inst, nil
}

// MarkUnpaid resets the installment at index to pending whatever its prior status.
func MarkUnpaid(list []sales.Installment, index int) (sales.Installment, error) {
	if index < 0 || index >= len(list) {
		return sales.Installment{}, errIndex(index)
	}
	inst := &list[index]
	inst.Status = sales.StatusPending
	inst.PaymentDate = nil
	inst.PaymentMethod = nil
	inst.Notes = nil
	return *inst, nil
}

// SweepOverdue flips pending installments due before now to overdue and returns how many changed.
func SweepOverdue(list []sales.Installment, now time.Time) int {
	changed := 0
	for i := range list {
		if list[i].Status == sales.StatusPending && list[i].DueDate.Before(now) {
			list[i].Status = sales.StatusOverdue
			changed++
		}
	}
	return changed
}

func errIndex(index int) error {
	return &shared.NotFoundError{Entity: "installment", ID: fmt.Sprintf("index %d", index)}
}
