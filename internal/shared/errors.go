package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found or soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a product cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAmountMismatch indicates installments do not add up to the sale total.
	ErrAmountMismatch = errors.New("installment amounts do not match total cost")
	// ErrTransactionAborted indicates the atomic persist unit was rolled back.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrConflict indicates a concurrent modification was detected.
	ErrConflict = errors.New("concurrent modification")
	// ErrUnauthorized indicates a missing or unknown bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the actor role may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIdempotencyConflict indicates a duplicate idempotency key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Details exposes diagnostics for HTTP responses.
func (e *NotFoundError) Details() map[string]any {
	return map[string]any{"entity": e.Entity, "id": e.ID}
}

// NewNotFound builds a NotFoundError for an int64 identifier.
func NewNotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprintf("%d", id)}
}

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Details exposes diagnostics for HTTP responses.
func (e *ValidationError) Details() map[string]any {
	return map[string]any{"fields": map[string]string{e.fieldKey(): e.Reason}}
}

func (e *ValidationError) fieldKey() string {
	if e.Field == "" {
		return "_"
	}
	return e.Field
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ValidationErrors aggregates field errors produced by request validation.
type ValidationErrors map[string]string

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for field, reason := range e {
		parts = append(parts, field+": "+reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e ValidationErrors) Unwrap() error { return ErrValidation }

// Details exposes diagnostics for HTTP responses.
func (e ValidationErrors) Details() map[string]any {
	fields := make(map[string]string, len(e))
	for k, v := range e {
		fields[k] = v
	}
	return map[string]any{"fields": fields}
}

// InsufficientStockError carries the shortfall for one product.
type InsufficientStockError struct {
	ProductID int64
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	name := e.Title
	if name == "" {
		name = fmt.Sprintf("%d", e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Details exposes diagnostics for HTTP responses.
func (e *InsufficientStockError) Details() map[string]any {
	return map[string]any{
		"productId": e.ProductID,
		"title":     e.Title,
		"available": e.Available,
		"requested": e.Requested,
	}
}

// AmountMismatchError carries the installment sum against the sale total.
type AmountMismatchError struct {
	Expected   decimal.Decimal
	Actual     decimal.Decimal
	Difference decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("sum of installments %s does not match total cost %s (difference %s)",
		e.Actual.StringFixed(2), e.Expected.StringFixed(2), e.Difference.StringFixed(2))
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

// Details exposes diagnostics for HTTP responses.
func (e *AmountMismatchError) Details() map[string]any {
	return map[string]any{
		"totalCost":       e.Expected.StringFixed(2),
		"installmentsSum": e.Actual.StringFixed(2),
		"difference":      e.Difference.StringFixed(2),
	}
}

// TransactionAbortError wraps an infrastructure failure inside the atomic unit.
type TransactionAbortError struct {
	Op  string
	Err error
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("%s: transaction aborted: %v", e.Op, e.Err)
}

func (e *TransactionAbortError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrTransactionAborted while still unwrapping to the cause.
func (e *TransactionAbortError) Is(target error) bool {
	return target == ErrTransactionAborted
}

// IsDomainError reports whether err is one of the caller-facing kinds that must pass through
// a transaction boundary untouched.
func IsDomainError(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrValidation, ErrInsufficientStock, ErrAmountMismatch, ErrConflict, ErrIdempotencyConflict} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// AbortTx classifies an error returned from a transaction body.
func AbortTx(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return &TransactionAbortError{Op: op, Err: err}
}
