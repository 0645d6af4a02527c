// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/serat-auto/backoffice/internal/shared"
)

type detailer interface {
	Details() map[string]any
}

// StatusFor maps a domain error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInsufficientStock),
		errors.Is(err, shared.ErrAmountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses. Server errors never expose their cause.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Error(w, status, kindFor(err), "Server error", nil)
		return
	}
	var details map[string]any
	var d detailer
	if errors.As(err, &d) {
		details = d.Details()
	}
	Error(w, status, kindFor(err), err.Error(), details)
}

func kindFor(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		return "unauthorized"
	case errors.Is(err, shared.ErrForbidden):
		return "forbidden"
	case errors.Is(err, shared.ErrTransactionAborted):
		return "transaction_aborted"
	default:
		return "internal"
	}
}
