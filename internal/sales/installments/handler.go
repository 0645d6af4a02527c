package installments

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/serat-auto/backoffice/internal/platform/httpx"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Handler exposes installment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	clock   func() time.Time
}

// NewHandler constructs the handler. clock may be nil.
func NewHandler(logger *slog.Logger, service *Service, clock func() time.Time) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{logger: logger, service: service, clock: clock}
}

type paymentRequest struct {
	PaymentMethod string  `json:"paymentMethod"`
	Notes         *string `json:"notes"`
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	saleID, index, err := installmentParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req paymentRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	payment := Payment{Notes: req.Notes}
	if req.PaymentMethod != "" {
		method := sales.PaymentMethod(req.PaymentMethod)
		payment.Method = &method
	}
	change, err := h.service.MarkPaid(r.Context(), saleID, index, payment, actorID(r), h.clock())
	if err != nil {
		h.fail(w, "mark installment paid", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":     "Installment marked as paid successfully",
		"installment": change,
	})
}

func (h *Handler) markUnpaid(w http.ResponseWriter, r *http.Request) {
	saleID, index, err := installmentParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	change, err := h.service.MarkUnpaid(r.Context(), saleID, index, actorID(r), h.clock())
	if err != nil {
		h.fail(w, "mark installment unpaid", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":     "Installment marked as unpaid successfully",
		"installment": change,
	})
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.SweepOverdue(r.Context(), h.clock())
	if err != nil {
		h.fail(w, "sweep overdue installments", err)
		return
	}
	httpx.Message(w, http.StatusOK, fmt.Sprintf("Updated %d overdue installments", updated), map[string]any{"updatedCount": updated})
}

func (h *Handler) all(w http.ResponseWriter, r *http.Request) {
	listing, err := h.service.All(r.Context(), listQuery(r), h.clock())
	if err != nil {
		h.fail(w, "list installments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listing)
}

func (h *Handler) forCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := idParam(r, "customerId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	listing, err := h.service.ForCustomer(r.Context(), customerID, listQuery(r), h.clock())
	if err != nil {
		h.fail(w, "list customer installments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listing)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := shared.ParsePage(q.Get("page"), q.Get("limit"))
	daysAhead, err := optionalInt(q.Get("daysAhead"), "daysAhead")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	includeAll, err := optionalBool(q.Get("includeAll"), "includeAll")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	board, err := h.service.Dashboard(r.Context(), DashboardQuery{DaysAhead: daysAhead, IncludeAll: includeAll, Page: page, Limit: limit}, h.clock())
	if err != nil {
		h.fail(w, "installment dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, board)
}

func (h *Handler) clientUpcoming(w http.ResponseWriter, r *http.Request) {
	customerID, err := idParam(r, "customerId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	daysAhead, err := optionalInt(r.URL.Query().Get("daysAhead"), "daysAhead")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ClientUpcoming(r.Context(), customerID, daysAhead, h.clock())
	if err != nil {
		h.fail(w, "client upcoming installments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func listQuery(r *http.Request) Query {
	q := r.URL.Query()
	page, limit := shared.ParsePage(q.Get("page"), q.Get("limit"))
	return Query{
		Status:    q.Get("status"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		Page:      page,
		Limit:     limit,
	}
}

func installmentParams(r *http.Request) (int64, int, error) {
	saleID, err := idParam(r, "saleId")
	if err != nil {
		return 0, 0, err
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		return 0, 0, shared.Invalid("installmentIndex", "must be a non-negative integer")
	}
	return saleID, index, nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid(name, "invalid id")
	}
	return id, nil
}

func optionalInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.Invalid(field, "must be an integer")
	}
	return v, nil
}

func optionalBool(raw, field string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, shared.Invalid(field, "must be a boolean")
	}
	return v, nil
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.ID
}
