package ventes

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/serat-auto/backoffice/internal/platform/httpx"
	"github.com/serat-auto/backoffice/internal/sales"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Handler exposes the sale endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	clock     func() time.Time
}

// NewHandler constructs the sale handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: httpx.NewValidator(),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// MountRoutes registers sale routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	in.Key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	sale, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create vente", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"message": "Vente created successfully", "vente": sale})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := saleID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	sale, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update vente", err, slog.Int64("vente_id", id))
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "Vente updated", "vente": sale})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := saleID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actorID(r), h.clock()); err != nil {
		h.fail(w, "delete vente", err, slog.Int64("vente_id", id))
		return
	}
	httpx.Message(w, http.StatusOK, "Vente deleted", nil)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := saleID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get vente", err, slog.Int64("vente_id", id))
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := shared.ParsePage(q.Get("page"), q.Get("limit"))
	filter := sales.ListFilter{Page: page, Limit: limit}
	if raw := q.Get("customer"); raw != "" {
		customerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || customerID <= 0 {
			httpx.RespondError(w, shared.Invalid("customer", "invalid customer id"))
			return
		}
		filter.CustomerID = &customerID
	}
	list, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list ventes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"total":  pagination.Total,
		"page":   pagination.Page,
		"limit":  pagination.Limit,
		"ventes": list,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Input, bool) {
	var req saleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return Input{}, false
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return Input{}, false
	}
	in, err := req.input()
	if err != nil {
		httpx.RespondError(w, err)
		return Input{}, false
	}
	in.ActorID = actorID(r)
	in.At = h.clock()
	return in, true
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error, attrs ...any) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, append(attrs, slog.Any("error", err))...)
	}
	httpx.RespondError(w, err)
}

func saleID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid("id", "invalid vente id")
	}
	return id, nil
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.ID
}
