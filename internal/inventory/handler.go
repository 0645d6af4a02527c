package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/serat-auto/backoffice/internal/platform/httpx"
	"github.com/serat-auto/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	clock     func() time.Time
	admin     func(http.Handler) http.Handler
}

// NewHandler constructs inventory handler. admin guards the mutating routes.
func NewHandler(logger *slog.Logger, service *Service, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: httpx.NewValidator(),
		clock:     func() time.Time { return time.Now().UTC() },
		admin:     admin,
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{id}/movements", h.handleStockCard)
	r.Group(func(r chi.Router) {
		if h.admin != nil {
			r.Use(h.admin)
		}
		r.Post("/adjustments", h.handleAdjustment)
	})
}

type adjustmentRequest struct {
	ProductID int64  `json:"productId" validate:"required,gt=0"`
	Qty       int    `json:"qty" validate:"ne=0"`
	Note      string `json:"note" validate:"max=200"`
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.RespondError(w, shared.Invalid("id", "invalid product id"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	card, err := h.service.StockCard(r.Context(), StockCardFilter{ProductID: productID, Limit: limit})
	if err != nil {
		h.logError("stock card", err, slog.Int64("product_id", productID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, card)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	entry, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		ProductID: req.ProductID,
		Qty:       req.Qty,
		Note:      req.Note,
		ActorID:   actor.ID,
		Key:       r.Header.Get("Idempotency-Key"),
		At:        h.clock(),
	})
	if err != nil {
		h.logError("post adjustment", err, slog.Int64("product_id", req.ProductID))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("stock adjusted",
		slog.Int64("product_id", req.ProductID),
		slog.Int("qty", req.Qty),
		slog.Int("balance", entry.BalanceQty),
		slog.Int64("actor_id", actor.ID))
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) logError(msg string, err error, attrs ...any) {
	if httpx.StatusFor(err) < http.StatusInternalServerError {
		return
	}
	h.logger.Error(msg, append(attrs, slog.Any("error", err))...)
}
