package installments

import "github.com/go-chi/chi/v5"

// MountRoutes registers installment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/all", h.all)
	r.Get("/dashboard/upcoming", h.dashboard)
	r.Get("/customer/{customerId}", h.forCustomer)
	r.Get("/client/{customerId}/upcoming", h.clientUpcoming)
	r.Put("/update-overdue", h.sweep)
	r.Put("/{saleId}/{index}/paid", h.markPaid)
	r.Put("/{saleId}/{index}/unpaid", h.markUnpaid)
}
