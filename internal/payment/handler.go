package payment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/fitcoach-payments/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    baseHandler,
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// Initiate handles POST /payment/initiate
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Logger.Warn("Initiate: failed to parse request body", "error", err)
		h.HandleError(w, r, err)
		return
	}

	resp, err := h.PaymentService.Initiate(r.Context(), req.ToPaymentRequest())
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// GetStatus handles GET /payment/status/{correlationId}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlationId")

	view, err := h.PaymentService.GetStatus(r.Context(), correlationID)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, view)
}
