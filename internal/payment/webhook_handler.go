package payment

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/fitcoach-payments/internal/core/datamodel/mpesa"
	"github.com/frahmantamala/fitcoach-payments/internal/transport"
)

// WebhookHandler receives STK result notifications. A 200 tells the provider to stop
// redelivering; a 5xx asks it to try again.
type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

// HandlePaymentCallback handles POST /payment/callback
func (h *WebhookHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var envelope mpesa.CallbackEnvelope
	if err := h.DecodeJSON(r, &envelope); err != nil {
		h.logger.Warn("invalid payment callback body", "error", err)
		h.HandleError(w, r, err)
		return
	}

	cb := CallbackFromEnvelope(&envelope)
	h.logger.Info("received payment callback",
		"correlation_id", cb.CorrelationID,
		"merchant_request_id", cb.MerchantRequestID,
		"result_desc", cb.ResultDescription)

	outcome, err := h.paymentService.HandleCallback(r.Context(), cb)
	if err != nil {
		h.HandleError(w, r, err)
		return
	}

	h.logger.Info("payment callback processed",
		"correlation_id", cb.CorrelationID,
		"state", outcome.Payment.State,
		"replayed", outcome.Replayed)

	h.WriteJSON(w, http.StatusOK, CallbackAck{Ack: true})
}
