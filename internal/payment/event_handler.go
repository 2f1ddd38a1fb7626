package payment

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
)

// EventHandler writes the payment lifecycle to the audit log.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{
		logger: logger.With("component", "payment_audit"),
	}
}

func (h *EventHandler) HandlePaymentEvent(ctx context.Context, event events.Event) error {
	attrs := []any{
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"occurred_at", event.OccurredAt(),
	}
	if data, ok := event.Payload().(map[string]interface{}); ok {
		for key, value := range data {
			attrs = append(attrs, key, value)
		}
	}

	switch event.EventType() {
	case events.EventTypePaymentInitiationFailed, events.EventTypeSettlementMismatch:
		h.logger.WarnContext(ctx, "payment audit", attrs...)
	default:
		h.logger.InfoContext(ctx, "payment audit", attrs...)
	}
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	types := []string{
		events.EventTypePaymentInitiated,
		events.EventTypePaymentInitiationFailed,
		events.EventTypePaymentSucceeded,
		events.EventTypePaymentFailed,
		events.EventTypeSettlementMismatch,
		events.EventTypeCallbackReplayed,
	}
	for _, t := range types {
		eventBus.Subscribe(t, h.HandlePaymentEvent)
	}

	h.logger.Info("payment event handlers registered", "handlers", types)
}
