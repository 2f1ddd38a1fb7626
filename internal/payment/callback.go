package payment

import (
	"context"
	stderrors "errors"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
)

// CallbackOutcome reports what a callback did. Replayed is set when the record was
// already terminal and nothing changed.
type CallbackOutcome struct {
	Payment  *View
	Replayed bool
}

// HandleCallback resolves a PENDING record from a provider result notification.
// Only the first callback per correlation id changes state; later ones are acknowledged
// as replays and leave the record untouched.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (*CallbackOutcome, error) {
	if err := cb.Validate(); err != nil {
		s.logger.Warn("malformed payment callback",
			"correlation_id", cb.CorrelationID,
			"error", err)
		return nil, err
	}

	current, err := s.store.Get(ctx, cb.CorrelationID)
	if err != nil {
		return nil, s.lookupFailed(cb, err)
	}

	if current.MerchantRequestID != "" && cb.MerchantRequestID != "" && current.MerchantRequestID != cb.MerchantRequestID {
		s.logger.Warn("callback merchant request id differs from acknowledgement",
			"correlation_id", cb.CorrelationID,
			"expected", current.MerchantRequestID,
			"received", cb.MerchantRequestID)
	}

	if current.State.IsTerminal() {
		return s.replayed(ctx, current), nil
	}

	record, applied, err := s.store.UpdateTerminal(ctx, cb.CorrelationID, cb.Resolution(), s.clock.Now())
	if err != nil {
		return nil, s.lookupFailed(cb, err)
	}
	if !applied {
		return s.replayed(ctx, record), nil
	}

	s.logger.Info("payment resolved",
		"correlation_id", record.CorrelationID,
		"state", record.State,
		"result_code", *cb.ResultCode,
		"receipt", record.ProviderReceiptID)

	if record.AmountMismatch {
		s.settlementMismatch(ctx, record, cb.UnreadableAmount)
	}

	if record.State == StateSucceeded {
		s.publish(ctx, events.NewPaymentSucceededEvent(
			record.CorrelationID,
			record.Request.MerchantReference,
			ToView(record).Amount,
			record.ProviderReceiptID,
			*record.ResolvedAt,
		))
	} else {
		s.publish(ctx, events.NewPaymentFailedEvent(
			record.CorrelationID,
			record.Request.MerchantReference,
			*record.ResultCode,
			record.FailureReason,
			*record.ResolvedAt,
		))
	}

	return &CallbackOutcome{Payment: ToView(record)}, nil
}

func (s *Service) replayed(ctx context.Context, record *Record) *CallbackOutcome {
	s.logger.Info("callback replay ignored",
		"correlation_id", record.CorrelationID,
		"state", record.State)
	s.publish(ctx, events.NewCallbackReplayedEvent(record.CorrelationID, string(record.State), s.clock.Now()))
	return &CallbackOutcome{Payment: ToView(record), Replayed: true}
}

func (s *Service) lookupFailed(cb Callback, err error) error {
	if stderrors.Is(err, ErrRecordNotFound) {
		s.logger.Warn("callback for unknown payment",
			"correlation_id", cb.CorrelationID,
			"merchant_request_id", cb.MerchantRequestID)
		return errors.ErrPaymentNotFound
	}
	s.logger.Error("failed to resolve payment from callback",
		"correlation_id", cb.CorrelationID,
		"error", err)
	return errors.NewInternalError("failed to record callback", err)
}

func (s *Service) settlementMismatch(ctx context.Context, record *Record, unreadable string) {
	if record.SettledAmount == nil {
		s.logger.Warn("settled amount is not a whole number",
			"correlation_id", record.CorrelationID,
			"requested", record.Request.Amount,
			"settled", unreadable)
		s.publish(ctx, events.NewUnreadableSettlementEvent(
			record.CorrelationID,
			record.Request.Amount,
			unreadable,
			*record.ResolvedAt,
		))
		return
	}

	s.logger.Warn("settled amount differs from requested amount",
		"correlation_id", record.CorrelationID,
		"requested", record.Request.Amount,
		"settled", *record.SettledAmount)
	s.publish(ctx, events.NewSettlementMismatchEvent(
		record.CorrelationID,
		record.Request.Amount,
		*record.SettledAmount,
		*record.ResolvedAt,
	))
}
