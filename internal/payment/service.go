package payment

import (
	"context"
	stderrors "errors"
	"log/slog"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type ServiceAPI interface {
	Initiate(ctx context.Context, req PaymentRequest) (*InitiateResponse, error)
	GetStatus(ctx context.Context, correlationID string) (*View, error)
	HandleCallback(ctx context.Context, cb Callback) (*CallbackOutcome, error)
}

type Service struct {
	store     Store
	provider  Provider
	publisher EventPublisher
	clock     clock.Clock
	logger    *slog.Logger
}

func NewService(store Store, provider Provider, publisher EventPublisher, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		provider:  provider,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// Initiate validates req, asks the provider to push a payment prompt and records the
// acknowledged request as PENDING. Nothing is stored unless the provider acknowledged.
func (s *Service) Initiate(ctx context.Context, req PaymentRequest) (*InitiateResponse, error) {
	normalized, err := req.Normalize()
	if err != nil {
		s.logger.Warn("payment request rejected by validation",
			"merchant_reference", req.MerchantReference,
			"error", err)
		return nil, err
	}

	ack, err := s.provider.RequestPayment(ctx, normalized)
	if err != nil {
		return nil, s.initiationFailed(ctx, normalized, err)
	}
	if ack == nil || ack.CorrelationID == "" {
		return nil, s.initiationFailed(ctx, normalized,
			errors.NewProviderRejectedError("provider acknowledgement carried no CheckoutRequestID", errors.ErrCodeProviderRejected))
	}
	if ack.ResponseCode != "" && ack.ResponseCode != "0" {
		return nil, s.initiationFailed(ctx, normalized,
			errors.NewProviderRejectedError(ack.ResponseDescription, errors.ErrCodeProviderRejected).
				WithDetails(errors.ProviderDetails{ProviderCode: ack.ResponseCode}))
	}

	record := NewPendingRecord(ack.CorrelationID, ack.MerchantRequestID, normalized, s.clock.Now())
	if err := s.store.Create(ctx, record); err != nil {
		s.logger.Error("failed to store acknowledged payment",
			"correlation_id", ack.CorrelationID,
			"merchant_reference", normalized.MerchantReference,
			"error", err)
		if stderrors.Is(err, ErrRecordExists) {
			return nil, errors.NewConflictError("payment already exists for correlation id", errors.ErrCodeDuplicatePayment).WithCause(err)
		}
		return nil, errors.NewInternalError("failed to record payment", err)
	}

	s.logger.Info("payment initiated",
		"correlation_id", record.CorrelationID,
		"merchant_request_id", record.MerchantRequestID,
		"merchant_reference", normalized.MerchantReference,
		"amount", normalized.Amount)

	s.publish(ctx, events.NewPaymentInitiatedEvent(
		record.CorrelationID,
		record.MerchantRequestID,
		normalized.MerchantReference,
		normalized.Amount,
		record.CreatedAt,
	))

	return &InitiateResponse{
		CorrelationID:     ack.CorrelationID,
		MerchantRequestID: ack.MerchantRequestID,
		CustomerMessage:   ack.CustomerMessage,
	}, nil
}

func (s *Service) initiationFailed(ctx context.Context, req PaymentRequest, err error) error {
	appErr, ok := errors.IsAppError(err)
	if !ok {
		appErr = errors.NewProviderUnreachableError("payment provider unreachable", err)
	}

	s.logger.Error("payment initiation failed",
		"merchant_reference", req.MerchantReference,
		"kind", appErr.Type,
		"error", err)

	s.publish(ctx, events.NewPaymentInitiationFailedEvent(
		req.MerchantReference,
		string(appErr.Type),
		appErr.Message,
		s.clock.Now(),
	))
	return appErr
}

// GetStatus is a pure read of the correlation record.
func (s *Service) GetStatus(ctx context.Context, correlationID string) (*View, error) {
	if correlationID == "" {
		return nil, errors.NewBadRequestError("correlation id is required", errors.ErrCodeValidationFailed)
	}

	record, err := s.store.Get(ctx, correlationID)
	if err != nil {
		if stderrors.Is(err, ErrRecordNotFound) {
			return nil, errors.ErrPaymentNotFound
		}
		s.logger.Error("failed to load payment", "correlation_id", correlationID, "error", err)
		return nil, errors.NewInternalError("failed to load payment", err)
	}
	return ToView(record), nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"error", err)
	}
}
