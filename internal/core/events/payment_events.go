package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentInitiated        = "payment.initiated"
	EventTypePaymentInitiationFailed = "payment.initiation_failed"
	EventTypePaymentSucceeded        = "payment.succeeded"
	EventTypePaymentFailed           = "payment.failed"
	EventTypeSettlementMismatch      = "payment.settlement_mismatch"
	EventTypeCallbackReplayed        = "payment.callback_replayed"
)

func newBaseEvent(eventType string, at time.Time, data map[string]interface{}) BaseEvent {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}
}

type PaymentInitiatedEvent struct {
	BaseEvent
	CorrelationID     string `json:"correlation_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	MerchantReference string `json:"merchant_reference"`
	Amount            int64  `json:"amount"`
}

func NewPaymentInitiatedEvent(correlationID, merchantRequestID, merchantReference string, amount int64, at time.Time) *PaymentInitiatedEvent {
	return &PaymentInitiatedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentInitiated, at, map[string]interface{}{
			"correlation_id":      correlationID,
			"merchant_request_id": merchantRequestID,
			"merchant_reference":  merchantReference,
			"amount":              amount,
		}),
		CorrelationID:     correlationID,
		MerchantRequestID: merchantRequestID,
		MerchantReference: merchantReference,
		Amount:            amount,
	}
}

// PaymentInitiationFailedEvent carries the error kind (PROVIDER_REJECTED, PROVIDER_UNREACHABLE, ...).
type PaymentInitiationFailedEvent struct {
	BaseEvent
	MerchantReference string `json:"merchant_reference"`
	Kind              string `json:"kind"`
	Reason            string `json:"reason"`
}

func NewPaymentInitiationFailedEvent(merchantReference, kind, reason string, at time.Time) *PaymentInitiationFailedEvent {
	return &PaymentInitiationFailedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentInitiationFailed, at, map[string]interface{}{
			"merchant_reference": merchantReference,
			"kind":               kind,
			"reason":             reason,
		}),
		MerchantReference: merchantReference,
		Kind:              kind,
		Reason:            reason,
	}
}

type PaymentSucceededEvent struct {
	BaseEvent
	CorrelationID     string `json:"correlation_id"`
	MerchantReference string `json:"merchant_reference"`
	Amount            int64  `json:"amount"`
	ProviderReceiptID string `json:"provider_receipt_id"`
}

func NewPaymentSucceededEvent(correlationID, merchantReference string, amount int64, receiptID string, at time.Time) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: newBaseEvent(EventTypePaymentSucceeded, at, map[string]interface{}{
			"correlation_id":      correlationID,
			"merchant_reference":  merchantReference,
			"amount":              amount,
			"provider_receipt_id": receiptID,
		}),
		CorrelationID:     correlationID,
		MerchantReference: merchantReference,
		Amount:            amount,
		ProviderReceiptID: receiptID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	CorrelationID     string `json:"correlation_id"`
	MerchantReference string `json:"merchant_reference"`
	ResultCode        int    `json:"result_code"`
	FailureReason     string `json:"failure_reason"`
}

func NewPaymentFailedEvent(correlationID, merchantReference string, resultCode int, failureReason string, at time.Time) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentFailed, at, map[string]interface{}{
			"correlation_id":     correlationID,
			"merchant_reference": merchantReference,
			"result_code":        resultCode,
			"failure_reason":     failureReason,
		}),
		CorrelationID:     correlationID,
		MerchantReference: merchantReference,
		ResultCode:        resultCode,
		FailureReason:     failureReason,
	}
}

type SettlementMismatchEvent struct {
	BaseEvent
	CorrelationID   string `json:"correlation_id"`
	RequestedAmount int64  `json:"requested_amount"`
	SettledAmount   int64  `json:"settled_amount"`
	SettledValue    string `json:"settled_value,omitempty"`
}

func NewSettlementMismatchEvent(correlationID string, requested, settled int64, at time.Time) *SettlementMismatchEvent {
	return &SettlementMismatchEvent{
		BaseEvent: newBaseEvent(EventTypeSettlementMismatch, at, map[string]interface{}{
			"correlation_id":   correlationID,
			"requested_amount": requested,
			"settled_amount":   settled,
		}),
		CorrelationID:   correlationID,
		RequestedAmount: requested,
		SettledAmount:   settled,
	}
}

// NewUnreadableSettlementEvent reports a settled amount that is not a whole number.
func NewUnreadableSettlementEvent(correlationID string, requested int64, settled string, at time.Time) *SettlementMismatchEvent {
	return &SettlementMismatchEvent{
		BaseEvent: newBaseEvent(EventTypeSettlementMismatch, at, map[string]interface{}{
			"correlation_id":   correlationID,
			"requested_amount": requested,
			"settled_value":    settled,
		}),
		CorrelationID:   correlationID,
		RequestedAmount: requested,
		SettledValue:    settled,
	}
}

// CallbackReplayedEvent is published when a callback arrives for an already resolved payment.
type CallbackReplayedEvent struct {
	BaseEvent
	CorrelationID string `json:"correlation_id"`
	State         string `json:"state"`
}

func NewCallbackReplayedEvent(correlationID, state string, at time.Time) *CallbackReplayedEvent {
	return &CallbackReplayedEvent{
		BaseEvent: newBaseEvent(EventTypeCallbackReplayed, at, map[string]interface{}{
			"correlation_id": correlationID,
			"state":          state,
		}),
		CorrelationID: correlationID,
		State:         state,
	}
}
