package payment_test

import (
	"context"
	"sync"
	"time"

	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

type MockProvider struct {
	mu         sync.Mutex
	ack        *payment.Acknowledgement
	shouldFail bool
	failError  error
	requests   []payment.PaymentRequest
}

func NewMockProvider(correlationID string) *MockProvider {
	return &MockProvider{
		ack: &payment.Acknowledgement{
			CorrelationID:       correlationID,
			MerchantRequestID:   "29115-34620561-1",
			ResponseCode:        "0",
			ResponseDescription: "Success. Request accepted for processing",
			CustomerMessage:     "Success. Request accepted for processing",
		},
	}
}

func (m *MockProvider) RequestPayment(ctx context.Context, req payment.PaymentRequest) (*payment.Acknowledgement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.shouldFail {
		return nil, m.failError
	}
	return m.ack, nil
}

func (m *MockProvider) Requests() []payment.PaymentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]payment.PaymentRequest(nil), m.requests...)
}

type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *RecordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.events))
	for i, e := range p.events {
		types[i] = e.EventType()
	}
	return types
}

func (p *RecordingPublisher) All() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func (p *RecordingPublisher) Last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

// FailingStore wraps a store and fails every call once failError is set.
type FailingStore struct {
	payment.Store
	failError error
}

func (s *FailingStore) Create(ctx context.Context, record *payment.Record) error {
	if s.failError != nil {
		return s.failError
	}
	return s.Store.Create(ctx, record)
}

func (s *FailingStore) Get(ctx context.Context, correlationID string) (*payment.Record, error) {
	if s.failError != nil {
		return nil, s.failError
	}
	return s.Store.Get(ctx, correlationID)
}

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }
