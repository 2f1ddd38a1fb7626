package memory

import (
	"context"
	"sync"
	"time"

	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

// Store keeps payment records in process memory. Records do not survive a restart.
type Store struct {
	mu      sync.RWMutex
	records map[string]*payment.Record
}

func NewStore() *Store {
	return &Store{
		records: make(map[string]*payment.Record),
	}
}

func (s *Store) Create(ctx context.Context, record *payment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.CorrelationID]; exists {
		return payment.ErrRecordExists
	}
	s.records[record.CorrelationID] = record.Clone()
	return nil
}

func (s *Store) Get(ctx context.Context, correlationID string) (*payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[correlationID]
	if !ok {
		return nil, payment.ErrRecordNotFound
	}
	return record.Clone(), nil
}

func (s *Store) UpdateTerminal(ctx context.Context, correlationID string, res payment.Resolution, resolvedAt time.Time) (*payment.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[correlationID]
	if !ok {
		return nil, false, payment.ErrRecordNotFound
	}
	if record.State.IsTerminal() {
		return record.Clone(), false, nil
	}
	if err := record.Resolve(res, resolvedAt); err != nil {
		return nil, false, err
	}
	return record.Clone(), true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
