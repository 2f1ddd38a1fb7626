package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

const (
	DefaultKeyPrefix = "fitcoach:payment:"
	maxTxRetries     = 10
)

// Store keeps each payment record as a JSON document under prefix+correlationID.
// The terminal transition runs inside WATCH/MULTI so concurrent callbacks serialize.
type Store struct {
	client *goredis.Client
	prefix string
}

func NewStore(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

type document struct {
	CorrelationID     string     `json:"correlation_id"`
	MerchantRequestID string     `json:"merchant_request_id"`
	State             string     `json:"state"`
	MerchantReference string     `json:"merchant_reference"`
	Amount            int64      `json:"amount"`
	PayerIdentifier   string     `json:"payer_identifier"`
	Description       string     `json:"description"`
	ProviderReceiptID string     `json:"provider_receipt_id,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	ResultCode        *int       `json:"result_code,omitempty"`
	SettledAmount     *int64     `json:"settled_amount,omitempty"`
	SettledPayer      string     `json:"settled_payer,omitempty"`
	TransactionDate   string     `json:"transaction_date,omitempty"`
	AmountMismatch    bool       `json:"amount_mismatch,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

func (s *Store) key(correlationID string) string {
	return s.prefix + correlationID
}

func (s *Store) Create(ctx context.Context, record *payment.Record) error {
	data, err := encode(record)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(record.CorrelationID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", record.CorrelationID, err)
	}
	if !ok {
		return payment.ErrRecordExists
	}
	return nil
}

func (s *Store) Get(ctx context.Context, correlationID string) (*payment.Record, error) {
	data, err := s.client.Get(ctx, s.key(correlationID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, payment.ErrRecordNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", correlationID, err)
	}
	return decode(data)
}

func (s *Store) UpdateTerminal(ctx context.Context, correlationID string, res payment.Resolution, resolvedAt time.Time) (*payment.Record, bool, error) {
	key := s.key(correlationID)

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var (
			record  *payment.Record
			applied bool
		)

		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
					return payment.ErrRecordNotFound
				}
				return err
			}
			current, err := decode(data)
			if err != nil {
				return err
			}
			if current.State.IsTerminal() {
				record = current
				return nil
			}
			if err := current.Resolve(res, resolvedAt); err != nil {
				return err
			}
			updated, err := encode(current)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			if err != nil {
				return err
			}
			record, applied = current, true
			return nil
		}, key)

		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, payment.ErrRecordNotFound) {
				return nil, false, err
			}
			return nil, false, fmt.Errorf("redis resolve %s: %w", correlationID, err)
		}
		return record, applied, nil
	}

	return nil, false, fmt.Errorf("redis resolve %s: too much contention after %d attempts", correlationID, maxTxRetries)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func encode(r *payment.Record) ([]byte, error) {
	doc := document{
		CorrelationID:     r.CorrelationID,
		MerchantRequestID: r.MerchantRequestID,
		State:             string(r.State),
		MerchantReference: r.Request.MerchantReference,
		Amount:            r.Request.Amount,
		PayerIdentifier:   r.Request.PayerIdentifier,
		Description:       r.Request.Description,
		ProviderReceiptID: r.ProviderReceiptID,
		FailureReason:     r.FailureReason,
		ResultCode:        r.ResultCode,
		SettledAmount:     r.SettledAmount,
		SettledPayer:      r.SettledPayer,
		TransactionDate:   r.TransactionDate,
		AmountMismatch:    r.AmountMismatch,
		CreatedAt:         r.CreatedAt,
		ResolvedAt:        r.ResolvedAt,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode payment %s: %w", r.CorrelationID, err)
	}
	return data, nil
}

func decode(data []byte) (*payment.Record, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	return &payment.Record{
		CorrelationID:     doc.CorrelationID,
		MerchantRequestID: doc.MerchantRequestID,
		State:             payment.State(doc.State),
		Request: payment.PaymentRequest{
			MerchantReference: doc.MerchantReference,
			Amount:            doc.Amount,
			PayerIdentifier:   doc.PayerIdentifier,
			Description:       doc.Description,
		},
		ProviderReceiptID: doc.ProviderReceiptID,
		FailureReason:     doc.FailureReason,
		ResultCode:        doc.ResultCode,
		SettledAmount:     doc.SettledAmount,
		SettledPayer:      doc.SettledPayer,
		TransactionDate:   doc.TransactionDate,
		AmountMismatch:    doc.AmountMismatch,
		CreatedAt:         doc.CreatedAt,
		ResolvedAt:        doc.ResolvedAt,
	}, nil
}
