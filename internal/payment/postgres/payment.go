package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	datamodel "github.com/frahmantamala/fitcoach-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

// PaymentRepository stores payment records through gorm. It works against Postgres
// and SQLite; the terminal transition is a conditional UPDATE on state.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, record *payment.Record) error {
	row := toRow(record)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if result.Error != nil {
		return fmt.Errorf("insert payment %s: %w", record.CorrelationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return payment.ErrRecordExists
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, correlationID string) (*payment.Record, error) {
	var row datamodel.Payment
	err := r.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payment.ErrRecordNotFound
		}
		return nil, fmt.Errorf("load payment %s: %w", correlationID, err)
	}
	return fromRow(&row), nil
}

func (r *PaymentRepository) UpdateTerminal(ctx context.Context, correlationID string, res payment.Resolution, resolvedAt time.Time) (*payment.Record, bool, error) {
	record, err := r.Get(ctx, correlationID)
	if err != nil {
		return nil, false, err
	}
	if record.State.IsTerminal() {
		return record, false, nil
	}
	if err := record.Resolve(res, resolvedAt); err != nil {
		return nil, false, err
	}

	row := toRow(record)
	updates := map[string]interface{}{
		"state":               row.State,
		"provider_receipt_id": row.ProviderReceiptID,
		"failure_reason":      row.FailureReason,
		"result_code":         row.ResultCode,
		"settled_amount":      row.SettledAmount,
		"settled_payer":       row.SettledPayer,
		"transaction_date":    row.TransactionDate,
		"amount_mismatch":     row.AmountMismatch,
		"resolved_at":         row.ResolvedAt,
	}

	result := r.db.WithContext(ctx).
		Model(&datamodel.Payment{}).
		Where("correlation_id = ? AND state = ?", correlationID, string(payment.StatePending)).
		Updates(updates)
	if result.Error != nil {
		return nil, false, fmt.Errorf("resolve payment %s: %w", correlationID, result.Error)
	}

	if result.RowsAffected == 0 {
		// another callback resolved it between the read and the update
		current, err := r.Get(ctx, correlationID)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}
	return record, true, nil
}

func (r *PaymentRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toRow(r *payment.Record) *datamodel.Payment {
	row := &datamodel.Payment{
		CorrelationID:     r.CorrelationID,
		MerchantRequestID: r.MerchantRequestID,
		State:             string(r.State),
		MerchantReference: r.Request.MerchantReference,
		Amount:            r.Request.Amount,
		PayerIdentifier:   r.Request.PayerIdentifier,
		Description:       r.Request.Description,
		ResultCode:        r.ResultCode,
		SettledAmount:     r.SettledAmount,
		AmountMismatch:    r.AmountMismatch,
		CreatedAt:         r.CreatedAt,
		ResolvedAt:        r.ResolvedAt,
	}
	row.ProviderReceiptID = optional(r.ProviderReceiptID)
	row.FailureReason = optional(r.FailureReason)
	row.SettledPayer = optional(r.SettledPayer)
	row.TransactionDate = optional(r.TransactionDate)
	return row
}

func fromRow(row *datamodel.Payment) *payment.Record {
	record := &payment.Record{
		CorrelationID:     row.CorrelationID,
		MerchantRequestID: row.MerchantRequestID,
		State:             payment.State(row.State),
		Request: payment.PaymentRequest{
			MerchantReference: row.MerchantReference,
			Amount:            row.Amount,
			PayerIdentifier:   row.PayerIdentifier,
			Description:       row.Description,
		},
		ResultCode:        row.ResultCode,
		SettledAmount:     row.SettledAmount,
		AmountMismatch:    row.AmountMismatch,
		CreatedAt:         row.CreatedAt.UTC(),
		ProviderReceiptID: deref(row.ProviderReceiptID),
		FailureReason:     deref(row.FailureReason),
		SettledPayer:      deref(row.SettledPayer),
		TransactionDate:   deref(row.TransactionDate),
	}
	if row.ResolvedAt != nil {
		t := row.ResolvedAt.UTC()
		record.ResolvedAt = &t
	}
	return record
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
