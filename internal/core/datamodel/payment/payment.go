package payment

import (
	"time"
)

// Payment is the persisted correlation record.
type Payment struct {
	CorrelationID     string     `gorm:"column:correlation_id;primaryKey"`
	MerchantRequestID string     `gorm:"column:merchant_request_id;not null"`
	State             string     `gorm:"column:state;not null;default:PENDING;index"`
	MerchantReference string     `gorm:"column:merchant_reference;not null"`
	Amount            int64      `gorm:"column:amount;not null"`
	PayerIdentifier   string     `gorm:"column:payer_identifier;not null"`
	Description       string     `gorm:"column:description"`
	ProviderReceiptID *string    `gorm:"column:provider_receipt_id"`
	FailureReason     *string    `gorm:"column:failure_reason"`
	ResultCode        *int       `gorm:"column:result_code"`
	SettledAmount     *int64     `gorm:"column:settled_amount"`
	SettledPayer      *string    `gorm:"column:settled_payer"`
	TransactionDate   *string    `gorm:"column:transaction_date"`
	AmountMismatch    bool       `gorm:"column:amount_mismatch;not null;default:false"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null"`
	ResolvedAt        *time.Time `gorm:"column:resolved_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
