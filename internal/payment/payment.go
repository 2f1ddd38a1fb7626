package payment

import (
	"context"
	"errors"
	"time"
)

type State string

const (
	StatePending   State = "PENDING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

func (s State) Valid() bool {
	return s == StatePending || s.IsTerminal()
}

// ResultCodeSuccess is the only provider result code that settles a payment.
const ResultCodeSuccess = 0

// PaymentRequest is what the caller asked the provider to charge. Immutable once sent.
type PaymentRequest struct {
	MerchantReference string `json:"merchantReference"`
	Amount            int64  `json:"amount"`
	PayerIdentifier   string `json:"payerIdentifier"`
	Description       string `json:"description"`
}

// Record is the correlation entry for one acknowledged STK push, keyed by CorrelationID.
type Record struct {
	CorrelationID     string
	MerchantRequestID string
	State             State
	Request           PaymentRequest

	ProviderReceiptID string
	FailureReason     string
	ResultCode        *int

	SettledAmount   *int64
	SettledPayer    string
	TransactionDate string
	AmountMismatch  bool

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Resolution is the terminal outcome reported by a provider callback.
type Resolution struct {
	ResultCode        int
	ResultDescription string
	ProviderReceiptID string
	SettledAmount     *int64
	SettledPayer      string
	TransactionDate   string
	UnreadableAmount  string
}

func (r Resolution) Succeeded() bool {
	return r.ResultCode == ResultCodeSuccess
}

var (
	ErrAlreadyTerminal = errors.New("payment record already terminal")
	ErrRecordNotFound  = errors.New("payment record not found")
	ErrRecordExists    = errors.New("payment record already exists")
)

// Store owns payment records. Implementations must make UpdateTerminal atomic per
// correlation id: exactly one concurrent caller observes applied=true.
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, correlationID string) (*Record, error)
	// UpdateTerminal moves a PENDING record to the resolution's terminal state. If the
	// record is already terminal it is returned unchanged with applied=false.
	UpdateTerminal(ctx context.Context, correlationID string, res Resolution, resolvedAt time.Time) (record *Record, applied bool, err error)
	Ping(ctx context.Context) error
}

// NewPendingRecord builds the record stored on a provider acknowledgement.
func NewPendingRecord(correlationID, merchantRequestID string, req PaymentRequest, now time.Time) *Record {
	return &Record{
		CorrelationID:     correlationID,
		MerchantRequestID: merchantRequestID,
		State:             StatePending,
		Request:           req,
		CreatedAt:         now.UTC(),
	}
}

// Resolve applies a terminal resolution in place. Only PENDING records can be resolved.
func (r *Record) Resolve(res Resolution, at time.Time) error {
	if r.State.IsTerminal() {
		return ErrAlreadyTerminal
	}

	code := res.ResultCode
	resolvedAt := at.UTC()
	r.ResultCode = &code
	r.ResolvedAt = &resolvedAt

	if res.Succeeded() {
		r.State = StateSucceeded
		r.ProviderReceiptID = res.ProviderReceiptID
		r.FailureReason = ""
		r.SettledAmount = res.SettledAmount
		r.SettledPayer = res.SettledPayer
		r.TransactionDate = res.TransactionDate
		// an amount we cannot read is treated as not matching
		r.AmountMismatch = res.UnreadableAmount != "" ||
			(res.SettledAmount != nil && *res.SettledAmount != r.Request.Amount)
		return nil
	}

	r.State = StateFailed
	r.ProviderReceiptID = ""
	r.FailureReason = res.ResultDescription
	if r.FailureReason == "" {
		r.FailureReason = "payment failed"
	}
	return nil
}

// Clone returns a deep copy so callers never share pointers with a store.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.ResultCode != nil {
		v := *r.ResultCode
		c.ResultCode = &v
	}
	if r.SettledAmount != nil {
		v := *r.SettledAmount
		c.SettledAmount = &v
	}
	if r.ResolvedAt != nil {
		v := *r.ResolvedAt
		c.ResolvedAt = &v
	}
	return &c
}

// View is the read-only projection served by the status endpoint.
type View struct {
	CorrelationID     string     `json:"correlationId"`
	MerchantRequestID string     `json:"merchantRequestId"`
	State             State      `json:"state"`
	Amount            int64      `json:"amount"`
	PayerIdentifier   string     `json:"payerIdentifier"`
	MerchantReference string     `json:"merchantReference"`
	ProviderReceiptID string     `json:"providerReceiptId,omitempty"`
	FailureReason     string     `json:"failureReason,omitempty"`
	TransactionDate   string     `json:"transactionDate,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
}

func (v *View) IsTerminal() bool {
	return v != nil && v.State.IsTerminal()
}

// ToView projects a record, preferring settled amount and payer when the provider reported them.
func ToView(r *Record) *View {
	if r == nil {
		return nil
	}
	amount := r.Request.Amount
	if r.SettledAmount != nil {
		amount = *r.SettledAmount
	}
	payer := r.Request.PayerIdentifier
	if r.SettledPayer != "" {
		payer = r.SettledPayer
	}
	view := &View{
		CorrelationID:     r.CorrelationID,
		MerchantRequestID: r.MerchantRequestID,
		State:             r.State,
		Amount:            amount,
		PayerIdentifier:   payer,
		MerchantReference: r.Request.MerchantReference,
		ProviderReceiptID: r.ProviderReceiptID,
		FailureReason:     r.FailureReason,
		TransactionDate:   r.TransactionDate,
		CreatedAt:         r.CreatedAt,
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		view.ResolvedAt = &t
	}
	return view
}
