package payment

import (
	"strings"
	"unicode/utf8"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/core/common/validation"
	"github.com/frahmantamala/fitcoach-payments/internal/core/datamodel/mpesa"
)

const (
	MaxMerchantReferenceLength = 12
	MaxDescriptionLength       = 13
	DefaultDescription         = "Subscription"
)

// InitiateRequest is the body of POST /payment/initiate. The phoneNumber, accountReference
// and transactionDesc names are accepted for the legacy /api/mpesa routes.
type InitiateRequest struct {
	MerchantReference string `json:"merchantReference"`
	Amount            int64  `json:"amount"`
	PayerIdentifier   string `json:"payerIdentifier"`
	Description       string `json:"description,omitempty"`

	PhoneNumber      string `json:"phoneNumber,omitempty"`
	AccountReference string `json:"accountReference,omitempty"`
	TransactionDesc  string `json:"transactionDesc,omitempty"`
}

func (r *InitiateRequest) ToPaymentRequest() PaymentRequest {
	req := PaymentRequest{
		MerchantReference: r.MerchantReference,
		Amount:            r.Amount,
		PayerIdentifier:   r.PayerIdentifier,
		Description:       r.Description,
	}
	// The legacy checkout sends references like FITCOACH_<unix millis> and long
	// descriptions; Daraja keeps the leading characters, so do the same.
	if req.MerchantReference == "" {
		req.MerchantReference = truncate(strings.TrimSpace(r.AccountReference), MaxMerchantReferenceLength)
	}
	if req.PayerIdentifier == "" {
		req.PayerIdentifier = r.PhoneNumber
	}
	if req.Description == "" {
		req.Description = truncate(strings.TrimSpace(r.TransactionDesc), MaxDescriptionLength)
	}
	return req
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

type InitiateResponse struct {
	CorrelationID     string `json:"correlationId"`
	MerchantRequestID string `json:"merchantRequestId"`
	CustomerMessage   string `json:"customerMessage"`
}

type CallbackAck struct {
	Ack bool `json:"ack"`
}

// Validate checks the request as the caller sent it.
func (p PaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("merchantReference", strings.TrimSpace(p.MerchantReference)).
		Required().
		MaxLength(MaxMerchantReferenceLength, errors.ErrCodeInvalidReference)
	validator.Field("amount", p.Amount).Positive(errors.ErrCodeInvalidAmount)
	validator.Field("payerIdentifier", p.PayerIdentifier).Required().Phone(IsValidPhoneNumber)
	validator.Field("description", strings.TrimSpace(p.Description)).
		MaxLength(MaxDescriptionLength, errors.ErrCodeInvalidDescription)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Normalize validates the request and returns the form sent to the provider:
// trimmed reference, 254 MSISDN, defaulted description.
func (p PaymentRequest) Normalize() (PaymentRequest, error) {
	if err := p.Validate(); err != nil {
		return PaymentRequest{}, err
	}
	out := PaymentRequest{
		MerchantReference: strings.TrimSpace(p.MerchantReference),
		Amount:            p.Amount,
		PayerIdentifier:   NormalizePhoneNumber(p.PayerIdentifier),
		Description:       strings.TrimSpace(p.Description),
	}
	if out.Description == "" {
		out.Description = DefaultDescription
	}
	return out, nil
}

// Callback is a provider result notification decoded from the webhook body.
type Callback struct {
	CorrelationID     string
	MerchantRequestID string
	ResultCode        *int
	ResultDescription string
	ProviderReceiptID string
	SettledAmount     *int64
	SettledPayer      string
	TransactionDate   string
	// UnreadableAmount holds an Amount item that is not a whole number.
	UnreadableAmount string
}

func CallbackFromEnvelope(env *mpesa.CallbackEnvelope) Callback {
	if env == nil || env.Body.STKCallback == nil {
		return Callback{}
	}
	stk := env.Body.STKCallback
	cb := Callback{
		CorrelationID:     strings.TrimSpace(stk.CheckoutRequestID),
		MerchantRequestID: stk.MerchantRequestID,
		ResultCode:        stk.ResultCode,
		ResultDescription: stk.ResultDesc,
	}

	meta := stk.CallbackMetadata
	if receipt, ok := meta.String(mpesa.ItemMpesaReceiptNumber); ok {
		cb.ProviderReceiptID = receipt
	}
	if amount, ok := meta.Int64(mpesa.ItemAmount); ok {
		cb.SettledAmount = &amount
	} else if raw, present := meta.String(mpesa.ItemAmount); present {
		cb.UnreadableAmount = raw
	}
	if phone, ok := meta.String(mpesa.ItemPhoneNumber); ok {
		cb.SettledPayer = phone
	}
	if date, ok := meta.String(mpesa.ItemTransactionDate); ok {
		cb.TransactionDate = date
	}
	return cb
}

func (c *Callback) Validate() error {
	if c.CorrelationID == "" {
		return errors.NewBadRequestError("callback is missing CheckoutRequestID", errors.ErrCodeMalformedCallback)
	}
	if c.ResultCode == nil {
		return errors.NewBadRequestError("callback is missing ResultCode", errors.ErrCodeMalformedCallback)
	}
	if *c.ResultCode == ResultCodeSuccess && c.ProviderReceiptID == "" {
		return errors.NewBadRequestError("successful callback is missing MpesaReceiptNumber", errors.ErrCodeMalformedCallback)
	}
	return nil
}

func (c *Callback) Resolution() Resolution {
	res := Resolution{
		ResultDescription: c.ResultDescription,
		ProviderReceiptID: c.ProviderReceiptID,
		SettledAmount:     c.SettledAmount,
		SettledPayer:      c.SettledPayer,
		TransactionDate:   c.TransactionDate,
		UnreadableAmount:  c.UnreadableAmount,
	}
	if c.ResultCode != nil {
		res.ResultCode = *c.ResultCode
	}
	return res
}
