package payment

import "context"

// Acknowledgement is the provider's synchronous accept of a payment request.
// CorrelationID is the CheckoutRequestID later echoed by the callback.
type Acknowledgement struct {
	CorrelationID       string
	MerchantRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// Provider sends payment requests to the customer's phone.
type Provider interface {
	RequestPayment(ctx context.Context, req PaymentRequest) (*Acknowledgement, error)
}
