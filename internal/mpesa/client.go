package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	daraja "github.com/frahmantamala/fitcoach-payments/internal/core/datamodel/mpesa"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

const (
	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	defaultTokenTTL = 3599 * time.Second
	tokenSkew       = 60 * time.Second
)

// Daraja timestamps are in East Africa Time, which has no DST.
var eat = time.FixedZone("EAT", 3*60*60)

// Timestamp formats t as YYYYMMDDHHmmss in Nairobi time.
func Timestamp(t time.Time) string {
	return t.In(eat).Format("20060102150405")
}

// Password is base64(shortCode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// Client talks to the Daraja API. It caches the OAuth token until shortly before expiry.
type Client struct {
	baseURL         string
	consumerKey     string
	consumerSecret  string
	shortCode       string
	passkey         string
	callbackURL     string
	transactionType string

	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ payment.Provider = (*Client)(nil)

func NewClient(cfg internal.MpesaConfig, clk clock.Clock, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transactionType := cfg.TransactionType
	if transactionType == "" {
		transactionType = daraja.TransactionTypePayBillOnline
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Client{
		baseURL:         cfg.ResolveBaseURL(),
		consumerKey:     cfg.ConsumerKey,
		consumerSecret:  cfg.ConsumerSecret,
		shortCode:       cfg.BusinessShortCode,
		passkey:         cfg.Passkey,
		callbackURL:     cfg.CallbackURL,
		transactionType: transactionType,
		httpClient:      &http.Client{Timeout: timeout},
		clock:           clk,
		logger:          logger,
	}
}

// RequestPayment sends an STK push. Any error returned is an *internal.AppError of
// kind ProviderRejected or ProviderUnreachable.
func (c *Client) RequestPayment(ctx context.Context, req payment.PaymentRequest) (*payment.Acknowledgement, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := Timestamp(c.clock.Now())
	body := daraja.STKPushRequest{
		BusinessShortCode: c.shortCode,
		Password:          Password(c.shortCode, c.passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.transactionType,
		Amount:            req.Amount,
		PartyA:            req.PayerIdentifier,
		PartyB:            c.shortCode,
		PhoneNumber:       req.PayerIdentifier,
		CallBackURL:       c.callbackURL,
		AccountReference:  req.MerchantReference,
		TransactionDesc:   req.Description,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, internal.NewInternalError("failed to encode STK push request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+stkPushPath, bytes.NewReader(payload))
	if err != nil {
		return nil, internal.NewInternalError("failed to build STK push request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	c.logger.Info("sending STK push",
		"merchant_reference", req.MerchantReference,
		"amount", req.Amount,
		"short_code", c.shortCode)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, internal.NewProviderUnreachableError("M-Pesa is unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, internal.NewProviderUnreachableError("failed to read M-Pesa response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.providerError(resp.StatusCode, raw)
	}

	var ack daraja.STKPushResponse
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, internal.NewProviderRejectedError("M-Pesa returned an unreadable acknowledgement", internal.ErrCodeProviderRejected).
			WithCause(err)
	}
	if ack.ResponseCode != daraja.ResponseCodeAccepted {
		return nil, internal.NewProviderRejectedError(ack.ResponseDescription, internal.ErrCodeProviderRejected).
			WithDetails(internal.ProviderDetails{ProviderCode: ack.ResponseCode, HTTPStatus: resp.StatusCode})
	}
	if ack.CheckoutRequestID == "" {
		return nil, internal.NewProviderRejectedError("M-Pesa acknowledgement carried no CheckoutRequestID", internal.ErrCodeProviderRejected)
	}

	c.logger.Info("STK push accepted",
		"checkout_request_id", ack.CheckoutRequestID,
		"merchant_request_id", ack.MerchantRequestID)

	return &payment.Acknowledgement{
		CorrelationID:       ack.CheckoutRequestID,
		MerchantRequestID:   ack.MerchantRequestID,
		ResponseCode:        ack.ResponseCode,
		ResponseDescription: ack.ResponseDescription,
		CustomerMessage:     ack.CustomerMessage,
	}, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.clock.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", internal.NewInternalError("failed to build token request", err)
	}
	httpReq.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", internal.NewProviderUnreachableError("M-Pesa auth is unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", internal.NewProviderUnreachableError("failed to read M-Pesa auth response", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", c.providerError(resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("M-Pesa rejected credentials", "status", resp.StatusCode)
		return "", internal.NewProviderRejectedError("M-Pesa rejected the API credentials", internal.ErrCodeProviderAuthFailed).
			WithDetails(internal.ProviderDetails{HTTPStatus: resp.StatusCode})
	}

	var token daraja.TokenResponse
	if err := json.Unmarshal(raw, &token); err != nil || token.AccessToken == "" {
		return "", internal.NewProviderRejectedError("M-Pesa returned no access token", internal.ErrCodeProviderAuthFailed)
	}

	ttl := defaultTokenTTL
	if seconds, err := strconv.Atoi(token.ExpiresIn); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}
	if ttl > tokenSkew {
		ttl -= tokenSkew
	}

	c.token = token.AccessToken
	c.tokenExpiry = c.clock.Now().Add(ttl)
	c.logger.Debug("M-Pesa access token refreshed", "expires_at", c.tokenExpiry)

	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.tokenExpiry = time.Time{}
}

// providerError maps a non-200 Daraja response: 5xx is unreachable, anything else a rejection
// carrying the provider's own message.
func (c *Client) providerError(status int, raw []byte) error {
	var body daraja.ErrorResponse
	_ = json.Unmarshal(raw, &body)

	details := internal.ProviderDetails{
		ProviderCode: body.ErrorCode,
		RequestID:    body.RequestID,
		HTTPStatus:   status,
	}

	if status >= http.StatusInternalServerError {
		c.logger.Error("M-Pesa server error", "status", status, "error_code", body.ErrorCode, "error_message", body.ErrorMessage)
		return internal.NewProviderUnreachableError("M-Pesa is temporarily unavailable", fmt.Errorf("status %d: %s", status, body.ErrorMessage)).
			WithDetails(details)
	}

	message := body.ErrorMessage
	if message == "" {
		message = fmt.Sprintf("M-Pesa rejected the request with status %d", status)
	}
	c.logger.Warn("M-Pesa rejected STK push", "status", status, "error_code", body.ErrorCode, "error_message", body.ErrorMessage)
	return internal.NewProviderRejectedError(message, internal.ErrCodeProviderRejected).WithDetails(details)
}
