package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

// APIClient calls the payment HTTP API the way the checkout page does.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ StatusQuerier = (*APIClient)(nil)

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode initiate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payment/initiate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build initiate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp payment.InitiateResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetStatus(ctx context.Context, correlationID string) (*payment.View, error) {
	endpoint := c.baseURL + "/payment/status/" + url.PathEscape(correlationID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	var view payment.View
	if err := c.do(httpReq, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *APIClient) do(req *http.Request, dst interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds the server's AppError so callers can match on its kind.
func decodeError(status int, raw []byte) error {
	var body struct {
		Error struct {
			Type    errors.ErrorType `json:"type"`
			Code    errors.ErrorCode `json:"code"`
			Message string           `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Type == "" {
		if status == http.StatusNotFound {
			return errors.NewNotFoundError("payment not found", errors.ErrCodePaymentNotFound)
		}
		return fmt.Errorf("unexpected status %d", status)
	}
	return &errors.AppError{
		Type:       body.Error.Type,
		Code:       body.Error.Code,
		Message:    body.Error.Message,
		StatusCode: status,
	}
}
