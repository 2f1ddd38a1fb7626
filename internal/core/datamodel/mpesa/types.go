package mpesa

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	TransactionTypePayBillOnline = "CustomerPayBillOnline"
	ResponseCodeAccepted         = "0"
)

// Item names carried in CallbackMetadata on a successful payment.
const (
	ItemAmount             = "Amount"
	ItemMpesaReceiptNumber = "MpesaReceiptNumber"
	ItemTransactionDate    = "TransactionDate"
	ItemPhoneNumber        = "PhoneNumber"
)

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// ErrorResponse is the body Daraja returns on 4xx/5xx.
type ErrorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type CallbackEnvelope struct {
	Body CallbackBody `json:"Body"`
}

type CallbackBody struct {
	STKCallback *STKCallback `json:"stkCallback"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *int              `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem values arrive as JSON numbers or strings depending on the item.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

func NewItem(name string, value interface{}) MetadataItem {
	raw, _ := json.Marshal(value)
	return MetadataItem{Name: name, Value: raw}
}

func (m *CallbackMetadata) find(name string) (json.RawMessage, bool) {
	if m == nil {
		return nil, false
	}
	for _, item := range m.Item {
		if item.Name == name && len(item.Value) > 0 && !bytes.Equal(item.Value, []byte("null")) {
			return item.Value, true
		}
	}
	return nil, false
}

// String returns the named item as text; numbers keep their literal digits.
func (m *CallbackMetadata) String(name string) (string, bool) {
	raw, ok := m.find(name)
	if !ok {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, s != ""
	}
	return strings.TrimSpace(string(raw)), true
}

// Int64 returns the named item as a whole number. 1.00 reads as 1; fractional or
// out-of-range values report false.
func (m *CallbackMetadata) Int64(name string) (int64, bool) {
	text, ok := m.String(name)
	if !ok {
		return 0, false
	}
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
