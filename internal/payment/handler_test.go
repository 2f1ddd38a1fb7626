package payment_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/payment/memory"
	"github.com/frahmantamala/fitcoach-payments/internal/transport"
)

type errorBody struct {
	Error struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"error"`
}

var _ = Describe("HTTP handlers", func() {
	var (
		router   *chi.Mux
		service  *payment.Service
		provider *MockProvider
	)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		provider = NewMockProvider("ws_CO_14032025093000123456")
		service = payment.NewService(memory.NewStore(), provider, nil, clock.NewFakeClock(testNow), logger)

		base := transport.NewBaseHandler(logger)
		h := payment.NewHandler(base, service, logger)
		webhook := payment.NewWebhookHandler(base, service, logger)

		router = chi.NewRouter()
		router.Post("/payment/initiate", h.Initiate)
		router.Get("/payment/status/{correlationId}", h.GetStatus)
		router.Post("/payment/callback", webhook.HandlePaymentCallback)
	})

	Describe("POST /payment/initiate", func() {
		It("should return the correlation id", func() {
			rec := do(http.MethodPost, "/payment/initiate",
				`{"merchantReference":"FC-1001","amount":1500,"payerIdentifier":"0712345678"}`)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp payment.InitiateResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.CorrelationID).To(Equal("ws_CO_14032025093000123456"))
		})

		It("should answer 400 with the validation error", func() {
			rec := do(http.MethodPost, "/payment/initiate",
				`{"merchantReference":"FC-1001","amount":-5,"payerIdentifier":"0712345678"}`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			var body errorBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Error.Type).To(Equal("VALIDATION_ERROR"))
			Expect(provider.Requests()).To(BeEmpty())
		})

		It("should accept the payload the legacy web checkout sends", func() {
			// Given the exact body the original subscription page posts
			rec := do(http.MethodPost, "/payment/initiate",
				`{"phoneNumber":"254712345678","amount":5000,"accountReference":"FITCOACH_1700000000000","transactionDesc":"Payment for Premium subscription"}`)

			// Then the push is sent with Daraja-sized fields
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(provider.Requests()).To(ConsistOf(payment.PaymentRequest{
				MerchantReference: "FITCOACH_170",
				Amount:            5000,
				PayerIdentifier:   "254712345678",
				Description:       "Payment for P",
			}))
		})

		It("should answer 400 to a body that is not JSON", func() {
			rec := do(http.MethodPost, "/payment/initiate", `amount=10`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 503 when the provider cannot be reached", func() {
			provider.shouldFail = true
			provider.failError = context.DeadlineExceeded

			rec := do(http.MethodPost, "/payment/initiate",
				`{"merchantReference":"FC-1001","amount":1500,"payerIdentifier":"0712345678"}`)

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("GET /payment/status/{correlationId}", func() {
		It("should answer 404 for an unknown id", func() {
			rec := do(http.MethodGet, "/payment/status/ws_CO_unknown", "")

			Expect(rec.Code).To(Equal(http.StatusNotFound))
			var body errorBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Error.Code).To(Equal("PAYMENT_NOT_FOUND"))
		})
	})

	Describe("POST /payment/callback", func() {
		callback := `{"Body":{"stkCallback":{
			"MerchantRequestID":"29115-34620561-1",
			"CheckoutRequestID":"ws_CO_14032025093000123456",
			"ResultCode":0,
			"ResultDesc":"The service request is processed successfully.",
			"CallbackMetadata":{"Item":[
				{"Name":"Amount","Value":1500},
				{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
				{"Name":"TransactionDate","Value":20250314093512},
				{"Name":"PhoneNumber","Value":254712345678}]}}}}`

		BeforeEach(func() {
			rec := do(http.MethodPost, "/payment/initiate",
				`{"merchantReference":"FC-1001","amount":1500,"payerIdentifier":"0712345678"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should acknowledge and resolve the payment", func() {
			rec := do(http.MethodPost, "/payment/callback", callback)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"ack":true}`))

			status := do(http.MethodGet, "/payment/status/ws_CO_14032025093000123456", "")
			var view payment.View
			Expect(json.Unmarshal(status.Body.Bytes(), &view)).To(Succeed())
			Expect(view.State).To(Equal(payment.StateSucceeded))
			Expect(view.ProviderReceiptID).To(Equal("NLJ7RT61SV"))
		})

		It("should acknowledge a replayed callback", func() {
			Expect(do(http.MethodPost, "/payment/callback", callback).Code).To(Equal(http.StatusOK))

			rec := do(http.MethodPost, "/payment/callback", callback)

			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("should answer 400 to a callback without a result code", func() {
			rec := do(http.MethodPost, "/payment/callback",
				`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_14032025093000123456"}}}`)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 404 to a callback for an unknown payment", func() {
			rec := do(http.MethodPost, "/payment/callback",
				strings.Replace(callback, "ws_CO_14032025093000123456", "ws_CO_other", 1))

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
