package payment_test

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/clock"
	"github.com/frahmantamala/fitcoach-payments/internal/core/events"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/payment/memory"
)

var _ = Describe("Service", func() {
	var (
		service   *payment.Service
		store     *FailingStore
		provider  *MockProvider
		publisher *RecordingPublisher
		clk       *clock.FakeClock
		ctx       context.Context
		request   payment.PaymentRequest
	)

	start := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	BeforeEach(func() {
		store = &FailingStore{Store: memory.NewStore()}
		provider = NewMockProvider("ws_CO_14032025093000123456")
		publisher = &RecordingPublisher{}
		clk = clock.NewFakeClock(start)
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		service = payment.NewService(store, provider, publisher, clk, logger)
		ctx = context.Background()
		request = payment.PaymentRequest{
			MerchantReference: "FC-1001",
			Amount:            1500,
			PayerIdentifier:   "0712 345 678",
		}
	})

	Describe("Initiate", func() {
		It("should store a PENDING record keyed by the provider correlation id", func() {
			// When
			resp, err := service.Initiate(ctx, request)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(resp.CorrelationID).To(Equal("ws_CO_14032025093000123456"))
			Expect(resp.MerchantRequestID).To(Equal("29115-34620561-1"))

			view, err := service.GetStatus(ctx, resp.CorrelationID)
			Expect(err).ToNot(HaveOccurred())
			Expect(view.State).To(Equal(payment.StatePending))
			Expect(view.Amount).To(Equal(int64(1500)))
			Expect(view.PayerIdentifier).To(Equal("254712345678"))
			Expect(view.CreatedAt).To(Equal(start))
			Expect(view.ResolvedAt).To(BeNil())
			Expect(publisher.Types()).To(Equal([]string{events.EventTypePaymentInitiated}))
		})

		It("should send the normalized request to the provider", func() {
			// Given
			request.MerchantReference = "  FC-1001 "

			// When
			_, err := service.Initiate(ctx, request)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(provider.Requests()).To(HaveLen(1))
			sent := provider.Requests()[0]
			Expect(sent.MerchantReference).To(Equal("FC-1001"))
			Expect(sent.PayerIdentifier).To(Equal("254712345678"))
			Expect(sent.Description).To(Equal(payment.DefaultDescription))
		})

		It("should reject a negative amount without contacting the provider", func() {
			// Given
			request.Amount = -5

			// When
			resp, err := service.Initiate(ctx, request)

			// Then
			Expect(resp).To(BeNil())
			Expect(stderrors.Is(err, errors.ErrInvalidRequest)).To(BeTrue())
			Expect(provider.Requests()).To(BeEmpty())
			Expect(publisher.Types()).To(BeEmpty())
		})

		It("should reject a phone number that is not a Kenyan MSISDN", func() {
			request.PayerIdentifier = "12345"

			_, err := service.Initiate(ctx, request)

			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(errors.ErrorTypeValidation))
			details := appErr.Details.(errors.ValidationErrors)
			Expect(details.Errors[0].Field).To(Equal("payerIdentifier"))
			Expect(details.Errors[0].Code).To(Equal(string(errors.ErrCodeInvalidPhoneNumber)))
			Expect(provider.Requests()).To(BeEmpty())
		})

		It("should surface a provider rejection and store nothing", func() {
			// Given
			provider.shouldFail = true
			provider.failError = errors.NewProviderRejectedError("Invalid Access Token", errors.ErrCodeProviderRejected)

			// When
			_, err := service.Initiate(ctx, request)

			// Then
			Expect(stderrors.Is(err, errors.ErrProviderRejected)).To(BeTrue())
			Expect(store.Store.(*memory.Store).Len()).To(Equal(0))
			Expect(publisher.Types()).To(Equal([]string{events.EventTypePaymentInitiationFailed}))
		})

		It("should map a transport failure to provider unreachable", func() {
			provider.shouldFail = true
			provider.failError = stderrors.New("dial tcp: connection refused")

			_, err := service.Initiate(ctx, request)

			Expect(stderrors.Is(err, errors.ErrProviderUnreachable)).To(BeTrue())
			Expect(store.Store.(*memory.Store).Len()).To(Equal(0))
		})

		It("should treat a non-zero ResponseCode as a rejection", func() {
			provider.ack.ResponseCode = "1"
			provider.ack.ResponseDescription = "Rejected"

			_, err := service.Initiate(ctx, request)

			Expect(stderrors.Is(err, errors.ErrProviderRejected)).To(BeTrue())
			appErr, _ := errors.IsAppError(err)
			Expect(appErr.Details).To(Equal(errors.ProviderDetails{ProviderCode: "1"}))
		})

		It("should treat an acknowledgement without CheckoutRequestID as a rejection", func() {
			provider.ack.CorrelationID = ""

			_, err := service.Initiate(ctx, request)

			Expect(stderrors.Is(err, errors.ErrProviderRejected)).To(BeTrue())
		})

		It("should report a repeated correlation id as a conflict", func() {
			_, err := service.Initiate(ctx, request)
			Expect(err).ToNot(HaveOccurred())

			_, err = service.Initiate(ctx, request)

			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(errors.ErrCodeDuplicatePayment))
		})

		It("should report storage failures as internal errors", func() {
			store.failError = stderrors.New("disk full")

			_, err := service.Initiate(ctx, request)

			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(errors.ErrorTypeInternal))
		})
	})

	Describe("GetStatus", func() {
		It("should return not found for unknown ids", func() {
			_, err := service.GetStatus(ctx, "ws_CO_unknown")

			Expect(stderrors.Is(err, errors.ErrNotFound)).To(BeTrue())
		})

		It("should reject an empty id", func() {
			_, err := service.GetStatus(ctx, "")

			Expect(stderrors.Is(err, errors.ErrBadRequest)).To(BeTrue())
		})
	})

	Describe("HandleCallback", func() {
		var correlationID string

		successCallback := func(amount int64) payment.Callback {
			return payment.Callback{
				CorrelationID:     correlationID,
				MerchantRequestID: "29115-34620561-1",
				ResultCode:        intPtr(0),
				ResultDescription: "The service request is processed successfully.",
				ProviderReceiptID: "NLJ7RT61SV",
				SettledAmount:     int64Ptr(amount),
				SettledPayer:      "254712345678",
				TransactionDate:   "20250314093512",
			}
		}

		BeforeEach(func() {
			resp, err := service.Initiate(ctx, request)
			Expect(err).ToNot(HaveOccurred())
			correlationID = resp.CorrelationID
			clk.Advance(42 * time.Second)
		})

		It("should resolve a pending payment to SUCCEEDED", func() {
			// When
			outcome, err := service.HandleCallback(ctx, successCallback(1500))

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Replayed).To(BeFalse())
			Expect(outcome.Payment.State).To(Equal(payment.StateSucceeded))
			Expect(outcome.Payment.ProviderReceiptID).To(Equal("NLJ7RT61SV"))

			view, err := service.GetStatus(ctx, correlationID)
			Expect(err).ToNot(HaveOccurred())
			Expect(view.State).To(Equal(payment.StateSucceeded))
			Expect(*view.ResolvedAt).To(Equal(start.Add(42 * time.Second)))
			Expect(publisher.Last().EventType()).To(Equal(events.EventTypePaymentSucceeded))
		})

		It("should resolve a cancelled payment to FAILED with the provider description", func() {
			outcome, err := service.HandleCallback(ctx, payment.Callback{
				CorrelationID:     correlationID,
				ResultCode:        intPtr(1032),
				ResultDescription: "Request cancelled by user",
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Payment.State).To(Equal(payment.StateFailed))
			Expect(outcome.Payment.FailureReason).To(Equal("Request cancelled by user"))
			Expect(outcome.Payment.ProviderReceiptID).To(BeEmpty())

			failed, ok := publisher.Last().(*events.PaymentFailedEvent)
			Expect(ok).To(BeTrue())
			Expect(failed.ResultCode).To(Equal(1032))
		})

		It("should acknowledge a replay without changing the record", func() {
			// Given
			_, err := service.HandleCallback(ctx, successCallback(1500))
			Expect(err).ToNot(HaveOccurred())

			// When
			outcome, err := service.HandleCallback(ctx, payment.Callback{
				CorrelationID:     correlationID,
				ResultCode:        intPtr(1),
				ResultDescription: "The balance is insufficient for the transaction.",
			})

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Replayed).To(BeTrue())
			Expect(outcome.Payment.State).To(Equal(payment.StateSucceeded))
			Expect(outcome.Payment.ProviderReceiptID).To(Equal("NLJ7RT61SV"))
			Expect(publisher.Last().EventType()).To(Equal(events.EventTypeCallbackReplayed))
		})

		It("should apply exactly one of several concurrent callbacks", func() {
			const deliveries = 6
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				applied int
			)

			for i := 0; i < deliveries; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					outcome, err := service.HandleCallback(ctx, successCallback(1500))
					Expect(err).ToNot(HaveOccurred())
					if !outcome.Replayed {
						mu.Lock()
						applied++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Expect(applied).To(Equal(1))
		})

		It("should return not found for an unknown correlation id", func() {
			cb := successCallback(1500)
			cb.CorrelationID = "ws_CO_unknown"

			_, err := service.HandleCallback(ctx, cb)

			Expect(stderrors.Is(err, errors.ErrNotFound)).To(BeTrue())
		})

		It("should reject a success callback without a receipt", func() {
			cb := successCallback(1500)
			cb.ProviderReceiptID = ""

			_, err := service.HandleCallback(ctx, cb)

			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(errors.ErrCodeMalformedCallback))

			view, err := service.GetStatus(ctx, correlationID)
			Expect(err).ToNot(HaveOccurred())
			Expect(view.State).To(Equal(payment.StatePending))
		})

		It("should reject a callback without a result code", func() {
			_, err := service.HandleCallback(ctx, payment.Callback{CorrelationID: correlationID})

			Expect(stderrors.Is(err, errors.ErrBadRequest)).To(BeTrue())
		})

		It("should record a settlement mismatch and still succeed", func() {
			outcome, err := service.HandleCallback(ctx, successCallback(1400))

			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Payment.State).To(Equal(payment.StateSucceeded))
			Expect(outcome.Payment.Amount).To(Equal(int64(1400)))
			Expect(publisher.Types()).To(ContainElement(events.EventTypeSettlementMismatch))
		})

		It("should flag a settled amount that is not a whole number", func() {
			// Given a success callback whose Amount could not be read
			cb := successCallback(0)
			cb.SettledAmount = nil
			cb.UnreadableAmount = "1500.4"

			// When
			outcome, err := service.HandleCallback(ctx, cb)

			// Then the payment settles, keeps the requested amount and is flagged
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome.Payment.State).To(Equal(payment.StateSucceeded))
			Expect(outcome.Payment.Amount).To(Equal(int64(1500)))

			stored, err := store.Get(ctx, correlationID)
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.AmountMismatch).To(BeTrue())
			Expect(stored.SettledAmount).To(BeNil())

			Expect(publisher.Types()).To(ContainElement(events.EventTypeSettlementMismatch))
			var mismatch *events.SettlementMismatchEvent
			for _, e := range publisher.All() {
				if m, ok := e.(*events.SettlementMismatchEvent); ok {
					mismatch = m
				}
			}
			Expect(mismatch).ToNot(BeNil())
			Expect(mismatch.SettledValue).To(Equal("1500.4"))
			Expect(mismatch.RequestedAmount).To(Equal(int64(1500)))
		})

		It("should report storage failures as internal errors so the provider retries", func() {
			store.failError = stderrors.New("connection reset")

			_, err := service.HandleCallback(ctx, successCallback(1500))

			appErr, ok := errors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(500))
		})
	})
})
