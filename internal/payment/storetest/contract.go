// Package storetest holds the behaviour every payment.Store must share.
package storetest

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

var createdAt = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func pendingRecord(id string) *payment.Record {
	return payment.NewPendingRecord(id, "29115-34620561-1", payment.PaymentRequest{
		MerchantReference: "FC-1001",
		Amount:            1500,
		PayerIdentifier:   "254712345678",
		Description:       "Subscription",
	}, createdAt)
}

func success(receipt string, amount int64) payment.Resolution {
	return payment.Resolution{
		ResultCode:        payment.ResultCodeSuccess,
		ResultDescription: "The service request is processed successfully.",
		ProviderReceiptID: receipt,
		SettledAmount:     &amount,
		SettledPayer:      "254712345678",
		TransactionDate:   "20250314093512",
	}
}

// DescribeContract registers the shared store tests. newStore is called before each one.
func DescribeContract(newStore func() payment.Store) {
	var (
		store payment.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		store = newStore()
		ctx = context.Background()
	})

	Describe("Create and Get", func() {
		It("should round-trip a pending record", func() {
			Expect(store.Create(ctx, pendingRecord("ws_CO_1"))).To(Succeed())

			got, err := store.Get(ctx, "ws_CO_1")

			Expect(err).ToNot(HaveOccurred())
			Expect(got.State).To(Equal(payment.StatePending))
			Expect(got.MerchantRequestID).To(Equal("29115-34620561-1"))
			Expect(got.Request.Amount).To(Equal(int64(1500)))
			Expect(got.Request.PayerIdentifier).To(Equal("254712345678"))
			Expect(got.CreatedAt.Equal(createdAt)).To(BeTrue())
			Expect(got.ResolvedAt).To(BeNil())
			Expect(got.ResultCode).To(BeNil())
		})

		It("should reject a second record with the same correlation id", func() {
			Expect(store.Create(ctx, pendingRecord("ws_CO_1"))).To(Succeed())

			err := store.Create(ctx, pendingRecord("ws_CO_1"))

			Expect(err).To(MatchError(payment.ErrRecordExists))
		})

		It("should report unknown ids as not found", func() {
			_, err := store.Get(ctx, "ws_CO_missing")

			Expect(err).To(MatchError(payment.ErrRecordNotFound))
		})
	})

	Describe("UpdateTerminal", func() {
		resolvedAt := createdAt.Add(40 * time.Second)

		BeforeEach(func() {
			Expect(store.Create(ctx, pendingRecord("ws_CO_1"))).To(Succeed())
		})

		It("should resolve a pending record to SUCCEEDED with the receipt", func() {
			record, applied, err := store.UpdateTerminal(ctx, "ws_CO_1", success("NLJ7RT61SV", 1500), resolvedAt)

			Expect(err).ToNot(HaveOccurred())
			Expect(applied).To(BeTrue())
			Expect(record.State).To(Equal(payment.StateSucceeded))
			Expect(record.ProviderReceiptID).To(Equal("NLJ7RT61SV"))

			stored, err := store.Get(ctx, "ws_CO_1")
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.State).To(Equal(payment.StateSucceeded))
			Expect(stored.ProviderReceiptID).To(Equal("NLJ7RT61SV"))
			Expect(stored.TransactionDate).To(Equal("20250314093512"))
			Expect(stored.ResolvedAt).ToNot(BeNil())
			Expect(stored.ResolvedAt.Equal(resolvedAt)).To(BeTrue())
			Expect(*stored.ResultCode).To(Equal(0))
		})

		It("should resolve a pending record to FAILED with the provider description", func() {
			res := payment.Resolution{ResultCode: 1032, ResultDescription: "Request cancelled by user"}

			record, applied, err := store.UpdateTerminal(ctx, "ws_CO_1", res, resolvedAt)

			Expect(err).ToNot(HaveOccurred())
			Expect(applied).To(BeTrue())
			Expect(record.State).To(Equal(payment.StateFailed))
			Expect(record.FailureReason).To(Equal("Request cancelled by user"))
			Expect(record.ProviderReceiptID).To(BeEmpty())
		})

		It("should leave a terminal record untouched", func() {
			_, _, err := store.UpdateTerminal(ctx, "ws_CO_1", success("NLJ7RT61SV", 1500), resolvedAt)
			Expect(err).ToNot(HaveOccurred())

			record, applied, err := store.UpdateTerminal(ctx, "ws_CO_1",
				payment.Resolution{ResultCode: 1, ResultDescription: "insufficient balance"}, resolvedAt.Add(time.Minute))

			Expect(err).ToNot(HaveOccurred())
			Expect(applied).To(BeFalse())
			Expect(record.State).To(Equal(payment.StateSucceeded))
			Expect(record.ProviderReceiptID).To(Equal("NLJ7RT61SV"))
			Expect(record.ResolvedAt.Equal(resolvedAt)).To(BeTrue())
		})

		It("should flag a settled amount that differs from the request", func() {
			record, _, err := store.UpdateTerminal(ctx, "ws_CO_1", success("NLJ7RT61SV", 1400), resolvedAt)

			Expect(err).ToNot(HaveOccurred())
			Expect(record.AmountMismatch).To(BeTrue())

			stored, err := store.Get(ctx, "ws_CO_1")
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.AmountMismatch).To(BeTrue())
			Expect(*stored.SettledAmount).To(Equal(int64(1400)))
			Expect(stored.Request.Amount).To(Equal(int64(1500)))
		})

		It("should report unknown ids as not found", func() {
			_, _, err := store.UpdateTerminal(ctx, "ws_CO_missing", success("X", 1), resolvedAt)

			Expect(err).To(MatchError(payment.ErrRecordNotFound))
		})

		It("should apply exactly one of many concurrent resolutions", func() {
			const callers = 8
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				applied int
				errs    []error
			)

			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()

					res := success("RCPT", 1500)
					if i%2 == 1 {
						res = payment.Resolution{ResultCode: 1032, ResultDescription: "Request cancelled by user"}
					}
					_, ok, err := store.UpdateTerminal(ctx, "ws_CO_1", res, resolvedAt)

					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
					}
					if ok {
						applied++
					}
				}(i)
			}
			wg.Wait()

			Expect(errs).To(BeEmpty())
			Expect(applied).To(Equal(1))

			stored, err := store.Get(ctx, "ws_CO_1")
			Expect(err).ToNot(HaveOccurred())
			Expect(stored.State.IsTerminal()).To(BeTrue())
		})
	})

	It("should answer Ping", func() {
		Expect(store.Ping(ctx)).To(Succeed())
	})
}
