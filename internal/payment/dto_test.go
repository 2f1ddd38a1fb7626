package payment_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/internal/core/datamodel/mpesa"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
)

var _ = Describe("NormalizePhoneNumber", func() {
	DescribeTable("customer formats",
		func(input, expected string) {
			Expect(payment.NormalizePhoneNumber(input)).To(Equal(expected))
		},
		Entry("leading zero", "0712345678", "254712345678"),
		Entry("international with plus", "+254712345678", "254712345678"),
		Entry("already normalized", "254712345678", "254712345678"),
		Entry("without prefix", "712345678", "254712345678"),
		Entry("new 011 range", "0110123456", "254110123456"),
		Entry("spaces and dashes", "0712-345 678", "254712345678"),
	)

	DescribeTable("IsValidPhoneNumber",
		func(input string, valid bool) {
			Expect(payment.IsValidPhoneNumber(input)).To(Equal(valid))
		},
		Entry("safaricom mobile", "0712345678", true),
		Entry("too short", "07123", false),
		Entry("too long", "07123456789", false),
		Entry("foreign number", "+14155550100", false),
		Entry("empty", "", false),
	)
})

var _ = Describe("PaymentRequest", func() {
	valid := func() payment.PaymentRequest {
		return payment.PaymentRequest{
			MerchantReference: "FC-1001",
			Amount:            1,
			PayerIdentifier:   "0712345678",
		}
	}

	It("should default the description", func() {
		out, err := valid().Normalize()

		Expect(err).ToNot(HaveOccurred())
		Expect(out.Description).To(Equal("Subscription"))
	})

	It("should collect every invalid field", func() {
		req := payment.PaymentRequest{
			MerchantReference: "FITCOACH-ANNUAL-PLAN",
			Amount:            0,
			PayerIdentifier:   "abc",
			Description:       "Annual coaching subscription",
		}

		err := req.Validate()

		appErr, ok := errors.IsAppError(err)
		Expect(ok).To(BeTrue())
		fields := []string{}
		for _, e := range appErr.Details.(errors.ValidationErrors).Errors {
			fields = append(fields, e.Field)
		}
		Expect(fields).To(ConsistOf("merchantReference", "amount", "payerIdentifier", "description"))
	})

	It("should require a merchant reference", func() {
		req := valid()
		req.MerchantReference = "   "

		Expect(req.Validate()).To(HaveOccurred())
	})

	It("should accept the legacy field names", func() {
		var in payment.InitiateRequest
		body := `{"phoneNumber":"0712345678","amount":250,"accountReference":"FC-9","transactionDesc":"Monthly"}`
		Expect(json.Unmarshal([]byte(body), &in)).To(Succeed())

		req := in.ToPaymentRequest()

		Expect(req).To(Equal(payment.PaymentRequest{
			MerchantReference: "FC-9",
			Amount:            250,
			PayerIdentifier:   "0712345678",
			Description:       "Monthly",
		}))
	})

	It("should cut long legacy references and descriptions to the Daraja limits", func() {
		in := payment.InitiateRequest{
			PhoneNumber:      "254712345678",
			Amount:           5000,
			AccountReference: "FITCOACH_1700000000000",
			TransactionDesc:  "Payment for Premium subscription",
		}

		req := in.ToPaymentRequest()

		Expect(req.MerchantReference).To(Equal("FITCOACH_170"))
		Expect(req.Description).To(Equal("Payment for P"))
		Expect(req.Validate()).To(Succeed())
	})

	It("should not split a multi-byte character when cutting", func() {
		in := payment.InitiateRequest{AccountReference: "FITCOACH_12é4"}

		Expect(in.ToPaymentRequest().MerchantReference).To(Equal("FITCOACH_12"))
	})

	It("should still reject an over-long merchantReference", func() {
		in := payment.InitiateRequest{
			MerchantReference: "FITCOACH_1700000000000",
			Amount:            5000,
			PayerIdentifier:   "254712345678",
		}

		Expect(in.ToPaymentRequest().Validate()).To(HaveOccurred())
	})
})

var _ = Describe("CallbackFromEnvelope", func() {
	It("should read the Daraja success envelope", func() {
		body := `{"Body":{"stkCallback":{
			"MerchantRequestID":"29115-34620561-1",
			"CheckoutRequestID":"ws_CO_191220191020363925",
			"ResultCode":0,
			"ResultDesc":"The service request is processed successfully.",
			"CallbackMetadata":{"Item":[
				{"Name":"Amount","Value":1.00},
				{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
				{"Name":"Balance"},
				{"Name":"TransactionDate","Value":20191219102115},
				{"Name":"PhoneNumber","Value":254708374149}
			]}}}}`
		var env mpesa.CallbackEnvelope
		Expect(json.Unmarshal([]byte(body), &env)).To(Succeed())

		cb := payment.CallbackFromEnvelope(&env)

		Expect(cb.CorrelationID).To(Equal("ws_CO_191220191020363925"))
		Expect(*cb.ResultCode).To(Equal(0))
		Expect(cb.ProviderReceiptID).To(Equal("NLJ7RT61SV"))
		Expect(*cb.SettledAmount).To(Equal(int64(1)))
		Expect(cb.TransactionDate).To(Equal("20191219102115"))
		Expect(cb.SettledPayer).To(Equal("254708374149"))
		Expect(cb.Validate()).To(Succeed())
	})

	DescribeTable("settled amounts that are not whole numbers",
		func(value string) {
			body := `{"Body":{"stkCallback":{
				"CheckoutRequestID":"ws_CO_191220191020363925",
				"ResultCode":0,
				"CallbackMetadata":{"Item":[
					{"Name":"Amount","Value":` + value + `},
					{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}
				]}}}}`
			var env mpesa.CallbackEnvelope
			Expect(json.Unmarshal([]byte(body), &env)).To(Succeed())

			cb := payment.CallbackFromEnvelope(&env)

			Expect(cb.SettledAmount).To(BeNil())
			Expect(cb.UnreadableAmount).To(Equal(value))
			Expect(cb.Resolution().UnreadableAmount).To(Equal(value))
		},
		Entry("fraction", "1.4"),
		Entry("beyond int64", "1e30"),
	)

	It("should read a cancellation without metadata", func() {
		body := `{"Body":{"stkCallback":{
			"MerchantRequestID":"29115-34620561-1",
			"CheckoutRequestID":"ws_CO_191220191020363925",
			"ResultCode":1032,
			"ResultDesc":"Request cancelled by user"}}}`
		var env mpesa.CallbackEnvelope
		Expect(json.Unmarshal([]byte(body), &env)).To(Succeed())

		cb := payment.CallbackFromEnvelope(&env)

		Expect(cb.Validate()).To(Succeed())
		res := cb.Resolution()
		Expect(res.Succeeded()).To(BeFalse())
		Expect(res.ResultDescription).To(Equal("Request cancelled by user"))
		Expect(res.SettledAmount).To(BeNil())
	})

	It("should treat an empty envelope as malformed", func() {
		cb := payment.CallbackFromEnvelope(&mpesa.CallbackEnvelope{})

		Expect(cb.Validate()).To(MatchError(ContainSubstring("CheckoutRequestID")))
	})
})

var _ = Describe("Record", func() {
	It("should refuse to resolve twice", func() {
		record := payment.NewPendingRecord("ws_CO_1", "m-1", payment.PaymentRequest{Amount: 10}, testNow)
		Expect(record.Resolve(payment.Resolution{ResultCode: 1032}, testNow)).To(Succeed())

		err := record.Resolve(payment.Resolution{ResultCode: 0, ProviderReceiptID: "X"}, testNow)

		Expect(err).To(MatchError(payment.ErrAlreadyTerminal))
		Expect(record.State).To(Equal(payment.StateFailed))
		Expect(record.FailureReason).To(Equal("payment failed"))
	})

	It("should project the settled amount and payer into the view", func() {
		record := payment.NewPendingRecord("ws_CO_1", "m-1", payment.PaymentRequest{
			Amount:          10,
			PayerIdentifier: "254712345678",
		}, testNow)
		Expect(record.Resolve(payment.Resolution{
			ResultCode:        0,
			ProviderReceiptID: "NLJ7RT61SV",
			SettledAmount:     int64Ptr(12),
			SettledPayer:      "254700000001",
		}, testNow)).To(Succeed())

		view := payment.ToView(record)

		Expect(view.Amount).To(Equal(int64(12)))
		Expect(view.PayerIdentifier).To(Equal("254700000001"))
		Expect(view.IsTerminal()).To(BeTrue())
		Expect(record.AmountMismatch).To(BeTrue())
	})
})
