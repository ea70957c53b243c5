package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/go-chi/chi"
)

func serve(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(rec *httptest.ResponseRecorder) payment.ResponseView {
	var view payment.ResponseView
	Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed(), rec.Body.String())
	return view
}

var _ = Describe("Payment Handler", func() {
	var (
		f      *fixture
		router *chi.Mux
	)

	BeforeEach(func() {
		f = newFixture(payment.DefaultServiceConfig())
		h := payment.NewHandler(f.service, testLogger())

		router = chi.NewRouter()
		router.Post("/payments/pix", h.CreatePixPayment)
		router.Post("/payments/card", h.CreateCardPayment)
		router.Post("/payments/cash", h.CreateCashPayment)
		router.Post("/payments/voucher", h.CreateVoucherPayment)
		router.Get("/payments/installments", h.GetInstallments)
		router.Get("/payments/{id}", h.GetPayment)
		router.Post("/payments/{id}/cancel", h.CancelPayment)
		router.Post("/payments/{id}/refund", h.RefundPayment)
	})

	It("should create a cash payment and answer 201 with the envelope", func() {
		rec := serve(router, http.MethodPost, "/payments/cash", `{"amount": "50.00", "amount_paid": "100"}`)

		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		view := decodeEnvelope(rec)
		Expect(view.Success).To(BeTrue())
		Expect(view.Error).To(BeNil())
		Expect(view.Transaction.Status).To(Equal(payment.StatusApproved))
		Expect(view.Transaction.CashInfo.ChangeAmount.Equal(amount("50"))).To(BeTrue())
	})

	It("should create a pending PIX charge with its QR payload", func() {
		rec := serve(router, http.MethodPost, "/payments/pix", `{"amount": 25.5, "expires_in": 120}`)

		Expect(rec.Code).To(Equal(http.StatusCreated))
		view := decodeEnvelope(rec)
		Expect(view.Transaction.Status).To(Equal(payment.StatusPending))
		Expect(view.Transaction.PixInfo.QRCodeData).To(HavePrefix("000201"))
	})

	It("should create card and voucher payments", func() {
		rec := serve(router, http.MethodPost, "/payments/card", `{"amount": "90", "type": "credit", "installments": 3}`)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(decodeEnvelope(rec).Transaction.CardInfo.Installments).To(Equal(3))

		rec = serve(router, http.MethodPost, "/payments/voucher", `{"amount": "30", "provider": "alelo"}`)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(decodeEnvelope(rec).Transaction.VoucherInfo.Provider).To(Equal("alelo"))
	})

	It("should answer 400 with the envelope for a malformed body", func() {
		rec := serve(router, http.MethodPost, "/payments/cash", `{"amount":`)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		view := decodeEnvelope(rec)
		Expect(view.Success).To(BeFalse())
		Expect(view.Error.Code).To(Equal(internal.ErrCodeValidationFailed))
	})

	It("should map a failed gateway call to 502", func() {
		f.switches.failing.Store(true)

		rec := serve(router, http.MethodPost, "/payments/pix", `{"amount": "10"}`)

		Expect(rec.Code).To(Equal(http.StatusBadGateway))
		Expect(decodeEnvelope(rec).Error.Code).To(Equal(internal.ErrCodeAPICommunication))
	})

	It("should look up, cancel and report conflicts", func() {
		created := decodeEnvelope(serve(router, http.MethodPost, "/payments/pix", `{"amount": "10"}`))
		id := created.Transaction.ID

		rec := serve(router, http.MethodGet, "/payments/"+id, "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decodeEnvelope(rec).Transaction.ID).To(Equal(id))

		rec = serve(router, http.MethodPost, "/payments/"+id+"/cancel", `{"reason": "customer left"}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		view := decodeEnvelope(rec)
		Expect(view.Transaction.Status).To(Equal(payment.StatusCancelled))
		Expect(view.Transaction.Metadata).To(HaveKeyWithValue("cancellation_reason", "customer left"))

		rec = serve(router, http.MethodPost, "/payments/"+id+"/refund", "")
		Expect(rec.Code).To(Equal(http.StatusConflict))
		Expect(decodeEnvelope(rec).Error.Code).To(Equal(internal.ErrCodeInvalidStateTransition))
	})

	It("should accept a cancel without a body", func() {
		created := decodeEnvelope(serve(router, http.MethodPost, "/payments/cash", `{"amount": "5", "amount_paid": "5"}`))

		rec := serve(router, http.MethodPost, "/payments/"+created.Transaction.ID+"/cancel", "")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decodeEnvelope(rec).Transaction.Status).To(Equal(payment.StatusCancelled))
	})

	It("should answer 404 for unknown transactions", func() {
		rec := serve(router, http.MethodGet, "/payments/PIX0", "")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
		Expect(decodeEnvelope(rec).Error.Code).To(Equal(internal.ErrCodeTransactionNotFound))
	})

	Describe("installments", func() {
		type installmentsBody struct {
			Amount  string                      `json:"amount"`
			Options []payment.InstallmentOption `json:"options"`
		}

		It("should list rounded options", func() {
			rec := serve(router, http.MethodGet, "/payments/installments?amount=1000&max=8", "")

			Expect(rec.Code).To(Equal(http.StatusOK))
			var body installmentsBody
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Amount).To(Equal("1000.00"))
			Expect(body.Options).To(HaveLen(8))
			Expect(body.Options[0].HasInterest).To(BeFalse())
			Expect(body.Options[6].HasInterest).To(BeTrue())
			Expect(body.Options[6].Total.String()).To(Equal("1019.9"))
		})

		It("should reject a missing amount or a bad max", func() {
			Expect(serve(router, http.MethodGet, "/payments/installments", "").Code).To(Equal(http.StatusBadRequest))
			Expect(serve(router, http.MethodGet, "/payments/installments?amount=10&max=0", "").Code).To(Equal(http.StatusBadRequest))
		})
	})
})

var _ = Describe("Checkout Handler", func() {
	var (
		f         *fixture
		processor *payment.Processor
		router    *chi.Mux
	)

	decodeCheckout := func(rec *httptest.ResponseRecorder) payment.CheckoutView {
		var view payment.CheckoutView
		Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed(), rec.Body.String())
		return view
	}

	type paymentBody struct {
		payment.ResponseView
		Checkout *payment.CheckoutView `json:"checkout"`
	}

	BeforeEach(func() {
		f = newFixture(payment.DefaultServiceConfig())
		processor = payment.NewProcessor(f.service, testLogger(), payment.WithProcessorClock(f.clock))
		h := payment.NewCheckoutHandler(processor, testLogger())

		router = chi.NewRouter()
		router.Post("/checkouts", h.StartCheckout)
		router.Get("/checkouts/{id}", h.GetCheckout)
		router.Post("/checkouts/{id}/method", h.SelectMethod)
		router.Post("/checkouts/{id}/back", h.Back)
		router.Post("/checkouts/{id}/pix", h.PayWithPix)
		router.Post("/checkouts/{id}/card", h.PayWithCard)
		router.Post("/checkouts/{id}/cash", h.PayWithCash)
		router.Post("/checkouts/{id}/voucher", h.PayWithVoucher)
	})

	AfterEach(func() {
		processor.Shutdown()
	})

	It("should walk a cash checkout to completion", func() {
		rec := serve(router, http.MethodPost, "/checkouts", `{"amount": "42.00", "reference": "ORDER-1"}`)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		checkout := decodeCheckout(rec)
		Expect(checkout.Stage).To(Equal(payment.StageMethodSelection))

		rec = serve(router, http.MethodPost, "/checkouts/"+checkout.ID+"/method", `{"method": "cash"}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decodeCheckout(rec).Stage).To(Equal(payment.StageProcessing))

		rec = serve(router, http.MethodPost, "/checkouts/"+checkout.ID+"/cash", `{"amount_paid": "50"}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		var body paymentBody
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Success).To(BeTrue())
		Expect(body.Checkout.Stage).To(Equal(payment.StageComplete))
		Expect(body.Checkout.Transaction.Metadata).To(HaveKeyWithValue("reference", "ORDER-1"))
	})

	It("should return the checkout alongside a failed payment", func() {
		checkout := decodeCheckout(serve(router, http.MethodPost, "/checkouts", `{"amount": "42"}`))
		serve(router, http.MethodPost, "/checkouts/"+checkout.ID+"/method", `{"method": "cash"}`)

		rec := serve(router, http.MethodPost, "/checkouts/"+checkout.ID+"/cash", `{"amount_paid": "10"}`)

		Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		var body paymentBody
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Error.Code).To(Equal(internal.ErrCodeInsufficientCash))
		Expect(body.Checkout.Stage).To(Equal(payment.StageProcessing))
		Expect(body.Checkout.LastError.Code).To(Equal(internal.ErrCodeInsufficientCash))
	})

	It("should start a PIX charge without a body and go back", func() {
		checkout := decodeCheckout(serve(router, http.MethodPost, "/checkouts", `{"amount": "42"}`))
		serve(router, http.MethodPost, "/checkouts/"+checkout.ID+"/method", `{"method": "pix"}`)

		rec := serve(router, http.MethodPost, "/checkouts/"+checkout.ID+"/pix", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		var body paymentBody
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Checkout.PendingTransactionID).To(Equal(body.Transaction.ID))

		rec = serve(router, http.MethodPost, "/checkouts/"+checkout.ID+"/back", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decodeCheckout(rec).Stage).To(Equal(payment.StageMethodSelection))
	})

	It("should map stage errors to 409 and unknown checkouts to 404", func() {
		checkout := decodeCheckout(serve(router, http.MethodPost, "/checkouts", `{"amount": "42"}`))

		rec := serve(router, http.MethodPost, "/checkouts/"+checkout.ID+"/back", "")
		Expect(rec.Code).To(Equal(http.StatusConflict))

		rec = serve(router, http.MethodGet, "/checkouts/nope", "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should reject invalid checkouts", func() {
		rec := serve(router, http.MethodPost, "/checkouts", `{"amount": "-1"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})
})

var _ = Describe("Notification Handler", func() {
	var (
		f      *fixture
		router *chi.Mux
	)

	BeforeEach(func() {
		f = newFixture(payment.DefaultServiceConfig())
		h := payment.NewNotificationHandler(f.service, testLogger())
		router = chi.NewRouter()
		router.Post("/webhooks/pix", h.HandlePixNotification)
	})

	It("should re-check the charge and report its status", func() {
		created := f.service.ProcessPixPayment(context.Background(), payment.PixPaymentInput{Amount: amount("10")})
		f.switches.settled.Store(true)

		rec := serve(router, http.MethodPost, "/webhooks/pix", `{"transaction_id": "`+created.Transaction.ID+`"}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body payment.PixNotificationResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Status).To(Equal(string(payment.StatusApproved)))
		Expect(body.TransactionID).To(Equal(created.Transaction.ID))
		Expect(body.Message).To(Equal("notification processed"))
	})

	It("should reject bad bodies and missing ids", func() {
		Expect(serve(router, http.MethodPost, "/webhooks/pix", `nope`).Code).To(Equal(http.StatusBadRequest))
		Expect(serve(router, http.MethodPost, "/webhooks/pix", `{"txid": "abc"}`).Code).To(Equal(http.StatusBadRequest))
	})

	It("should answer 404 for unknown transactions", func() {
		rec := serve(router, http.MethodPost, "/webhooks/pix", `{"transaction_id": "PIX0"}`)
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})
})
