package payment_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/core/events"
	"github.com/frahmantamala/pos-payments/internal/payment"
)

var _ = Describe("Checkout Processor", func() {
	var (
		f         *fixture
		bus       *recordingPublisher
		processor *payment.Processor
		ctx       context.Context

		mu        sync.Mutex
		completed []*payment.Checkout
		failed    []*internal.AppError
	)

	completedCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(completed)
	}

	start := func(method payment.Type) *payment.Checkout {
		checkout, appErr := processor.Start(ctx, payment.CheckoutInput{
			Amount:      amount("50"),
			Reference:   "ORDER-42",
			CallbackURL: "https://shop.example.com/hooks/pos",
			Customer:    &payment.Customer{Name: "Ana"},
			Metadata:    map[string]string{"table": "7"},
		})
		Expect(appErr).To(BeNil())
		if method != "" {
			checkout, appErr = processor.SelectMethod(ctx, checkout.ID, payment.SelectMethodInput{Method: method})
			Expect(appErr).To(BeNil())
		}
		return checkout
	}

	BeforeEach(func() {
		f = newFixture(payment.DefaultServiceConfig())
		bus = &recordingPublisher{}
		ctx = context.Background()
		completed, failed = nil, nil

		processor = payment.NewProcessor(f.service, testLogger(),
			payment.WithProcessorClock(f.clock),
			payment.WithProcessorPublisher(bus),
			payment.WithCompletionCallback(func(_ context.Context, c *payment.Checkout) {
				mu.Lock()
				defer mu.Unlock()
				completed = append(completed, c)
			}),
			payment.WithErrorCallback(func(_ context.Context, _ *payment.Checkout, err *internal.AppError) {
				mu.Lock()
				defer mu.Unlock()
				failed = append(failed, err)
			}),
		)
	})

	AfterEach(func() {
		processor.Shutdown()
	})

	Describe("Start", func() {
		It("should open in method selection", func() {
			checkout := start("")
			Expect(checkout.Stage).To(Equal(payment.StageMethodSelection))
			Expect(checkout.ID).NotTo(BeEmpty())
		})

		It("should validate the amount and callback url", func() {
			_, appErr := processor.Start(ctx, payment.CheckoutInput{Amount: amount("0")})
			Expect(appErr).NotTo(BeNil())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))

			_, appErr = processor.Start(ctx, payment.CheckoutInput{Amount: amount("1"), CallbackURL: "ftp://nope"})
			Expect(appErr).NotTo(BeNil())
		})
	})

	Describe("stage guards", func() {
		It("should report unknown checkouts", func() {
			_, appErr := processor.Get(ctx, "missing")
			Expect(appErr.Code).To(Equal(internal.ErrCodeCheckoutNotFound))
		})

		It("should reject unknown methods", func() {
			checkout := start("")
			_, appErr := processor.SelectMethod(ctx, checkout.ID, payment.SelectMethodInput{Method: "bitcoin"})
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
		})

		It("should not select twice", func() {
			checkout := start(payment.TypeCash)
			_, appErr := processor.SelectMethod(ctx, checkout.ID, payment.SelectMethodInput{Method: payment.TypePix})
			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidCheckoutStage))
		})

		It("should not pay before a method is selected", func() {
			checkout := start("")
			resp := processor.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("50")})
			Expect(resp.Error.Code).To(Equal(internal.ErrCodeInvalidCheckoutStage))
		})

		It("should not pay with a method other than the selected one", func() {
			checkout := start(payment.TypeCash)
			resp := processor.PayWithCard(ctx, checkout.ID, payment.CardCheckoutInput{})
			Expect(resp.Error.Code).To(Equal(internal.ErrCodeInvalidCheckoutStage))
		})

		It("should only go back from payment processing", func() {
			checkout := start("")
			_, appErr := processor.Back(ctx, checkout.ID)
			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidCheckoutStage))
		})
	})

	Describe("cash", func() {
		It("should reject short payments and stay in processing", func() {
			checkout := start(payment.TypeCash)

			resp := processor.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("20")})

			Expect(resp.Success).To(BeFalse())
			Expect(resp.Error.Code).To(Equal(internal.ErrCodeInsufficientCash))
			current, _ := processor.Get(ctx, checkout.ID)
			Expect(current.Stage).To(Equal(payment.StageProcessing))
			Expect(current.LastError.Code).To(Equal(internal.ErrCodeInsufficientCash))
			Expect(f.store.Len()).To(Equal(0))
			Expect(bus.Types()).To(ConsistOf(events.EventTypePaymentFailed))
			mu.Lock()
			Expect(failed).To(HaveLen(1))
			mu.Unlock()
		})

		It("should complete with a receipt carrying the checkout context", func() {
			checkout := start(payment.TypeCash)

			resp := processor.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("100")})

			Expect(resp.Success).To(BeTrue())
			current, _ := processor.Get(ctx, checkout.ID)
			Expect(current.Stage).To(Equal(payment.StageComplete))
			Expect(current.LastError).To(BeNil())
			receipt := current.Transaction
			Expect(receipt.Status).To(Equal(payment.StatusApproved))
			Expect(receipt.Customer.Name).To(Equal("Ana"))
			Expect(receipt.Metadata).To(HaveKeyWithValue("checkout_id", checkout.ID))
			Expect(receipt.Metadata).To(HaveKeyWithValue("reference", "ORDER-42"))
			Expect(receipt.Metadata).To(HaveKeyWithValue("table", "7"))
			cash, _ := receipt.Cash()
			Expect(cash.ChangeAmount.Equal(amount("50"))).To(BeTrue())

			Expect(completedCount()).To(Equal(1))
			Expect(bus.Types()).To(ContainElement(events.EventTypeCheckoutCompleted))
		})

		It("should not pay a completed checkout again", func() {
			checkout := start(payment.TypeCash)
			processor.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("50")})

			resp := processor.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("50")})
			Expect(resp.Error.Code).To(Equal(internal.ErrCodeInvalidCheckoutStage))
			Expect(completedCount()).To(Equal(1))
		})
	})

	Describe("card and voucher", func() {
		It("should complete a credit checkout", func() {
			checkout := start(payment.TypeCredit)

			resp := processor.PayWithCard(ctx, checkout.ID, payment.CardCheckoutInput{Installments: 2})

			Expect(resp.Success).To(BeTrue())
			card, _ := resp.Transaction.Card()
			Expect(card.Installments).To(Equal(2))
			Expect(completedCount()).To(Equal(1))
		})

		It("should keep the checkout open after a decline so the operator can retry", func() {
			f.switches.declining.Store(true)
			checkout := start(payment.TypeDebit)

			resp := processor.PayWithCard(ctx, checkout.ID, payment.CardCheckoutInput{})
			Expect(resp.Error.Code).To(Equal(internal.ErrCodeCardDeclined))

			f.switches.declining.Store(false)
			resp = processor.PayWithCard(ctx, checkout.ID, payment.CardCheckoutInput{})
			Expect(resp.Success).To(BeTrue())
			current, _ := processor.Get(ctx, checkout.ID)
			Expect(current.Stage).To(Equal(payment.StageComplete))
		})

		It("should complete a voucher checkout", func() {
			checkout := start(payment.TypeVoucher)

			resp := processor.PayWithVoucher(ctx, checkout.ID, payment.VoucherCheckoutInput{Provider: "sodexo"})

			Expect(resp.Success).To(BeTrue())
			Expect(completedCount()).To(Equal(1))
		})
	})

	Describe("pix", func() {
		It("should complete once the monitor sees the charge settle", func() {
			checkout := start(payment.TypePix)

			resp := processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{ExpiresIn: 60})
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Transaction.Status).To(Equal(payment.StatusPending))

			current, _ := processor.Get(ctx, checkout.ID)
			Expect(current.Stage).To(Equal(payment.StageProcessing))
			Expect(current.PendingTransactionID).To(Equal(resp.Transaction.ID))

			f.switches.settled.Store(true)
			f.clock.Advance(5 * time.Second)

			Eventually(func() payment.CheckoutStage {
				c, _ := processor.Get(ctx, checkout.ID)
				return c.Stage
			}).Should(Equal(payment.StageComplete))
			current, _ = processor.Get(ctx, checkout.ID)
			Expect(current.Transaction.ID).To(Equal(resp.Transaction.ID))
			Expect(current.Transaction.Status).To(Equal(payment.StatusApproved))
			Expect(completedCount()).To(Equal(1))
		})

		It("should not create a second charge while one is pending", func() {
			checkout := start(payment.TypePix)
			Expect(processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{}).Success).To(BeTrue())

			resp := processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{})
			Expect(resp.Error.Code).To(Equal(internal.ErrCodeInvalidCheckoutStage))
		})

		It("should stop the monitor on back and cancel the charge", func() {
			checkout := start(payment.TypePix)
			resp := processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{ExpiresIn: 60})

			back, appErr := processor.Back(ctx, checkout.ID)
			Expect(appErr).To(BeNil())
			Expect(back.Stage).To(Equal(payment.StageMethodSelection))
			Expect(back.PendingTransactionID).To(BeEmpty())

			stored, _ := f.store.FindByID(ctx, resp.Transaction.ID)
			Expect(stored.Status).To(Equal(payment.StatusCancelled))
			Expect(stored.Metadata).To(HaveKey("cancellation_reason"))

			f.switches.settled.Store(true)
			f.clock.Advance(10 * time.Second)
			Consistently(completedCount, 50*time.Millisecond).Should(BeZero())
		})

		It("should never approve the abandoned charge beside the replacement payment", func() {
			checkout := start(payment.TypePix)
			pix := processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{ExpiresIn: 60})
			_, appErr := processor.Back(ctx, checkout.ID)
			Expect(appErr).To(BeNil())

			f.switches.settled.Store(true)
			f.service.CheckTransactionStatus(ctx, pix.Transaction.ID)

			_, appErr = processor.SelectMethod(ctx, checkout.ID, payment.SelectMethodInput{Method: payment.TypeCash})
			Expect(appErr).To(BeNil())
			cash := processor.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("50")})
			Expect(cash.Success).To(BeTrue())

			stored, _ := f.store.FindByID(ctx, pix.Transaction.ID)
			Expect(stored.Status).To(Equal(payment.StatusCancelled))
		})

		It("should complete instead of going back when the charge already settled", func() {
			checkout := start(payment.TypePix)
			pix := processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{ExpiresIn: 60})
			f.switches.settled.Store(true)
			f.service.CheckTransactionStatus(ctx, pix.Transaction.ID)

			_, appErr := processor.Back(ctx, checkout.ID)

			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidCheckoutStage))
			current, _ := processor.Get(ctx, checkout.ID)
			Expect(current.Stage).To(Equal(payment.StageComplete))
			Expect(current.Transaction.ID).To(Equal(pix.Transaction.ID))
			Expect(completedCount()).To(Equal(1))
		})

		It("should stay in processing and keep watching when the cancel cannot reach the acquirer", func() {
			checkout := start(payment.TypePix)
			pix := processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{ExpiresIn: 60})
			f.switches.failing.Store(true)

			_, appErr := processor.Back(ctx, checkout.ID)

			Expect(appErr.Code).To(Equal(internal.ErrCodeAPICommunication))
			current, _ := processor.Get(ctx, checkout.ID)
			Expect(current.Stage).To(Equal(payment.StageProcessing))
			Expect(current.PendingTransactionID).To(Equal(pix.Transaction.ID))

			f.switches.failing.Store(false)
			f.switches.settled.Store(true)
			f.clock.Advance(5 * time.Second)
			Eventually(completedCount).Should(Equal(1))
		})

		It("should let the operator switch to another method after going back", func() {
			checkout := start(payment.TypePix)
			processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{})
			_, appErr := processor.Back(ctx, checkout.ID)
			Expect(appErr).To(BeNil())

			_, appErr = processor.SelectMethod(ctx, checkout.ID, payment.SelectMethodInput{Method: payment.TypeCash})
			Expect(appErr).To(BeNil())
			resp := processor.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("50")})
			Expect(resp.Success).To(BeTrue())
		})

		It("should record a failed charge on the checkout", func() {
			f.switches.failing.Store(true)
			checkout := start(payment.TypePix)

			resp := processor.PayWithPix(ctx, checkout.ID, payment.PixCheckoutInput{})

			Expect(resp.Error.Code).To(Equal(internal.ErrCodeAPICommunication))
			current, _ := processor.Get(ctx, checkout.ID)
			Expect(current.LastError.Code).To(Equal(internal.ErrCodeAPICommunication))
			Expect(current.PendingTransactionID).To(BeEmpty())
		})
	})
	Describe("session retention", func() {
		var retained *payment.Processor

		BeforeEach(func() {
			retained = payment.NewProcessor(f.service, testLogger(),
				payment.WithProcessorClock(f.clock),
				payment.WithSessionRetention(15*time.Minute, time.Hour, 0))
			DeferCleanup(retained.Shutdown)
		})

		open := func(method payment.Type) *payment.Checkout {
			checkout, appErr := retained.Start(ctx, payment.CheckoutInput{Amount: amount("50")})
			Expect(appErr).To(BeNil())
			if method != "" {
				checkout, appErr = retained.SelectMethod(ctx, checkout.ID, payment.SelectMethodInput{Method: method})
				Expect(appErr).To(BeNil())
			}
			return checkout
		}

		gone := func(id string) bool {
			_, appErr := retained.Get(ctx, id)
			return appErr != nil && appErr.Code == internal.ErrCodeCheckoutNotFound
		}

		It("should drop completed checkouts after the completed retention", func() {
			checkout := open(payment.TypeCash)
			Expect(retained.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("50")}).Success).To(BeTrue())

			f.clock.Advance(14 * time.Minute)
			Expect(retained.EvictStale()).To(BeZero())

			f.clock.Advance(time.Minute)
			Expect(retained.EvictStale()).To(Equal(1))
			Expect(gone(checkout.ID)).To(BeTrue())
		})

		It("should drop idle checkouts but keep one whose PIX charge is still watched", func() {
			idle := open("")
			watched := open(payment.TypePix)
			Expect(retained.PayWithPix(ctx, watched.ID, payment.PixCheckoutInput{ExpiresIn: 7200}).Success).To(BeTrue())

			f.clock.Advance(61 * time.Minute)

			Expect(retained.EvictStale()).To(Equal(1))
			Expect(gone(idle.ID)).To(BeTrue())
			Expect(gone(watched.ID)).To(BeFalse())
		})

		It("should sweep in the background on the configured interval", func() {
			background := payment.NewProcessor(f.service, testLogger(),
				payment.WithProcessorClock(f.clock),
				payment.WithSessionRetention(time.Minute, 0, 30*time.Second))
			DeferCleanup(background.Shutdown)

			checkout, _ := background.Start(ctx, payment.CheckoutInput{Amount: amount("10")})
			background.SelectMethod(ctx, checkout.ID, payment.SelectMethodInput{Method: payment.TypeCash})
			Expect(background.PayWithCash(ctx, checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("10")}).Success).To(BeTrue())

			f.clock.Advance(90 * time.Second)

			Eventually(func() bool {
				_, appErr := background.Get(ctx, checkout.ID)
				return appErr != nil
			}).Should(BeTrue())
		})
	})
})
