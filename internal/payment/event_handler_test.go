package payment_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/pos-payments/internal/core/events"
	"github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/frahmantamala/pos-payments/internal/webhook"
)

type fakeEnqueuer struct {
	mu         sync.Mutex
	deliveries []webhook.Delivery
	err        error
}

func (f *fakeEnqueuer) Enqueue(d webhook.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

func (f *fakeEnqueuer) Deliveries() []webhook.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webhook.Delivery(nil), f.deliveries...)
}

var _ = Describe("EventHandler", func() {
	var (
		enqueuer *fakeEnqueuer
		handler  *payment.EventHandler
		at       time.Time
	)

	BeforeEach(func() {
		enqueuer = &fakeEnqueuer{}
		handler = payment.NewEventHandler(enqueuer, testLogger())
		at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	It("should enqueue the receipt for the callback url", func() {
		event := events.NewCheckoutCompletedEvent("c-1", "CASH1", "cash", "10.00", "ORDER-1", "https://shop.example.com/cb", map[string]string{"id": "CASH1"}, at)

		Expect(handler.HandleCheckoutCompleted(context.Background(), event)).To(Succeed())

		deliveries := enqueuer.Deliveries()
		Expect(deliveries).To(HaveLen(1))
		Expect(deliveries[0].URL).To(Equal("https://shop.example.com/cb"))
		Expect(deliveries[0].EventType).To(Equal(events.EventTypeCheckoutCompleted))
		Expect(deliveries[0].EventID).To(Equal(event.EventID()))
		Expect(deliveries[0].Payload).To(HaveKeyWithValue("checkout_id", "c-1"))
		Expect(deliveries[0].Payload).To(HaveKeyWithValue("reference", "ORDER-1"))
	})

	It("should skip checkouts without a callback url", func() {
		event := events.NewCheckoutCompletedEvent("c-1", "CASH1", "cash", "10.00", "", "", nil, at)

		Expect(handler.HandleCheckoutCompleted(context.Background(), event)).To(Succeed())
		Expect(enqueuer.Deliveries()).To(BeEmpty())
	})

	It("should surface a full queue", func() {
		enqueuer.err = webhook.ErrQueueFull
		event := events.NewCheckoutCompletedEvent("c-1", "CASH1", "cash", "10.00", "", "https://shop.example.com/cb", nil, at)

		err := handler.HandleCheckoutCompleted(context.Background(), event)
		Expect(errors.Is(err, webhook.ErrQueueFull)).To(BeTrue())
	})

	It("should reject other event types", func() {
		event := events.NewPaymentFailedEvent("c-1", "cash", "X", "y", at)
		Expect(handler.HandleCheckoutCompleted(context.Background(), event)).NotTo(Succeed())
	})

	It("should deliver checkouts completed by the processor through the bus", func() {
		bus := events.NewEventBus(testLogger())
		handler.RegisterEventHandlers(bus)

		f := newFixture(payment.DefaultServiceConfig())
		processor := payment.NewProcessor(f.service, testLogger(), payment.WithProcessorPublisher(bus))
		defer processor.Shutdown()

		checkout, appErr := processor.Start(context.Background(), payment.CheckoutInput{
			Amount:      amount("12"),
			CallbackURL: "https://shop.example.com/cb",
		})
		Expect(appErr).To(BeNil())
		_, appErr = processor.SelectMethod(context.Background(), checkout.ID, payment.SelectMethodInput{Method: payment.TypeCash})
		Expect(appErr).To(BeNil())
		Expect(processor.PayWithCash(context.Background(), checkout.ID, payment.CashCheckoutInput{AmountPaid: amount("12")}).Success).To(BeTrue())

		bus.Wait()
		Expect(enqueuer.Deliveries()).To(HaveLen(1))
		Expect(enqueuer.Deliveries()[0].Payload).To(HaveKeyWithValue("checkout_id", checkout.ID))
	})
})
