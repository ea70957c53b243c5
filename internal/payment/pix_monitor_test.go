package payment_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/payment"
)

// countingService counts status polls issued against the wrapped service.
type countingService struct {
	payment.ServiceAPI
	checks atomic.Int32
}

func (c *countingService) CheckTransactionStatus(ctx context.Context, id string) payment.Response {
	c.checks.Add(1)
	return c.ServiceAPI.CheckTransactionStatus(ctx, id)
}

var _ = Describe("PixMonitor", func() {
	var (
		f        *fixture
		counting *countingService
		ctx      context.Context

		mu        sync.Mutex
		successes []*payment.Transaction
		failures  []*internal.AppError
		ticks     []int
	)

	newMonitor := func() *payment.PixMonitor {
		return payment.NewPixMonitor(counting, testLogger(),
			payment.WithMonitorClock(f.clock),
			payment.OnPixSuccess(func(tx *payment.Transaction) {
				mu.Lock()
				defer mu.Unlock()
				successes = append(successes, tx)
			}),
			payment.OnPixError(func(err *internal.AppError) {
				mu.Lock()
				defer mu.Unlock()
				failures = append(failures, err)
			}),
			payment.OnPixTick(func(remaining int) {
				mu.Lock()
				defer mu.Unlock()
				ticks = append(ticks, remaining)
			}),
		)
	}

	successCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(successes)
	}

	BeforeEach(func() {
		f = newFixture(payment.DefaultServiceConfig())
		counting = &countingService{ServiceAPI: f.service}
		ctx = context.Background()
		successes, failures, ticks = nil, nil, nil
	})

	It("should stop both timers at expiry without polling", func() {
		monitor := newMonitor()
		resp := monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 5})
		Expect(resp.Success).To(BeTrue())
		Expect(monitor.State()).To(Equal(payment.PixStateWaiting))
		Expect(monitor.Remaining()).To(Equal(5))

		for want := 4; want >= 1; want-- {
			f.clock.Advance(time.Second)
			Eventually(monitor.Remaining).Should(Equal(want))
		}
		f.clock.Advance(time.Second)

		Eventually(monitor.Done()).Should(BeClosed())
		Expect(monitor.State()).To(Equal(payment.PixStateExpired))
		Expect(monitor.Remaining()).To(Equal(0))
		Expect(counting.checks.Load()).To(BeZero())

		f.clock.Advance(time.Minute)
		Consistently(counting.checks.Load, 50*time.Millisecond).Should(BeZero())

		status := f.service.CheckTransactionStatus(ctx, resp.Transaction.ID)
		Expect(status.Transaction.Status).To(Equal(payment.StatusPending))
		Expect(successCount()).To(BeZero())
	})

	It("should report the countdown on every tick", func() {
		monitor := newMonitor()
		monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})

		f.clock.Advance(time.Second)
		Eventually(monitor.Remaining).Should(Equal(59))
		f.clock.Advance(time.Second)
		Eventually(monitor.Remaining).Should(Equal(58))

		Eventually(func() []int {
			mu.Lock()
			defer mu.Unlock()
			return append([]int(nil), ticks...)
		}).Should(Equal([]int{59, 58}))
		monitor.Stop()
	})

	It("should poll every five seconds and fire success exactly once", func() {
		monitor := newMonitor()
		resp := monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})

		f.clock.Advance(5 * time.Second)
		Eventually(counting.checks.Load).Should(BeEquivalentTo(1))
		Expect(monitor.State()).To(Equal(payment.PixStateWaiting))

		f.switches.settled.Store(true)
		f.clock.Advance(5 * time.Second)

		Eventually(monitor.Done()).Should(BeClosed())
		Expect(monitor.State()).To(Equal(payment.PixStateApproved))
		Expect(successCount()).To(Equal(1))
		Expect(successes[0].ID).To(Equal(resp.Transaction.ID))
		Expect(successes[0].Status).To(Equal(payment.StatusApproved))

		f.clock.Advance(time.Minute)
		Consistently(successCount, 50*time.Millisecond).Should(Equal(1))
		Expect(counting.checks.Load()).To(BeEquivalentTo(2))
	})

	It("should stop both timers on Stop", func() {
		monitor := newMonitor()
		monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})

		monitor.Stop()
		monitor.Stop()

		Expect(monitor.Done()).To(BeClosed())
		Expect(monitor.State()).To(Equal(payment.PixStateStopped))
		f.clock.Advance(time.Minute)
		Consistently(counting.checks.Load, 50*time.Millisecond).Should(BeZero())
	})

	It("should stop when the caller context is cancelled", func() {
		runCtx, cancel := context.WithCancel(ctx)
		monitor := newMonitor()
		monitor.Start(runCtx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})

		cancel()

		Eventually(monitor.Done()).Should(BeClosed())
		Expect(monitor.State()).To(Equal(payment.PixStateStopped))
	})

	It("should wind down when the charge is cancelled elsewhere", func() {
		monitor := newMonitor()
		resp := monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})
		Expect(f.service.CancelTransaction(ctx, resp.Transaction.ID, "manual").Success).To(BeTrue())

		f.switches.settled.Store(true)
		f.clock.Advance(5 * time.Second)

		Eventually(monitor.Done()).Should(BeClosed())
		Expect(monitor.State()).To(Equal(payment.PixStateClosed))
		Expect(successCount()).To(BeZero())
		Expect(monitor.Transaction().Status).To(Equal(payment.StatusCancelled))
	})

	It("should keep polling after a transient acquirer failure", func() {
		monitor := newMonitor()
		monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})

		f.switches.failing.Store(true)
		f.clock.Advance(5 * time.Second)
		Eventually(counting.checks.Load).Should(BeEquivalentTo(1))

		f.switches.failing.Store(false)
		f.switches.settled.Store(true)
		f.clock.Advance(5 * time.Second)

		Eventually(monitor.Done()).Should(BeClosed())
		Expect(monitor.State()).To(Equal(payment.PixStateApproved))
	})

	It("should report creation failures through the error callback", func() {
		f.switches.failing.Store(true)
		monitor := newMonitor()

		resp := monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20")})

		Expect(resp.Success).To(BeFalse())
		Expect(resp.Error.Code).To(Equal(internal.ErrCodeAPICommunication))
		Expect(monitor.State()).To(Equal(payment.PixStateFailed))
		Expect(monitor.Done()).To(BeClosed())
		mu.Lock()
		Expect(failures).To(HaveLen(1))
		mu.Unlock()
	})

	It("should refuse to start twice", func() {
		monitor := newMonitor()
		monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})

		resp := monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})

		Expect(resp.Success).To(BeFalse())
		Expect(resp.Error.Code).To(Equal(internal.ErrCodePixProcessing))
		monitor.Stop()
	})

	It("should not create a charge once stopped", func() {
		monitor := newMonitor()
		monitor.Stop()

		resp := monitor.Start(ctx, payment.PixPaymentInput{Amount: amount("20"), ExpiresIn: 60})

		Expect(resp.Success).To(BeFalse())
		Expect(resp.Error.Code).To(Equal(internal.ErrCodePixProcessing))
		Expect(f.store.Len()).To(BeZero())
		Expect(counting.checks.Load()).To(BeZero())
	})
})
