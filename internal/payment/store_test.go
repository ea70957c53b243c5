package payment_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/shopspring/decimal"
)

var _ = Describe("MemoryStore", func() {
	var (
		store *payment.MemoryStore
		ctx   context.Context
		now   time.Time
	)

	newPix := func(id string, expiresAt time.Time) *payment.Transaction {
		tx, err := payment.NewTransaction(id, payment.TypePix, decimal.NewFromInt(5), "BRL", &payment.PixInfo{ExpiresAt: expiresAt}, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(tx.TransitionTo(payment.StatusPending, now)).To(Succeed())
		return tx
	}

	BeforeEach(func() {
		store = payment.NewMemoryStore()
		ctx = context.Background()
		now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	It("should return nil for unknown ids", func() {
		tx, err := store.FindByID(ctx, "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(tx).To(BeNil())
	})

	It("should overwrite in place and bump the version", func() {
		tx := newPix("PIX1", now.Add(time.Minute))
		Expect(store.Save(ctx, tx)).To(Succeed())
		Expect(tx.Version).To(BeEquivalentTo(1))

		Expect(tx.TransitionTo(payment.StatusApproved, now)).To(Succeed())
		Expect(store.Save(ctx, tx)).To(Succeed())

		Expect(store.Len()).To(Equal(1))
		stored, _ := store.FindByID(ctx, "PIX1")
		Expect(stored.Status).To(Equal(payment.StatusApproved))
		Expect(stored.Version).To(BeEquivalentTo(2))
	})

	It("should reject a stale writer", func() {
		tx := newPix("PIX1", now.Add(time.Minute))
		Expect(store.Save(ctx, tx)).To(Succeed())

		first, _ := store.FindByID(ctx, "PIX1")
		second, _ := store.FindByID(ctx, "PIX1")
		Expect(first.TransitionTo(payment.StatusApproved, now)).To(Succeed())
		Expect(store.Save(ctx, first)).To(Succeed())

		Expect(second.TransitionTo(payment.StatusCancelled, now)).To(Succeed())
		Expect(store.Save(ctx, second)).To(MatchError(payment.ErrVersionConflict))

		stored, _ := store.FindByID(ctx, "PIX1")
		Expect(stored.Status).To(Equal(payment.StatusApproved))
	})

	It("should hand out copies", func() {
		tx := newPix("PIX1", now.Add(time.Minute))
		Expect(store.Save(ctx, tx)).To(Succeed())

		tx.Status = payment.StatusExpired
		stored, _ := store.FindByID(ctx, "PIX1")
		Expect(stored.Status).To(Equal(payment.StatusPending))
	})

	It("should list pending PIX charges past their deadline, oldest first", func() {
		Expect(store.Save(ctx, newPix("PIX3", now.Add(-time.Second)))).To(Succeed())
		Expect(store.Save(ctx, newPix("PIX1", now.Add(-time.Hour)))).To(Succeed())
		Expect(store.Save(ctx, newPix("PIX2", now.Add(-time.Minute)))).To(Succeed())
		Expect(store.Save(ctx, newPix("PIX4", now.Add(time.Minute)))).To(Succeed())

		cash, _ := payment.NewTransaction("CASH1", payment.TypeCash, decimal.NewFromInt(1), "BRL", &payment.CashInfo{}, now)
		Expect(store.Save(ctx, cash)).To(Succeed())

		expired, err := store.ListExpiredPix(ctx, now, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(expired).To(HaveLen(2))
		Expect(expired[0].ID).To(Equal("PIX1"))
		Expect(expired[1].ID).To(Equal("PIX2"))

		all, _ := store.ListExpiredPix(ctx, now, 0)
		Expect(all).To(HaveLen(3))
	})

	It("should honour a cancelled context", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		Expect(store.Save(cancelled, newPix("PIX1", now))).To(MatchError(context.Canceled))
		_, err := store.FindByID(cancelled, "PIX1")
		Expect(err).To(MatchError(context.Canceled))
	})
})
