package payment_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/shopspring/decimal"
)

var _ = Describe("Transaction", func() {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	Describe("status transitions", func() {
		DescribeTable("CanTransitionTo",
			func(from, to payment.Status, allowed bool) {
				Expect(from.CanTransitionTo(to)).To(Equal(allowed))
			},
			Entry("pending to approved", payment.StatusPending, payment.StatusApproved, true),
			Entry("pending to denied", payment.StatusPending, payment.StatusDenied, true),
			Entry("pending to expired", payment.StatusPending, payment.StatusExpired, true),
			Entry("pending to cancelled", payment.StatusPending, payment.StatusCancelled, true),
			Entry("pending to refunded", payment.StatusPending, payment.StatusRefunded, false),
			Entry("processing to approved", payment.StatusProcessing, payment.StatusApproved, true),
			Entry("processing to cancelled", payment.StatusProcessing, payment.StatusCancelled, false),
			Entry("approved to cancelled", payment.StatusApproved, payment.StatusCancelled, true),
			Entry("approved to refunded", payment.StatusApproved, payment.StatusRefunded, true),
			Entry("approved to pending", payment.StatusApproved, payment.StatusPending, false),
			Entry("denied to cancelled", payment.StatusDenied, payment.StatusCancelled, false),
			Entry("expired to approved", payment.StatusExpired, payment.StatusApproved, false),
			Entry("cancelled to refunded", payment.StatusCancelled, payment.StatusRefunded, false),
			Entry("refunded to cancelled", payment.StatusRefunded, payment.StatusCancelled, false),
		)

		It("should stamp CompletedAt only on the first terminal state", func() {
			tx, err := payment.NewTransaction("CASH1", payment.TypeCash, decimal.NewFromInt(10), "BRL", &payment.CashInfo{}, now)
			Expect(err).NotTo(HaveOccurred())

			Expect(tx.TransitionTo(payment.StatusApproved, now.Add(time.Second))).To(Succeed())
			Expect(*tx.CompletedAt).To(Equal(now.Add(time.Second)))

			Expect(tx.TransitionTo(payment.StatusRefunded, now.Add(time.Minute))).To(Succeed())
			Expect(*tx.CompletedAt).To(Equal(now.Add(time.Second)))
			Expect(tx.UpdatedAt).To(Equal(now.Add(time.Minute)))
		})

		It("should reject illegal moves and leave the transaction untouched", func() {
			tx, _ := payment.NewTransaction("CASH1", payment.TypeCash, decimal.NewFromInt(10), "BRL", &payment.CashInfo{}, now)
			Expect(tx.TransitionTo(payment.StatusDenied, now)).To(Succeed())

			err := tx.TransitionTo(payment.StatusCancelled, now.Add(time.Hour))

			Expect(err).To(MatchError(payment.ErrInvalidTransition))
			Expect(tx.Status).To(Equal(payment.StatusDenied))
			Expect(tx.UpdatedAt).To(Equal(now))
		})
	})

	Describe("method info", func() {
		It("should refuse info that does not match the type", func() {
			_, err := payment.NewTransaction("X", payment.TypePix, decimal.NewFromInt(1), "BRL", &payment.CardInfo{}, now)
			Expect(err).To(HaveOccurred())

			_, err = payment.NewTransaction("X", payment.TypeCredit, decimal.NewFromInt(1), "BRL", nil, now)
			Expect(err).To(HaveOccurred())
		})

		It("should accept card info for both card types", func() {
			_, err := payment.NewTransaction("X", payment.TypeDebit, decimal.NewFromInt(1), "BRL", &payment.CardInfo{}, now)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Clone", func() {
		It("should not share mutable state", func() {
			tx, _ := payment.NewTransaction("PIX1", payment.TypePix, decimal.NewFromInt(1), "BRL", &payment.PixInfo{Key: "k"}, now)
			tx.SetMetadata("a", "1")
			tx.Customer = &payment.Customer{Name: "Ana"}

			c := tx.Clone()
			c.SetMetadata("a", "2")
			c.Customer.Name = "Bia"
			pix, _ := c.Pix()
			pix.Key = "changed"

			original, _ := tx.Pix()
			Expect(tx.Metadata["a"]).To(Equal("1"))
			Expect(tx.Customer.Name).To(Equal("Ana"))
			Expect(original.Key).To(Equal("k"))
		})
	})

	Describe("wire view", func() {
		It("should populate exactly one info field and round trip", func() {
			tx, _ := payment.NewTransaction("CARD1", payment.TypeCredit, decimal.RequireFromString("12.50"), "BRL",
				&payment.CardInfo{Brand: "Visa", LastDigits: "1111", Installments: 2}, now)
			Expect(tx.TransitionTo(payment.StatusApproved, now)).To(Succeed())

			raw, err := json.Marshal(payment.ToView(tx))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring(`"card_info"`))
			Expect(string(raw)).NotTo(ContainSubstring(`"pix_info"`))

			var view payment.TransactionView
			Expect(json.Unmarshal(raw, &view)).To(Succeed())
			back, err := view.ToTransaction()
			Expect(err).NotTo(HaveOccurred())
			Expect(back.Amount.Equal(tx.Amount)).To(BeTrue())
			card, ok := back.Card()
			Expect(ok).To(BeTrue())
			Expect(card.Installments).To(Equal(2))
		})

		It("should reject views with zero or two info fields", func() {
			view := payment.TransactionView{ID: "X", Type: payment.TypeCash}
			_, err := view.ToTransaction()
			Expect(err).To(HaveOccurred())

			view.CashInfo = &payment.CashInfo{}
			view.PixInfo = &payment.PixInfo{}
			_, err = view.ToTransaction()
			Expect(err).To(HaveOccurred())
		})

		It("should reject info mismatching the type", func() {
			view := payment.TransactionView{ID: "X", Type: payment.TypeCash, PixInfo: &payment.PixInfo{}}
			_, err := view.ToTransaction()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ChangeFor", func() {
		DescribeTable("is never negative",
			func(amt, paid, change string) {
				got := payment.ChangeFor(decimal.RequireFromString(amt), decimal.RequireFromString(paid))
				Expect(got.Equal(decimal.RequireFromString(change))).To(BeTrue(), got.String())
			},
			Entry("exact", "50", "50", "0"),
			Entry("overpaid", "50", "100", "50"),
			Entry("cents", "19.90", "20", "0.10"),
			Entry("short", "50", "20", "0"),
		)
	})
})

var _ = Describe("InstallmentPolicy", func() {
	policy := payment.DefaultInstallmentPolicy()
	amt := decimal.RequireFromString("1000")

	It("should produce 12 options by default", func() {
		Expect(policy.Options(amt, 0)).To(HaveLen(12))
	})

	It("should cap the caller maximum at the policy maximum", func() {
		Expect(policy.Options(amt, 24)).To(HaveLen(12))
		Expect(policy.Options(amt, 3)).To(HaveLen(3))
	})

	It("should split evenly without interest up to six installments", func() {
		for _, o := range policy.Options(amt, 12)[:6] {
			Expect(o.HasInterest).To(BeFalse())
			Expect(o.Total.Equal(amt)).To(BeTrue())
			Expect(o.PerInstallment.Mul(decimal.NewFromInt(int64(o.Installments))).Round(2).Equal(amt)).To(BeTrue())
		}
	})

	It("should compound 1.99% a month after six installments", func() {
		options := policy.Options(amt, 12)

		seventh := options[6]
		Expect(seventh.HasInterest).To(BeTrue())
		Expect(seventh.Total.Round(2).String()).To(Equal("1019.9"))

		twelfth := options[11].Rounded()
		Expect(twelfth.Total.String()).To(Equal("1125.5"))

		previous := amt
		for _, o := range options[6:] {
			Expect(o.Total.GreaterThan(previous)).To(BeTrue())
			previous = o.Total
		}
	})

	It("should keep a short menu interest free", func() {
		for _, o := range policy.Options(amt, 4) {
			Expect(o.HasInterest).To(BeFalse())
		}
	})
})
