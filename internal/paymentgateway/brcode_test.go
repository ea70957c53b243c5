package paymentgateway_test

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/pos-payments/internal/paymentgateway"
	"github.com/shopspring/decimal"
)

var _ = Describe("BRCode", func() {
	It("should compute CRC-16/CCITT-FALSE", func() {
		Expect(paymentgateway.CRC16("123456789")).To(BeEquivalentTo(0x29B1))
	})

	It("should render the EMV fields and close with its own checksum", func() {
		payload := paymentgateway.BRCode{
			Key:          "key-123",
			MerchantName: "Padaria do Bairro com Nome Longo",
			MerchantCity: "Sao Paulo",
			Amount:       decimal.RequireFromString("10"),
			Currency:     "BRL",
			TxID:         "TX1",
		}.Payload()

		Expect(payload).To(HavePrefix("000201010212"))
		Expect(payload).To(ContainSubstring("0014br.gov.bcb.pix0107key-123"))
		Expect(payload).To(ContainSubstring("5303986"))
		Expect(payload).To(ContainSubstring("540510.00"))
		Expect(payload).To(ContainSubstring("5802BR"))
		Expect(payload).To(ContainSubstring("5925PADARIA DO BAIRRO COM NOM"))
		Expect(payload).To(ContainSubstring("6009SAO PAULO"))
		Expect(payload).To(ContainSubstring("62070503TX1"))

		body, crc := payload[:len(payload)-4], payload[len(payload)-4:]
		Expect(body).To(HaveSuffix("6304"))
		Expect(crc).To(Equal(fmt.Sprintf("%04X", paymentgateway.CRC16(body))))
	})

	It("should omit the amount when it is zero and default the currency", func() {
		payload := paymentgateway.BRCode{Key: "k", Currency: "XXX", TxID: "T"}.Payload()

		Expect(strings.Contains(payload, "5303986")).To(BeTrue())
		Expect(payload).NotTo(MatchRegexp(`54\d\d\d+\.\d\d`))
	})
})

var _ = Describe("card helpers", func() {
	DescribeTable("ValidLuhn",
		func(number string, valid bool) {
			Expect(paymentgateway.ValidLuhn(number)).To(Equal(valid))
		},
		Entry("visa test card", "4111111111111111", true),
		Entry("mastercard test card", "5555555555554444", true),
		Entry("amex test card", "378282246310005", true),
		Entry("bad checksum", "4111111111111112", false),
		Entry("too short", "41111111", false),
		Entry("non digits", "4111a11111111111", false),
	)

	DescribeTable("DetectBrand",
		func(number, brand string) {
			Expect(paymentgateway.DetectBrand(number)).To(Equal(brand))
		},
		Entry("visa", "4111111111111111", paymentgateway.BrandVisa),
		Entry("elo inside a visa range", "4011781234567890", paymentgateway.BrandElo),
		Entry("elo", "5067001234567890", paymentgateway.BrandElo),
		Entry("mastercard", "5555555555554444", paymentgateway.BrandMastercard),
		Entry("mastercard 2-series", "2221000000000009", paymentgateway.BrandMastercard),
		Entry("amex", "378282246310005", paymentgateway.BrandAmex),
		Entry("hipercard", "6062825624254001", paymentgateway.BrandHipercard),
		Entry("unknown", "9999999999999999", ""),
	)
})
