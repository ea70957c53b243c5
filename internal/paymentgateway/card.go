package paymentgateway

import (
	"strings"

	gw "github.com/frahmantamala/pos-payments/internal/core/datamodel/paymentgateway"
)

const (
	BrandVisa       = "Visa"
	BrandMastercard = "Mastercard"
	BrandElo        = "Elo"
	BrandAmex       = "Amex"
	BrandHipercard  = "Hipercard"
)

var ErrInvalidCardNumber = gw.ErrInvalidCardNumber

var eloPrefixes = []string{"401178", "401179", "431274", "438935", "451416", "457393", "504175", "506699", "5067", "509", "627780", "636297", "636368"}

// DetectBrand guesses the card brand from its BIN. Returns "" when unknown.
func DetectBrand(number string) string {
	for _, p := range eloPrefixes {
		if strings.HasPrefix(number, p) {
			return BrandElo
		}
	}
	switch {
	case strings.HasPrefix(number, "606282") || strings.HasPrefix(number, "3841"):
		return BrandHipercard
	case strings.HasPrefix(number, "34") || strings.HasPrefix(number, "37"):
		return BrandAmex
	case strings.HasPrefix(number, "4"):
		return BrandVisa
	case len(number) >= 2 && number[0] == '5' && number[1] >= '1' && number[1] <= '5':
		return BrandMastercard
	case len(number) >= 4 && number[:4] >= "2221" && number[:4] <= "2720":
		return BrandMastercard
	}
	return ""
}

// ValidLuhn checks the card number checksum.
func ValidLuhn(number string) bool {
	if len(number) < 12 || len(number) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
