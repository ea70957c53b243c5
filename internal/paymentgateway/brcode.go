package paymentgateway

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// BRCode holds the fields of a PIX "copia e cola" payload (EMV QR, merchant presented).
type BRCode struct {
	Key          string
	MerchantName string
	MerchantCity string
	Amount       decimal.Decimal
	Currency     string
	TxID         string
}

var currencyNumeric = map[string]string{
	"BRL": "986",
	"USD": "840",
	"EUR": "978",
}

// Payload renders the EMV string, CRC16 included.
func (b BRCode) Payload() string {
	var sb strings.Builder
	sb.WriteString(tlv("00", "01"))
	sb.WriteString(tlv("01", "12"))
	sb.WriteString(tlv("26", tlv("00", "br.gov.bcb.pix")+tlv("01", b.Key)))
	sb.WriteString(tlv("52", "0000"))

	currency, ok := currencyNumeric[strings.ToUpper(b.Currency)]
	if !ok {
		currency = currencyNumeric["BRL"]
	}
	sb.WriteString(tlv("53", currency))
	if b.Amount.IsPositive() {
		sb.WriteString(tlv("54", b.Amount.StringFixed(2)))
	}
	sb.WriteString(tlv("58", "BR"))
	sb.WriteString(tlv("59", truncate(strings.ToUpper(b.MerchantName), 25)))
	sb.WriteString(tlv("60", truncate(strings.ToUpper(b.MerchantCity), 15)))
	sb.WriteString(tlv("62", tlv("05", truncate(b.TxID, 25))))
	sb.WriteString("6304")

	payload := sb.String()
	return payload + fmt.Sprintf("%04X", CRC16(payload))
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CRC16 is CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF), as required by the BR Code checksum field.
func CRC16(data string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(data); i++ {
		crc ^= uint16(data[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
