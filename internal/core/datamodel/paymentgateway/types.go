package paymentgateway

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrCommunication is returned when the acquirer cannot be reached.
	ErrCommunication = errors.New("payment gateway unreachable")
	// ErrInvalidCardNumber is returned before any round trip when the PAN fails the Luhn check.
	ErrInvalidCardNumber = errors.New("invalid card number")
)

type Operation string

const (
	OperationPixCharge        Operation = "pix_charge"
	OperationPixSettlement    Operation = "pix_settlement"
	OperationCardAuthorize    Operation = "card_authorize"
	OperationVoucherAuthorize Operation = "voucher_authorize"
	OperationCashRegister     Operation = "cash_register"
	OperationCancel           Operation = "cancel"
	OperationRefund           Operation = "refund"
)

// Local reports whether the operation stays on the terminal and never reaches
// the acquirer, so it cannot fail on the wire.
func (o Operation) Local() bool {
	return o == OperationCashRegister
}

// Response echoes what the acquirer answered. Informational only.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Processor string `json:"processor"`
}

type PixChargeRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

func (r *PixChargeRequest) Validate() error {
	if r.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if !r.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}

type PixCharge struct {
	Key        string   `json:"key"`
	QRCodeData string   `json:"qr_code_data"`
	TxID       string   `json:"txid"`
	Response   Response `json:"response"`
}

type Settlement struct {
	Settled  bool     `json:"settled"`
	Response Response `json:"response"`
}

type CardAuthorizationRequest struct {
	TransactionID string          `json:"transaction_id"`
	CardType      string          `json:"card_type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Installments  int             `json:"installments"`
	CardNumber    string          `json:"-"`
	Brand         string          `json:"brand,omitempty"`
}

func (r *CardAuthorizationRequest) Validate() error {
	if r.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if !r.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if r.Installments < 1 {
		return errors.New("installments must be at least 1")
	}
	return nil
}

// SanitizedCardNumber strips spaces and dashes typed by the operator.
func (r *CardAuthorizationRequest) SanitizedCardNumber() string {
	return strings.NewReplacer(" ", "", "-", "").Replace(r.CardNumber)
}

type CardAuthorization struct {
	Approved          bool     `json:"approved"`
	Brand             string   `json:"brand"`
	LastDigits        string   `json:"last_digits"`
	AuthorizationCode string   `json:"authorization_code"`
	NSU               string   `json:"nsu"`
	HostNSU           string   `json:"host_nsu"`
	Response          Response `json:"response"`
}

type VoucherAuthorizationRequest struct {
	TransactionID string          `json:"transaction_id"`
	Provider      string          `json:"provider"`
	Code          string          `json:"code"`
	Amount        decimal.Decimal `json:"amount"`
}

func (r *VoucherAuthorizationRequest) Validate() error {
	if r.TransactionID == "" {
		return errors.New("transaction_id is required")
	}
	if r.Provider == "" {
		return errors.New("provider is required")
	}
	if !r.Amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	return nil
}

type VoucherAuthorization struct {
	Approved          bool     `json:"approved"`
	AuthorizationCode string   `json:"authorization_code"`
	Response          Response `json:"response"`
}
