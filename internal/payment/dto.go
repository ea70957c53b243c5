package payment

import (
	"encoding/json"
	"fmt"
	"time"

	errors "github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/core/common/validation"
	"github.com/shopspring/decimal"
)

type PixPaymentInput struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Description string            `json:"description,omitempty"`
	ExpiresIn   int               `json:"expires_in,omitempty"` // seconds
	Customer    *Customer         `json:"customer,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MaxPixExpiresIn caps a PIX charge at one day, in seconds.
const MaxPixExpiresIn = 86400

func (in *PixPaymentInput) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", in.Amount).PositiveAmount()
	validator.Field("expires_in", in.ExpiresIn).
		MinInt(0, errors.ErrCodeValidationFailed).
		MaxInt(MaxPixExpiresIn, errors.ErrCodeValidationFailed)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CardPaymentInput struct {
	Amount       decimal.Decimal   `json:"amount"`
	Currency     string            `json:"currency,omitempty"`
	Type         Type              `json:"type"`
	Installments int               `json:"installments,omitempty"`
	CardNumber   string            `json:"card_number,omitempty"`
	Brand        string            `json:"brand,omitempty"`
	Customer     *Customer         `json:"customer,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (in *CardPaymentInput) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", in.Amount).PositiveAmount()
	validator.Field("type", string(in.Type)).Required().OneOf(string(TypeCredit), string(TypeDebit))
	validator.Field("installments", in.Installments).MinInt(0, errors.ErrCodeValidationFailed)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CashPaymentInput struct {
	Amount     decimal.Decimal   `json:"amount"`
	AmountPaid decimal.Decimal   `json:"amount_paid"`
	Currency   string            `json:"currency,omitempty"`
	Customer   *Customer         `json:"customer,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (in *CashPaymentInput) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", in.Amount).PositiveAmount()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type VoucherPaymentInput struct {
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency,omitempty"`
	Provider string            `json:"provider"`
	Code     string            `json:"code,omitempty"`
	Customer *Customer         `json:"customer,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (in *VoucherPaymentInput) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", in.Amount).PositiveAmount()
	validator.Field("provider", in.Provider).Required().MaxLength(40)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response is the uniform envelope of every service operation. Callers must
// check Success before trusting Transaction.
type Response struct {
	Success     bool
	Transaction *Transaction
	Error       *errors.AppError
}

func ok(tx *Transaction) Response {
	return Response{Success: true, Transaction: tx}
}

func fail(err *errors.AppError) Response {
	return Response{Success: false, Error: err}
}

func failWith(tx *Transaction, err *errors.AppError) Response {
	return Response{Success: false, Transaction: tx, Error: err}
}

type ResponseView struct {
	Success     bool             `json:"success"`
	Transaction *TransactionView `json:"transaction"`
	Error       *errors.AppError `json:"error,omitempty"`
}

func (r Response) View() ResponseView {
	return ResponseView{
		Success:     r.Success,
		Transaction: ToView(r.Transaction),
		Error:       r.Error,
	}
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}

// TransactionView is the wire shape: exactly one of the *_info fields is set.
type TransactionView struct {
	ID                string            `json:"id"`
	Type              Type              `json:"type"`
	Status            Status            `json:"status"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	PixInfo           *PixInfo          `json:"pix_info,omitempty"`
	CardInfo          *CardInfo         `json:"card_info,omitempty"`
	CashInfo          *CashInfo         `json:"cash_info,omitempty"`
	VoucherInfo       *VoucherInfo      `json:"voucher_info,omitempty"`
	ProcessorResponse ProcessorResponse `json:"processor_response"`
	Customer          *Customer         `json:"customer,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func ToView(tx *Transaction) *TransactionView {
	if tx == nil {
		return nil
	}
	c := tx.Clone()
	v := &TransactionView{
		ID:                c.ID,
		Type:              c.Type,
		Status:            c.Status,
		Amount:            c.Amount,
		Currency:          c.Currency,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
		CompletedAt:       c.CompletedAt,
		ProcessorResponse: c.ProcessorResponse,
		Customer:          c.Customer,
		Metadata:          c.Metadata,
	}
	switch m := c.Method.(type) {
	case *PixInfo:
		v.PixInfo = m
	case *CardInfo:
		v.CardInfo = m
	case *CashInfo:
		v.CashInfo = m
	case *VoucherInfo:
		v.VoucherInfo = m
	}
	return v
}

// ToTransaction rebuilds the domain transaction, rejecting views whose
// populated info does not match the type.
func (v *TransactionView) ToTransaction() (*Transaction, error) {
	var method MethodInfo
	populated := 0
	if v.PixInfo != nil {
		method = v.PixInfo
		populated++
	}
	if v.CardInfo != nil {
		method = v.CardInfo
		populated++
	}
	if v.CashInfo != nil {
		method = v.CashInfo
		populated++
	}
	if v.VoucherInfo != nil {
		method = v.VoucherInfo
		populated++
	}
	if populated != 1 {
		return nil, fmt.Errorf("transaction %s: expected exactly one method info, got %d", v.ID, populated)
	}
	if !method.accepts(v.Type) {
		return nil, fmt.Errorf("transaction %s: method info %T does not match type %q", v.ID, method, v.Type)
	}
	tx := &Transaction{
		ID:                v.ID,
		Type:              v.Type,
		Status:            v.Status,
		Amount:            v.Amount,
		Currency:          v.Currency,
		CreatedAt:         v.CreatedAt,
		UpdatedAt:         v.UpdatedAt,
		CompletedAt:       v.CompletedAt,
		Method:            method,
		ProcessorResponse: v.ProcessorResponse,
		Customer:          v.Customer,
		Metadata:          v.Metadata,
	}
	return tx.Clone(), nil
}
