package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypePix      Type = "pix"
	TypeCash     Type = "cash"
	TypeCredit   Type = "credit"
	TypeDebit    Type = "debit"
	TypeTransfer Type = "transfer"
	TypeVoucher  Type = "voucher"
	TypeOther    Type = "other"
)

func (t Type) IsCard() bool {
	return t == TypeCredit || t == TypeDebit
}

type Status string

const (
	StatusInitialized Status = "initialized"
	StatusProcessing  Status = "processing"
	StatusApproved    Status = "approved"
	StatusDenied      Status = "denied"
	StatusCancelled   Status = "cancelled"
	StatusRefunded    Status = "refunded"
	StatusPending     Status = "pending"
	StatusExpired     Status = "expired"
)

var transitions = map[Status][]Status{
	StatusInitialized: {StatusProcessing, StatusPending, StatusApproved, StatusDenied},
	StatusProcessing:  {StatusApproved, StatusDenied},
	StatusPending:     {StatusApproved, StatusDenied, StatusExpired, StatusCancelled},
	StatusApproved:    {StatusCancelled, StatusRefunded},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a resolved state. approved is terminal
// even though it can still be cancelled or refunded.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

type Customer struct {
	Name     string `json:"name,omitempty"`
	Document string `json:"document,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type ProcessorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Processor string `json:"processor"`
}

// MethodInfo is the method-specific payload of a transaction. Only the
// variants in this package implement it.
type MethodInfo interface {
	accepts(t Type) bool
}

type PixInfo struct {
	QRCodeData    string    `json:"qr_code_data"`
	ExpiresAt     time.Time `json:"expires_at"`
	Key           string    `json:"key"`
	TransactionID string    `json:"transaction_id"`
}

func (*PixInfo) accepts(t Type) bool { return t == TypePix }

type CardInfo struct {
	Brand             string `json:"brand"`
	LastDigits        string `json:"last_digits"`
	AuthorizationCode string `json:"authorization_code"`
	Installments      int    `json:"installments"`
	NSU               string `json:"nsu"`
	HostNSU           string `json:"host_nsu"`
}

func (*CardInfo) accepts(t Type) bool { return t.IsCard() }

type CashInfo struct {
	AmountPaid   decimal.Decimal `json:"amount_paid"`
	ChangeAmount decimal.Decimal `json:"change_amount"`
}

func (*CashInfo) accepts(t Type) bool { return t == TypeCash }

type VoucherInfo struct {
	Provider          string `json:"provider"`
	Code              string `json:"code"`
	AuthorizationCode string `json:"authorization_code"`
}

func (*VoucherInfo) accepts(t Type) bool { return t == TypeVoucher }

type Transaction struct {
	ID                string
	Type              Type
	Status            Status
	Amount            decimal.Decimal
	Currency          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	Method            MethodInfo
	ProcessorResponse ProcessorResponse
	Customer          *Customer
	Metadata          map[string]string

	// Version is the optimistic concurrency token checked by Store.Save.
	Version int64
}

// NewTransaction builds an initialized transaction. The method payload must match the type.
func NewTransaction(id string, t Type, amount decimal.Decimal, currency string, method MethodInfo, now time.Time) (*Transaction, error) {
	if method == nil || !method.accepts(t) {
		return nil, fmt.Errorf("method info %T does not match transaction type %q", method, t)
	}
	return &Transaction{
		ID:        id,
		Type:      t,
		Status:    StatusInitialized,
		Amount:    amount,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
		Method:    method,
		Metadata:  map[string]string{},
	}, nil
}

// TransitionTo moves the transaction to next, stamping UpdatedAt and, the
// first time a terminal state is entered, CompletedAt.
func (t *Transaction) TransitionTo(next Status, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now
	if next.IsTerminal() && t.CompletedAt == nil {
		completed := now
		t.CompletedAt = &completed
	}
	return nil
}

func (t *Transaction) SetMetadata(key, value string) {
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	t.Metadata[key] = value
}

func (t *Transaction) Pix() (*PixInfo, bool) {
	info, ok := t.Method.(*PixInfo)
	return info, ok
}

func (t *Transaction) Card() (*CardInfo, bool) {
	info, ok := t.Method.(*CardInfo)
	return info, ok
}

func (t *Transaction) Cash() (*CashInfo, bool) {
	info, ok := t.Method.(*CashInfo)
	return info, ok
}

func (t *Transaction) Voucher() (*VoucherInfo, bool) {
	info, ok := t.Method.(*VoucherInfo)
	return info, ok
}

// Clone returns a deep copy, so stores and callers never share mutable state.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	if t.Customer != nil {
		customer := *t.Customer
		c.Customer = &customer
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	switch m := t.Method.(type) {
	case *PixInfo:
		info := *m
		c.Method = &info
	case *CardInfo:
		info := *m
		c.Method = &info
	case *CashInfo:
		info := *m
		c.Method = &info
	case *VoucherInfo:
		info := *m
		c.Method = &info
	}
	return &c
}

// ChangeFor returns max(0, paid - amount).
func ChangeFor(amount, paid decimal.Decimal) decimal.Decimal {
	change := paid.Sub(amount)
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}
