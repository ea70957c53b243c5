package payment

import (
	"context"
	"errors"
	"time"

	gw "github.com/frahmantamala/pos-payments/internal/core/datamodel/paymentgateway"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrVersionConflict is returned by Store.Save when the stored version moved on.
	ErrVersionConflict = errors.New("transaction version conflict")
)

// Store persists transactions. Save inserts or overwrites by ID and bumps
// Version when the stored version matches; FindByID returns nil, nil when
// the id is unknown.
type Store interface {
	Save(ctx context.Context, tx *Transaction) error
	FindByID(ctx context.Context, id string) (*Transaction, error)
}

// PendingPixLister is implemented by stores that can serve the expiry sweep.
type PendingPixLister interface {
	ListExpiredPix(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)
}

// Gateway is the acquirer the service talks to.
type Gateway interface {
	Name() string
	Call(ctx context.Context, op gw.Operation) error
	IssuePixCharge(ctx context.Context, req *gw.PixChargeRequest) (*gw.PixCharge, error)
	SettlePix(ctx context.Context, txID string) (*gw.Settlement, error)
	AuthorizeCard(ctx context.Context, req *gw.CardAuthorizationRequest) (*gw.CardAuthorization, error)
	AuthorizeVoucher(ctx context.Context, req *gw.VoucherAuthorizationRequest) (*gw.VoucherAuthorization, error)
}

// ServiceAPI is the transaction facade consumed by the PIX monitor, the checkout processor and the HTTP handlers.
type ServiceAPI interface {
	ProcessPixPayment(ctx context.Context, in PixPaymentInput) Response
	ProcessCardPayment(ctx context.Context, in CardPaymentInput) Response
	ProcessCashPayment(ctx context.Context, in CashPaymentInput) Response
	ProcessVoucherPayment(ctx context.Context, in VoucherPaymentInput) Response
	CheckTransactionStatus(ctx context.Context, id string) Response
	CancelTransaction(ctx context.Context, id, reason string) Response
	AbandonPixCharge(ctx context.Context, id, reason string) Response
	RefundTransaction(ctx context.Context, id, reason string) Response
	InstallmentOptions(q InstallmentQuery) ([]InstallmentOption, error)
}

// Recorder receives domain counters. Implemented by the metrics package.
type Recorder interface {
	TransactionRecorded(method, status string)
	PixPollIssued()
	PixMonitorStarted()
	PixMonitorStopped()
	CheckoutCompleted(method string)
}

type noopRecorder struct{}

func (noopRecorder) TransactionRecorded(string, string) {}
func (noopRecorder) PixPollIssued()                     {}
func (noopRecorder) PixMonitorStarted()                 {}
func (noopRecorder) PixMonitorStopped()                 {}
func (noopRecorder) CheckoutCompleted(string)           {}
