package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/pos-payments/internal"
	gw "github.com/frahmantamala/pos-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/pos-payments/internal/core/events"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const (
	defaultCancellationReason = "cancelled by operator"
	defaultRefundReason       = "refunded by operator"
)

// ErrExpirySweepUnsupported is returned by ExpireStalePix when the store cannot list pending PIX charges.
var ErrExpirySweepUnsupported = errors.New("store does not support the pix expiry sweep")

// ServiceConfig holds the business switches of the service.
type ServiceConfig struct {
	Methods          internal.MethodsConfig
	Currency         string
	PixExpiresIn     time.Duration
	OperationTimeout time.Duration
	Installments     InstallmentPolicy
}

// DefaultServiceConfig enables every method with the stock PIX TTL and installment policy.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Methods: internal.MethodsConfig{
			PixEnabled:     true,
			CardEnabled:    true,
			CashEnabled:    true,
			VoucherEnabled: true,
		},
		Currency:         "BRL",
		PixExpiresIn:     1800 * time.Second,
		OperationTimeout: 10 * time.Second,
		Installments:     DefaultInstallmentPolicy(),
	}
}

func ServiceConfigFromConfig(cfg internal.PaymentConfig) ServiceConfig {
	return ServiceConfig{
		Methods:          cfg.Methods,
		Currency:         cfg.Currency,
		PixExpiresIn:     cfg.Pix.ExpiresIn,
		OperationTimeout: cfg.OperationTimeout,
		Installments:     InstallmentPolicyFromConfig(cfg.Card),
	}
}

type Service struct {
	store    Store
	gateway  Gateway
	cfg      ServiceConfig
	clock    clockwork.Clock
	bus      events.Publisher
	recorder Recorder
	logger   *slog.Logger
	locks    *keyedMutex
	ids      *idGenerator
}

type ServiceOption func(*Service)

func WithServiceClock(clock clockwork.Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

func WithEventPublisher(bus events.Publisher) ServiceOption {
	return func(s *Service) { s.bus = bus }
}

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

func NewService(store Store, gateway Gateway, cfg ServiceConfig, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		gateway:  gateway,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		recorder: noopRecorder{},
		logger:   logger,
		locks:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Currency == "" {
		s.cfg.Currency = "BRL"
	}
	if s.cfg.PixExpiresIn <= 0 {
		s.cfg.PixExpiresIn = 1800 * time.Second
	}
	if s.cfg.Installments.MaxInstallments == 0 {
		s.cfg.Installments = DefaultInstallmentPolicy()
	}
	s.ids = newIDGenerator(s.clock)
	return s
}

func (s *Service) ProcessPixPayment(ctx context.Context, in PixPaymentInput) Response {
	if !s.cfg.Methods.PixEnabled {
		return fail(internal.NewMethodDisabledError("PIX payments are disabled", internal.ErrCodePixDisabled))
	}
	if err := in.Validate(); err != nil {
		return fail(invalidInput(internal.ErrCodePixProcessing, "Invalid PIX payment", err))
	}

	ctx, cancel := internal.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	ttl := s.cfg.PixExpiresIn
	if in.ExpiresIn > 0 {
		ttl = time.Duration(in.ExpiresIn) * time.Second
	}
	currency := s.currency(in.Currency)
	id := s.ids.Next("PIX")

	charge, err := s.gateway.IssuePixCharge(ctx, &gw.PixChargeRequest{
		TransactionID: id,
		Amount:        in.Amount,
		Currency:      currency,
		Description:   in.Description,
		ExpiresAt:     s.clock.Now().Add(ttl),
	})
	if err != nil {
		s.logger.Error("ProcessPixPayment: gateway call failed", "transaction_id", id, "error", err)
		return fail(gatewayError(err, internal.ErrCodePixProcessing, "Failed to create PIX charge"))
	}

	now := s.clock.Now()
	info := &PixInfo{
		QRCodeData:    charge.QRCodeData,
		ExpiresAt:     now.Add(ttl),
		Key:           charge.Key,
		TransactionID: charge.TxID,
	}
	tx, err := s.newTransaction(id, TypePix, in.Amount, currency, info, in.Customer, in.Metadata, now)
	if err != nil {
		return fail(internal.NewProcessingError("Failed to create PIX transaction", internal.ErrCodePixProcessing).WithCause(err))
	}
	tx.ProcessorResponse = processorResponse(charge.Response)
	if in.Description != "" {
		tx.SetMetadata("description", in.Description)
	}
	if err := tx.TransitionTo(StatusPending, now); err != nil {
		return fail(internal.NewProcessingError("Failed to create PIX transaction", internal.ErrCodePixProcessing).WithCause(err))
	}

	s.logger.Info("pix charge created", "transaction_id", tx.ID, "amount", tx.Amount.String(), "expires_at", info.ExpiresAt)
	return s.persist(ctx, tx, internal.ErrCodePixProcessing)
}

func (s *Service) ProcessCardPayment(ctx context.Context, in CardPaymentInput) Response {
	if !s.cfg.Methods.CardEnabled {
		return fail(internal.NewMethodDisabledError("Card payments are disabled", internal.ErrCodeCardDisabled))
	}
	if err := in.Validate(); err != nil {
		return fail(invalidInput(internal.ErrCodeCardProcessing, "Invalid card payment", err))
	}

	installments := in.Installments
	switch {
	case in.Type == TypeDebit:
		installments = 1
	case installments == 0:
		installments = 1
	case installments > s.cfg.Installments.MaxInstallments:
		return fail(internal.NewProcessingError(
			fmt.Sprintf("Installments must be between 1 and %d", s.cfg.Installments.MaxInstallments),
			internal.ErrCodeCardProcessing))
	}

	ctx, cancel := internal.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	currency := s.currency(in.Currency)
	id := s.ids.Next("CARD")

	auth, err := s.gateway.AuthorizeCard(ctx, &gw.CardAuthorizationRequest{
		TransactionID: id,
		CardType:      string(in.Type),
		Amount:        in.Amount,
		Currency:      currency,
		Installments:  installments,
		CardNumber:    in.CardNumber,
		Brand:         in.Brand,
	})
	if err != nil {
		if errors.Is(err, gw.ErrInvalidCardNumber) {
			return fail(internal.NewProcessingError("Invalid card number", internal.ErrCodeCardProcessing).WithCause(err))
		}
		s.logger.Error("ProcessCardPayment: gateway call failed", "transaction_id", id, "error", err)
		return fail(gatewayError(err, internal.ErrCodeCardProcessing, "Failed to authorize card payment"))
	}

	now := s.clock.Now()
	info := &CardInfo{
		Brand:             auth.Brand,
		LastDigits:        auth.LastDigits,
		AuthorizationCode: auth.AuthorizationCode,
		Installments:      installments,
		NSU:               auth.NSU,
		HostNSU:           auth.HostNSU,
	}
	tx, err := s.newTransaction(id, in.Type, in.Amount, currency, info, in.Customer, in.Metadata, now)
	if err != nil {
		return fail(internal.NewProcessingError("Failed to create card transaction", internal.ErrCodeCardProcessing).WithCause(err))
	}
	tx.ProcessorResponse = processorResponse(auth.Response)

	policy := s.cfg.Installments
	if installments > policy.InterestFree {
		quote := policy.Quote(in.Amount, installments, policy.MaxInstallments)
		tx.SetMetadata("installment_interest_rate", policy.MonthlyRate.String())
		tx.SetMetadata("installment_total", quote.Total.StringFixed(2))
	}

	if !auth.Approved {
		if err := tx.TransitionTo(StatusDenied, now); err != nil {
			return fail(internal.NewProcessingError("Failed to record card decline", internal.ErrCodeCardProcessing).WithCause(err))
		}
		resp := s.persist(ctx, tx, internal.ErrCodeCardProcessing)
		if !resp.Success {
			return resp
		}
		s.logger.Info("card payment declined", "transaction_id", tx.ID, "code", auth.Response.Code)
		return failWith(resp.Transaction, internal.NewProcessingError(auth.Response.Message, internal.ErrCodeCardDeclined))
	}

	if err := tx.TransitionTo(StatusApproved, now); err != nil {
		return fail(internal.NewProcessingError("Failed to approve card payment", internal.ErrCodeCardProcessing).WithCause(err))
	}
	s.logger.Info("card payment approved", "transaction_id", tx.ID, "brand", info.Brand, "installments", installments)
	return s.persist(ctx, tx, internal.ErrCodeCardProcessing)
}

// ProcessCashPayment accepts any amount paid. Rejecting short payments is the caller's job.
func (s *Service) ProcessCashPayment(ctx context.Context, in CashPaymentInput) Response {
	if !s.cfg.Methods.CashEnabled {
		return fail(internal.NewMethodDisabledError("Cash payments are disabled", internal.ErrCodeCashDisabled))
	}
	if err := in.Validate(); err != nil {
		return fail(invalidInput(internal.ErrCodeCashProcessing, "Invalid cash payment", err))
	}

	ctx, cancel := internal.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	id := s.ids.Next("CASH")
	if err := s.gateway.Call(ctx, gw.OperationCashRegister); err != nil {
		s.logger.Error("ProcessCashPayment: register call failed", "transaction_id", id, "error", err)
		return fail(gatewayError(err, internal.ErrCodeCashProcessing, "Failed to register cash payment"))
	}

	now := s.clock.Now()
	info := &CashInfo{
		AmountPaid:   in.AmountPaid,
		ChangeAmount: ChangeFor(in.Amount, in.AmountPaid),
	}
	tx, err := s.newTransaction(id, TypeCash, in.Amount, s.currency(in.Currency), info, in.Customer, in.Metadata, now)
	if err != nil {
		return fail(internal.NewProcessingError("Failed to create cash transaction", internal.ErrCodeCashProcessing).WithCause(err))
	}
	tx.ProcessorResponse = ProcessorResponse{Code: "00", Message: "Cash received", Processor: "cash-register"}
	if err := tx.TransitionTo(StatusApproved, now); err != nil {
		return fail(internal.NewProcessingError("Failed to approve cash payment", internal.ErrCodeCashProcessing).WithCause(err))
	}

	s.logger.Info("cash payment approved", "transaction_id", tx.ID, "change", info.ChangeAmount.String())
	return s.persist(ctx, tx, internal.ErrCodeCashProcessing)
}

func (s *Service) ProcessVoucherPayment(ctx context.Context, in VoucherPaymentInput) Response {
	if !s.cfg.Methods.VoucherEnabled {
		return fail(internal.NewMethodDisabledError("Voucher payments are disabled", internal.ErrCodeVoucherDisabled))
	}
	if err := in.Validate(); err != nil {
		return fail(invalidInput(internal.ErrCodeVoucherProcessing, "Invalid voucher payment", err))
	}

	ctx, cancel := internal.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	id := s.ids.Next("VOUCHER")
	auth, err := s.gateway.AuthorizeVoucher(ctx, &gw.VoucherAuthorizationRequest{
		TransactionID: id,
		Provider:      in.Provider,
		Code:          in.Code,
		Amount:        in.Amount,
	})
	if err != nil {
		s.logger.Error("ProcessVoucherPayment: gateway call failed", "transaction_id", id, "error", err)
		return fail(gatewayError(err, internal.ErrCodeVoucherProcessing, "Failed to authorize voucher"))
	}

	now := s.clock.Now()
	info := &VoucherInfo{
		Provider:          in.Provider,
		Code:              in.Code,
		AuthorizationCode: auth.AuthorizationCode,
	}
	tx, err := s.newTransaction(id, TypeVoucher, in.Amount, s.currency(in.Currency), info, in.Customer, in.Metadata, now)
	if err != nil {
		return fail(internal.NewProcessingError("Failed to create voucher transaction", internal.ErrCodeVoucherProcessing).WithCause(err))
	}
	tx.ProcessorResponse = processorResponse(auth.Response)

	next := StatusApproved
	if !auth.Approved {
		next = StatusDenied
	}
	if err := tx.TransitionTo(next, now); err != nil {
		return fail(internal.NewProcessingError("Failed to record voucher payment", internal.ErrCodeVoucherProcessing).WithCause(err))
	}
	resp := s.persist(ctx, tx, internal.ErrCodeVoucherProcessing)
	if resp.Success && !auth.Approved {
		return failWith(resp.Transaction, internal.NewProcessingError(auth.Response.Message, internal.ErrCodeVoucherProcessing))
	}
	return resp
}

// CheckTransactionStatus never changes a transaction that is not a pending PIX
// charge inside its validity window.
func (s *Service) CheckTransactionStatus(ctx context.Context, id string) Response {
	unlock := s.locks.Lock(id)
	defer unlock()

	ctx, cancel := internal.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	tx, appErr := s.load(ctx, id)
	if appErr != nil {
		return fail(appErr)
	}

	pix, isPix := tx.Pix()
	if !isPix || tx.Status != StatusPending || !s.clock.Now().Before(pix.ExpiresAt) {
		return ok(tx)
	}

	settlement, err := s.gateway.SettlePix(ctx, pix.TransactionID)
	if err != nil {
		s.logger.Warn("CheckTransactionStatus: settlement query failed", "transaction_id", id, "error", err)
		return failWith(tx, gatewayError(err, internal.ErrCodePixProcessing, "Failed to query PIX settlement"))
	}
	if !settlement.Settled {
		return ok(tx)
	}

	tx.ProcessorResponse = processorResponse(settlement.Response)
	if err := tx.TransitionTo(StatusApproved, s.clock.Now()); err != nil {
		return failWith(tx, internal.ErrInvalidStateTransition.Clone().WithCause(err))
	}
	s.logger.Info("pix payment settled", "transaction_id", id)
	return s.persist(ctx, tx, internal.ErrCodePixProcessing)
}

// CancelTransaction is legal from pending and approved only. A blank reason is replaced with a default one.
func (s *Service) CancelTransaction(ctx context.Context, id, reason string) Response {
	if reason == "" {
		reason = defaultCancellationReason
	}
	return s.closeTransaction(ctx, id, "", StatusCancelled, gw.OperationCancel, "cancellation_reason", reason, "cancelled_by")
}

// AbandonPixCharge cancels a PIX charge only while it is still pending. A
// charge that settled in the meantime comes back unchanged as approved so the
// caller can honour the payment.
func (s *Service) AbandonPixCharge(ctx context.Context, id, reason string) Response {
	if reason == "" {
		reason = defaultCancellationReason
	}
	return s.closeTransaction(ctx, id, StatusPending, StatusCancelled, gw.OperationCancel, "cancellation_reason", reason, "cancelled_by")
}

func (s *Service) RefundTransaction(ctx context.Context, id, reason string) Response {
	if reason == "" {
		reason = defaultRefundReason
	}
	return s.closeTransaction(ctx, id, "", StatusRefunded, gw.OperationRefund, "refund_reason", reason, "refunded_by")
}

// closeTransaction moves id to next. A non-empty onlyFrom leaves any
// transaction in another status untouched and reports it as it is.
func (s *Service) closeTransaction(ctx context.Context, id string, onlyFrom, next Status, op gw.Operation, reasonKey, reason, operatorKey string) Response {
	unlock := s.locks.Lock(id)
	defer unlock()

	ctx, cancel := internal.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	tx, appErr := s.load(ctx, id)
	if appErr != nil {
		return fail(appErr)
	}
	if onlyFrom != "" && tx.Status != onlyFrom {
		return ok(tx)
	}
	if !tx.Status.CanTransitionTo(next) {
		return failWith(tx, internal.ErrInvalidStateTransition.Clone().WithDetails(map[string]string{
			"from": string(tx.Status),
			"to":   string(next),
		}))
	}

	if err := s.gateway.Call(ctx, op); err != nil {
		s.logger.Error("closeTransaction: gateway call failed", "transaction_id", id, "operation", op, "error", err)
		return failWith(tx, gatewayError(err, processingCode(tx.Type), "Failed to reach the payment gateway"))
	}

	if err := tx.TransitionTo(next, s.clock.Now()); err != nil {
		return failWith(tx, internal.ErrInvalidStateTransition.Clone().WithCause(err))
	}
	tx.SetMetadata(reasonKey, reason)
	if operatorID := internal.OperatorIDFromContext(ctx); operatorID != "" {
		tx.SetMetadata(operatorKey, operatorID)
	}

	s.logger.Info("transaction closed", "transaction_id", id, "status", next, "reason", reason)
	return s.persist(ctx, tx, processingCode(tx.Type))
}

// ExpireStalePix marks pending PIX charges whose deadline passed as expired and
// returns how many were moved.
func (s *Service) ExpireStalePix(ctx context.Context, limit int) (int, error) {
	lister, ok := s.store.(PendingPixLister)
	if !ok {
		return 0, ErrExpirySweepUnsupported
	}

	candidates, err := lister.ListExpiredPix(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired pix: %w", err)
	}

	expired := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		moved, err := s.expire(ctx, candidate.ID)
		if err != nil {
			s.logger.Error("ExpireStalePix: failed to expire transaction", "transaction_id", candidate.ID, "error", err)
			continue
		}
		if moved {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expire(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if tx == nil || tx.Status != StatusPending {
		return false, nil
	}
	pix, isPix := tx.Pix()
	now := s.clock.Now()
	if !isPix || now.Before(pix.ExpiresAt) {
		return false, nil
	}
	if err := tx.TransitionTo(StatusExpired, now); err != nil {
		return false, err
	}
	if err := s.store.Save(ctx, tx); err != nil {
		return false, err
	}
	s.recordTransition(ctx, tx)
	return true, nil
}

func (s *Service) InstallmentOptions(q InstallmentQuery) ([]InstallmentOption, error) {
	if !q.Amount.IsPositive() {
		return nil, internal.NewProcessingError("Amount must be greater than zero", internal.ErrCodeInvalidAmount)
	}
	return s.cfg.Installments.Options(q.Amount, q.MaxInstallments), nil
}

func (s *Service) newTransaction(id string, t Type, amount decimal.Decimal, currency string, info MethodInfo, customer *Customer, metadata map[string]string, now time.Time) (*Transaction, error) {
	tx, err := NewTransaction(id, t, amount, currency, info, now)
	if err != nil {
		return nil, err
	}
	tx.Customer = customer
	for k, v := range metadata {
		tx.SetMetadata(k, v)
	}
	return tx, nil
}

func (s *Service) load(ctx context.Context, id string) (*Transaction, *internal.AppError) {
	tx, err := s.store.FindByID(ctx, id)
	if err != nil {
		s.logger.Error("failed to load transaction", "transaction_id", id, "error", err)
		return nil, internal.NewInternalError("Failed to load transaction", err)
	}
	if tx == nil {
		return nil, internal.ErrTransactionNotFound.Clone()
	}
	return tx, nil
}

func (s *Service) persist(ctx context.Context, tx *Transaction, code internal.ErrorCode) Response {
	if err := s.store.Save(ctx, tx); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Warn("transaction modified concurrently", "transaction_id", tx.ID)
			return fail(internal.ErrTransactionConflict.Clone().WithCause(err))
		}
		s.logger.Error("failed to save transaction", "transaction_id", tx.ID, "error", err)
		return fail(internal.NewProcessingError("Failed to save transaction", code).WithCause(err))
	}
	s.recordTransition(ctx, tx)
	return ok(tx)
}

func (s *Service) recordTransition(ctx context.Context, tx *Transaction) {
	s.recorder.TransactionRecorded(string(tx.Type), string(tx.Status))
	if s.bus == nil {
		return
	}
	event := events.NewTransactionEvent(tx.ID, string(tx.Type), string(tx.Status), tx.Amount.StringFixed(2),
		tx.Currency, internal.OperatorIDFromContext(ctx), tx.UpdatedAt)
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish transaction event", "transaction_id", tx.ID, "error", err)
	}
}

func (s *Service) currency(requested string) string {
	if requested != "" {
		return requested
	}
	return s.cfg.Currency
}

func processorResponse(r gw.Response) ProcessorResponse {
	return ProcessorResponse{Code: r.Code, Message: r.Message, Processor: r.Processor}
}

func processingCode(t Type) internal.ErrorCode {
	switch t {
	case TypePix:
		return internal.ErrCodePixProcessing
	case TypeCash:
		return internal.ErrCodeCashProcessing
	case TypeVoucher:
		return internal.ErrCodeVoucherProcessing
	default:
		return internal.ErrCodeCardProcessing
	}
}

func invalidInput(code internal.ErrorCode, message string, err error) *internal.AppError {
	appErr := internal.NewProcessingError(message, code).WithCause(err)
	if v, ok := internal.IsAppError(err); ok {
		appErr.Details = v.Details
	}
	return appErr
}

func gatewayError(err error, code internal.ErrorCode, message string) *internal.AppError {
	if errors.Is(err, gw.ErrCommunication) || errors.Is(err, context.DeadlineExceeded) {
		return internal.ErrAPICommunication.Clone().WithCause(err)
	}
	return internal.NewProcessingError(message, code).WithCause(err)
}

var _ ServiceAPI = (*Service)(nil)
