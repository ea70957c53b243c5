package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/core/common/validation"
	"github.com/frahmantamala/pos-payments/internal/core/events"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

type CheckoutStage string

const (
	StageMethodSelection CheckoutStage = "method-selection"
	StageProcessing      CheckoutStage = "payment-processing"
	StageComplete        CheckoutStage = "payment-complete"
)

const backCancellationReason = "checkout returned to method selection"

var selectableMethods = []string{string(TypePix), string(TypeCredit), string(TypeDebit), string(TypeCash), string(TypeVoucher)}

type CheckoutInput struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	Customer    *Customer         `json:"customer,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (in *CheckoutInput) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", in.Amount).PositiveAmount()
	validator.Field("reference", in.Reference).MaxLength(100)
	validator.Field("callback_url", in.CallbackURL).MaxLength(2048).Custom(validCallbackURL)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func validCallbackURL(value interface{}) *internal.AppError {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return internal.NewValidationFieldError("callback_url", "callback_url must be an absolute http(s) URL", internal.ErrCodeValidationFailed)
	}
	return nil
}

type SelectMethodInput struct {
	Method Type `json:"method"`
}

type PixCheckoutInput struct {
	ExpiresIn   int    `json:"expires_in,omitempty"`
	Description string `json:"description,omitempty"`
}

type CardCheckoutInput struct {
	Installments int    `json:"installments,omitempty"`
	CardNumber   string `json:"card_number,omitempty"`
	Brand        string `json:"brand,omitempty"`
}

type CashCheckoutInput struct {
	AmountPaid decimal.Decimal `json:"amount_paid"`
}

type VoucherCheckoutInput struct {
	Provider string `json:"provider"`
	Code     string `json:"code,omitempty"`
}

// Checkout is one run of the method-selection, processing, completion flow.
type Checkout struct {
	ID                   string
	Stage                CheckoutStage
	Amount               decimal.Decimal
	Currency             string
	Customer             *Customer
	Reference            string
	CallbackURL          string
	Metadata             map[string]string
	Method               Type
	PendingTransactionID string
	Transaction          *Transaction
	LastError            *internal.AppError
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (c *Checkout) clone() *Checkout {
	cp := *c
	if c.Customer != nil {
		customer := *c.Customer
		cp.Customer = &customer
	}
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Transaction = c.Transaction.Clone()
	return &cp
}

type CheckoutView struct {
	ID                   string             `json:"id"`
	Stage                CheckoutStage      `json:"stage"`
	Amount               decimal.Decimal    `json:"amount"`
	Currency             string             `json:"currency"`
	Customer             *Customer          `json:"customer,omitempty"`
	Reference            string             `json:"reference,omitempty"`
	CallbackURL          string             `json:"callback_url,omitempty"`
	Metadata             map[string]string  `json:"metadata,omitempty"`
	Method               Type               `json:"method,omitempty"`
	PendingTransactionID string             `json:"pending_transaction_id,omitempty"`
	Transaction          *TransactionView   `json:"transaction,omitempty"`
	LastError            *internal.AppError `json:"last_error,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

func (c *Checkout) View() CheckoutView {
	return CheckoutView{
		ID:                   c.ID,
		Stage:                c.Stage,
		Amount:               c.Amount,
		Currency:             c.Currency,
		Customer:             c.Customer,
		Reference:            c.Reference,
		CallbackURL:          c.CallbackURL,
		Metadata:             c.Metadata,
		Method:               c.Method,
		PendingTransactionID: c.PendingTransactionID,
		Transaction:          ToView(c.Transaction),
		LastError:            c.LastError,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func (c *Checkout) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.View())
}

type CompletionFunc func(ctx context.Context, checkout *Checkout)

type ErrorFunc func(ctx context.Context, checkout *Checkout, err *internal.AppError)

type session struct {
	mu        sync.Mutex
	checkout  *Checkout
	monitor   *PixMonitor
	completed bool
}

// Processor orchestrates checkouts on top of the payment service. The
// completion callback is the integration point for the host application.
type Processor struct {
	service     ServiceAPI
	clock       clockwork.Clock
	logger      *slog.Logger
	bus         events.Publisher
	recorder    Recorder
	monitorOpts []PixMonitorOption
	onComplete  CompletionFunc
	onError     ErrorFunc

	completedRetention time.Duration
	idleRetention      time.Duration
	sweepInterval      time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
}

type ProcessorOption func(*Processor)

func WithProcessorClock(clock clockwork.Clock) ProcessorOption {
	return func(p *Processor) { p.clock = clock }
}

func WithProcessorPublisher(bus events.Publisher) ProcessorOption {
	return func(p *Processor) { p.bus = bus }
}

func WithProcessorRecorder(r Recorder) ProcessorOption {
	return func(p *Processor) { p.recorder = r }
}

// WithMonitorOptions configures every PIX monitor the processor starts.
func WithMonitorOptions(opts ...PixMonitorOption) ProcessorOption {
	return func(p *Processor) { p.monitorOpts = append(p.monitorOpts, opts...) }
}

func WithCompletionCallback(fn CompletionFunc) ProcessorOption {
	return func(p *Processor) { p.onComplete = fn }
}

func WithErrorCallback(fn ErrorFunc) ProcessorOption {
	return func(p *Processor) { p.onError = fn }
}

// WithSessionRetention drops completed checkouts after completed and any other
// checkout left untouched for idle. A positive interval runs the sweep in the
// background until Shutdown; zero values disable the matching rule.
func WithSessionRetention(completed, idle, interval time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.completedRetention = completed
		p.idleRetention = idle
		p.sweepInterval = interval
	}
}

func NewProcessor(service ServiceAPI, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		service:  service,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		recorder: noopRecorder{},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sweepInterval > 0 && (p.completedRetention > 0 || p.idleRetention > 0) {
		go p.evictLoop(p.clock.NewTicker(p.sweepInterval))
	}
	return p
}

// Start opens a checkout in the method-selection stage.
func (p *Processor) Start(ctx context.Context, in CheckoutInput) (*Checkout, *internal.AppError) {
	if err := in.Validate(); err != nil {
		appErr, _ := internal.IsAppError(err)
		return nil, appErr
	}

	now := p.clock.Now()
	checkout := &Checkout{
		ID:          uuid.New().String(),
		Stage:       StageMethodSelection,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Customer:    in.Customer,
		Reference:   in.Reference,
		CallbackURL: in.CallbackURL,
		Metadata:    in.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	p.mu.Lock()
	p.sessions[checkout.ID] = &session{checkout: checkout}
	p.mu.Unlock()

	p.logger.Info("checkout started", "checkout_id", checkout.ID, "amount", in.Amount.String(), "reference", in.Reference)
	return checkout.clone(), nil
}

func (p *Processor) Get(ctx context.Context, id string) (*Checkout, *internal.AppError) {
	s, appErr := p.session(id)
	if appErr != nil {
		return nil, appErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkout.clone(), nil
}

func (p *Processor) SelectMethod(ctx context.Context, id string, in SelectMethodInput) (*Checkout, *internal.AppError) {
	validator := validation.NewValidator()
	validator.Field("method", string(in.Method)).Required().OneOf(selectableMethods...)
	if appErr := validator.Validate(); appErr != nil {
		return nil, appErr
	}

	s, appErr := p.session(id)
	if appErr != nil {
		return nil, appErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.checkout.Stage != StageMethodSelection {
		return nil, stageError(s.checkout.Stage, StageMethodSelection)
	}
	s.checkout.Method = in.Method
	s.checkout.Stage = StageProcessing
	s.checkout.LastError = nil
	s.checkout.UpdatedAt = p.clock.Now()

	p.logger.Info("checkout method selected", "checkout_id", id, "method", in.Method)
	return s.checkout.clone(), nil
}

// Back returns to method selection. A running PIX monitor is stopped and its
// charge cancelled so it cannot be paid on top of another method. A charge
// that settled in the meantime completes the checkout instead.
func (p *Processor) Back(ctx context.Context, id string) (*Checkout, *internal.AppError) {
	s, appErr := p.session(id)
	if appErr != nil {
		return nil, appErr
	}

	s.mu.Lock()
	if s.checkout.Stage != StageProcessing {
		s.mu.Unlock()
		return nil, stageError(s.checkout.Stage, StageProcessing)
	}
	monitor := s.monitor
	s.monitor = nil
	pendingID := s.checkout.PendingTransactionID
	s.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}

	if pendingID != "" {
		resp := p.service.AbandonPixCharge(ctx, pendingID, backCancellationReason)
		switch {
		case !resp.Success:
			p.logger.Error("failed to cancel pix charge on back", "checkout_id", id, "transaction_id", pendingID, "error", resp.Error)
			s.mu.Lock()
			if resp.Transaction != nil && resp.Transaction.Status == StatusPending && s.checkout.PendingTransactionID == pendingID {
				s.monitor = p.newMonitor(s)
				s.monitor.watchExisting(p.ctx, resp.Transaction)
			}
			p.failLocked(ctx, s, resp.Error)
			s.mu.Unlock()
			return nil, resp.Error
		case resp.Transaction.Status == StatusApproved:
			p.logger.Warn("pix charge settled before back", "checkout_id", id, "transaction_id", pendingID)
			p.complete(ctx, s, resp.Transaction)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout.Stage != StageProcessing || s.checkout.PendingTransactionID != pendingID {
		return nil, stageError(s.checkout.Stage, StageProcessing)
	}
	s.checkout.Stage = StageMethodSelection
	s.checkout.Method = ""
	s.checkout.PendingTransactionID = ""
	s.checkout.UpdatedAt = p.clock.Now()

	p.logger.Info("checkout returned to method selection", "checkout_id", id, "cancelled_transaction_id", pendingID)
	return s.checkout.clone(), nil
}

// newMonitor must be called with s.mu held.
func (p *Processor) newMonitor(s *session) *PixMonitor {
	opts := append([]PixMonitorOption{
		WithMonitorClock(p.clock),
		WithMonitorRecorder(p.recorder),
	}, p.monitorOpts...)
	opts = append(opts, OnPixSuccess(func(tx *Transaction) {
		p.complete(p.ctx, s, tx)
	}))
	return NewPixMonitor(p.service, p.logger, opts...)
}

// PayWithPix creates the charge and starts the confirmation monitor. The
// checkout completes from the monitor once the charge settles.
func (p *Processor) PayWithPix(ctx context.Context, id string, in PixCheckoutInput) Response {
	s, appErr := p.session(id)
	if appErr != nil {
		return fail(appErr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if appErr := p.requireMethod(s.checkout, TypePix); appErr != nil {
		return fail(appErr)
	}
	if s.checkout.PendingTransactionID != "" {
		return fail(internal.ErrInvalidCheckoutStage.Clone().WithDetails(map[string]string{
			"pending_transaction_id": s.checkout.PendingTransactionID,
		}))
	}

	monitor := p.newMonitor(s)
	resp := monitor.Start(p.ctx, PixPaymentInput{
		Amount:      s.checkout.Amount,
		Currency:    s.checkout.Currency,
		Description: in.Description,
		ExpiresIn:   in.ExpiresIn,
		Customer:    s.checkout.Customer,
		Metadata:    p.transactionMetadata(s.checkout),
	})
	if !resp.Success {
		p.failLocked(ctx, s, resp.Error)
		return resp
	}

	s.monitor = monitor
	s.checkout.PendingTransactionID = resp.Transaction.ID
	s.checkout.UpdatedAt = p.clock.Now()
	return resp
}

func (p *Processor) PayWithCard(ctx context.Context, id string, in CardCheckoutInput) Response {
	return p.payNow(ctx, id, isCardMethod, func(c *Checkout) Response {
		return p.service.ProcessCardPayment(ctx, CardPaymentInput{
			Amount:       c.Amount,
			Currency:     c.Currency,
			Type:         c.Method,
			Installments: in.Installments,
			CardNumber:   in.CardNumber,
			Brand:        in.Brand,
			Customer:     c.Customer,
			Metadata:     p.transactionMetadata(c),
		})
	})
}

// PayWithCash rejects short payments before reaching the service, which accepts any amount.
func (p *Processor) PayWithCash(ctx context.Context, id string, in CashCheckoutInput) Response {
	return p.payNow(ctx, id, isMethod(TypeCash), func(c *Checkout) Response {
		if in.AmountPaid.LessThan(c.Amount) {
			return fail(internal.NewProcessingError(
				fmt.Sprintf("Amount paid %s is less than the amount due %s", in.AmountPaid.StringFixed(2), c.Amount.StringFixed(2)),
				internal.ErrCodeInsufficientCash))
		}
		return p.service.ProcessCashPayment(ctx, CashPaymentInput{
			Amount:     c.Amount,
			AmountPaid: in.AmountPaid,
			Currency:   c.Currency,
			Customer:   c.Customer,
			Metadata:   p.transactionMetadata(c),
		})
	})
}

func (p *Processor) PayWithVoucher(ctx context.Context, id string, in VoucherCheckoutInput) Response {
	return p.payNow(ctx, id, isMethod(TypeVoucher), func(c *Checkout) Response {
		return p.service.ProcessVoucherPayment(ctx, VoucherPaymentInput{
			Amount:   c.Amount,
			Currency: c.Currency,
			Provider: in.Provider,
			Code:     in.Code,
			Customer: c.Customer,
			Metadata: p.transactionMetadata(c),
		})
	})
}

// Shutdown stops every running PIX monitor.
func (p *Processor) Shutdown() {
	p.cancel()

	p.mu.RLock()
	var monitors []*PixMonitor
	for _, s := range p.sessions {
		s.mu.Lock()
		if s.monitor != nil {
			monitors = append(monitors, s.monitor)
		}
		s.mu.Unlock()
	}
	p.mu.RUnlock()

	for _, m := range monitors {
		m.Stop()
	}
	p.logger.Info("checkout processor stopped", "monitors_stopped", len(monitors))
}

// EvictStale drops completed checkouts past the completed retention and idle
// checkouts past the idle retention. A checkout whose PIX monitor is still
// running is kept. Returns how many were dropped.
func (p *Processor) EvictStale() int {
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for id, s := range p.sessions {
		if p.stale(s, now) {
			delete(p.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (p *Processor) stale(s *session, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle := now.Sub(s.checkout.UpdatedAt)
	if s.checkout.Stage == StageComplete {
		return p.completedRetention > 0 && idle >= p.completedRetention
	}
	if p.idleRetention <= 0 || idle < p.idleRetention {
		return false
	}
	if s.monitor != nil {
		select {
		case <-s.monitor.Done():
		default:
			return false
		}
	}
	return true
}

func (p *Processor) evictLoop(ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			if n := p.EvictStale(); n > 0 {
				p.logger.Info("evicted stale checkouts", "count", n)
			}
		}
	}
}

func (p *Processor) payNow(ctx context.Context, id string, accepts func(Type) bool, pay func(*Checkout) Response) Response {
	s, appErr := p.session(id)
	if appErr != nil {
		return fail(appErr)
	}
	s.mu.Lock()

	if s.checkout.Stage != StageProcessing {
		s.mu.Unlock()
		return fail(stageError(s.checkout.Stage, StageProcessing))
	}
	if !accepts(s.checkout.Method) {
		s.mu.Unlock()
		return fail(methodError(s.checkout.Method))
	}

	resp := pay(s.checkout)
	if !resp.Success {
		p.failLocked(ctx, s, resp.Error)
		s.mu.Unlock()
		return resp
	}
	s.mu.Unlock()

	p.complete(ctx, s, resp.Transaction)
	return resp
}

func (p *Processor) complete(ctx context.Context, s *session, tx *Transaction) {
	s.mu.Lock()
	if s.completed || s.checkout.Stage != StageProcessing {
		s.mu.Unlock()
		return
	}
	if tx.Type == TypePix && s.checkout.PendingTransactionID != tx.ID {
		s.mu.Unlock()
		return
	}

	receipt := p.receipt(s.checkout, tx)
	s.completed = true
	s.monitor = nil
	s.checkout.Transaction = receipt
	s.checkout.Stage = StageComplete
	s.checkout.LastError = nil
	s.checkout.UpdatedAt = p.clock.Now()
	snapshot := s.checkout.clone()
	s.mu.Unlock()

	p.logger.Info("checkout completed", "checkout_id", snapshot.ID, "transaction_id", tx.ID, "method", tx.Type)
	p.recorder.CheckoutCompleted(string(tx.Type))

	if p.onComplete != nil {
		p.onComplete(ctx, snapshot)
	}
	if p.bus != nil {
		event := events.NewCheckoutCompletedEvent(snapshot.ID, tx.ID, string(tx.Type), tx.Amount.StringFixed(2),
			snapshot.Reference, snapshot.CallbackURL, ToView(receipt), snapshot.UpdatedAt)
		if err := p.bus.Publish(ctx, event); err != nil {
			p.logger.Error("failed to publish checkout completed event", "checkout_id", snapshot.ID, "error", err)
		}
	}
}

// failLocked must be called with s.mu held.
func (p *Processor) failLocked(ctx context.Context, s *session, appErr *internal.AppError) {
	s.checkout.LastError = appErr
	s.checkout.UpdatedAt = p.clock.Now()
	snapshot := s.checkout.clone()

	p.logger.Warn("checkout payment failed", "checkout_id", snapshot.ID, "method", snapshot.Method, "error", appErr)

	if p.onError != nil {
		p.onError(ctx, snapshot, appErr)
	}
	if p.bus != nil {
		code, message := "", ""
		if appErr != nil {
			code, message = string(appErr.Code), appErr.Message
		}
		event := events.NewPaymentFailedEvent(snapshot.ID, string(snapshot.Method), code, message, snapshot.UpdatedAt)
		if err := p.bus.Publish(ctx, event); err != nil {
			p.logger.Error("failed to publish payment failed event", "checkout_id", snapshot.ID, "error", err)
		}
	}
}

// receipt merges the checkout context into the method result.
func (p *Processor) receipt(c *Checkout, tx *Transaction) *Transaction {
	r := tx.Clone()
	if r.Customer == nil && c.Customer != nil {
		customer := *c.Customer
		r.Customer = &customer
	}
	for k, v := range c.Metadata {
		if _, exists := r.Metadata[k]; !exists {
			r.SetMetadata(k, v)
		}
	}
	r.SetMetadata("checkout_id", c.ID)
	if c.Reference != "" {
		r.SetMetadata("reference", c.Reference)
	}
	return r
}

func (p *Processor) transactionMetadata(c *Checkout) map[string]string {
	metadata := make(map[string]string, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		metadata[k] = v
	}
	metadata["checkout_id"] = c.ID
	if c.Reference != "" {
		metadata["reference"] = c.Reference
	}
	return metadata
}

func (p *Processor) requireMethod(c *Checkout, t Type) *internal.AppError {
	if c.Stage != StageProcessing {
		return stageError(c.Stage, StageProcessing)
	}
	if c.Method != t {
		return methodError(c.Method)
	}
	return nil
}

func (p *Processor) session(id string) (*session, *internal.AppError) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, internal.ErrCheckoutNotFound.Clone()
	}
	return s, nil
}

func isCardMethod(t Type) bool { return t.IsCard() }

func isMethod(want Type) func(Type) bool {
	return func(t Type) bool { return t == want }
}

func stageError(current, required CheckoutStage) *internal.AppError {
	return internal.ErrInvalidCheckoutStage.Clone().WithDetails(map[string]string{
		"stage":    string(current),
		"required": string(required),
	})
}

func methodError(selected Type) *internal.AppError {
	return internal.ErrInvalidCheckoutStage.Clone().WithDetails(map[string]string{
		"selected_method": string(selected),
	})
}
