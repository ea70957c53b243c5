package paymentgateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/pos-payments/internal"
	gw "github.com/frahmantamala/pos-payments/internal/core/datamodel/paymentgateway"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var ErrCommunication = gw.ErrCommunication

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var fallbackBrands = []string{BrandVisa, BrandMastercard, BrandElo}

// LatencyObserver receives the simulated round trip of every call.
type LatencyObserver interface {
	ObserveGatewayLatency(op string, d time.Duration)
}

// Simulator stands in for a TEF/PIX acquirer. Every outcome is decided by an
// injected policy so callers can force each branch.
type Simulator struct {
	name         string
	merchantName string
	merchantCity string
	latency      time.Duration
	clock        clockwork.Clock
	dice         *Dice
	failure      FailurePolicy
	settlement   SettlementPolicy
	decline      DeclinePolicy
	observer     LatencyObserver
	logger       *slog.Logger
}

type Option func(*Simulator)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Simulator) { s.clock = clock }
}

func WithLatency(d time.Duration) Option {
	return func(s *Simulator) { s.latency = d }
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(s *Simulator) { s.failure = p }
}

func WithSettlementPolicy(p SettlementPolicy) Option {
	return func(s *Simulator) { s.settlement = p }
}

func WithDeclinePolicy(p DeclinePolicy) Option {
	return func(s *Simulator) { s.decline = p }
}

func WithDice(d *Dice) Option {
	return func(s *Simulator) { s.dice = d }
}

func WithMerchant(name, city string) Option {
	return func(s *Simulator) {
		s.merchantName = name
		s.merchantCity = city
	}
}

func WithLatencyObserver(o LatencyObserver) Option {
	return func(s *Simulator) { s.observer = o }
}

// NewSimulator defaults to no latency, no failures, no settlement and no declines.
func NewSimulator(name string, logger *slog.Logger, opts ...Option) *Simulator {
	s := &Simulator{
		name:         name,
		merchantName: "PADARIA",
		merchantCity: "SAO PAULO",
		clock:        clockwork.NewRealClock(),
		dice:         NewDice(time.Now().UnixNano()),
		failure:      NeverFail(),
		settlement:   NeverSettle(),
		decline:      NeverDecline(),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSimulatorFromConfig wires probability policies from the gateway config.
// Explicit options override them.
func NewSimulatorFromConfig(cfg internal.PaymentConfig, logger *slog.Logger, opts ...Option) *Simulator {
	dice := NewDice(time.Now().UnixNano())
	base := []Option{
		WithDice(dice),
		WithLatency(cfg.Gateway.Latency),
		WithMerchant(cfg.MerchantName, cfg.MerchantCity),
		WithFailurePolicy(FailureProbability(cfg.Gateway.FailureRate, dice)),
		WithSettlementPolicy(SettlementProbability(cfg.Gateway.SettlementProbability, dice)),
		WithDeclinePolicy(DeclineProbability(cfg.Gateway.DeclineRate, dice)),
	}
	return NewSimulator(cfg.Gateway.Name, logger, append(base, opts...)...)
}

func (s *Simulator) Name() string {
	return s.name
}

// Call waits the simulated latency and applies the failure policy to every
// operation that leaves the terminal.
func (s *Simulator) Call(ctx context.Context, op gw.Operation) error {
	start := s.clock.Now()
	if s.latency > 0 {
		select {
		case <-s.clock.After(s.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	if s.observer != nil {
		s.observer.ObserveGatewayLatency(string(op), s.clock.Since(start))
	}

	if !op.Local() && s.failure(op) {
		s.logger.Warn("gateway simulation: communication failure", "gateway", s.name, "operation", op)
		return fmt.Errorf("%s: %w", op, ErrCommunication)
	}
	return nil
}

func (s *Simulator) IssuePixCharge(ctx context.Context, req *gw.PixChargeRequest) (*gw.PixCharge, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if err := s.Call(ctx, gw.OperationPixCharge); err != nil {
		return nil, err
	}

	key := s.randomKey(32)
	txID := strings.ReplaceAll(uuid.NewString(), "-", "")[:25]
	payload := BRCode{
		Key:          key,
		MerchantName: s.merchantName,
		MerchantCity: s.merchantCity,
		Amount:       req.Amount,
		Currency:     req.Currency,
		TxID:         txID,
	}.Payload()

	s.logger.Info("gateway simulation: pix charge issued",
		"transaction_id", req.TransactionID,
		"txid", txID,
		"expires_at", req.ExpiresAt)

	return &gw.PixCharge{
		Key:        key,
		QRCodeData: payload,
		TxID:       txID,
		Response:   s.response("00", "PIX charge created"),
	}, nil
}

func (s *Simulator) SettlePix(ctx context.Context, txID string) (*gw.Settlement, error) {
	if err := s.Call(ctx, gw.OperationPixSettlement); err != nil {
		return nil, err
	}
	if s.settlement(txID) {
		s.logger.Info("gateway simulation: pix settled", "txid", txID)
		return &gw.Settlement{Settled: true, Response: s.response("00", "PIX payment received")}, nil
	}
	return &gw.Settlement{Settled: false, Response: s.response("01", "Awaiting payer confirmation")}, nil
}

func (s *Simulator) AuthorizeCard(ctx context.Context, req *gw.CardAuthorizationRequest) (*gw.CardAuthorization, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	number := req.SanitizedCardNumber()
	brand := req.Brand
	lastDigits := ""
	if number != "" {
		if !ValidLuhn(number) {
			return nil, ErrInvalidCardNumber
		}
		if detected := DetectBrand(number); detected != "" {
			brand = detected
		}
		lastDigits = number[len(number)-4:]
	}

	if err := s.Call(ctx, gw.OperationCardAuthorize); err != nil {
		return nil, err
	}

	if brand == "" {
		brand = fallbackBrands[s.dice.Intn(len(fallbackBrands))]
	}
	if lastDigits == "" {
		lastDigits = s.digits(4)
	}

	auth := &gw.CardAuthorization{
		Brand:      brand,
		LastDigits: lastDigits,
		NSU:        s.digits(6),
		HostNSU:    s.digits(9),
	}

	if s.decline(req) {
		auth.Response = s.response("51", "Transaction declined by issuer")
		s.logger.Info("gateway simulation: card declined", "transaction_id", req.TransactionID, "brand", brand)
		return auth, nil
	}

	auth.Approved = true
	auth.AuthorizationCode = s.digits(6)
	auth.Response = s.response("00", "Transaction approved")
	s.logger.Info("gateway simulation: card approved",
		"transaction_id", req.TransactionID,
		"brand", brand,
		"installments", req.Installments)
	return auth, nil
}

func (s *Simulator) AuthorizeVoucher(ctx context.Context, req *gw.VoucherAuthorizationRequest) (*gw.VoucherAuthorization, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if err := s.Call(ctx, gw.OperationVoucherAuthorize); err != nil {
		return nil, err
	}
	return &gw.VoucherAuthorization{
		Approved:          true,
		AuthorizationCode: s.digits(6),
		Response:          s.response("00", fmt.Sprintf("%s voucher approved", req.Provider)),
	}, nil
}

func (s *Simulator) response(code, message string) gw.Response {
	return gw.Response{Code: code, Message: message, Processor: s.name}
}

func (s *Simulator) randomKey(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = keyAlphabet[s.dice.Intn(len(keyAlphabet))]
	}
	return string(b)
}

func (s *Simulator) digits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + s.dice.Intn(10))
	}
	return string(b)
}
