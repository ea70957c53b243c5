package payment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/jonboulle/clockwork"
)

type PixState string

const (
	PixStateIdle     PixState = "idle"
	PixStateWaiting  PixState = "waiting"
	PixStateApproved PixState = "approved"
	PixStateExpired  PixState = "expired"
	PixStateStopped  PixState = "stopped"
	// PixStateClosed means the transaction left pending through another path, e.g. a manual cancel.
	PixStateClosed PixState = "closed"
	PixStateFailed PixState = "failed"
)

// PixMonitor drives the PIX confirmation protocol for one transaction: a
// countdown ticker and a settlement poll ticker that always stop together.
// A monitor is single use.
type PixMonitor struct {
	service           ServiceAPI
	clock             clockwork.Clock
	logger            *slog.Logger
	recorder          Recorder
	countdownInterval time.Duration
	pollInterval      time.Duration

	onSuccess func(*Transaction)
	onError   func(*internal.AppError)
	onTick    func(remaining int)

	mu          sync.Mutex
	started     bool
	stopped     bool
	state       PixState
	tx          *Transaction
	remaining   int
	polls       int
	cancel      context.CancelFunc
	done        chan struct{}
	doneOnce    sync.Once
	successOnce sync.Once
}

type PixMonitorOption func(*PixMonitor)

func WithMonitorClock(clock clockwork.Clock) PixMonitorOption {
	return func(m *PixMonitor) { m.clock = clock }
}

func WithPollInterval(d time.Duration) PixMonitorOption {
	return func(m *PixMonitor) { m.pollInterval = d }
}

func WithCountdownInterval(d time.Duration) PixMonitorOption {
	return func(m *PixMonitor) { m.countdownInterval = d }
}

func WithMonitorRecorder(r Recorder) PixMonitorOption {
	return func(m *PixMonitor) { m.recorder = r }
}

// OnPixSuccess registers the callback fired once when the charge is approved.
func OnPixSuccess(fn func(*Transaction)) PixMonitorOption {
	return func(m *PixMonitor) { m.onSuccess = fn }
}

// OnPixError registers the callback fired when the charge cannot be created.
func OnPixError(fn func(*internal.AppError)) PixMonitorOption {
	return func(m *PixMonitor) { m.onError = fn }
}

// OnPixTick registers a callback fired on every countdown tick with the seconds left.
func OnPixTick(fn func(remaining int)) PixMonitorOption {
	return func(m *PixMonitor) { m.onTick = fn }
}

func NewPixMonitor(service ServiceAPI, logger *slog.Logger, opts ...PixMonitorOption) *PixMonitor {
	m := &PixMonitor{
		service:           service,
		clock:             clockwork.NewRealClock(),
		logger:            logger,
		recorder:          noopRecorder{},
		countdownInterval: time.Second,
		pollInterval:      5 * time.Second,
		state:             PixStateIdle,
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates the PIX charge and, when it is pending, starts both timers.
// The timers live until approval, expiry, Stop or cancellation of ctx.
func (m *PixMonitor) Start(ctx context.Context, in PixPaymentInput) Response {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fail(internal.NewProcessingError("PIX monitor already started", internal.ErrCodePixProcessing))
	}
	if m.stopped {
		m.mu.Unlock()
		return fail(internal.NewProcessingError("PIX monitor already stopped", internal.ErrCodePixProcessing))
	}
	m.started = true
	m.mu.Unlock()

	resp := m.service.ProcessPixPayment(ctx, in)
	if !resp.Success {
		m.setState(PixStateFailed)
		m.closeDone()
		if m.onError != nil {
			m.onError(resp.Error)
		}
		return resp
	}

	m.watch(ctx, resp.Transaction)
	return resp
}

// watchExisting attaches an unused monitor to a charge created earlier.
func (m *PixMonitor) watchExisting(ctx context.Context, tx *Transaction) {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	m.watch(ctx, tx)
}

func (m *PixMonitor) watch(ctx context.Context, tx *Transaction) {
	pix, _ := tx.Pix()
	expiresAt := pix.ExpiresAt
	remaining := secondsUntil(expiresAt, m.clock.Now())

	runCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.tx = tx
	m.remaining = remaining
	m.cancel = cancel
	m.state = PixStateWaiting
	stopped := m.stopped
	m.mu.Unlock()

	if stopped {
		cancel()
		m.finish(PixStateStopped)
		return
	}
	if remaining <= 0 {
		cancel()
		m.finish(PixStateExpired)
		return
	}

	countdown := m.clock.NewTicker(m.countdownInterval)
	poll := m.clock.NewTicker(m.pollInterval)
	m.recorder.PixMonitorStarted()

	go m.run(runCtx, cancel, tx.ID, expiresAt, countdown, poll)
}

func (m *PixMonitor) run(ctx context.Context, cancel context.CancelFunc, id string, expiresAt time.Time, countdown, poll clockwork.Ticker) {
	defer m.recorder.PixMonitorStopped()
	defer cancel()
	defer poll.Stop()
	defer countdown.Stop()

	for {
		select {
		case <-ctx.Done():
			m.finish(PixStateStopped)
			return

		case <-countdown.Chan():
			remaining := m.updateRemaining(expiresAt)
			if m.onTick != nil {
				m.onTick(remaining)
			}
			if remaining <= 0 {
				m.logger.Info("pix charge expired without confirmation", "transaction_id", id)
				m.finish(PixStateExpired)
				return
			}

		case <-poll.Chan():
			if m.updateRemaining(expiresAt) <= 0 {
				m.finish(PixStateExpired)
				return
			}
			if ctx.Err() != nil {
				m.finish(PixStateStopped)
				return
			}

			m.recorder.PixPollIssued()
			m.mu.Lock()
			m.polls++
			m.mu.Unlock()

			resp := m.service.CheckTransactionStatus(ctx, id)
			if !resp.Success {
				m.logger.Warn("pix status poll failed", "transaction_id", id, "error", resp.Error)
				continue
			}

			m.mu.Lock()
			m.tx = resp.Transaction
			m.mu.Unlock()

			switch resp.Transaction.Status {
			case StatusPending:
			case StatusApproved:
				m.successOnce.Do(func() {
					if m.onSuccess != nil {
						m.onSuccess(resp.Transaction)
					}
				})
				m.finish(PixStateApproved)
				return
			default:
				m.logger.Info("pix transaction closed while monitored", "transaction_id", id, "status", resp.Transaction.Status)
				m.finish(PixStateClosed)
				return
			}
		}
	}
}

// Stop cancels both timers and waits for the monitor to wind down. Safe to call repeatedly.
func (m *PixMonitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	cancel := m.cancel
	started := m.started
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		m.finish(PixStateStopped)
	}
	<-m.done
}

// Done is closed once the monitor has stopped for any reason.
func (m *PixMonitor) Done() <-chan struct{} {
	return m.done
}

func (m *PixMonitor) State() PixState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining returns the seconds left before the charge expires, as of the last tick.
func (m *PixMonitor) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// Polls returns how many status checks were issued.
func (m *PixMonitor) Polls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// Transaction returns the last transaction observed by the monitor.
func (m *PixMonitor) Transaction() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx.Clone()
}

func (m *PixMonitor) updateRemaining(expiresAt time.Time) int {
	remaining := secondsUntil(expiresAt, m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	m.mu.Lock()
	m.remaining = remaining
	m.mu.Unlock()
	return remaining
}

func (m *PixMonitor) setState(state PixState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *PixMonitor) finish(state PixState) {
	m.mu.Lock()
	if m.state == PixStateWaiting || m.state == PixStateIdle {
		m.state = state
	}
	if state == PixStateExpired {
		m.remaining = 0
	}
	m.mu.Unlock()
	m.closeDone()
}

func (m *PixMonitor) closeDone() {
	m.doneOnce.Do(func() { close(m.done) })
}

func secondsUntil(deadline, now time.Time) int {
	return int(deadline.Sub(now) / time.Second)
}
