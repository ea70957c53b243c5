package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/jonboulle/clockwork"
)

var (
	ErrQueueFull = errors.New("webhook queue full")
	ErrShutdown  = errors.New("webhook dispatcher is shut down")
)

// Delivery is one JSON POST to a host-provided callback URL.
type Delivery struct {
	URL       string      `json:"-"`
	EventType string      `json:"event_type"`
	EventID   string      `json:"event_id"`
	Payload   interface{} `json:"payload"`
}

type Worker struct {
	ID         int
	WorkerPool chan chan Delivery
	JobChannel chan Delivery
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Delivery, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Delivery),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Delivery)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("webhook worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("webhook worker delivering", "worker_id", w.ID, "event_id", job.EventID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("webhook worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher delivers webhooks from a bounded queue with a fixed pool of
// workers. Failed deliveries are retried with linear backoff up to MaxAttempts.
type Dispatcher struct {
	client      HTTPDoer
	clock       clockwork.Clock
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger

	jobQueue   chan Delivery
	workerPool chan chan Delivery
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once

	// queueMu guards shutting and the in-flight count.
	queueMu  sync.Mutex
	shutting bool
	inflight int
	idle     chan struct{}

	mu        sync.Mutex
	delivered int
	failed    int
}

type Option func(*Dispatcher)

func WithHTTPClient(client HTTPDoer) Option {
	return func(d *Dispatcher) { d.client = client }
}

func WithClock(clock clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = clock }
}

func WithBackoff(backoff time.Duration) Option {
	return func(d *Dispatcher) { d.backoff = backoff }
}

func NewDispatcher(config internal.WebhookConfig, logger *slog.Logger, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	workerPoolSize := config.WorkerPoolSize
	if workerPoolSize <= 0 {
		workerPoolSize = maxWorkers
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	d := &Dispatcher{
		client:      &http.Client{Timeout: timeout},
		clock:       clockwork.NewRealClock(),
		timeout:     timeout,
		maxAttempts: maxAttempts,
		backoff:     time.Second,
		logger:      logger,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan Delivery, jobQueueSize),
		workerPool: make(chan chan Delivery, workerPoolSize),
		ctx:        ctx,
		cancel:     cancel,
		idle:       make(chan struct{}),
	}
	close(d.idle)
	for _, opt := range opts {
		opt(d)
	}

	d.startWorkerPool()

	return d
}

func (d *Dispatcher) startWorkerPool() {
	d.once.Do(func() {
		for i := 0; i < d.maxWorkers; i++ {
			worker := NewWorker(i, d.workerPool, d.logger)
			worker.Start(d.ctx, &d.wg, d.deliver)
		}

		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("webhook worker pool started",
			"max_workers", d.maxWorkers,
			"queue_size", cap(d.jobQueue))
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.jobQueue:
			select {
			case jobChannel := <-d.workerPool:
				select {
				case jobChannel <- job:
				case <-d.ctx.Done():
					d.drop(job)
					return
				}
			case <-d.ctx.Done():
				d.drop(job)
				return
			}
		case <-d.ctx.Done():
			d.logger.Info("webhook dispatcher shutting down")
			return
		}
	}
}

// Enqueue schedules a delivery without blocking.
func (d *Dispatcher) Enqueue(delivery Delivery) error {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	if d.shutting {
		return ErrShutdown
	}

	select {
	case d.jobQueue <- delivery:
		if d.inflight == 0 {
			d.idle = make(chan struct{})
		}
		d.inflight++
		d.logger.Info("webhook queued",
			"event_type", delivery.EventType,
			"event_id", delivery.EventID,
			"queue_length", len(d.jobQueue))
		return nil
	default:
		d.logger.Warn("webhook queue full, rejecting delivery",
			"event_id", delivery.EventID,
			"queue_capacity", cap(d.jobQueue))
		return ErrQueueFull
	}
}

// Drain waits until every queued delivery has finished or ctx ends.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.queueMu.Lock()
	idle := d.idle
	d.queueMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting deliveries, waits for queued ones up to ctx and stops the workers.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.logger.Info("shutting down webhook dispatcher")
	d.queueMu.Lock()
	d.shutting = true
	d.queueMu.Unlock()

	if err := d.Drain(ctx); err != nil {
		d.logger.Warn("webhook dispatcher stopped with pending deliveries", "error", err)
	}
	d.cancel()
	d.wg.Wait()
	d.logger.Info("webhook dispatcher shutdown complete")
}

// Stats returns the delivered and failed counters.
func (d *Dispatcher) Stats() (delivered, failed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered, d.failed
}

func (d *Dispatcher) drop(job Delivery) {
	d.logger.Warn("webhook dropped on shutdown", "event_id", job.EventID)
	d.finish()
}

func (d *Dispatcher) finish() {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	d.inflight--
	if d.inflight == 0 {
		close(d.idle)
	}
}

func (d *Dispatcher) deliver(job Delivery) {
	defer d.finish()

	body, err := json.Marshal(job)
	if err != nil {
		d.logger.Error("failed to marshal webhook", "event_id", job.EventID, "error", err)
		d.record(false)
		return
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err = d.post(job, body)
		if err == nil {
			d.logger.Info("webhook delivered", "event_id", job.EventID, "url", job.URL, "attempt", attempt)
			d.record(true)
			return
		}
		d.logger.Warn("webhook delivery failed",
			"event_id", job.EventID,
			"url", job.URL,
			"attempt", attempt,
			"error", err)

		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-d.clock.After(time.Duration(attempt) * d.backoff):
		case <-d.ctx.Done():
			d.record(false)
			return
		}
	}

	d.logger.Error("webhook gave up", "event_id", job.EventID, "url", job.URL, "attempts", d.maxAttempts)
	d.record(false)
}

func (d *Dispatcher) post(job Delivery, body []byte) error {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", job.EventType)
	req.Header.Set("X-Event-ID", job.EventID)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) record(ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ok {
		d.delivered++
	} else {
		d.failed++
	}
}
