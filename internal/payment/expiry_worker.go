package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// PixExpirer is implemented by *Service.
type PixExpirer interface {
	ExpireStalePix(ctx context.Context, limit int) (int, error)
}

// ExpiryWorker periodically closes PIX charges nobody is watching anymore,
// e.g. after a terminal restart or a checkout that went back to method selection.
type ExpiryWorker struct {
	expirer   PixExpirer
	interval  time.Duration
	batchSize int
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewExpiryWorker(expirer PixExpirer, interval time.Duration, batchSize int, clock clockwork.Clock, logger *slog.Logger) *ExpiryWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpiryWorker{
		expirer:   expirer,
		interval:  interval,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("pix expiry worker started", "interval", w.interval, "batch_size", w.batchSize)
	if err := w.sweep(ctx); errors.Is(err, ErrExpirySweepUnsupported) {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("pix expiry worker stopped")
			return nil
		case <-ticker.Chan():
			_ = w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) error {
	for {
		n, err := w.expirer.ExpireStalePix(ctx, w.batchSize)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				w.logger.Error("pix expiry sweep failed", "error", err)
			}
			return err
		}
		if n > 0 {
			w.logger.Info("expired stale pix charges", "count", n)
		}
		// A full batch means more may be waiting.
		if w.batchSize <= 0 || n < w.batchSize {
			return nil
		}
	}
}
