package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/pos-payments/internal/core/events"
	"github.com/frahmantamala/pos-payments/internal/webhook"
)

// WebhookEnqueuer is satisfied by *webhook.Dispatcher.
type WebhookEnqueuer interface {
	Enqueue(delivery webhook.Delivery) error
}

type EventHandler struct {
	webhooks WebhookEnqueuer
	logger   *slog.Logger
}

func NewEventHandler(webhooks WebhookEnqueuer, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

// HandleCheckoutCompleted posts the receipt to the checkout callback URL, when one was given.
func (h *EventHandler) HandleCheckoutCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.CheckoutCompletedEvent)
	if !ok {
		h.logger.Error("invalid event type for checkout completed handler", "event_type", event.EventType())
		return fmt.Errorf("expected CheckoutCompletedEvent, got %T", event)
	}

	if completed.CallbackURL == "" {
		return nil
	}

	delivery := webhook.Delivery{
		URL:       completed.CallbackURL,
		EventType: completed.EventType(),
		EventID:   completed.EventID(),
		Payload: map[string]interface{}{
			"checkout_id":    completed.CheckoutID,
			"transaction_id": completed.TransactionID,
			"method":         completed.Method,
			"amount":         completed.Amount,
			"reference":      completed.Reference,
			"transaction":    completed.Receipt,
		},
	}
	if err := h.webhooks.Enqueue(delivery); err != nil {
		h.logger.Error("failed to enqueue checkout webhook",
			"error", err,
			"checkout_id", completed.CheckoutID,
			"event_id", completed.EventID())
		return fmt.Errorf("enqueue webhook for checkout %s: %w", completed.CheckoutID, err)
	}

	h.logger.Info("checkout webhook enqueued",
		"checkout_id", completed.CheckoutID,
		"transaction_id", completed.TransactionID,
		"event_id", completed.EventID())
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeCheckoutCompleted, h.HandleCheckoutCompleted)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{events.EventTypeCheckoutCompleted})
}
