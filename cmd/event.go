package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/frahmantamala/pos-payments/internal/core/events"
	"github.com/frahmantamala/pos-payments/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Publish synthetic payment events through the wired handlers (webhooks, sales feed).`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test event",
	Long:  `Publish a test event to the event bus. transaction.* types go through the real subscribers.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		publishTestEvent(args[0])
	},
}

var (
	eventTransactionID string
	eventAmount        string
	eventCallbackURL   string
)

func publishTestEvent(eventType string) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg := logger.LoggerWrapper()

	app, err := buildApp(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer shutdownApp(app)

	app.EventBus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
		lg.Info("test handler received event",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"payload", event.Payload())
		return nil
	})

	now := time.Now()
	var event events.Event
	switch {
	case strings.HasPrefix(eventType, "transaction."):
		status := strings.TrimPrefix(eventType, "transaction.")
		event = events.NewTransactionEvent(eventTransactionID, "cash", status, eventAmount, cfg.Payment.Currency, "cli", now)
	case eventType == events.EventTypeCheckoutCompleted:
		event = events.NewCheckoutCompletedEvent("cli-checkout", eventTransactionID, "cash", eventAmount, "cli", eventCallbackURL, nil, now)
	default:
		event = events.BaseEvent{
			ID:        fmt.Sprintf("test-%d", now.Unix()),
			Type:      eventType,
			Timestamp: now,
			Data:      map[string]interface{}{"source": "cli-command"},
		}
	}

	lg.Info("publishing test event", "event_type", eventType, "event_id", event.EventID())
	if err := app.EventBus.PublishSync(context.Background(), event); err != nil {
		lg.Error("failed to publish event", "error", err)
		return
	}
	lg.Info("test event published successfully")
}

func init() {
	publishEventCmd.Flags().StringVar(&eventTransactionID, "transaction-id", "CASH0", "Transaction id carried by the event")
	publishEventCmd.Flags().StringVar(&eventAmount, "amount", "10.00", "Amount carried by the event")
	publishEventCmd.Flags().StringVar(&eventCallbackURL, "callback-url", "", "Callback URL for checkout.completed")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
