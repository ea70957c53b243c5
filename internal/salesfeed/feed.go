// Package salesfeed forwards settled and reversed sales to the reporting
// topic consumed outside the POS.
package salesfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/core/events"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Record is the message value written for every reported transaction.
type Record struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	PaymentType   string    `json:"payment_type"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	OperatorID    string    `json:"operator_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Feed struct {
	writer       MessageWriter
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewWriter builds the kafka writer for cfg. Messages are balanced by key so
// every update of a transaction lands on the same partition.
func NewWriter(cfg internal.SalesFeedConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
	}
}

func NewFeed(writer MessageWriter, cfg internal.SalesFeedConfig, logger *slog.Logger) *Feed {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Feed{
		writer:       writer,
		writeTimeout: timeout,
		logger:       logger,
	}
}

// HandleTransactionEvent writes one message keyed by transaction id.
func (f *Feed) HandleTransactionEvent(ctx context.Context, event events.Event) error {
	txEvent, ok := event.(*events.TransactionEvent)
	if !ok {
		f.logger.Error("invalid event type for sales feed", "event_type", event.EventType())
		return fmt.Errorf("expected TransactionEvent, got %T", event)
	}

	value, err := json.Marshal(Record{
		EventID:       txEvent.EventID(),
		EventType:     txEvent.EventType(),
		TransactionID: txEvent.TransactionID,
		PaymentType:   txEvent.PaymentType,
		Status:        txEvent.Status,
		Amount:        txEvent.Amount,
		Currency:      txEvent.Currency,
		OperatorID:    txEvent.OperatorID,
		OccurredAt:    txEvent.OccurredAt(),
	})
	if err != nil {
		return fmt.Errorf("marshal sales record: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, f.writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(txEvent.TransactionID),
		Value: value,
		Time:  txEvent.OccurredAt(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(txEvent.EventType())},
		},
	}
	if err := f.writer.WriteMessages(writeCtx, msg); err != nil {
		f.logger.Error("failed to publish sales record",
			"error", err,
			"transaction_id", txEvent.TransactionID,
			"event_type", txEvent.EventType())
		return fmt.Errorf("write sales record for %s: %w", txEvent.TransactionID, err)
	}

	f.logger.Debug("sales record published",
		"transaction_id", txEvent.TransactionID,
		"status", txEvent.Status)
	return nil
}

func (f *Feed) RegisterEventHandlers(eventBus *events.EventBus) {
	types := []string{
		events.EventTypeTransactionApproved,
		events.EventTypeTransactionCancelled,
		events.EventTypeTransactionRefunded,
	}
	for _, t := range types {
		eventBus.Subscribe(t, f.HandleTransactionEvent)
	}

	f.logger.Info("sales feed handlers registered", "handlers", types)
}

func (f *Feed) Close() error {
	return f.writer.Close()
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
