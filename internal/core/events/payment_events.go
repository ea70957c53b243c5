package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeTransactionPending   = "transaction.pending"
	EventTypeTransactionApproved  = "transaction.approved"
	EventTypeTransactionDenied    = "transaction.denied"
	EventTypeTransactionCancelled = "transaction.cancelled"
	EventTypeTransactionRefunded  = "transaction.refunded"
	EventTypeTransactionExpired   = "transaction.expired"

	EventTypeCheckoutCompleted = "checkout.completed"
	EventTypePaymentFailed     = "payment.failed"
)

// TransactionEventType maps a transaction status to its event type.
func TransactionEventType(status string) string {
	return "transaction." + status
}

type TransactionEvent struct {
	BaseEvent
	TransactionID string `json:"transaction_id"`
	PaymentType   string `json:"payment_type"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	OperatorID    string `json:"operator_id,omitempty"`
}

func NewTransactionEvent(transactionID, paymentType, status, amount, currency, operatorID string, at time.Time) *TransactionEvent {
	return &TransactionEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      TransactionEventType(status),
			Timestamp: at,
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"payment_type":   paymentType,
				"status":         status,
				"amount":         amount,
				"currency":       currency,
				"operator_id":    operatorID,
			},
		},
		TransactionID: transactionID,
		PaymentType:   paymentType,
		Status:        status,
		Amount:        amount,
		Currency:      currency,
		OperatorID:    operatorID,
	}
}

type CheckoutCompletedEvent struct {
	BaseEvent
	CheckoutID    string `json:"checkout_id"`
	TransactionID string `json:"transaction_id"`
	Method        string `json:"method"`
	Amount        string `json:"amount"`
	Reference     string `json:"reference,omitempty"`
	CallbackURL   string `json:"callback_url,omitempty"`
	// Receipt is the serialisable view of the completed transaction.
	Receipt interface{} `json:"receipt,omitempty"`
}

func NewCheckoutCompletedEvent(checkoutID, transactionID, method, amount, reference, callbackURL string, receipt interface{}, at time.Time) *CheckoutCompletedEvent {
	return &CheckoutCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeCheckoutCompleted,
			Timestamp: at,
			Data: map[string]interface{}{
				"checkout_id":    checkoutID,
				"transaction_id": transactionID,
				"method":         method,
				"amount":         amount,
				"reference":      reference,
				"callback_url":   callbackURL,
			},
		},
		CheckoutID:    checkoutID,
		TransactionID: transactionID,
		Method:        method,
		Amount:        amount,
		Reference:     reference,
		CallbackURL:   callbackURL,
		Receipt:       receipt,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	CheckoutID    string `json:"checkout_id"`
	Method        string `json:"method"`
	ErrorCode     string `json:"error_code"`
	FailureReason string `json:"failure_reason"`
}

func NewPaymentFailedEvent(checkoutID, method, errorCode, failureReason string, at time.Time) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: at,
			Data: map[string]interface{}{
				"checkout_id":    checkoutID,
				"method":         method,
				"error_code":     errorCode,
				"failure_reason": failureReason,
			},
		},
		CheckoutID:    checkoutID,
		Method:        method,
		ErrorCode:     errorCode,
		FailureReason: failureReason,
	}
}
