package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/pos-payments/internal/transport"
)

// NotificationHandler receives settlement notifications pushed by the PIX
// acquirer and re-checks the transaction right away instead of waiting for
// the next poll.
type NotificationHandler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewNotificationHandler(service ServiceAPI, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		BaseHandler: transport.NewBaseHandler(logger),
		Service:     service,
	}
}

type PixNotificationRequest struct {
	TransactionID string `json:"transaction_id"`
	TxID          string `json:"txid,omitempty"`
}

type PixNotificationResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

// HandlePixNotification handles POST /api/v1/webhooks/pix
func (h *NotificationHandler) HandlePixNotification(w http.ResponseWriter, r *http.Request) {
	var req PixNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("invalid pix notification", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.TransactionID == "" {
		h.Logger.Error("pix notification missing transaction_id", "txid", req.TxID)
		h.WriteError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	h.Logger.Info("received pix notification", "transaction_id", req.TransactionID, "txid", req.TxID)

	resp := h.Service.CheckTransactionStatus(r.Context(), req.TransactionID)
	if !resp.Success {
		h.HandleError(w, resp.Error)
		return
	}

	h.WriteJSON(w, http.StatusOK, PixNotificationResponse{
		Status:        string(resp.Transaction.Status),
		TransactionID: resp.Transaction.ID,
		Message:       "notification processed",
	})
}
