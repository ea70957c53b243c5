package payment

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/transport"
	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		Service:     service,
	}
}

// CreatePixPayment handles POST /api/v1/payments/pix
func (h *Handler) CreatePixPayment(w http.ResponseWriter, r *http.Request) {
	var in PixPaymentInput
	if appErr := h.DecodeJSON(r, &in); appErr != nil {
		h.Logger.Error("CreatePixPayment: invalid request body", "error", appErr.Cause)
		h.writeResponse(w, fail(appErr), http.StatusCreated)
		return
	}

	resp := h.Service.ProcessPixPayment(r.Context(), in)
	h.writeResponse(w, resp, http.StatusCreated)
}

// CreateCardPayment handles POST /api/v1/payments/card
func (h *Handler) CreateCardPayment(w http.ResponseWriter, r *http.Request) {
	var in CardPaymentInput
	if appErr := h.DecodeJSON(r, &in); appErr != nil {
		h.Logger.Error("CreateCardPayment: invalid request body", "error", appErr.Cause)
		h.writeResponse(w, fail(appErr), http.StatusCreated)
		return
	}

	resp := h.Service.ProcessCardPayment(r.Context(), in)
	h.writeResponse(w, resp, http.StatusCreated)
}

// CreateCashPayment handles POST /api/v1/payments/cash
func (h *Handler) CreateCashPayment(w http.ResponseWriter, r *http.Request) {
	var in CashPaymentInput
	if appErr := h.DecodeJSON(r, &in); appErr != nil {
		h.Logger.Error("CreateCashPayment: invalid request body", "error", appErr.Cause)
		h.writeResponse(w, fail(appErr), http.StatusCreated)
		return
	}

	resp := h.Service.ProcessCashPayment(r.Context(), in)
	h.writeResponse(w, resp, http.StatusCreated)
}

// CreateVoucherPayment handles POST /api/v1/payments/voucher
func (h *Handler) CreateVoucherPayment(w http.ResponseWriter, r *http.Request) {
	var in VoucherPaymentInput
	if appErr := h.DecodeJSON(r, &in); appErr != nil {
		h.Logger.Error("CreateVoucherPayment: invalid request body", "error", appErr.Cause)
		h.writeResponse(w, fail(appErr), http.StatusCreated)
		return
	}

	resp := h.Service.ProcessVoucherPayment(r.Context(), in)
	h.writeResponse(w, resp, http.StatusCreated)
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp := h.Service.CheckTransactionStatus(r.Context(), id)
	h.writeResponse(w, resp, http.StatusOK)
}

// CancelPayment handles POST /api/v1/payments/{id}/cancel. The body is optional.
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, appErr := h.decodeReason(r)
	if appErr != nil {
		h.Logger.Error("CancelPayment: invalid request body", "error", appErr.Cause, "transaction_id", id)
		h.writeResponse(w, fail(appErr), http.StatusOK)
		return
	}

	resp := h.Service.CancelTransaction(r.Context(), id, req.Reason)
	if resp.Success {
		h.Logger.Info("CancelPayment: transaction cancelled",
			"transaction_id", id,
			"operator_id", internal.OperatorIDFromContext(r.Context()))
	}
	h.writeResponse(w, resp, http.StatusOK)
}

// RefundPayment handles POST /api/v1/payments/{id}/refund. The body is optional.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, appErr := h.decodeReason(r)
	if appErr != nil {
		h.Logger.Error("RefundPayment: invalid request body", "error", appErr.Cause, "transaction_id", id)
		h.writeResponse(w, fail(appErr), http.StatusOK)
		return
	}

	resp := h.Service.RefundTransaction(r.Context(), id, req.Reason)
	if resp.Success {
		h.Logger.Info("RefundPayment: transaction refunded",
			"transaction_id", id,
			"operator_id", internal.OperatorIDFromContext(r.Context()))
	}
	h.writeResponse(w, resp, http.StatusOK)
}

// GetInstallments handles GET /api/v1/payments/installments?amount=&max=
func (h *Handler) GetInstallments(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		h.HandleError(w, internal.NewValidationFieldError("amount", "amount must be a decimal number", internal.ErrCodeInvalidAmount))
		return
	}

	max := 0
	if maxStr := r.URL.Query().Get("max"); maxStr != "" {
		max, err = strconv.Atoi(maxStr)
		if err != nil || max < 1 {
			h.HandleError(w, internal.NewValidationFieldError("max", "max must be a positive integer", internal.ErrCodeValidationFailed))
			return
		}
	}

	options, err := h.Service.InstallmentOptions(InstallmentQuery{Amount: amount, MaxInstallments: max})
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	rounded := make([]InstallmentOption, len(options))
	for i, o := range options {
		rounded[i] = o.Rounded()
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"amount":  amount.StringFixed(2),
		"options": rounded,
	})
}

func (h *Handler) decodeReason(r *http.Request) (CancelRequest, *internal.AppError) {
	var req CancelRequest
	if r.Body == nil {
		return req, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil || len(body) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed).WithCause(err)
	}
	return req, nil
}

// writeResponse always writes the {success, transaction, error} envelope.
func (h *Handler) writeResponse(w http.ResponseWriter, resp Response, successStatus int) {
	if resp.Success {
		h.WriteJSON(w, successStatus, resp)
		return
	}
	status := http.StatusInternalServerError
	if resp.Error != nil && resp.Error.StatusCode != 0 {
		status = resp.Error.StatusCode
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("payment request failed", "code", errorCode(resp.Error), "error", errorCause(resp.Error))
	}
	h.WriteJSON(w, status, resp)
}

func errorCode(appErr *internal.AppError) string {
	if appErr == nil {
		return ""
	}
	return string(appErr.Code)
}

func errorCause(appErr *internal.AppError) error {
	if appErr == nil {
		return nil
	}
	if appErr.Cause != nil {
		return appErr.Cause
	}
	return errors.New(appErr.Message)
}
