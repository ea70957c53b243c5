package payment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/transport"
	"github.com/go-chi/chi"
)

// CheckoutAPI is implemented by *Processor.
type CheckoutAPI interface {
	Start(ctx context.Context, in CheckoutInput) (*Checkout, *internal.AppError)
	Get(ctx context.Context, id string) (*Checkout, *internal.AppError)
	SelectMethod(ctx context.Context, id string, in SelectMethodInput) (*Checkout, *internal.AppError)
	Back(ctx context.Context, id string) (*Checkout, *internal.AppError)
	PayWithPix(ctx context.Context, id string, in PixCheckoutInput) Response
	PayWithCard(ctx context.Context, id string, in CardCheckoutInput) Response
	PayWithCash(ctx context.Context, id string, in CashCheckoutInput) Response
	PayWithVoucher(ctx context.Context, id string, in VoucherCheckoutInput) Response
}

var _ CheckoutAPI = (*Processor)(nil)

type CheckoutHandler struct {
	*transport.BaseHandler
	Checkouts CheckoutAPI
}

func NewCheckoutHandler(checkouts CheckoutAPI, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		BaseHandler: transport.NewBaseHandler(logger),
		Checkouts:   checkouts,
	}
}

type checkoutPaymentResponse struct {
	ResponseView
	Checkout *CheckoutView `json:"checkout,omitempty"`
}

// StartCheckout handles POST /api/v1/checkouts
func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var in CheckoutInput
	if appErr := h.DecodeJSON(r, &in); appErr != nil {
		h.Logger.Error("StartCheckout: invalid request body", "error", appErr.Cause)
		h.HandleError(w, appErr)
		return
	}

	checkout, appErr := h.Checkouts.Start(r.Context(), in)
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	h.WriteJSON(w, http.StatusCreated, checkout)
}

// GetCheckout handles GET /api/v1/checkouts/{id}
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	checkout, appErr := h.Checkouts.Get(r.Context(), chi.URLParam(r, "id"))
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	h.WriteJSON(w, http.StatusOK, checkout)
}

// SelectMethod handles POST /api/v1/checkouts/{id}/method
func (h *CheckoutHandler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	var in SelectMethodInput
	if appErr := h.DecodeJSON(r, &in); appErr != nil {
		h.Logger.Error("SelectMethod: invalid request body", "error", appErr.Cause)
		h.HandleError(w, appErr)
		return
	}

	checkout, appErr := h.Checkouts.SelectMethod(r.Context(), chi.URLParam(r, "id"), in)
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	h.WriteJSON(w, http.StatusOK, checkout)
}

// Back handles POST /api/v1/checkouts/{id}/back
func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	checkout, appErr := h.Checkouts.Back(r.Context(), chi.URLParam(r, "id"))
	if appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	h.WriteJSON(w, http.StatusOK, checkout)
}

// PayWithPix handles POST /api/v1/checkouts/{id}/pix
func (h *CheckoutHandler) PayWithPix(w http.ResponseWriter, r *http.Request) {
	var in PixCheckoutInput
	if appErr := h.decodeOptional(r, &in); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	id := chi.URLParam(r, "id")
	h.writePayment(w, r, id, h.Checkouts.PayWithPix(r.Context(), id, in))
}

// PayWithCard handles POST /api/v1/checkouts/{id}/card
func (h *CheckoutHandler) PayWithCard(w http.ResponseWriter, r *http.Request) {
	var in CardCheckoutInput
	if appErr := h.decodeOptional(r, &in); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	id := chi.URLParam(r, "id")
	h.writePayment(w, r, id, h.Checkouts.PayWithCard(r.Context(), id, in))
}

// PayWithCash handles POST /api/v1/checkouts/{id}/cash
func (h *CheckoutHandler) PayWithCash(w http.ResponseWriter, r *http.Request) {
	var in CashCheckoutInput
	if appErr := h.DecodeJSON(r, &in); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	id := chi.URLParam(r, "id")
	h.writePayment(w, r, id, h.Checkouts.PayWithCash(r.Context(), id, in))
}

// PayWithVoucher handles POST /api/v1/checkouts/{id}/voucher
func (h *CheckoutHandler) PayWithVoucher(w http.ResponseWriter, r *http.Request) {
	var in VoucherCheckoutInput
	if appErr := h.DecodeJSON(r, &in); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	id := chi.URLParam(r, "id")
	h.writePayment(w, r, id, h.Checkouts.PayWithVoucher(r.Context(), id, in))
}

func (h *CheckoutHandler) decodeOptional(r *http.Request, dst interface{}) *internal.AppError {
	if r.ContentLength == 0 {
		return nil
	}
	return h.DecodeJSON(r, dst)
}

func (h *CheckoutHandler) writePayment(w http.ResponseWriter, r *http.Request, id string, resp Response) {
	body := checkoutPaymentResponse{ResponseView: resp.View()}
	if checkout, appErr := h.Checkouts.Get(r.Context(), id); appErr == nil {
		view := checkout.View()
		body.Checkout = &view
	}

	if resp.Success {
		h.WriteJSON(w, http.StatusOK, body)
		return
	}
	status := http.StatusInternalServerError
	if resp.Error != nil && resp.Error.StatusCode != 0 {
		status = resp.Error.StatusCode
	}
	h.WriteJSON(w, status, body)
}
