package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/pos-payments/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
	}
}

// Me handles GET /api/v1/auth/me and echoes the operator resolved from the token.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	operator, ok := OperatorFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.WriteJSON(w, http.StatusOK, operator)
}
