package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/auth"
	"github.com/frahmantamala/pos-payments/pkg/logger"
)

// TokenValidator is satisfied by *auth.JWTTokenGenerator.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Authenticate resolves the bearer token into an operator and stores it in
// the request context, alongside the operator id read by the payment service.
func Authenticate(validator TokenValidator, lg *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := validator.ValidateToken(bearerToken(r))
			if err != nil {
				lg.Warn("rejected operator token", "path", r.URL.Path, "error", err)
				appErr := internal.NewUnauthorizedError("invalid token", internal.ErrCodeInvalidToken)
				if errors.Is(err, auth.ErrTokenExpired) {
					appErr = internal.NewUnauthorizedError("token expired", internal.ErrCodeTokenExpired)
				} else if errors.Is(err, auth.ErrMissingToken) {
					appErr = internal.NewUnauthorizedError("missing bearer token", internal.ErrCodeInvalidToken)
				}
				writeAppError(w, appErr)
				return
			}

			next.ServeHTTP(w, r.WithContext(withOperator(r, claims.Operator())))
		})
	}
}

// OperatorContext is used when token auth is disabled: the operator id comes
// from the X-Operator-ID header and holds every permission.
func OperatorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operatorID := r.Header.Get("X-Operator-ID")
		if operatorID == "" {
			operatorID = "local"
		}
		operator := &auth.Operator{ID: operatorID, Permissions: []string{auth.PermissionAdmin}}
		next.ServeHTTP(w, r.WithContext(withOperator(r, operator)))
	})
}

func withOperator(r *http.Request, operator *auth.Operator) context.Context {
	ctx := auth.ContextWithOperator(r.Context(), operator)
	ctx = internal.ContextWithOperatorID(ctx, operator.ID)
	return logger.With(ctx, "operatorID", operator.ID)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeAppError(w http.ResponseWriter, appErr *internal.AppError) {
	status, body := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
