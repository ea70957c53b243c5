package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/auth"
)

// RequirePermissions creates a middleware that checks if the operator holds any of the required permissions
func RequirePermissions(checker auth.PermissionChecker, permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator, ok := auth.OperatorFromContext(r.Context())
			if !ok {
				writeAppError(w, internal.NewUnauthorizedError("unauthorized", internal.ErrCodeInvalidToken))
				return
			}

			if !checker.HasAnyPermission(operator.Permissions, permissions) {
				slog.Warn("Access denied: operator lacks required permissions",
					"operator_id", operator.ID,
					"required_permissions", permissions,
					"operator_permissions", operator.Permissions)
				writeAppError(w, internal.NewForbiddenError("insufficient permissions", internal.ErrCodeMissingPermission))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
