package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/pos-payments/internal/auth"
	"github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/frahmantamala/pos-payments/internal/transport/middleware"
	"github.com/frahmantamala/pos-payments/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Routes bundles what RegisterAllRoutes mounts. Nil handlers are skipped.
type Routes struct {
	PaymentHandler      *payment.Handler
	CheckoutHandler     *payment.CheckoutHandler
	NotificationHandler *payment.NotificationHandler
	AuthHandler         *auth.Handler

	// TokenValidator enables bearer auth on /payments and /checkouts. When nil
	// the operator is taken from X-Operator-ID.
	TokenValidator middleware.TokenValidator
	Permissions    auth.PermissionChecker

	HealthComponents map[string]Pinger
	MetricsHandler   http.Handler
	MetricsPath      string
	SpecPath         string
	AllowedOrigins   string
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) {
	healthHandler := NewHealthHandler(routes.HealthComponents)

	permissions := routes.Permissions
	if permissions == nil {
		permissions = auth.NewPermissionChecker()
	}
	specPath := routes.SpecPath
	if specPath == "" {
		specPath = swagger.DefaultSpecPath
	}

	if routes.AllowedOrigins != "" {
		router.Use(middleware.CORS(routes.AllowedOrigins))
	}
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.TraceID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/openapi.yml", swagger.SpecHandler(specPath))
	router.Handle("/swagger/*", swagger.Handler())
	if routes.MetricsHandler != nil {
		path := routes.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, routes.MetricsHandler)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Acquirer push notifications are not operator traffic.
		if routes.NotificationHandler != nil {
			r.Post("/webhooks/pix", routes.NotificationHandler.HandlePixNotification)
		}

		r.Group(func(pr chi.Router) {
			if routes.TokenValidator != nil {
				pr.Use(middleware.Authenticate(routes.TokenValidator, logger))
			} else {
				pr.Use(middleware.OperatorContext)
			}

			if routes.AuthHandler != nil {
				pr.Get("/auth/me", routes.AuthHandler.Me)
			}

			if h := routes.PaymentHandler; h != nil {
				pr.Route("/payments", func(pm chi.Router) {
					pm.With(middleware.RequirePermissions(permissions, auth.PermissionPaymentsRead)).
						Get("/installments", h.GetInstallments)
					pm.With(middleware.RequirePermissions(permissions, auth.PermissionPaymentsRead)).
						Get("/{id}", h.GetPayment)

					pm.Group(func(cr chi.Router) {
						cr.Use(middleware.RequirePermissions(permissions, auth.PermissionPaymentsCreate))
						cr.Post("/pix", h.CreatePixPayment)
						cr.Post("/card", h.CreateCardPayment)
						cr.Post("/cash", h.CreateCashPayment)
						cr.Post("/voucher", h.CreateVoucherPayment)
					})

					pm.With(middleware.RequirePermissions(permissions, auth.PermissionPaymentsCancel)).
						Post("/{id}/cancel", h.CancelPayment)
					pm.With(middleware.RequirePermissions(permissions, auth.PermissionPaymentsRefund)).
						Post("/{id}/refund", h.RefundPayment)
				})
			}

			if h := routes.CheckoutHandler; h != nil {
				pr.Route("/checkouts", func(cr chi.Router) {
					cr.Use(middleware.RequirePermissions(permissions, auth.PermissionPaymentsCreate))
					cr.Post("/", h.StartCheckout)
					cr.Get("/{id}", h.GetCheckout)
					cr.Post("/{id}/method", h.SelectMethod)
					cr.Post("/{id}/back", h.Back)
					cr.Post("/{id}/pix", h.PayWithPix)
					cr.Post("/{id}/card", h.PayWithCard)
					cr.Post("/{id}/cash", h.PayWithCash)
					cr.Post("/{id}/voucher", h.PayWithVoucher)
				})
			}
		})
	})
}
