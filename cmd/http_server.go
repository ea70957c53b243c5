package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/pos-payments/internal/auth"
	"github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/frahmantamala/pos-payments/internal/transport/rest"
	"github.com/frahmantamala/pos-payments/internal/transport/swagger"
	"github.com/frahmantamala/pos-payments/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var (
	specPath       string
	runExpirySweep bool
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server exposing the payment and checkout API`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg := logger.L()

	if _, err := swagger.LoadSpec(context.Background(), specPath); err != nil {
		lg.Warn("openapi document not loaded", "error", err)
	}

	app, err := buildApp(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, buildRoutes(app), lg)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting HTTP server", "address", addr, "store", cfg.Database.Driver)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if runExpirySweep {
		worker := payment.NewExpiryWorker(app.Service, cfg.Payment.Expiry.Interval, cfg.Payment.Expiry.BatchSize, nil, lg)
		go func() {
			if err := worker.Run(workerCtx); err != nil {
				lg.Warn("pix expiry worker not running", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
		stopWorkers()
		app.Shutdown(ctx)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			app.Close()
			os.Exit(1)
		}
	}

	slog.Info("Server stopped")
}

func buildRoutes(app *App) rest.Routes {
	cfg := app.Config
	routes := rest.Routes{
		PaymentHandler:      payment.NewHandler(app.Service, app.Logger),
		CheckoutHandler:     payment.NewCheckoutHandler(app.Processor, app.Logger),
		NotificationHandler: payment.NewNotificationHandler(app.Service, app.Logger),
		AuthHandler:         auth.NewHandler(app.Logger),
		Permissions:         auth.NewPermissionChecker(),
		HealthComponents:    app.Health,
		SpecPath:            specPath,
		AllowedOrigins:      cfg.Server.AllowedOrigins,
	}
	if cfg.Security.AuthEnabled {
		routes.TokenValidator = newTokenGenerator(cfg)
	}
	if app.Metrics != nil {
		routes.MetricsHandler = app.Metrics.Handler()
		routes.MetricsPath = cfg.Observability.Metrics.Path
	}
	return routes
}

func init() {
	httpServerCmd.Flags().StringVar(&specPath, "spec", swagger.DefaultSpecPath, "OpenAPI document served at /openapi.yml")
	httpServerCmd.Flags().BoolVar(&runExpirySweep, "expiry-sweep", true, "run the PIX expiry sweep inside the server process")
}
