package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/frahmantamala/pos-payments/pkg/logger"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that run beside (or instead of) the HTTP server.`,
}

var pixExpiryWorkerCmd = &cobra.Command{
	Use:   "pix-expiry",
	Short: "Start the PIX expiry sweep",
	Long:  `Periodically move pending PIX charges past their deadline to expired. Requires the postgres or redis store.`,
	Run: func(cmd *cobra.Command, args []string) {
		startPixExpiryWorker()
	},
}

var (
	sweepInterval  time.Duration
	sweepBatchSize int
	sweepOnce      bool
)

func startPixExpiryWorker() {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg := logger.LoggerWrapper()

	app, err := buildApp(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	interval := getDurationFlag(sweepInterval, cfg.Payment.Expiry.Interval)
	batch := getIntFlag(sweepBatchSize, cfg.Payment.Expiry.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sweepOnce {
		n, err := app.Service.ExpireStalePix(ctx, batch)
		if err != nil {
			lg.Error("pix expiry sweep failed", "error", err)
		} else {
			lg.Info("pix expiry sweep complete", "expired", n)
		}
		shutdownApp(app)
		return
	}

	worker := payment.NewExpiryWorker(app.Service, interval, batch, nil, lg)
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lg.Info("pix expiry worker is running. Press Ctrl+C to stop.")

	select {
	case sig := <-sigChan:
		lg.Info("received signal, shutting down pix expiry worker", "signal", sig)
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			lg.Error("pix expiry worker exited", "error", err)
		}
	}
	shutdownApp(app)
}

func shutdownApp(app *App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.Shutdown(ctx)
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	pixExpiryWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval (overrides config)")
	pixExpiryWorkerCmd.Flags().IntVar(&sweepBatchSize, "batch-size", 0, "Transactions expired per query (overrides config)")
	pixExpiryWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep and exit")

	workerCmd.AddCommand(pixExpiryWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
