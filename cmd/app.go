package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/pos-payments/internal"
	"github.com/frahmantamala/pos-payments/internal/core/events"
	"github.com/frahmantamala/pos-payments/internal/metrics"
	"github.com/frahmantamala/pos-payments/internal/payment"
	"github.com/frahmantamala/pos-payments/internal/payment/postgres"
	paymentredis "github.com/frahmantamala/pos-payments/internal/payment/redis"
	"github.com/frahmantamala/pos-payments/internal/paymentgateway"
	"github.com/frahmantamala/pos-payments/internal/salesfeed"
	"github.com/frahmantamala/pos-payments/internal/transport/rest"
	"github.com/frahmantamala/pos-payments/internal/webhook"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// App holds the wired payment core shared by the server and the workers.
type App struct {
	Config     *internal.Config
	Logger     *slog.Logger
	Store      payment.Store
	Service    *payment.Service
	Processor  *payment.Processor
	EventBus   *events.EventBus
	Dispatcher *webhook.Dispatcher
	SalesFeed  *salesfeed.Feed
	Metrics    *metrics.Metrics
	Health     map[string]rest.Pinger

	closers []func() error
}

func buildApp(cfg *internal.Config, lg *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: lg,
		Health: map[string]rest.Pinger{},
	}

	if cfg.Observability.Metrics.Enabled {
		app.Metrics = metrics.New()
	}

	store, err := app.openStore()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	app.EventBus = events.NewEventBus(lg)

	app.Dispatcher = webhook.NewDispatcher(cfg.Webhook, lg)
	payment.NewEventHandler(app.Dispatcher, lg).RegisterEventHandlers(app.EventBus)

	if cfg.SalesFeed.Enabled {
		writer := salesfeed.NewWriter(cfg.SalesFeed)
		app.SalesFeed = salesfeed.NewFeed(writer, cfg.SalesFeed, lg)
		app.SalesFeed.RegisterEventHandlers(app.EventBus)
		app.closers = append(app.closers, app.SalesFeed.Close)
	}

	var gatewayOpts []paymentgateway.Option
	var recorder payment.Recorder
	if app.Metrics != nil {
		gatewayOpts = append(gatewayOpts, paymentgateway.WithLatencyObserver(app.Metrics))
		recorder = app.Metrics
	}
	gateway := paymentgateway.NewSimulatorFromConfig(cfg.Payment, lg, gatewayOpts...)

	serviceOpts := []payment.ServiceOption{payment.WithEventPublisher(app.EventBus)}
	processorOpts := []payment.ProcessorOption{
		payment.WithProcessorPublisher(app.EventBus),
		payment.WithMonitorOptions(
			payment.WithPollInterval(cfg.Payment.Pix.PollInterval),
			payment.WithCountdownInterval(cfg.Payment.Pix.CountdownInterval),
		),
		payment.WithSessionRetention(
			cfg.Payment.Checkout.CompletedRetention,
			cfg.Payment.Checkout.IdleRetention,
			cfg.Payment.Checkout.SweepInterval,
		),
	}
	if recorder != nil {
		serviceOpts = append(serviceOpts, payment.WithRecorder(recorder))
		processorOpts = append(processorOpts, payment.WithProcessorRecorder(recorder))
	}

	app.Service = payment.NewService(store, gateway, payment.ServiceConfigFromConfig(cfg.Payment), lg, serviceOpts...)
	app.Processor = payment.NewProcessor(app.Service, lg, processorOpts...)

	return app, nil
}

func (a *App) openStore() (payment.Store, error) {
	cfg := a.Config
	switch cfg.Database.Driver {
	case internal.StoreDriverPostgres:
		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, sqlDB.Close)
		a.Health["postgres"] = sqlDB

		gdb, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB.DB}), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open gorm: %w", err)
		}
		return postgres.NewTransactionRepository(gdb), nil

	case internal.StoreDriverRedis:
		client := paymentredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		a.closers = append(a.closers, client.Close)
		repo := paymentredis.NewTransactionRepository(client, cfg.Redis.KeyPrefix)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := repo.PingContext(ctx); err != nil {
			return nil, err
		}
		a.Health["redis"] = repo
		return repo, nil

	default:
		a.Logger.Warn("using in-memory transaction store; data is lost on restart")
		return payment.NewMemoryStore(), nil
	}
}

// Shutdown stops checkouts, flushes pending events and webhooks, then closes connections.
func (a *App) Shutdown(ctx context.Context) {
	a.Processor.Shutdown()
	a.EventBus.Wait()
	if err := a.Dispatcher.Drain(ctx); err != nil {
		a.Logger.Warn("webhook queue not drained before shutdown", "error", err)
	}
	a.Dispatcher.Shutdown(ctx)
	a.Close()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Error("close failed", "error", err)
		}
	}
	a.closers = nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
