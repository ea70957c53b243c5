package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	SalesFeed     SalesFeedConfig     `mapstructure:"sales_feed"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=memory postgres redis"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SecurityConfig struct {
	AuthEnabled         bool          `mapstructure:"auth_enabled"`
	JWTSecret           string        `mapstructure:"jwt_secret" validate:"required_if=AuthEnabled true,min=32"`
	TokenIssuer         string        `mapstructure:"token_issuer"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m"`
}

type PaymentConfig struct {
	Currency         string        `mapstructure:"currency"`
	MerchantName     string        `mapstructure:"merchant_name"`
	MerchantCity     string        `mapstructure:"merchant_city"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Methods          MethodsConfig `mapstructure:"methods"`
	Pix              PixConfig     `mapstructure:"pix"`
	Card             CardConfig    `mapstructure:"card"`
	Gateway          GatewayConfig `mapstructure:"gateway"`
	Expiry           ExpiryConfig   `mapstructure:"expiry"`
	Checkout         CheckoutConfig `mapstructure:"checkout"`
}

type MethodsConfig struct {
	PixEnabled     bool `mapstructure:"pix_enabled"`
	CardEnabled    bool `mapstructure:"card_enabled"`
	CashEnabled    bool `mapstructure:"cash_enabled"`
	VoucherEnabled bool `mapstructure:"voucher_enabled"`
}

type PixConfig struct {
	ExpiresIn         time.Duration `mapstructure:"expires_in"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	CountdownInterval time.Duration `mapstructure:"countdown_interval"`
}

type CardConfig struct {
	MaxInstallments          int     `mapstructure:"max_installments"`
	InterestFreeInstallments int     `mapstructure:"interest_free_installments"`
	MonthlyInterestRate      float64 `mapstructure:"monthly_interest_rate"`
}

// GatewayConfig drives the simulated gateway policies.
type GatewayConfig struct {
	Name                  string        `mapstructure:"name"`
	Latency               time.Duration `mapstructure:"latency"`
	FailureRate           float64       `mapstructure:"failure_rate" validate:"min=0,max=1"`
	DeclineRate           float64       `mapstructure:"decline_rate" validate:"min=0,max=1"`
	SettlementProbability float64       `mapstructure:"settlement_probability" validate:"min=0,max=1"`
}

type ExpiryConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// CheckoutConfig bounds how long finished or abandoned checkout sessions stay in memory.
type CheckoutConfig struct {
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
	IdleRetention      time.Duration `mapstructure:"idle_retention"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

type WebhookConfig struct {
	MaxWorkers     int           `mapstructure:"max_workers"`
	JobQueueSize   int           `mapstructure:"job_queue_size"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
}

type SalesFeedConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      string        `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- DEFAULTS -----------------

// ApplyDefaults fills zero values left by a partial config file.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = StoreDriverMemory
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "pos-payments"
	}
	if c.Security.TokenIssuer == "" {
		c.Security.TokenIssuer = "pos-payments"
	}
	if c.Security.AccessTokenDuration == 0 {
		c.Security.AccessTokenDuration = 12 * time.Hour
	}
	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}

	p := &c.Payment
	if p.Currency == "" {
		p.Currency = "BRL"
	}
	if p.MerchantName == "" {
		p.MerchantName = "PADARIA"
	}
	if p.MerchantCity == "" {
		p.MerchantCity = "SAO PAULO"
	}
	if p.OperationTimeout == 0 {
		p.OperationTimeout = 10 * time.Second
	}
	if p.Pix.ExpiresIn == 0 {
		p.Pix.ExpiresIn = 1800 * time.Second
	}
	if p.Pix.PollInterval == 0 {
		p.Pix.PollInterval = 5 * time.Second
	}
	if p.Pix.CountdownInterval == 0 {
		p.Pix.CountdownInterval = time.Second
	}
	if p.Card.MaxInstallments == 0 {
		p.Card.MaxInstallments = 12
	}
	if p.Card.InterestFreeInstallments == 0 {
		p.Card.InterestFreeInstallments = 6
	}
	if p.Card.MonthlyInterestRate == 0 {
		p.Card.MonthlyInterestRate = 0.0199
	}
	if p.Gateway.Name == "" {
		p.Gateway.Name = "simulated-tef"
	}
	if p.Expiry.Interval == 0 {
		p.Expiry.Interval = 30 * time.Second
	}
	if p.Expiry.BatchSize == 0 {
		p.Expiry.BatchSize = 100
	}
	if p.Checkout.CompletedRetention == 0 {
		p.Checkout.CompletedRetention = 15 * time.Minute
	}
	if p.Checkout.IdleRetention == 0 {
		p.Checkout.IdleRetention = 2 * time.Hour
	}
	if p.Checkout.SweepInterval == 0 {
		p.Checkout.SweepInterval = time.Minute
	}

	if c.Webhook.MaxWorkers == 0 {
		c.Webhook.MaxWorkers = 4
	}
	if c.Webhook.JobQueueSize == 0 {
		c.Webhook.JobQueueSize = 100
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}
	if c.Webhook.MaxAttempts == 0 {
		c.Webhook.MaxAttempts = 3
	}

	if c.SalesFeed.Topic == "" {
		c.SalesFeed.Topic = "pos.sales.completed"
	}
	if c.SalesFeed.WriteTimeout == 0 {
		c.SalesFeed.WriteTimeout = 5 * time.Second
	}
}

// LoadConfigFromEnv builds the config from plain environment variables (container deployments).
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Environment: getEnv("APP_ENV", "production"),
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", ""),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", ""),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DATABASE_DRIVER", StoreDriverPostgres),
			Source:          getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "pos-payments"),
		},
		Security: SecurityConfig{
			AuthEnabled:         getEnvAsBool("AUTH_ENABLED", true),
			JWTSecret:           getEnv("JWT_SECRET", ""),
			TokenIssuer:         getEnv("JWT_ISSUER", "pos-payments"),
			AccessTokenDuration: getEnvAsDuration("ACCESS_TOKEN_DURATION", 12*time.Hour),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Payment: PaymentConfig{
			Currency:         getEnv("PAYMENT_CURRENCY", "BRL"),
			MerchantName:     getEnv("PAYMENT_MERCHANT_NAME", "PADARIA"),
			MerchantCity:     getEnv("PAYMENT_MERCHANT_CITY", "SAO PAULO"),
			OperationTimeout: getEnvAsDuration("PAYMENT_OPERATION_TIMEOUT", 10*time.Second),
			Methods: MethodsConfig{
				PixEnabled:     getEnvAsBool("PAYMENT_PIX_ENABLED", true),
				CardEnabled:    getEnvAsBool("PAYMENT_CARD_ENABLED", true),
				CashEnabled:    getEnvAsBool("PAYMENT_CASH_ENABLED", true),
				VoucherEnabled: getEnvAsBool("PAYMENT_VOUCHER_ENABLED", true),
			},
			Pix: PixConfig{
				ExpiresIn:         getEnvAsDuration("PAYMENT_PIX_EXPIRES_IN", 1800*time.Second),
				PollInterval:      getEnvAsDuration("PAYMENT_PIX_POLL_INTERVAL", 5*time.Second),
				CountdownInterval: getEnvAsDuration("PAYMENT_PIX_COUNTDOWN_INTERVAL", time.Second),
			},
			Card: CardConfig{
				MaxInstallments:          getEnvAsInt("PAYMENT_CARD_MAX_INSTALLMENTS", 12),
				InterestFreeInstallments: getEnvAsInt("PAYMENT_CARD_INTEREST_FREE_INSTALLMENTS", 6),
				MonthlyInterestRate:      getEnvAsFloat("PAYMENT_CARD_MONTHLY_INTEREST_RATE", 0.0199),
			},
			Gateway: GatewayConfig{
				Name:                  getEnv("PAYMENT_GATEWAY_NAME", "simulated-tef"),
				Latency:               getEnvAsDuration("PAYMENT_GATEWAY_LATENCY", 1500*time.Millisecond),
				FailureRate:           getEnvAsFloat("PAYMENT_GATEWAY_FAILURE_RATE", 0.1),
				DeclineRate:           getEnvAsFloat("PAYMENT_GATEWAY_DECLINE_RATE", 0),
				SettlementProbability: getEnvAsFloat("PAYMENT_GATEWAY_SETTLEMENT_PROBABILITY", 0.3),
			},
			Expiry: ExpiryConfig{
				Interval:  getEnvAsDuration("PAYMENT_EXPIRY_INTERVAL", 30*time.Second),
				BatchSize: getEnvAsInt("PAYMENT_EXPIRY_BATCH_SIZE", 100),
			},
			Checkout: CheckoutConfig{
				CompletedRetention: getEnvAsDuration("PAYMENT_CHECKOUT_COMPLETED_RETENTION", 15*time.Minute),
				IdleRetention:      getEnvAsDuration("PAYMENT_CHECKOUT_IDLE_RETENTION", 2*time.Hour),
				SweepInterval:      getEnvAsDuration("PAYMENT_CHECKOUT_SWEEP_INTERVAL", time.Minute),
			},
		},
		Webhook: WebhookConfig{
			MaxWorkers:     getEnvAsInt("WEBHOOK_MAX_WORKERS", 4),
			JobQueueSize:   getEnvAsInt("WEBHOOK_JOB_QUEUE_SIZE", 100),
			WorkerPoolSize: getEnvAsInt("WEBHOOK_WORKER_POOL_SIZE", 0),
			Timeout:        getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 3),
		},
		SalesFeed: SalesFeedConfig{
			Enabled:      getEnvAsBool("SALES_FEED_ENABLED", false),
			Brokers:      getEnv("SALES_FEED_BROKERS", "localhost:9092"),
			Topic:        getEnv("SALES_FEED_TOPIC", "pos.sales.completed"),
			WriteTimeout: getEnvAsDuration("SALES_FEED_WRITE_TIMEOUT", 5*time.Second),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if c.Database.Driver == StoreDriverRedis {
		if err := c.Redis.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("redis config: %v", err))
		}
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.SalesFeed.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("sales feed config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case StoreDriverMemory, StoreDriverRedis:
		return nil
	case StoreDriverPostgres:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Source == "" {
		return errors.New("source is required for the postgres driver")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	return nil
}

func (c *SecurityConfig) Validate() error {
	if !c.AuthEnabled {
		return nil
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt secret must be at least 32 characters")
	}
	return nil
}

func (c *PaymentConfig) Validate() error {
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be an ISO 4217 code, got %q", c.Currency)
	}
	if c.Card.MaxInstallments < 1 {
		return errors.New("card.max_installments must be at least 1")
	}
	if c.Card.InterestFreeInstallments < 1 {
		return errors.New("card.interest_free_installments must be at least 1")
	}
	if c.Card.MonthlyInterestRate < 0 {
		return errors.New("card.monthly_interest_rate cannot be negative")
	}
	for name, rate := range map[string]float64{
		"gateway.failure_rate":           c.Gateway.FailureRate,
		"gateway.decline_rate":           c.Gateway.DeclineRate,
		"gateway.settlement_probability": c.Gateway.SettlementProbability,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be between 0 and 1", name)
		}
	}
	if c.Pix.ExpiresIn <= 0 || c.Pix.ExpiresIn > 24*time.Hour {
		return errors.New("pix.expires_in must be between 1s and 24h")
	}
	if c.Checkout.CompletedRetention < 0 || c.Checkout.IdleRetention < 0 {
		return errors.New("checkout retention cannot be negative")
	}
	return nil
}

func (c *SalesFeedConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.BrokerList()) == 0 {
		return errors.New("brokers are required when the sales feed is enabled")
	}
	if c.Topic == "" {
		return errors.New("topic is required when the sales feed is enabled")
	}
	return nil
}

func (c *SalesFeedConfig) BrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
