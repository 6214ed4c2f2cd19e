package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	Checkout CheckoutConfig
	Storage  StorageConfig
	Notifier NotifierConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host            string
	Port            int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	MinConnections  int
	MaxConnLifetime int // seconds
}

// LoggerConfig holds logger-related configuration.
type LoggerConfig struct {
	Level  string
	Format string // "json" or "console"
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	APIKey string
}

// GatewayConfig selects and configures the payment provider.
type GatewayConfig struct {
	Provider string // "thawani", "stripe" or "mock"

	ThawaniProduction     bool
	ThawaniBaseURL        string
	ThawaniSecretKey      string
	ThawaniPublishableKey string
	ThawaniWebhookSecret  string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeCurrency      string

	BreakerFailures    int
	BreakerOpenTimeout time.Duration
}

// CheckoutConfig holds purchase limits and payment timing.
type CheckoutConfig struct {
	MinimumTotal      decimal.Decimal
	MaximumTotal      decimal.Decimal
	MaxCartItems      int
	PollInterval      time.Duration
	PollMaxAttempts   int
	GatewayTimeout    time.Duration
	SweepEnabled      bool
	SweepInterval     time.Duration
	StalePendingAfter time.Duration
	AppBaseURL        string
}

// StorageConfig holds the download asset backend.
type StorageConfig struct {
	Backend         string // "s3" or "local"
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	LocalRoot       string
	LocalSecret     string
	DownloadURLTTL  time.Duration
}

// NotifierConfig holds the confirmation transport.
type NotifierConfig struct {
	Kind    string // "log", "nats" or "kafka"
	NATSURL string
	Subject string
	Brokers []string
	Topic   string
}

// RedisConfig holds the catalog cache connection.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is applied first when present; real variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "digistore"),
			MaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MinConnections:  getEnvAsInt("DB_MIN_CONNECTIONS", 5),
			MaxConnLifetime: getEnvAsInt("DB_MAX_CONN_LIFETIME", 300),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			APIKey: getEnv("API_KEY", ""),
		},
		Gateway: GatewayConfig{
			Provider:              strings.ToLower(getEnv("PAYMENT_PROVIDER", "thawani")),
			ThawaniProduction:     getEnvAsBool("THAWANI_PRODUCTION", false),
			ThawaniBaseURL:        getEnv("THAWANI_BASE_URL", ""),
			ThawaniSecretKey:      getEnv("THAWANI_SECRET_KEY", ""),
			ThawaniPublishableKey: getEnv("THAWANI_PUBLISHABLE_KEY", ""),
			ThawaniWebhookSecret:  getEnv("THAWANI_WEBHOOK_SECRET", ""),
			StripeSecretKey:       getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret:   getEnv("STRIPE_WEBHOOK_SECRET", ""),
			StripeCurrency:        getEnv("STRIPE_CURRENCY", "omr"),
			BreakerFailures:       getEnvAsInt("GATEWAY_BREAKER_FAILURES", 5),
			BreakerOpenTimeout:    getEnvAsDuration("GATEWAY_BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
		Checkout: CheckoutConfig{
			MinimumTotal:      getEnvAsDecimal("MINIMUM_TOTAL", decimal.RequireFromString("0.100")),
			MaximumTotal:      getEnvAsDecimal("MAXIMUM_TOTAL", decimal.RequireFromString("5000000.000")),
			MaxCartItems:      getEnvAsInt("MAX_CART_ITEMS", 100),
			PollInterval:      getEnvAsDuration("POLL_INTERVAL", 3*time.Second),
			PollMaxAttempts:   getEnvAsInt("POLL_MAX_ATTEMPTS", 10),
			GatewayTimeout:    getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
			SweepEnabled:      getEnvAsBool("SWEEP_ENABLED", true),
			SweepInterval:     getEnvAsDuration("SWEEP_INTERVAL", 10*time.Minute),
			StalePendingAfter: getEnvAsDuration("STALE_PENDING_AFTER", 48*time.Hour),
			AppBaseURL:        strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Prefix:          getEnv("S3_PREFIX", "assets/"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvAsBool("S3_USE_PATH_STYLE", false),
			LocalRoot:       getEnv("LOCAL_STORAGE_ROOT", "./assets"),
			LocalSecret:     getEnv("LOCAL_STORAGE_SECRET", ""),
			DownloadURLTTL:  getEnvAsDuration("DOWNLOAD_URL_TTL", 15*time.Minute),
		},
		Notifier: NotifierConfig{
			Kind:    strings.ToLower(getEnv("NOTIFIER", "log")),
			NATSURL: getEnv("NATS_URL", "nats://localhost:4222"),
			Subject: getEnv("NATS_SUBJECT", "orders.confirmed"),
			Brokers: getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "orders.confirmed"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("CATALOG_CACHE_TTL", 5*time.Minute),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvAsBool("METRICS_ENABLED", true),
			Namespace: getEnv("METRICS_NAMESPACE", "digistore"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}

	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	if c.Database.MinConnections < 1 {
		return fmt.Errorf("database min connections must be at least 1")
	}

	if c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database min connections cannot exceed max connections")
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("API key is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logger.Format)
	}

	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Checkout.validate(); err != nil {
		return err
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}

	switch c.Notifier.Kind {
	case "log":
	case "nats":
		if c.Notifier.NATSURL == "" || c.Notifier.Subject == "" {
			return fmt.Errorf("NATS URL and subject are required for the nats notifier")
		}
	case "kafka":
		if len(c.Notifier.Brokers) == 0 || c.Notifier.Topic == "" {
			return fmt.Errorf("Kafka brokers and topic are required for the kafka notifier")
		}
	default:
		return fmt.Errorf("invalid notifier: %s (must be log, nats, or kafka)", c.Notifier.Kind)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("Redis address is required when Redis is enabled")
	}

	return nil
}

func (g *GatewayConfig) validate() error {
	switch g.Provider {
	case "thawani":
		if g.ThawaniSecretKey == "" || g.ThawaniPublishableKey == "" {
			return fmt.Errorf("Thawani secret and publishable keys are required")
		}
	case "stripe":
		if g.StripeSecretKey == "" {
			return fmt.Errorf("Stripe secret key is required")
		}
	case "mock":
	default:
		return fmt.Errorf("invalid payment provider: %s (must be thawani, stripe, or mock)", g.Provider)
	}
	if g.BreakerFailures < 1 {
		return fmt.Errorf("gateway breaker failures must be at least 1")
	}
	return nil
}

func (c *CheckoutConfig) validate() error {
	if !c.MinimumTotal.IsPositive() {
		return fmt.Errorf("minimum total must be positive")
	}
	if c.MaximumTotal.LessThan(c.MinimumTotal) {
		return fmt.Errorf("maximum total cannot be below minimum total")
	}
	if c.MaxCartItems < 1 {
		return fmt.Errorf("max cart items must be at least 1")
	}
	if c.PollInterval <= 0 || c.PollMaxAttempts < 1 {
		return fmt.Errorf("poll interval and max attempts must be positive")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}
	if c.SweepEnabled && (c.SweepInterval <= 0 || c.StalePendingAfter <= 0) {
		return fmt.Errorf("sweep interval and stale pending age must be positive when sweeping is enabled")
	}
	if c.AppBaseURL == "" {
		return fmt.Errorf("app base URL is required")
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Backend {
	case "s3":
		if s.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when the s3 backend is used")
		}
		if s.Region == "" {
			return fmt.Errorf("S3 region is required when the s3 backend is used")
		}
	case "local":
		if s.LocalSecret == "" {
			return fmt.Errorf("local storage secret is required when the local backend is used")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be s3 or local)", s.Backend)
	}
	if s.DownloadURLTTL <= 0 {
		return fmt.Errorf("download URL TTL must be positive")
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Address returns the server address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration ("3s", "48h") or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsDecimal retrieves an environment variable as a decimal or returns a default value.
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsSlice retrieves a comma-separated environment variable or returns a default value.
func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
