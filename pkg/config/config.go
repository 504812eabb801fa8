package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Driver          string // postgres or sqlite
	SQLitePath      string
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration for the admin API
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// WorkerConfig controls the sync queue worker
type WorkerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	StaleAfter  time.Duration
	CallTimeout time.Duration
}

// SchedulerConfig controls the price scheduler loop
type SchedulerConfig struct {
	Interval    time.Duration
	RetryWindow time.Duration
}

// TokenRefreshConfig controls the credential refresh loop
type TokenRefreshConfig struct {
	Interval time.Duration
	LeadTime time.Duration
}

// ReconcilerConfig controls the polling catalog reconciler
type ReconcilerConfig struct {
	Enabled  bool
	Interval time.Duration
	PageSize int
}

// ESLConfig holds the rendering service endpoint
type ESLConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit int // requests per second
}

// OAuthAppConfig holds the app-level OAuth client for one source system
type OAuthAppConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// AdaptersConfig holds per-source endpoints; tenant credentials live on the tenant record
type AdaptersConfig struct {
	Timeout    time.Duration
	RateLimit  int
	NCRBaseURL string
	ShopifyAPI string
	Square     OAuthAppConfig
	Clover     OAuthAppConfig
}

// EventsConfig holds the optional audit event sink
type EventsConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// Config holds all configuration
type Config struct {
	ServiceName  string
	DB           DBConfig
	Server       ServerConfig
	JWT          JWTConfig
	Log          LogConfig
	Metrics      MetricsConfig
	Worker       WorkerConfig
	Scheduler    SchedulerConfig
	TokenRefresh TokenRefreshConfig
	Reconciler   ReconcilerConfig
	ESL          ESLConfig
	Adapters     AdaptersConfig
	Events       EventsConfig
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: serviceName,
		DB: DBConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			SQLitePath:      getEnv("DB_SQLITE_PATH", "esl-sync.db"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "esl_sync"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 50),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "defaultsecretkey"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "esl_sync"),
		},
		Worker: WorkerConfig{
			Interval:    getEnvAsDuration("WORKER_INTERVAL", 5*time.Second),
			BatchSize:   getEnvAsInt("WORKER_BATCH_SIZE", 50),
			MaxAttempts: getEnvAsInt("WORKER_MAX_ATTEMPTS", 5),
			BackoffBase: getEnvAsDuration("WORKER_BACKOFF_BASE", 30*time.Second),
			BackoffMax:  getEnvAsDuration("WORKER_BACKOFF_MAX", 30*time.Minute),
			StaleAfter:  getEnvAsDuration("WORKER_STALE_AFTER", 10*time.Minute),
			CallTimeout: getEnvAsDuration("WORKER_CALL_TIMEOUT", 15*time.Second),
		},
		Scheduler: SchedulerConfig{
			Interval:    getEnvAsDuration("SCHEDULER_INTERVAL", 30*time.Second),
			RetryWindow: getEnvAsDuration("SCHEDULER_RETRY_WINDOW", 1*time.Hour),
		},
		TokenRefresh: TokenRefreshConfig{
			Interval: getEnvAsDuration("TOKEN_REFRESH_INTERVAL", 1*time.Hour),
			LeadTime: getEnvAsDuration("TOKEN_REFRESH_LEAD_TIME", 24*time.Hour),
		},
		Reconciler: ReconcilerConfig{
			Enabled:  getEnvAsBool("RECONCILER_ENABLED", false),
			Interval: getEnvAsDuration("RECONCILER_INTERVAL", 15*time.Minute),
			PageSize: getEnvAsInt("RECONCILER_PAGE_SIZE", 100),
		},
		ESL: ESLConfig{
			BaseURL:   getEnv("ESL_BASE_URL", "http://localhost:9000"),
			APIKey:    getEnv("ESL_API_KEY", ""),
			Timeout:   getEnvAsDuration("ESL_TIMEOUT", 10*time.Second),
			RateLimit: getEnvAsInt("ESL_RATE_LIMIT", 10),
		},
		Adapters: AdaptersConfig{
			Timeout:    getEnvAsDuration("ADAPTER_TIMEOUT", 15*time.Second),
			RateLimit:  getEnvAsInt("ADAPTER_RATE_LIMIT", 5),
			NCRBaseURL: getEnv("NCR_BASE_URL", "https://api.ncr.com"),
			ShopifyAPI: getEnv("SHOPIFY_API_VERSION", "2024-01"),
			Square: OAuthAppConfig{
				BaseURL:      getEnv("SQUARE_BASE_URL", "https://connect.squareup.com"),
				TokenURL:     getEnv("SQUARE_TOKEN_URL", "https://connect.squareup.com/oauth2/token"),
				ClientID:     getEnv("SQUARE_CLIENT_ID", ""),
				ClientSecret: getEnv("SQUARE_CLIENT_SECRET", ""),
			},
			Clover: OAuthAppConfig{
				BaseURL:      getEnv("CLOVER_BASE_URL", "https://api.clover.com"),
				TokenURL:     getEnv("CLOVER_TOKEN_URL", "https://www.clover.com/oauth/v2/refresh"),
				ClientID:     getEnv("CLOVER_CLIENT_ID", ""),
				ClientSecret: getEnv("CLOVER_CLIENT_SECRET", ""),
			},
		},
		Events: EventsConfig{
			KafkaBrokers: splitCSV(getEnv("EVENTS_KAFKA_BROKERS", "")),
			KafkaTopic:   getEnv("EVENTS_KAFKA_TOPIC", "esl-sync-audit"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be > 0")
	}
	if c.Worker.Interval <= 0 || c.Scheduler.Interval <= 0 || c.TokenRefresh.Interval <= 0 {
		return fmt.Errorf("loop intervals must be > 0")
	}
	if c.DB.Driver != "postgres" && c.DB.Driver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver)
	}
	if c.ESL.BaseURL == "" {
		return fmt.Errorf("ESL_BASE_URL must not be empty")
	}
	return nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_driver", c.DB.Driver),
		zap.String("db_host", c.DB.Host),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.Duration("worker_interval", c.Worker.Interval),
		zap.Duration("scheduler_interval", c.Scheduler.Interval),
		zap.Bool("reconciler_enabled", c.Reconciler.Enabled),
		zap.Bool("events_enabled", len(c.Events.KafkaBrokers) > 0),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
