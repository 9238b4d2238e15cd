package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	NATS     NATSConfig
	Inbox    InboxConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	WebhookSecret         string
	BootstrapAdminEmail   string
	BootstrapAdminPass    string
}

// NATSConfig configures the outbound gateway and analytics feed. An empty URL
// disables NATS and falls back to the log sender.
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	OutboundPrefix string
	EventsPrefix   string
}

// Enabled reports whether a NATS URL is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// InboxConfig tunes the conversation engine.
type InboxConfig struct {
	AutoCloseInterval    time.Duration
	DefaultAutoCloseDays string
	DeliveryTimeout      time.Duration
	SimulatedLatency     time.Duration
	ClinicPhone          string
	BookingURL           string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "patient-inbox"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			WebhookSecret:         os.Getenv("INBOX_WEBHOOK_SECRET"),
			BootstrapAdminEmail:   os.Getenv("AUTH_BOOTSTRAP_ADMIN_EMAIL"),
			BootstrapAdminPass:    os.Getenv("AUTH_BOOTSTRAP_ADMIN_PASSWORD"),
		},
		NATS: NATSConfig{
			URL:            os.Getenv("NATS_URL"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 60),
			ReconnectWait:  time.Duration(getEnvAsInt("NATS_RECONNECT_WAIT_SECONDS", 2)) * time.Second,
			OutboundPrefix: getEnv("NATS_OUTBOUND_PREFIX", "inbox.outbound"),
			EventsPrefix:   getEnv("NATS_EVENTS_PREFIX", "inbox.events"),
		},
		Inbox: InboxConfig{
			AutoCloseInterval:    time.Duration(getEnvAsInt("INBOX_AUTO_CLOSE_INTERVAL_SECONDS", 60)) * time.Second,
			DefaultAutoCloseDays: getEnv("INBOX_AUTO_CLOSE_DAYS", "7"),
			DeliveryTimeout:      time.Duration(getEnvAsInt("INBOX_DELIVERY_TIMEOUT_SECONDS", 30)) * time.Second,
			SimulatedLatency:     time.Duration(getEnvAsInt("INBOX_SIMULATED_DELIVERY_MS", 2000)) * time.Millisecond,
			ClinicPhone:          getEnv("INBOX_CLINIC_PHONE", "555-0100"),
			BookingURL:           getEnv("INBOX_BOOKING_URL", "[link]"),
		},
	}

	if _, err := domain.ParseAutoCloseSettings(cfg.Inbox.DefaultAutoCloseDays); err != nil {
		return nil, fmt.Errorf("invalid INBOX_AUTO_CLOSE_DAYS: %w", err)
	}
	if cfg.Inbox.AutoCloseInterval <= 0 {
		return nil, fmt.Errorf("INBOX_AUTO_CLOSE_INTERVAL_SECONDS must be positive")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
