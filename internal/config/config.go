package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Lock         LockConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	SMS          SMSConfig
	SMTP         SMTPConfig
	Report       ReportConfig
	Relay        RelayConfig
	Kafka        KafkaConfig
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

// LockConfig selects the single-writer lock backend.
type LockConfig struct {
	Backend    string
	TTLSeconds int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token verification parameters.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
}

// NotificationConfig controls dispatch retry and fan-out.
type NotificationConfig struct {
	MaxAttempts       int
	InitialBackoffMS  int
	BackoffMultiplier int
	Workers           int
	SMSMaxLength      int
	TemplateCatalog   string
}

// SMSConfig points at the HTTP SMS gateway.
type SMSConfig struct {
	GatewayURL     string
	APIKey         string
	SenderID       string
	TimeoutSeconds int
}

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// ReportConfig controls the supplier daily digest.
type ReportConfig struct {
	ScheduleMinutes int
	LookbackDays    int
	TimeZones       map[string]string
}

// RelayConfig controls the outbox relay loop.
type RelayConfig struct {
	PollSeconds int
	BatchSize   int
}

// KafkaConfig enables the event mirror when brokers are configured.
type KafkaConfig struct {
	Brokers []string
	Topic   string
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
			Name:                  getEnv("APP_NAME", "repair-service"),
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
		Lock: LockConfig{
			Backend:    strings.ToLower(getEnv("LOCK_BACKEND", "memory")),
			TTLSeconds: getEnvAsInt("LOCK_TTL_SECONDS", 30),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			MaxAttempts:       getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 3),
			InitialBackoffMS:  getEnvAsInt("NOTIFY_INITIAL_BACKOFF_MS", 1000),
			BackoffMultiplier: getEnvAsInt("NOTIFY_BACKOFF_MULTIPLIER", 4),
			Workers:           getEnvAsInt("NOTIFY_WORKERS", 8),
			SMSMaxLength:      getEnvAsInt("NOTIFY_SMS_MAX_LEN", 160),
			TemplateCatalog:   os.Getenv("TEMPLATE_CATALOG_PATH"),
		},
		SMS: SMSConfig{
			GatewayURL:     os.Getenv("SMS_GATEWAY_URL"),
			APIKey:         os.Getenv("SMS_API_KEY"),
			SenderID:       getEnv("SMS_SENDER_ID", "REPAIRS"),
			TimeoutSeconds: getEnvAsInt("SMS_TIMEOUT_SECONDS", 10),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnv("SMTP_PORT", "465"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("SMTP_FROM", "noreply@example.com"),
		},
		Report: ReportConfig{
			ScheduleMinutes: getEnvAsInt("REPORT_SCHEDULE_MINUTES", 15),
			LookbackDays:    getEnvAsInt("REPORT_LOOKBACK_DAYS", 3),
			TimeZones: map[string]string{
				"supplier_a": getEnv("SUPPLIER_A_TZ", "UTC"),
				"supplier_b": getEnv("SUPPLIER_B_TZ", "UTC"),
			},
		},
		Relay: RelayConfig{
			PollSeconds: getEnvAsInt("RELAY_POLL_SECONDS", 5),
			BatchSize:   getEnvAsInt("RELAY_BATCH_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "repair.notification-events"),
		},
	}

	if cfg.Notification.MaxAttempts <= 0 {
		return nil, fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be positive, got %d", cfg.Notification.MaxAttempts)
	}
	if cfg.Lock.Backend != "memory" && cfg.Lock.Backend != "redis" {
		return nil, fmt.Errorf("invalid LOCK_BACKEND %q", cfg.Lock.Backend)
	}
	for supplier, zone := range cfg.Report.TimeZones {
		if _, err := time.LoadLocation(zone); err != nil {
			return nil, fmt.Errorf("invalid time zone for %s: %w", supplier, err)
		}
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

// InitialBackoff returns the wait before the second delivery attempt.
func (n NotificationConfig) InitialBackoff() time.Duration {
	return time.Duration(n.InitialBackoffMS) * time.Millisecond
}

// LockTTL returns the lease of a distributed lock.
func (l LockConfig) LockTTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// Interval returns the scheduler tick period; zero disables it.
func (r ReportConfig) Interval() time.Duration {
	return time.Duration(r.ScheduleMinutes) * time.Minute
}

// Location resolves the supplier's local time zone, defaulting to UTC.
func (r ReportConfig) Location(supplier string) *time.Location {
	zone, ok := r.TimeZones[supplier]
	if !ok {
		return time.UTC
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
