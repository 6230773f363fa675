package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Quotations    QuotationsConfig
	Notifications NotificationsConfig
	Delivery      DeliveryConfig
	Exports       ExportsConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	MigrationsURL string
	AutoMigrate   bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// QuotationsConfig tunes the quote competition workflow.
type QuotationsConfig struct {
	DefaultExpiry       time.Duration
	ExpirySweepInterval time.Duration
	CacheTTL            time.Duration
	CacheEnabled        bool
	IdempotencyTTL      time.Duration
}

// NotificationsConfig tunes fan-out persistence and appointment reminders.
type NotificationsConfig struct {
	QueueWorkers        int
	QueueRetries        int
	QueueRetryDelay     time.Duration
	ReminderHoursBefore []int
	CleanupInterval     time.Duration
}

// ExportsConfig controls server-side archival of generated exports.
type ExportsConfig struct {
	ArchiveEnabled   bool
	ArchiveDir       string
	ArchiveRetention time.Duration
}

// DeliveryConfig carries defaults for the outbound quote delivery client,
// used by tooling that submits quote requests against a running gateway.
type DeliveryConfig struct {
	BaseURL           string
	Timeout           time.Duration
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxRetries        int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:          v.GetString("DB_HOST"),
		Port:          v.GetInt("DB_PORT"),
		User:          v.GetString("DB_USER"),
		Password:      v.GetString("DB_PASSWORD"),
		Name:          v.GetString("DB_NAME"),
		SSLMode:       v.GetString("DB_SSL_MODE"),
		MaxOpenConns:  v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:  v.GetInt("DB_MAX_IDLE_CONNS"),
		MigrationsURL: v.GetString("DB_MIGRATIONS_URL"),
		AutoMigrate:   v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Quotations = QuotationsConfig{
		DefaultExpiry:       parseDuration(v.GetString("QUOTATION_DEFAULT_EXPIRY"), 7*24*time.Hour),
		ExpirySweepInterval: parseDuration(v.GetString("QUOTATION_EXPIRY_SWEEP_INTERVAL"), 10*time.Minute),
		CacheTTL:            parseDuration(v.GetString("QUOTATION_CACHE_TTL"), 5*time.Minute),
		CacheEnabled:        v.GetBool("QUOTATION_CACHE_ENABLED"),
		IdempotencyTTL:      parseDuration(v.GetString("QUOTATION_IDEMPOTENCY_TTL"), 24*time.Hour),
	}

	cfg.Notifications = NotificationsConfig{
		QueueWorkers:        v.GetInt("NOTIFICATION_QUEUE_WORKERS"),
		QueueRetries:        v.GetInt("NOTIFICATION_QUEUE_RETRIES"),
		QueueRetryDelay:     parseDuration(v.GetString("NOTIFICATION_QUEUE_RETRY_DELAY"), time.Second),
		ReminderHoursBefore: parseIntList(v.GetString("NOTIFICATION_REMINDER_HOURS_BEFORE")),
		CleanupInterval:     parseDuration(v.GetString("NOTIFICATION_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.Exports = ExportsConfig{
		ArchiveEnabled:   v.GetBool("EXPORT_ARCHIVE_ENABLED"),
		ArchiveDir:       v.GetString("EXPORT_ARCHIVE_DIR"),
		ArchiveRetention: parseDuration(v.GetString("EXPORT_ARCHIVE_RETENTION"), 30*24*time.Hour),
	}

	cfg.Delivery = DeliveryConfig{
		BaseURL:           v.GetString("DELIVERY_BASE_URL"),
		Timeout:           parseDuration(v.GetString("DELIVERY_TIMEOUT"), 10*time.Second),
		InitialDelay:      parseDuration(v.GetString("DELIVERY_INITIAL_DELAY"), time.Second),
		BackoffMultiplier: v.GetFloat64("DELIVERY_BACKOFF_MULTIPLIER"),
		MaxDelay:          parseDuration(v.GetString("DELIVERY_MAX_DELAY"), 30*time.Second),
		MaxRetries:        v.GetInt("DELIVERY_MAX_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "quotelane")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_MIGRATIONS_URL", "file://migrations")
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "quotelane-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("QUOTATION_DEFAULT_EXPIRY", "168h")
	v.SetDefault("QUOTATION_EXPIRY_SWEEP_INTERVAL", "10m")
	v.SetDefault("QUOTATION_CACHE_TTL", "5m")
	v.SetDefault("QUOTATION_CACHE_ENABLED", false)
	v.SetDefault("QUOTATION_IDEMPOTENCY_TTL", "24h")

	v.SetDefault("NOTIFICATION_QUEUE_WORKERS", 2)
	v.SetDefault("NOTIFICATION_QUEUE_RETRIES", 3)
	v.SetDefault("NOTIFICATION_QUEUE_RETRY_DELAY", "1s")
	v.SetDefault("NOTIFICATION_REMINDER_HOURS_BEFORE", "24,2")
	v.SetDefault("NOTIFICATION_CLEANUP_INTERVAL", "1h")

	v.SetDefault("EXPORT_ARCHIVE_ENABLED", false)
	v.SetDefault("EXPORT_ARCHIVE_DIR", "./exports")
	v.SetDefault("EXPORT_ARCHIVE_RETENTION", "720h")

	v.SetDefault("DELIVERY_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("DELIVERY_TIMEOUT", "10s")
	v.SetDefault("DELIVERY_INITIAL_DELAY", "1s")
	v.SetDefault("DELIVERY_BACKOFF_MULTIPLIER", 2.0)
	v.SetDefault("DELIVERY_MAX_DELAY", "30s")
	v.SetDefault("DELIVERY_MAX_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func parseIntList(raw string) []int {
	parts := splitAndTrim(raw)
	result := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			continue
		}
		result = append(result, n)
	}
	return result
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
