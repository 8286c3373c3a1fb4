package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go-pos-ledger/internal/logger"
)

type Config struct {
	// HTTP
	HTTPPort          string
	BaseURL           string
	CORSOrigins       []string
	AllowRegistration bool
	Environment       string

	// Database
	DBDriver     string
	DBDSN        string
	DBMaxRetries int

	// Auth
	JWTSecret string
	JWTTTL    time.Duration

	// UPI / payments
	UPIID                string
	UPIPayeeName         string
	UPICurrency          string
	UPIPendingTTL        time.Duration
	UPIExpiryInterval    time.Duration
	PaymentWebhookSecret string

	// Catalog cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Events
	KafkaBrokers     []string
	KafkaTopicPrefix string

	// Observability
	TracingEnabled bool
	JaegerEndpoint string
	MetricsEnabled bool

	// Assistant
	GeminiAPIKey string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var errs []string

	config := &Config{
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		BaseURL:              getEnv("BASE_URL", ""),
		CORSOrigins:          splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		AllowRegistration:    getBool("ALLOW_REGISTRATION", false, &errs),
		Environment:          getEnv("ENVIRONMENT", "development"),
		DBDriver:             strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DBDSN:                getEnv("DB_DSN", ""),
		DBMaxRetries:         getInt("DB_MAX_RETRIES", 5, &errs),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		JWTTTL:               getDuration("JWT_TTL", 24*time.Hour, &errs),
		UPIID:                getEnv("UPI_ID", ""),
		UPIPayeeName:         getEnv("UPI_PAYEE_NAME", "POS"),
		UPICurrency:          getEnv("UPI_CURRENCY", "INR"),
		UPIPendingTTL:        getDuration("UPI_PENDING_TTL", 30*time.Minute, &errs),
		UPIExpiryInterval:    getDuration("UPI_EXPIRY_INTERVAL", time.Minute, &errs),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getInt("REDIS_DB", 0, &errs),
		CacheTTL:             getDuration("CACHE_TTL", 5*time.Minute, &errs),
		KafkaBrokers:         splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicPrefix:     getEnv("KAFKA_TOPIC_PREFIX", "pos"),
		TracingEnabled:       getBool("TRACING_ENABLED", false, &errs),
		JaegerEndpoint:       getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		MetricsEnabled:       getBool("METRICS_ENABLED", true, &errs),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "console"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be one of mysql, postgres, sqlite (got %q)", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET is required and must be at least 16 characters")
	}
	if c.UPIID == "" {
		return fmt.Errorf("UPI_ID is required")
	}
	if c.UPIPendingTTL < 0 {
		return fmt.Errorf("UPI_PENDING_TTL must not be negative")
	}
	if c.UPIExpiryInterval <= 0 {
		return fmt.Errorf("UPI_EXPIRY_INTERVAL must be positive")
	}
	if c.DBMaxRetries < 1 {
		return fmt.Errorf("DB_MAX_RETRIES must be at least 1")
	}
	return nil
}

// IsDevelopment reports whether the service runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		Service: "pos-ledger",
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int, errs *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer", key))
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool, errs *[]string) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be true or false", key))
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a duration like 30m", key))
		return defaultValue
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
