package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

type Config struct {
	HTTPPort string

	StorageBackend string
	RedisAddr      string
	RedisPassword  string
	StorageTTL     time.Duration
	MongoURI       string
	MongoDBName    string

	KafkaBrokers []string
	SessionTopic string

	OrdersAPIURL       string
	RequestTimeout     time.Duration
	CheckoutTimeout    time.Duration
	ShutdownTimeout    time.Duration
	// tabs unused for this long are closed; zero keeps them until shutdown
	ContextIdleTimeout time.Duration

	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

// Load reads the environment. Unset variables fall back to local defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		StorageBackend: getEnv("STORAGE_BACKEND", BackendMemory),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDBName:    getEnv("MONGO_DB_NAME", "storefront"),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "")),
		SessionTopic:   getEnv("SESSION_TOPIC", "storefront-sessions"),
		OrdersAPIURL:   strings.TrimRight(getEnv("ORDERS_API_URL", "http://localhost:8000"), "/"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	var err error
	if cfg.StorageTTL, err = getDuration("STORAGE_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CheckoutTimeout, err = getDuration("CHECKOUT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ContextIdleTimeout, err = getDuration("CONTEXT_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendRedis, BackendMongo:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, redis, mongo; got %q", c.StorageBackend)
	}
	if c.OrdersAPIURL == "" {
		return fmt.Errorf("ORDERS_API_URL must not be empty")
	}
	if c.StorageTTL < 0 {
		return fmt.Errorf("STORAGE_TTL must be >= 0")
	}
	if c.ContextIdleTimeout < 0 {
		return fmt.Errorf("CONTEXT_IDLE_TIMEOUT must be >= 0")
	}
	if c.RequestTimeout <= 0 || c.CheckoutTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
