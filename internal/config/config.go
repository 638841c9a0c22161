package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port              int
	DatabaseURL       string
	StoreDriver       string
	Environment       string
	LogLevel          string
	ServiceName       string
	Location          *time.Location
	RedisAddr         string
	ReportCacheTTL    time.Duration
	KafkaBrokers      []string
	KafkaTopic        string
	TracingEnabled    bool
	JaegerEndpoint    string
	CommitMaxAttempts int
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads the process environment, falling back to ./.env. Variables set in
// the environment win over the file.
func Load() (Config, error) {
	return LoadFile(filepath.Join(".", ".env"))
}

func LoadFile(envPath string) (Config, error) {
	values := map[string]string{}
	if _, err := os.Stat(envPath); err == nil {
		fileValues, err := godotenv.Read(envPath)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", envPath, err)
		}
		values = fileValues
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("stat %s: %w", envPath, err)
	}

	get := func(key string) string {
		return firstNonEmpty(os.Getenv(key), values[key])
	}

	cfg := Config{
		Port:              8080,
		StoreDriver:       DriverPostgres,
		Environment:       "production",
		LogLevel:          "info",
		ServiceName:       "kitchenledger",
		Location:          time.UTC,
		ReportCacheTTL:    5 * time.Minute,
		KafkaTopic:        "ledger-events",
		JaegerEndpoint:    "http://localhost:14268/api/traces",
		CommitMaxAttempts: 3,
	}

	if portRaw := get("PORT"); portRaw != "" {
		port, err := strconv.Atoi(portRaw)
		if err != nil || port <= 0 {
			return Config{}, fmt.Errorf("invalid PORT: %q", portRaw)
		}
		cfg.Port = port
	}

	if driver := strings.ToLower(get("STORE_DRIVER")); driver != "" {
		if driver != DriverPostgres && driver != DriverMemory {
			return Config{}, fmt.Errorf("invalid STORE_DRIVER: %q", driver)
		}
		cfg.StoreDriver = driver
	}

	cfg.DatabaseURL = get("DATABASE_URL")
	if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required (environment variable or .env)")
	}

	if v := get("ENVIRONMENT"); v != "" {
		cfg.Environment = strings.ToLower(v)
	}
	if v := get("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := get("SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}

	if tz := get("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TIMEZONE: %q: %w", tz, err)
		}
		cfg.Location = loc
	}

	cfg.RedisAddr = get("REDIS_ADDR")
	if ttlRaw := get("REPORT_CACHE_TTL"); ttlRaw != "" {
		ttl, err := time.ParseDuration(ttlRaw)
		if err != nil || ttl < 0 {
			return Config{}, fmt.Errorf("invalid REPORT_CACHE_TTL: %q", ttlRaw)
		}
		cfg.ReportCacheTTL = ttl
	}

	if brokers := get("KAFKA_BROKERS"); brokers != "" {
		for _, broker := range strings.Split(brokers, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}
	if v := get("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}

	if v := get("TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TRACING_ENABLED: %q", v)
		}
		cfg.TracingEnabled = enabled
	}
	if v := get("JAEGER_ENDPOINT"); v != "" {
		cfg.JaegerEndpoint = v
	}

	if v := get("COMMIT_MAX_ATTEMPTS"); v != "" {
		attempts, err := strconv.Atoi(v)
		if err != nil || attempts < 1 {
			return Config{}, fmt.Errorf("invalid COMMIT_MAX_ATTEMPTS: %q", v)
		}
		cfg.CommitMaxAttempts = attempts
	}

	return cfg, nil
}

func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if value := strings.TrimSpace(candidate); value != "" {
			return value
		}
	}
	return ""
}
