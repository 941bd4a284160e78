package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "hostwarden.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "HOSTWARDEN_PORT")
	setString(&cfg.Server.CORSOrigin, "HOSTWARDEN_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "HOSTWARDEN_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "HOSTWARDEN_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "HOSTWARDEN_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "HOSTWARDEN_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "HOSTWARDEN_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "HOSTWARDEN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HOSTWARDEN_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "HOSTWARDEN_LOG_ASYNC")
	setInt64(&cfg.Cache.L1MaxSizeMB, "HOSTWARDEN_CACHE_L1_SIZE_MB")
	setBool(&cfg.Cache.L2Enabled, "HOSTWARDEN_CACHE_L2_ENABLED")
	setString(&cfg.Cache.L2Bucket, "HOSTWARDEN_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L1TTL, "HOSTWARDEN_CACHE_L1_TTL")
	setInt(&cfg.Tenancy.MaxDepth, "HOSTWARDEN_TENANT_MAX_DEPTH")
	setDuration(&cfg.Agent.Timeout, "HOSTWARDEN_AGENT_TIMEOUT")
	setInt64(&cfg.Agent.MaxConcurrent, "HOSTWARDEN_AGENT_MAX_CONCURRENT")
	setInt(&cfg.Breaker.MaxFailures, "HOSTWARDEN_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "HOSTWARDEN_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "HOSTWARDEN_RATE_RPS")
	setInt(&cfg.Rate.Burst, "HOSTWARDEN_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "HOSTWARDEN_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "HOSTWARDEN_RATE_MAX_IDLE_TIME")
	setBool(&cfg.Telemetry.Enabled, "HOSTWARDEN_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "HOSTWARDEN_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Tenancy.MaxDepth < 2 {
		return errors.New("tenancy.max_depth must be >= 2")
	}
	if cfg.Agent.Timeout <= 0 {
		return errors.New("agent.timeout must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
