// Package config loads the service settings from the environment, optionally layered over a
// YAML file named by CONFIG_FILE.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAPIAddr       = ":8080"
	defaultRedisAddr     = "localhost:6379"
	defaultKeyPrefix     = "live:"
	defaultDailyAPIURL   = "https://api.daily.co/v1"
	defaultServiceName   = "live-session"
	defaultAllowedOrigin = "http://localhost:3000"
)

// Config holds the application settings.
type Config struct {
	APIAddr       string
	AllowedOrigin []string

	Redis       RedisConfig
	Database    DatabaseConfig
	Provisioner ProvisionerConfig
	Registry    RegistryConfig
	Logging     LoggingConfig
	Tracing     TracingConfig
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type DatabaseConfig struct {
	DSN string
}

type ProvisionerConfig struct {
	APIURL  string
	APIKey  string
	RoomTTL time.Duration // lifetime requested for each external room
	Timeout time.Duration // bound on a single create/delete call
	Rate    float64       // calls per second across the process
	Burst   int
}

type RegistryConfig struct {
	OracleTimeout       time.Duration
	LockTTL             time.Duration
	LockWaitTimeout     time.Duration
	OrphanSweepInterval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Endpoint    string
	ServiceName string
	Environment string
}

// keys maps viper keys to the environment variables that feed them.
var keys = map[string]string{
	"api_addr":               "API_ADDR",
	"cors_allowed_origins":   "CORS_ALLOWED_ORIGINS",
	"redis.addr":             "REDIS_ADDR",
	"redis.password":         "REDIS_PASSWORD",
	"redis.db":               "REDIS_DB",
	"redis.key_prefix":       "REDIS_KEY_PREFIX",
	"database.dsn":           "DATABASE_DSN",
	"daily.api_url":          "DAILY_API_URL",
	"daily.api_key":          "DAILY_API_KEY",
	"daily.room_ttl":         "DAILY_ROOM_TTL",
	"provision.timeout":      "PROVISION_TIMEOUT",
	"provision.rate":         "PROVISION_RATE",
	"provision.burst":        "PROVISION_BURST",
	"oracle.timeout":         "ORACLE_TIMEOUT",
	"lock.ttl":               "LOCK_TTL",
	"lock.wait_timeout":      "LOCK_WAIT_TIMEOUT",
	"orphan.sweep_interval":  "ORPHAN_SWEEP_INTERVAL",
	"log.level":              "LOG_LEVEL",
	"log.format":             "LOG_FORMAT",
	"otel.exporter_endpoint": "OTEL_EXPORTER_ENDPOINT",
	"service.name":           "SERVICE_NAME",
	"service.environment":    "ENVIRONMENT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_addr", defaultAPIAddr)
	v.SetDefault("cors_allowed_origins", defaultAllowedOrigin)
	v.SetDefault("redis.addr", defaultRedisAddr)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", defaultKeyPrefix)
	v.SetDefault("daily.api_url", defaultDailyAPIURL)
	v.SetDefault("daily.room_ttl", 3*time.Hour)
	v.SetDefault("provision.timeout", 10*time.Second)
	v.SetDefault("provision.rate", 5.0)
	v.SetDefault("provision.burst", 10)
	v.SetDefault("oracle.timeout", 3*time.Second)
	v.SetDefault("lock.ttl", 15*time.Second)
	v.SetDefault("lock.wait_timeout", 20*time.Second)
	v.SetDefault("orphan.sweep_interval", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("service.name", defaultServiceName)
	v.SetDefault("service.environment", "development")
}

// Load reads the configuration. Environment variables win over the optional file, which
// wins over the defaults.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range keys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.BindEnv("config_file", "CONFIG_FILE"); err != nil {
		return Config{}, err
	}
	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		APIAddr:       v.GetString("api_addr"),
		AllowedOrigin: splitCSV(v.GetString("cors_allowed_origins")),
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Database: DatabaseConfig{DSN: v.GetString("database.dsn")},
		Provisioner: ProvisionerConfig{
			APIURL:  strings.TrimRight(v.GetString("daily.api_url"), "/"),
			APIKey:  v.GetString("daily.api_key"),
			RoomTTL: v.GetDuration("daily.room_ttl"),
			Timeout: v.GetDuration("provision.timeout"),
			Rate:    v.GetFloat64("provision.rate"),
			Burst:   v.GetInt("provision.burst"),
		},
		Registry: RegistryConfig{
			OracleTimeout:       v.GetDuration("oracle.timeout"),
			LockTTL:             v.GetDuration("lock.ttl"),
			LockWaitTimeout:     v.GetDuration("lock.wait_timeout"),
			OrphanSweepInterval: v.GetDuration("orphan.sweep_interval"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Tracing: TracingConfig{
			Endpoint:    v.GetString("otel.exporter_endpoint"),
			ServiceName: v.GetString("service.name"),
			Environment: v.GetString("service.environment"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration can start a server.
func (c Config) Validate() error {
	if c.APIAddr == "" {
		return errors.New("API_ADDR is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if c.Database.DSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if c.Provisioner.APIKey == "" {
		return errors.New("DAILY_API_KEY is required")
	}
	if c.Provisioner.Timeout <= 0 || c.Registry.OracleTimeout <= 0 {
		return errors.New("PROVISION_TIMEOUT and ORACLE_TIMEOUT must be positive")
	}
	if c.Registry.LockTTL < c.Provisioner.Timeout {
		return fmt.Errorf("LOCK_TTL (%s) must cover PROVISION_TIMEOUT (%s)", c.Registry.LockTTL, c.Provisioner.Timeout)
	}
	if c.Provisioner.Rate <= 0 || c.Provisioner.Burst <= 0 {
		return errors.New("PROVISION_RATE and PROVISION_BURST must be positive")
	}
	return nil
}

// splitCSV splits a comma separated list, dropping blanks.
func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
