// Package config loads the market service configuration from a YAML file
// with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/predico/market-service/internal/registry"
)

// Config holds the service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
	Market   MarketConfig   `yaml:"market"`
	Registry RegistryConfig `yaml:"registry"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures PostgreSQL. An empty URL selects the in-memory
// store.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxConns        int32  `yaml:"max_conns"`
	TxRetryAttempts int    `yaml:"tx_retry_attempts"`
}

// RedisConfig configures the read-through cache. An empty URL disables it.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type NotifyConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	PublishTimeout  time.Duration `yaml:"publish_timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MarketConfig struct {
	// MinimumPaymentAmount is the smallest max_payment a bid may carry.
	MinimumPaymentAmount string `yaml:"minimum_payment_amount"`
}

// RegistryConfig seeds the in-memory user registry used when no database
// is configured. Without users, no caller can place bids.
type RegistryConfig struct {
	Users []registry.SeedUser `yaml:"users"`
}

// Default returns the configuration used for unset values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        20,
			TxRetryAttempts: 5,
		},
		Redis: RedisConfig{
			CacheTTL: 30 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: "market.events",
		},
		Notify: NotifyConfig{
			QueueSize:       1024,
			Workers:         4,
			PublishTimeout:  5 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Market: MarketConfig{
			MinimumPaymentAmount: "10",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envOverride("PORT", &c.Server.Port)
	envOverride("DATABASE_URL", &c.Database.URL)
	envOverride("REDIS_URL", &c.Redis.URL)
	envOverride("NATS_URL", &c.NATS.URL)
	envOverride("LOG_LEVEL", &c.Log.Level)
	envOverride("MINIMUM_PAYMENT_AMOUNT", &c.Market.MinimumPaymentAmount)
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, errors.New("database.max_conns must be positive"))
	}
	if c.Database.TxRetryAttempts < 1 {
		errs = append(errs, errors.New("database.tx_retry_attempts must be at least 1"))
	}
	if c.Notify.QueueSize <= 0 || c.Notify.Workers <= 0 {
		errs = append(errs, errors.New("notify.queue_size and notify.workers must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if amount, err := decimal.NewFromString(c.Market.MinimumPaymentAmount); err != nil {
		errs = append(errs, fmt.Errorf("market.minimum_payment_amount: %w", err))
	} else if amount.IsNegative() {
		errs = append(errs, errors.New("market.minimum_payment_amount must not be negative"))
	}
	return errors.Join(errs...)
}

// MinimumPayment returns the parsed minimum bid payment. Call after Validate.
func (c *Config) MinimumPayment() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Market.MinimumPaymentAmount)
	return d
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}
