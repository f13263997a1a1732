// Package config loads service configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode        string `yaml:"mode"`
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	Timezone    string `yaml:"timezone"`

	Redis       RedisConfig       `yaml:"redis"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Inventory   ClientConfig      `yaml:"inventory"`
	Membership  ClientConfig      `yaml:"membership"`
	Catalog     ClientConfig      `yaml:"catalog"`
	Circulation CirculationConfig `yaml:"circulation"`
	Gateway     GatewayConfig     `yaml:"gateway"`
}

type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ClientConfig tunes an outbound gate client.
type ClientConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
	MaxRetries      uint          `yaml:"max_retries"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type CirculationConfig struct {
	LoanDays             int    `yaml:"loan_days"`
	DailyFineRate        string `yaml:"daily_fine_rate"`
	Currency             string `yaml:"currency"`
	SweepSchedule        string `yaml:"sweep_schedule"`
	ReconcileSchedule    string `yaml:"reconcile_schedule"`
	RelaySchedule        string `yaml:"relay_schedule"`
	ReconcileBatch       int    `yaml:"reconcile_batch"`
	ReconcileParallelism int    `yaml:"reconcile_parallelism"`
	MaxSyncAttempts      int    `yaml:"max_sync_attempts"`
}

type GatewayConfig struct {
	CirculationURL string `yaml:"circulation_url"`
	InventoryURL   string `yaml:"inventory_url"`
}

func Default() Config {
	gate := ClientConfig{
		Timeout:         2 * time.Second,
		RatePerSecond:   50,
		Burst:           20,
		MaxRetries:      3,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
	inventory, membership, catalog := gate, gate, gate
	inventory.BaseURL = "http://localhost:8081"
	membership.BaseURL = "http://localhost:8083"
	// Empty disables the catalog check on copy acquisition.
	catalog.BaseURL = ""

	return Config{
		Mode:        "development",
		Port:        "",
		DatabaseURL: "",
		Timezone:    "UTC",
		Redis:       RedisConfig{Channel: "lending.events"},
		Telemetry:   TelemetryConfig{Insecure: true, SampleRatio: 1},
		Inventory:   inventory,
		Membership:  membership,
		Catalog:     catalog,
		Circulation: CirculationConfig{
			LoanDays:             14,
			DailyFineRate:        "5.00",
			Currency:             "TRY",
			SweepSchedule:        "@hourly",
			ReconcileSchedule:    "@every 1m",
			RelaySchedule:        "@every 5s",
			ReconcileBatch:       100,
			ReconcileParallelism: 8,
			MaxSyncAttempts:      20,
		},
		Gateway: GatewayConfig{
			CirculationURL: "http://localhost:8082",
			InventoryURL:   "http://localhost:8081",
		},
	}
}

// Load reads path (or $LENDING_CONFIG when path is empty) over the defaults
// and applies environment overrides. A missing path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("LENDING_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Mode, "LENDING_MODE")
	setString(&c.Port, "PORT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Timezone, "LENDING_TIMEZONE")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Channel, "REDIS_CHANNEL")
	setString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Inventory.BaseURL, "INVENTORY_SERVICE_URL")
	setString(&c.Membership.BaseURL, "MEMBERSHIP_SERVICE_URL")
	setString(&c.Catalog.BaseURL, "CATALOG_SERVICE_URL")
	setString(&c.Circulation.DailyFineRate, "DAILY_FINE_RATE")
	setString(&c.Circulation.Currency, "FINE_CURRENCY")
	setString(&c.Circulation.SweepSchedule, "OVERDUE_SWEEP_SCHEDULE")
	setString(&c.Circulation.ReconcileSchedule, "RECONCILE_SCHEDULE")
	setString(&c.Circulation.RelaySchedule, "RELAY_SCHEDULE")
	setString(&c.Gateway.CirculationURL, "CIRCULATION_SERVICE_URL")
	setString(&c.Gateway.InventoryURL, "INVENTORY_SERVICE_URL")

	if v, ok := os.LookupEnv("DEFAULT_LOAN_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEFAULT_LOAN_DAYS: %w", err)
		}
		c.Circulation.LoanDays = n
	}
	if v, ok := os.LookupEnv("GATE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GATE_TIMEOUT: %w", err)
		}
		c.Inventory.Timeout = d
		c.Membership.Timeout = d
		c.Catalog.Timeout = d
	}
	return nil
}

func (c Config) Validate() error {
	if c.Circulation.LoanDays < 1 {
		return fmt.Errorf("circulation.loan_days must be at least 1, got %d", c.Circulation.LoanDays)
	}
	if c.Circulation.Currency == "" {
		return fmt.Errorf("circulation.currency is required")
	}
	if c.Inventory.Timeout <= 0 || c.Membership.Timeout <= 0 {
		return fmt.Errorf("gate timeouts must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// ListenAddr is ":PORT", or ":def" when no port is configured. Each
// binary passes its own default.
func (c Config) ListenAddr(def string) string {
	if c.Port != "" {
		return ":" + c.Port
	}
	return ":" + def
}

// Location returns the configured timezone; "today" for due dates and
// schedules is evaluated there.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
