package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all querygate configuration.
type Config struct {
	Listen  string              `yaml:"listen"`
	Log     LogConfig           `yaml:"log"`
	Budget  models.BudgetConfig `yaml:"budget"`
	Pricing PricingConfig       `yaml:"pricing"`
	Cache   CacheConfig         `yaml:"cache"`
	Ledger  LedgerConfig        `yaml:"ledger"`
	Alerts  AlertsConfig        `yaml:"alerts"`
	Remote  RemoteConfig        `yaml:"remote"`
	Admin   AdminConfig         `yaml:"admin"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// PricingConfig converts scanned bytes into money.
type PricingConfig struct {
	PricePerUnit   float64 `yaml:"price_per_unit"`
	BytesPerUnit   float64 `yaml:"bytes_per_unit"`
	MinBytesBilled int64   `yaml:"min_bytes_billed"`
	// FallbackCost is charged when the dry run fails.
	FallbackCost float64 `yaml:"fallback_cost"`
}

// CacheConfig controls the result cache.
// Backend is "memory" (default), "sqlite" or "redis".
type CacheConfig struct {
	Backend       string      `yaml:"backend"`
	TTLSeconds    int         `yaml:"ttl_seconds"`
	Path          string      `yaml:"path"`
	SweepSchedule string      `yaml:"sweep_schedule"`
	Redis         RedisConfig `yaml:"redis"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RedisConfig defines the shared Redis cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LedgerConfig controls usage ledger persistence.
// Backend is "file" (default), "sqlite" or "memory".
type LedgerConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	Timezone string `yaml:"timezone"`
}

// Location resolves the ledger time zone.
func (c LedgerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// AlertsConfig controls the alert log and notification hook.
// Backend is "sqlite" (default) or "memory".
type AlertsConfig struct {
	Backend         string `yaml:"backend"`
	Path            string `yaml:"path"`
	WebhookURL      string `yaml:"webhook_url"`
	NotifyPerMinute int    `yaml:"notify_per_minute"`
}

// RemoteConfig defines the metered query service.
type RemoteConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Project  string        `yaml:"project"`
	Location string        `yaml:"location"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AdminConfig secures privileged actions.
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Budget: models.BudgetConfig{
			WarningThreshold: 0.90,
		},
		Pricing: PricingConfig{
			PricePerUnit:   6.25,
			BytesPerUnit:   1 << 40,
			MinBytesBilled: 10 << 20,
			FallbackCost:   0.01,
		},
		Cache: CacheConfig{
			Backend:       "memory",
			TTLSeconds:    600,
			Path:          "querygate-cache.db",
			SweepSchedule: "@every 10m",
			Redis:         RedisConfig{Prefix: "querygate:result:"},
		},
		Ledger: LedgerConfig{
			Backend:  "file",
			Path:     "querygate-ledger.json",
			Timezone: "UTC",
		},
		Alerts: AlertsConfig{
			Backend:         "sqlite",
			Path:            "querygate-alerts.db",
			NotifyPerMinute: 6,
		},
		Remote: RemoteConfig{
			Endpoint: "https://bigquery.googleapis.com",
			Timeout:  30 * time.Second,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that limits and pricing are usable.
func (c *Config) Validate() error {
	var errs []error
	b := c.Budget
	if b.DailyLimit < 0 || b.WeeklyLimit < 0 || b.MonthlyLimit < 0 || b.MonthlyBudget < 0 {
		errs = append(errs, errors.New("budget limits must not be negative"))
	}
	if b.WarningThreshold <= 0 || b.WarningThreshold > 1 {
		errs = append(errs, fmt.Errorf("budget.warning_threshold must be in (0, 1], got %v", b.WarningThreshold))
	}
	if c.Pricing.BytesPerUnit <= 0 {
		errs = append(errs, errors.New("pricing.bytes_per_unit must be positive"))
	}
	if c.Pricing.PricePerUnit < 0 {
		errs = append(errs, errors.New("pricing.price_per_unit must not be negative"))
	}
	if c.Pricing.FallbackCost <= 0 {
		errs = append(errs, errors.New("pricing.fallback_cost must be positive"))
	}
	if c.Cache.TTLSeconds <= 0 {
		errs = append(errs, errors.New("cache.ttl_seconds must be positive"))
	}
	switch c.Cache.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	switch c.Ledger.Backend {
	case "file", "sqlite":
		if c.Ledger.Path == "" {
			errs = append(errs, errors.New("ledger.path is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}
	if _, err := c.Ledger.Location(); err != nil {
		errs = append(errs, fmt.Errorf("ledger.timezone: %w", err))
	}
	switch c.Alerts.Backend {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown alerts backend %q", c.Alerts.Backend))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	return errors.Join(errs...)
}
