// Package config loads the service configuration from a YAML file with
// environment variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"CreditLedger/internal/credit"
	"CreditLedger/internal/ledger"
)

// Duration decodes YAML scalars like "250ms" or "5m" into a
// time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all service configuration.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Postgres struct {
		DSN           string `yaml:"dsn"`
		MigrationsDir string `yaml:"migrations_dir"`
	} `yaml:"postgres"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Channels struct {
		PersistCapacity int `yaml:"persist_capacity"`
		EventCapacity   int `yaml:"event_capacity"`
	} `yaml:"channels"`

	Persistence struct {
		BatchSize        int      `yaml:"batch_size"`
		FlushTimeout     Duration `yaml:"flush_timeout"`
		SnapshotInterval Duration `yaml:"snapshot_interval"`
	} `yaml:"persistence"`

	Oracle struct {
		MaxPriceAge Duration `yaml:"max_price_age"`
	} `yaml:"oracle"`

	Vaults      []ledger.VaultConfig     `yaml:"vaults"`
	Collaterals []credit.CollateralParam `yaml:"collaterals"`
	Thresholds  credit.Thresholds        `yaml:"thresholds"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LEDGER_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LEDGER_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("LEDGER_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("LEDGER_PERSIST_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Channels.PersistCapacity = n
		}
	}
	if v := os.Getenv("LEDGER_EVENT_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Channels.EventCapacity = n
		}
	}

	// Defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Postgres.MigrationsDir == "" {
		cfg.Postgres.MigrationsDir = "migrations"
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Channels.PersistCapacity == 0 {
		cfg.Channels.PersistCapacity = 8192
	}
	if cfg.Channels.EventCapacity == 0 {
		cfg.Channels.EventCapacity = 8192
	}
	if cfg.Persistence.BatchSize == 0 {
		cfg.Persistence.BatchSize = 256
	}
	if cfg.Persistence.FlushTimeout == 0 {
		cfg.Persistence.FlushTimeout = Duration(250 * time.Millisecond)
	}
	if cfg.Persistence.SnapshotInterval == 0 {
		cfg.Persistence.SnapshotInterval = Duration(5 * time.Minute)
	}
	if cfg.Oracle.MaxPriceAge == 0 {
		cfg.Oracle.MaxPriceAge = Duration(5 * time.Minute)
	}

	return cfg, nil
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if len(c.Vaults) == 0 {
		return fmt.Errorf("at least one vault is required")
	}
	for _, vc := range c.Vaults {
		if err := vc.Validate(); err != nil {
			return err
		}
	}
	for _, cp := range c.Collaterals {
		if err := cp.Validate(); err != nil {
			return err
		}
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.Persistence.BatchSize < 1 {
		return fmt.Errorf("persistence.batch_size must be positive")
	}
	if c.Oracle.MaxPriceAge <= 0 {
		return fmt.Errorf("oracle.max_price_age must be positive")
	}
	return nil
}
