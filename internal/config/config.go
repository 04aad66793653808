// Package config provides Viper-based configuration loading for the world server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// QueueConfig holds action queue processing settings.
type QueueConfig struct {
	// ProcessInterval is how often the batch processor looks for due actions.
	ProcessInterval time.Duration `mapstructure:"process_interval"`
	// SweepInterval is how often the stuck-action sweeper runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// BatchSize is the maximum number of claimed entries resolved per batch.
	BatchSize int `mapstructure:"batch_size"`
	// FetchLimit bounds how many due entries a single processor run pulls.
	FetchLimit int `mapstructure:"fetch_limit"`
	// RetryBudget is the number of handler attempts before an entry is
	// terminally failed.
	RetryBudget int `mapstructure:"retry_budget"`
	// StuckTimeout is the claim age after which the sweeper resets a
	// processing entry. Must exceed the worst-case handler latency.
	StuckTimeout time.Duration `mapstructure:"stuck_timeout"`
}

// BattleConfig holds combat balance parameters.
type BattleConfig struct {
	// MaxRounds caps the number of attrition rounds per battle.
	MaxRounds int `mapstructure:"max_rounds"`
	// DamageFactorMin and DamageFactorMax bound the per-round random
	// damage modulation.
	DamageFactorMin float64 `mapstructure:"damage_factor_min"`
	DamageFactorMax float64 `mapstructure:"damage_factor_max"`
}

// CatalogConfig locates static game content.
type CatalogConfig struct {
	// ShipsPath is the path to the ship type catalog YAML file.
	ShipsPath string `mapstructure:"ships_path"`
}

// Config is the top-level application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Battle   BattleConfig   `mapstructure:"battle"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateQueue(c.Queue); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBattle(c.Battle); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateQueue(q QueueConfig) error {
	var errs []string
	if q.ProcessInterval <= 0 {
		errs = append(errs, "queue.process_interval must be > 0")
	}
	if q.SweepInterval <= 0 {
		errs = append(errs, "queue.sweep_interval must be > 0")
	}
	if q.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("queue.batch_size must be >= 1, got %d", q.BatchSize))
	}
	if q.FetchLimit < q.BatchSize {
		errs = append(errs, "queue.fetch_limit must be >= queue.batch_size")
	}
	if q.RetryBudget < 1 {
		errs = append(errs, fmt.Sprintf("queue.retry_budget must be >= 1, got %d", q.RetryBudget))
	}
	if q.StuckTimeout <= 0 {
		errs = append(errs, "queue.stuck_timeout must be > 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBattle(b BattleConfig) error {
	var errs []string
	if b.MaxRounds < 1 {
		errs = append(errs, fmt.Sprintf("battle.max_rounds must be >= 1, got %d", b.MaxRounds))
	}
	if b.DamageFactorMin <= 0 {
		errs = append(errs, "battle.damage_factor_min must be > 0")
	}
	if b.DamageFactorMax < b.DamageFactorMin {
		errs = append(errs, "battle.damage_factor_max must be >= battle.damage_factor_min")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with WORLD_ prefix
	v.SetEnvPrefix("WORLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("nil viper instance")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "world")
	v.SetDefault("database.password", "world")
	v.SetDefault("database.name", "world")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("queue.process_interval", "60s")
	v.SetDefault("queue.sweep_interval", "5m")
	v.SetDefault("queue.batch_size", 50)
	v.SetDefault("queue.fetch_limit", 500)
	v.SetDefault("queue.retry_budget", 3)
	v.SetDefault("queue.stuck_timeout", "5m")

	v.SetDefault("battle.max_rounds", 6)
	v.SetDefault("battle.damage_factor_min", 0.8)
	v.SetDefault("battle.damage_factor_max", 1.2)

	v.SetDefault("catalog.ships_path", "content/ships.yaml")
}
