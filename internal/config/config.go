// Package config loads server settings from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the full server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Engine EngineConfig `yaml:"engine"`
}

type ServerConfig struct {
	Port           string        `yaml:"port" validate:"required,numeric"`
	RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gt=0"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=memory postgres"`
	DatabaseURL string `yaml:"databaseURL" validate:"required_if=Driver postgres"`
	// SeedFile replaces the built-in fixtures for the memory driver.
	SeedFile string `yaml:"seedFile"`
}

type EngineConfig struct {
	Concurrency   int           `yaml:"concurrency" validate:"gte=1,lte=64"`
	TargetTimeout time.Duration `yaml:"targetTimeout" validate:"gte=0"`
	// TargetRPS of 0 disables rate limiting.
	TargetRPS   float64       `yaml:"targetRPS" validate:"gte=0"`
	TargetBurst int           `yaml:"targetBurst" validate:"gte=0"`
	CacheTTL    time.Duration `yaml:"cacheTTL" validate:"gte=0"`
}

// Default returns the configuration used when no file or env is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 60 * time.Second,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Engine: EngineConfig{
			Concurrency:   1,
			TargetTimeout: 30 * time.Second,
			TargetBurst:   1,
			CacheTTL:      time.Minute,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Server.Port = v
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Store.DatabaseURL = v
		// A database URL alone selects postgres unless a driver is forced.
		if driver, _ := lookup("RULECHECK_STORE"); driver == "" {
			c.Store.Driver = DriverPostgres
		}
	}
	if v, ok := lookup("RULECHECK_STORE"); ok && v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v, ok := lookup("RULECHECK_SEED_FILE"); ok && v != "" {
		c.Store.SeedFile = v
	}
	if v, ok := lookup("RULECHECK_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RULECHECK_CONCURRENCY %q: %w", v, err)
		}
		c.Engine.Concurrency = n
	}
	if v, ok := lookup("RULECHECK_TARGET_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RULECHECK_TARGET_TIMEOUT %q: %w", v, err)
		}
		c.Engine.TargetTimeout = d
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field in one error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
