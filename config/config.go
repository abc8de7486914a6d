// Package config holds workflowd service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the service configuration.
type Config struct {
	Addr           string        `yaml:"addr" validate:"required"`
	LogLevel       string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	IDScheme       string        `yaml:"id_scheme" validate:"oneof=snowflake uuid"`
	MachineID      uint16        `yaml:"machine_id"`
	DefinitionsDir string        `yaml:"definitions_dir"`
	Storage        StorageConfig `yaml:"storage"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

type StorageConfig struct {
	Backend string       `yaml:"backend" validate:"oneof=memory redis sqlite"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db" validate:"gte=0"`
	PoolSize     int           `yaml:"pool_size" validate:"gte=0"`
	MinIdleConns int           `yaml:"min_idle_conns" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	Prefix       string        `yaml:"prefix"`

	Enabled bool `yaml:"-"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" validate:"required_if=Enabled true"`

	Enabled bool `yaml:"-"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:            ":8080",
		LogLevel:        "info",
		IDScheme:        "snowflake",
		MachineID:       1,
		ShutdownTimeout: 10 * time.Second,
		Storage: StorageConfig{
			Backend: BackendMemory,
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				PoolSize:    10,
				IdleTimeout: 5 * time.Minute,
				Prefix:      "wffsm:",
			},
			SQLite: SQLiteConfig{
				Path: "workflow.db",
			},
		},
	}
}

// Load reads a YAML file over the defaults. An empty path or a missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field constraints, including the settings required by the
// selected storage backend.
func (c Config) Validate() error {
	c.Storage.Redis.Enabled = c.Storage.Backend == BackendRedis
	c.Storage.SQLite.Enabled = c.Storage.Backend == BackendSQLite

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
