package internal

import (
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Graph store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Graph GraphConfig       `yaml:"graph"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	return c.Graph.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return nil
}

// GraphConfig selects and configures the graph store backend.
//
// Driver picks the adapter:
//   - "sqlite" (default): persistent store at Path.
//   - "memory": in-memory store, state lost on exit; useful for scratch runs.
type GraphConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Validate validates the graph store configuration.
func (c *GraphConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverMemory)),
	); err != nil {
		return err
	}
	if c.Driver == DriverSQLite {
		return validation.ValidateStruct(c,
			validation.Field(&c.Path, validation.Required),
		)
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Graph: GraphConfig{
			Driver: DriverSQLite,
			Path:   "./canopy.db",
		},
	}
}
