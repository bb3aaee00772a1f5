package configuration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"secadora/internal/weighing"
)

// AppConfig represents the complete application configuration.
type AppConfig struct {
	// Logger — logger component configuration.
	Logger LoggerConfig `mapstructure:"logger"`
	// Server — HTTP server configuration.
	Server ServerConfig `mapstructure:"server"`
	// Scale — scale-bridge integration parameters.
	Scale ScaleConfig `mapstructure:"scale"`
	// Quality — laboratory / commercial-weight parameters.
	Quality QualityConfig `mapstructure:"quality"`
	// Journal — audit journal parameters.
	Journal JournalConfig `mapstructure:"journal"`
	// Operations — the operation-type catalog (purchase, sale, services).
	Operations []weighing.OperationType `mapstructure:"operations"`
}

// LoggerConfig defines logging settings.
type LoggerConfig struct {
	// Level — log level: debug, info, warn, warning, error.
	// Value is case-insensitive but checked in lowercase.
	Level string `mapstructure:"level"`
}

// ServerConfig contains HTTP server parameters.
type ServerConfig struct {
	// Address — address and port where the server will listen (e.g. ":8080").
	Address string `mapstructure:"address"`
}

// ScaleConfig defines the scale-bridge integration parameters.
type ScaleConfig struct {
	// APIKey — shared secret the bridge must present on every request.
	// Must be set, otherwise the configuration is invalid.
	APIKey string `mapstructure:"api_key"`
	// ReadingsLength — how many recent live readings to keep per weighing.
	ReadingsLength int `mapstructure:"readings_length"`
	// LiveTTL — how long a live reading stays usable without a fresh push
	// from the bridge. Example: "30s", "2m".
	LiveTTL time.Duration `mapstructure:"live_ttl"`
}

// QualityConfig defines the laboratory / commercial-weight parameters.
type QualityConfig struct {
	// Rules — path to the deduction rule definitions in YAML format.
	Rules string `mapstructure:"rules"`
	// CommercialWeight — the plant-wide toggle for commercial-weight
	// computation. Off means analyses record raw parameters only.
	CommercialWeight bool `mapstructure:"commercial_weight"`
}

// JournalConfig defines the audit journal parameters.
type JournalConfig struct {
	// File — journal file path. Empty disables the journal.
	File string `mapstructure:"file"`
	// Size — maximum journal file size in MB before rotation (default 100).
	Size int `mapstructure:"size"`
	// Amount — number of rotated journal files to keep (default 20).
	Amount int `mapstructure:"amount"`
}

// Validate checks the correctness of the entire application configuration.
// Calls validation for each nested structure and returns the first detected
// error. Returns nil if the configuration is valid.
func (c *AppConfig) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return err
	}

	if err := c.Server.Validate(); err != nil {
		return err
	}

	if err := c.Scale.Validate(); err != nil {
		return err
	}

	if err := c.Quality.Validate(); err != nil {
		return err
	}

	if err := c.Journal.Validate(); err != nil {
		return err
	}

	if len(c.Operations) == 0 {
		return errors.New("operations: at least one operation type must be configured")
	}

	return nil
}

// Validate checks the correctness of the logger configuration.
// Supported levels: debug, info, warn, warning, error (case-insensitive).
func (l *LoggerConfig) Validate() error {
	if l.Level == "" {
		return errors.New("logger.level: must be specified")
	}

	valid := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !valid[strings.ToLower(l.Level)] {
		return fmt.Errorf("logger.level: unsupported level '%s'", l.Level)
	}

	return nil
}

// Validate checks the correctness of the server configuration.
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return errors.New("server.address: must be specified")
	}

	return nil
}

// Validate checks the scale configuration and applies defaults for the
// optional fields.
func (s *ScaleConfig) Validate() error {
	if s.APIKey == "" {
		return errors.New("scale.api_key: must be specified")
	}

	if s.ReadingsLength == 0 {
		s.ReadingsLength = 20
	}

	if s.LiveTTL == 0 {
		s.LiveTTL = 2 * time.Minute
	}

	return nil
}

// Validate checks the quality configuration.
func (q *QualityConfig) Validate() error {
	if q.Rules == "" {
		return errors.New("quality.rules: path must be specified")
	}

	return nil
}

// Validate applies journal defaults. An empty file path is valid and
// disables the journal.
func (j *JournalConfig) Validate() error {
	if j.Size == 0 {
		j.Size = 100
	}

	if j.Amount == 0 {
		j.Amount = 20
	}

	return nil
}

// LoadConfig loads configuration from the specified file using Viper.
// Supports YAML format. Also includes environment variable loading
// (AutomaticEnv), which can override values from the file.
//
// Parameter configPath — path to the configuration file.
//
// Returns a pointer to AppConfig or an error if:
// - the file is not found or inaccessible
// - the configuration has invalid format
// - one of the sections fails validation
func LoadConfig(configPath string) (*AppConfig, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
