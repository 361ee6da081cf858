// Package config loads opsdesk configuration from environment variables
// and an optional YAML file, with validated defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opsdesk/opsdesk/internal/errors"
)

// Config is the complete application configuration.
type Config struct {
	Server struct {
		Address         string        `mapstructure:"address"`
		Port            string        `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`

	Auth struct {
		SigningKey        string        `mapstructure:"signing_key"`
		Issuer            string        `mapstructure:"issuer"`
		TokenTTL          time.Duration `mapstructure:"token_ttl"`
		RefreshTTL        time.Duration `mapstructure:"refresh_ttl"`
		MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	} `mapstructure:"auth"`

	RateLimit struct {
		LoginPerMinute int `mapstructure:"login_per_minute"`
		Burst          int `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	State struct {
		File string `mapstructure:"file"`
	} `mapstructure:"state"`

	Tenants struct {
		// SeedFile points at the YAML tenant registry loaded at startup.
		SeedFile string `mapstructure:"seed_file"`
	} `mapstructure:"tenants"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Load reads configuration from env vars and an optional config file.
//
// Precedence: environment variables override file values, which override
// defaults. The file is located via OPSDESK_CONFIG_FILE, the working
// directory, $XDG_CONFIG_HOME/opsdesk, or /etc/opsdesk.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OPSDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults (minimal working set)
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.issuer", "opsdesk")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.max_failed_attempts", 5)

	v.SetDefault("rate_limit.login_per_minute", 10)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("state.file", "")
	v.SetDefault("tenants.seed_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if cfgFile := os.Getenv("OPSDESK_CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("opsdesk")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "opsdesk"))
		}
		v.AddConfigPath("/etc/opsdesk")
	}

	// The config file is optional; env-only deployments are valid.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(errors.ErrCodeConfigRead, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigRead, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads the configuration or panics.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "auth.signing_key must be set").
			WithSuggestion("Set OPSDESK_AUTH_SIGNING_KEY or auth.signing_key in the config file")
	}
	if len(c.Auth.SigningKey) < 32 {
		return errors.New(errors.ErrCodeConfigInvalid, "auth.signing_key must be at least 32 bytes").
			WithSuggestion("Generate a key with: openssl rand -hex 32")
	}
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "server.address must not be empty")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "server.port must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "auth.token_ttl must be positive")
	}
	if c.Auth.RefreshTTL < c.Auth.TokenTTL {
		return errors.New(errors.ErrCodeConfigInvalid, "auth.refresh_ttl must not be shorter than auth.token_ttl")
	}
	if c.Auth.MaxFailedAttempts <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "auth.max_failed_attempts must be positive")
	}
	return nil
}
