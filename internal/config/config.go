// Package config loads plexflow settings from defaults, an optional config
// file, PLEXFLOW_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	FlowsDir    string            `mapstructure:"flows_dir"`
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is json or text.
	Format string `mapstructure:"format"`
}

// ServerConfig holds webhook server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// CredentialsConfig selects where stored credentials come from.
type CredentialsConfig struct {
	// Store is "file" or "keyring".
	Store string `mapstructure:"store"`
	// File is the .env-style secrets file used by the file store.
	File string `mapstructure:"file"`
	// Service is the keyring service name used by the keyring store.
	Service string `mapstructure:"service"`
}

// flagKeys maps config keys to the command-line flags that override them.
var flagKeys = map[string]string{
	"flows_dir":         "flows-dir",
	"log.level":         "log-level",
	"server.port":       "port",
	"credentials.file":  "credentials-file",
	"credentials.store": "credentials-store",
}

// Load reads configuration. Priority: flags > environment > config file > defaults.
// flags may be nil; only flags that exist in the set are bound.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PLEXFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("flows_dir", "./flows")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("credentials.store", "file")
	v.SetDefault("credentials.file", "")
	v.SetDefault("credentials.service", "plexflow")
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.FlowsDir == "" {
		return fmt.Errorf("flows_dir is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of [debug, info, warn, error], got %s", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of [json, text], got %s", c.Log.Format)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Credentials.Store {
	case "file":
	case "keyring":
		if c.Credentials.Service == "" {
			return fmt.Errorf("credentials.service is required for the keyring store")
		}
	default:
		return fmt.Errorf("credentials.store must be one of [file, keyring], got %s", c.Credentials.Store)
	}
	return nil
}
