/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config provides configuration types and defaults for modport.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Engines
const (
	EngineAuto = "auto"
	EngineLua  = "lua"
	EngineCUE  = "cue"
)

// EnvPrefix is the prefix of environment variables read by Load
const EnvPrefix = "MODPORT"

// Config holds all configuration options for modport.
type Config struct {
	// Engine selects the module engine: "auto" (by entry extension), "lua" or "cue"
	Engine string `mapstructure:"engine"`

	// LogLevel is the minimum zap level: "debug", "info", "warn" or "error"
	LogLevel string `mapstructure:"log-level"`

	// LogFormat is "console" or "json"
	LogFormat string `mapstructure:"log-format"`

	// Development enables zap development mode
	Development bool `mapstructure:"development"`

	// StrictNotFound reports missing modules as not-found errors instead of
	// syntax errors
	StrictNotFound bool `mapstructure:"strict-not-found"`

	// MaxConcurrency bounds the realms checked in parallel
	MaxConcurrency int `mapstructure:"max-concurrency"`

	// MetricsBindAddress is where Prometheus metrics are served. "0" disables.
	MetricsBindAddress string `mapstructure:"metrics-bind-address"`

	// WatchDebounce delays a re-run after the last file change
	WatchDebounce time.Duration `mapstructure:"watch-debounce"`

	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Exporter is "none", "stdout" or "otlp"
	Exporter string `mapstructure:"exporter"`

	// OTLPEndpoint is the collector address for the "otlp" exporter
	OTLPEndpoint string `mapstructure:"otlp-endpoint"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Engine:             EngineAuto,
		LogLevel:           "info",
		LogFormat:          "console",
		MaxConcurrency:     4,
		MetricsBindAddress: "0",
		WatchDebounce:      200 * time.Millisecond,
		Tracing: TracingConfig{
			Exporter:     "none",
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// SetDefaults registers Defaults on v.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("engine", d.Engine)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("development", d.Development)
	v.SetDefault("strict-not-found", d.StrictNotFound)
	v.SetDefault("max-concurrency", d.MaxConcurrency)
	v.SetDefault("metrics-bind-address", d.MetricsBindAddress)
	v.SetDefault("watch-debounce", d.WatchDebounce)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp-endpoint", d.Tracing.OTLPEndpoint)
}

// Load reads configuration into a Config. Sources, lowest precedence first:
// defaults, config file, MODPORT_* environment, flags already bound to v.
//
// Config lookup order when cfgFile is empty:
// 1. .modport.yaml (current directory)
// 2. ~/.config/modport/config.yaml (user config)
// A missing config file is not an error.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if _, err := os.Stat(".modport.yaml"); err == nil {
		v.SetConfigFile(".modport.yaml")
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "modport"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch c.Engine {
	case EngineAuto, EngineLua, EngineCUE:
	default:
		return fmt.Errorf("engine must be %q, %q or %q, got %q", EngineAuto, EngineLua, EngineCUE, c.Engine)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log-format must be console or json, got %q", c.LogFormat)
	}

	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max-concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.WatchDebounce < 0 {
		return fmt.Errorf("watch-debounce must not be negative, got %s", c.WatchDebounce)
	}

	return ValidateTracing(c.Tracing)
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tracing TracingConfig) error {
	switch tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp-endpoint is required when exporter is \"otlp\"")
		}
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"stdout\" or \"otlp\", got %q", tracing.Exporter)
	}
	return nil
}

// EngineFor returns the engine used for entry: the configured engine, or
// with "auto" CUE for .cue files and Lua otherwise.
func (c Config) EngineFor(entry string) string {
	if c.Engine != "" && c.Engine != EngineAuto {
		return c.Engine
	}
	if strings.EqualFold(filepath.Ext(entry), ".cue") {
		return EngineCUE
	}
	return EngineLua
}
