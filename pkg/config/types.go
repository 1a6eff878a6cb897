// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config implements Loquat's layered configuration: a YAML
// file decoded through koanf/mapstructure into typed sections, with
// defaulting, validation, and an optional file watcher.
package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that supports YAML parsing.
//
// Supports formats like: "1s", "5m", "2h", "100ms", "1h30m"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var ns int64
		if err := unmarshal(&ns); err != nil {
			return fmt.Errorf("duration must be a string (e.g., '1s') or integer (nanoseconds)")
		}
		*d = Duration(ns)
		return nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the root of Loquat's configuration file.
type Config struct {
	General  GeneralConfig  `yaml:"general" mapstructure:"general"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Plugins  PluginsConfig  `yaml:"plugins" mapstructure:"plugins"`
	Adapters AdaptersConfig `yaml:"adapters" mapstructure:"adapters"`
	Web      WebConfig      `yaml:"web" mapstructure:"web"`
}

// GeneralConfig covers engine-wide tuning.
type GeneralConfig struct {
	Environment    string   `yaml:"environment" mapstructure:"environment"` // dev|test|prod
	IterationCap   int      `yaml:"iteration_cap" mapstructure:"iteration_cap"`
	ChannelIdleTTL Duration `yaml:"channel_idle_ttl" mapstructure:"channel_idle_ttl"`
}

// LoggingConfig selects the structured-logging facade's format and
// verbosity.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug|info|warn|error
	Format string `yaml:"format" mapstructure:"format"` // simple|verbose; other values (json included) get slog's plain text layout
}

// PluginsConfig controls Plugin discovery and the plugin hot-reload
// watcher.
type PluginsConfig struct {
	Enabled            bool     `yaml:"enabled" mapstructure:"enabled"`
	Directory          string   `yaml:"directory" mapstructure:"directory"`
	ScanSubdirectories bool     `yaml:"scan_subdirectories" mapstructure:"scan_subdirectories"`
	ScriptingEnabled   bool     `yaml:"scripting_enabled" mapstructure:"scripting_enabled"`
	Whitelist          []string `yaml:"whitelist" mapstructure:"whitelist"`
	Blacklist          []string `yaml:"blacklist" mapstructure:"blacklist"`
	PollInterval       Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// AdaptersConfig lists the Adapters to construct at startup, each
// routed through its factory_type.
type AdaptersConfig struct {
	PollInterval Duration                `yaml:"poll_interval" mapstructure:"poll_interval"`
	Instances    []AdapterInstanceConfig `yaml:"instances" mapstructure:"instances"`
}

// AdapterInstanceConfig is one configured Adapter instance.
type AdapterInstanceConfig struct {
	Name        string         `yaml:"name" mapstructure:"name"`
	FactoryType string         `yaml:"factory_type" mapstructure:"factory_type"`
	Enabled     bool           `yaml:"enabled" mapstructure:"enabled"`
	Settings    map[string]any `yaml:"settings" mapstructure:"settings"`
}

// WebConfig is the peripheral HTTP management surface's bind address.
type WebConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// SetDefaults fills the zero-valued fields of cfg with Loquat's
// defaults. Call before Validate.
func (c *Config) SetDefaults() {
	if c.General.Environment == "" {
		c.General.Environment = "dev"
	}
	if c.General.IterationCap <= 0 {
		c.General.IterationCap = 64
	}
	if c.General.ChannelIdleTTL <= 0 {
		c.General.ChannelIdleTTL = Duration(10 * time.Minute)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Plugins.Directory == "" {
		c.Plugins.Directory = "./plugins"
	}
	if c.Plugins.PollInterval <= 0 {
		c.Plugins.PollInterval = Duration(5 * time.Second)
	}
	if c.Adapters.PollInterval <= 0 {
		c.Adapters.PollInterval = Duration(10 * time.Second)
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
}

// ValidationError reports one structural problem found by Validate.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate rejects a Config with structural problems SetDefaults
// cannot repair.
func (c *Config) Validate() error {
	switch c.General.Environment {
	case "dev", "test", "prod":
	default:
		return newValidationError("general.environment", "must be one of dev, test, prod")
	}
	seen := make(map[string]bool, len(c.Adapters.Instances))
	for _, a := range c.Adapters.Instances {
		if a.Name == "" {
			return newValidationError("adapters.instances[].name", "must not be empty")
		}
		if seen[a.Name] {
			return newValidationError("adapters.instances[].name", "duplicate name "+a.Name)
		}
		seen[a.Name] = true
		if a.FactoryType == "" {
			return newValidationError("adapters.instances[].factory_type", "must not be empty for adapter "+a.Name)
		}
	}
	return nil
}
