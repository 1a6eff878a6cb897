// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

// Loader reads a YAML file, optionally merges an in-memory confmap
// overlay on top of it, decodes the merged tree via mapstructure, then
// applies SetDefaults/Validate.
type Loader struct {
	path string
	k    *koanf.Koanf
}

func NewLoader(path string) *Loader {
	return &Loader{path: path, k: koanf.New(".")}
}

// Load reads Loader.path, then decodes, defaults, and validates the
// result. A missing file is not an error: Load returns the all-default
// Config, matching the "configuration is layered, not mandatory"
// posture the HTTP/CLI surfaces expect.
func (l *Loader) Load() (*Config, error) {
	if err := l.LoadFile(); err != nil {
		return nil, err
	}
	return l.Finalize()
}

// LoadFile reads Loader.path into the key tree without decoding. Call
// Overlay and/or Finalize afterward; Load is the common-case shortcut
// that calls LoadFile then Finalize with no overlay in between.
func (l *Loader) LoadFile() error {
	if l.path == "" {
		return nil
	}
	if _, err := os.Stat(l.path); err == nil {
		if err := l.k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return fmt.Errorf("config: load %s: %w", l.path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("config: stat %s: %w", l.path, err)
	}
	return nil
}

// Overlay merges an in-memory map over whatever is already loaded —
// used for environment/flag overrides layered above the file. Call Finalize (or
// Load, which calls it) afterward to obtain a Config reflecting the
// overlay: Overlay only updates the underlying key tree.
func (l *Loader) Overlay(values map[string]any) error {
	if err := l.k.Load(confmap.Provider(values, "."), nil); err != nil {
		return fmt.Errorf("config: overlay: %w", err)
	}
	return nil
}

// Finalize decodes the Loader's current key tree (file plus any
// Overlay calls so far) into a fully defaulted, validated Config.
func (l *Loader) Finalize() (*Config, error) {
	cfg := &Config{}
	if err := l.decode(cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) decode(cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  cfg,
	})
	if err != nil {
		return fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(l.k.Raw()); err != nil {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

// Load is a convenience wrapper for the common case of a one-shot,
// no-overlay load.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}
