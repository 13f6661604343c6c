// Copyright 2025 The RagForge Authors
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

// Package config holds the single keyed configuration blob for RagForge:
// graph connection, entity schema, providers, search, ingestion, tools and
// agent settings. The file lives at $HOME/.ragforge/config.yaml by default,
// with credentials in a sibling .env.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ragforge/ragforge/pkg/schema"
)

// Config is the root configuration object.
type Config struct {
	Graph     GraphConfig     `yaml:"graph"`
	Schema    *schema.Schema  `yaml:"schema,omitempty"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search,omitempty"`
	Ingestion IngestionConfig `yaml:"ingestion,omitempty"`
	Tools     ToolsConfig     `yaml:"tools,omitempty"`
	Agent     AgentConfig     `yaml:"agent,omitempty"`

	// path is where the config was loaded from; Save writes back there.
	path string
	mu   sync.Mutex
}

// SetDefaults applies defaults to every section. A nil schema falls back
// to the canonical code schema.
func (c *Config) SetDefaults() {
	c.Graph.SetDefaults()
	if c.Schema == nil {
		c.Schema = schema.DefaultSchema()
	} else {
		c.Schema.SetDefaults()
	}
	c.Embedder.SetDefaults()
	c.LLM.SetDefaults()
	c.Search.SetDefaults()
	c.Ingestion.SetDefaults()
	c.Tools.SetDefaults()
	c.Agent.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Graph.Validate(); err != nil {
		return err
	}
	if err := c.Schema.Validate(); err != nil {
		return NewValidationError("schema", "entity schema is invalid", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Ingestion.Validate(); err != nil {
		return err
	}
	return c.Agent.Validate()
}

// DefaultDir returns $HOME/.ragforge.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ragforge"
	}
	return filepath.Join(home, ".ragforge")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads, expands, defaults and validates a config file.
// A .env next to the config file is loaded first, if present.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	// Credentials live next to the config, not inside it.
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, NewValidationError("config", fmt.Sprintf("failed to parse %s", path), err)
	}

	cfg.path = path
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a fully defaulted in-memory config, not bound to a file.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// SetPath binds the config to a file for Save.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Save persists the config atomically: marshal, write to a temp file in the
// same directory, then rename over the target.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return fmt.Errorf("config has no path to save to")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp config: %w", err)
	}

	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}

	return nil
}
