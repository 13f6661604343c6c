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

package config

import "fmt"

// Rate-limit strategy names.
const (
	RateLimitReactive  = "reactive"
	RateLimitProactive = "proactive"
	RateLimitNone      = "none"
)

// EmbedderConfig configures the embedding provider.
//
// Example YAML:
//
//	embedder:
//	  provider: openai
//	  model: text-embedding-3-small
//	  api_key: ${OPENAI_API_KEY}
//	  batch_size: 16
//	  rate_limit: reactive
type EmbedderConfig struct {
	// Provider type: "openai" or "ollama".
	Provider string `yaml:"provider"`

	// Model name (provider-specific default when empty).
	Model string `yaml:"model,omitempty"`

	// APIKey for authenticated providers. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the provider base URL.
	Host string `yaml:"host,omitempty"`

	// Dimension of produced vectors (model default when 0).
	Dimension int `yaml:"dimension,omitempty"`

	// BatchSize for batched embedding requests (default 16).
	BatchSize int `yaml:"batch_size,omitempty"`

	// TimeoutSeconds per HTTP call (default 30).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// RateLimit strategy: reactive (default), proactive, none.
	RateLimit string `yaml:"rate_limit,omitempty"`

	// RequestsPerMinute for the proactive strategy (default 60).
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.RateLimit == "" {
		c.RateLimit = RateLimitReactive
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
}

// Validate checks the configuration for errors.
func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case "openai", "ollama":
	default:
		return NewValidationError("embedder",
			fmt.Sprintf("invalid provider %q (valid: openai, ollama)", c.Provider), nil)
	}
	if c.Provider == "openai" && c.APIKey == "" {
		return NewValidationError("embedder", "api_key is required for openai", nil)
	}
	switch c.RateLimit {
	case RateLimitReactive, RateLimitProactive, RateLimitNone:
	default:
		return NewValidationError("embedder",
			fmt.Sprintf("invalid rate_limit %q (valid: reactive, proactive, none)", c.RateLimit), nil)
	}
	return nil
}

// LLMConfig configures the text-generation provider.
//
// Example YAML:
//
//	llm:
//	  provider: anthropic
//	  model: claude-sonnet-4-20250514
//	  api_key: ${ANTHROPIC_API_KEY}
type LLMConfig struct {
	// Provider type: "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// Model name (provider-specific default when empty).
	Model string `yaml:"model,omitempty"`

	// APIKey for the provider. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the provider base URL.
	Host string `yaml:"host,omitempty"`

	// Temperature for generation (default 0).
	Temperature float64 `yaml:"temperature,omitempty"`

	// MaxTokens per response (default 4096).
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// TimeoutSeconds per HTTP call (default 30).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// RateLimit strategy: reactive (default), proactive, none.
	RateLimit string `yaml:"rate_limit,omitempty"`

	// RequestsPerMinute for the proactive strategy (default 60).
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	if c.RateLimit == "" {
		c.RateLimit = RateLimitReactive
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
}

// Validate checks the configuration for errors.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case "openai", "anthropic":
	default:
		return NewValidationError("llm",
			fmt.Sprintf("invalid provider %q (valid: openai, anthropic)", c.Provider), nil)
	}
	if c.APIKey == "" {
		return NewValidationError("llm", fmt.Sprintf("api_key is required for %s", c.Provider), nil)
	}
	switch c.RateLimit {
	case RateLimitReactive, RateLimitProactive, RateLimitNone:
	default:
		return NewValidationError("llm",
			fmt.Sprintf("invalid rate_limit %q (valid: reactive, proactive, none)", c.RateLimit), nil)
	}
	return nil
}
