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

import (
	"fmt"
	"time"
)

// PersonaColor values accepted for persona rendering.
var PersonaColors = []string{"red", "green", "yellow", "blue", "magenta", "cyan", "white", "gray"}

// PersonaConfig is a named identity that parameterises the agent prompt.
type PersonaConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Color       string `yaml:"color,omitempty"`
	Language    string `yaml:"language,omitempty"`
	Description string `yaml:"description,omitempty"`

	// Persona is the LLM-enhanced second-person prompt text.
	Persona string `yaml:"persona,omitempty"`

	// IsDefault marks built-in personas that cannot be deleted.
	IsDefault bool `yaml:"is_default,omitempty"`

	CreatedAt time.Time `yaml:"created_at,omitempty"`
}

// AgentConfig configures the agent runtime.
//
// Example YAML:
//
//	agent:
//	  max_iterations: 5
//	  personas:
//	    - id: forge
//	      name: Forge
//	      color: cyan
//	      is_default: true
//	  active_persona: forge
type AgentConfig struct {
	// MaxIterations caps the plan/act/observe loop (default 5).
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// SummarizeAboveResults triggers evidence summarization (default 10).
	SummarizeAboveResults int `yaml:"summarize_above_results,omitempty"`

	// SummarizeAboveBytes triggers evidence summarization (default 30720).
	SummarizeAboveBytes int `yaml:"summarize_above_bytes,omitempty"`

	// Personas is the ordered persona list.
	Personas []PersonaConfig `yaml:"personas,omitempty"`

	// ActivePersona is the id of the active persona.
	ActivePersona string `yaml:"active_persona,omitempty"`

	// Conversations configures the conversation store.
	Conversations ConversationStoreConfig `yaml:"conversations,omitempty"`
}

// ConversationStoreConfig configures the SQL conversation store.
type ConversationStoreConfig struct {
	// Dialect: "sqlite" (default), "postgres", or "mysql".
	Dialect string `yaml:"dialect,omitempty"`

	// DSN is the connection string. For sqlite this is the database path
	// (default $HOME/.ragforge/conversations.db).
	DSN string `yaml:"dsn,omitempty"`
}

// SetDefaults applies default values, seeding the built-in persona.
func (c *AgentConfig) SetDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.SummarizeAboveResults <= 0 {
		c.SummarizeAboveResults = 10
	}
	if c.SummarizeAboveBytes <= 0 {
		c.SummarizeAboveBytes = 30 * 1024
	}
	if len(c.Personas) == 0 {
		c.Personas = []PersonaConfig{{
			ID:          "forge",
			Name:        "Forge",
			Color:       "cyan",
			Language:    "English",
			Description: "The default RagForge assistant.",
			Persona:     "You are Forge, a precise assistant for exploring a code knowledge graph. You answer with evidence from the graph and cite the entities you used.",
			IsDefault:   true,
			CreatedAt:   time.Now().UTC(),
		}}
	}
	if c.ActivePersona == "" {
		c.ActivePersona = c.Personas[0].ID
	}
	if c.Conversations.Dialect == "" {
		c.Conversations.Dialect = "sqlite"
	}
}

// Validate checks the configuration for errors.
func (c *AgentConfig) Validate() error {
	seen := make(map[string]bool, len(c.Personas))
	active := false
	for _, p := range c.Personas {
		if p.ID == "" || p.Name == "" {
			return NewValidationError("agent", "personas require id and name", nil)
		}
		if seen[p.ID] {
			return NewValidationError("agent", fmt.Sprintf("duplicate persona id %q", p.ID), nil)
		}
		seen[p.ID] = true
		if p.Color != "" && !validPersonaColor(p.Color) {
			return NewValidationError("agent", fmt.Sprintf("invalid persona color %q", p.Color), nil)
		}
		if p.ID == c.ActivePersona {
			active = true
		}
	}
	if len(c.Personas) > 0 && !active {
		return NewValidationError("agent",
			fmt.Sprintf("active_persona %q is not in personas", c.ActivePersona), nil)
	}
	switch c.Conversations.Dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return NewValidationError("agent",
			fmt.Sprintf("invalid conversation dialect %q (valid: sqlite, postgres, mysql)", c.Conversations.Dialect), nil)
	}
	return nil
}

func validPersonaColor(color string) bool {
	for _, c := range PersonaColors {
		if c == color {
			return true
		}
	}
	return false
}

// ToolsConfig configures tool exposure.
type ToolsConfig struct {
	// MCP exposes the generated tool surface over the Model Context Protocol.
	MCP MCPConfig `yaml:"mcp,omitempty"`

	// RawCypherEnabled enables the raw_cypher tool (default true).
	RawCypherEnabled *bool `yaml:"raw_cypher_enabled,omitempty"`
}

// MCPConfig configures the MCP server exposure.
type MCPConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// Name reported to MCP clients (default "ragforge").
	Name string `yaml:"name,omitempty"`
}

// SetDefaults applies default values.
func (c *ToolsConfig) SetDefaults() {
	if c.MCP.Name == "" {
		c.MCP.Name = "ragforge"
	}
}

// RawCypher reports whether the raw_cypher tool is enabled.
func (c *ToolsConfig) RawCypher() bool {
	if c.RawCypherEnabled == nil {
		return true
	}
	return *c.RawCypherEnabled
}
