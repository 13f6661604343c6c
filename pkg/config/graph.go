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

// GraphConfig configures the property-graph connection.
//
// Example YAML:
//
//	graph:
//	  uri: neo4j://localhost:7687
//	  username: neo4j
//	  password: ${NEO4J_PASSWORD}
//	  database: neo4j
type GraphConfig struct {
	// URI is the bolt/neo4j connection URI.
	URI string `yaml:"uri"`

	// Username for authenticated access.
	Username string `yaml:"username,omitempty"`

	// Password for authenticated access. Supports ${ENV} expansion.
	Password string `yaml:"password,omitempty"`

	// Database name (default "neo4j").
	Database string `yaml:"database,omitempty"`

	// QueryTimeoutSeconds bounds a single query (default 60).
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds,omitempty"`

	// LockTimeoutSeconds bounds ingestion-lock acquisition (default 30).
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds,omitempty"`
}

// SetDefaults applies default values.
func (c *GraphConfig) SetDefaults() {
	if c.URI == "" {
		c.URI = "neo4j://localhost:7687"
	}
	if c.Database == "" {
		c.Database = "neo4j"
	}
	if c.QueryTimeoutSeconds <= 0 {
		c.QueryTimeoutSeconds = 60
	}
	if c.LockTimeoutSeconds <= 0 {
		c.LockTimeoutSeconds = 30
	}
}

// Validate checks the configuration for errors.
func (c *GraphConfig) Validate() error {
	if c.URI == "" {
		return NewValidationError("graph", "uri is required", nil)
	}
	return nil
}
