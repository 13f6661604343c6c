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

import "time"

// IngestionConfig configures the ingestion engine and its watchers.
//
// Example YAML:
//
//	ingestion:
//	  projects:
//	    - name: ragforge
//	      path: .
//	  include: ["*.go", "*.md"]
//	  exclude: ["vendor/**", ".git/**"]
//	  watch: true
//	  debounce_ms: 200
type IngestionConfig struct {
	// Projects lists the tracked project roots.
	Projects []ProjectConfig `yaml:"projects,omitempty"`

	// URLs seeds the web crawler.
	URLs []string `yaml:"urls,omitempty"`

	// CrawlDepth bounds link following from seed URLs (default 1).
	CrawlDepth int `yaml:"crawl_depth,omitempty"`

	// Include glob patterns for files (default code + markdown).
	Include []string `yaml:"include,omitempty"`

	// Exclude glob patterns.
	Exclude []string `yaml:"exclude,omitempty"`

	// Watch enables file watchers after the initial pass.
	Watch bool `yaml:"watch,omitempty"`

	// DebounceMs coalesces watcher events (default 200, minimum 200).
	DebounceMs int `yaml:"debounce_ms,omitempty"`

	// MaxConcurrent bounds concurrent source ingestion (default 4).
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`
}

// ProjectConfig names a tracked project root.
type ProjectConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// SetDefaults applies default values.
func (c *IngestionConfig) SetDefaults() {
	if len(c.Include) == 0 {
		c.Include = []string{"*.go", "*.ts", "*.js", "*.py", "*.md"}
	}
	if len(c.Exclude) == 0 {
		c.Exclude = []string{".git/**", "node_modules/**", "vendor/**"}
	}
	if c.DebounceMs < 200 {
		c.DebounceMs = 200
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.CrawlDepth <= 0 {
		c.CrawlDepth = 1
	}
}

// Validate checks the configuration for errors.
func (c *IngestionConfig) Validate() error {
	for _, p := range c.Projects {
		if p.Name == "" || p.Path == "" {
			return NewValidationError("ingestion", "projects require name and path", nil)
		}
	}
	return nil
}

// Debounce returns the debounce interval as a duration.
func (c *IngestionConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}
