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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ragforge/ragforge/pkg/config"
)

const starterConfig = `# RagForge configuration.
# Credentials live in the sibling .env file and are referenced as ${VAR}.

graph:
  uri: ${NEO4J_URI}
  username: ${NEO4J_USERNAME}
  password: ${NEO4J_PASSWORD}
  database: neo4j

embedder:
  provider: openai
  api_key: ${OPENAI_API_KEY}

llm:
  provider: openai
  api_key: ${OPENAI_API_KEY}

ingestion:
  projects: []
  # projects:
  #   - name: my-project
  #     path: /path/to/repo
  watch: false

search:
  reranker: none

agent:
  max_iterations: 5
`

const starterEnv = `NEO4J_URI=bolt://localhost:7687
NEO4J_USERNAME=neo4j
NEO4J_PASSWORD=
OPENAI_API_KEY=
`

// InitCmd writes the starter config and .env.
type InitCmd struct {
	Force bool `help:"Overwrite existing files."`
}

func (c *InitCmd) Run(cli *CLI) error {
	path := cli.Config
	if path == "" {
		path = config.DefaultPath()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	files := []struct {
		path    string
		content string
		mode    os.FileMode
	}{
		{path, starterConfig, 0o644},
		{filepath.Join(dir, ".env"), starterEnv, 0o600},
	}
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil && !c.Force {
			fmt.Printf("%s already exists, skipping (use --force to overwrite)\n", f.path)
			continue
		}
		if err := os.WriteFile(f.path, []byte(f.content), f.mode); err != nil {
			return fmt.Errorf("writing %s: %w", f.path, err)
		}
		fmt.Printf("Wrote %s\n", f.path)
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Fill in credentials in", filepath.Join(dir, ".env"))
	fmt.Println("  2. Add your projects under ingestion.projects in", path)
	fmt.Println("  3. Run: ragforge validate && ragforge ingest")
	return nil
}
