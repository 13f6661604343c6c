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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
graph:
  uri: neo4j://localhost:7687
embedder:
  provider: ollama
llm:
  provider: openai
  api_key: test-key
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "neo4j", cfg.Graph.Database)
	assert.Equal(t, 30, cfg.Graph.LockTimeoutSeconds)
	assert.Equal(t, 16, cfg.Embedder.BatchSize)
	assert.Equal(t, RateLimitReactive, cfg.Embedder.RateLimit)
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.Equal(t, 0.3, cfg.Search.BM25Weight)
	assert.Equal(t, 8, cfg.Search.FanoutCeiling)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)

	// Nil schema falls back to the canonical code schema.
	require.NotNil(t, cfg.Schema)
	assert.NotNil(t, cfg.Schema.Entity("Scope"))

	// Built-in persona is seeded and active.
	require.Len(t, cfg.Agent.Personas, 1)
	assert.True(t, cfg.Agent.Personas[0].IsDefault)
	assert.Equal(t, cfg.Agent.Personas[0].ID, cfg.Agent.ActivePersona)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("RAGFORGE_TEST_KEY", "sk-secret")
	path := writeConfig(t, `
graph:
  uri: neo4j://localhost:7687
embedder:
  provider: openai
  api_key: ${RAGFORGE_TEST_KEY}
llm:
  provider: openai
  api_key: ${RAGFORGE_TEST_KEY}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", cfg.Embedder.APIKey)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad embedder provider",
			yaml: "embedder:\n  provider: cohere\nllm:\n  provider: openai\n  api_key: k\n",
			want: "invalid provider",
		},
		{
			name: "missing llm key",
			yaml: "embedder:\n  provider: ollama\nllm:\n  provider: anthropic\n",
			want: "api_key is required",
		},
		{
			name: "bad persona color",
			yaml: "embedder:\n  provider: ollama\nllm:\n  provider: openai\n  api_key: k\nagent:\n  personas:\n    - id: p\n      name: P\n      color: orange\n  active_persona: p\n",
			want: "invalid persona color",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestSaveIsAtomicRoundTrip(t *testing.T) {
	path := writeConfig(t, `
graph:
  uri: neo4j://db.example.com:7687
embedder:
  provider: ollama
llm:
  provider: openai
  api_key: k
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.Agent.Personas = append(cfg.Agent.Personas, PersonaConfig{
		ID: "dev", Name: "Dev", Color: "green",
	})
	require.NoError(t, cfg.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, reloaded.Agent.Personas, 2)
	assert.Equal(t, "dev", reloaded.Agent.Personas[1].ID)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".config-")
	}
}
