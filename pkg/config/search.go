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

// SearchConfig configures the hybrid search engine.
//
// Example YAML:
//
//	search:
//	  vector_weight: 0.7
//	  bm25_weight: 0.3
//	  fanout_ceiling: 8
//	  candidate_multiplier: 3
type SearchConfig struct {
	// VectorWeight is the fusion weight for vector scores (default 0.7).
	VectorWeight float64 `yaml:"vector_weight,omitempty"`

	// BM25Weight is the fusion weight for fulltext scores (default 0.3).
	BM25Weight float64 `yaml:"bm25_weight,omitempty"`

	// FanoutCeiling bounds concurrent index queries (default 8).
	FanoutCeiling int `yaml:"fanout_ceiling,omitempty"`

	// CandidateMultiplier oversamples candidates before reranking:
	// candidateLimit = topK * multiplier (default 3).
	CandidateMultiplier int `yaml:"candidate_multiplier,omitempty"`

	// DefaultTopK is the default number of results (default 10).
	DefaultTopK int `yaml:"default_top_k,omitempty"`

	// Reranker selects the default reranker:
	// none, topology-centrality, code-quality, recency, llm.
	Reranker string `yaml:"reranker,omitempty"`
}

// SetDefaults applies default values.
func (c *SearchConfig) SetDefaults() {
	if c.VectorWeight == 0 && c.BM25Weight == 0 {
		c.VectorWeight = 0.7
		c.BM25Weight = 0.3
	}
	if c.FanoutCeiling <= 0 {
		c.FanoutCeiling = 8
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = 3
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 10
	}
	if c.Reranker == "" {
		c.Reranker = "none"
	}
}

// Validate checks the configuration for errors.
func (c *SearchConfig) Validate() error {
	switch c.Reranker {
	case "none", "topology-centrality", "code-quality", "recency", "llm":
	default:
		return NewValidationError("search",
			"invalid reranker (valid: none, topology-centrality, code-quality, recency, llm)", nil)
	}
	if c.VectorWeight < 0 || c.BM25Weight < 0 {
		return NewValidationError("search", "fusion weights must be non-negative", nil)
	}
	return nil
}
