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

package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/llm"
	"github.com/ragforge/ragforge/pkg/schema"
)

type fakeGraph struct {
	mu       sync.Mutex
	vector   map[string][]graph.Hit
	fulltext map[string][]graph.Hit
	failing  map[string]bool
	runRows  map[string][]graph.Record
}

func (f *fakeGraph) Run(ctx context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	for key, rows := range f.runRows {
		if strings.Contains(cypher, key) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeGraph) RunWrite(ctx context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	return nil, nil
}

func (f *fakeGraph) WriteBatch(ctx context.Context, statements []graph.Statement) error {
	return nil
}

func (f *fakeGraph) VectorQuery(ctx context.Context, index string, vector []float32, topK int) ([]graph.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[index] {
		return nil, fmt.Errorf("index %s is down", index)
	}
	return f.vector[index], nil
}

func (f *fakeGraph) FulltextQuery(ctx context.Context, index string, query string, topK int) ([]graph.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[index] {
		return nil, fmt.Errorf("index %s is down", index)
	}
	return f.fulltext[index], nil
}

func (f *fakeGraph) EnsureIndexes(ctx context.Context, s *schema.Schema) error { return nil }
func (f *fakeGraph) Close(ctx context.Context) error                          { return nil }

type fakeEmbedder struct{ fail bool }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedder down")
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }
func (f *fakeEmbedder) Model() string  { return "fake" }
func (f *fakeEmbedder) Close() error   { return nil }

type fakeLLM struct{ reply string }

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts *llm.Options) (string, error) {
	return f.reply, nil
}

func (f *fakeLLM) GenerateParallel(ctx context.Context, prompts []string, opts *llm.Options) ([]string, error) {
	out := make([]string, len(prompts))
	for i := range prompts {
		out[i] = f.reply
	}
	return out, nil
}

func (f *fakeLLM) Model() string { return "fake" }
func (f *fakeLLM) Close() error  { return nil }

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := &schema.Schema{Entities: []schema.Entity{
		{
			Label: "Scope",
			Fields: []schema.Field{
				{Name: "uuid", Type: schema.FieldString},
				{Name: "name", Type: schema.FieldString},
				{Name: "source", Type: schema.FieldString},
				{Name: "startLine", Type: schema.FieldNumber},
			},
			VectorIndexes: []schema.VectorIndex{
				{Name: "scopeSource", SourceField: "source", EmbeddingField: "sourceEmbedding", Dimension: 2},
				{Name: "scopeName", SourceField: "name", EmbeddingField: "nameEmbedding", Dimension: 2},
			},
			FulltextIndexes: []schema.FulltextIndex{
				{Name: "scopeText", Fields: []string{"name", "source"}},
			},
		},
		{
			Label: "WebPage",
			Fields: []schema.Field{
				{Name: "uuid", Type: schema.FieldString},
				{Name: "name", Type: schema.FieldString},
				{Name: "textContent", Type: schema.FieldString},
			},
			VectorIndexes: []schema.VectorIndex{
				{Name: "pageContent", SourceField: "textContent", EmbeddingField: "contentEmbedding", Dimension: 2},
			},
		},
	}}
	s.SetDefaults()
	require.NoError(t, s.Validate())
	return s
}

func scopeHit(uuid string, score float64) graph.Hit {
	return graph.Hit{
		Node: graph.Node{
			Labels: []string{"Scope"},
			Props:  map[string]any{"uuid": uuid, "name": uuid, "source": "func " + uuid + "() {}"},
		},
		Score: score,
	}
}

func defaultCfg() config.SearchConfig {
	cfg := config.SearchConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestSearchFusesVectorAndBM25(t *testing.T) {
	g := &fakeGraph{
		vector: map[string][]graph.Hit{
			"scopeSource": {scopeHit("a", 0.9), scopeHit("b", 0.5)},
		},
		fulltext: map[string][]graph.Hit{
			"scopeText": {scopeHit("b", 4.0), scopeHit("a", 2.0)},
		},
	}
	e := NewEngine(g, &fakeEmbedder{}, nil, testSchema(t), nil, defaultCfg())

	results, err := e.Search(context.Background(), Request{
		Query:    "open a connection",
		Entities: []string{"Scope"},
		TopK:     5,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// a: 0.7*0.9 + 0.3*0.5 = 0.78; b: 0.7*0.5 + 0.3*1.0 = 0.65
	assert.Equal(t, "a", results[0].Entity.Props["uuid"])
	assert.InDelta(t, 0.78, results[0].Score, 1e-9)
	assert.InDelta(t, 0.9, results[0].Breakdown.Vector, 1e-9)
	assert.InDelta(t, 0.5, results[0].Breakdown.BM25, 1e-9)

	assert.Equal(t, "b", results[1].Entity.Props["uuid"])
	assert.InDelta(t, 0.65, results[1].Score, 1e-9)
}

func TestSearchIsDeterministic(t *testing.T) {
	g := &fakeGraph{
		vector: map[string][]graph.Hit{
			"scopeSource": {scopeHit("x", 0.5), scopeHit("y", 0.5), scopeHit("z", 0.5)},
		},
	}
	e := NewEngine(g, &fakeEmbedder{}, nil, testSchema(t), nil, defaultCfg())

	req := Request{Query: "q", Entities: []string{"Scope"}, TopK: 3}
	first, err := e.Search(context.Background(), req)
	require.NoError(t, err)

	for range 5 {
		again, err := e.Search(context.Background(), req)
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for i := range first {
			assert.Equal(t, first[i].Entity.Props["uuid"], again[i].Entity.Props["uuid"])
		}
	}
}

func TestSearchDegradesOnPartialFailure(t *testing.T) {
	g := &fakeGraph{
		vector: map[string][]graph.Hit{
			"scopeSource": {scopeHit("a", 0.9)},
		},
		failing: map[string]bool{"scopeText": true},
	}
	e := NewEngine(g, &fakeEmbedder{}, nil, testSchema(t), nil, defaultCfg())

	results, err := e.Search(context.Background(), Request{
		Query: "q", Entities: []string{"Scope"}, TopK: 5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Entity.Props["uuid"])
}

func TestSearchFailsWhenAllSourcesFail(t *testing.T) {
	g := &fakeGraph{
		failing: map[string]bool{"scopeSource": true, "scopeName": true, "scopeText": true},
	}
	e := NewEngine(g, &fakeEmbedder{}, nil, testSchema(t), nil, defaultCfg())

	_, err := e.Search(context.Background(), Request{
		Query: "q", Entities: []string{"Scope"}, TopK: 5,
	})
	require.Error(t, err)

	var failed *FailedError
	require.True(t, errors.As(err, &failed))
}

func TestSelectIndexesAllDegradesToContent(t *testing.T) {
	// Build a schema where "all" exceeds ceiling*2 but "content" does not.
	s := &schema.Schema{}
	for i := range 5 {
		entity := schema.Entity{
			Label:  fmt.Sprintf("E%d", i),
			Fields: []schema.Field{{Name: "uuid", Type: schema.FieldString}, {Name: "name", Type: schema.FieldString}},
		}
		for j := range 4 {
			entity.VectorIndexes = append(entity.VectorIndexes, schema.VectorIndex{
				Name:           fmt.Sprintf("idx_%d_%d", i, j),
				SourceField:    "name",
				EmbeddingField: "emb",
				Dimension:      2,
			})
		}
		s.Entities = append(s.Entities, entity)
	}
	s.SetDefaults()
	require.NoError(t, s.Validate())

	cfg := defaultCfg()
	cfg.FanoutCeiling = 8
	e := NewEngine(&fakeGraph{}, &fakeEmbedder{}, nil, s, nil, cfg)

	pairs, _ := e.selectIndexes(Request{EmbeddingTypes: []string{"all"}})
	assert.Len(t, pairs, 5, "20 pairs exceed ceiling*2, should degrade to one content index per entity")

	pairs, _ = e.selectIndexes(Request{EmbeddingTypes: []string{"idx_2_3"}})
	require.Len(t, pairs, 1)
	assert.Equal(t, "idx_2_3", pairs[0].index.Name)
}

func TestStructuralFilters(t *testing.T) {
	entity := &schema.Entity{
		Label: "Scope",
		Fields: []schema.Field{
			{Name: "name", Type: schema.FieldString},
			{Name: "startLine", Type: schema.FieldNumber},
			{Name: "tags", Type: schema.FieldStringArray},
			{Name: "mtime", Type: schema.FieldDatetime},
		},
	}
	node := graph.Node{Props: map[string]any{
		"name":      "createClient",
		"startLine": int64(42),
		"tags":      []any{"db", "net"},
		"mtime":     "2026-08-01T10:00:00Z",
	}}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"equals match", Filter{Field: "name", Operator: OpEquals, Value: "createClient"}, true},
		{"contains", Filter{Field: "name", Operator: OpContains, Value: "Client"}, true},
		{"startsWith miss", Filter{Field: "name", Operator: OpStartsWith, Value: "close"}, false},
		{"endsWith", Filter{Field: "name", Operator: OpEndsWith, Value: "Client"}, true},
		{"regex", Filter{Field: "name", Operator: OpRegex, Value: "^create[A-Z]"}, true},
		{"gt number", Filter{Field: "startLine", Operator: OpGt, Value: 40}, true},
		{"lte number miss", Filter{Field: "startLine", Operator: OpLte, Value: 41}, false},
		{"in array", Filter{Field: "tags", Operator: OpIn, Value: "db"}, true},
		{"in array miss", Filter{Field: "tags", Operator: OpIn, Value: "fs"}, false},
		{"gte datetime", Filter{Field: "mtime", Operator: OpGte, Value: "2026-01-01T00:00:00Z"}, true},
		{"undeclared field", Filter{Field: "bogus", Operator: OpEquals, Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesFilters(node, entity, []Filter{tt.filter}))
		})
	}
}

func TestQualityScorePrefersDocumentedCode(t *testing.T) {
	documented := "// Opens a connection.\n// Retries on failure.\nfunc open() {}\n"
	bare := "func open() {\n\tx := 1\n\ty := 2\n\tz := 3\n\t_ = x + y + z\n}\n"
	assert.Greater(t, qualityScore(documented), qualityScore(bare))
	assert.Zero(t, qualityScore(""))
}

func TestLLMReranker(t *testing.T) {
	g := &fakeGraph{
		vector: map[string][]graph.Hit{
			"scopeSource": {scopeHit("a", 0.9), scopeHit("b", 0.2)},
		},
	}
	model := &fakeLLM{reply: `Here are the scores:
[{"index":0,"score":0.1,"reasoning":"off topic"},{"index":1,"score":0.95,"reasoning":"exact match"}]`}
	e := NewEngine(g, &fakeEmbedder{}, model, testSchema(t), nil, defaultCfg())

	results, err := e.Search(context.Background(), Request{
		Query:    "q",
		Entities: []string{"Scope"},
		TopK:     2,
		Reranker: RerankLLM,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The llm reranker inverts the vector order.
	assert.Equal(t, "b", results[0].Entity.Props["uuid"])
	assert.Equal(t, "exact match", results[0].Reasoning)
	assert.InDelta(t, 0.95, results[0].Breakdown.Rerank, 1e-9)
}

func TestEnrichmentAttachesNeighbours(t *testing.T) {
	s := testSchema(t)
	s.Entities[0].Relationships = []schema.Relationship{{
		Type: "DEFINED_IN", Target: "WebPage", Direction: schema.DirectionOut,
		Enrichment: &schema.Enrichment{Enabled: true, MaxItems: 3},
	}}

	g := &fakeGraph{
		vector: map[string][]graph.Hit{
			"scopeSource": {scopeHit("a", 0.9)},
		},
		runRows: map[string][]graph.Record{
			"DEFINED_IN": {{"m": map[string]any{"uuid": "p1", "name": "page"}}},
		},
	}
	e := NewEngine(g, &fakeEmbedder{}, nil, s, nil, defaultCfg())

	results, err := e.Search(context.Background(), Request{
		Query: "q", Entities: []string{"Scope"}, TopK: 1, Expand: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Context.Related, 1)
	assert.Equal(t, "DEFINED_IN", results[0].Context.Related[0].RelationshipType)
	assert.Equal(t, "page", results[0].Context.Related[0].Entity.Props["name"])
}

func TestMinScoreCut(t *testing.T) {
	g := &fakeGraph{
		vector: map[string][]graph.Hit{
			"scopeSource": {scopeHit("a", 0.9), scopeHit("b", 0.1)},
		},
	}
	e := NewEngine(g, &fakeEmbedder{}, nil, testSchema(t), nil, defaultCfg())

	results, err := e.Search(context.Background(), Request{
		Query: "q", Entities: []string{"Scope"}, TopK: 5, MinScore: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Entity.Props["uuid"])
}
