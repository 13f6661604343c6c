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

package tools

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/schema"
	"github.com/ragforge/ragforge/pkg/search"
)

// recordingGraph captures each query so tests can assert on the generated
// Cypher and parameters. Reads pop from queue first, then fall back to
// result.
type recordingGraph struct {
	mu     sync.Mutex
	calls  []graphCall
	result []graph.Record
	queue  [][]graph.Record
}

type graphCall struct {
	cypher string
	params map[string]any
	write  bool
}

func (r *recordingGraph) Run(ctx context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, graphCall{cypher: cypher, params: params})
	if len(r.queue) > 0 {
		res := r.queue[0]
		r.queue = r.queue[1:]
		return res, nil
	}
	return r.result, nil
}

func (r *recordingGraph) RunWrite(ctx context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, graphCall{cypher: cypher, params: params, write: true})
	return r.result, nil
}

func (r *recordingGraph) WriteBatch(ctx context.Context, statements []graph.Statement) error {
	return nil
}

func (r *recordingGraph) VectorQuery(ctx context.Context, index string, vector []float32, topK int) ([]graph.Hit, error) {
	return nil, nil
}

func (r *recordingGraph) FulltextQuery(ctx context.Context, index string, query string, topK int) ([]graph.Hit, error) {
	return nil, nil
}

func (r *recordingGraph) EnsureIndexes(ctx context.Context, s *schema.Schema) error { return nil }
func (r *recordingGraph) Close(ctx context.Context) error                          { return nil }

func (r *recordingGraph) last() graphCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func toolsTestSchema(t *testing.T) *schema.Schema {
	s := &schema.Schema{
		Entities: []schema.Entity{
			{
				Label:       "Note",
				UniqueField: "uuid",
				Fields: []schema.Field{
					{Name: "uuid", Type: schema.FieldString},
					{Name: "name", Type: schema.FieldString},
					{Name: "body", Type: schema.FieldString},
					{Name: "priority", Type: schema.FieldNumber},
					{Name: "createdAt", Type: schema.FieldDatetime},
				},
				Relationships: []schema.Relationship{
					{Type: "REFERS_TO", Target: "Note"},
				},
				VectorIndexes: []schema.VectorIndex{
					{Name: "noteBody", SourceField: "body", EmbeddingField: "bodyEmbedding", Dimension: 8},
				},
				Mutable: true,
			},
			{
				Label:       "Tag",
				UniqueField: "name",
				Fields: []schema.Field{
					{Name: "name", Type: schema.FieldString},
				},
			},
		},
	}
	s.SetDefaults()
	require.NoError(t, s.Validate())
	return s
}

func newTestGenerator(t *testing.T, g graph.Graph) *Generator {
	var cfg config.ToolsConfig
	cfg.SetDefaults()
	return NewGenerator(toolsTestSchema(t), g, nil, graph.NewIngestionLock(0), cfg)
}

func toolNames(ts []*Tool) map[string]*Tool {
	out := make(map[string]*Tool, len(ts))
	for _, t := range ts {
		out[t.Name] = t
	}
	return out
}

func TestGeneratorSurface(t *testing.T) {
	gen := newTestGenerator(t, &recordingGraph{})
	byName := toolNames(gen.Tools())

	// Note declares everything: full surface.
	for _, name := range []string{
		"describe_schema", "raw_cypher",
		"query_Note", "get_Note_by_id", "semantic_search_Note", "expand_Note",
		"mutate_Note", "query_Note_by_date_range", "query_Note_by_number_range",
		"query_Note_by_pattern",
	} {
		assert.Contains(t, byName, name)
	}

	// Tag has no indexes, relationships, or mutability.
	assert.Contains(t, byName, "query_Tag")
	assert.NotContains(t, byName, "semantic_search_Tag")
	assert.NotContains(t, byName, "expand_Tag")
	assert.NotContains(t, byName, "mutate_Tag")
	assert.NotContains(t, byName, "query_Tag_by_date_range")
	assert.NotContains(t, byName, "query_Tag_by_number_range")

	assert.True(t, byName["query_Note"].ReadOnly)
	assert.False(t, byName["mutate_Note"].ReadOnly)
	assert.True(t, byName["mutate_Note"].RequiresValidation)

	// Descriptions enumerate the fields so the LLM can filter correctly.
	assert.Contains(t, byName["query_Note"].Description, "priority (number)")
	assert.Contains(t, byName["query_Note"].Description, "Unique field: uuid")
}

func TestRawCypherDisabledByConfig(t *testing.T) {
	var cfg config.ToolsConfig
	cfg.SetDefaults()
	disabled := false
	cfg.RawCypherEnabled = &disabled

	gen := NewGenerator(toolsTestSchema(t), &recordingGraph{}, nil, graph.NewIngestionLock(0), cfg)
	assert.NotContains(t, toolNames(gen.Tools()), "raw_cypher")
}

func TestValidateArgsRejectsUnknown(t *testing.T) {
	gen := newTestGenerator(t, &recordingGraph{})
	tool := toolNames(gen.Tools())["get_Note_by_id"]

	_, err := tool.Run(context.Background(), map[string]any{
		"uniqueValue": "x", "bogus": 1,
	})
	var unknown *UnknownArgumentError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Argument)

	_, err = tool.Run(context.Background(), map[string]any{})
	require.ErrorContains(t, err, `requires argument "uniqueValue"`)
}

func TestCompileFilters(t *testing.T) {
	s := toolsTestSchema(t)
	entity := s.Entity("Note")

	where, params, err := compileFilters(entity, []filterCondition{
		{Field: "name", Operator: search.OpContains, Value: "client"},
		{Field: "priority", Operator: search.OpGte, Value: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "WHERE n.name CONTAINS $f0 AND n.priority >= $f1", where)
	assert.Equal(t, map[string]any{"f0": "client", "f1": 3}, params)

	// Undeclared field and type-mismatched operator are rejected.
	_, _, err = compileFilters(entity, []filterCondition{
		{Field: "missing", Operator: search.OpEquals, Value: "x"},
	})
	assert.ErrorContains(t, err, `does not declare field "missing"`)

	_, _, err = compileFilters(entity, []filterCondition{
		{Field: "priority", Operator: search.OpContains, Value: "x"},
	})
	assert.ErrorContains(t, err, "does not apply")
}

func TestQueryToolBuildsParameterisedCypher(t *testing.T) {
	g := &recordingGraph{}
	gen := newTestGenerator(t, g)
	tool := toolNames(gen.Tools())["query_Note"]

	_, err := tool.Run(context.Background(), map[string]any{
		"filter": []any{
			map[string]any{"field": "name", "operator": "startsWith", "value": "Create"},
		},
	})
	require.NoError(t, err)

	call := g.last()
	assert.Equal(t,
		"MATCH (n:Note) WHERE n.name STARTS WITH $f0 RETURN n ORDER BY n.uuid SKIP $offset LIMIT $limit",
		call.cypher)
	assert.Equal(t, "Create", call.params["f0"])
	assert.Equal(t, defaultQueryLimit, call.params["limit"])
	assert.False(t, call.write)
}

func TestQueryToolRejectsBadOrderBy(t *testing.T) {
	gen := newTestGenerator(t, &recordingGraph{})
	tool := toolNames(gen.Tools())["query_Note"]

	_, err := tool.Run(context.Background(), map[string]any{"orderBy": "nope"})
	assert.ErrorContains(t, err, `order field "nope"`)
}

func TestRawCypherRejectsWrites(t *testing.T) {
	g := &recordingGraph{}
	gen := newTestGenerator(t, g)
	tool := toolNames(gen.Tools())["raw_cypher"]

	_, err := tool.Run(context.Background(), map[string]any{
		"cypher": "MATCH (n) DETACH DELETE n",
	})
	require.ErrorContains(t, err, "write clause DETACH")

	// A read containing "created" as a property name must not trip the guard.
	_, err = tool.Run(context.Background(), map[string]any{
		"cypher": "MATCH (n:Note) WHERE n.createdAt > $t RETURN n",
		"params": map[string]any{"t": "2026-01-01"},
	})
	require.NoError(t, err)
	assert.False(t, g.last().write)

	// mutate: true routes through the write path.
	_, err = tool.Run(context.Background(), map[string]any{
		"cypher": "MERGE (n:Tag {name: $n})",
		"params": map[string]any{"n": "x"},
		"mutate": true,
	})
	require.NoError(t, err)
	assert.True(t, g.last().write)
}

func TestRawCypherMutateIsNotReadOnly(t *testing.T) {
	gen := newTestGenerator(t, &recordingGraph{})
	tool := toolNames(gen.Tools())["raw_cypher"]

	// Plain reads keep the read-only guarantees; setting mutate loses
	// them, so the runtime gates the call on approval and serialises it.
	assert.True(t, tool.ReadOnly)
	assert.Equal(t, "mutate", tool.WriteFlag)
	assert.False(t, tool.WriteRequested(map[string]any{"cypher": "MATCH (n) RETURN n"}))
	assert.True(t, tool.WriteRequested(map[string]any{"cypher": "MERGE (n:Tag)", "mutate": true}))
}

func TestMutateValidatesProperties(t *testing.T) {
	g := &recordingGraph{}
	gen := newTestGenerator(t, g)
	tool := toolNames(gen.Tools())["mutate_Note"]

	_, err := tool.Run(context.Background(), map[string]any{
		"action":     "create",
		"properties": map[string]any{"uuid": "1", "nope": "x"},
	})
	assert.ErrorContains(t, err, `does not declare field "nope"`)

	_, err = tool.Run(context.Background(), map[string]any{
		"action":     "create",
		"properties": map[string]any{"name": "missing id"},
	})
	assert.ErrorContains(t, err, `unique field "uuid"`)

	_, err = tool.Run(context.Background(), map[string]any{
		"action":     "create",
		"properties": map[string]any{"uuid": "1", "name": "ok"},
	})
	require.NoError(t, err)
	call := g.last()
	assert.True(t, call.write)
	assert.Contains(t, call.cypher, "MERGE (n:Note {uuid: $id})")
}

func TestExpandClampsDepth(t *testing.T) {
	g := &recordingGraph{}
	gen := newTestGenerator(t, g)
	tool := toolNames(gen.Tools())["expand_Note"]

	_, err := tool.Run(context.Background(), map[string]any{
		"uniqueValue": "1", "relType": "REFERS_TO", "depth": 9,
	})
	require.NoError(t, err)
	assert.Contains(t, g.last().cypher, "-[:REFERS_TO*1..3]->")

	_, err = tool.Run(context.Background(), map[string]any{
		"uniqueValue": "1", "relType": "NOT_DECLARED",
	})
	assert.ErrorContains(t, err, `relationship "NOT_DECLARED"`)
}

func TestExpandUnwrapsFlattenedRows(t *testing.T) {
	// The graph adapter flattens neo4j nodes to plain property maps;
	// graph.Node values must keep working too.
	g := &recordingGraph{result: []graph.Record{
		{"m": map[string]any{"uuid": "n2", "name": "neighbour", "bodyEmbedding": []float32{0.1}}},
		{"m": graph.Node{Props: map[string]any{"uuid": "n3", "name": "other"}}},
	}}
	gen := newTestGenerator(t, g)
	tool := toolNames(gen.Tools())["expand_Note"]

	out, err := tool.Run(context.Background(), map[string]any{
		"uniqueValue": "n1", "relType": "REFERS_TO",
	})
	require.NoError(t, err)
	nodes := out.([]map[string]any)
	require.Len(t, nodes, 2)
	assert.Equal(t, "n2", nodes[0]["uuid"])
	assert.Equal(t, "n3", nodes[1]["uuid"])
	assert.NotContains(t, nodes[0], "bodyEmbedding")
}

func TestQueryExpandAttachesNeighbours(t *testing.T) {
	g := &recordingGraph{queue: [][]graph.Record{
		{{"n": map[string]any{"uuid": "n1", "name": "root"}}},
		{{"m": map[string]any{"uuid": "n2", "name": "neighbour"}}},
	}}
	gen := newTestGenerator(t, g)
	tool := toolNames(gen.Tools())["query_Note"]

	out, err := tool.Run(context.Background(), map[string]any{
		"expand": []any{"REFERS_TO"},
	})
	require.NoError(t, err)
	results := out.([]map[string]any)
	require.Len(t, results, 1)

	neighbours, ok := results[0]["_REFERS_TO"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, neighbours, 1)
	assert.Equal(t, "n2", neighbours[0]["uuid"])

	// The neighbour query carried the root's unique value.
	assert.Equal(t, "n1", g.last().params["id"])
}

func TestRangeToolChecksFieldType(t *testing.T) {
	g := &recordingGraph{}
	gen := newTestGenerator(t, g)
	byName := toolNames(gen.Tools())

	_, err := byName["query_Note_by_number_range"].Run(context.Background(), map[string]any{
		"field": "priority", "from": 1, "to": 5,
	})
	require.NoError(t, err)
	assert.Contains(t, g.last().cypher, "n.priority >= $from AND n.priority <= $to")

	_, err = byName["query_Note_by_date_range"].Run(context.Background(), map[string]any{
		"field": "priority", "from": "2026-01-01T00:00:00Z",
	})
	assert.ErrorContains(t, err, "not datetime")

	_, err = byName["query_Note_by_number_range"].Run(context.Background(), map[string]any{
		"field": "priority",
	})
	assert.ErrorContains(t, err, "requires from or to")
}

func TestPatternToolRejectsInvalidRegex(t *testing.T) {
	gen := newTestGenerator(t, &recordingGraph{})
	tool := toolNames(gen.Tools())["query_Note_by_pattern"]

	_, err := tool.Run(context.Background(), map[string]any{
		"field": "name", "pattern": "(",
	})
	assert.ErrorContains(t, err, "invalid pattern")
}

func TestDescribeSchema(t *testing.T) {
	gen := newTestGenerator(t, &recordingGraph{})
	tool := toolNames(gen.Tools())["describe_schema"]

	out, err := tool.Run(context.Background(), nil)
	require.NoError(t, err)

	desc := out.(map[string]any)
	entities := desc["entities"].([]map[string]any)
	require.Len(t, entities, 2)
	assert.Equal(t, "Note", entities[0]["label"])
	assert.Equal(t, true, entities[0]["mutable"])
	assert.Equal(t, []string{"noteBody"}, entities[0]["vectorIndexes"])
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{Descriptor: Descriptor{Name: "a"}}))
	assert.ErrorContains(t, r.Register(&Tool{Descriptor: Descriptor{Name: "a"}}), "already registered")

	names := r.List()
	require.Len(t, names, 1)
}
