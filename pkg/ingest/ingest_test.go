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

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/schema"
)

// memGraph is a minimal stateful fake: it remembers file hashes and scopes
// written through WriteBatch so re-ingestion sees prior state.
type memGraph struct {
	mu           sync.Mutex
	fileHashes   map[string]string
	scopes       map[string][]graph.Record // file path -> scope rows
	writeBatches int
}

func newMemGraph() *memGraph {
	return &memGraph{
		fileHashes: make(map[string]string),
		scopes:     make(map[string][]graph.Record),
	}
}

func (m *memGraph) Run(ctx context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case strings.Contains(cypher, "MATCH (f:File {path: $path}) RETURN f.contentHash"):
		path, _ := params["path"].(string)
		if hash, ok := m.fileHashes[path]; ok {
			return []graph.Record{{"hash": hash}}, nil
		}
		return nil, nil
	case strings.Contains(cypher, "MATCH (s:Scope {file: $path})"):
		path, _ := params["path"].(string)
		return m.scopes[path], nil
	}
	return nil, nil
}

func (m *memGraph) RunWrite(ctx context.Context, cypher string, params map[string]any) ([]graph.Record, error) {
	return nil, nil
}

func (m *memGraph) WriteBatch(ctx context.Context, statements []graph.Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeBatches++
	for _, stmt := range statements {
		switch {
		case strings.Contains(stmt.Cypher, "MERGE (f:File {path: $path})"):
			path := stmt.Params["path"].(string)
			m.fileHashes[path] = stmt.Params["hash"].(string)
		case strings.Contains(stmt.Cypher, "MERGE (s:Scope {uuid: $uuid})"):
			file := stmt.Params["file"].(string)
			m.scopes[file] = append(m.scopes[file], graph.Record{
				"uuid":   stmt.Params["uuid"],
				"name":   stmt.Params["name"],
				"hash":   stmt.Params["hash"],
				"source": stmt.Params["source"],
			})
		}
	}
	return nil
}

func (m *memGraph) VectorQuery(ctx context.Context, index string, vector []float32, topK int) ([]graph.Hit, error) {
	return nil, nil
}

func (m *memGraph) FulltextQuery(ctx context.Context, index string, query string, topK int) ([]graph.Hit, error) {
	return nil, nil
}

func (m *memGraph) EnsureIndexes(ctx context.Context, s *schema.Schema) error { return nil }
func (m *memGraph) Close(ctx context.Context) error                          { return nil }

func (m *memGraph) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeBatches
}

func newTestEngine(g graph.Graph) *Engine {
	cfg := config.IngestionConfig{}
	cfg.SetDefaults()
	return NewEngine(g, schema.DefaultSchema(), graph.NewIngestionLock(0), cfg)
}

func TestContentHashNormalises(t *testing.T) {
	assert.Equal(t, ContentHash("a\nb\n"), ContentHash("a\r\nb\r\n"))
	assert.Equal(t, ContentHash("a  \nb\t\n"), ContentHash("a\nb"))
	assert.NotEqual(t, ContentHash("a"), ContentHash("b"))
}

func TestHeuristicParserExtractsScopes(t *testing.T) {
	source := `package db

import "github.com/neo4j/neo4j-go-driver/v5/neo4j"

func createClient() {
	cfg := loadConfig()
	_ = cfg
}

func loadConfig() int {
	return 1
}

type Client struct{}
`
	scopes, err := HeuristicParser{}.Parse("db.go", []byte(source))
	require.NoError(t, err)
	require.Len(t, scopes, 3)

	byName := make(map[string]ParsedScope, len(scopes))
	for _, s := range scopes {
		byName[s.Name] = s
	}

	create := byName["createClient"]
	assert.Equal(t, "function", create.Type)
	assert.Contains(t, create.Consumes, "loadConfig")
	assert.Contains(t, create.Libraries, "github.com/neo4j/neo4j-go-driver/v5/neo4j")
	assert.Equal(t, "type", byName["Client"].Type)
}

func TestChunkMarkdown(t *testing.T) {
	doc := `intro text

# Setup

Install it.

` + "```bash\nmake install\n```" + `

## Notes

A heading inside a fence:

` + "```\n# not a heading\n```" + `
`
	sections := ChunkMarkdown(doc)
	require.Len(t, sections, 3)

	assert.Equal(t, "(preamble)", sections[0].Heading)
	assert.Equal(t, 0, sections[0].Level)

	assert.Equal(t, "Setup", sections[1].Heading)
	assert.Equal(t, 1, sections[1].Level)
	require.Len(t, sections[1].Blocks, 1)
	assert.Equal(t, "bash", sections[1].Blocks[0].Language)
	assert.Equal(t, "make install", sections[1].Blocks[0].Code)

	assert.Equal(t, "Notes", sections[2].Heading)
	assert.Equal(t, 2, sections[2].Level)
	require.Len(t, sections[2].Blocks, 1)
	assert.Contains(t, sections[2].Blocks[0].Code, "# not a heading")
}

func TestDiffTextsCounters(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nB\nc\nd\n"
	change := diffTexts(before, after)

	assert.Equal(t, "modified", change.Type)
	assert.Equal(t, 2, change.LinesAdded)
	assert.Equal(t, 1, change.LinesRemoved)
	assert.Contains(t, change.Diff, "-b")
	assert.Contains(t, change.Diff, "+B")
	assert.Contains(t, change.Diff, "+d")

	assert.Equal(t, "created", diffTexts("", "x\n").Type)
	assert.Equal(t, "deleted", diffTexts("x\n", "").Type)
}

func TestIngestFileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("func main() {\n}\n"), 0o644))

	g := newMemGraph()
	e := newTestEngine(g)
	project := config.ProjectConfig{Name: "test", Path: dir}

	stats, err := e.ingestFile(context.Background(), project, path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, g.batchCount())

	// Same content: no transaction, no change, nothing to embed.
	stats, err = e.ingestFile(context.Background(), project, path)
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)
	assert.Equal(t, 1, g.batchCount())
}

func TestIngestFileDetectsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("func a() {\n}\n\nfunc b() {\n}\n"), 0o644))

	g := newMemGraph()
	e := newTestEngine(g)
	project := config.ProjectConfig{Name: "test", Path: dir}

	_, err := e.ingestFile(context.Background(), project, path)
	require.NoError(t, err)

	// b is removed, a changes.
	require.NoError(t, os.WriteFile(path, []byte("func a() {\n\treturn\n}\n"), 0o644))
	stats, err := e.ingestFile(context.Background(), project, path)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Modified, "file counts as modified")
	assert.Equal(t, 1, stats.Deleted, "scope b should be deleted")
}

func TestWatcherDebounceCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("func main() {\n}\n"), 0o644))

	g := newMemGraph()
	e := newTestEngine(g)
	w := NewWatcher(e, config.ProjectConfig{Name: "test", Path: dir})

	ctx := context.Background()
	for range 100 {
		w.record(ctx, path)
	}

	require.Eventually(t, func() bool {
		return g.batchCount() == 1
	}, 2*time.Second, 20*time.Millisecond, "burst should produce exactly one ingestion")

	// No further flush fires.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, g.batchCount())
}

func TestMarkdownEntitiesStableIDs(t *testing.T) {
	doc := "# A\n\ntext\n"
	first := markdownEntities("doc.md", doc)
	second := markdownEntities("doc.md", doc)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Props["uuid"], second[i].Props["uuid"])
	}
}
