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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/metrics"
	"github.com/ragforge/ragforge/pkg/schema"
)

// Stats counts ingestion dispositions across one run.
type Stats struct {
	Created  int
	Modified int
	Deleted  int
	Skipped  int
	Failed   int
}

func (s *Stats) add(other Stats) {
	s.Created += other.Created
	s.Modified += other.Modified
	s.Deleted += other.Deleted
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// Engine walks sources, diffs parsed entities against the graph and writes
// one transaction per source. Runs are serialised by the ingestion lock.
type Engine struct {
	graph    graph.Graph
	schema   *schema.Schema
	lock     *graph.IngestionLock
	cfg      config.IngestionConfig
	parsers  map[string]Parser
	pipeline *Pipeline
}

// NewEngine assembles an ingestion engine with the built-in heuristic parser
// registered for its default extensions.
func NewEngine(g graph.Graph, s *schema.Schema, lock *graph.IngestionLock, cfg config.IngestionConfig) *Engine {
	e := &Engine{
		graph:   g,
		schema:  s,
		lock:    lock,
		cfg:     cfg,
		parsers: make(map[string]Parser),
	}
	e.RegisterParser(HeuristicParser{})
	return e
}

// RegisterParser routes the parser's extensions to it, replacing any
// previous registration.
func (e *Engine) RegisterParser(p Parser) {
	for _, ext := range p.Extensions() {
		e.parsers[ext] = p
	}
}

// SetPipeline attaches the embedding pipeline run after each ingestion.
func (e *Engine) SetPipeline(p *Pipeline) { e.pipeline = p }

// Run ingests all configured projects and URLs under the ingestion lock,
// then refreshes stale embeddings.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	if err := e.lock.Acquire(ctx); err != nil {
		return Stats{}, err
	}
	defer e.lock.Release()

	if err := e.graph.EnsureIndexes(ctx, e.schema); err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, project := range e.cfg.Projects {
		projectStats, err := e.ingestProject(ctx, project)
		stats.add(projectStats)
		if err != nil {
			return stats, err
		}
	}

	if len(e.cfg.URLs) > 0 {
		crawlStats, err := e.crawl(ctx, e.cfg.URLs, e.cfg.CrawlDepth)
		stats.add(crawlStats)
		if err != nil {
			slog.Warn("Web crawl failed", "error", err)
		}
	}

	if e.pipeline != nil {
		embedded, err := e.pipeline.Run(ctx)
		if err != nil {
			return stats, err
		}
		slog.Info("Embedding pipeline complete", "embedded", embedded)
	}

	slog.Info("Ingestion complete", "created", stats.Created, "modified", stats.Modified,
		"deleted", stats.Deleted, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}

// IngestPaths re-ingests specific files, used by watchers after a debounced
// event burst. It takes the lock itself.
func (e *Engine) IngestPaths(ctx context.Context, project config.ProjectConfig, paths []string) (Stats, error) {
	if err := e.lock.Acquire(ctx); err != nil {
		return Stats{}, err
	}
	defer e.lock.Release()

	var stats Stats
	for _, path := range paths {
		fileStats, err := e.ingestFile(ctx, project, path)
		stats.add(fileStats)
		if err != nil {
			stats.Failed++
			metrics.DocumentsIngested.WithLabelValues("failed").Inc()
			slog.Warn("File ingestion failed", "path", path, "error", err)
		}
	}

	if e.pipeline != nil {
		if _, err := e.pipeline.Run(ctx); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (e *Engine) ingestProject(ctx context.Context, project config.ProjectConfig) (Stats, error) {
	if err := e.writeProjectNode(ctx, project); err != nil {
		return Stats{}, err
	}

	var paths []string
	err := filepath.WalkDir(project.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != project.Path && e.excluded(project.Path, path) {
				return filepath.SkipDir
			}
			return nil
		}
		if e.included(path) && !e.excluded(project.Path, path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to walk project %s: %w", project.Name, err)
	}

	var (
		mu    sync.Mutex
		stats Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)
	for _, path := range paths {
		g.Go(func() error {
			fileStats, err := e.ingestFile(gctx, project, path)
			mu.Lock()
			defer mu.Unlock()
			stats.add(fileStats)
			if err != nil {
				// One bad file does not halt the project.
				stats.Failed++
				metrics.DocumentsIngested.WithLabelValues("failed").Inc()
				slog.Warn("File ingestion failed", "path", path, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (e *Engine) writeProjectNode(ctx context.Context, project config.ProjectConfig) error {
	_, err := e.graph.RunWrite(ctx,
		"MERGE (p:Project {name: $name}) SET p.rootPath = $root",
		map[string]any{"name": project.Name, "root": project.Path})
	return err
}

func (e *Engine) included(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range e.cfg.Include {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (e *Engine) excluded(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range e.cfg.Exclude {
		prefix := strings.TrimSuffix(pattern, "/**")
		if prefix != pattern && (rel == prefix || strings.HasPrefix(rel, prefix+"/")) {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ingestFile parses one file and writes its diff in a single transaction.
// An unchanged content hash skips the file entirely.
func (e *Engine) ingestFile(ctx context.Context, project config.ProjectConfig, path string) (Stats, error) {
	start := time.Now()
	defer func() { metrics.IngestLatency.Observe(time.Since(start).Seconds()) }()

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return e.deleteFile(ctx, path)
		}
		return Stats{}, err
	}
	text := string(content)
	fileHash := ContentHash(text)

	rows, err := e.graph.Run(ctx,
		"MATCH (f:File {path: $path}) RETURN f.contentHash AS hash",
		map[string]any{"path": path})
	if err != nil {
		return Stats{}, err
	}
	existed := len(rows) > 0
	if existed && fmt.Sprintf("%v", rows[0]["hash"]) == fileHash {
		metrics.DocumentsIngested.WithLabelValues("skipped").Inc()
		return Stats{Skipped: 1}, nil
	}

	var statements []graph.Statement
	statements = append(statements, e.fileStatements(project, path, fileHash, existed)...)

	var stats Stats
	switch {
	case strings.HasSuffix(path, ".md"):
		mdStatements, mdStats, err := e.markdownStatements(ctx, path, text)
		if err != nil {
			return Stats{}, err
		}
		statements = append(statements, mdStatements...)
		stats.add(mdStats)

	default:
		parser, ok := e.parsers[filepath.Ext(path)]
		if ok {
			scopeStatements, scopeStats, err := e.scopeStatements(ctx, project, path, content, parser)
			if err != nil {
				return Stats{}, err
			}
			statements = append(statements, scopeStatements...)
			stats.add(scopeStats)
		}
	}

	if err := e.graph.WriteBatch(ctx, statements); err != nil {
		return Stats{}, err
	}

	disposition := "modified"
	if !existed {
		disposition = "created"
		stats.Created++
	} else {
		stats.Modified++
	}
	metrics.DocumentsIngested.WithLabelValues(disposition).Inc()
	return stats, nil
}

// deleteFile removes a file node and its scopes, recording deleted changes.
func (e *Engine) deleteFile(ctx context.Context, path string) (Stats, error) {
	rows, err := e.graph.Run(ctx,
		"MATCH (f:File {path: $path}) RETURN f.path AS path",
		map[string]any{"path": path})
	if err != nil {
		return Stats{}, err
	}
	if len(rows) == 0 {
		return Stats{}, nil
	}

	ts := nowTimestamp()
	statements := []graph.Statement{
		{
			// The deleted Change outlives the File node it describes.
			Cypher: "CREATE (c:Change {uuid: $cuuid, changeType: 'deleted', timestamp: $ts, " +
				"linesAdded: 0, linesRemoved: 0, diff: ''})",
			Params: map[string]any{"cuuid": stableID("change", path, ts), "ts": ts},
		},
		{
			Cypher: "MATCH (s:Scope {file: $path}) DETACH DELETE s",
			Params: map[string]any{"path": path},
		},
		{
			Cypher: "MATCH (f:File {path: $path}) DETACH DELETE f",
			Params: map[string]any{"path": path},
		},
	}
	if err := e.graph.WriteBatch(ctx, statements); err != nil {
		return Stats{}, err
	}
	metrics.DocumentsIngested.WithLabelValues("deleted").Inc()
	return Stats{Deleted: 1}, nil
}

// fileStatements merges the File node, its directory chain and a file-level
// change record.
func (e *Engine) fileStatements(project config.ProjectConfig, path, hash string, existed bool) []graph.Statement {
	var statements []graph.Statement

	dir := filepath.Dir(path)
	var chain []string
	for d := dir; d != "." && d != string(filepath.Separator) && d != ""; d = filepath.Dir(d) {
		chain = append([]string{d}, chain...)
		if d == project.Path {
			break
		}
	}
	for i, d := range chain {
		statements = append(statements, graph.Statement{
			Cypher: "MERGE (d:Directory {path: $path}) SET d.depth = $depth",
			Params: map[string]any{"path": d, "depth": i},
		})
		if i > 0 {
			statements = append(statements, graph.Statement{
				Cypher: "MATCH (p:Directory {path: $parent}), (d:Directory {path: $child}) " +
					"MERGE (p)-[:PARENT_OF]->(d)",
				Params: map[string]any{"parent": chain[i-1], "child": d},
			})
		}
	}

	statements = append(statements, graph.Statement{
		Cypher: "MERGE (f:File {path: $path}) " +
			"SET f.name = $name, f.directory = $dir, f.extension = $ext, " +
			"f.contentHash = $hash, f.mtime = $mtime",
		Params: map[string]any{
			"path": path, "name": filepath.Base(path), "dir": dir,
			"ext": filepath.Ext(path), "hash": hash, "mtime": nowTimestamp(),
		},
	})
	statements = append(statements, graph.Statement{
		Cypher: "MATCH (f:File {path: $path}), (d:Directory {path: $dir}) " +
			"MERGE (f)-[:IN_DIRECTORY]->(d)",
		Params: map[string]any{"path": path, "dir": dir},
	})

	changeType := "modified"
	if !existed {
		changeType = "created"
	}
	statements = append(statements, graph.Statement{
		Cypher: "MATCH (f:File {path: $path}) " +
			"CREATE (c:Change {uuid: $cuuid, changeType: $type, timestamp: $ts, " +
			"linesAdded: 0, linesRemoved: 0, diff: ''}) " +
			"CREATE (f)-[:HAS_CHANGE]->(c)",
		Params: map[string]any{
			"path": path, "cuuid": stableID("change", path, nowTimestamp()),
			"type": changeType, "ts": nowTimestamp(),
		},
	})
	return statements
}

// scopeStatements diffs parsed scopes against the stored ones for the file.
func (e *Engine) scopeStatements(ctx context.Context, project config.ProjectConfig,
	path string, content []byte, parser Parser) ([]graph.Statement, Stats, error) {

	parsed, err := parser.Parse(path, content)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("parse failed: %w", err)
	}

	rows, err := e.graph.Run(ctx,
		"MATCH (s:Scope {file: $path}) RETURN s.uuid AS uuid, s.name AS name, "+
			"s.contentHash AS hash, s.source AS source",
		map[string]any{"path": path})
	if err != nil {
		return nil, Stats{}, err
	}

	type oldScope struct {
		uuid, hash, source string
	}
	existing := make(map[string]oldScope, len(rows))
	for _, row := range rows {
		existing[fmt.Sprintf("%v", row["name"])] = oldScope{
			uuid:   fmt.Sprintf("%v", row["uuid"]),
			hash:   fmt.Sprintf("%v", row["hash"]),
			source: fmt.Sprintf("%v", row["source"]),
		}
	}

	embeddingFields := e.embeddingFields("Scope")

	var statements []graph.Statement
	var stats Stats
	seen := make(map[string]bool, len(parsed))

	for _, scope := range parsed {
		seen[scope.Name] = true
		hash := ContentHash(scope.Source)
		old, found := existing[scope.Name]
		if found && old.hash == hash {
			stats.Skipped++
			continue
		}

		id := stableID("scope", path, scope.Name)
		set := "MERGE (s:Scope {uuid: $uuid}) SET s.name = $name, s.type = $type, " +
			"s.file = $file, s.startLine = $start, s.endLine = $end, " +
			"s.signature = $sig, s.source = $source, s.contentHash = $hash"
		// A changed scope must re-embed; clearing the vector marks it stale.
		for _, field := range embeddingFields {
			set += ", s." + graph.SafeIdent(field) + " = null"
		}
		statements = append(statements, graph.Statement{
			Cypher: set,
			Params: map[string]any{
				"uuid": id, "name": scope.Name, "type": scope.Type, "file": path,
				"start": scope.StartLine, "end": scope.EndLine,
				"sig": scope.Signature, "source": scope.Source, "hash": hash,
			},
		})
		statements = append(statements, graph.Statement{
			Cypher: "MATCH (s:Scope {uuid: $uuid}), (f:File {path: $path}) " +
				"MERGE (s)-[:DEFINED_IN]->(f)",
			Params: map[string]any{"uuid": id, "path": path},
		})
		statements = append(statements, graph.Statement{
			Cypher: "MATCH (s:Scope {uuid: $uuid}), (p:Project {name: $project}) " +
				"MERGE (s)-[:BELONGS_TO]->(p)",
			Params: map[string]any{"uuid": id, "project": project.Name},
		})
		for _, consumed := range scope.Consumes {
			statements = append(statements, graph.Statement{
				Cypher: "MATCH (s:Scope {uuid: $uuid}), (t:Scope {uuid: $target}) " +
					"MERGE (s)-[:CONSUMES]->(t)",
				Params: map[string]any{"uuid": id, "target": stableID("scope", path, consumed)},
			})
		}
		for _, lib := range scope.Libraries {
			statements = append(statements, graph.Statement{
				Cypher: "MERGE (l:ExternalLibrary {name: $lib})",
				Params: map[string]any{"lib": lib},
			})
			statements = append(statements, graph.Statement{
				Cypher: "MATCH (s:Scope {uuid: $uuid}), (l:ExternalLibrary {name: $lib}) " +
					"MERGE (s)-[:USES_LIBRARY]->(l)",
				Params: map[string]any{"uuid": id, "lib": lib},
			})
		}

		change := diffTexts(old.source, scope.Source)
		statements = append(statements, changeStatement("Scope", "uuid", id, change))
		if found {
			stats.Modified++
		} else {
			stats.Created++
		}
	}

	for name, old := range existing {
		if seen[name] {
			continue
		}
		statements = append(statements, graph.Statement{
			Cypher: "MATCH (s:Scope {uuid: $uuid}) DETACH DELETE s",
			Params: map[string]any{"uuid": old.uuid},
		})
		change := diffTexts(old.source, "")
		statements = append(statements, changeStatement("File", "path", path, change))
		stats.Deleted++
	}

	return statements, stats, nil
}

// markdownStatements upserts a chunked markdown document; sections with an
// unchanged hash are left alone so their embeddings stay valid.
func (e *Engine) markdownStatements(ctx context.Context, path, text string) ([]graph.Statement, Stats, error) {
	entities := markdownEntities(path, text)

	rows, err := e.graph.Run(ctx,
		"MATCH (d:MarkdownDocument {path: $path})-[:HAS_SECTION]->(s:MarkdownSection) "+
			"RETURN s.uuid AS uuid, s.contentHash AS hash ORDER BY s.order",
		map[string]any{"path": path})
	if err != nil {
		return nil, Stats{}, err
	}
	existing := make(map[string]string, len(rows))
	for _, row := range rows {
		existing[fmt.Sprintf("%v", row["uuid"])] = fmt.Sprintf("%v", row["hash"])
	}

	var statements []graph.Statement
	var stats Stats
	seen := make(map[string]bool)

	for _, entity := range entities {
		id := fmt.Sprintf("%v", entity.Props["uuid"])
		if entity.Label == "MarkdownSection" {
			seen[id] = true
			if existing[id] == entity.Props["contentHash"] {
				stats.Skipped++
				continue
			}
		}

		statements = append(statements, upsertStatement(e.schema, entity, e.embeddingFields(entity.Label)))
		for _, edge := range entity.Edges {
			statements = append(statements, edgeStatement(e.schema, entity, edge))
		}
	}

	for id := range existing {
		if !seen[id] {
			statements = append(statements, graph.Statement{
				Cypher: "MATCH (s:MarkdownSection {uuid: $uuid}) " +
					"OPTIONAL MATCH (s)-[:HAS_CODE_BLOCK]->(b:CodeBlock) DETACH DELETE s, b",
				Params: map[string]any{"uuid": id},
			})
			stats.Deleted++
		}
	}

	docID := fmt.Sprintf("%v", entities[0].Props["uuid"])
	change := ChangeRecord{Type: "modified"}
	if len(existing) == 0 {
		change.Type = "created"
	}
	statements = append(statements, changeStatement("MarkdownDocument", "uuid", docID, change))

	return statements, stats, nil
}

// upsertStatement merges one entity by its unique field and sets all props,
// clearing embedding fields so changed text re-embeds.
func upsertStatement(s *schema.Schema, entity Entity, embeddingFields []string) graph.Statement {
	def := s.Entity(entity.Label)
	unique := "uuid"
	if def != nil {
		unique = def.UniqueField
	}

	set := fmt.Sprintf("MERGE (n:%s {%s: $key}) SET n += $props",
		graph.SafeIdent(entity.Label), graph.SafeIdent(unique))
	for _, field := range embeddingFields {
		set += ", n." + graph.SafeIdent(field) + " = null"
	}
	return graph.Statement{
		Cypher: set,
		Params: map[string]any{"key": entity.Props[unique], "props": entity.Props},
	}
}

func edgeStatement(s *schema.Schema, from Entity, edge Edge) graph.Statement {
	fromDef := s.Entity(from.Label)
	toDef := s.Entity(edge.TargetLabel)
	fromUnique, toUnique := "uuid", "uuid"
	if fromDef != nil {
		fromUnique = fromDef.UniqueField
	}
	if toDef != nil {
		toUnique = toDef.UniqueField
	}

	return graph.Statement{
		Cypher: fmt.Sprintf(
			"MATCH (a:%s {%s: $from}), (b:%s {%s: $to}) MERGE (a)-[:%s]->(b)",
			graph.SafeIdent(from.Label), graph.SafeIdent(fromUnique),
			graph.SafeIdent(edge.TargetLabel), graph.SafeIdent(toUnique),
			graph.SafeIdent(edge.Type),
		),
		Params: map[string]any{"from": from.Props[fromUnique], "to": edge.TargetKey},
	}
}

func changeStatement(label, uniqueField, id string, change ChangeRecord) graph.Statement {
	ts := nowTimestamp()
	return graph.Statement{
		Cypher: fmt.Sprintf(
			"MATCH (n:%s {%s: $id}) "+
				"CREATE (c:Change {uuid: $cuuid, changeType: $type, timestamp: $ts, "+
				"linesAdded: $added, linesRemoved: $removed, diff: $diff}) "+
				"CREATE (n)-[:HAS_CHANGE]->(c)",
			graph.SafeIdent(label), graph.SafeIdent(uniqueField),
		),
		Params: map[string]any{
			"id": id, "cuuid": stableID("change", label, id, ts),
			"type": change.Type, "ts": ts,
			"added": change.LinesAdded, "removed": change.LinesRemoved, "diff": change.Diff,
		},
	}
}

func (e *Engine) embeddingFields(label string) []string {
	def := e.schema.Entity(label)
	if def == nil {
		return nil
	}
	fields := make([]string, len(def.VectorIndexes))
	for i, v := range def.VectorIndexes {
		fields[i] = v.EmbeddingField
	}
	return fields
}

func nowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
