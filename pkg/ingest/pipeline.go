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
	"log/slog"

	"github.com/ragforge/ragforge/pkg/embedder"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/metrics"
	"github.com/ragforge/ragforge/pkg/schema"
)

// pipelinePageSize bounds how many stale nodes one pass loads per index.
const pipelinePageSize = 256

// Pipeline refreshes stale embeddings: nodes whose source field is set but
// whose embedding field is null. The ingestion engine nulls embeddings when
// content changes, so an unchanged node never reaches the provider.
type Pipeline struct {
	graph    graph.Graph
	embedder embedder.Embedder
	schema   *schema.Schema
}

// NewPipeline assembles an embedding pipeline.
func NewPipeline(g graph.Graph, emb embedder.Embedder, s *schema.Schema) *Pipeline {
	return &Pipeline{graph: g, embedder: emb, schema: s}
}

// VectorDimensionError reports a provider vector whose width does not
// match the index it would be stored in. Nothing from the offending
// batch is persisted.
type VectorDimensionError struct {
	Label string
	Index string
	Want  int
	Got   int
}

// Error implements the error interface.
func (e *VectorDimensionError) Error() string {
	return fmt.Sprintf("embedding for %s/%s has dimension %d, index expects %d",
		e.Label, e.Index, e.Got, e.Want)
}

// Run embeds every stale (entity, index) pair and returns how many nodes
// were embedded.
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	total := 0
	for _, entity := range p.schema.Entities {
		for _, index := range entity.VectorIndexes {
			n, err := p.runIndex(ctx, entity, index)
			total += n
			if err != nil {
				return total, fmt.Errorf("embedding pipeline failed for %s/%s: %w",
					entity.Label, index.Name, err)
			}
		}
	}
	return total, nil
}

func (p *Pipeline) runIndex(ctx context.Context, entity schema.Entity, index schema.VectorIndex) (int, error) {
	label := graph.SafeIdent(entity.Label)
	unique := graph.SafeIdent(entity.UniqueField)
	source := graph.SafeIdent(index.SourceField)
	target := graph.SafeIdent(index.EmbeddingField)

	staleCypher := fmt.Sprintf(
		"MATCH (n:%s) WHERE n.%s IS NOT NULL AND n.%s <> '' AND n.%s IS NULL "+
			"RETURN n.%s AS id, n.%s AS text LIMIT $limit",
		label, source, source, target, unique, source)

	writeCypher := fmt.Sprintf(
		"UNWIND $rows AS row MATCH (n:%s {%s: row.id}) SET n.%s = row.vector",
		label, unique, target)

	embedded := 0
	for {
		rows, err := p.graph.Run(ctx, staleCypher, map[string]any{"limit": pipelinePageSize})
		if err != nil {
			return embedded, err
		}
		if len(rows) == 0 {
			return embedded, nil
		}

		ids := make([]any, len(rows))
		texts := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = row["id"]
			texts[i] = fmt.Sprintf("%v", row["text"])
		}

		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			metrics.EmbeddingBatches.WithLabelValues(p.embedder.Model(), "failed").Inc()
			return embedded, err
		}
		if err := checkVectors(entity, index, len(rows), vectors); err != nil {
			metrics.EmbeddingBatches.WithLabelValues(p.embedder.Model(), "failed").Inc()
			return embedded, err
		}
		metrics.EmbeddingBatches.WithLabelValues(p.embedder.Model(), "ok").Inc()

		writeRows := make([]map[string]any, len(rows))
		for i := range rows {
			writeRows[i] = map[string]any{"id": ids[i], "vector": vectors[i]}
		}
		if _, err := p.graph.RunWrite(ctx, writeCypher, map[string]any{"rows": writeRows}); err != nil {
			return embedded, err
		}

		embedded += len(rows)
		slog.Debug("Embedded stale nodes", "label", entity.Label, "index", index.Name, "count", len(rows))

		if len(rows) < pipelinePageSize {
			return embedded, nil
		}
	}
}

// checkVectors rejects a batch whose vectors would poison the index:
// wrong count or wrong width.
func checkVectors(entity schema.Entity, index schema.VectorIndex, want int, vectors [][]float32) error {
	if len(vectors) != want {
		return fmt.Errorf("embedding batch for %s/%s returned %d vectors for %d texts",
			entity.Label, index.Name, len(vectors), want)
	}
	for _, vec := range vectors {
		if len(vec) != index.Dimension {
			return &VectorDimensionError{
				Label: entity.Label, Index: index.Name,
				Want: index.Dimension, Got: len(vec),
			}
		}
	}
	return nil
}
