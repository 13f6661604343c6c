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
	"fmt"
	"log/slog"

	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/schema"
)

// enrich attaches neighbours for every enriched relationship the result's
// entity declares. Enrichment failures only log; the result stands without
// its context.
func (e *Engine) enrich(ctx context.Context, results []Result) {
	for i := range results {
		entity := e.schema.Entity(results[i].Label)
		if entity == nil {
			continue
		}
		for _, rel := range entity.EnrichedRelationships() {
			related, err := e.fetchRelated(ctx, entity, rel, results[i].Entity)
			if err != nil {
				slog.Warn("Relationship enrichment failed",
					"label", entity.Label, "relationship", rel.Type, "error", err)
				continue
			}
			results[i].Context.Related = append(results[i].Context.Related, related...)
		}
	}
}

func (e *Engine) fetchRelated(ctx context.Context, entity *schema.Entity,
	rel schema.Relationship, node graph.Node) ([]Related, error) {

	uid := node.Props[entity.UniqueField]
	cypher := fmt.Sprintf(
		"MATCH (n:%s {%s: $id})%s(m:%s) RETURN m LIMIT $limit",
		graph.SafeIdent(entity.Label),
		graph.SafeIdent(entity.UniqueField),
		relPattern(rel),
		graph.SafeIdent(rel.Target),
	)

	rows, err := e.graph.Run(ctx, cypher, map[string]any{
		"id":    uid,
		"limit": rel.Enrichment.MaxItems,
	})
	if err != nil {
		return nil, err
	}

	related := make([]Related, 0, len(rows))
	for _, row := range rows {
		props, ok := row["m"].(map[string]any)
		if !ok {
			continue
		}
		if len(rel.Enrichment.Fields) > 0 {
			props = pickFields(props, rel.Enrichment.Fields)
		}
		related = append(related, Related{
			RelationshipType: rel.Type,
			Depth:            1,
			Entity:           graph.Node{Labels: []string{rel.Target}, Props: props},
		})
	}
	return related, nil
}

func relPattern(rel schema.Relationship) string {
	relType := graph.SafeIdent(rel.Type)
	switch rel.Direction {
	case schema.DirectionIn:
		return fmt.Sprintf("<-[:%s]-", relType)
	case schema.DirectionBoth:
		return fmt.Sprintf("-[:%s]-", relType)
	default:
		return fmt.Sprintf("-[:%s]->", relType)
	}
}

func pickFields(props map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := props[f]; ok {
			out[f] = v
		}
	}
	return out
}
