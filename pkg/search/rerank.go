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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/llm"
)

// Reranker names.
const (
	RerankNone     = "none"
	RerankTopology = "topology-centrality"
	RerankQuality  = "code-quality"
	RerankRecency  = "recency"
	RerankLLM      = "llm"
)

// llmFieldCap bounds each display field sent to the llm reranker.
const llmFieldCap = 400

// rerank applies the named reranker and re-sorts by rerank score with the
// fused score as tiebreaker.
func (e *Engine) rerank(ctx context.Context, name, query string, results []Result) ([]Result, error) {
	if name == RerankNone || len(results) == 0 {
		return results, nil
	}

	var err error
	switch name {
	case RerankTopology:
		err = e.rerankTopology(ctx, results)
	case RerankQuality:
		e.rerankQuality(results)
	case RerankRecency:
		err = e.rerankRecency(ctx, results)
	case RerankLLM:
		err = e.rerankLLM(ctx, query, results)
	default:
		return nil, fmt.Errorf("unknown reranker %q", name)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Breakdown.Rerank != results[j].Breakdown.Rerank {
			return results[i].Breakdown.Rerank > results[j].Breakdown.Rerank
		}
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// rerankTopology ranks by a centrality proxy: the node's degree over
// CONSUMES edges in either direction, normalised to the batch maximum.
func (e *Engine) rerankTopology(ctx context.Context, results []Result) error {
	degrees := make([]float64, len(results))
	maxDegree := 0.0

	for byLabel, idxs := range groupByLabel(results) {
		entity := e.schema.Entity(byLabel)
		if entity == nil {
			continue
		}

		ids := make([]any, len(idxs))
		for i, idx := range idxs {
			ids[i] = results[idx].Entity.Props[entity.UniqueField]
		}

		cypher := fmt.Sprintf(
			"UNWIND $ids AS id MATCH (n:%s {%s: id}) "+
				"OPTIONAL MATCH (n)-[r:CONSUMES]-() RETURN id, count(r) AS degree",
			graph.SafeIdent(entity.Label),
			graph.SafeIdent(entity.UniqueField),
		)
		rows, err := e.graph.Run(ctx, cypher, map[string]any{"ids": ids})
		if err != nil {
			return err
		}

		byID := make(map[string]float64, len(rows))
		for _, row := range rows {
			d, _ := asFloat(row["degree"])
			byID[asString(row["id"])] = d
		}
		for _, idx := range idxs {
			degrees[idx] = byID[asString(results[idx].Entity.Props[entity.UniqueField])]
			if degrees[idx] > maxDegree {
				maxDegree = degrees[idx]
			}
		}
	}

	for i := range results {
		if maxDegree > 0 {
			results[i].Breakdown.Rerank = degrees[i] / maxDegree
		}
	}
	return nil
}

// rerankQuality scores each result's primary text heuristically: comment
// density and compactness.
func (e *Engine) rerankQuality(results []Result) {
	for i := range results {
		entity := e.schema.Entity(results[i].Label)
		if entity == nil || len(entity.VectorIndexes) == 0 {
			continue
		}
		text := asString(results[i].Entity.Props[entity.VectorIndexes[0].SourceField])
		results[i].Breakdown.Rerank = qualityScore(text)
	}
}

func qualityScore(text string) float64 {
	if text == "" {
		return 0
	}
	lines := strings.Split(text, "\n")

	commented := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/*") {
			commented++
		}
	}
	docScore := float64(commented) / float64(len(lines))
	if docScore > 0.5 {
		docScore = 0.5
	}
	docScore *= 2 // saturates at 25% comment density

	compactness := 1.0 / (1.0 + float64(len(lines))/50.0)
	return 0.6*docScore + 0.4*compactness
}

// rerankRecency ranks by the newest HAS_CHANGE timestamp per result.
func (e *Engine) rerankRecency(ctx context.Context, results []Result) error {
	timestamps := make([]string, len(results))

	for byLabel, idxs := range groupByLabel(results) {
		entity := e.schema.Entity(byLabel)
		if entity == nil {
			continue
		}

		ids := make([]any, len(idxs))
		for i, idx := range idxs {
			ids[i] = results[idx].Entity.Props[entity.UniqueField]
		}

		cypher := fmt.Sprintf(
			"UNWIND $ids AS id MATCH (n:%s {%s: id})-[:HAS_CHANGE]->(c:Change) "+
				"RETURN id, max(c.timestamp) AS ts",
			graph.SafeIdent(entity.Label),
			graph.SafeIdent(entity.UniqueField),
		)
		rows, err := e.graph.Run(ctx, cypher, map[string]any{"ids": ids})
		if err != nil {
			return err
		}

		byID := make(map[string]string, len(rows))
		for _, row := range rows {
			byID[asString(row["id"])] = asString(row["ts"])
		}
		for _, idx := range idxs {
			timestamps[idx] = byID[asString(results[idx].Entity.Props[entity.UniqueField])]
		}
	}

	// Rank order is what matters; map timestamps onto [0,1] by sort position.
	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return timestamps[order[a]] < timestamps[order[b]] })
	for rank, idx := range order {
		if timestamps[idx] == "" {
			continue
		}
		if len(order) > 1 {
			results[idx].Breakdown.Rerank = float64(rank) / float64(len(order)-1)
		} else {
			results[idx].Breakdown.Rerank = 1
		}
	}
	return nil
}

type llmRerankItem struct {
	Index     int     `json:"index"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// rerankLLM asks the model to score each candidate's relevance in [0,1].
func (e *Engine) rerankLLM(ctx context.Context, query string, results []Result) error {
	if e.llm == nil {
		return fmt.Errorf("llm reranker selected but no llm provider is configured")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Score each item's relevance to the question on [0,1].\n")
	fmt.Fprintf(&sb, "Question: %s\n\nItems:\n", query)
	for i, r := range results {
		entity := e.schema.Entity(r.Label)
		display := ""
		if entity != nil {
			display = capField(asString(r.Entity.Props[entity.DisplayField]), llmFieldCap)
			if len(entity.VectorIndexes) > 0 {
				display += "\n" + capField(asString(r.Entity.Props[entity.VectorIndexes[0].SourceField]), llmFieldCap)
			}
		}
		fmt.Fprintf(&sb, "[%d] (%s) %s\n\n", i, r.Label, display)
	}
	sb.WriteString(`Reply with a JSON array only: [{"index":0,"score":0.8,"reasoning":"..."}]`)

	text, err := e.llm.Generate(ctx, sb.String(), &llm.Options{
		System: "You are a precise relevance judge. Output valid JSON and nothing else.",
	})
	if err != nil {
		return err
	}

	var items []llmRerankItem
	if err := json.Unmarshal([]byte(extractJSON(text)), &items); err != nil {
		return fmt.Errorf("llm reranker returned unparseable output: %w", err)
	}
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(results) {
			continue
		}
		score := item.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		results[item.Index].Breakdown.Rerank = score
		results[item.Index].Reasoning = item.Reasoning
	}
	return nil
}

func groupByLabel(results []Result) map[string][]int {
	groups := make(map[string][]int)
	for i, r := range results {
		groups[r.Label] = append(groups[r.Label], i)
	}
	return groups
}

func capField(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// extractJSON trims prose or fences around the JSON array a model may emit.
func extractJSON(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
