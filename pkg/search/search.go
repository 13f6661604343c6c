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

// Package search implements hybrid retrieval over the graph's vector and
// fulltext indexes: parallel fan-out, weighted score fusion, structural
// filtering, relationship enrichment and optional reranking.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/embedder"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/llm"
	"github.com/ragforge/ragforge/pkg/metrics"
	"github.com/ragforge/ragforge/pkg/schema"
)

// Request describes one hybrid search.
type Request struct {
	// Query is the natural-language query.
	Query string

	// Entities restricts the search to these labels (empty = all).
	Entities []string

	// EmbeddingTypes selects vector indexes: "content" (primary index per
	// entity, the default), "all", or explicit index names.
	EmbeddingTypes []string

	// TopK results to return (0 = configured default).
	TopK int

	// MinScore drops fused candidates below the threshold.
	MinScore float64

	// Filters are structural predicates applied post-retrieval.
	Filters []Filter

	// Expand attaches enriched relationship neighbours to results.
	Expand bool

	// Reranker overrides the configured reranker for this request.
	Reranker string
}

// ScoreBreakdown keeps the per-source scores that produced the fused score.
type ScoreBreakdown struct {
	Vector float64 `json:"vector"`
	BM25   float64 `json:"bm25"`
	Rerank float64 `json:"rerank,omitempty"`
}

// Related is one enriched neighbour attached to a result.
type Related struct {
	RelationshipType string     `json:"relationshipType"`
	Depth            int        `json:"depth"`
	Entity           graph.Node `json:"entity"`
}

// ResultContext carries enrichment attached to a result.
type ResultContext struct {
	Related []Related `json:"related,omitempty"`
}

// Result is one scored search hit.
type Result struct {
	Entity    graph.Node     `json:"entity"`
	Label     string         `json:"label"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"scoreBreakdown"`
	Context   ResultContext  `json:"context,omitempty"`

	// Reasoning is set by the llm reranker.
	Reasoning string `json:"reasoning,omitempty"`
}

// FailedError reports that every candidate source failed.
type FailedError struct {
	Query   string
	Sources int
	Err     error
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	return fmt.Sprintf("search failed: all %d candidate sources failed for %q: %v",
		e.Sources, e.Query, e.Err)
}

// Unwrap returns the underlying error.
func (e *FailedError) Unwrap() error { return e.Err }

// Engine runs hybrid searches against a schema-backed graph store.
type Engine struct {
	graph    graph.Graph
	embedder embedder.Embedder
	llm      llm.LLM
	schema   *schema.Schema
	lock     *graph.IngestionLock
	cfg      config.SearchConfig
}

// NewEngine assembles a search engine. llm may be nil when the llm reranker
// is never selected.
func NewEngine(g graph.Graph, emb embedder.Embedder, model llm.LLM,
	s *schema.Schema, lock *graph.IngestionLock, cfg config.SearchConfig) *Engine {
	return &Engine{graph: g, embedder: emb, llm: model, schema: s, lock: lock, cfg: cfg}
}

// indexPair is one (entity, vector index) fan-out target.
type indexPair struct {
	entity *schema.Entity
	index  schema.VectorIndex
}

// ftPair is one (entity, fulltext index) fan-out target.
type ftPair struct {
	entity *schema.Entity
	index  schema.FulltextIndex
}

// candidate accumulates per-source scores for one deduplicated node.
type candidate struct {
	node   graph.Node
	entity *schema.Entity
	vector float64
	bm25   float64
}

// Search runs the full hybrid pipeline and returns the top results.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	start := time.Now()
	defer func() { metrics.SearchLatency.Observe(time.Since(start).Seconds()) }()

	if req.TopK <= 0 {
		req.TopK = e.cfg.DefaultTopK
	}
	candidateLimit := req.TopK * e.cfg.CandidateMultiplier

	if e.lock != nil && e.lock.Held() {
		slog.Warn("Ingestion in progress, search waiting for the lock")
		if err := e.lock.Wait(ctx); err != nil {
			return nil, err
		}
	}

	pairs, fulltexts := e.selectIndexes(req)
	sources := len(pairs) + len(fulltexts)
	if sources == 0 {
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return nil, &FailedError{Query: req.Query, Err: fmt.Errorf("no indexes match the request")}
	}

	var vector []float32
	if len(pairs) > 0 {
		var err error
		vector, err = e.embedder.Embed(ctx, req.Query)
		if err != nil {
			// BM25 alone can still serve the query.
			slog.Warn("Query embedding failed, continuing with fulltext only", "error", err)
			pairs = nil
			if len(fulltexts) == 0 {
				metrics.SearchesTotal.WithLabelValues("failed").Inc()
				return nil, &FailedError{Query: req.Query, Sources: sources, Err: err}
			}
		}
	}

	candidates, failures, lastErr := e.fanOut(ctx, req, pairs, fulltexts, vector, candidateLimit)
	if failures == sources {
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		return nil, &FailedError{Query: req.Query, Sources: sources, Err: lastErr}
	}

	results := e.fuse(candidates, req)
	if len(results) > candidateLimit {
		results = results[:candidateLimit]
	}

	if req.Expand {
		e.enrich(ctx, results)
	}

	reranker := req.Reranker
	if reranker == "" {
		reranker = e.cfg.Reranker
	}
	results, err := e.rerank(ctx, reranker, req.Query, results)
	if err != nil {
		return nil, err
	}

	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	outcome := "ok"
	if failures > 0 {
		outcome = "degraded"
	}
	metrics.SearchesTotal.WithLabelValues(outcome).Inc()

	slog.Debug("Search complete", "query", req.Query, "results", len(results),
		"sources", sources, "failed_sources", failures, "reranker", reranker)
	return results, nil
}

// selectIndexes resolves the request's entity and embedding selectors into
// concrete fan-out targets. "all" over too many pairs degrades to "content".
func (e *Engine) selectIndexes(req Request) ([]indexPair, []ftPair) {
	wanted := make(map[string]bool, len(req.Entities))
	for _, label := range req.Entities {
		wanted[label] = true
	}

	selectors := req.EmbeddingTypes
	if len(selectors) == 0 {
		selectors = []string{"content"}
	}
	selectorSet := make(map[string]bool, len(selectors))
	for _, s := range selectors {
		selectorSet[s] = true
	}

	pairs := e.collectPairs(wanted, selectorSet)

	if selectorSet["all"] && len(pairs) > e.cfg.FanoutCeiling*2 {
		slog.Warn("Embedding selector 'all' exceeds the fan-out ceiling, degrading to 'content'",
			"pairs", len(pairs), "ceiling", e.cfg.FanoutCeiling)
		delete(selectorSet, "all")
		selectorSet["content"] = true
		pairs = e.collectPairs(wanted, selectorSet)
	}

	var fulltexts []ftPair
	for i := range e.schema.Entities {
		entity := &e.schema.Entities[i]
		if len(wanted) > 0 && !wanted[entity.Label] {
			continue
		}
		for _, ft := range entity.FulltextIndexes {
			fulltexts = append(fulltexts, ftPair{entity: entity, index: ft})
		}
	}

	return pairs, fulltexts
}

func (e *Engine) collectPairs(wanted map[string]bool, selectorSet map[string]bool) []indexPair {
	var pairs []indexPair
	for i := range e.schema.Entities {
		entity := &e.schema.Entities[i]
		if len(wanted) > 0 && !wanted[entity.Label] {
			continue
		}
		for j, v := range entity.VectorIndexes {
			switch {
			case selectorSet["all"]:
			case selectorSet[v.Name]:
			case selectorSet["content"] && j == 0:
				// The first declared index is the entity's primary content index.
			default:
				continue
			}
			pairs = append(pairs, indexPair{entity: entity, index: v})
		}
	}
	return pairs
}

// fanOut issues all index queries in parallel under the fan-out ceiling and
// merges hits into deduplicated candidates. Failed sources degrade to empty
// candidate sets.
func (e *Engine) fanOut(ctx context.Context, req Request, pairs []indexPair,
	fulltexts []ftPair, vector []float32, candidateLimit int) (map[string]*candidate, int, error) {

	sem := semaphore.NewWeighted(int64(e.cfg.FanoutCeiling))

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		candidates = make(map[string]*candidate)
		failures   int
		lastErr    error
	)

	fail := func(index, kind string, err error) {
		mu.Lock()
		failures++
		lastErr = err
		mu.Unlock()
		metrics.IndexQueryFailures.WithLabelValues(index, kind).Inc()
		slog.Warn("Index query failed, degrading to empty candidates",
			"index", index, "kind", kind, "error", err)
	}

	merge := func(entity *schema.Entity, hits []graph.Hit, isVector bool) {
		// BM25 scores are unbounded; normalise per index batch so fusion
		// weights mean the same thing across sources.
		maxScore := 0.0
		for _, h := range hits {
			if h.Score > maxScore {
				maxScore = h.Score
			}
		}

		mu.Lock()
		defer mu.Unlock()
		for _, h := range hits {
			uid := fmt.Sprintf("%v", h.Node.Props[entity.UniqueField])
			key := entity.Label + "\x00" + uid
			c, ok := candidates[key]
			if !ok {
				c = &candidate{node: h.Node, entity: entity}
				candidates[key] = c
			}
			if isVector {
				if h.Score > c.vector {
					c.vector = h.Score
				}
			} else if maxScore > 0 {
				norm := h.Score / maxScore
				if norm > c.bm25 {
					c.bm25 = norm
				}
			}
		}
	}

	for _, p := range pairs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				fail(p.index.Name, "vector", err)
				return
			}
			defer sem.Release(1)

			hits, err := e.graph.VectorQuery(ctx, p.index.Name, vector, candidateLimit)
			if err != nil {
				fail(p.index.Name, "vector", err)
				return
			}
			merge(p.entity, hits, true)
		}()
	}

	for _, f := range fulltexts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				fail(f.index.Name, "bm25", err)
				return
			}
			defer sem.Release(1)

			hits, err := e.graph.FulltextQuery(ctx, f.index.Name, req.Query, candidateLimit)
			if err != nil {
				fail(f.index.Name, "bm25", err)
				return
			}
			merge(f.entity, hits, false)
		}()
	}

	wg.Wait()
	return candidates, failures, lastErr
}

// fuse combines per-source scores, applies minScore and structural filters,
// and sorts deterministically.
func (e *Engine) fuse(candidates map[string]*candidate, req Request) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		score := e.cfg.VectorWeight*c.vector + e.cfg.BM25Weight*c.bm25
		if score < req.MinScore {
			continue
		}
		if !matchesFilters(c.node, c.entity, req.Filters) {
			continue
		}
		results = append(results, Result{
			Entity:    c.node,
			Label:     c.entity.Label,
			Score:     score,
			Breakdown: ScoreBreakdown{Vector: c.vector, BM25: c.bm25},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return dedupKey(results[i], e.schema) < dedupKey(results[j], e.schema)
	})
	return results
}

func dedupKey(r Result, s *schema.Schema) string {
	entity := s.Entity(r.Label)
	if entity == nil {
		return r.Label
	}
	return r.Label + "\x00" + fmt.Sprintf("%v", r.Entity.Props[entity.UniqueField])
}
