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

// Package graph is the thin adapter to the Cypher-speaking property store.
//
// Everything above this package talks in parameterised Cypher, flat records
// and index hits; the store itself (Neo4j) stays behind the Graph interface.
package graph

import (
	"context"

	"github.com/ragforge/ragforge/pkg/schema"
)

// Record is one flat result row keyed by return alias.
type Record map[string]any

// Node is a graph node with its labels and properties.
type Node struct {
	Labels []string
	Props  map[string]any
}

// Label returns the node's primary label, or "".
func (n Node) Label() string {
	if len(n.Labels) == 0 {
		return ""
	}
	return n.Labels[0]
}

// Hit is a scored node returned by a vector or fulltext index query.
type Hit struct {
	Node  Node
	Score float64
}

// Statement is a parameterised Cypher statement.
type Statement struct {
	Cypher string
	Params map[string]any
}

// SafeIdent strips everything but word characters from an identifier
// interpolated into Cypher text. Labels, property names and index names
// cannot travel as parameters; values always do.
func SafeIdent(s string) string {
	return sanitizeIdent(s)
}

// Graph is the adapter interface to the property store.
//
// Filters and values MUST always travel as parameters; no caller may
// string-concatenate values into Cypher.
type Graph interface {
	// Run executes a read query and returns all rows.
	Run(ctx context.Context, cypher string, params map[string]any) ([]Record, error)

	// RunWrite executes a write query in a write transaction.
	RunWrite(ctx context.Context, cypher string, params map[string]any) ([]Record, error)

	// WriteBatch executes all statements in a single write transaction.
	WriteBatch(ctx context.Context, statements []Statement) error

	// VectorQuery queries a vector index for the topK nearest nodes.
	VectorQuery(ctx context.Context, index string, vector []float32, topK int) ([]Hit, error)

	// FulltextQuery queries a fulltext (BM25) index.
	FulltextQuery(ctx context.Context, index string, query string, topK int) ([]Hit, error)

	// EnsureIndexes creates the uniqueness constraints and vector/fulltext
	// indexes the schema declares, if they do not exist.
	EnsureIndexes(ctx context.Context, s *schema.Schema) error

	// Close releases the underlying connection pool.
	Close(ctx context.Context) error
}
