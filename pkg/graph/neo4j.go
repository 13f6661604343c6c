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

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/schema"
)

// Store implements Graph on the Neo4j bolt driver.
type Store struct {
	driver       neo4j.DriverWithContext
	database     string
	uri          string
	queryTimeout time.Duration
}

// NewStore connects to the configured Neo4j instance and verifies
// connectivity.
func NewStore(ctx context.Context, cfg config.GraphConfig) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, &UnavailableError{URI: cfg.URI, Err: err}
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, &UnavailableError{URI: cfg.URI, Err: err}
	}

	slog.Info("Connected to graph store", "uri", cfg.URI, "database", cfg.Database)

	return &Store{
		driver:       driver,
		database:     cfg.Database,
		uri:          cfg.URI,
		queryTimeout: time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
	}, nil
}

// Run executes a read query and returns all rows.
func (s *Store) Run(ctx context.Context, cypher string, params map[string]any) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, s.classify("run", cypher, err)
	}

	return collectRecords(ctx, result, cypher)
}

// RunWrite executes a write query in a managed write transaction.
func (s *Store) RunWrite(ctx context.Context, cypher string, params map[string]any) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return collectRecords(ctx, result, cypher)
	})
	if err != nil {
		return nil, s.classify("write", cypher, err)
	}

	return rows.([]Record), nil
}

// WriteBatch executes all statements in one write transaction. Either every
// statement commits, or none do.
func (s *Store) WriteBatch(ctx context.Context, statements []Statement) error {
	if len(statements) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, stmt := range statements {
			result, err := tx.Run(ctx, stmt.Cypher, stmt.Params)
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return s.classify("write_batch", statements[0].Cypher, err)
	}

	return nil
}

// VectorQuery queries a vector index via db.index.vector.queryNodes.
func (s *Store) VectorQuery(ctx context.Context, index string, vector []float32, topK int) ([]Hit, error) {
	cypher := "CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score RETURN node, score"
	params := map[string]any{
		"index":  index,
		"k":      topK,
		"vector": vector,
	}

	rows, err := s.runHits(ctx, "vector_query", cypher, params)
	if err != nil {
		if isIndexMissing(err) {
			return nil, &IndexMissingError{Index: index, Err: err}
		}
		return nil, err
	}
	return rows, nil
}

// FulltextQuery queries a fulltext index via db.index.fulltext.queryNodes.
func (s *Store) FulltextQuery(ctx context.Context, index string, query string, topK int) ([]Hit, error) {
	cypher := "CALL db.index.fulltext.queryNodes($index, $query, {limit: $k}) YIELD node, score RETURN node, score"
	params := map[string]any{
		"index": index,
		"query": query,
		"k":     topK,
	}

	rows, err := s.runHits(ctx, "fulltext_query", cypher, params)
	if err != nil {
		if isIndexMissing(err) {
			return nil, &IndexMissingError{Index: index, Err: err}
		}
		return nil, err
	}
	return rows, nil
}

func (s *Store) runHits(ctx context.Context, op, cypher string, params map[string]any) ([]Hit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, s.classify(op, cypher, err)
	}

	var hits []Hit
	for result.Next(ctx) {
		rec := result.Record()
		nodeVal, ok := rec.Get("node")
		if !ok {
			continue
		}
		node, ok := nodeVal.(neo4j.Node)
		if !ok {
			continue
		}
		score := 0.0
		if sv, ok := rec.Get("score"); ok {
			if f, ok := sv.(float64); ok {
				score = f
			}
		}
		hits = append(hits, Hit{
			Node:  Node{Labels: node.Labels, Props: node.Props},
			Score: score,
		})
	}
	if err := result.Err(); err != nil {
		return nil, s.classify(op, cypher, err)
	}

	return hits, nil
}

// EnsureIndexes creates uniqueness constraints and declared vector/fulltext
// indexes for every entity. Index DDL takes identifiers, not parameters, so
// names are sanitised before interpolation.
func (s *Store) EnsureIndexes(ctx context.Context, sch *schema.Schema) error {
	var statements []Statement

	for _, e := range sch.Entities {
		statements = append(statements, Statement{
			Cypher: fmt.Sprintf(
				"CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
				sanitizeIdent(strings.ToLower(e.Label)+"_"+e.UniqueField+"_unique"),
				sanitizeIdent(e.Label),
				sanitizeIdent(e.UniqueField),
			),
		})

		for _, v := range e.VectorIndexes {
			statements = append(statements, Statement{
				Cypher: fmt.Sprintf(
					"CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s) "+
						"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
					sanitizeIdent(v.Name),
					sanitizeIdent(e.Label),
					sanitizeIdent(v.EmbeddingField),
					v.Dimension,
					v.Similarity,
				),
			})
		}

		for _, ft := range e.FulltextIndexes {
			fields := make([]string, len(ft.Fields))
			for i, f := range ft.Fields {
				fields[i] = "n." + sanitizeIdent(f)
			}
			statements = append(statements, Statement{
				Cypher: fmt.Sprintf(
					"CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (n:%s) ON EACH [%s]",
					sanitizeIdent(ft.Name),
					sanitizeIdent(e.Label),
					strings.Join(fields, ", "),
				),
			})
		}
	}

	// Index DDL cannot run inside an explicit transaction; run each alone.
	for _, stmt := range statements {
		if _, err := s.RunWrite(ctx, stmt.Cypher, nil); err != nil {
			return err
		}
	}

	slog.Info("Ensured graph indexes", "statements", len(statements))
	return nil
}

// Close releases the driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func collectRecords(ctx context.Context, result neo4j.ResultWithContext, cypher string) ([]Record, error) {
	var rows []Record
	for result.Next(ctx) {
		rec := result.Record()
		row := make(Record, len(rec.Keys))
		for _, key := range rec.Keys {
			val, _ := rec.Get(key)
			if node, ok := val.(neo4j.Node); ok {
				row[key] = node.Props
			} else {
				row[key] = val
			}
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, &QueryError{Operation: "collect", Cypher: cypher, Err: err}
	}
	return rows, nil
}

func (s *Store) classify(op, cypher string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "ConnectivityError") || strings.Contains(msg, "Unable to connect") ||
		strings.Contains(msg, "connection refused") {
		return &UnavailableError{URI: s.uri, Err: err}
	}
	return &QueryError{Operation: op, Cypher: cypher, Err: err}
}

func isIndexMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such") && strings.Contains(msg, "index") ||
		strings.Contains(msg, "index does not exist")
}

// sanitizeIdent strips everything but word characters from an identifier
// destined for Cypher DDL.
func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
