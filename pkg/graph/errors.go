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

import "fmt"

// UnavailableError reports that the graph store cannot be reached.
type UnavailableError struct {
	URI string
	Err error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("graph unavailable at %s: %v", e.URI, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnavailableError) Unwrap() error { return e.Err }

// QueryError reports a query-time failure.
type QueryError struct {
	Operation string // Operation that failed, e.g. "run", "vector_query"
	Cypher    string // Query text (truncated in messages)
	Err       error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	cypher := e.Cypher
	if len(cypher) > 120 {
		cypher = cypher[:120] + "..."
	}
	return fmt.Sprintf("graph query failed [%s]: %v (cypher: %q)", e.Operation, e.Err, cypher)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error { return e.Err }

// IndexMissingError reports a vector or fulltext index that is not present.
type IndexMissingError struct {
	Index string
	Err   error
}

// Error implements the error interface.
func (e *IndexMissingError) Error() string {
	return fmt.Sprintf("index %q is missing: %v (run 'ragforge ingest' to create indexes)", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *IndexMissingError) Unwrap() error { return e.Err }

// LockTimeoutError reports that the ingestion lock could not be acquired
// within the configured window.
type LockTimeoutError struct {
	Waited string
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("ingestion in progress: waited %s for the ingestion lock; wait for ingestion to finish and retry", e.Waited)
}
