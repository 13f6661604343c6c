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

// Package ingest walks sources, parses them into typed entities, diffs them
// against the graph and keeps embeddings current.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Entity is one parsed node destined for the graph.
type Entity struct {
	Label string
	Props map[string]any
	Edges []Edge
}

// Edge is a typed relationship from the declaring entity to a target node
// identified by its unique-field value.
type Edge struct {
	Type        string
	TargetLabel string
	TargetKey   any
}

// ContentHash returns the idempotence digest of a text: sha256 over the
// normalised form (unix newlines, trailing whitespace stripped).
func ContentHash(text string) string {
	normalized := normalize(text)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// stableID derives a deterministic uuid from a source-local key, so
// re-ingesting the same source yields the same node identities.
func stableID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(parts, "\x00"))).String()
}
