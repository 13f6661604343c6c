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

package tools

import (
	"fmt"
	"strings"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/schema"
	"github.com/ragforge/ragforge/pkg/search"
)

// Generator is a total function from the schema to the tool surface.
// Handlers close over the graph adapter, search engine and ingestion lock.
type Generator struct {
	schema *schema.Schema
	graph  graph.Graph
	search *search.Engine
	lock   *graph.IngestionLock
	cfg    config.ToolsConfig
}

// NewGenerator assembles a tool generator.
func NewGenerator(s *schema.Schema, g graph.Graph, engine *search.Engine,
	lock *graph.IngestionLock, cfg config.ToolsConfig) *Generator {
	return &Generator{schema: s, graph: g, search: engine, lock: lock, cfg: cfg}
}

// Tools produces the full tool surface for the schema.
func (g *Generator) Tools() []*Tool {
	out := []*Tool{g.describeSchemaTool()}

	for i := range g.schema.Entities {
		entity := &g.schema.Entities[i]
		out = append(out, g.queryTool(entity), g.getByIDTool(entity))

		if len(entity.VectorIndexes) > 0 {
			out = append(out, g.semanticSearchTool(entity))
		}
		if len(entity.Relationships) > 0 {
			out = append(out, g.expandTool(entity))
		}
		if entity.Mutable {
			out = append(out, g.mutateTool(entity))
		}
		if entity.HasDatetimeFields() {
			out = append(out, g.dateRangeTool(entity))
		}
		if entity.HasNumberFields() {
			out = append(out, g.numberRangeTool(entity))
		}
		if entity.HasStringFields() {
			out = append(out, g.patternTool(entity))
		}
	}

	if g.cfg.RawCypher() {
		out = append(out, g.rawCypherTool())
	}
	return out
}

// entitySummary enumerates the fields, unique field and enrichments so the
// LLM can reference and filter nodes correctly.
func entitySummary(entity *schema.Entity) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Entity %s", entity.Label)
	if entity.Description != "" {
		fmt.Fprintf(&sb, ": %s", entity.Description)
	}
	fmt.Fprintf(&sb, " Unique field: %s.", entity.UniqueField)

	fields := make([]string, len(entity.Fields))
	for i, f := range entity.Fields {
		fields[i] = fmt.Sprintf("%s (%s)", f.Name, f.Type)
	}
	fmt.Fprintf(&sb, " Fields: %s.", strings.Join(fields, ", "))

	if enriched := entity.EnrichedRelationships(); len(enriched) > 0 {
		names := make([]string, len(enriched))
		for i, r := range enriched {
			names[i] = fmt.Sprintf("%s->%s", r.Type, r.Target)
		}
		fmt.Fprintf(&sb, " Enriched relationships: %s.", strings.Join(names, ", "))
	}
	return sb.String()
}

func filterArgSchema(entity *schema.Entity) Arg {
	fieldNames := make([]string, len(entity.Fields))
	for i, f := range entity.Fields {
		fieldNames[i] = f.Name
	}
	return Arg{
		Name: "filter", Type: "array",
		Description: "Predicates ANDed together.",
		Items: &Arg{
			Type: "object",
			Properties: []Arg{
				{Name: "field", Type: "string", Required: true, Enum: fieldNames},
				{Name: "operator", Type: "string", Required: true, Enum: []string{
					search.OpEquals, search.OpContains, search.OpStartsWith,
					search.OpEndsWith, search.OpRegex, search.OpGt, search.OpGte,
					search.OpLt, search.OpLte, search.OpIn,
				}},
				{Name: "value", Type: "string", Required: true},
			},
		},
	}
}

func (g *Generator) queryTool(entity *schema.Entity) *Tool {
	d := Descriptor{
		Name: "query_" + entity.Label,
		Description: fmt.Sprintf(
			"Query %s nodes with typed filters. %s Usage hint: filter on the unique field %q to pin one node.",
			entity.Label, entitySummary(entity), entity.UniqueField),
		Args: []Arg{
			filterArgSchema(entity),
			{Name: "limit", Type: "number", Description: "Max results (default 25)."},
			{Name: "offset", Type: "number"},
			{Name: "orderBy", Type: "string", Description: "Field to order by (default " + entity.UniqueField + ")."},
			{Name: "expand", Type: "array", Description: "Relationship types to include on each result.",
				Items: &Arg{Type: "string"}},
		},
		Example:  fmt.Sprintf(`{"filter":[{"field":%q,"operator":"contains","value":"client"}],"limit":10}`, entity.QueryField),
		ReadOnly: true,
	}
	return &Tool{Descriptor: d, Run: g.handleQuery(entity, &d)}
}

func (g *Generator) getByIDTool(entity *schema.Entity) *Tool {
	d := Descriptor{
		Name: "get_" + entity.Label + "_by_id",
		Description: fmt.Sprintf("Fetch one %s node by its unique field %q. %s",
			entity.Label, entity.UniqueField, entitySummary(entity)),
		Args: []Arg{
			{Name: "uniqueValue", Type: "string", Required: true,
				Description: "Value of " + entity.UniqueField + "."},
		},
		Example:  `{"uniqueValue":"..."}`,
		ReadOnly: true,
	}
	return &Tool{Descriptor: d, Run: g.handleGetByID(entity, &d)}
}

func (g *Generator) semanticSearchTool(entity *schema.Entity) *Tool {
	indexNames := make([]string, len(entity.VectorIndexes))
	for i, v := range entity.VectorIndexes {
		indexNames[i] = v.Name
	}
	d := Descriptor{
		Name: "semantic_search_" + entity.Label,
		Description: fmt.Sprintf(
			"Hybrid semantic search over %s. Indexes: %s. %s Usage hint: phrase the query as what the code or text does, not keywords.",
			entity.Label, strings.Join(indexNames, ", "), entitySummary(entity)),
		Args: []Arg{
			{Name: "query", Type: "string", Required: true},
			{Name: "index", Type: "string", Enum: indexNames,
				Description: "Vector index to search (default: the entity's primary index)."},
			{Name: "topK", Type: "number", Description: "Results to return (default 10)."},
			{Name: "minScore", Type: "number"},
			{Name: "fieldFilter", Type: "array", Description: "Structural predicates applied to hits.",
				Items: filterArgSchema(entity).Items},
			{Name: "uuidFilter", Type: "array", Description: "Restrict hits to these unique values.",
				Items: &Arg{Type: "string"}},
		},
		Example:  `{"query":"open a database connection","topK":5}`,
		ReadOnly: true,
	}
	return &Tool{Descriptor: d, Run: g.handleSemanticSearch(entity, &d)}
}

func (g *Generator) expandTool(entity *schema.Entity) *Tool {
	relTypes := make([]string, len(entity.Relationships))
	for i, r := range entity.Relationships {
		relTypes[i] = r.Type
	}
	d := Descriptor{
		Name: "expand_" + entity.Label,
		Description: fmt.Sprintf(
			"Follow relationships from one %s node. Relationships: %s. %s",
			entity.Label, strings.Join(relTypes, ", "), entitySummary(entity)),
		Args: []Arg{
			{Name: "uniqueValue", Type: "string", Required: true},
			{Name: "relType", Type: "string", Required: true, Enum: relTypes},
			{Name: "depth", Type: "number", Description: "Hops to follow, 1-3 (default 1)."},
		},
		Example:  fmt.Sprintf(`{"uniqueValue":"...","relType":%q,"depth":1}`, relTypes[0]),
		ReadOnly: true,
	}
	return &Tool{Descriptor: d, Run: g.handleExpand(entity, &d)}
}

func (g *Generator) mutateTool(entity *schema.Entity) *Tool {
	d := Descriptor{
		Name: "mutate_" + entity.Label,
		Description: fmt.Sprintf(
			"Create, update or delete %s nodes. Requires approval. %s",
			entity.Label, entitySummary(entity)),
		Args: []Arg{
			{Name: "action", Type: "string", Required: true,
				Enum: []string{"create", "update", "delete", "createBatch"}},
			{Name: "uniqueValue", Type: "string",
				Description: "Target node for update/delete."},
			{Name: "properties", Type: "object",
				Description: "Properties to set for create/update."},
			{Name: "items", Type: "array", Description: "Property objects for createBatch.",
				Items: &Arg{Type: "object"}},
		},
		Example:            `{"action":"update","uniqueValue":"...","properties":{"name":"renamed"}}`,
		ReadOnly:           false,
		RequiresValidation: true,
	}
	return &Tool{Descriptor: d, Run: g.handleMutate(entity, &d)}
}

func (g *Generator) dateRangeTool(entity *schema.Entity) *Tool {
	var fields []string
	for _, f := range entity.Fields {
		if f.Type == schema.FieldDatetime {
			fields = append(fields, f.Name)
		}
	}
	d := Descriptor{
		Name: "query_" + entity.Label + "_by_date_range",
		Description: fmt.Sprintf("Query %s nodes whose datetime field falls in a range. Datetime fields: %s.",
			entity.Label, strings.Join(fields, ", ")),
		Args: []Arg{
			{Name: "field", Type: "string", Required: true, Enum: fields},
			{Name: "from", Type: "string", Description: "ISO-8601 lower bound (inclusive)."},
			{Name: "to", Type: "string", Description: "ISO-8601 upper bound (inclusive)."},
			{Name: "limit", Type: "number"},
		},
		Example:  fmt.Sprintf(`{"field":%q,"from":"2026-01-01T00:00:00Z"}`, fields[0]),
		ReadOnly: true,
	}
	return &Tool{Descriptor: d, Run: g.handleRange(entity, &d, false)}
}

func (g *Generator) numberRangeTool(entity *schema.Entity) *Tool {
	var fields []string
	for _, f := range entity.Fields {
		if f.Type == schema.FieldNumber {
			fields = append(fields, f.Name)
		}
	}
	d := Descriptor{
		Name: "query_" + entity.Label + "_by_number_range",
		Description: fmt.Sprintf("Query %s nodes whose numeric field falls in a range. Numeric fields: %s.",
			entity.Label, strings.Join(fields, ", ")),
		Args: []Arg{
			{Name: "field", Type: "string", Required: true, Enum: fields},
			{Name: "from", Type: "number"},
			{Name: "to", Type: "number"},
			{Name: "limit", Type: "number"},
		},
		Example:  fmt.Sprintf(`{"field":%q,"from":10,"to":100}`, fields[0]),
		ReadOnly: true,
	}
	return &Tool{Descriptor: d, Run: g.handleRange(entity, &d, true)}
}

func (g *Generator) patternTool(entity *schema.Entity) *Tool {
	var fields []string
	for _, f := range entity.Fields {
		if f.Type == schema.FieldString {
			fields = append(fields, f.Name)
		}
	}
	d := Descriptor{
		Name: "query_" + entity.Label + "_by_pattern",
		Description: fmt.Sprintf("Query %s nodes whose string field matches a regular expression. String fields: %s.",
			entity.Label, strings.Join(fields, ", ")),
		Args: []Arg{
			{Name: "field", Type: "string", Required: true, Enum: fields},
			{Name: "pattern", Type: "string", Required: true, Description: "Regular expression."},
			{Name: "limit", Type: "number"},
		},
		Example:  fmt.Sprintf(`{"field":%q,"pattern":"^Create.*"}`, fields[0]),
		ReadOnly: true,
	}
	return &Tool{Descriptor: d, Run: g.handlePattern(entity, &d)}
}

func (g *Generator) describeSchemaTool() *Tool {
	d := Descriptor{
		Name: "describe_schema",
		Description: "Describe all entities: unique, display and query fields, typed fields, " +
			"relationships and semantic indexes. Usage hint: call this first to learn what can be queried.",
		ReadOnly: true,
	}
	return &Tool{Descriptor: d, Run: g.handleDescribeSchema(&d)}
}

func (g *Generator) rawCypherTool() *Tool {
	d := Descriptor{
		Name: "raw_cypher",
		Description: "Run a parameterised Cypher query. Waits for any active ingestion. " +
			"Write clauses are rejected unless mutate is true. " +
			"Usage hint: prefer the typed query tools; use this for aggregations they cannot express.",
		Args: []Arg{
			{Name: "cypher", Type: "string", Required: true},
			{Name: "params", Type: "object"},
			{Name: "mutate", Type: "boolean", Description: "Allow write clauses. Requires approval."},
		},
		Example:   `{"cypher":"MATCH (n:Scope) RETURN n.type, count(*) AS c ORDER BY c DESC"}`,
		ReadOnly:  true,
		WriteFlag: "mutate",
	}
	return &Tool{Descriptor: d, Run: g.handleRawCypher(&d)}
}
