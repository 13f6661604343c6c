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
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/schema"
	"github.com/ragforge/ragforge/pkg/search"
)

const defaultQueryLimit = 25

// writeClauseRe matches Cypher write clauses at word boundaries.
var writeClauseRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|SET|REMOVE|DROP|DETACH)\b`)

// decodeArgs validates args against the descriptor, then decodes them into
// the typed target via mapstructure.
func decodeArgs(d *Descriptor, args map[string]any, target any) error {
	if err := d.ValidateArgs(args); err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("tool %s: %w", d.Name, err)
	}
	return nil
}

type queryArgs struct {
	Filter  []filterCondition `mapstructure:"filter"`
	Limit   int               `mapstructure:"limit"`
	Offset  int               `mapstructure:"offset"`
	OrderBy string            `mapstructure:"orderBy"`
	Expand  []string          `mapstructure:"expand"`
}

func (g *Generator) handleQuery(entity *schema.Entity, d *Descriptor) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args queryArgs
		if err := decodeArgs(d, raw, &args); err != nil {
			return nil, err
		}
		if args.Limit <= 0 {
			args.Limit = defaultQueryLimit
		}

		where, params, err := compileFilters(entity, args.Filter)
		if err != nil {
			return nil, err
		}
		order, err := orderClause(entity, args.OrderBy)
		if err != nil {
			return nil, err
		}
		for _, rel := range args.Expand {
			if entity.Relationship(rel) == nil {
				return nil, fmt.Errorf("entity %s does not declare relationship %q", entity.Label, rel)
			}
		}

		params["limit"] = args.Limit
		params["offset"] = args.Offset
		cypher := fmt.Sprintf("MATCH (n:%s) %s RETURN n %s SKIP $offset LIMIT $limit",
			graph.SafeIdent(entity.Label), where, order)

		rows, err := g.graph.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		results := recordNodes(rows)

		for _, rel := range args.Expand {
			if err := g.attachNeighbours(ctx, entity, rel, results); err != nil {
				return nil, err
			}
		}
		return results, nil
	}
}

// nodeProps unwraps a returned node column into its property map. The
// driver layer flattens neo4j nodes to plain maps; in-process graphs may
// hand back graph.Node values.
func nodeProps(v any) (map[string]any, bool) {
	switch n := v.(type) {
	case graph.Node:
		return n.Props, true
	case map[string]any:
		return n, true
	}
	return nil, false
}

// recordNodes unwraps the "n" column of each row into property maps.
func recordNodes(rows []graph.Record) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if props, ok := nodeProps(row["n"]); ok {
			out = append(out, stripVectors(props))
			continue
		}
		out = append(out, map[string]any(row))
	}
	return out
}

// stripVectors drops embedding payloads from tool output.
func stripVectors(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if _, isVec := v.([]float32); isVec {
			continue
		}
		if _, isVec := v.([]float64); isVec {
			continue
		}
		out[k] = v
	}
	return out
}

func (g *Generator) attachNeighbours(ctx context.Context, entity *schema.Entity, relType string, results []map[string]any) error {
	rel := entity.Relationship(relType)
	for _, res := range results {
		id, ok := res[entity.UniqueField]
		if !ok {
			continue
		}
		pattern := "-[:%s]->"
		if rel.Direction == schema.DirectionIn {
			pattern = "<-[:%s]-"
		} else if rel.Direction == schema.DirectionBoth {
			pattern = "-[:%s]-"
		}
		cypher := fmt.Sprintf("MATCH (n:%s {%s: $id})"+pattern+"(m:%s) RETURN m LIMIT 25",
			graph.SafeIdent(entity.Label), graph.SafeIdent(entity.UniqueField),
			graph.SafeIdent(rel.Type), graph.SafeIdent(rel.Target))
		rows, err := g.graph.Run(ctx, cypher, map[string]any{"id": id})
		if err != nil {
			return err
		}
		neighbours := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			if props, ok := nodeProps(row["m"]); ok {
				neighbours = append(neighbours, stripVectors(props))
			}
		}
		res["_"+relType] = neighbours
	}
	return nil
}

func (g *Generator) handleGetByID(entity *schema.Entity, d *Descriptor) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args struct {
			UniqueValue string `mapstructure:"uniqueValue"`
		}
		if err := decodeArgs(d, raw, &args); err != nil {
			return nil, err
		}

		cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n",
			graph.SafeIdent(entity.Label), graph.SafeIdent(entity.UniqueField))
		rows, err := g.graph.Run(ctx, cypher, map[string]any{"id": args.UniqueValue})
		if err != nil {
			return nil, err
		}
		results := recordNodes(rows)
		if len(results) == 0 {
			return nil, fmt.Errorf("no %s with %s = %q", entity.Label, entity.UniqueField, args.UniqueValue)
		}
		return results[0], nil
	}
}

type semanticSearchArgs struct {
	Query       string            `mapstructure:"query"`
	Index       string            `mapstructure:"index"`
	TopK        int               `mapstructure:"topK"`
	MinScore    float64           `mapstructure:"minScore"`
	FieldFilter []filterCondition `mapstructure:"fieldFilter"`
	UUIDFilter  []string          `mapstructure:"uuidFilter"`
}

func (g *Generator) handleSemanticSearch(entity *schema.Entity, d *Descriptor) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args semanticSearchArgs
		if err := decodeArgs(d, raw, &args); err != nil {
			return nil, err
		}

		req := search.Request{
			Query:    args.Query,
			Entities: []string{entity.Label},
			TopK:     args.TopK,
			MinScore: args.MinScore,
			Expand:   len(entity.EnrichedRelationships()) > 0,
		}
		if args.Index != "" {
			if entity.VectorIndex(args.Index) == nil {
				return nil, fmt.Errorf("entity %s does not declare vector index %q", entity.Label, args.Index)
			}
			req.EmbeddingTypes = []string{args.Index}
		}
		for _, c := range args.FieldFilter {
			if entity.Field(c.Field) == nil {
				return nil, fmt.Errorf("entity %s does not declare field %q", entity.Label, c.Field)
			}
			req.Filters = append(req.Filters, search.Filter{
				Field: c.Field, Operator: c.Operator, Value: c.Value,
			})
		}

		results, err := g.search.Search(ctx, req)
		if err != nil {
			return nil, err
		}

		if len(args.UUIDFilter) > 0 {
			allowed := make(map[string]bool, len(args.UUIDFilter))
			for _, id := range args.UUIDFilter {
				allowed[id] = true
			}
			kept := results[:0]
			for _, r := range results {
				if allowed[fmt.Sprintf("%v", r.Entity.Props[entity.UniqueField])] {
					kept = append(kept, r)
				}
			}
			results = kept
		}

		out := make([]map[string]any, 0, len(results))
		for _, r := range results {
			item := map[string]any{
				"entity":         stripVectors(r.Entity.Props),
				"score":          r.Score,
				"scoreBreakdown": r.Breakdown,
			}
			if len(r.Context.Related) > 0 {
				item["related"] = r.Context.Related
			}
			if r.Reasoning != "" {
				item["reasoning"] = r.Reasoning
			}
			out = append(out, item)
		}
		return out, nil
	}
}

func (g *Generator) handleExpand(entity *schema.Entity, d *Descriptor) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args struct {
			UniqueValue string `mapstructure:"uniqueValue"`
			RelType     string `mapstructure:"relType"`
			Depth       int    `mapstructure:"depth"`
		}
		if err := decodeArgs(d, raw, &args); err != nil {
			return nil, err
		}
		rel := entity.Relationship(args.RelType)
		if rel == nil {
			return nil, fmt.Errorf("entity %s does not declare relationship %q", entity.Label, args.RelType)
		}
		if args.Depth < 1 {
			args.Depth = 1
		}
		if args.Depth > 3 {
			args.Depth = 3
		}

		pattern := fmt.Sprintf("-[:%s*1..%d]->", graph.SafeIdent(rel.Type), args.Depth)
		if rel.Direction == schema.DirectionIn {
			pattern = fmt.Sprintf("<-[:%s*1..%d]-", graph.SafeIdent(rel.Type), args.Depth)
		} else if rel.Direction == schema.DirectionBoth {
			pattern = fmt.Sprintf("-[:%s*1..%d]-", graph.SafeIdent(rel.Type), args.Depth)
		}

		cypher := fmt.Sprintf("MATCH (n:%s {%s: $id})%s(m:%s) RETURN DISTINCT m LIMIT 50",
			graph.SafeIdent(entity.Label), graph.SafeIdent(entity.UniqueField),
			pattern, graph.SafeIdent(rel.Target))
		rows, err := g.graph.Run(ctx, cypher, map[string]any{"id": args.UniqueValue})
		if err != nil {
			return nil, err
		}

		out := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			if props, ok := nodeProps(row["m"]); ok {
				out = append(out, stripVectors(props))
			}
		}
		return out, nil
	}
}

type mutateArgs struct {
	Action      string           `mapstructure:"action"`
	UniqueValue string           `mapstructure:"uniqueValue"`
	Properties  map[string]any   `mapstructure:"properties"`
	Items       []map[string]any `mapstructure:"items"`
}

func (g *Generator) handleMutate(entity *schema.Entity, d *Descriptor) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args mutateArgs
		if err := decodeArgs(d, raw, &args); err != nil {
			return nil, err
		}

		switch args.Action {
		case "create":
			return g.mutateCreate(ctx, entity, args.Properties)
		case "createBatch":
			var created int
			for _, props := range args.Items {
				if _, err := g.mutateCreate(ctx, entity, props); err != nil {
					return nil, err
				}
				created++
			}
			return map[string]any{"created": created}, nil
		case "update":
			return g.mutateUpdate(ctx, entity, args.UniqueValue, args.Properties)
		case "delete":
			if args.UniqueValue == "" {
				return nil, fmt.Errorf("delete requires uniqueValue")
			}
			cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DETACH DELETE n",
				graph.SafeIdent(entity.Label), graph.SafeIdent(entity.UniqueField))
			if _, err := g.graph.RunWrite(ctx, cypher, map[string]any{"id": args.UniqueValue}); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": args.UniqueValue}, nil
		default:
			return nil, fmt.Errorf("unknown action %q", args.Action)
		}
	}
}

// validateProps checks every property against the entity's declared fields.
func validateProps(entity *schema.Entity, props map[string]any) error {
	for name := range props {
		if entity.Field(name) == nil {
			return fmt.Errorf("entity %s does not declare field %q", entity.Label, name)
		}
	}
	return nil
}

func (g *Generator) mutateCreate(ctx context.Context, entity *schema.Entity, props map[string]any) (any, error) {
	if err := validateProps(entity, props); err != nil {
		return nil, err
	}
	id, ok := props[entity.UniqueField]
	if !ok {
		return nil, fmt.Errorf("create requires the unique field %q", entity.UniqueField)
	}
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n += $props RETURN n",
		graph.SafeIdent(entity.Label), graph.SafeIdent(entity.UniqueField))
	rows, err := g.graph.RunWrite(ctx, cypher, map[string]any{"id": id, "props": props})
	if err != nil {
		return nil, err
	}
	return recordNodes(rows), nil
}

func (g *Generator) mutateUpdate(ctx context.Context, entity *schema.Entity, id string, props map[string]any) (any, error) {
	if id == "" {
		return nil, fmt.Errorf("update requires uniqueValue")
	}
	if err := validateProps(entity, props); err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) SET n += $props RETURN n",
		graph.SafeIdent(entity.Label), graph.SafeIdent(entity.UniqueField))
	rows, err := g.graph.RunWrite(ctx, cypher, map[string]any{"id": id, "props": props})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no %s with %s = %q", entity.Label, entity.UniqueField, id)
	}
	return recordNodes(rows), nil
}

type rangeArgs struct {
	Field string `mapstructure:"field"`
	From  any    `mapstructure:"from"`
	To    any    `mapstructure:"to"`
	Limit int    `mapstructure:"limit"`
}

func (g *Generator) handleRange(entity *schema.Entity, d *Descriptor, numeric bool) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args rangeArgs
		if err := decodeArgs(d, raw, &args); err != nil {
			return nil, err
		}
		field := entity.Field(args.Field)
		if field == nil {
			return nil, fmt.Errorf("entity %s does not declare field %q", entity.Label, args.Field)
		}
		want := schema.FieldDatetime
		if numeric {
			want = schema.FieldNumber
		}
		if field.Type != want {
			return nil, fmt.Errorf("field %q is %s, not %s", args.Field, field.Type, want)
		}
		if args.From == nil && args.To == nil {
			return nil, fmt.Errorf("range query requires from or to")
		}
		if args.Limit <= 0 {
			args.Limit = defaultQueryLimit
		}

		prop := "n." + graph.SafeIdent(args.Field)
		var clauses []string
		params := map[string]any{"limit": args.Limit}
		if args.From != nil {
			clauses = append(clauses, prop+" >= $from")
			params["from"] = args.From
		}
		if args.To != nil {
			clauses = append(clauses, prop+" <= $to")
			params["to"] = args.To
		}

		cypher := fmt.Sprintf("MATCH (n:%s) WHERE %s RETURN n ORDER BY %s LIMIT $limit",
			graph.SafeIdent(entity.Label), strings.Join(clauses, " AND "), prop)
		rows, err := g.graph.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return recordNodes(rows), nil
	}
}

func (g *Generator) handlePattern(entity *schema.Entity, d *Descriptor) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args struct {
			Field   string `mapstructure:"field"`
			Pattern string `mapstructure:"pattern"`
			Limit   int    `mapstructure:"limit"`
		}
		if err := decodeArgs(d, raw, &args); err != nil {
			return nil, err
		}
		field := entity.Field(args.Field)
		if field == nil {
			return nil, fmt.Errorf("entity %s does not declare field %q", entity.Label, args.Field)
		}
		if field.Type != schema.FieldString {
			return nil, fmt.Errorf("field %q is %s, not string", args.Field, field.Type)
		}
		if _, err := regexp.Compile(args.Pattern); err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		if args.Limit <= 0 {
			args.Limit = defaultQueryLimit
		}

		cypher := fmt.Sprintf("MATCH (n:%s) WHERE n.%s =~ $pattern RETURN n LIMIT $limit",
			graph.SafeIdent(entity.Label), graph.SafeIdent(args.Field))
		rows, err := g.graph.Run(ctx, cypher,
			map[string]any{"pattern": args.Pattern, "limit": args.Limit})
		if err != nil {
			return nil, err
		}
		return recordNodes(rows), nil
	}
}

func (g *Generator) handleDescribeSchema(d *Descriptor) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		if err := d.ValidateArgs(raw); err != nil {
			return nil, err
		}
		entities := make([]map[string]any, 0, len(g.schema.Entities))
		for i := range g.schema.Entities {
			e := &g.schema.Entities[i]
			fields := make([]map[string]any, len(e.Fields))
			for j, f := range e.Fields {
				fields[j] = map[string]any{"name": f.Name, "type": string(f.Type)}
				if f.Description != "" {
					fields[j]["description"] = f.Description
				}
				if len(f.EnumValues) > 0 {
					fields[j]["enumValues"] = f.EnumValues
				}
			}
			rels := make([]map[string]any, len(e.Relationships))
			for j, r := range e.Relationships {
				rels[j] = map[string]any{
					"type": r.Type, "target": r.Target, "direction": string(r.Direction),
				}
			}
			indexes := make([]string, len(e.VectorIndexes))
			for j, v := range e.VectorIndexes {
				indexes[j] = v.Name
			}
			entities = append(entities, map[string]any{
				"label":         e.Label,
				"description":   e.Description,
				"uniqueField":   e.UniqueField,
				"displayField":  e.DisplayField,
				"queryField":    e.QueryField,
				"fields":        fields,
				"relationships": rels,
				"vectorIndexes": indexes,
				"mutable":       e.Mutable,
			})
		}
		return map[string]any{"entities": entities}, nil
	}
}

func (g *Generator) handleRawCypher(d *Descriptor) Handler {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var args struct {
			Cypher string         `mapstructure:"cypher"`
			Params map[string]any `mapstructure:"params"`
			Mutate bool           `mapstructure:"mutate"`
		}
		if err := decodeArgs(d, raw, &args); err != nil {
			return nil, err
		}
		if args.Params == nil {
			args.Params = map[string]any{}
		}

		if !args.Mutate {
			if m := writeClauseRe.FindString(args.Cypher); m != "" {
				return nil, fmt.Errorf("query contains write clause %s; set mutate to true to run writes", strings.ToUpper(m))
			}
		}

		if g.lock != nil {
			if err := g.lock.Wait(ctx); err != nil {
				return nil, err
			}
		}

		if args.Mutate {
			return g.graph.RunWrite(ctx, args.Cypher, args.Params)
		}
		return g.graph.Run(ctx, args.Cypher, args.Params)
	}
}
