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

	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/schema"
	"github.com/ragforge/ragforge/pkg/search"
)

// filterCondition is one declared predicate in a query tool call.
type filterCondition struct {
	Field    string `mapstructure:"field"`
	Operator string `mapstructure:"operator"`
	Value    any    `mapstructure:"value"`
}

// compileFilters translates conditions into a parameterised Cypher WHERE
// fragment. Field names are validated against the schema and values travel
// only as parameters.
func compileFilters(entity *schema.Entity, conditions []filterCondition) (string, map[string]any, error) {
	if len(conditions) == 0 {
		return "", map[string]any{}, nil
	}

	clauses := make([]string, 0, len(conditions))
	params := make(map[string]any, len(conditions))

	for i, c := range conditions {
		field := entity.Field(c.Field)
		if field == nil {
			return "", nil, fmt.Errorf("entity %s does not declare field %q", entity.Label, c.Field)
		}
		if !search.ValidOperator(c.Operator, field.Type) {
			return "", nil, fmt.Errorf("operator %q does not apply to %s field %q",
				c.Operator, field.Type, c.Field)
		}

		param := fmt.Sprintf("f%d", i)
		prop := "n." + graph.SafeIdent(c.Field)
		params[param] = c.Value

		switch c.Operator {
		case search.OpEquals:
			clauses = append(clauses, fmt.Sprintf("%s = $%s", prop, param))
		case search.OpContains:
			clauses = append(clauses, fmt.Sprintf("%s CONTAINS $%s", prop, param))
		case search.OpStartsWith:
			clauses = append(clauses, fmt.Sprintf("%s STARTS WITH $%s", prop, param))
		case search.OpEndsWith:
			clauses = append(clauses, fmt.Sprintf("%s ENDS WITH $%s", prop, param))
		case search.OpRegex:
			clauses = append(clauses, fmt.Sprintf("%s =~ $%s", prop, param))
		case search.OpGt:
			clauses = append(clauses, fmt.Sprintf("%s > $%s", prop, param))
		case search.OpGte:
			clauses = append(clauses, fmt.Sprintf("%s >= $%s", prop, param))
		case search.OpLt:
			clauses = append(clauses, fmt.Sprintf("%s < $%s", prop, param))
		case search.OpLte:
			clauses = append(clauses, fmt.Sprintf("%s <= $%s", prop, param))
		case search.OpIn:
			clauses = append(clauses, fmt.Sprintf("$%s IN %s", param, prop))
		}
	}

	return "WHERE " + strings.Join(clauses, " AND "), params, nil
}

// orderClause validates the orderBy field and returns the ORDER BY fragment.
// Empty orderBy falls back to the entity's unique field.
func orderClause(entity *schema.Entity, orderBy string) (string, error) {
	if orderBy == "" {
		orderBy = entity.UniqueField
	}
	if entity.Field(orderBy) == nil {
		return "", fmt.Errorf("entity %s does not declare order field %q", entity.Label, orderBy)
	}
	return "ORDER BY n." + graph.SafeIdent(orderBy), nil
}
