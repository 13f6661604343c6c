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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/schema"
)

// Filter operators, scoped by field type when applied.
const (
	OpEquals     = "equals"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpRegex      = "regex"
	OpGt         = "gt"
	OpGte        = "gte"
	OpLt         = "lt"
	OpLte        = "lte"
	OpIn         = "in"
)

// Filter is one structural predicate on an entity field. Filters are applied
// post-retrieval against node properties; values never enter Cypher text.
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ValidOperator reports whether op applies to the given field type.
func ValidOperator(op string, t schema.FieldType) bool {
	switch op {
	case OpEquals:
		return true
	case OpContains, OpStartsWith, OpEndsWith, OpRegex:
		return t == schema.FieldString || t == schema.FieldEnum
	case OpGt, OpGte, OpLt, OpLte:
		return t == schema.FieldNumber || t == schema.FieldDatetime
	case OpIn:
		return t == schema.FieldStringArray || t == schema.FieldNumberArray
	}
	return false
}

// matchesFilters reports whether the node satisfies every filter. Filters on
// fields the entity does not declare never match.
func matchesFilters(node graph.Node, entity *schema.Entity, filters []Filter) bool {
	for _, f := range filters {
		field := entity.Field(f.Field)
		if field == nil {
			return false
		}
		if !matchFilter(node.Props[f.Field], *field, f) {
			return false
		}
	}
	return true
}

func matchFilter(value any, field schema.Field, f Filter) bool {
	switch f.Operator {
	case OpEquals:
		return asString(value) == asString(f.Value)

	case OpContains:
		return strings.Contains(asString(value), asString(f.Value))
	case OpStartsWith:
		return strings.HasPrefix(asString(value), asString(f.Value))
	case OpEndsWith:
		return strings.HasSuffix(asString(value), asString(f.Value))
	case OpRegex:
		re, err := regexp.Compile(asString(f.Value))
		if err != nil {
			return false
		}
		return re.MatchString(asString(value))

	case OpGt, OpGte, OpLt, OpLte:
		if field.Type == schema.FieldDatetime {
			// ISO-8601 datetimes compare correctly as strings.
			return compareOrdered(strings.Compare(asString(value), asString(f.Value)), f.Operator)
		}
		a, okA := asFloat(value)
		b, okB := asFloat(f.Value)
		if !okA || !okB {
			return false
		}
		switch {
		case a > b:
			return compareOrdered(1, f.Operator)
		case a < b:
			return compareOrdered(-1, f.Operator)
		default:
			return compareOrdered(0, f.Operator)
		}

	case OpIn:
		items, ok := value.([]any)
		if !ok {
			return false
		}
		want := asString(f.Value)
		for _, item := range items {
			if asString(item) == want {
				return true
			}
		}
		return false
	}

	return false
}

func compareOrdered(cmp int, op string) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
