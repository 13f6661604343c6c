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

// Package schema declares the entity model RagForge operates on.
//
// The schema is pure data: entities with typed fields, relationships,
// and vector/fulltext indexes. Everything downstream (Cypher generation,
// tool descriptors, embedding pipelines) is derived from it.
package schema

import "fmt"

// FieldType enumerates the closed set of property types an entity field
// may carry.
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldNumber      FieldType = "number"
	FieldBoolean     FieldType = "boolean"
	FieldDatetime    FieldType = "datetime"
	FieldEnum        FieldType = "enum"
	FieldStringArray FieldType = "string[]"
	FieldNumberArray FieldType = "number[]"
)

// Direction of a relationship relative to the declaring entity.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Field is a typed property on an entity.
type Field struct {
	// Name is the property name as stored in the graph.
	Name string `yaml:"name"`

	// Type is the field's declared type.
	Type FieldType `yaml:"type"`

	// Description is surfaced in tool descriptors.
	Description string `yaml:"description,omitempty"`

	// EnumValues lists the allowed values for enum fields.
	EnumValues []string `yaml:"enum_values,omitempty"`
}

// Enrichment configures inline expansion of a relationship on query results.
type Enrichment struct {
	// Enabled turns the enrichment on.
	Enabled bool `yaml:"enabled"`

	// MaxItems bounds how many neighbours are attached (default 5).
	MaxItems int `yaml:"max_items,omitempty"`

	// Fields restricts which neighbour properties are embedded.
	// Empty means the neighbour's display field only.
	Fields []string `yaml:"fields,omitempty"`
}

// Relationship declares a typed edge from the declaring entity.
type Relationship struct {
	// Type is the relationship type, e.g. "DEFINED_IN".
	Type string `yaml:"type"`

	// Target is the label of the entity on the other end.
	Target string `yaml:"target"`

	// Direction is out, in, or both (default out).
	Direction Direction `yaml:"direction,omitempty"`

	// Enrichment optionally embeds related entities inline on query.
	Enrichment *Enrichment `yaml:"enrichment,omitempty"`
}

// VectorIndex declares a vector index over one text field of an entity.
type VectorIndex struct {
	// Name is the index name in the graph store.
	Name string `yaml:"name"`

	// SourceField is the text field the embedding is computed from.
	SourceField string `yaml:"source_field"`

	// EmbeddingField is the property the vector is stored in.
	EmbeddingField string `yaml:"embedding_field"`

	// Dimension of the stored vectors.
	Dimension int `yaml:"dimension"`

	// Similarity function: "cosine" or "euclidean" (default cosine).
	Similarity string `yaml:"similarity,omitempty"`
}

// FulltextIndex declares a BM25 fulltext index over entity fields.
type FulltextIndex struct {
	// Name is the index name in the graph store.
	Name string `yaml:"name"`

	// Fields are the indexed text fields.
	Fields []string `yaml:"fields"`
}

// Entity declares a node label with its fields, indexes and relationships.
type Entity struct {
	// Label is the node label in the graph.
	Label string `yaml:"label"`

	// Description is surfaced in tool descriptors and agent prompts.
	Description string `yaml:"description,omitempty"`

	// UniqueField is the stable unique identifier property (default "uuid").
	UniqueField string `yaml:"unique_field,omitempty"`

	// DisplayField is the human-readable name property (default "name").
	DisplayField string `yaml:"display_field,omitempty"`

	// QueryField is the default field used for keyword lookup (default "name").
	QueryField string `yaml:"query_field,omitempty"`

	// Fields are the typed properties of the entity.
	Fields []Field `yaml:"fields"`

	// Relationships declared from this entity.
	Relationships []Relationship `yaml:"relationships,omitempty"`

	// VectorIndexes declared on this entity.
	VectorIndexes []VectorIndex `yaml:"vector_indexes,omitempty"`

	// FulltextIndexes declared on this entity.
	FulltextIndexes []FulltextIndex `yaml:"fulltext_indexes,omitempty"`

	// Mutable marks the entity as writable through mutation tools.
	// Immutable entities are only written by the ingestion engine.
	Mutable bool `yaml:"mutable,omitempty"`

	// TrackChanges emits HAS_CHANGE records on mutation.
	TrackChanges bool `yaml:"track_changes,omitempty"`
}

// Schema is the full declarative entity model.
type Schema struct {
	Entities []Entity `yaml:"entities"`
}

// SetDefaults applies default values to all entities.
func (s *Schema) SetDefaults() {
	for i := range s.Entities {
		e := &s.Entities[i]
		if e.UniqueField == "" {
			e.UniqueField = "uuid"
		}
		if e.DisplayField == "" {
			e.DisplayField = "name"
		}
		if e.QueryField == "" {
			e.QueryField = e.DisplayField
		}
		for j := range e.Relationships {
			if e.Relationships[j].Direction == "" {
				e.Relationships[j].Direction = DirectionOut
			}
			if enr := e.Relationships[j].Enrichment; enr != nil && enr.MaxItems <= 0 {
				enr.MaxItems = 5
			}
		}
		for j := range e.VectorIndexes {
			if e.VectorIndexes[j].Similarity == "" {
				e.VectorIndexes[j].Similarity = "cosine"
			}
		}
	}
}

// Validate checks the schema for internal consistency.
func (s *Schema) Validate() error {
	if len(s.Entities) == 0 {
		return fmt.Errorf("schema declares no entities")
	}

	labels := make(map[string]*Entity, len(s.Entities))
	for i := range s.Entities {
		e := &s.Entities[i]
		if e.Label == "" {
			return fmt.Errorf("entity %d has no label", i)
		}
		if _, dup := labels[e.Label]; dup {
			return fmt.Errorf("duplicate entity label %q", e.Label)
		}
		labels[e.Label] = e
	}

	for _, e := range s.Entities {
		fields := make(map[string]Field, len(e.Fields))
		for _, f := range e.Fields {
			if f.Name == "" {
				return fmt.Errorf("entity %s has a field with no name", e.Label)
			}
			if !validFieldType(f.Type) {
				return fmt.Errorf("entity %s field %s has invalid type %q", e.Label, f.Name, f.Type)
			}
			if f.Type == FieldEnum && len(f.EnumValues) == 0 {
				return fmt.Errorf("entity %s enum field %s declares no values", e.Label, f.Name)
			}
			if _, dup := fields[f.Name]; dup {
				return fmt.Errorf("entity %s has duplicate field %s", e.Label, f.Name)
			}
			fields[f.Name] = f
		}

		if _, ok := fields[e.UniqueField]; !ok {
			return fmt.Errorf("entity %s unique field %q is not declared", e.Label, e.UniqueField)
		}
		if _, ok := fields[e.DisplayField]; !ok {
			return fmt.Errorf("entity %s display field %q is not declared", e.Label, e.DisplayField)
		}
		if _, ok := fields[e.QueryField]; !ok {
			return fmt.Errorf("entity %s query field %q is not declared", e.Label, e.QueryField)
		}

		for _, r := range e.Relationships {
			if r.Type == "" {
				return fmt.Errorf("entity %s has a relationship with no type", e.Label)
			}
			if _, ok := labels[r.Target]; !ok {
				return fmt.Errorf("entity %s relationship %s targets undeclared entity %q", e.Label, r.Type, r.Target)
			}
			switch r.Direction {
			case DirectionOut, DirectionIn, DirectionBoth:
			default:
				return fmt.Errorf("entity %s relationship %s has invalid direction %q", e.Label, r.Type, r.Direction)
			}
		}

		for _, v := range e.VectorIndexes {
			if v.Name == "" {
				return fmt.Errorf("entity %s has a vector index with no name", e.Label)
			}
			if _, ok := fields[v.SourceField]; !ok {
				return fmt.Errorf("entity %s vector index %s sources undeclared field %q", e.Label, v.Name, v.SourceField)
			}
			if v.EmbeddingField == "" {
				return fmt.Errorf("entity %s vector index %s has no embedding field", e.Label, v.Name)
			}
			if v.Dimension <= 0 {
				return fmt.Errorf("entity %s vector index %s has invalid dimension %d", e.Label, v.Name, v.Dimension)
			}
			if v.Similarity != "cosine" && v.Similarity != "euclidean" {
				return fmt.Errorf("entity %s vector index %s has invalid similarity %q", e.Label, v.Name, v.Similarity)
			}
		}

		for _, ft := range e.FulltextIndexes {
			if ft.Name == "" {
				return fmt.Errorf("entity %s has a fulltext index with no name", e.Label)
			}
			for _, f := range ft.Fields {
				if _, ok := fields[f]; !ok {
					return fmt.Errorf("entity %s fulltext index %s indexes undeclared field %q", e.Label, ft.Name, f)
				}
			}
		}
	}

	return nil
}

func validFieldType(t FieldType) bool {
	switch t {
	case FieldString, FieldNumber, FieldBoolean, FieldDatetime, FieldEnum,
		FieldStringArray, FieldNumberArray:
		return true
	}
	return false
}

// Entity returns the entity with the given label, or nil.
func (s *Schema) Entity(label string) *Entity {
	for i := range s.Entities {
		if s.Entities[i].Label == label {
			return &s.Entities[i]
		}
	}
	return nil
}

// Labels returns all entity labels in declaration order.
func (s *Schema) Labels() []string {
	labels := make([]string, len(s.Entities))
	for i, e := range s.Entities {
		labels[i] = e.Label
	}
	return labels
}

// Field returns the field with the given name, or nil.
func (e *Entity) Field(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// VectorIndex returns the vector index with the given name, or nil.
func (e *Entity) VectorIndex(name string) *VectorIndex {
	for i := range e.VectorIndexes {
		if e.VectorIndexes[i].Name == name {
			return &e.VectorIndexes[i]
		}
	}
	return nil
}

// Relationship returns the declared relationship of the given type, or nil.
func (e *Entity) Relationship(relType string) *Relationship {
	for i := range e.Relationships {
		if e.Relationships[i].Type == relType {
			return &e.Relationships[i]
		}
	}
	return nil
}

// EnrichedRelationships returns the relationships with enrichment enabled.
func (e *Entity) EnrichedRelationships() []Relationship {
	var out []Relationship
	for _, r := range e.Relationships {
		if r.Enrichment != nil && r.Enrichment.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// HasDatetimeFields reports whether the entity declares any datetime field.
func (e *Entity) HasDatetimeFields() bool {
	for _, f := range e.Fields {
		if f.Type == FieldDatetime {
			return true
		}
	}
	return false
}

// HasNumberFields reports whether the entity declares any numeric field.
func (e *Entity) HasNumberFields() bool {
	for _, f := range e.Fields {
		if f.Type == FieldNumber {
			return true
		}
	}
	return false
}

// HasStringFields reports whether the entity declares any string field.
func (e *Entity) HasStringFields() bool {
	for _, f := range e.Fields {
		if f.Type == FieldString {
			return true
		}
	}
	return false
}
