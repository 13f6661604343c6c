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

package schema

// DefaultSchema returns the canonical code-knowledge schema: parsed code
// units, files, markdown documents, crawled pages and their structural
// relationships.
func DefaultSchema() *Schema {
	s := &Schema{
		Entities: []Entity{
			{
				Label:       "Scope",
				Description: "A parsed code unit: function, class, method, variable or interface.",
				Fields: []Field{
					{Name: "uuid", Type: FieldString},
					{Name: "name", Type: FieldString},
					{Name: "type", Type: FieldEnum, EnumValues: []string{
						"function", "class", "method", "variable", "interface", "type", "constant",
					}},
					{Name: "file", Type: FieldString, Description: "Path of the defining file."},
					{Name: "startLine", Type: FieldNumber},
					{Name: "endLine", Type: FieldNumber},
					{Name: "signature", Type: FieldString},
					{Name: "source", Type: FieldString, Description: "Full source text of the scope."},
					{Name: "contentHash", Type: FieldString},
				},
				Relationships: []Relationship{
					{Type: "DEFINED_IN", Target: "File", Enrichment: &Enrichment{Enabled: true, MaxItems: 1, Fields: []string{"path"}}},
					{Type: "CONSUMES", Target: "Scope", Direction: DirectionBoth, Enrichment: &Enrichment{Enabled: true, MaxItems: 10, Fields: []string{"name", "type"}}},
					{Type: "USES_LIBRARY", Target: "ExternalLibrary"},
					{Type: "BELONGS_TO", Target: "Project"},
					{Type: "HAS_CHANGE", Target: "Change"},
				},
				VectorIndexes: []VectorIndex{
					{Name: "scopeSource", SourceField: "source", EmbeddingField: "sourceEmbedding", Dimension: 1536},
				},
				FulltextIndexes: []FulltextIndex{
					{Name: "scopeText", Fields: []string{"name", "signature", "source"}},
				},
				TrackChanges: true,
			},
			{
				Label:       "File",
				Description: "A source file on disk.",
				UniqueField: "path",
				DisplayField: "name",
				Fields: []Field{
					{Name: "path", Type: FieldString},
					{Name: "name", Type: FieldString},
					{Name: "directory", Type: FieldString},
					{Name: "extension", Type: FieldString},
					{Name: "contentHash", Type: FieldString},
					{Name: "mtime", Type: FieldDatetime},
				},
				Relationships: []Relationship{
					{Type: "IN_DIRECTORY", Target: "Directory"},
					{Type: "HAS_CHANGE", Target: "Change"},
				},
				TrackChanges: true,
			},
			{
				Label:        "Directory",
				Description:  "A directory in a project tree.",
				UniqueField:  "path",
				DisplayField: "path",
				Fields: []Field{
					{Name: "path", Type: FieldString},
					{Name: "depth", Type: FieldNumber},
				},
				Relationships: []Relationship{
					{Type: "PARENT_OF", Target: "Directory"},
				},
			},
			{
				Label:        "ExternalLibrary",
				Description:  "A third-party library referenced by code.",
				UniqueField:  "name",
				Fields: []Field{
					{Name: "name", Type: FieldString},
				},
			},
			{
				Label:       "MarkdownDocument",
				Description: "A markdown document.",
				Fields: []Field{
					{Name: "uuid", Type: FieldString},
					{Name: "name", Type: FieldString},
					{Name: "path", Type: FieldString},
					{Name: "contentHash", Type: FieldString},
				},
				Relationships: []Relationship{
					{Type: "HAS_SECTION", Target: "MarkdownSection", Enrichment: &Enrichment{Enabled: true, MaxItems: 10, Fields: []string{"name"}}},
					{Type: "HAS_CHANGE", Target: "Change"},
				},
				TrackChanges: true,
			},
			{
				Label:       "MarkdownSection",
				Description: "A heading-delimited section of a markdown document.",
				Fields: []Field{
					{Name: "uuid", Type: FieldString},
					{Name: "name", Type: FieldString, Description: "Heading text."},
					{Name: "level", Type: FieldNumber},
					{Name: "content", Type: FieldString},
					{Name: "order", Type: FieldNumber},
					{Name: "contentHash", Type: FieldString},
				},
				Relationships: []Relationship{
					{Type: "HAS_CODE_BLOCK", Target: "CodeBlock", Enrichment: &Enrichment{Enabled: true, MaxItems: 5, Fields: []string{"language"}}},
				},
				VectorIndexes: []VectorIndex{
					{Name: "sectionContent", SourceField: "content", EmbeddingField: "contentEmbedding", Dimension: 1536},
				},
				FulltextIndexes: []FulltextIndex{
					{Name: "sectionText", Fields: []string{"name", "content"}},
				},
			},
			{
				Label:       "CodeBlock",
				Description: "A fenced code block inside a markdown section.",
				DisplayField: "language",
				QueryField:   "code",
				Fields: []Field{
					{Name: "uuid", Type: FieldString},
					{Name: "language", Type: FieldString},
					{Name: "code", Type: FieldString},
					{Name: "order", Type: FieldNumber},
				},
				VectorIndexes: []VectorIndex{
					{Name: "blockCode", SourceField: "code", EmbeddingField: "codeEmbedding", Dimension: 1536},
				},
			},
			{
				Label:        "WebPage",
				Description:  "A crawled web page.",
				UniqueField:  "url",
				DisplayField: "title",
				QueryField:   "textContent",
				Fields: []Field{
					{Name: "url", Type: FieldString},
					{Name: "title", Type: FieldString},
					{Name: "textContent", Type: FieldString},
					{Name: "depth", Type: FieldNumber, Description: "Crawl depth from the seed URL."},
					{Name: "contentHash", Type: FieldString},
				},
				Relationships: []Relationship{
					{Type: "LINKS_TO", Target: "WebPage"},
					{Type: "HAS_CHANGE", Target: "Change"},
				},
				VectorIndexes: []VectorIndex{
					{Name: "pageContent", SourceField: "textContent", EmbeddingField: "contentEmbedding", Dimension: 1536},
				},
				FulltextIndexes: []FulltextIndex{
					{Name: "pageText", Fields: []string{"title", "textContent"}},
				},
				TrackChanges: true,
			},
			{
				Label:       "Project",
				Description: "A project root being tracked.",
				UniqueField: "name",
				Fields: []Field{
					{Name: "name", Type: FieldString},
					{Name: "rootPath", Type: FieldString},
				},
			},
			{
				Label:        "Change",
				Description:  "A recorded mutation of a content-bearing node.",
				DisplayField: "changeType",
				QueryField:   "changeType",
				Fields: []Field{
					{Name: "uuid", Type: FieldString},
					{Name: "changeType", Type: FieldEnum, EnumValues: []string{"created", "modified", "deleted"}},
					{Name: "timestamp", Type: FieldDatetime},
					{Name: "linesAdded", Type: FieldNumber},
					{Name: "linesRemoved", Type: FieldNumber},
					{Name: "diff", Type: FieldString},
				},
			},
		},
	}
	s.SetDefaults()
	return s
}
