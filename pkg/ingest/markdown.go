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

package ingest

import (
	"path/filepath"
	"strconv"
	"strings"
)

// MarkdownSection is one heading-delimited chunk of a document.
type MarkdownSection struct {
	Heading string
	Level   int
	Content string
	Order   int
	Blocks  []CodeBlock
}

// CodeBlock is one fenced block inside a section.
type CodeBlock struct {
	Language string
	Code     string
	Order    int
}

// ChunkMarkdown splits a markdown document into heading-delimited sections
// with their fenced code blocks. Text before the first heading becomes a
// level-0 preamble section.
func ChunkMarkdown(content string) []MarkdownSection {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var sections []MarkdownSection
	current := MarkdownSection{Heading: "(preamble)", Level: 0}
	var body []string
	inFence := false

	flush := func() {
		current.Content = strings.TrimSpace(strings.Join(body, "\n"))
		current.Blocks = extractBlocks(current.Content)
		if current.Content != "" || current.Level > 0 {
			current.Order = len(sections)
			sections = append(sections, current)
		}
		body = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, "#") {
			level := 0
			for level < len(line) && line[level] == '#' {
				level++
			}
			heading := strings.TrimSpace(line[level:])
			if heading != "" && level <= 6 {
				flush()
				current = MarkdownSection{Heading: heading, Level: level}
				continue
			}
		}
		body = append(body, line)
	}
	flush()

	return sections
}

func extractBlocks(content string) []CodeBlock {
	var blocks []CodeBlock
	lines := strings.Split(content, "\n")

	var code []string
	language := ""
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				blocks = append(blocks, CodeBlock{
					Language: language,
					Code:     strings.Join(code, "\n"),
					Order:    len(blocks),
				})
				code = nil
				inFence = false
			} else {
				language = strings.TrimPrefix(trimmed, "```")
				inFence = true
			}
			continue
		}
		if inFence {
			code = append(code, line)
		}
	}
	return blocks
}

// markdownEntities converts a chunked document into graph entities rooted at
// a MarkdownDocument node.
func markdownEntities(path, content string) []Entity {
	docID := stableID("md", path)
	doc := Entity{
		Label: "MarkdownDocument",
		Props: map[string]any{
			"uuid":        docID,
			"name":        filepath.Base(path),
			"path":        path,
			"contentHash": ContentHash(content),
		},
	}

	entities := []Entity{doc}
	for _, section := range ChunkMarkdown(content) {
		sectionID := stableID("md", path, "section", section.Heading, strconv.Itoa(section.Order))
		sectionEntity := Entity{
			Label: "MarkdownSection",
			Props: map[string]any{
				"uuid":        sectionID,
				"name":        section.Heading,
				"level":       section.Level,
				"content":     section.Content,
				"order":       section.Order,
				"contentHash": ContentHash(section.Content),
			},
		}
		entities[0].Edges = append(entities[0].Edges, Edge{
			Type: "HAS_SECTION", TargetLabel: "MarkdownSection", TargetKey: sectionID,
		})

		for _, block := range section.Blocks {
			blockID := stableID("md", path, "block", sectionID, strconv.Itoa(block.Order))
			sectionEntity.Edges = append(sectionEntity.Edges, Edge{
				Type: "HAS_CODE_BLOCK", TargetLabel: "CodeBlock", TargetKey: blockID,
			})
			entities = append(entities, Entity{
				Label: "CodeBlock",
				Props: map[string]any{
					"uuid":     blockID,
					"language": block.Language,
					"code":     block.Code,
					"order":    block.Order,
				},
			})
		}

		entities = append(entities, sectionEntity)
	}
	return entities
}
