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
	"regexp"
	"strings"
)

// ParsedScope is one code unit extracted from a source file.
type ParsedScope struct {
	Name      string
	Type      string
	Signature string
	Source    string
	StartLine int
	EndLine   int

	// Consumes lists names of other scopes this one references.
	Consumes []string

	// Libraries lists imported third-party modules.
	Libraries []string
}

// Parser extracts scopes from one source file. Real AST extractors plug in
// here; the built-in parser is a line-heuristic fallback.
type Parser interface {
	// Extensions lists the file extensions this parser handles, with dot.
	Extensions() []string

	// Parse extracts scopes from the file content.
	Parse(path string, content []byte) ([]ParsedScope, error)
}

// declPattern matches a top-level declaration and captures its kind and name.
type declPattern struct {
	re   *regexp.Regexp
	kind string
}

var declPatterns = []declPattern{
	{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)`), "function"},
	{regexp.MustCompile(`^type\s+(\w+)\s+interface`), "interface"},
	{regexp.MustCompile(`^type\s+(\w+)`), "type"},
	{regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+(\w+)`), "function"},
	{regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`), "class"},
	{regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)`), "interface"},
	{regexp.MustCompile(`^(?:export\s+)?const\s+(\w+)\s*=`), "constant"},
	{regexp.MustCompile(`^def\s+(\w+)`), "function"},
	{regexp.MustCompile(`^var\s+(\w+)`), "variable"},
}

var importPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*import\s+"([^"]+)"`),
	regexp.MustCompile(`^\s*"([^"]+)"\s*$`),
	regexp.MustCompile(`^\s*import\s+.*from\s+['"]([^'"]+)['"]`),
	regexp.MustCompile(`^\s*(?:import|from)\s+([\w.]+)`),
}

var identifierRe = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\(`)

// HeuristicParser is a language-agnostic fallback extractor: it splits a file
// at top-level declarations matched by line patterns. Each scope spans from
// its declaration to the line before the next one.
type HeuristicParser struct{}

// Extensions lists the default set of handled extensions.
func (HeuristicParser) Extensions() []string {
	return []string{".go", ".ts", ".js", ".py"}
}

// Parse extracts top-level scopes and their references.
func (HeuristicParser) Parse(path string, content []byte) ([]ParsedScope, error) {
	lines := strings.Split(string(content), "\n")

	type decl struct {
		name, kind string
		line       int
	}
	var decls []decl
	var libraries []string

	for i, line := range lines {
		for _, p := range importPatterns {
			if m := p.FindStringSubmatch(line); m != nil {
				libraries = append(libraries, m[1])
				break
			}
		}
		for _, p := range declPatterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				decls = append(decls, decl{name: m[1], kind: p.kind, line: i})
				break
			}
		}
	}

	names := make(map[string]bool, len(decls))
	for _, d := range decls {
		names[d.name] = true
	}

	scopes := make([]ParsedScope, 0, len(decls))
	for i, d := range decls {
		end := len(lines)
		if i+1 < len(decls) {
			end = decls[i+1].line
		}
		source := strings.Join(lines[d.line:end], "\n")

		var consumes []string
		seen := map[string]bool{d.name: true}
		for _, m := range identifierRe.FindAllStringSubmatch(source, -1) {
			if names[m[1]] && !seen[m[1]] {
				consumes = append(consumes, m[1])
				seen[m[1]] = true
			}
		}

		scopes = append(scopes, ParsedScope{
			Name:      d.name,
			Type:      d.kind,
			Signature: strings.TrimSpace(lines[d.line]),
			Source:    source,
			StartLine: d.line + 1,
			EndLine:   end,
			Consumes:  consumes,
			Libraries: libraries,
		})
	}
	return scopes, nil
}
