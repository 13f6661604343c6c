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

package agent

import (
	"fmt"
	"strings"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/tools"
)

const wireFormat = `Reply with a single <response> XML element and nothing else.

To answer, emit:
<response>
  <final_answer><![CDATA[your answer]]></final_answer>
</response>

To call tools, emit:
<response>
  <tool_calls>
    <tool_call>
      <tool_name>name</tool_name>
      <arguments>
        <argName>value</argName>
        <longText><![CDATA[text with < > & or newlines]]></longText>
        <listArg><item>a</item><item>b</item></listArg>
      </arguments>
    </tool_call>
  </tool_calls>
</response>

Wrap any value containing <, >, & or newlines in CDATA. Arrays are repeated
children of a container element. Only use arguments a tool declares.`

const workflowHints = `Workflow:
1. Call describe_schema if you are unsure what the graph contains.
2. Prefer semantic_search_* for "find code that does X" questions and the
   typed query_* tools for exact lookups.
3. Follow relationships with expand_* before concluding something is absent.
4. Cite the entities your answer is based on.`

// buildSystemPrompt renders persona, capabilities, tool specifications and
// workflow hints into one system prompt.
func buildSystemPrompt(persona config.PersonaConfig, registry *tools.Registry) string {
	var sb strings.Builder

	sb.WriteString(personaBlock(persona))
	sb.WriteString("\n\n")

	sb.WriteString("Available tools:\n\n")
	for _, t := range registry.List() {
		sb.WriteString(toolSpec(t))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(workflowHints)
	sb.WriteString("\n\n")
	sb.WriteString(wireFormat)
	return sb.String()
}

func personaBlock(p config.PersonaConfig) string {
	var sb strings.Builder
	if p.Persona != "" {
		sb.WriteString(p.Persona)
	} else {
		fmt.Fprintf(&sb, "You are %s, an assistant for exploring a code knowledge graph.", p.Name)
	}
	if p.Language != "" && !strings.EqualFold(p.Language, "english") {
		fmt.Fprintf(&sb, "\nAlways answer in %s.", p.Language)
	}
	return sb.String()
}

// toolSpec renders one tool: name, description, arguments with types and
// enums, and an example payload.
func toolSpec(t *tools.Tool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n%s\n", t.Name, t.Description)
	if len(t.Args) > 0 {
		sb.WriteString("Arguments:\n")
		for _, a := range t.Args {
			sb.WriteString(argSpec(a, 1))
		}
	}
	if t.Example != "" {
		fmt.Fprintf(&sb, "Example arguments: %s\n", t.Example)
	}
	if t.RequiresValidation {
		sb.WriteString("This tool modifies data and requires user approval.\n")
	}
	return sb.String()
}

func argSpec(a tools.Arg, depth int) string {
	var sb strings.Builder
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(&sb, "%s- %s (%s", indent, a.Name, a.Type)
	if a.Required {
		sb.WriteString(", required")
	}
	sb.WriteString(")")
	if a.Description != "" {
		sb.WriteString(": " + a.Description)
	}
	if len(a.Enum) > 0 {
		fmt.Fprintf(&sb, " One of: %s.", strings.Join(a.Enum, ", "))
	}
	sb.WriteString("\n")
	if a.Items != nil && len(a.Items.Properties) > 0 {
		for _, p := range a.Items.Properties {
			sb.WriteString(argSpec(p, depth+1))
		}
	}
	return sb.String()
}

// renderHistory flattens prior messages into the prompt body.
func renderHistory(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "tool":
			fmt.Fprintf(&sb, "[tool %s]\n%s\n\n", m.ToolName, m.Content)
		default:
			fmt.Fprintf(&sb, "[%s]\n%s\n\n", m.Role, m.Content)
		}
	}
	return sb.String()
}
