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
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ragforge/ragforge/pkg/tools"
)

// ToolCall is one parsed tool invocation from an LLM reply.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Reply is the parsed form of one LLM turn: either a final answer or a
// batch of tool calls.
type Reply struct {
	Final       bool
	FinalAnswer string
	Calls       []ToolCall
}

// MalformedOutputError reports that the LLM output failed to parse twice.
type MalformedOutputError struct {
	Output string
	Err    error
}

// Error implements the error interface.
func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("llm output is not a valid tool-call document: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *MalformedOutputError) Unwrap() error { return e.Err }

var (
	intRe   = regexp.MustCompile(`^-?\d+$`)
	floatRe = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// node is one parsed XML element: either a leaf with text or a parent
// with children. Leaf text is byte-exact, including CDATA content.
type node struct {
	name     string
	text     string
	children []*node
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// parseReply extracts the <response> document from the LLM output and
// resolves tool calls against the registry. Arguments are coerced by the
// tool's declared argument schema; undeclared arguments are rejected.
func parseReply(output string, registry *tools.Registry) (*Reply, error) {
	doc, err := extractResponse(output)
	if err != nil {
		return nil, err
	}

	root, err := parseElement(doc)
	if err != nil {
		return nil, err
	}
	if root.name != "response" {
		return nil, fmt.Errorf("root element is <%s>, want <response>", root.name)
	}

	if final := root.child("final_answer"); final != nil {
		return &Reply{Final: true, FinalAnswer: final.text}, nil
	}

	calls := root.child("tool_calls")
	if calls == nil {
		return nil, fmt.Errorf("response has neither <final_answer> nor <tool_calls>")
	}

	reply := &Reply{}
	for _, callNode := range calls.children {
		if callNode.name != "tool_call" {
			return nil, fmt.Errorf("unexpected element <%s> in <tool_calls>", callNode.name)
		}
		nameNode := callNode.child("tool_name")
		if nameNode == nil || strings.TrimSpace(nameNode.text) == "" {
			return nil, fmt.Errorf("tool_call is missing <tool_name>")
		}
		name := strings.TrimSpace(nameNode.text)

		tool, ok := registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}

		args := map[string]any{}
		if argsNode := callNode.child("arguments"); argsNode != nil {
			args, err = coerceArgs(&tool.Descriptor, argsNode)
			if err != nil {
				return nil, err
			}
		}
		reply.Calls = append(reply.Calls, ToolCall{Name: name, Args: args})
	}
	if len(reply.Calls) == 0 {
		return nil, fmt.Errorf("<tool_calls> contains no tool_call elements")
	}
	return reply, nil
}

// extractResponse cuts the <response>…</response> document out of the raw
// output, tolerating prose or code fences around it.
func extractResponse(output string) (string, error) {
	start := strings.Index(output, "<response")
	end := strings.LastIndex(output, "</response>")
	if start < 0 || end < 0 || end < start {
		return "", fmt.Errorf("no <response> element found")
	}
	return output[start : end+len("</response>")], nil
}

// parseElement builds the element tree with byte-exact leaf text.
func parseElement(doc string) (*node, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))

	var stack []*node
	var root *node
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("unexpected end of document")
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			} else if root == nil {
				root = n
			} else {
				return nil, fmt.Errorf("multiple root elements")
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unbalanced end element </%s>", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return root, nil
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
}

// coerceArgs types each argument element by the tool's declared schema.
func coerceArgs(d *tools.Descriptor, argsNode *node) (map[string]any, error) {
	declared := make(map[string]tools.Arg, len(d.Args))
	for _, a := range d.Args {
		declared[a.Name] = a
	}

	out := make(map[string]any, len(argsNode.children))
	for _, child := range argsNode.children {
		if child.name == "_requestValidation" {
			out[child.name] = strings.TrimSpace(child.text) == "true"
			continue
		}
		arg, ok := declared[child.name]
		if !ok {
			return nil, &tools.UnknownArgumentError{Tool: d.Name, Argument: child.name}
		}
		v, err := coerceValue(d.Name, arg, child)
		if err != nil {
			return nil, err
		}
		out[child.name] = v
	}
	return out, nil
}

func coerceValue(toolName string, arg tools.Arg, n *node) (any, error) {
	switch arg.Type {
	case "string":
		return n.text, nil
	case "boolean":
		switch strings.TrimSpace(n.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("tool %s: argument %q is not a boolean: %q", toolName, arg.Name, n.text)
	case "number":
		text := strings.TrimSpace(n.text)
		if intRe.MatchString(text) {
			return strconv.Atoi(text)
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("tool %s: argument %q is not a number: %q", toolName, arg.Name, n.text)
		}
		return f, nil
	case "array":
		items := make([]any, 0, len(n.children))
		for _, item := range n.children {
			var v any
			var err error
			if arg.Items != nil {
				elem := *arg.Items
				if elem.Name == "" {
					elem.Name = arg.Name
				}
				v, err = coerceValue(toolName, elem, item)
			} else {
				v = inferValue(item)
			}
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case "object":
		if len(arg.Properties) == 0 {
			return inferObject(n), nil
		}
		props := make(map[string]tools.Arg, len(arg.Properties))
		for _, p := range arg.Properties {
			props[p.Name] = p
		}
		out := make(map[string]any, len(n.children))
		for _, child := range n.children {
			p, ok := props[child.name]
			if !ok {
				return nil, &tools.UnknownArgumentError{Tool: toolName, Argument: arg.Name + "." + child.name}
			}
			v, err := coerceValue(toolName, p, child)
			if err != nil {
				return nil, err
			}
			out[child.name] = v
		}
		return out, nil
	default:
		return inferValue(n), nil
	}
}

// inferValue types a value with no declared schema: repeated same-name
// children form an array, mixed children an object, and leaf text is
// inferred as bool, int, float or string.
func inferValue(n *node) any {
	if len(n.children) == 0 {
		return inferPrimitive(n.text)
	}
	uniform := true
	for _, c := range n.children[1:] {
		if c.name != n.children[0].name {
			uniform = false
			break
		}
	}
	if uniform && len(n.children) > 1 {
		items := make([]any, len(n.children))
		for i, c := range n.children {
			items[i] = inferValue(c)
		}
		return items
	}
	return inferObject(n)
}

func inferObject(n *node) map[string]any {
	out := make(map[string]any, len(n.children))
	for _, c := range n.children {
		out[c.name] = inferValue(c)
	}
	return out
}

func inferPrimitive(text string) any {
	trimmed := strings.TrimSpace(text)
	switch trimmed {
	case "true":
		return true
	case "false":
		return false
	}
	if intRe.MatchString(trimmed) {
		if i, err := strconv.Atoi(trimmed); err == nil {
			return i
		}
	}
	if floatRe.MatchString(trimmed) {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	}
	return text
}
