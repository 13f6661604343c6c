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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the registry's tool surface over the Model Context
// Protocol on stdio.
type MCPServer struct {
	registry *Registry
	server   *server.MCPServer
}

// NewMCPServer builds an MCP server from the registered tools.
func NewMCPServer(name, version string, registry *Registry) *MCPServer {
	srv := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	m := &MCPServer{registry: registry, server: srv}
	for _, t := range registry.List() {
		srv.AddTool(mcpTool(t), m.dispatch(t))
	}
	return m
}

// ServeStdio blocks serving MCP requests on stdin/stdout.
func (m *MCPServer) ServeStdio() error {
	return server.ServeStdio(m.server)
}

// mcpTool translates a descriptor into an MCP tool declaration.
func mcpTool(t *Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description)}
	if t.Example != "" {
		opts[0] = mcp.WithDescription(t.Description + " Example arguments: " + t.Example)
	}
	for _, a := range t.Args {
		opts = append(opts, argOption(a))
	}
	if t.ReadOnly && t.WriteFlag == "" {
		opts = append(opts, mcp.WithReadOnlyHintAnnotation(true))
	}
	return mcp.NewTool(t.Name, opts...)
}

func argOption(a Arg) mcp.ToolOption {
	switch a.Type {
	case "number":
		props := []mcp.PropertyOption{mcp.Description(a.Description)}
		if a.Required {
			props = append(props, mcp.Required())
		}
		return mcp.WithNumber(a.Name, props...)
	case "boolean":
		props := []mcp.PropertyOption{mcp.Description(a.Description)}
		if a.Required {
			props = append(props, mcp.Required())
		}
		return mcp.WithBoolean(a.Name, props...)
	case "object":
		props := []mcp.PropertyOption{mcp.Description(a.Description)}
		if a.Required {
			props = append(props, mcp.Required())
		}
		return mcp.WithObject(a.Name, props...)
	case "array":
		props := []mcp.PropertyOption{mcp.Description(a.Description)}
		if a.Required {
			props = append(props, mcp.Required())
		}
		if a.Items != nil {
			props = append(props, mcp.Items(itemSchema(*a.Items)))
		}
		return mcp.WithArray(a.Name, props...)
	default:
		props := []mcp.PropertyOption{mcp.Description(a.Description)}
		if a.Required {
			props = append(props, mcp.Required())
		}
		if len(a.Enum) > 0 {
			props = append(props, mcp.Enum(a.Enum...))
		}
		return mcp.WithString(a.Name, props...)
	}
}

// itemSchema renders an array element shape as a JSON schema fragment.
func itemSchema(a Arg) map[string]any {
	out := map[string]any{"type": a.Type}
	if len(a.Enum) > 0 {
		out["enum"] = a.Enum
	}
	if len(a.Properties) > 0 {
		props := make(map[string]any, len(a.Properties))
		var required []string
		for _, p := range a.Properties {
			props[p.Name] = itemSchema(p)
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out["properties"] = props
		if len(required) > 0 {
			out["required"] = required
		}
	}
	return out
}

func (m *MCPServer) dispatch(t *Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		slog.Debug("MCP tool call", "tool", t.Name)

		result, err := t.Run(ctx, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding %s result: %w", t.Name, err)
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
