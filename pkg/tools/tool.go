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

// Package tools derives a typed tool surface from the entity schema and
// binds handlers to the graph adapter and search engine.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Arg describes one tool argument for the LLM and for validation.
type Arg struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // string, number, boolean, object, array
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`

	// Enum lists allowed values for string arguments.
	Enum []string `json:"enum,omitempty"`

	// Items describes array element shape.
	Items *Arg `json:"items,omitempty"`

	// Properties describes object fields.
	Properties []Arg `json:"properties,omitempty"`
}

// Descriptor is the tool contract surfaced to the LLM: name, description,
// argument schema, and dispatch flags.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Args        []Arg  `json:"args,omitempty"`

	// Example shows one argument payload in the prompt.
	Example string `json:"example,omitempty"`

	// ReadOnly tools may run in parallel within one LLM reply.
	ReadOnly bool `json:"readOnly"`

	// RequiresValidation gates dispatch on external approval.
	RequiresValidation bool `json:"requiresValidation,omitempty"`

	// WriteFlag names a boolean argument that switches an otherwise
	// read-only tool to its write path. A call setting it loses the
	// read-only guarantees: it needs approval and runs serially.
	WriteFlag string `json:"writeFlag,omitempty"`
}

// Handler executes a tool with parsed arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor
	Run Handler
}

// UnknownArgumentError rejects an argument the tool does not declare.
type UnknownArgumentError struct {
	Tool     string
	Argument string
}

// Error implements the error interface.
func (e *UnknownArgumentError) Error() string {
	return fmt.Sprintf("tool %s does not accept argument %q", e.Tool, e.Argument)
}

// WriteRequested reports whether the call's arguments flip the tool's
// WriteFlag, making this particular call a write.
func (d *Descriptor) WriteRequested(args map[string]any) bool {
	if d.WriteFlag == "" {
		return false
	}
	v, _ := args[d.WriteFlag].(bool)
	return v
}

// ValidateArgs rejects unknown argument names and missing required ones.
func (d *Descriptor) ValidateArgs(args map[string]any) error {
	declared := make(map[string]Arg, len(d.Args))
	for _, a := range d.Args {
		declared[a.Name] = a
	}
	for name := range args {
		if _, ok := declared[name]; !ok {
			return &UnknownArgumentError{Tool: d.Name, Argument: name}
		}
	}
	for _, a := range d.Args {
		if a.Required {
			if _, ok := args[a.Name]; !ok {
				return fmt.Errorf("tool %s requires argument %q", d.Name, a.Name)
			}
		}
	}
	return nil
}

// Registry holds the registered tool surface.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, failing on duplicate names.
func (r *Registry) Register(t *Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tool %q is already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// RegisterAll adds all tools, failing on the first duplicate.
func (r *Registry) RegisterAll(ts []*Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
