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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/invopop/jsonschema"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/tools"
)

// ValidateCmd validates the configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	fmt.Printf("Configuration is valid: %d entities, %d projects\n",
		len(cfg.Schema.Entities), len(cfg.Ingestion.Projects))
	return nil
}

// SchemaCmd generates a JSON Schema for the configuration file.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := reflector.Reflect(&config.Config{})
	s.ID = "https://ragforge.dev/schemas/config.json"
	s.Title = "RagForge Configuration Schema"
	s.Description = "Configuration schema for the RagForge knowledge engine"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(s)
}

// IntrospectCmd prints the entities and the tool surface derived from the
// schema, without touching the graph.
type IntrospectCmd struct {
	JSON bool `help:"Emit the tool descriptors as JSON."`
}

func (c *IntrospectCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	gen := tools.NewGenerator(cfg.Schema, nil, nil, graph.NewIngestionLock(0), cfg.Tools)
	surface := gen.Tools()

	if c.JSON {
		descriptors := make([]tools.Descriptor, len(surface))
		for i, t := range surface {
			descriptors[i] = t.Descriptor
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(descriptors)
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Println(bold("Entities"))
	for _, e := range cfg.Schema.Entities {
		fmt.Printf("  %s (unique: %s, fields: %d, vector indexes: %d, relationships: %d)\n",
			e.Label, e.UniqueField, len(e.Fields), len(e.VectorIndexes), len(e.Relationships))
	}

	fmt.Println()
	fmt.Println(bold("Tools"))
	for _, t := range surface {
		flag := ""
		if t.RequiresValidation {
			flag = " (requires approval)"
		}
		fmt.Printf("  %s%s\n", t.Name, flag)
	}
	return nil
}
