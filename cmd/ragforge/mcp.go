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
	"context"

	"github.com/ragforge/ragforge/pkg/embedder"
	"github.com/ragforge/ragforge/pkg/llm"
	"github.com/ragforge/ragforge/pkg/search"
	"github.com/ragforge/ragforge/pkg/tools"
)

// MCPCmd serves the generated tool surface over MCP on stdio.
type MCPCmd struct{}

func (c *MCPCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	store, lock, err := openGraph(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return err
	}
	defer emb.Close()

	// The llm reranker is the only tool path that needs a model; skip it
	// when no key is configured so MCP works with just graph credentials.
	var model llm.LLM
	if m, err := llm.New(cfg.LLM); err == nil {
		model = m
		defer model.Close()
	}

	engine := search.NewEngine(store, emb, model, cfg.Schema, lock, cfg.Search)

	registry := tools.NewRegistry()
	if err := registry.RegisterAll(
		tools.NewGenerator(cfg.Schema, store, engine, lock, cfg.Tools).Tools()); err != nil {
		return err
	}

	return tools.NewMCPServer(cfg.Tools.MCP.Name, "1.0.0", registry).ServeStdio()
}
