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
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/embedder"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/ingest"
)

// openGraph connects the graph store and builds the ingestion lock.
func openGraph(ctx context.Context, cfg *config.Config) (*graph.Store, *graph.IngestionLock, error) {
	store, err := graph.NewStore(ctx, cfg.Graph)
	if err != nil {
		return nil, nil, err
	}
	lock := graph.NewIngestionLock(time.Duration(cfg.Graph.LockTimeoutSeconds) * time.Second)
	return store, lock, nil
}

// IngestCmd runs the ingestion pass and, with watch enabled, keeps
// watching the configured projects.
type IngestCmd struct {
	Watch bool `help:"Watch projects for changes after the initial pass."`
}

func (c *IngestCmd) Run(cli *CLI) error {
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

	engine := ingest.NewEngine(store, cfg.Schema, lock, cfg.Ingestion)
	engine.SetPipeline(ingest.NewPipeline(store, emb, cfg.Schema))

	stats, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested: %d created, %d modified, %d deleted, %d skipped, %d failed\n",
		stats.Created, stats.Modified, stats.Deleted, stats.Skipped, stats.Failed)

	if !c.Watch && !cfg.Ingestion.Watch {
		return nil
	}

	fmt.Println("Watching for changes (ctrl-c to stop)…")
	g, gctx := errgroup.WithContext(ctx)
	for _, project := range cfg.Ingestion.Projects {
		watcher := ingest.NewWatcher(engine, project)
		g.Go(func() error { return watcher.Run(gctx) })
	}
	return g.Wait()
}

// EmbedCmd runs only the embedding pipeline over stale entities.
type EmbedCmd struct{}

func (c *EmbedCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	store, _, err := openGraph(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return err
	}
	defer emb.Close()

	embedded, err := ingest.NewPipeline(store, emb, cfg.Schema).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Embedded %d entities\n", embedded)
	return nil
}
