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

// Command ragforge is the CLI for the RagForge knowledge engine.
//
// Usage:
//
//	ragforge init
//	ragforge ingest --config ~/.ragforge/config.yaml
//	ragforge agent
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/embedder"
	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/llm"
	"github.com/ragforge/ragforge/pkg/logger"
)

// Exit codes.
const (
	exitOK       = 0
	exitUsage    = 1
	exitConfig   = 2
	exitExternal = 3
	exitCanceled = 4
)

// CLI defines the command-line interface.
type CLI struct {
	Version    VersionCmd    `cmd:"" help:"Show version information."`
	Init       InitCmd       `cmd:"" help:"Write a starter config and .env."`
	Validate   ValidateCmd   `cmd:"" help:"Validate the configuration file."`
	Schema     SchemaCmd     `cmd:"" help:"Generate a JSON Schema for the configuration."`
	Introspect IntrospectCmd `cmd:"" help:"Print the entities and tools derived from the schema."`
	Ingest     IngestCmd     `cmd:"" help:"Ingest configured sources into the graph."`
	Embed      EmbedCmd      `cmd:"" help:"Generate embeddings for stale entities."`
	Agent      AgentCmd      `cmd:"" help:"Start the interactive agent."`
	MCP        MCPCmd        `cmd:"" name:"mcp" help:"Serve the tool surface over MCP on stdio."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("ragforge %s\n", version)
	return nil
}

// loadConfig loads and validates the configuration for a command.
func loadConfig(cli *CLI) (*config.Config, error) {
	return config.Load(cli.Config)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// exitCode maps an error to the command exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return exitCanceled
	}

	var validation *config.ValidationError
	if errors.As(err, &validation) {
		return exitConfig
	}
	var unavailable *graph.UnavailableError
	var query *graph.QueryError
	var embErr *embedder.ProviderError
	var llmErr *llm.ProviderError
	if errors.As(err, &unavailable) || errors.As(err, &query) ||
		errors.As(err, &embErr) || errors.As(err, &llmErr) {
		return exitExternal
	}
	return exitUsage
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ragforge"),
		kong.Description("RagForge - retrieval-augmented knowledge engine over a property graph"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "ragforge: %v\n", err)
		os.Exit(exitCode(err))
	}
}
