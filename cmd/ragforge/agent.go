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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/ragforge/ragforge/pkg/agent"
	"github.com/ragforge/ragforge/pkg/embedder"
	"github.com/ragforge/ragforge/pkg/llm"
	"github.com/ragforge/ragforge/pkg/persona"
	"github.com/ragforge/ragforge/pkg/search"
	"github.com/ragforge/ragforge/pkg/tools"
)

// AgentCmd starts the interactive agent loop.
type AgentCmd struct {
	Conversation string `help:"Conversation id to resume (default: a new one)."`
	Yes          bool   `short:"y" help:"Approve all tool calls without prompting."`
}

// terminalApprover prompts on the terminal for pending actions.
type terminalApprover struct{}

func (terminalApprover) Approve(ctx context.Context, action agent.PendingAction) (bool, error) {
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Printf("\n%s %s\n%s\n", yellow("About to run"), action.Tool, action.Preview)
	fmt.Print("Proceed? [y/N] ")

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Non-interactive session: fail closed.
		fmt.Println("n (not a terminal)")
		return false, nil
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return false, err
	}
	defer term.Restore(fd, state)

	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		return false, err
	}
	answer := strings.ToLower(string(buf))
	fmt.Printf("%s\n", answer)
	return answer == "y", nil
}

func (c *AgentCmd) Run(cli *CLI) error {
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

	model, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	defer model.Close()

	engine := search.NewEngine(store, emb, model, cfg.Schema, lock, cfg.Search)

	registry := tools.NewRegistry()
	if err := registry.RegisterAll(
		tools.NewGenerator(cfg.Schema, store, engine, lock, cfg.Tools).Tools()); err != nil {
		return err
	}

	conversations, err := agent.OpenStore(ctx, cfg.Agent.Conversations)
	if err != nil {
		return err
	}
	defer conversations.Close()

	runtime := agent.NewRuntime(model, registry, conversations, cfg.Agent)
	if !c.Yes {
		runtime.SetApprover(terminalApprover{})
	}

	personas := persona.NewStore(cfg, model)
	commands := persona.NewCommands(personas, os.Stdout)
	commands.OnSwitch(func() { runtime.SetPersona(personas.Active()) })
	runtime.SetPersona(personas.Active())

	runtime.OnToolCall(func(name string, args map[string]any) {
		fmt.Printf("  %s %s\n", color.CyanString("→"), name)
	})
	runtime.OnToolResult(func(name string, result any, success bool, duration time.Duration) {
		mark := color.GreenString("✓")
		if !success {
			mark = color.RedString("✗")
		}
		fmt.Printf("  %s %s (%s)\n", mark, name, duration.Round(time.Millisecond))
	})

	conversationID := c.Conversation
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	active := personas.Active()
	fmt.Printf("Talking to %s. Type /help for commands, ctrl-c to quit.\n",
		persona.Colored(active.Name, active.Color))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if persona.IsCommand(line) {
			if err := commands.Dispatch(ctx, line); err != nil {
				fmt.Println(color.RedString(err.Error()))
			}
			continue
		}

		answer, err := runtime.Run(ctx, conversationID, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Println(color.RedString(err.Error()))
			continue
		}
		active := runtime.Persona()
		fmt.Printf("\n%s: %s\n", persona.Colored(active.Name, active.Color), answer.Text)
		if answer.Truncated {
			fmt.Println(color.YellowString("(answer truncated at the iteration cap)"))
		}
	}
}
