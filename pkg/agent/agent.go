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

// Package agent runs the plan/act/observe loop: it prompts the LLM with the
// persona and tool surface, parses structured XML tool calls, dispatches
// them through the registry, and feeds observations back until a final
// answer is produced or the iteration cap trips.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/llm"
	"github.com/ragforge/ragforge/pkg/metrics"
	"github.com/ragforge/ragforge/pkg/tools"
)

const normalisingReminder = `Your previous reply could not be parsed. ` +
	`Reply again with EXACTLY one <response> XML element as specified: either ` +
	`<final_answer> wrapped in CDATA, or <tool_calls> with valid <tool_call> children. ` +
	`No prose outside the <response> element.`

// Answer is the result of one agent run.
type Answer struct {
	Text string

	// Truncated is set when the iteration cap was reached before a
	// final answer.
	Truncated bool

	Iterations int
}

// Runtime drives the agent loop for one persona over one tool registry.
type Runtime struct {
	llm      llm.LLM
	registry *tools.Registry
	store    ConversationStore
	approver Approver
	persona  config.PersonaConfig
	cfg      config.AgentConfig

	onToolCall   func(name string, args map[string]any)
	onToolResult func(name string, result any, success bool, duration time.Duration)
}

// NewRuntime assembles an agent runtime. The store may be nil for
// unpersisted sessions; the approver defaults to ApproveAll.
func NewRuntime(model llm.LLM, registry *tools.Registry, store ConversationStore, cfg config.AgentConfig) *Runtime {
	r := &Runtime{
		llm:      model,
		registry: registry,
		store:    store,
		approver: ApproveAll{},
		cfg:      cfg,
	}
	for _, p := range cfg.Personas {
		if p.ID == cfg.ActivePersona {
			r.persona = p
			break
		}
	}
	return r
}

// SetApprover installs the approval gate for validated tools.
func (r *Runtime) SetApprover(a Approver) { r.approver = a }

// SetPersona switches the active persona for subsequent runs.
func (r *Runtime) SetPersona(p config.PersonaConfig) { r.persona = p }

// Persona returns the active persona.
func (r *Runtime) Persona() config.PersonaConfig { return r.persona }

// OnToolCall installs an observer invoked before each dispatch.
func (r *Runtime) OnToolCall(fn func(name string, args map[string]any)) { r.onToolCall = fn }

// OnToolResult installs an observer invoked after each dispatch.
func (r *Runtime) OnToolResult(fn func(name string, result any, success bool, duration time.Duration)) {
	r.onToolResult = fn
}

// Run executes the loop for one task and returns the final answer.
func (r *Runtime) Run(ctx context.Context, conversationID, task string) (*Answer, error) {
	system := buildSystemPrompt(r.persona, r.registry)

	var session []Message
	if err := r.append(ctx, &session, Message{
		ConversationID: conversationID, Role: "user", Content: task,
	}); err != nil {
		return nil, err
	}

	evidenceCount := 0
	evidenceBytes := 0

	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		reply, raw, err := r.callAndParse(ctx, system, task, session)
		if err != nil {
			return nil, err
		}
		if err := r.append(ctx, &session, Message{
			ConversationID: conversationID, Role: "assistant", Content: raw,
		}); err != nil {
			return nil, err
		}

		if reply.Final {
			metrics.AgentIterations.Observe(float64(iteration))
			return &Answer{Text: reply.FinalAnswer, Iterations: iteration}, nil
		}

		results := r.dispatch(ctx, reply.Calls)
		for i, call := range reply.Calls {
			args, _ := json.Marshal(call.Args)
			if err := r.append(ctx, &session, Message{
				ConversationID: conversationID, Role: "tool", Content: results[i],
				ToolName: call.Name, ToolArgs: string(args),
			}); err != nil {
				return nil, err
			}
			evidenceCount++
			evidenceBytes += len(results[i])
		}

		if r.shouldSummarize(evidenceCount, evidenceBytes) {
			session = r.compressEvidence(ctx, conversationID, task, session)
			evidenceCount = 0
			evidenceBytes = 0
			for _, m := range session {
				if m.Role == "tool" {
					evidenceCount++
					evidenceBytes += len(m.Content)
				}
			}
		}
	}

	slog.Warn("Agent iteration cap reached, answering from partial evidence",
		"cap", r.cfg.MaxIterations)
	text, err := r.llm.Generate(ctx,
		renderHistory(session)+"\nAnswer the task now from the evidence above. Task: "+task,
		&llm.Options{System: personaBlock(r.persona)})
	if err != nil {
		return nil, fmt.Errorf("answering after iteration cap: %w", err)
	}
	_ = r.append(ctx, &session, Message{
		ConversationID: conversationID, Role: "assistant", Content: text,
	})
	metrics.AgentIterations.Observe(float64(r.cfg.MaxIterations))
	return &Answer{Text: text, Truncated: true, Iterations: r.cfg.MaxIterations}, nil
}

// callAndParse generates one LLM turn and parses it, retrying once with a
// normalising reminder before surfacing MalformedOutputError.
func (r *Runtime) callAndParse(ctx context.Context, system, task string, session []Message) (*Reply, string, error) {
	prompt := "Task: " + task + "\n\n" + renderHistory(session)

	out, err := r.llm.Generate(ctx, prompt, &llm.Options{System: system})
	if err != nil {
		return nil, "", fmt.Errorf("agent llm call: %w", err)
	}

	reply, perr := parseReply(out, r.registry)
	if perr == nil {
		return reply, out, nil
	}
	slog.Warn("LLM reply failed to parse, retrying with a reminder", "error", perr)

	retry, err := r.llm.Generate(ctx,
		prompt+"\n\n"+normalisingReminder+"\nParse error: "+perr.Error(),
		&llm.Options{System: system})
	if err != nil {
		return nil, "", fmt.Errorf("agent llm retry: %w", err)
	}
	reply, perr = parseReply(retry, r.registry)
	if perr != nil {
		return nil, "", &MalformedOutputError{Output: retry, Err: perr}
	}
	return reply, retry, nil
}

// dispatch runs the calls of one reply. Calls run in parallel only when
// every tool is read-only; any write tool forces serial execution.
func (r *Runtime) dispatch(ctx context.Context, calls []ToolCall) []string {
	results := make([]string, len(calls))

	parallel := len(calls) > 1
	for _, call := range calls {
		t, ok := r.registry.Get(call.Name)
		if !ok || !t.ReadOnly || t.WriteRequested(call.Args) {
			parallel = false
			break
		}
	}

	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, call := range calls {
			g.Go(func() error {
				results[i] = r.runTool(gctx, call)
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	for i, call := range calls {
		results[i] = r.runTool(ctx, call)
	}
	return results
}

// runTool executes one call end to end: approval, observers, handler.
// Failures become observations for the next turn, never loop aborts.
func (r *Runtime) runTool(ctx context.Context, call ToolCall) string {
	tool, ok := r.registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}

	args := call.Args
	requested := false
	if v, present := args["_requestValidation"]; present {
		requested, _ = v.(bool)
		clean := make(map[string]any, len(args))
		for k, v := range args {
			if k != "_requestValidation" {
				clean[k] = v
			}
		}
		args = clean
	}

	if tool.RequiresValidation || requested || tool.WriteRequested(args) {
		approved, err := r.approver.Approve(ctx, newPendingAction(call.Name, args))
		if err != nil {
			return fmt.Sprintf("error: approval failed: %v", err)
		}
		if !approved {
			err := &ToolRejectedError{Tool: call.Name}
			slog.Info("Tool call rejected", "tool", call.Name)
			return "error: " + err.Error()
		}
	}

	if err := tool.ValidateArgs(args); err != nil {
		return "error: " + err.Error()
	}

	if r.onToolCall != nil {
		r.onToolCall(call.Name, args)
	}
	start := time.Now()
	result, err := tool.Run(ctx, args)
	duration := time.Since(start)
	if r.onToolResult != nil {
		r.onToolResult(call.Name, result, err == nil, duration)
	}

	if err != nil {
		slog.Warn("Tool call failed", "tool", call.Name, "error", err)
		return "error: " + err.Error()
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(payload)
}

// compressEvidence replaces accumulated tool messages with one summary
// message, keeping user and assistant turns intact.
func (r *Runtime) compressEvidence(ctx context.Context, conversationID, task string, session []Message) []Message {
	var evidence []string
	var kept []Message
	for _, m := range session {
		if m.Role == "tool" {
			evidence = append(evidence, fmt.Sprintf("[%s] %s", m.ToolName, m.Content))
			continue
		}
		kept = append(kept, m)
	}
	if len(evidence) == 0 {
		return session
	}

	summary := r.summarize(ctx, task, evidence)
	kept = append(kept, Message{
		ConversationID: conversationID,
		Role:           "tool",
		ToolName:       "evidence_summary",
		Content:        summary,
	})
	return kept
}

// append records the message in the session and the store.
func (r *Runtime) append(ctx context.Context, session *[]Message, msg Message) error {
	*session = append(*session, msg)
	if r.store == nil {
		return nil
	}
	if err := r.store.Append(ctx, msg); err != nil {
		// Persistence failures must not kill the session.
		slog.Warn("Failed to persist conversation message", "error", err)
	}
	return nil
}

// Resume returns the persisted history of a conversation.
func (r *Runtime) Resume(ctx context.Context, conversationID string) ([]Message, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.Messages(ctx, conversationID)
}
