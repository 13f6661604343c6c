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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/llm"
	"github.com/ragforge/ragforge/pkg/tools"
)

// scriptedLLM replays canned replies in order.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	prompts []string
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, opts *llm.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.replies) == 0 {
		return "<response><final_answer><![CDATA[out of script]]></final_answer></response>", nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *scriptedLLM) GenerateParallel(ctx context.Context, prompts []string, opts *llm.Options) ([]string, error) {
	out := make([]string, len(prompts))
	for i, p := range prompts {
		r, err := s.Generate(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (s *scriptedLLM) Model() string { return "scripted" }
func (s *scriptedLLM) Close() error  { return nil }

// memStore keeps messages in memory.
type memStore struct {
	mu       sync.Mutex
	messages []Message
}

func (m *memStore) Append(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = int64(len(m.messages) + 1)
	m.messages = append(m.messages, msg)
	return nil
}

func (m *memStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// denyAll rejects every pending action.
type denyAll struct{}

func (denyAll) Approve(ctx context.Context, action PendingAction) (bool, error) {
	return false, nil
}

func agentRegistry(t *testing.T, searchCalls *int, mutateCalls *int) *tools.Registry {
	var mu sync.Mutex
	r := tools.NewRegistry()
	require.NoError(t, r.RegisterAll([]*tools.Tool{
		{
			Descriptor: tools.Descriptor{
				Name:     "search_scopes",
				ReadOnly: true,
				Args:     []tools.Arg{{Name: "query", Type: "string", Required: true}},
			},
			Run: func(ctx context.Context, args map[string]any) (any, error) {
				mu.Lock()
				defer mu.Unlock()
				if searchCalls != nil {
					*searchCalls++
				}
				return []map[string]any{{"name": "createClient", "score": 0.9}}, nil
			},
		},
		{
			Descriptor: tools.Descriptor{
				Name:               "mutate_notes",
				RequiresValidation: true,
				Args:               []tools.Arg{{Name: "action", Type: "string", Required: true}},
			},
			Run: func(ctx context.Context, args map[string]any) (any, error) {
				mu.Lock()
				defer mu.Unlock()
				if mutateCalls != nil {
					*mutateCalls++
				}
				return "done", nil
			},
		},
	}))
	return r
}

func agentConfig() config.AgentConfig {
	var cfg config.AgentConfig
	cfg.SetDefaults()
	return cfg
}

const toolReply = `<response><tool_calls><tool_call>
	<tool_name>search_scopes</tool_name>
	<arguments><query>database client</query></arguments>
</tool_call></tool_calls></response>`

const finalReply = `<response><final_answer><![CDATA[createClient opens the database connection.]]></final_answer></response>`

func TestRunToolThenFinal(t *testing.T) {
	var searches int
	model := &scriptedLLM{replies: []string{toolReply, finalReply}}
	store := &memStore{}
	rt := NewRuntime(model, agentRegistry(t, &searches, nil), store, agentConfig())

	var observed []string
	rt.OnToolCall(func(name string, args map[string]any) { observed = append(observed, name) })

	answer, err := rt.Run(context.Background(), "c1", "what opens the database?")
	require.NoError(t, err)
	assert.Equal(t, "createClient opens the database connection.", answer.Text)
	assert.False(t, answer.Truncated)
	assert.Equal(t, 2, answer.Iterations)
	assert.Equal(t, 1, searches)
	assert.Equal(t, []string{"search_scopes"}, observed)

	// user, assistant, tool, assistant
	messages, err := store.Messages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "tool", messages[2].Role)
	assert.Equal(t, "search_scopes", messages[2].ToolName)
	assert.Contains(t, messages[2].Content, "createClient")
}

func TestRunRetriesMalformedOnce(t *testing.T) {
	model := &scriptedLLM{replies: []string{"not xml at all", finalReply}}
	rt := NewRuntime(model, agentRegistry(t, nil, nil), nil, agentConfig())

	answer, err := rt.Run(context.Background(), "c1", "task")
	require.NoError(t, err)
	assert.Equal(t, "createClient opens the database connection.", answer.Text)

	// The retry prompt carries the normalising reminder.
	require.Len(t, model.prompts, 2)
	assert.Contains(t, model.prompts[1], "could not be parsed")
}

func TestRunSurfacesMalformedOutputAfterTwoFailures(t *testing.T) {
	model := &scriptedLLM{replies: []string{"garbage", "still garbage"}}
	rt := NewRuntime(model, agentRegistry(t, nil, nil), nil, agentConfig())

	_, err := rt.Run(context.Background(), "c1", "task")
	var malformed *MalformedOutputError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "still garbage", malformed.Output)
}

func TestRunIterationCapTruncates(t *testing.T) {
	cfg := agentConfig()
	cfg.MaxIterations = 2

	// Never produces a final answer.
	model := &scriptedLLM{replies: []string{toolReply, toolReply, "partial summary"}}
	rt := NewRuntime(model, agentRegistry(t, nil, nil), nil, cfg)

	answer, err := rt.Run(context.Background(), "c1", "task")
	require.NoError(t, err)
	assert.True(t, answer.Truncated)
	assert.Equal(t, 2, answer.Iterations)
	assert.Equal(t, "partial summary", answer.Text)
}

func TestValidatedToolRejection(t *testing.T) {
	var mutations int
	reply := `<response><tool_calls><tool_call>
		<tool_name>mutate_notes</tool_name>
		<arguments><action>delete</action></arguments>
	</tool_call></tool_calls></response>`

	model := &scriptedLLM{replies: []string{reply, finalReply}}
	rt := NewRuntime(model, agentRegistry(t, nil, &mutations), nil, agentConfig())
	rt.SetApprover(denyAll{})

	answer, err := rt.Run(context.Background(), "c1", "task")
	require.NoError(t, err)
	assert.Equal(t, 0, mutations, "rejected tool must not run")

	// The rejection was fed back as an observation.
	assert.Contains(t, model.prompts[1], "rejected by the user")
	assert.NotEmpty(t, answer.Text)
}

func TestParallelDispatchForReadOnlyTools(t *testing.T) {
	var mu sync.Mutex
	var running, peak int

	r := tools.NewRegistry()
	require.NoError(t, r.Register(&tools.Tool{
		Descriptor: tools.Descriptor{Name: "slow_read", ReadOnly: true,
			Args: []tools.Arg{{Name: "id", Type: "string"}}},
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return "ok", nil
		},
	}))

	reply := `<response><tool_calls>
		<tool_call><tool_name>slow_read</tool_name><arguments><id>a</id></arguments></tool_call>
		<tool_call><tool_name>slow_read</tool_name><arguments><id>b</id></arguments></tool_call>
		<tool_call><tool_name>slow_read</tool_name><arguments><id>c</id></arguments></tool_call>
	</tool_calls></response>`

	model := &scriptedLLM{replies: []string{reply, finalReply2}}
	rt := NewRuntime(model, r, nil, agentConfig())

	_, err := rt.Run(context.Background(), "c1", "task")
	require.NoError(t, err)
	assert.Greater(t, peak, 1, "read-only calls should overlap")
}

const finalReply2 = `<response><final_answer><![CDATA[done]]></final_answer></response>`

// writeFlagRegistry declares a read-only tool whose "mutate" argument
// flips the call to a write.
func writeFlagRegistry(t *testing.T, runs *int, onRun func()) *tools.Registry {
	var mu sync.Mutex
	r := tools.NewRegistry()
	require.NoError(t, r.Register(&tools.Tool{
		Descriptor: tools.Descriptor{
			Name:      "run_query",
			ReadOnly:  true,
			WriteFlag: "mutate",
			Args: []tools.Arg{
				{Name: "query", Type: "string", Required: true},
				{Name: "mutate", Type: "boolean"},
			},
		},
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			mu.Lock()
			if runs != nil {
				*runs++
			}
			mu.Unlock()
			if onRun != nil {
				onRun()
			}
			return "ok", nil
		},
	}))
	return r
}

func TestWriteFlagRequiresApproval(t *testing.T) {
	var runs int
	mutating := `<response><tool_calls><tool_call>
		<tool_name>run_query</tool_name>
		<arguments><query>MERGE (n:Tag {name: 'x'})</query><mutate>true</mutate></arguments>
	</tool_call></tool_calls></response>`

	model := &scriptedLLM{replies: []string{mutating, finalReply2}}
	rt := NewRuntime(model, writeFlagRegistry(t, &runs, nil), nil, agentConfig())
	rt.SetApprover(denyAll{})

	_, err := rt.Run(context.Background(), "c1", "task")
	require.NoError(t, err)
	assert.Equal(t, 0, runs, "unapproved write must not run")
	assert.Contains(t, model.prompts[1], "rejected by the user")
}

func TestWriteFlagReadPathSkipsApproval(t *testing.T) {
	var runs int
	reading := `<response><tool_calls><tool_call>
		<tool_name>run_query</tool_name>
		<arguments><query>MATCH (n) RETURN count(n)</query></arguments>
	</tool_call></tool_calls></response>`

	model := &scriptedLLM{replies: []string{reading, finalReply2}}
	rt := NewRuntime(model, writeFlagRegistry(t, &runs, nil), nil, agentConfig())
	rt.SetApprover(denyAll{})

	_, err := rt.Run(context.Background(), "c1", "task")
	require.NoError(t, err)
	assert.Equal(t, 1, runs, "plain reads need no approval")
}

func TestWriteFlagForcesSerialDispatch(t *testing.T) {
	var mu sync.Mutex
	var running, peak int
	onRun := func() {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
	}

	reply := `<response><tool_calls>
		<tool_call><tool_name>run_query</tool_name><arguments><query>MATCH (a) RETURN a</query></arguments></tool_call>
		<tool_call><tool_name>run_query</tool_name><arguments><query>MERGE (b:Tag)</query><mutate>true</mutate></arguments></tool_call>
		<tool_call><tool_name>run_query</tool_name><arguments><query>MATCH (c) RETURN c</query></arguments></tool_call>
	</tool_calls></response>`

	model := &scriptedLLM{replies: []string{reply, finalReply2}}
	rt := NewRuntime(model, writeFlagRegistry(t, nil, onRun), nil, agentConfig())

	_, err := rt.Run(context.Background(), "c1", "task")
	require.NoError(t, err)
	assert.Equal(t, 1, peak, "a write in the batch must force serial execution")
}

func TestShouldSummarize(t *testing.T) {
	rt := NewRuntime(&scriptedLLM{}, tools.NewRegistry(), nil, agentConfig())

	assert.False(t, rt.shouldSummarize(3, 1024))
	assert.True(t, rt.shouldSummarize(11, 1024))
	assert.True(t, rt.shouldSummarize(3, 31*1024))
}

func TestCompressEvidenceKeepsTurns(t *testing.T) {
	cfg := agentConfig()
	model := &scriptedLLM{replies: []string{"compact summary"}}
	rt := NewRuntime(model, tools.NewRegistry(), nil, cfg)

	session := []Message{
		{Role: "user", Content: "task"},
		{Role: "assistant", Content: "<response>…</response>"},
		{Role: "tool", ToolName: "search_scopes", Content: "big result 1"},
		{Role: "tool", ToolName: "search_scopes", Content: "big result 2"},
	}
	out := rt.compressEvidence(context.Background(), "c1", "task", session)

	require.Len(t, out, 3)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "assistant", out[1].Role)
	assert.Equal(t, "evidence_summary", out[2].ToolName)
	assert.Equal(t, "compact summary", out[2].Content)
}

func TestPromptCarriesPersonaAndTools(t *testing.T) {
	cfg := agentConfig()
	registry := agentRegistry(t, nil, nil)
	prompt := buildSystemPrompt(cfg.Personas[0], registry)

	assert.Contains(t, prompt, "You are Forge")
	assert.Contains(t, prompt, "## search_scopes")
	assert.Contains(t, prompt, "requires user approval")
	assert.Contains(t, prompt, "<response>")
}
