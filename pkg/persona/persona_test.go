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

package persona

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/llm"
)

// cannedLLM returns a fixed expansion.
type cannedLLM struct {
	reply string
	calls int
}

func (c *cannedLLM) Generate(ctx context.Context, prompt string, opts *llm.Options) (string, error) {
	c.calls++
	return c.reply, nil
}

func (c *cannedLLM) GenerateParallel(ctx context.Context, prompts []string, opts *llm.Options) ([]string, error) {
	out := make([]string, len(prompts))
	for i := range prompts {
		out[i] = c.reply
	}
	return out, nil
}

func (c *cannedLLM) Model() string { return "canned" }
func (c *cannedLLM) Close() error  { return nil }

func newTestStore(t *testing.T, model llm.LLM) *Store {
	cfg := config.Default()
	return NewStore(cfg, model)
}

func TestDefaultPersonaSeeded(t *testing.T) {
	s := newTestStore(t, nil)
	personas := s.List()
	require.Len(t, personas, 1)
	assert.Equal(t, "Forge", personas[0].Name)
	assert.True(t, personas[0].IsDefault)
	assert.Equal(t, personas[0].ID, s.Active().ID)
}

func TestCreateExpandsPersonaPrompt(t *testing.T) {
	model := &cannedLLM{reply: "You are Sage. You weigh evidence carefully and cite sources."}
	s := newTestStore(t, model)

	p, err := s.Create(context.Background(), "Sage", "magenta", "English", "a careful reviewer")
	require.NoError(t, err)
	assert.Equal(t, 1, model.calls)
	assert.Contains(t, p.Persona, "You are Sage")
	assert.NotEmpty(t, p.ID)
	require.Len(t, s.List(), 2)

	// Duplicate names are refused.
	_, err = s.Create(context.Background(), "sage", "red", "", "")
	assert.ErrorContains(t, err, "already exists")

	_, err = s.Create(context.Background(), "Other", "chartreuse", "", "")
	assert.ErrorContains(t, err, "invalid color")
}

func TestSetActiveByNameAndIndex(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Create(context.Background(), "Sage", "magenta", "English", "reviewer")
	require.NoError(t, err)

	p, err := s.SetActive("Sage")
	require.NoError(t, err)
	assert.Equal(t, "Sage", p.Name)
	assert.Equal(t, p.ID, s.Active().ID)

	p, err = s.SetActive("1")
	require.NoError(t, err)
	assert.Equal(t, "Forge", p.Name)

	_, err = s.SetActive("9")
	assert.ErrorContains(t, err, "out of range")
	_, err = s.SetActive("Nobody")
	assert.ErrorContains(t, err, `no persona named "Nobody"`)
}

func TestDeleteRefusesBuiltIn(t *testing.T) {
	s := newTestStore(t, nil)
	err := s.Delete("Forge")
	assert.ErrorContains(t, err, "built in")
}

func TestDeleteActivatesFallback(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Create(context.Background(), "Sage", "magenta", "English", "reviewer")
	require.NoError(t, err)
	_, err = s.SetActive("Sage")
	require.NoError(t, err)

	require.NoError(t, s.Delete("Sage"))
	assert.Equal(t, "Forge", s.Active().Name)
	assert.Len(t, s.List(), 1)
}

func TestCommandsDispatch(t *testing.T) {
	model := &cannedLLM{reply: "You are Sage."}
	s := newTestStore(t, model)
	var out bytes.Buffer
	cmds := NewCommands(s, &out)

	switched := 0
	cmds.OnSwitch(func() { switched++ })

	require.NoError(t, cmds.Dispatch(context.Background(), "/create-persona Sage | magenta | English | a careful reviewer"))
	require.NoError(t, cmds.Dispatch(context.Background(), "/set-persona Sage"))
	assert.Equal(t, 1, switched)
	assert.Equal(t, "Sage", s.Active().Name)

	out.Reset()
	require.NoError(t, cmds.Dispatch(context.Background(), "/personas"))
	listing := out.String()
	assert.Contains(t, listing, "Forge")
	assert.Contains(t, listing, "* 2.")

	out.Reset()
	require.NoError(t, cmds.Dispatch(context.Background(), "/bogus"))
	assert.Contains(t, out.String(), "Unknown command /bogus")
	assert.Contains(t, out.String(), "/set-persona")

	assert.True(t, IsCommand("/help"))
	assert.False(t, IsCommand("what does createClient do?"))
}

func TestCreatePersonaUsage(t *testing.T) {
	s := newTestStore(t, nil)
	var out bytes.Buffer
	cmds := NewCommands(s, &out)

	err := cmds.Dispatch(context.Background(), "/create-persona OnlyName")
	assert.ErrorContains(t, err, "usage: /create-persona")
}
