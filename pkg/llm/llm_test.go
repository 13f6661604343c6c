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

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/ratelimit"
)

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, "hello", req.Messages[1].Content)

		json.NewEncoder(w).Encode(openAIChatResponse{
			Choices: []struct {
				Message openAIMessage `json:"message"`
			}{{Message: openAIMessage{Role: "assistant", Content: "hi"}}},
		})
	}))
	defer srv.Close()

	l, err := NewOpenAI(config.LLMConfig{APIKey: "test-key", Host: srv.URL}, ratelimit.None{})
	require.NoError(t, err)

	text, err := l.Generate(context.Background(), "hello", &Options{System: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Messages[0].Content)

		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}{{Type: "text", Text: "hi"}},
		})
	}))
	defer srv.Close()

	l, err := NewAnthropic(config.LLMConfig{APIKey: "test-key", Host: srv.URL}, ratelimit.None{})
	require.NoError(t, err)

	text, err := l.Generate(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestGenerateFailureWrapsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	l, err := NewOpenAI(config.LLMConfig{APIKey: "k", Host: srv.URL}, ratelimit.None{})
	require.NoError(t, err)

	_, err = l.Generate(context.Background(), "hello", nil)
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "openai", pe.Provider)
}

func TestGenerateParallelAlignsResults(t *testing.T) {
	generateFn := func(ctx context.Context, prompt string, opts *Options) (string, error) {
		return "echo:" + prompt, nil
	}

	out, err := generateParallel(context.Background(), []string{"a", "b", "c"}, nil, generateFn)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo:a", "echo:b", "echo:c"}, out)
}

func TestGenerateParallelStopsOnError(t *testing.T) {
	var calls atomic.Int32
	generateFn := func(ctx context.Context, prompt string, opts *Options) (string, error) {
		calls.Add(1)
		if prompt == "bad" {
			return "", fmt.Errorf("boom")
		}
		return prompt, nil
	}

	_, err := generateParallel(context.Background(), []string{"a", "bad", "c"}, nil, generateFn)
	require.Error(t, err)
}

func TestNewSelectsProvider(t *testing.T) {
	l, err := New(config.LLMConfig{Provider: "anthropic", APIKey: "k", RateLimit: "none"})
	require.NoError(t, err)
	assert.Contains(t, l.Model(), "claude")

	_, err = New(config.LLMConfig{Provider: "bogus", APIKey: "k", RateLimit: "none"})
	require.Error(t, err)
}
