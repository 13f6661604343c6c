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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/ratelimit"
)

// OpenAILLM implements LLM on the OpenAI chat completions API.
type OpenAILLM struct {
	client      *http.Client
	strategy    ratelimit.Strategy
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAI creates an OpenAI text-generation provider.
func NewOpenAI(cfg config.LLMConfig, strategy ratelimit.Strategy) (*OpenAILLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the OpenAI provider")
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAILLM{
		client:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		strategy:    strategy,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate produces a completion for one prompt.
func (l *OpenAILLM) Generate(ctx context.Context, prompt string, opts *Options) (string, error) {
	var text string
	err := l.strategy.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = l.doRequest(ctx, prompt, opts)
		return err
	})
	if err != nil {
		return "", &ProviderError{Provider: "openai", Operation: "generate", Err: err}
	}
	return text, nil
}

// GenerateParallel produces completions for many prompts concurrently.
func (l *OpenAILLM) GenerateParallel(ctx context.Context, prompts []string, opts *Options) ([]string, error) {
	return generateParallel(ctx, prompts, opts, l.Generate)
}

func (l *OpenAILLM) doRequest(ctx context.Context, prompt string, opts *Options) (string, error) {
	temperature := l.temperature
	maxTokens := l.maxTokens
	var messages []openAIMessage
	if opts != nil {
		if opts.System != "" {
			messages = append(messages, openAIMessage{Role: "system", Content: opts.System})
		}
		if opts.Temperature != nil {
			temperature = *opts.Temperature
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
	}
	messages = append(messages, openAIMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(openAIChatRequest{
		Model:       l.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &ratelimit.LimitedError{Provider: "openai", RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		var parsed openAIChatResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			return "", fmt.Errorf("openai API error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("openai API error: status %d", resp.StatusCode)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Model returns the model name being used.
func (l *OpenAILLM) Model() string { return l.model }

// Close releases resources.
func (l *OpenAILLM) Close() error {
	l.client.CloseIdleConnections()
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
