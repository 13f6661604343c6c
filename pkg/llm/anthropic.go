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
	"time"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/ratelimit"
)

const anthropicVersion = "2023-06-01"

// AnthropicLLM implements LLM on the Anthropic messages API.
type AnthropicLLM struct {
	client      *http.Client
	strategy    ratelimit.Strategy
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropic creates an Anthropic text-generation provider.
func NewAnthropic(cfg config.LLMConfig, strategy ratelimit.Strategy) (*AnthropicLLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the Anthropic provider")
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicLLM{
		client:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		strategy:    strategy,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Generate produces a completion for one prompt.
func (l *AnthropicLLM) Generate(ctx context.Context, prompt string, opts *Options) (string, error) {
	var text string
	err := l.strategy.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = l.doRequest(ctx, prompt, opts)
		return err
	})
	if err != nil {
		return "", &ProviderError{Provider: "anthropic", Operation: "generate", Err: err}
	}
	return text, nil
}

// GenerateParallel produces completions for many prompts concurrently.
func (l *AnthropicLLM) GenerateParallel(ctx context.Context, prompts []string, opts *Options) ([]string, error) {
	return generateParallel(ctx, prompts, opts, l.Generate)
}

func (l *AnthropicLLM) doRequest(ctx context.Context, prompt string, opts *Options) (string, error) {
	reqData := anthropicRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		Temperature: l.temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	if opts != nil {
		reqData.System = opts.System
		if opts.Temperature != nil {
			reqData.Temperature = *opts.Temperature
		}
		if opts.MaxTokens > 0 {
			reqData.MaxTokens = opts.MaxTokens
		}
	}

	body, err := json.Marshal(reqData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("messages request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &ratelimit.LimitedError{Provider: "anthropic", RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		var parsed anthropicResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			return "", fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("anthropic API error: status %d", resp.StatusCode)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("response contained no text block")
}

// Model returns the model name being used.
func (l *AnthropicLLM) Model() string { return l.model }

// Close releases resources.
func (l *AnthropicLLM) Close() error {
	l.client.CloseIdleConnections()
	return nil
}
