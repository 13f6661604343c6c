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

// Package llm provides text-generation providers behind a single interface.
package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/ratelimit"
)

// Options tunes a single generation call. A nil Options uses the provider
// configuration as-is.
type Options struct {
	// System prompt prepended to the conversation.
	System string

	// Temperature override.
	Temperature *float64

	// MaxTokens override.
	MaxTokens int
}

// LLM generates text from prompts.
type LLM interface {
	// Generate produces a completion for one prompt.
	Generate(ctx context.Context, prompt string, opts *Options) (string, error)

	// GenerateParallel produces completions for many prompts concurrently.
	// Results are index-aligned with prompts; the first error cancels the rest.
	GenerateParallel(ctx context.Context, prompts []string, opts *Options) ([]string, error)

	// Model returns the model name being used.
	Model() string

	// Close releases any resources held by the provider.
	Close() error
}

// ProviderError reports a provider failure after the retry budget.
type ProviderError struct {
	Provider  string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("generation failed [%s/%s]: %v", e.Provider, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// New builds an LLM from config, wiring in the rate-limit strategy.
func New(cfg config.LLMConfig) (LLM, error) {
	strategy, err := ratelimit.New(cfg.RateLimit, cfg.RequestsPerMinute)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg, strategy)
	case "anthropic":
		return NewAnthropic(cfg, strategy)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// maxParallelGenerations bounds concurrent requests per GenerateParallel call.
const maxParallelGenerations = 4

// generateParallel fans out generateFn over prompts with bounded concurrency.
func generateParallel(ctx context.Context, prompts []string, opts *Options,
	generateFn func(ctx context.Context, prompt string, opts *Options) (string, error)) ([]string, error) {

	out := make([]string, len(prompts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelGenerations)

	for i, prompt := range prompts {
		g.Go(func() error {
			text, err := generateFn(ctx, prompt, opts)
			if err != nil {
				return err
			}
			out[i] = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
