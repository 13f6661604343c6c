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

// Package embedder provides batched text-to-vector embedding services.
package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/ratelimit"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// Embed converts one text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to vector embeddings.
	// More efficient than calling Embed repeatedly; falls back to single
	// requests when a batch fails.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the model name being used.
	Model() string

	// Close releases any resources held by the embedder.
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
	return fmt.Sprintf("embedding failed [%s/%s]: %v", e.Provider, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// New builds an embedder from config, wiring in the rate-limit strategy.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	strategy, err := ratelimit.New(cfg.RateLimit, cfg.RequestsPerMinute)
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg, strategy)
	case "ollama":
		return NewOllama(cfg, strategy)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}

// embedBatched splits texts into batches of batchSize and calls embedFn per
// batch, falling back to one-text batches when a full batch fails.
func embedBatched(ctx context.Context, provider string, batchSize int, texts []string,
	embedFn func(ctx context.Context, batch []string) ([][]float32, error)) ([][]float32, error) {

	if batchSize <= 0 {
		batchSize = 16
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := embedFn(ctx, batch)
		if err == nil {
			out = append(out, vectors...)
			continue
		}
		if len(batch) == 1 {
			return nil, &ProviderError{Provider: provider, Operation: "embed", Err: err}
		}

		slog.Warn("Batch embedding failed, falling back to single requests",
			"provider", provider, "batch_size", len(batch), "error", err)

		for _, text := range batch {
			vectors, err := embedFn(ctx, []string{text})
			if err != nil {
				return nil, &ProviderError{Provider: provider, Operation: "embed", Err: err}
			}
			out = append(out, vectors...)
		}
	}

	return out, nil
}
