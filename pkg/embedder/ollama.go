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

package embedder

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

// OllamaEmbedder implements Embedder on a local Ollama instance.
type OllamaEmbedder struct {
	client    *http.Client
	strategy  ratelimit.Strategy
	baseURL   string
	model     string
	dimension int
	batchSize int
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllama creates an Ollama embedder.
func NewOllama(cfg config.EmbedderConfig, strategy ratelimit.Strategy) (*OllamaEmbedder, error) {
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 768 // nomic-embed-text
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaEmbedder{
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		strategy:  strategy,
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		batchSize: cfg.BatchSize,
	}, nil
}

// Embed converts one text to a vector embedding.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts multiple texts to vector embeddings.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return embedBatched(ctx, "ollama", e.batchSize, texts, e.requestBatch)
}

func (e *OllamaEmbedder) requestBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	err := e.strategy.Execute(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = e.doRequest(ctx, batch)
		return err
	})
	return vectors, err
}

func (e *OllamaEmbedder) doRequest(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed (is Ollama running at %s?): %w", e.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &ratelimit.LimitedError{Provider: "ollama", RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama API error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Embeddings) != len(batch) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(parsed.Embeddings))
	}

	return parsed.Embeddings, nil
}

// Dimension returns the embedding vector dimension.
func (e *OllamaEmbedder) Dimension() int { return e.dimension }

// Model returns the model name being used.
func (e *OllamaEmbedder) Model() string { return e.model }

// Close releases resources.
func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
