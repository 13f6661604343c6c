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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/ragforge/pkg/config"
	"github.com/ragforge/ragforge/pkg/ratelimit"
)

func openAIServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIEmbedder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e, err := NewOpenAI(config.EmbedderConfig{
		Provider:  "openai",
		APIKey:    "test-key",
		Host:      srv.URL,
		BatchSize: 4,
	}, ratelimit.None{})
	require.NoError(t, err)
	return srv, e
}

func TestOpenAIEmbedBatchOrdersByIndex(t *testing.T) {
	_, e := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Respond in reverse order; the client must restore it.
		resp := openAIEmbedResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i)}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	})

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0])
	}
}

func TestOpenAIRateLimitSurfacesLimitedError(t *testing.T) {
	_, e := openAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := e.doRequest(context.Background(), []string{"a"})
	require.Error(t, err)

	var limited *ratelimit.LimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, "openai", limited.Provider)
	assert.Equal(t, 7, int(limited.RetryAfter.Seconds()))
}

func TestOpenAIDefaultDimensions(t *testing.T) {
	small, err := NewOpenAI(config.EmbedderConfig{APIKey: "k"}, ratelimit.None{})
	require.NoError(t, err)
	assert.Equal(t, 1536, small.Dimension())
	assert.Equal(t, "text-embedding-3-small", small.Model())

	large, err := NewOpenAI(config.EmbedderConfig{APIKey: "k", Model: "text-embedding-3-large"}, ratelimit.None{})
	require.NoError(t, err)
	assert.Equal(t, 3072, large.Dimension())
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAI(config.EmbedderConfig{}, ratelimit.None{})
	require.Error(t, err)
}

func TestOllamaEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{1, 2, 3})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, err := NewOllama(config.EmbedderConfig{Provider: "ollama", Host: srv.URL, BatchSize: 2}, ratelimit.None{})
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimension())

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1, 2, 3}, vectors[0])
}

func TestEmbedBatchedFallsBackToSingles(t *testing.T) {
	var batches [][]string
	embedFn := func(ctx context.Context, batch []string) ([][]float32, error) {
		batches = append(batches, batch)
		if len(batch) > 1 {
			return nil, fmt.Errorf("batch too large")
		}
		return [][]float32{{1}}, nil
	}

	vectors, err := embedBatched(context.Background(), "test", 3, []string{"a", "b", "c"}, embedFn)
	require.NoError(t, err)
	assert.Len(t, vectors, 3)

	// One failed batch of 3, then three singles.
	require.Len(t, batches, 4)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 1)
}

func TestEmbedBatchedSingleFailureIsProviderError(t *testing.T) {
	embedFn := func(ctx context.Context, batch []string) ([][]float32, error) {
		return nil, fmt.Errorf("dead provider")
	}

	_, err := embedBatched(context.Background(), "test", 2, []string{"a"}, embedFn)
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "test", pe.Provider)
}

func TestNewSelectsProvider(t *testing.T) {
	e, err := New(config.EmbedderConfig{Provider: "ollama", RateLimit: "none"})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", e.Model())

	_, err = New(config.EmbedderConfig{Provider: "bogus", RateLimit: "none"})
	require.Error(t, err)
}
