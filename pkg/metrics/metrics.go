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

// Package metrics exposes Prometheus instruments for search and ingestion.
// Instruments are registered on a package registry; callers that want an
// exposition endpoint mount Handler themselves.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all ragforge instruments.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// SearchesTotal counts search requests by outcome (ok, degraded, failed).
	SearchesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragforge",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "Search requests by outcome.",
	}, []string{"outcome"})

	// IndexQueryFailures counts per-index query failures during fan-out.
	IndexQueryFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragforge",
		Subsystem: "search",
		Name:      "index_failures_total",
		Help:      "Index query failures during search fan-out.",
	}, []string{"index", "kind"})

	// SearchLatency observes end-to-end search latency in seconds.
	SearchLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ragforge",
		Subsystem: "search",
		Name:      "latency_seconds",
		Help:      "End-to-end search latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// DocumentsIngested counts source documents by disposition
	// (created, modified, deleted, skipped, failed).
	DocumentsIngested = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragforge",
		Subsystem: "ingest",
		Name:      "documents_total",
		Help:      "Documents processed by the ingestion engine.",
	}, []string{"disposition"})

	// IngestLatency observes per-source ingestion latency in seconds.
	IngestLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ragforge",
		Subsystem: "ingest",
		Name:      "latency_seconds",
		Help:      "Per-source ingestion latency.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// EmbeddingBatches counts embedding batch requests by provider and outcome.
	EmbeddingBatches = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragforge",
		Subsystem: "embed",
		Name:      "batches_total",
		Help:      "Embedding batch requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ProviderRetries counts rate-limit retries by provider.
	ProviderRetries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ragforge",
		Subsystem: "provider",
		Name:      "retries_total",
		Help:      "Rate-limit retries against embedding and LLM providers.",
	}, []string{"provider"})

	// AgentIterations observes reasoning iterations used per agent turn.
	AgentIterations = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ragforge",
		Subsystem: "agent",
		Name:      "iterations",
		Help:      "Reasoning iterations per agent turn.",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})
)

// Handler returns an HTTP handler serving the ragforge registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
