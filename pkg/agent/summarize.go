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
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/ragforge/ragforge/pkg/llm"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenCount estimates the token size of text. Falls back to a bytes/4
// heuristic if the encoding cannot be loaded.
func tokenCount(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("Token encoding unavailable, estimating by bytes", "error", err)
			return
		}
		encoding = enc
	})
	if encoding == nil {
		return len(text) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// shouldSummarize reports whether accumulated evidence crossed the
// configured thresholds.
func (r *Runtime) shouldSummarize(resultCount, payloadBytes int) bool {
	return resultCount > r.cfg.SummarizeAboveResults || payloadBytes > r.cfg.SummarizeAboveBytes
}

// summarize compresses tool evidence so the next iteration fits the
// context window. On failure the evidence is passed through truncated.
func (r *Runtime) summarize(ctx context.Context, task string, evidence []string) string {
	joined := strings.Join(evidence, "\n\n")
	slog.Info("Summarizing evidence",
		"results", len(evidence), "bytes", len(joined), "tokens", tokenCount(joined))

	prompt := fmt.Sprintf(`Summarize the following tool results so they can be used to answer the task.
Keep every identifier, path, score, and fact that bears on the task. Drop boilerplate and repetition.

Task: %s

Tool results:
%s`, task, joined)

	summary, err := r.llm.Generate(ctx, prompt, &llm.Options{MaxTokens: 2048})
	if err != nil {
		slog.Warn("Evidence summarization failed, truncating instead", "error", err)
		if len(joined) > r.cfg.SummarizeAboveBytes {
			return joined[:r.cfg.SummarizeAboveBytes] + "\n[evidence truncated]"
		}
		return joined
	}
	return summary
}
