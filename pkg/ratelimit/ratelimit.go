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

// Package ratelimit implements the throttling strategies shared by the
// embedding and LLM providers: reactive (retry on 429), proactive
// (sliding-window RPM) and none.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ragforge/ragforge/pkg/config"
)

// LimitedError signals a provider 429. Providers return it so strategies
// can distinguish throttling from hard failures.
type LimitedError struct {
	Provider   string
	RetryAfter time.Duration // Zero when the provider gave no hint
}

// Error implements the error interface.
func (e *LimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited (retry after %s)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// ExhaustedError is surfaced after a strategy's retry budget runs out.
type ExhaustedError struct {
	Provider string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s still rate limited after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsLimited reports whether err is a provider 429.
func IsLimited(err error) bool {
	var le *LimitedError
	return errors.As(err, &le)
}

// Strategy wraps provider calls with a limiting policy.
type Strategy interface {
	// Execute runs fn under the strategy. fn may be retried; it must be
	// safe to call more than once.
	Execute(ctx context.Context, fn func(ctx context.Context) error) error

	// Name returns the strategy name.
	Name() string
}

// New builds a strategy from its config name.
func New(name string, requestsPerMinute int) (Strategy, error) {
	switch name {
	case config.RateLimitReactive:
		return NewReactive(ReactiveConfig{}), nil
	case config.RateLimitProactive:
		return NewProactive(requestsPerMinute), nil
	case config.RateLimitNone, "":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit strategy %q", name)
	}
}

// None applies no limiting.
type None struct{}

// Execute runs fn directly.
func (None) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Name returns the strategy name.
func (None) Name() string { return config.RateLimitNone }
