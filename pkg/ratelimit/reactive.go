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

package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ragforge/ragforge/pkg/config"
)

// ReactiveConfig tunes the reactive strategy.
type ReactiveConfig struct {
	// MaxRetries before surfacing ExhaustedError (default 5).
	MaxRetries int

	// MinInflightAge: on 429, wait until the oldest in-flight request is
	// at least this old before retrying (default 60s).
	MinInflightAge time.Duration

	// BaseBackoff is the first retry delay (default 1s).
	BaseBackoff time.Duration

	// MaxBackoff caps exponential growth (default 30s).
	MaxBackoff time.Duration
}

// Reactive launches requests in parallel and reacts to 429s: it waits out
// the oldest in-flight request, then retries with capped exponential backoff.
type Reactive struct {
	cfg ReactiveConfig

	mu       sync.Mutex
	inflight map[int64]time.Time
	nextID   int64
}

// NewReactive creates a reactive strategy.
func NewReactive(cfg ReactiveConfig) *Reactive {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.MinInflightAge <= 0 {
		cfg.MinInflightAge = 60 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Reactive{
		cfg:      cfg,
		inflight: make(map[int64]time.Time),
	}
}

// Name returns the strategy name.
func (r *Reactive) Name() string { return config.RateLimitReactive }

// Execute runs fn, retrying on 429 per the reactive policy.
func (r *Reactive) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	id := r.track()
	defer r.untrack(id)

	backoff := r.cfg.BaseBackoff
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil || !IsLimited(err) {
			return err
		}
		lastErr = err

		// Let the oldest in-flight request age out before hammering again.
		if wait := r.oldestInflightWait(id); wait > 0 {
			slog.Debug("Rate limited, waiting for oldest in-flight request",
				"wait", wait, "attempt", attempt+1)
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}

		slog.Warn("Rate limited, backing off", "backoff", backoff, "attempt", attempt+1)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}

		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}

	return &ExhaustedError{Provider: "reactive", Attempts: r.cfg.MaxRetries + 1, Err: lastErr}
}

func (r *Reactive) track() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.inflight[id] = time.Now()
	return id
}

func (r *Reactive) untrack(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

// oldestInflightWait returns how long until the oldest in-flight request
// (other than the caller's own) reaches MinInflightAge.
func (r *Reactive) oldestInflightWait(self int64) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest time.Time
	for id, started := range r.inflight {
		if id == self {
			continue
		}
		if oldest.IsZero() || started.Before(oldest) {
			oldest = started
		}
	}
	if oldest.IsZero() {
		return 0
	}

	age := time.Since(oldest)
	if age >= r.cfg.MinInflightAge {
		return 0
	}
	return r.cfg.MinInflightAge - age
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
