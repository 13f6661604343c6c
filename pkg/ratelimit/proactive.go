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
	"sync"
	"time"

	"github.com/ragforge/ragforge/pkg/config"
)

// Proactive is a sliding-window limiter: at most rpm request starts per
// minute. Execute blocks until a slot frees.
type Proactive struct {
	rpm    int
	window time.Duration

	mu     sync.Mutex
	starts []time.Time
}

// NewProactive creates a proactive limiter with the given requests/minute.
func NewProactive(rpm int) *Proactive {
	if rpm <= 0 {
		rpm = 60
	}
	return &Proactive{rpm: rpm, window: time.Minute}
}

// Name returns the strategy name.
func (p *Proactive) Name() string { return config.RateLimitProactive }

// Execute blocks until a window slot is free, then runs fn once.
func (p *Proactive) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		wait := p.reserve()
		if wait == 0 {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fn(ctx)
}

// reserve records a request start if a slot is free, otherwise returns how
// long until the oldest start leaves the window.
func (p *Proactive) reserve() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-p.window)

	// Drop starts that left the window.
	kept := p.starts[:0]
	for _, t := range p.starts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.starts = kept

	if len(p.starts) < p.rpm {
		p.starts = append(p.starts, now)
		return 0
	}

	return p.starts[0].Sub(cutoff)
}
