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

package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IngestionLock serialises ingestion runs against each other and lets
// readers (search, raw cypher) wait for an active run to finish.
//
// Writers hold the lock exclusively for the duration of an ingestion batch.
// Readers never hold it; Wait returns as soon as no writer is active, or
// fails with LockTimeoutError after the configured window.
type IngestionLock struct {
	mu       sync.Mutex
	held     bool
	released chan struct{}
	timeout  time.Duration
}

// NewIngestionLock creates a lock with the given reader-wait timeout.
// A zero timeout defaults to 30 seconds.
func NewIngestionLock(timeout time.Duration) *IngestionLock {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IngestionLock{timeout: timeout}
}

// Acquire takes the lock exclusively, blocking until any current holder
// releases it or ctx is done.
func (l *IngestionLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	for l.held {
		ch := l.released
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		l.mu.Lock()
	}
	l.held = true
	l.released = make(chan struct{})
	l.mu.Unlock()
	return nil
}

// Release frees the lock and wakes all waiters.
func (l *IngestionLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false
	close(l.released)
}

// Held reports whether an ingestion run is currently active.
func (l *IngestionLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Wait blocks until no writer is active, up to the configured timeout.
// It does not take the lock; a reader that proceeds after Wait may overlap
// a later writer, which is safe because writes are content-hash gated.
func (l *IngestionLock) Wait(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return nil
	}
	ch := l.released
	l.mu.Unlock()

	slog.Warn("Ingestion in progress, waiting for the ingestion lock", "timeout", l.timeout)

	start := time.Now()
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &LockTimeoutError{Waited: time.Since(start).Round(time.Millisecond).String()}
	}
}
