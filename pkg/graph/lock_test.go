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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestionLockWaitPassesWhenFree(t *testing.T) {
	l := NewIngestionLock(time.Second)
	require.NoError(t, l.Wait(context.Background()))
}

func TestIngestionLockReaderWaitsForWriter(t *testing.T) {
	l := NewIngestionLock(5 * time.Second)
	require.NoError(t, l.Acquire(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- l.Wait(context.Background())
	}()

	// Reader must not pass while the writer holds the lock.
	select {
	case err := <-done:
		t.Fatalf("reader passed while lock was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader did not wake after release")
	}
}

func TestIngestionLockReaderTimesOut(t *testing.T) {
	l := NewIngestionLock(50 * time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	err := l.Wait(context.Background())
	require.Error(t, err)

	var lte *LockTimeoutError
	require.True(t, errors.As(err, &lte))
	assert.Contains(t, err.Error(), "wait for ingestion to finish")
}

func TestIngestionLockSerialisesWriters(t *testing.T) {
	l := NewIngestionLock(time.Second)

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background()))
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			l.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "writers must be serialised")
}

func TestIngestionLockAcquireHonoursContext(t *testing.T) {
	l := NewIngestionLock(time.Second)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
