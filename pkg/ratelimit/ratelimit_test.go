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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneRunsOnce(t *testing.T) {
	calls := 0
	err := None{}.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestReactiveDoesNotRetryHardErrors(t *testing.T) {
	r := NewReactive(ReactiveConfig{BaseBackoff: time.Millisecond})
	calls := 0
	hard := errors.New("boom")
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return hard
	})
	require.ErrorIs(t, err, hard)
	assert.Equal(t, 1, calls)
}

func TestReactiveRetriesUntilSuccess(t *testing.T) {
	r := NewReactive(ReactiveConfig{
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MinInflightAge: time.Millisecond,
	})
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &LimitedError{Provider: "test"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestReactiveExhaustsBudget(t *testing.T) {
	r := NewReactive(ReactiveConfig{
		MaxRetries:     2,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MinInflightAge: time.Millisecond,
	})
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		return &LimitedError{Provider: "test"}
	})
	require.Error(t, err)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 3, ex.Attempts)
	assert.True(t, IsLimited(err), "exhausted error should still unwrap to the 429")
}

func TestProactiveBlocksWhenWindowFull(t *testing.T) {
	p := NewProactive(2)
	p.window = 100 * time.Millisecond

	run := func() error {
		return p.Execute(context.Background(), func(ctx context.Context) error { return nil })
	}

	start := time.Now()
	require.NoError(t, run())
	require.NoError(t, run())
	require.NoError(t, run()) // third call must wait for a slot
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond,
		"third request should have waited for the window")
}

func TestProactiveHonoursContext(t *testing.T) {
	p := NewProactive(1)
	require.NoError(t, p.Execute(context.Background(), func(ctx context.Context) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Execute(ctx, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSelectsStrategy(t *testing.T) {
	s, err := New("reactive", 0)
	require.NoError(t, err)
	assert.Equal(t, "reactive", s.Name())

	s, err = New("proactive", 10)
	require.NoError(t, err)
	assert.Equal(t, "proactive", s.Name())

	s, err = New("none", 0)
	require.NoError(t, err)
	assert.Equal(t, "none", s.Name())

	_, err = New("bogus", 0)
	require.Error(t, err)
}
