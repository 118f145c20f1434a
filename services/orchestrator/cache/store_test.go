// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("fever remedies", "graph", "diabetes")
	b := Fingerprint("fever remedies", "graph", "diabetes")
	assert.Equal(t, a, b, "fingerprint must be deterministic")
	assert.Len(t, a, 64)

	// Length prefixing keeps part boundaries unambiguous.
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("ab", "c"))
}

func TestSessionKey(t *testing.T) {
	key := SessionKey("550e8400-e29b-41d4-a716-446655440000", "deadbeef")
	assert.Equal(t, "sess:550e8400-e29b-41d4-a716-446655440000:deadbeef", key)
}

func TestCache_GetOrCompute_HitAndMiss(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	calls := 0

	fn := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("computed"), nil
	}

	value, cached, err := c.GetOrCompute(ctx, "k1", time.Minute, fn)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte("computed"), value)
	assert.Equal(t, 1, calls)

	value, cached, err = c.GetOrCompute(ctx, "k1", time.Minute, fn)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []byte("computed"), value)
	assert.Equal(t, 1, calls, "hit must not recompute")
}

func TestCache_GetOrCompute_ErrorNotCached(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()

	computeErr := errors.New("backend down")
	calls := 0
	fn := func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, computeErr
		}
		return []byte("ok"), nil
	}

	_, _, err := c.GetOrCompute(ctx, "k1", time.Minute, fn)
	assert.ErrorIs(t, err, computeErr)

	value, cached, err := c.GetOrCompute(ctx, "k1", time.Minute, fn)
	require.NoError(t, err)
	assert.False(t, cached, "failed compute must not have been cached")
	assert.Equal(t, []byte("ok"), value)
}

func TestCache_GetOrCompute_SingleFlight(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()

	var calls atomic.Int32
	gate := make(chan struct{})
	fn := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-gate
		return []byte("once"), nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, _, err := c.GetOrCompute(ctx, "shared", time.Minute, fn)
			require.NoError(t, err)
			results[i] = value
		}(i)
	}

	// Give the workers time to pile up on the same key.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2),
		"concurrent misses must collapse into at most a stragglers' handful of computes")
	for _, r := range results {
		assert.Equal(t, []byte("once"), r)
	}
}

func TestCache_GetOrCompute_TTLExpiry(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()
	calls := 0
	fn := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("v"), nil
	}

	_, _, err := c.GetOrCompute(ctx, "k", 10*time.Millisecond, fn)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, cached, err := c.GetOrCompute(ctx, "k", 10*time.Millisecond, fn)
	require.NoError(t, err)
	assert.False(t, cached, "expired entry must recompute")
	assert.Equal(t, 2, calls)
}

func TestCache_InvalidateSession(t *testing.T) {
	c := New(NewMemoryStore())
	ctx := context.Background()

	fn := func(ctx context.Context) ([]byte, error) { return []byte("v"), nil }

	_, _, err := c.GetOrCompute(ctx, SessionKey("s1", "fp1"), time.Minute, fn)
	require.NoError(t, err)
	_, _, err = c.GetOrCompute(ctx, SessionKey("s1", "fp2"), time.Minute, fn)
	require.NoError(t, err)
	_, _, err = c.GetOrCompute(ctx, SessionKey("s2", "fp1"), time.Minute, fn)
	require.NoError(t, err)

	c.InvalidateSession(ctx, "s1")

	_, cached, _ := c.GetOrCompute(ctx, SessionKey("s1", "fp1"), time.Minute, fn)
	assert.False(t, cached, "s1 entries must be gone")
	_, cached, _ = c.GetOrCompute(ctx, SessionKey("s2", "fp1"), time.Minute, fn)
	assert.True(t, cached, "s2 entries must survive")
}

// A broken store degrades to direct compute instead of failing.
func TestCache_DegradesOnStoreFailure(t *testing.T) {
	c := New(&failingStore{})
	ctx := context.Background()

	value, cached, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) ([]byte, error) {
		return []byte("direct"), nil
	})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, []byte("direct"), value)
}

type failingStore struct{}

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store broken")
}
func (f *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("store broken")
}
func (f *failingStore) Delete(context.Context, string) error { return errors.New("store broken") }
func (f *failingStore) DeletePrefix(context.Context, string) (int, error) {
	return 0, errors.New("store broken")
}
func (f *failingStore) Name() string { return "failing" }
func (f *failingStore) Close() error { return nil }
