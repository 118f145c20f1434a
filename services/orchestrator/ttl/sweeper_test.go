// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SehatAI/SehatOSS/services/orchestrator/cache"
)

func TestNewSweeper_PanicsOnNilStore(t *testing.T) {
	assert.Panics(t, func() {
		NewSweeper(nil, nil, SweeperConfig{})
	})
}

func TestNewSweeper_AppliesDefaults(t *testing.T) {
	s := NewSweeper(cache.NewMemoryStore(), nil, SweeperConfig{})
	assert.Equal(t, DefaultSweeperConfig().Interval, s.config.Interval)
	assert.Equal(t, DefaultSweeperConfig().BatchLimit, s.config.BatchLimit)
}

func TestSweeper_RunNowEvictsExpiredEntries(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "stale-1", []byte("a"), time.Nanosecond))
	require.NoError(t, store.Set(ctx, "stale-2", []byte("b"), time.Nanosecond))
	require.NoError(t, store.Set(ctx, "fresh", []byte("c"), time.Hour))
	time.Sleep(5 * time.Millisecond)

	sweeper := NewSweeper(store, nil, SweeperConfig{Interval: time.Hour, BatchLimit: 10})
	swept, err := sweeper.RunNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, swept)
	assert.Equal(t, 1, store.Len())
}

func TestSweeper_RunNowWritesAuditRecord(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "stale", []byte("a"), time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	log, err := NewAuditLog(filepath.Join(t.TempDir(), "sweeps.jsonl"))
	require.NoError(t, err)

	sweeper := NewSweeper(store, log, SweeperConfig{Interval: time.Hour, BatchLimit: 10})
	_, err = sweeper.RunNow(ctx)
	require.NoError(t, err)

	count, err := log.Verify()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSweeper_StartStop(t *testing.T) {
	store := cache.NewMemoryStore()
	sweeper := NewSweeper(store, nil, SweeperConfig{Interval: 10 * time.Millisecond, BatchLimit: 10})

	ctx := context.Background()
	require.NoError(t, sweeper.Start(ctx))
	assert.Error(t, sweeper.Start(ctx), "second Start while running must fail")

	require.NoError(t, store.Set(ctx, "stale", []byte("a"), time.Nanosecond))
	time.Sleep(50 * time.Millisecond)

	sweeper.Stop()
	assert.Zero(t, store.Len(), "background loop swept the expired entry")

	sweeper.Stop() // safe when already stopped

	require.NoError(t, sweeper.Start(ctx), "restart after Stop")
	sweeper.Stop()
}

func TestSweeper_BatchLimitRespected(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Set(ctx, string(rune('a'+i)), []byte("x"), time.Nanosecond))
	}
	time.Sleep(5 * time.Millisecond)

	sweeper := NewSweeper(store, nil, SweeperConfig{Interval: time.Hour, BatchLimit: 4})
	swept, err := sweeper.RunNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, swept)
	assert.Equal(t, 6, store.Len())
}
