// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// SweeperConfig controls the background sweep loop.
type SweeperConfig struct {
	// Interval between sweep cycles.
	Interval time.Duration

	// BatchLimit caps how many expired entries one cycle removes, so
	// a huge backlog cannot hold the store's write lock for long.
	BatchLimit int
}

// DefaultSweeperConfig returns production defaults: sweep every five
// minutes, at most a thousand evictions per cycle.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   5 * time.Minute,
		BatchLimit: 1000,
	}
}

// =============================================================================
// Sweeper
// =============================================================================

// Sweepable is the store-side surface the sweeper needs. The memory
// cache driver implements it; the redis and badger drivers expire
// entries natively and need no sweeping.
type Sweepable interface {
	// Sweep removes up to limit expired entries and reports how many
	// went.
	Sweep(limit int) int

	// Len is the current entry count.
	Len() int
}

// Sweeper periodically expires stale cache entries and writes each
// cycle to the hash-chained audit log.
//
// # Description
//
// Lifecycle is Start/Stop with an optional RunNow for operational
// use. Start is idempotent-hostile on purpose: a second Start while
// running is an error, not a second goroutine.
//
// # Thread Safety
//
// Safe for concurrent use.
type Sweeper struct {
	store  Sweepable
	log    *AuditLog
	config SweeperConfig

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewSweeper creates a sweeper. The audit log may be nil; cycles are
// then slog-only.
func NewSweeper(store Sweepable, log *AuditLog, config SweeperConfig) *Sweeper {
	if store == nil {
		panic("ttl: store must not be nil")
	}
	defaults := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchLimit < 1 {
		config.BatchLimit = defaults.BatchLimit
	}
	return &Sweeper{store: store, log: log, config: config}
}

// Start launches the background loop. Errors if already running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run(ctx, s.done, s.stopped)
	slog.Info("Cache sweeper started",
		"interval", s.config.Interval, "batch_limit", s.config.BatchLimit)
	return nil
}

// Stop halts the loop and waits for the in-flight cycle to finish.
// Safe to call when not running.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	slog.Info("Cache sweeper stopped")
}

// RunNow executes one sweep cycle synchronously, independent of the
// background loop. Returns how many entries were removed.
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	return s.sweepOnce(ctx)
}

func (s *Sweeper) run(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.sweepOnce(ctx); err != nil {
				slog.Error("Cache sweep cycle failed", "error", err)
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweepOnce(_ context.Context) (int, error) {
	start := time.Now()
	swept := s.store.Sweep(s.config.BatchLimit)
	remaining := s.store.Len()

	slog.Debug("Cache sweep cycle complete",
		"swept", swept, "remaining", remaining, "elapsed", time.Since(start))

	if s.log == nil {
		return swept, nil
	}
	if _, err := s.log.Append(swept, remaining); err != nil {
		return swept, fmt.Errorf("audit append failed: %w", err)
	}
	return swept, nil
}
