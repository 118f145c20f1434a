// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the retrieval-context cache: fingerprint
// keys, pluggable drivers, and compute-once semantics.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/SehatAI/SehatOSS/services/orchestrator/observability"
	"golang.org/x/sync/singleflight"
)

// Store is a byte-value cache driver.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the cached value and whether it was present and
	// unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key. Missing keys are not errors.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix and
	// returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Name identifies the driver for logs and metrics.
	Name() string

	// Close releases driver resources.
	Close() error
}

// sessionKeyPrefix namespaces per-session cache entries so a session's
// entries can be invalidated by prefix.
const sessionKeyPrefix = "sess:"

// Fingerprint returns a SHA-256 hex digest over length-prefixed parts.
//
// # Description
//
// Length prefixing makes the digest unambiguous: ("ab", "c") and
// ("a", "bc") produce different keys. Callers build fingerprints from
// the query, the route flags, and the profile facts that feed
// retrieval (conditions, city, language).
func Fingerprint(parts ...string) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
		h.Write(lenBuf[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SessionKey builds a session-tagged cache key so InvalidateSession
// can remove all of a session's entries.
func SessionKey(sessionID, fingerprint string) string {
	return sessionKeyPrefix + sessionID + ":" + fingerprint
}

// Cache wraps a Store with compute-once semantics and silent
// degradation.
//
// # Description
//
// Store failures never fail a request: a broken driver degrades to
// direct compute with a logged warning. Concurrent misses on the same
// key collapse into one compute via singleflight.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	store Store
	group singleflight.Group
}

// New wraps a store. The store must not be nil; use the memory driver
// when nothing else is configured.
func New(store Store) *Cache {
	if store == nil {
		panic("cache: store must not be nil")
	}
	return &Cache{store: store}
}

// Driver returns the underlying driver name.
func (c *Cache) Driver() string {
	return c.store.Name()
}

// Underlying exposes the driver for maintenance wiring. The memory
// driver needs an external sweeper; redis and badger expire entries
// natively.
func (c *Cache) Underlying() Store {
	return c.store
}

// GetOrCompute returns the cached bytes for key, or computes them.
//
// # Description
//
// On a hit, returns the cached bytes and true. On a miss, runs fn
// exactly once per in-flight key, stores the result with ttl, and
// returns the computed bytes and false. Store read/write failures log
// and degrade to direct compute. fn's own error is returned as-is and
// never cached.
//
// Transparency invariant: for a given key, a cached result is
// byte-identical to what fn would have returned.
//
// # Inputs
//
//   - ctx: Context passed through to the store and fn.
//   - key: The cache key (usually SessionKey(...)).
//   - ttl: Entry lifetime; expiry silently recomputes.
//   - fn: The computation to run on a miss.
//
// # Outputs
//
//   - []byte: The cached or computed value.
//   - bool: True when served from cache.
//   - error: fn's error, verbatim, on compute failure.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration,
	fn func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {

	metrics := observability.DefaultMetrics

	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("Cache read failed, computing directly",
			"driver", c.store.Name(), "error", err)
		if metrics != nil {
			metrics.RecordCacheOp(c.store.Name(), "degraded")
		}
		computed, cerr := fn(ctx)
		return computed, false, cerr
	}
	if found {
		if metrics != nil {
			metrics.RecordCacheOp(c.store.Name(), "hit")
		}
		return value, true, nil
	}

	if metrics != nil {
		metrics.RecordCacheOp(c.store.Name(), "miss")
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		computed, cerr := fn(ctx)
		if cerr != nil {
			return nil, cerr
		}
		if serr := c.store.Set(ctx, key, computed, ttl); serr != nil {
			slog.Warn("Cache write failed, serving computed value",
				"driver", c.store.Name(), "error", serr)
			if metrics != nil {
				metrics.RecordCacheOp(c.store.Name(), "degraded")
			}
		}
		return computed, nil
	})
	if err != nil {
		return nil, false, err
	}

	bytes, ok := result.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("cache: unexpected compute result type %T", result)
	}
	return bytes, false, nil
}

// InvalidateSession removes every cached entry tagged with the
// session. Called after each turn append so follow-up answers never
// see pre-append retrieval state. Failures log and degrade; the next
// reader recomputes on TTL expiry at worst.
func (c *Cache) InvalidateSession(ctx context.Context, sessionID string) {
	removed, err := c.store.DeletePrefix(ctx, sessionKeyPrefix+sessionID+":")
	if err != nil {
		slog.Warn("Session cache invalidation failed",
			"driver", c.store.Name(), "sessionId", sessionID, "error", err)
		return
	}
	if removed > 0 {
		slog.Debug("Session cache invalidated",
			"sessionId", sessionID, "removed", removed)
	}
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
