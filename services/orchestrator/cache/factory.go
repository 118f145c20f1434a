// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"log/slog"
	"os"
)

// NewFromEnv builds a cache from the environment.
//
// # Description
//
// SEHAT_CACHE_DRIVER selects the driver:
//   - "memory" (default): in-process map.
//   - "redis": SEHAT_REDIS_ADDR (default "localhost:6379").
//   - "badger": SEHAT_BADGER_DIR (default "/var/lib/sehat/cache").
//
// An unknown driver, or a redis/badger driver that fails to open,
// logs a warning and falls back to memory; a broken cache config must
// not keep the service from serving.
func NewFromEnv(ctx context.Context) *Cache {
	driver := os.Getenv("SEHAT_CACHE_DRIVER")

	switch driver {
	case "", "memory":
		return New(NewMemoryStore())

	case "redis":
		addr := os.Getenv("SEHAT_REDIS_ADDR")
		if addr == "" {
			addr = "localhost:6379"
		}
		store, err := NewRedisStore(ctx, addr)
		if err != nil {
			slog.Warn("Redis cache unavailable, falling back to memory driver",
				"addr", addr, "error", err)
			return New(NewMemoryStore())
		}
		slog.Info("Cache driver initialized", "driver", "redis", "addr", addr)
		return New(store)

	case "badger":
		dir := os.Getenv("SEHAT_BADGER_DIR")
		if dir == "" {
			dir = "/var/lib/sehat/cache"
		}
		store, err := NewBadgerStore(dir)
		if err != nil {
			slog.Warn("Badger cache unavailable, falling back to memory driver",
				"dir", dir, "error", err)
			return New(NewMemoryStore())
		}
		slog.Info("Cache driver initialized", "driver", "badger", "dir", dir)
		return New(store)

	default:
		slog.Warn("Unknown cache driver, using memory", "driver", driver)
		return New(NewMemoryStore())
	}
}
