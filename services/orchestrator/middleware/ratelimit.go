// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	// defaultRateLimit is requests per second per client IP.
	defaultRateLimit = 5

	// defaultRateBurst absorbs short bursts (a chat client firing a
	// question right after opening a session list, for example).
	defaultRateBurst = 10

	// limiterIdleTTL is how long an idle client's limiter survives
	// before the janitor drops it.
	limiterIdleTTL = 10 * time.Minute

	// janitorInterval is how often idle limiters are swept.
	janitorInterval = time.Minute
)

// RateLimitConfig controls the per-client limiter.
type RateLimitConfig struct {
	// RPS is the sustained requests-per-second allowance per client.
	RPS float64

	// Burst is the bucket depth.
	Burst int
}

// RateLimitConfigFromEnv reads SEHAT_RATE_LIMIT_RPS and
// SEHAT_RATE_LIMIT_BURST, falling back to defaults on absent or
// invalid values.
func RateLimitConfigFromEnv() RateLimitConfig {
	config := RateLimitConfig{RPS: defaultRateLimit, Burst: defaultRateBurst}

	if raw := os.Getenv("SEHAT_RATE_LIMIT_RPS"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			config.RPS = v
		} else {
			slog.Warn("Invalid SEHAT_RATE_LIMIT_RPS, using default", "value", raw)
		}
	}
	if raw := os.Getenv("SEHAT_RATE_LIMIT_BURST"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			config.Burst = v
		} else {
			slog.Warn("Invalid SEHAT_RATE_LIMIT_BURST, using default", "value", raw)
		}
	}
	return config
}

// =============================================================================
// Limiter Registry
// =============================================================================

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterRegistry holds one token bucket per client IP and evicts
// idle entries so the map cannot grow unbounded.
type limiterRegistry struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	config  RateLimitConfig
}

func newLimiterRegistry(config RateLimitConfig) *limiterRegistry {
	if config.RPS <= 0 {
		config.RPS = defaultRateLimit
	}
	if config.Burst < 1 {
		config.Burst = defaultRateBurst
	}
	return &limiterRegistry{
		clients: make(map[string]*clientLimiter),
		config:  config,
	}
}

func (r *limiterRegistry) get(clientIP string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[clientIP]
	if !ok {
		entry = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(r.config.RPS), r.config.Burst),
		}
		r.clients[clientIP] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (r *limiterRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-limiterIdleTTL)
	for ip, entry := range r.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
		}
	}
}

// =============================================================================
// Middleware
// =============================================================================

// RateLimitMiddleware limits requests per client IP with a token
// bucket. Over-limit requests get 429 with a Retry-After hint.
//
// # Thread Safety
//
// Safe for concurrent use; the registry serializes bucket lookup.
func RateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	registry := newLimiterRegistry(config)

	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for range ticker.C {
			registry.sweep()
		}
	}()

	return func(c *gin.Context) {
		if !registry.get(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, slow down",
			})
			return
		}
		c.Next()
	}
}
