// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRateLimitedRouter(config RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(config))
	router.GET("/probe", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func doRequest(router *gin.Engine, remoteAddr string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitMiddleware_AllowsWithinBurst(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{RPS: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1:1234"), "request %d", i)
	}
}

func TestRateLimitMiddleware_RejectsOverBurst(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{RPS: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "10.0.0.1:1234"))
}

func TestRateLimitMiddleware_PerClientBuckets(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{RPS: 0.001, Burst: 1})

	assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "10.0.0.1:1234"))

	assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.2:1234"),
		"a throttled client must not starve others")
}

func TestRateLimitMiddleware_RefillsOverTime(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{RPS: 50, Burst: 1})

	assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "10.0.0.1:1234"))

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1:1234"))
}

func TestLimiterRegistry_SweepDropsIdleClients(t *testing.T) {
	registry := newLimiterRegistry(RateLimitConfig{RPS: 1, Burst: 1})

	registry.get("10.0.0.1")
	registry.mu.Lock()
	registry.clients["10.0.0.1"].lastSeen = time.Now().Add(-2 * limiterIdleTTL)
	registry.mu.Unlock()

	registry.sweep()

	registry.mu.Lock()
	defer registry.mu.Unlock()
	assert.Empty(t, registry.clients)
}

func TestRateLimitConfigFromEnv(t *testing.T) {
	t.Setenv("SEHAT_RATE_LIMIT_RPS", "2.5")
	t.Setenv("SEHAT_RATE_LIMIT_BURST", "7")
	config := RateLimitConfigFromEnv()
	assert.Equal(t, 2.5, config.RPS)
	assert.Equal(t, 7, config.Burst)

	t.Setenv("SEHAT_RATE_LIMIT_RPS", "garbage")
	t.Setenv("SEHAT_RATE_LIMIT_BURST", "-1")
	config = RateLimitConfigFromEnv()
	assert.Equal(t, float64(defaultRateLimit), config.RPS)
	assert.Equal(t, defaultRateBurst, config.Burst)
}
