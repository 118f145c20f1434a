// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/SehatAI/SehatOSS/services/llm"
)

const readinessTimeout = 5 * time.Second

// HandleLiveness serves GET /healthz. Process-up only; no dependency
// checks, so restart loops never cascade from a flaky backend.
func HandleLiveness() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// HandleReadiness serves GET /readyz: the service can answer questions
// only when the knowledge store is ready and the generation backend
// responds. Each dependency reports individually so a failing probe
// names the culprit.
func HandleReadiness(client *weaviate.Client, llmClient llm.LLMClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		checks := gin.H{"weaviate": "ok", "llm": "ok"}
		ready := true

		if ok, err := client.Misc().ReadyChecker().Do(ctx); err != nil || !ok {
			checks["weaviate"] = "unavailable"
			ready = false
		}
		if err := llmClient.Ping(ctx); err != nil {
			checks["llm"] = "unavailable"
			ready = false
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "checks": checks})
	}
}
