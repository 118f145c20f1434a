// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the orchestrator's HTTP surface onto a gin
// router.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
	"github.com/SehatAI/SehatOSS/services/llm"
	"github.com/SehatAI/SehatOSS/services/orchestrator/cache"
	"github.com/SehatAI/SehatOSS/services/orchestrator/handlers"
	"github.com/SehatAI/SehatOSS/services/orchestrator/middleware"
)

// Deps carries everything the route table needs.
type Deps struct {
	WeaviateClient *weaviate.Client
	LLMClient      llm.LLMClient
	AskHandler     handlers.AskHandler
	Cache          *cache.Cache
	Options        extensions.ServiceOptions
	RateLimit      middleware.RateLimitConfig
}

// SetupRoutes registers every endpoint.
//
// Probes and metrics sit outside the /v1 group: they carry no user
// data and must answer even when auth or rate limiting would reject.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", handlers.HandleLiveness())
	router.GET("/readyz", handlers.HandleReadiness(deps.WeaviateClient, deps.LLMClient))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimitMiddleware(deps.RateLimit))
	v1.Use(middleware.AuthMiddleware(deps.Options.AuthProvider))
	{
		v1.POST("/ask/stream", deps.AskHandler.HandleAskStream)
		v1.GET("/ws/ask", deps.AskHandler.HandleAskWebSocket)
		v1.POST("/retrieve", deps.AskHandler.HandleRetrieve)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(deps.WeaviateClient))
			sessions.GET("/:sessionId/turns", handlers.ListSessionTurns(deps.WeaviateClient))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(deps.WeaviateClient, deps.Cache))
		}
	}
}
