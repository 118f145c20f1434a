// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"

	"github.com/SehatAI/SehatOSS/pkg/validation"
	"github.com/SehatAI/SehatOSS/services/orchestrator/cache"
	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
)

const (
	defaultSessionListLimit = 50
	maxSessionListLimit     = 200
	defaultTurnListLimit    = 100
)

// ListSessions handles GET /v1/sessions: sessions ordered by most
// recent activity, newest first. The limit query parameter caps the
// page (default 50, max 200).
func ListSessions(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseLimit(c.Query("limit"), defaultSessionListLimit, maxSessionListLimit)

		sessions, err := datatypes.ListSessions(c.Request.Context(), client, limit)
		if err != nil {
			slog.Error("Failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// ListSessionTurns handles GET /v1/sessions/:sessionId/turns: the
// session's turns in ascending turn order, each carrying its
// answer_hash so a client can audit stored answers against what it
// received on the stream.
func ListSessionTurns(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := validation.ValidateSessionID(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		limit := parseLimit(c.Query("limit"), defaultTurnListLimit, maxSessionListLimit)

		turns, err := datatypes.ListTurns(c.Request.Context(), client, sessionID, limit)
		if err != nil {
			slog.Error("Failed to list turns", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list turns"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "turns": turns})
	}
}

// DeleteSession handles DELETE /v1/sessions/:sessionId: removes the
// session's turns, memory chunks, the session object itself, and any
// cached retrieval bundles. Turn and chunk deletion failures are
// logged but do not abort; the session object is the source of truth
// for existence.
func DeleteSession(client *weaviate.Client, cacheLayer *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := validation.ValidateSessionID(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		slog.Info("Deleting session data", "sessionId", sessionID)

		where := filters.Where().
			WithPath([]string{"session_id"}).
			WithOperator(filters.Equal).
			WithValueString(sessionID)

		for _, class := range []string{"ConversationTurn", "MemoryChunk"} {
			_, err := client.Batch().ObjectsBatchDeleter().
				WithClassName(class).
				WithOutput("minimal").
				WithWhere(where).
				Do(ctx)
			if err != nil {
				slog.Error("Failed to delete session objects",
					"sessionId", sessionID, "class", class, "error", err)
			}
		}

		_, err := client.Batch().ObjectsBatchDeleter().
			WithClassName("Session").
			WithOutput("minimal").
			WithWhere(where).
			Do(ctx)
		if err != nil {
			slog.Error("Failed to delete session object", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fully delete session"})
			return
		}

		cacheLayer.InvalidateSession(ctx, sessionID)

		slog.Info("Session deleted", "sessionId", sessionID)
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sessionID})
	}
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
