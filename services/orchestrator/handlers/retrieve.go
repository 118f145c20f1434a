// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
	"github.com/SehatAI/SehatOSS/services/orchestrator/conversation"
	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/SehatAI/SehatOSS/services/orchestrator/observability"
	"github.com/SehatAI/SehatOSS/services/orchestrator/retrieval"
)

// retrieveResponse is the non-streaming retrieval result: the bundle
// plus the routing decisions that produced it, so a caller can see
// exactly what generation would have been grounded on.
type retrieveResponse struct {
	Route          conversation.Route `json:"route"`
	RewrittenQuery string             `json:"rewritten_query"`
	Bundle         retrieval.Bundle   `json:"bundle"`
}

// HandleRetrieve processes POST /v1/retrieve.
//
// # Description
//
// Runs the ask pipeline's retrieval stages (routing, query rewriting,
// retrieval with session-scoped caching) and returns the bundle as
// JSON without generating an answer. Meant for debugging grounding
// quality and for clients that do their own synthesis.
//
// Reuses AskRequest: the same question, session, language, and profile
// inputs shape retrieval exactly as they would in a streamed ask.
func (h *askHandler) HandleRetrieve(c *gin.Context) {
	endpoint := observability.EndpointRetrieve

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleRetrieve")
	defer span.End()

	var req datatypes.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "request validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, reason, auditID := h.gateRequest(ctx, c, &req, "retrieve")
	if status != 0 {
		c.JSON(status, gin.H{"error": reason})
		return
	}

	profile := h.resolveProfile(ctx, &req, req.SessionId)

	// History sharpens routing and rewriting for continuing sessions;
	// without a session the question stands alone.
	var history []conversation.Turn
	if req.SessionId != "" {
		count, err := datatypes.GetTurnCount(ctx, h.weaviateClient, req.SessionId)
		if err != nil {
			slog.Warn("Failed to count turns for retrieve, continuing without history",
				"sessionId", req.SessionId, "error", err)
		} else {
			history, err = h.history.GetHybridContext(ctx, req.SessionId, req.Question, count+1)
			if err != nil {
				slog.Warn("Failed to load history for retrieve, continuing without",
					"sessionId", req.SessionId, "error", err)
			}
		}
	}

	route := h.router.Classify(req.Question, history)
	rewritten := h.rewriter.Rewrite(req.Question, history)
	span.SetAttributes(
		attribute.Bool("route.graph", route.UseGraph),
		attribute.Bool("route.vector", route.UseVector),
	)

	bundle, err := h.retrieveWithCache(ctx, retrieval.Input{
		Route:          route,
		RewrittenQuery: rewritten,
		OriginalQuery:  req.Question,
		Conditions:     profile.Conditions,
		City:           profile.City,
	}, req.SessionId, profile.Language)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeRetrievalError)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not reach the knowledge base"})
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
	}
	resp := retrieveResponse{
		Route:          route,
		RewrittenQuery: rewritten,
		Bundle:         bundle,
	}
	if body, err := json.Marshal(resp); err == nil {
		_ = h.opts.RequestAuditor.CaptureResponse(ctx, auditID, &extensions.AuditableResponse{
			StatusCode: http.StatusOK,
			Body:       body,
			Timestamp:  time.Now().UTC(),
		})
	}
	c.JSON(http.StatusOK, resp)
}
