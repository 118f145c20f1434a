// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
)

var sessionTracer = otel.Tracer("sehat.orchestrator.datatypes")

// FindOrCreateSessionUUID finds a session by its session_id and returns
// its Weaviate UUID, creating the session lazily when none exists.
//
// The created session carries a pending summary and the given language;
// the summarizer fills in a real summary after the first turn.
func FindOrCreateSessionUUID(ctx context.Context, client *weaviate.Client,
	sessionID, language string) (string, error) {

	ctx, span := sessionTracer.Start(ctx, "FindOrCreateSessionUUID")
	defer span.End()

	// 1. Try to find the existing session.
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	fields := []graphql.Field{
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	resp, err := client.GraphQL().Get().
		WithClassName("Session").
		WithWhere(where).
		WithFields(fields...).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("error querying for session: %w", err)
	}

	queryResp, err := ParseGraphQLResponse[SessionQueryResponse](resp)
	if err != nil {
		return "", fmt.Errorf("error parsing session query response: %w", err)
	}

	if len(queryResp.Get.Session) > 0 {
		uuid := queryResp.Get.Session[0].Additional.ID
		slog.Debug("Found existing session", "sessionId", sessionID, "weaviateUUID", uuid)
		return uuid, nil
	}

	// 2. Not found, create it with a pending summary.
	slog.Info("No existing session found, creating a new one", "sessionId", sessionID)
	now := time.Now().UnixMilli()
	props := SessionProperties{
		SessionId:      sessionID,
		Summary:        "(Summary pending...)",
		Language:       language,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	result, err := client.Data().Creator().
		WithClassName("Session").
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("error creating session object: %w", err)
	}

	return string(result.Object.ID), nil
}

// TouchSession updates a session's last-activity timestamp and, when a
// language is given, its language preference. Called on every appended
// turn so session listings sort by recency.
func TouchSession(ctx context.Context, client *weaviate.Client,
	sessionUUID, language string) error {

	props := map[string]interface{}{
		"last_activity_at": time.Now().UnixMilli(),
	}
	if language != "" {
		props["language"] = language
	}

	err := client.Data().Updater().
		WithMerge().
		WithClassName("Session").
		WithID(sessionUUID).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("error updating session activity: %w", err)
	}
	return nil
}

// GetTurnCount returns the number of turns stored for a session.
// Used to assign the next turn_number.
func GetTurnCount(ctx context.Context, client *weaviate.Client, sessionID string) (int, error) {
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	resp, err := client.GraphQL().Aggregate().
		WithClassName("ConversationTurn").
		WithWhere(where).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("error counting turns: %w", err)
	}

	type aggResponse struct {
		Aggregate struct {
			ConversationTurn []struct {
				Meta struct {
					Count int `json:"count"`
				} `json:"meta"`
			} `json:"ConversationTurn"`
		} `json:"Aggregate"`
	}
	parsed, err := ParseGraphQLResponse[aggResponse](resp)
	if err != nil {
		return 0, fmt.Errorf("error parsing turn count response: %w", err)
	}
	if len(parsed.Aggregate.ConversationTurn) == 0 {
		return 0, nil
	}
	return parsed.Aggregate.ConversationTurn[0].Meta.Count, nil
}

// SaveTurn writes one completed conversation turn, linked to its
// session by cross-reference, and touches the session's activity
// timestamp. Called only from the deferred persistence path, strictly
// after the stream's terminal event.
func SaveTurn(ctx context.Context, client *weaviate.Client,
	sessionUUID string, props TurnProperties) error {

	ctx, span := sessionTracer.Start(ctx, "SaveTurn")
	defer span.End()

	propMap := props.ToMap()
	WithSessionBeacon(propMap, sessionUUID)

	_, err := client.Data().Creator().
		WithClassName("ConversationTurn").
		WithProperties(propMap).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save ConversationTurn object: %w", err)
	}

	if err := TouchSession(ctx, client, sessionUUID, props.Language); err != nil {
		// The turn itself is durable; a stale activity timestamp only
		// affects listing order.
		slog.Warn("failed to touch session after turn append",
			"sessionId", props.SessionId, "error", err)
	}

	slog.Info("conversation turn persisted",
		"sessionId", props.SessionId,
		"turnNumber", props.TurnNumber,
	)
	return nil
}

// SaveMemoryChunk writes one vectorized memory chunk for semantic
// history search.
func SaveMemoryChunk(ctx context.Context, client *weaviate.Client,
	sessionUUID string, props MemoryChunkProperties, vector []float32) error {

	propMap := props.ToMap()
	WithSessionBeacon(propMap, sessionUUID)

	creator := client.Data().Creator().
		WithClassName("MemoryChunk").
		WithProperties(propMap)
	if len(vector) > 0 {
		creator = creator.WithVector(vector)
	}

	if _, err := creator.Do(ctx); err != nil {
		return fmt.Errorf("failed to save MemoryChunk object: %w", err)
	}
	return nil
}

// UpdateSessionSummary replaces a session's summary text.
func UpdateSessionSummary(ctx context.Context, client *weaviate.Client,
	sessionUUID, summary string) error {

	err := client.Data().Updater().
		WithMerge().
		WithClassName("Session").
		WithID(sessionUUID).
		WithProperties(map[string]interface{}{"summary": summary}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("error updating session summary: %w", err)
	}
	return nil
}

// ListSessions returns sessions ordered by most recent activity,
// capped at limit.
func ListSessions(ctx context.Context, client *weaviate.Client, limit int) ([]SessionResult, error) {
	resp, err := client.GraphQL().Get().
		WithClassName("Session").
		WithFields(
			graphql.Field{Name: "session_id"},
			graphql.Field{Name: "summary"},
			graphql.Field{Name: "language"},
			graphql.Field{Name: "created_at"},
			graphql.Field{Name: "last_activity_at"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
		).
		WithSort(graphql.Sort{Path: []string{"last_activity_at"}, Order: graphql.Desc}).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing sessions: %w", err)
	}

	parsed, err := ParseGraphQLResponse[SessionQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("error parsing session list response: %w", err)
	}
	return parsed.Get.Session, nil
}

// ListTurns returns a session's turns in ascending turn order, capped
// at limit.
func ListTurns(ctx context.Context, client *weaviate.Client,
	sessionID string, limit int) ([]TurnResult, error) {

	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	resp, err := client.GraphQL().Get().
		WithClassName("ConversationTurn").
		WithWhere(where).
		WithFields(
			graphql.Field{Name: "session_id"},
			graphql.Field{Name: "question"},
			graphql.Field{Name: "answer"},
			graphql.Field{Name: "answer_hash"},
			graphql.Field{Name: "language"},
			graphql.Field{Name: "safety_categories"},
			graphql.Field{Name: "degraded"},
			graphql.Field{Name: "timestamp"},
			graphql.Field{Name: "turn_number"},
		).
		WithSort(graphql.Sort{Path: []string{"turn_number"}, Order: graphql.Asc}).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing turns: %w", err)
	}

	parsed, err := ParseGraphQLResponse[TurnQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("error parsing turn list response: %w", err)
	}
	return parsed.Get.ConversationTurn, nil
}
