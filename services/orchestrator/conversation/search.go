// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("sehat.orchestrator.conversation")

// HistorySearcher loads conversation context for a session.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type HistorySearcher interface {
	// GetHybridContext merges recent turns with semantically relevant
	// older turns. Errors only when both lanes fail.
	GetHybridContext(ctx context.Context, sessionID, query string, currentTurnNumber int) ([]Turn, error)
}

// WeaviateHistorySearcher implements HistorySearcher against Weaviate.
//
// # Description
//
// Combines recency loading from the ConversationTurn class with
// semantic search over MemoryChunk vectors. Recent turns give
// immediate context; semantic search recovers older relevant turns in
// long sessions.
//
// # Thread Safety
//
// Safe for concurrent use; the Weaviate client pools connections.
//
// # Example
//
//	searcher := NewWeaviateHistorySearcher(client, embedder, DefaultSearchConfig())
//	history, err := searcher.GetHybridContext(ctx, sessionID, "how long?", 25)
type WeaviateHistorySearcher struct {
	client   *weaviate.Client
	embedder datatypes.Embedder
	config   SearchConfig
}

// Compile-time interface compliance check.
var _ HistorySearcher = (*WeaviateHistorySearcher)(nil)

// NewWeaviateHistorySearcher creates a history searcher. Invalid
// config values are corrected to defaults with a warning.
func NewWeaviateHistorySearcher(client *weaviate.Client, embedder datatypes.Embedder, config SearchConfig) *WeaviateHistorySearcher {
	if client == nil {
		panic("conversation: weaviate client must not be nil")
	}
	if embedder == nil {
		panic("conversation: embedder must not be nil")
	}
	return &WeaviateHistorySearcher{
		client:   client,
		embedder: embedder,
		config:   validateSearchConfig(config),
	}
}

// validateSearchConfig corrects invalid values, logging what changed.
func validateSearchConfig(config SearchConfig) SearchConfig {
	defaults := DefaultSearchConfig()

	if config.RecentTurns < 0 {
		slog.Warn("Invalid RecentTurns config, using default",
			"provided", config.RecentTurns, "default", defaults.RecentTurns)
		config.RecentTurns = defaults.RecentTurns
	}
	if config.SemanticTopK < 0 {
		slog.Warn("Invalid SemanticTopK config, using default",
			"provided", config.SemanticTopK, "default", defaults.SemanticTopK)
		config.SemanticTopK = defaults.SemanticTopK
	}
	if config.MaxTurnAge < 1 {
		config.MaxTurnAge = defaults.MaxTurnAge
	}
	if config.MaxTotalTurns < 1 {
		config.MaxTotalTurns = defaults.MaxTotalTurns
	}
	if config.MaxEmbedLength < 1 {
		config.MaxEmbedLength = defaults.MaxEmbedLength
	}
	if config.MemoryVersionTag == "" {
		config.MemoryVersionTag = defaults.MemoryVersionTag
	}
	return config
}

// GetRecent retrieves the n most recent turns for a session, newest
// first. Similarity scores are 0 on this path.
func (s *WeaviateHistorySearcher) GetRecent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	ctx, span := tracer.Start(ctx, "GetRecent")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	result, err := s.client.GraphQL().Get().
		WithClassName("ConversationTurn").
		WithFields(
			graphql.Field{Name: "question"},
			graphql.Field{Name: "answer"},
			graphql.Field{Name: "turn_number"},
		).
		WithWhere(where).
		WithSort(graphql.Sort{Path: []string{"timestamp"}, Order: graphql.Desc}).
		WithLimit(n).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.TurnQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recent turns: %w", err)
	}

	turns := make([]Turn, 0, len(parsed.Get.ConversationTurn))
	for _, t := range parsed.Get.ConversationTurn {
		turnNum := 0
		if t.TurnNumber != nil {
			turnNum = *t.TurnNumber
		}
		turns = append(turns, Turn{
			Question:   t.Question,
			Answer:     t.Answer,
			TurnNumber: turnNum,
		})
	}

	slog.Debug("Retrieved recent conversation turns",
		"sessionId", sessionID, "count", len(turns))
	return turns, nil
}

// SearchRelevant embeds the query and searches MemoryChunk vectors for
// semantically similar past turns within the session, excluding turns
// older than MaxTurnAge.
func (s *WeaviateHistorySearcher) SearchRelevant(ctx context.Context, sessionID, query string, currentTurnNumber, topK int) ([]Turn, error) {
	ctx, span := tracer.Start(ctx, "SearchRelevant")
	defer span.End()

	truncated := query
	if len(query) > s.config.MaxEmbedLength {
		truncated = query[:s.config.MaxEmbedLength]
	}

	vector, err := s.embedder.Embed(ctx, truncated)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	minTurnNumber := currentTurnNumber - s.config.MaxTurnAge
	if minTurnNumber < 0 {
		minTurnNumber = 0
	}

	sessionFilter := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)
	tagFilter := filters.Where().
		WithPath([]string{"version_tag"}).
		WithOperator(filters.Equal).
		WithValueString(s.config.MemoryVersionTag)
	ageFilter := filters.Where().
		WithPath([]string{"turn_number"}).
		WithOperator(filters.GreaterThan).
		WithValueInt(int64(minTurnNumber))

	combined := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{sessionFilter, tagFilter, ageFilter})

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	// Certainty is always [0, 1]; distance varies by metric.
	result, err := s.client.GraphQL().Get().
		WithClassName("MemoryChunk").
		WithFields(
			graphql.Field{Name: "text"},
			graphql.Field{Name: "turn_number"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
		).
		WithWhere(combined).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.MemoryChunkQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse memory search: %w", err)
	}

	turns := make([]Turn, 0, len(parsed.Get.MemoryChunk))
	for _, chunk := range parsed.Get.MemoryChunk {
		question, answer := parseMemoryText(chunk.Text)
		var similarity float64
		if chunk.Additional.Certainty != nil {
			similarity = float64(*chunk.Additional.Certainty)
		}
		turnNum := 0
		if chunk.TurnNumber != nil {
			turnNum = *chunk.TurnNumber
		}
		turns = append(turns, Turn{
			Question:        question,
			Answer:          answer,
			TurnNumber:      turnNum,
			SimilarityScore: similarity,
		})
	}

	slog.Debug("Found relevant conversation turns",
		"sessionId", sessionID, "count", len(turns))
	return turns, nil
}

// GetHybridContext combines GetRecent and SearchRelevant, deduplicated
// by normalized question text, capped at MaxTotalTurns.
//
// # Description
//
// Either lane may fail independently; the merge proceeds with
// whichever succeeded. An error is returned only when both fail.
func (s *WeaviateHistorySearcher) GetHybridContext(ctx context.Context, sessionID, query string, currentTurnNumber int) ([]Turn, error) {
	ctx, span := tracer.Start(ctx, "GetHybridContext")
	defer span.End()

	recentTurns, recentErr := s.GetRecent(ctx, sessionID, s.config.RecentTurns)
	if recentErr != nil {
		slog.Warn("Failed to get recent turns, continuing with semantic-only",
			"error", recentErr)
	}

	semanticTurns, semanticErr := s.SearchRelevant(ctx, sessionID, query, currentTurnNumber, s.config.SemanticTopK)
	if semanticErr != nil {
		slog.Warn("Failed to search semantic memory, continuing with recent-only",
			"error", semanticErr)
	}

	if recentErr != nil && semanticErr != nil {
		return nil, fmt.Errorf("both recent and semantic retrieval failed: recent=[%v], semantic=[%v]",
			recentErr, semanticErr)
	}

	merged := mergeAndDeduplicate(recentTurns, semanticTurns, s.config.MaxTotalTurns)

	slog.Info("Hybrid history context retrieved",
		"sessionId", sessionID,
		"recentCount", len(recentTurns),
		"semanticCount", len(semanticTurns),
		"mergedCount", len(merged))
	return merged, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// parseMemoryText splits a memory chunk back into question and answer.
// Chunks are written as "User: <question>\nAssistant: <answer>".
func parseMemoryText(text string) (question, answer string) {
	const userPrefix = "User: "
	const assistantPrefix = "\nAssistant: "

	idx := strings.Index(text, assistantPrefix)
	if idx < 0 {
		return strings.TrimPrefix(text, userPrefix), ""
	}
	question = strings.TrimPrefix(text[:idx], userPrefix)
	answer = text[idx+len(assistantPrefix):]
	return question, answer
}

// mergeAndDeduplicate combines recent and semantic turns, recent
// first, deduplicated by normalized question, sorted newest first and
// capped at maxTurns.
func mergeAndDeduplicate(recent, semantic []Turn, maxTurns int) []Turn {
	seen := make(map[string]bool)
	result := make([]Turn, 0, len(recent)+len(semantic))

	for _, turn := range recent {
		key := normalizeQuestion(turn.Question)
		if !seen[key] {
			seen[key] = true
			result = append(result, turn)
		}
	}
	for _, turn := range semantic {
		key := normalizeQuestion(turn.Question)
		if !seen[key] {
			seen[key] = true
			result = append(result, turn)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TurnNumber > result[j].TurnNumber
	})

	if len(result) > maxTurns {
		result = result[:maxTurns]
	}
	return result
}

// normalizeQuestion normalizes for deduplication: lowercase, trimmed,
// trailing punctuation stripped.
func normalizeQuestion(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	q = strings.TrimRight(q, "?!.,;:")
	return strings.TrimSpace(q)
}
