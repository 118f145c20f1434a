// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the
// target type.
//
// Encapsulates the marshal/unmarshal round trip required to convert
// Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly typed struct. The target type T must carry json tags
// matching the response shape:
//
//	type TurnResponse struct {
//	    Get struct {
//	        ConversationTurn []TurnResult `json:"ConversationTurn"`
//	    } `json:"Get"`
//	}
//
//	resp, err := client.GraphQL().Get().WithClassName("ConversationTurn").Do(ctx)
//	parsed, err := ParseGraphQLResponse[TurnResponse](resp)
//
// Type mismatches yield zero values, not errors; choose field types to
// match the schema.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("GraphQL error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Response Types
// =============================================================================

// SessionQueryResponse is the typed response for Session queries.
type SessionQueryResponse struct {
	Get struct {
		Session []SessionResult `json:"Session"`
	} `json:"Get"`
}

// SessionResult is a single session from a query.
type SessionResult struct {
	SessionID      string `json:"session_id"`
	Summary        string `json:"summary"`
	Language       string `json:"language"`
	CreatedAt      int64  `json:"created_at"`
	LastActivityAt int64  `json:"last_activity_at"`
	Additional     struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// TurnQueryResponse is the typed response for ConversationTurn queries.
type TurnQueryResponse struct {
	Get struct {
		ConversationTurn []TurnResult `json:"ConversationTurn"`
	} `json:"Get"`
}

// TurnResult is a single conversation turn from a query.
type TurnResult struct {
	SessionID        string   `json:"session_id"`
	Question         string   `json:"question"`
	Answer           string   `json:"answer"`
	AnswerHash       string   `json:"answer_hash"`
	Language         string   `json:"language"`
	SafetyCategories []string `json:"safety_categories"`
	Degraded         *bool    `json:"degraded"`
	Timestamp        int64    `json:"timestamp"`
	TurnNumber       *int     `json:"turn_number"`
}

// PassageQueryResponse is the typed response for HealthPassage queries.
type PassageQueryResponse struct {
	Get struct {
		HealthPassage []PassageResult `json:"HealthPassage"`
	} `json:"Get"`
}

// PassageResult is a single passage from a vector query.
type PassageResult struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Topic      string `json:"topic"`
	Language   string `json:"language"`
	Additional struct {
		ID        string   `json:"id"`
		Distance  *float32 `json:"distance"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// EdgeQueryResponse is the typed response for KnowledgeEdge queries.
type EdgeQueryResponse struct {
	Get struct {
		KnowledgeEdge []EdgeResult `json:"KnowledgeEdge"`
	} `json:"Get"`
}

// EdgeResult is a single knowledge-graph edge from a query.
type EdgeResult struct {
	Category   string  `json:"category"`
	Subject    string  `json:"subject"`
	Detail     string  `json:"detail"`
	Confidence float64 `json:"confidence"`
}

// MemoryChunkQueryResponse is the typed response for MemoryChunk queries.
type MemoryChunkQueryResponse struct {
	Get struct {
		MemoryChunk []MemoryChunkResult `json:"MemoryChunk"`
	} `json:"Get"`
}

// MemoryChunkResult is a single memory chunk from a query.
type MemoryChunkResult struct {
	Text       string `json:"text"`
	SessionID  string `json:"session_id"`
	TurnNumber *int   `json:"turn_number"`
	IngestedAt int64  `json:"ingested_at"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// =============================================================================
// Property Structs
// =============================================================================

// SessionProperties are the writable properties of a Session object.
type SessionProperties struct {
	SessionId      string `json:"session_id"`
	Summary        string `json:"summary"`
	Language       string `json:"language"`
	CreatedAt      int64  `json:"created_at"`
	LastActivityAt int64  `json:"last_activity_at"`
}

// ToMap converts SessionProperties to the map Weaviate's
// WithProperties() requires.
func (p *SessionProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id":       p.SessionId,
		"summary":          p.Summary,
		"language":         p.Language,
		"created_at":       p.CreatedAt,
		"last_activity_at": p.LastActivityAt,
	}
}

// TurnProperties are the writable properties of a ConversationTurn.
type TurnProperties struct {
	SessionId        string   `json:"session_id"`
	Question         string   `json:"question"`
	Answer           string   `json:"answer"`
	AnswerHash       string   `json:"answer_hash"`
	TurnNumber       int      `json:"turn_number"`
	Language         string   `json:"language"`
	SafetyCategories []string `json:"safety_categories"`
	Degraded         bool     `json:"degraded"`
	Timestamp        int64    `json:"timestamp"`
}

// ToMap converts TurnProperties to the map Weaviate's WithProperties()
// requires.
func (p *TurnProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id":        p.SessionId,
		"question":          p.Question,
		"answer":            p.Answer,
		"answer_hash":       p.AnswerHash,
		"turn_number":       p.TurnNumber,
		"language":          p.Language,
		"safety_categories": p.SafetyCategories,
		"degraded":          p.Degraded,
		"timestamp":         p.Timestamp,
	}
}

// MemoryChunkProperties are the writable properties of a MemoryChunk.
type MemoryChunkProperties struct {
	Text       string `json:"text"`
	SessionId  string `json:"session_id"`
	TurnNumber int    `json:"turn_number"`
	VersionTag string `json:"version_tag"`
	IngestedAt int64  `json:"ingested_at"`
}

// ToMap converts MemoryChunkProperties to the map Weaviate's
// WithProperties() requires.
func (p *MemoryChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"text":        p.Text,
		"session_id":  p.SessionId,
		"turn_number": p.TurnNumber,
		"version_tag": p.VersionTag,
		"ingested_at": p.IngestedAt,
	}
}

// =============================================================================
// Cross-References
// =============================================================================

// BeaconRef is a Weaviate cross-reference beacon.
type BeaconRef struct {
	Beacon string `json:"beacon"`
}

// WithSessionBeacon adds an inSession beacon reference to a property
// map. The "localhost" in the beacon URI is Weaviate's standard
// cross-reference scheme, not a network host.
func WithSessionBeacon(props map[string]interface{}, sessionUUID string) {
	props["inSession"] = []BeaconRef{
		{Beacon: fmt.Sprintf("weaviate://localhost/Session/%s", sessionUUID)},
	}
}
