// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"os"
	"strconv"
)

// Turn is one question/answer pair from a session's history.
//
// # Description
//
// Turn is the unit the router, rewriter, and history searcher all
// consume. Turns come either from recency loading (SimilarityScore 0)
// or from semantic memory search (SimilarityScore in [0, 1]).
//
// # Thread Safety
//
// Turn is a value type and safe for concurrent read access.
type Turn struct {
	// Question is the user's query for this turn.
	Question string `json:"question"`

	// Answer is the assistant's reply for this turn.
	Answer string `json:"answer"`

	// TurnNumber is the sequential turn number within the session.
	// 0 means unknown.
	TurnNumber int `json:"turn_number"`

	// SimilarityScore is the certainty from semantic search, or 0.0
	// for turns retrieved by recency.
	SimilarityScore float64 `json:"similarity_score"`
}

// Route is the retrieval plan for one query.
//
// # Description
//
// The intent router produces a Route; the retrieval engine consumes
// it. Both flags false never happens for a non-empty query: UseVector
// defaults on and is cleared only for pure resource lookups, which in
// turn set UseGraph.
type Route struct {
	// UseGraph requests the structured knowledge-graph lane.
	UseGraph bool `json:"use_graph"`

	// UseVector requests the semantic passage lane.
	UseVector bool `json:"use_vector"`
}

// RewriteConfig controls follow-up query rewriting.
//
// # Description
//
// RewriteConfig bounds how much history the rewriter reads and how
// many salient terms it may append. Defaults come from
// DefaultRewriteConfig().
type RewriteConfig struct {
	// Window is how many recent turns to mine for salient terms.
	// Default: 3 (SEHAT_REWRITE_WINDOW)
	Window int

	// MaxTerms caps the number of appended terms.
	// Default: 6 (SEHAT_REWRITE_MAX_TERMS)
	MaxTerms int

	// ShortWordLimit is the maximum word count for a query to be
	// considered a follow-up candidate. Default: 4
	ShortWordLimit int
}

// DefaultRewriteConfig returns the rewrite configuration, reading
// SEHAT_REWRITE_WINDOW and SEHAT_REWRITE_MAX_TERMS when set.
func DefaultRewriteConfig() RewriteConfig {
	return RewriteConfig{
		Window:         getEnvInt("SEHAT_REWRITE_WINDOW", 3),
		MaxTerms:       getEnvInt("SEHAT_REWRITE_MAX_TERMS", 6),
		ShortWordLimit: 4,
	}
}

// SearchConfig holds configuration for conversation memory search.
//
// # Description
//
// SearchConfig tunes the hybrid history loader. Defaults come from
// DefaultSearchConfig().
type SearchConfig struct {
	// RecentTurns is the number of recent turns always included.
	// Default: 2
	RecentTurns int

	// SemanticTopK is the maximum number of semantically relevant
	// turns to retrieve. Default: 3
	SemanticTopK int

	// MaxTurnAge is how far back (in turns) semantic search reaches.
	// Default: 20
	MaxTurnAge int

	// MaxTotalTurns caps the merged result. Default: 5
	MaxTotalTurns int

	// MaxEmbedLength is the maximum bytes embedded for search
	// queries; longer text is truncated. Default: 2000
	MaxEmbedLength int

	// MemoryVersionTag identifies chat memory chunks.
	// Default: "chat_memory"
	MemoryVersionTag string
}

// DefaultSearchConfig returns the default search configuration.
// Values can be overridden via environment variables:
//   - SEHAT_HISTORY_RECENT_TURNS (default: 2)
//   - SEHAT_HISTORY_SEMANTIC_TOPK (default: 3)
//   - SEHAT_HISTORY_MAX_TURN_AGE (default: 20)
//   - SEHAT_HISTORY_MAX_TOTAL_TURNS (default: 5)
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		RecentTurns:      getEnvInt("SEHAT_HISTORY_RECENT_TURNS", 2),
		SemanticTopK:     getEnvInt("SEHAT_HISTORY_SEMANTIC_TOPK", 3),
		MaxTurnAge:       getEnvInt("SEHAT_HISTORY_MAX_TURN_AGE", 20),
		MaxTotalTurns:    getEnvInt("SEHAT_HISTORY_MAX_TOTAL_TURNS", 5),
		MaxEmbedLength:   getEnvInt("SEHAT_HISTORY_MAX_EMBED_LENGTH", 2000),
		MemoryVersionTag: getEnvString("SEHAT_HISTORY_MEMORY_TAG", "chat_memory"),
	}
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvString returns an environment variable as string, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
