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

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetSessionSchema returns the Session class definition.
//
// A Session is one user's conversation thread: id, language preference,
// LLM-generated summary, and activity timestamps. Sessions are never
// hard-deleted by the orchestrator.
func GetSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:               "Session",
		Description:         "Metadata for a single conversation session.",
		Vectorizer:          "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{IndexTimestamps: true},
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for the conversation session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "summary",
				DataType:     []string{"text"},
				Description:  "A short, LLM-generated summary of the conversation.",
				Tokenization: "word",
			},
			{
				Name:            "language",
				DataType:        []string{"text"},
				Description:     "Preferred reply language for the session (BCP 47).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the session began.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "last_activity_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds of the most recent turn. Updated on every append.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetConversationTurnSchema returns the ConversationTurn class definition.
//
// One object per question/answer pair, totally ordered within a session
// by turn_number and timestamp. Immutable once written.
func GetConversationTurnSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ConversationTurn",
		Description: "A record of a user question and the assistant's answer.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for the conversation session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The user's query.",
				Tokenization: "word",
			},
			{
				Name:         "answer",
				DataType:     []string{"text"},
				Description:  "The assistant's answer.",
				Tokenization: "word",
			},
			{
				Name:            "answer_hash",
				DataType:        []string{"text"},
				Description:     "SHA-256 hash of the streamed answer for integrity verification.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "turn_number",
				DataType:        []string{"int"},
				Description:     "The sequential turn number within the session (1-indexed).",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "language",
				DataType:        []string{"text"},
				Description:     "Language the answer was delivered in (BCP 47).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "safety_categories",
				DataType:        []string{"text[]"},
				Description:     "Safety categories that fired on the question, for audit.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "degraded",
				DataType:        []string{"boolean"},
				Description:     "True when the answer was produced with partial retrieval context.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the turn completed.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "inSession",
				DataType:        []string{"Session"},
				Description:     "A direct graph link to the parent Session object.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetMemoryChunkSchema returns the MemoryChunk class definition.
//
// Memory chunks are vectorized slices of past turns used for semantic
// history search in long sessions. Written by the deferred persistence
// path, read by the conversation searcher.
func GetMemoryChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "MemoryChunk",
		Description: "A vectorized chunk of conversation memory for semantic recall.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The chunk text (question and answer slice).",
				Tokenization: "word",
			},
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Owning session id.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "turn_number",
				DataType:        []string{"int"},
				Description:     "Turn the chunk was cut from.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "version_tag",
				DataType:        []string{"text"},
				Description:     "Chunk family tag. Chat memory chunks use 'chat_memory'.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the chunk was written.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "inSession",
				DataType:        []string{"Session"},
				Description:     "A direct graph link to the parent Session object.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetHealthPassageSchema returns the HealthPassage class definition.
//
// Passages are the vector knowledge corpus the retrieval engine
// searches. The orchestrator only reads this class; ingestion is an
// external pipeline's job.
func GetHealthPassageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "HealthPassage",
		Description: "An embedded health knowledge passage with provenance metadata.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The passage content.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "The originating document or dataset.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "topic",
				DataType:        []string{"text"},
				Description:     "Health topic tag (e.g., 'maternal_health', 'cardiology').",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "language",
				DataType:        []string{"text"},
				Description:     "Language of the passage text (BCP 47).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the passage was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetKnowledgeEdgeSchema returns the KnowledgeEdge class definition.
//
// Edges are the structured side of the knowledge base: symptom to
// condition, condition to contraindication, city to provider. Queried
// by exact category and subject match, never vectorized.
func GetKnowledgeEdgeSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "KnowledgeEdge",
		Description: "A structured health knowledge-graph edge.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Edge family: symptom_condition, contraindication, or provider.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "subject",
				DataType:        []string{"text"},
				Description:     "Edge origin (symptom, condition, or city), normalized lowercase.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "detail",
				DataType:     []string{"text"},
				Description:  "Edge target with qualifier text.",
				Tokenization: "word",
			},
			{
				Name:        "confidence",
				DataType:    []string{"number"},
				Description: "Edge weight in [0, 1].",
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes with the
// get-then-create loop. Existing classes are left untouched; schema
// migration is an operational task, not a startup one.
//
// Returns an error instead of aborting so the service can decide to run
// without persistence when the store is unreachable.
func EnsureWeaviateSchema(client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetSessionSchema,
		GetConversationTurnSchema,
		GetMemoryChunkSchema,
		GetHealthPassageSchema,
		GetKnowledgeEdgeSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err == nil {
			slog.Info("Schema already exists", "class", class.Class)
			continue
		}

		// Getter errors on a missing class; create it.
		slog.Info("Schema not found, creating it", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
			return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
		}
		slog.Info("Successfully created schema", "class", class.Class)
	}
	return nil
}
