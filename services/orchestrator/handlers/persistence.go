// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
	"github.com/SehatAI/SehatOSS/services/llm"
	"github.com/SehatAI/SehatOSS/services/orchestrator/conversation"
	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/SehatAI/SehatOSS/services/orchestrator/observability"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// memoryChunkSize and memoryChunkOverlap tune the splitter for
	// turn-pair memory chunks. Turns are short; small chunks keep
	// semantic search precise.
	memoryChunkSize    = 800
	memoryChunkOverlap = 100

	// persistTimeout bounds the whole background persistence task.
	persistTimeout = 30 * time.Second
)

// Persistence stages, as recorded in failure metrics.
const (
	stageSession     = "session"
	stageTurn        = "turn"
	stageMemoryChunk = "memory_chunk"
	stageSummary     = "summary"
)

// =============================================================================
// Persistence Task
// =============================================================================

// persistInput is everything the deferred persistence task needs,
// captured by value so it owns no references into the finished
// request.
type persistInput struct {
	SessionID        string
	TurnNumber       int
	Question         string
	Answer           string
	AnswerHash       string
	Language         string
	SafetyCategories []string
	Degraded         bool
}

// persistTurn is the single background persistence task for one
// completed turn.
//
// # Description
//
// Runs strictly after the done event, off the request path:
//  1. Ensures the Session object exists.
//  2. Saves the ConversationTurn with the answer hash.
//  3. Splits the turn pair into memory chunks, embeds each, and saves
//     them for semantic history search.
//  4. On the session's first turn, generates and stores the session
//     title.
//  5. Invalidates the session's cached retrieval bundles.
//
// Failures never surface to the client; each is logged, counted by
// stage, and recorded to the time-series recorder. A failed early
// stage aborts the later ones that depend on it.
func (h *askHandler) persistTurn(ctx context.Context, in persistInput) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	ctx, span := h.tracer.Start(ctx, "persistTurn")
	defer span.End()

	// Sensitivity gate before anything is written. The open source
	// classifier returns PUBLIC; hosted deployments may refuse to
	// persist content classified SECRET (a pasted credential).
	if result, err := h.opts.Classifier.Classify(ctx, in.Question+"\n"+in.Answer); err == nil {
		if result.HighestLevel == extensions.ClassificationSecret {
			slog.Warn("Turn contains secret-classified content, skipping persistence",
				"sessionId", in.SessionID, "findings", len(result.Findings))
			return
		}
	}

	sessionUUID, err := datatypes.FindOrCreateSessionUUID(ctx, h.weaviateClient, in.SessionID, in.Language)
	if err != nil {
		h.recordPersistenceFailure(stageSession, in.SessionID, err)
		return
	}

	turnProps := datatypes.TurnProperties{
		SessionId:        in.SessionID,
		Question:         in.Question,
		Answer:           in.Answer,
		AnswerHash:       in.AnswerHash,
		TurnNumber:       in.TurnNumber,
		Language:         in.Language,
		SafetyCategories: in.SafetyCategories,
		Degraded:         in.Degraded,
		Timestamp:        time.Now().UnixMilli(),
	}
	if err := datatypes.SaveTurn(ctx, h.weaviateClient, sessionUUID, turnProps); err != nil {
		h.recordPersistenceFailure(stageTurn, in.SessionID, err)
		return
	}

	// The appended turn changes what retrieval should see for this
	// session; stale bundles must not outlive it.
	h.cache.InvalidateSession(ctx, in.SessionID)

	h.saveMemoryChunks(ctx, sessionUUID, in)

	if in.TurnNumber == 1 {
		h.saveSessionSummary(ctx, sessionUUID, in)
	}
}

// saveMemoryChunks splits the turn pair and stores each chunk with its
// embedding. A chunk-level failure skips that chunk only.
func (h *askHandler) saveMemoryChunks(ctx context.Context, sessionUUID string, in persistInput) {
	content := fmt.Sprintf("User: %s\nAssistant: %s", in.Question, in.Answer)

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(memoryChunkSize),
		textsplitter.WithChunkOverlap(memoryChunkOverlap),
	)
	chunks, err := splitter.SplitText(content)
	if err != nil {
		h.recordPersistenceFailure(stageMemoryChunk, in.SessionID, err)
		return
	}

	config := conversation.DefaultSearchConfig()
	saved := 0
	for _, chunk := range chunks {
		embedText := chunk
		if len(embedText) > config.MaxEmbedLength {
			embedText = embedText[:config.MaxEmbedLength]
		}
		vector, err := h.embedder.Embed(ctx, embedText)
		if err != nil {
			h.recordPersistenceFailure(stageMemoryChunk, in.SessionID, err)
			continue
		}

		props := datatypes.MemoryChunkProperties{
			Text:       chunk,
			SessionId:  in.SessionID,
			TurnNumber: in.TurnNumber,
			VersionTag: config.MemoryVersionTag,
			IngestedAt: time.Now().UnixMilli(),
		}
		if err := datatypes.SaveMemoryChunk(ctx, h.weaviateClient, sessionUUID, props, vector); err != nil {
			h.recordPersistenceFailure(stageMemoryChunk, in.SessionID, err)
			continue
		}
		saved++
	}

	slog.Debug("Saved memory chunks",
		"sessionId", in.SessionID, "turnNumber", in.TurnNumber,
		"chunks", saved, "of", len(chunks))
}

// saveSessionSummary titles a fresh session from its first exchange.
// The summarizer itself never errors (it falls back internally); only
// the store write can fail here.
func (h *askHandler) saveSessionSummary(ctx context.Context, sessionUUID string, in persistInput) {
	title := llm.SummarizeSessionTitle(ctx, h.llmClient, in.Question, in.Answer)

	if err := datatypes.UpdateSessionSummary(ctx, h.weaviateClient, sessionUUID, title); err != nil {
		h.recordPersistenceFailure(stageSummary, in.SessionID, err)
		return
	}
	slog.Info("Session summary saved", "sessionId", in.SessionID, "summary", title)
}

func (h *askHandler) recordPersistenceFailure(stage, sessionID string, err error) {
	slog.Error("Turn persistence stage failed",
		"stage", stage, "sessionId", sessionID, "error", err)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordPersistenceFailure(stage)
	}
	h.timeseries.RecordPersistenceFailure(stage, err)
	_ = h.opts.AuditLogger.Log(context.Background(), extensions.AuditEvent{
		EventType:    "persistence.failed",
		Timestamp:    time.Now().UTC(),
		Action:       "persist_turn",
		ResourceType: "conversation_turn",
		ResourceID:   sessionID,
		Outcome:      "failed",
		Metadata:     map[string]any{"stage": stage, "error": err.Error()},
	})
}
