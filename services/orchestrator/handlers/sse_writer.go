// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EventWriter is the transport seam between the ask pipeline and the
// wire. The SSE writer and the WebSocket writer both implement it, so
// the pipeline emits one event union regardless of transport.
//
// # Description
//
// Each written event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 of event content for integrity
//   - PrevHash: hash of the previous event, forming a verifiable chain
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the pipeline
// goroutine and the heartbeat ticker both write.
type EventWriter interface {
	// WriteEvent populates integrity metadata, serializes the event,
	// and writes it to the transport with an immediate flush.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteKeepAlive sends a transport-level liveness signal. It does
	// not enter the hash chain; heartbeats are not events.
	WriteKeepAlive() error
}

// =============================================================================
// Hash Chain
// =============================================================================

// eventChain stamps events with the integrity metadata both transports
// share. Callers must hold their own lock around Stamp; the chain
// itself is not synchronized.
type eventChain struct {
	prevHash string
}

// Stamp fills Id, CreatedAt, PrevHash, and Hash, and advances the
// chain.
func (c *eventChain) Stamp(event *datatypes.StreamEvent) {
	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = c.prevHash
	event.Hash = computeEventHash(*event)
	c.prevHash = event.Hash
}

// computeEventHash hashes all content fields so a client can verify
// the chain of custody for the answer, citations, facts, and safety
// block. The Hash field itself is excluded (it is being computed).
func computeEventHash(event datatypes.StreamEvent) string {
	citationsJSON := marshalOrEmpty(event.Citations, len(event.Citations) > 0)
	factsJSON := marshalOrEmpty(event.Facts, len(event.Facts) > 0)
	safetyJSON := marshalOrEmpty(event.Safety, event.Safety != nil)
	metadataJSON := marshalOrEmpty(event.Metadata, event.Metadata != nil)

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.Answer,
		citationsJSON,
		factsJSON,
		safetyJSON,
		metadataJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func marshalOrEmpty(v any, present bool) string {
	if !present {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// =============================================================================
// SSE Writer
// =============================================================================

// sseWriter implements EventWriter over an HTTP SSE response.
//
// Events go out in the standard wire format:
//
//	event: {type}
//	data: {json}
//
// # Thread Safety
//
// Thread-safe via mutex; hash chain integrity holds across concurrent
// writes.
//
// # Limitations
//
//   - Cannot be reused across requests.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	chain   eventChain
	mu      sync.Mutex
}

// Compile-time interface compliance check.
var _ EventWriter = (*sseWriter)(nil)

// NewSSEWriter wraps a ResponseWriter for SSE event output. The caller
// must have set the SSE headers (SetSSEHeaders) before the first write.
// Returns an error if the ResponseWriter cannot flush.
func NewSSEWriter(w http.ResponseWriter) (EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// WriteEvent stamps the event into the hash chain and writes it.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.chain.Stamp(&event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteKeepAlive sends an SSE comment. Clients ignore it; load
// balancers see traffic and keep the connection open.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures the response for SSE streaming. Must run
// before the first body write. X-Accel-Buffering disables nginx
// response buffering, which would otherwise hold tokens back.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
