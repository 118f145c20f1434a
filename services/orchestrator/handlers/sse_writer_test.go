// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
)

// nonFlushingWriter is a ResponseWriter without http.Flusher.
type nonFlushingWriter struct {
	http.ResponseWriter
}

func TestNewSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(nonFlushingWriter{httptest.NewRecorder()})
	assert.Error(t, err)

	_, err = NewSSEWriter(httptest.NewRecorder())
	assert.NoError(t, err)
}

func TestSSEWriter_WireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteEvent(
		datatypes.NewStreamEvent(datatypes.EventChunk).WithContent("hello")))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: chunk\ndata: "))
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Contains(t, body, `"content":"hello"`)
}

func TestSSEWriter_StampsIntegrityFields(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteEvent(
		datatypes.NewStreamEvent(datatypes.EventChunk).WithContent("a")))
	require.NoError(t, writer.WriteEvent(
		datatypes.NewStreamEvent(datatypes.EventChunk).WithContent("b")))
	require.NoError(t, writer.WriteEvent(
		datatypes.NewStreamEvent(datatypes.EventDone)))

	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 3)

	assert.Empty(t, events[0].PrevHash)
	for i, ev := range events {
		assert.NotEmpty(t, ev.Id, "event %d has an id", i)
		assert.NotZero(t, ev.CreatedAt)
		assert.Equal(t, computeEventHash(ev), ev.Hash, "event %d hash is verifiable", i)
		if i > 0 {
			assert.Equal(t, events[i-1].Hash, ev.PrevHash)
		}
	}
}

func TestSSEWriter_TamperBreaksChain(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteEvent(
		datatypes.NewStreamEvent(datatypes.EventChunk).WithContent("genuine")))

	events := parseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 1)

	tampered := events[0]
	tampered.Content = "forged"
	assert.NotEqual(t, computeEventHash(tampered), tampered.Hash)
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, writer.WriteKeepAlive())
	assert.Equal(t, ": ping\n\n", rec.Body.String())

	// Comments carry no data lines, so they never enter the event
	// stream or the hash chain.
	assert.Empty(t, parseSSEEvents(t, rec.Body.String()))
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}

func TestComputeEventHash_CoversPayloadFields(t *testing.T) {
	base := datatypes.NewStreamEvent(datatypes.EventDone)
	base.Id = "fixed"
	base.CreatedAt = 1700000000000
	base.Answer = "answer text"

	withCitations := base
	withCitations.Citations = []datatypes.Citation{{Source: "who_fever_guide"}}

	assert.NotEqual(t, computeEventHash(base), computeEventHash(withCitations),
		"citations must be covered by the hash")
}
