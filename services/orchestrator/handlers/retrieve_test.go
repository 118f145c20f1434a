// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SehatAI/SehatOSS/services/orchestrator/knowledge"
)

func performRetrieve(t *testing.T, handler AskHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/retrieve",
		bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.HandleRetrieve(c)
	return w
}

func TestHandleRetrieve_InvalidBody(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{})
	w := performRetrieve(t, handler, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRetrieve_Success(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{})

	w := performRetrieve(t, handler, `{"question": "what helps with fever"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp retrieveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Len(t, resp.Bundle.Passages, 1)
	assert.Equal(t, testPassage.Source, resp.Bundle.Passages[0].Source)
	require.Len(t, resp.Bundle.Facts, 1)
	assert.Equal(t, testFact.Subject, resp.Bundle.Facts[0].Subject)
	assert.False(t, resp.Bundle.Degraded)
	assert.True(t, resp.Route.UseVector)
	assert.Equal(t, "what helps with fever", resp.RewrittenQuery,
		"a standalone question passes through unrewritten")
}

func TestHandleRetrieve_DegradedBundle(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{
		vector: &stubVectorSearcher{err: assert.AnError},
		graph:  &stubGraphSearcher{facts: []knowledge.Fact{testFact}},
	})

	w := performRetrieve(t, handler, `{"question": "what helps with fever"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp retrieveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Bundle.Degraded)
	assert.Empty(t, resp.Bundle.Passages)
}

func TestHandleRetrieve_AllLanesFailed(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{
		vector: &stubVectorSearcher{err: assert.AnError},
		graph:  &stubGraphSearcher{err: assert.AnError},
	})

	w := performRetrieve(t, handler, `{"question": "what helps with fever"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleRetrieve_CachesBundle(t *testing.T) {
	vector := &countingVectorSearcher{passages: []knowledge.Passage{testPassage}}
	handler := newTestAskHandler(t, askHandlerStubs{vector: vector})

	body := `{"question": "what helps with fever", "session_id": "550e8400-e29b-41d4-a716-446655440000"}`
	require.Equal(t, http.StatusOK, performRetrieve(t, handler, body).Code)
	require.Equal(t, http.StatusOK, performRetrieve(t, handler, body).Code)

	assert.Equal(t, 1, vector.calls, "second identical request is served from cache")
}

type countingVectorSearcher struct {
	passages []knowledge.Passage
	calls    int
}

func (s *countingVectorSearcher) SearchPassages(ctx context.Context, query string, topK int) ([]knowledge.Passage, error) {
	s.calls++
	return s.passages, nil
}
