// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
	"github.com/SehatAI/SehatOSS/services/llm"
	"github.com/SehatAI/SehatOSS/services/orchestrator/cache"
	"github.com/SehatAI/SehatOSS/services/orchestrator/conversation"
	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/SehatAI/SehatOSS/services/orchestrator/knowledge"
	"github.com/SehatAI/SehatOSS/services/orchestrator/retrieval"
	"github.com/SehatAI/SehatOSS/services/orchestrator/safety"
)

// =============================================================================
// Test Setup
// =============================================================================

// streamingStubLLM implements llm.LLMClient for handler tests. It
// emits StreamTokens one by one and serves Translate from a canned
// response.
type streamingStubLLM struct {
	StreamTokens   []string
	StreamError    error
	Translated     string
	TranslateError error

	// OnToken, when set, runs before each token is delivered. Lets
	// tests inject mid-stream behavior such as client cancellation.
	OnToken func()

	GenerateStreamCalls int
	LastPrompt          llm.Prompt
	LastTranslateLang   string
}

func (s *streamingStubLLM) Generate(ctx context.Context, prompt llm.Prompt, params llm.GenerationParams) (string, error) {
	return strings.Join(s.StreamTokens, ""), nil
}

func (s *streamingStubLLM) GenerateStream(ctx context.Context, prompt llm.Prompt,
	params llm.GenerationParams, callback llm.StreamCallback) error {

	s.GenerateStreamCalls++
	s.LastPrompt = prompt
	if s.StreamError != nil {
		return s.StreamError
	}
	for _, token := range s.StreamTokens {
		if s.OnToken != nil {
			s.OnToken()
		}
		if err := callback(token); err != nil {
			return err
		}
	}
	return nil
}

func (s *streamingStubLLM) Translate(ctx context.Context, text, targetLang string) (string, error) {
	s.LastTranslateLang = targetLang
	if s.TranslateError != nil {
		return "", s.TranslateError
	}
	return s.Translated, nil
}

func (s *streamingStubLLM) Ping(ctx context.Context) error { return nil }

type stubVectorSearcher struct {
	passages []knowledge.Passage
	err      error
}

func (s *stubVectorSearcher) SearchPassages(ctx context.Context, query string, topK int) ([]knowledge.Passage, error) {
	return s.passages, s.err
}

type stubGraphSearcher struct {
	facts    []knowledge.Fact
	degraded bool
	err      error
}

func (s *stubGraphSearcher) SearchFacts(ctx context.Context, input knowledge.GraphInput) ([]knowledge.Fact, bool, error) {
	return s.facts, s.degraded, s.err
}

type stubHistorySearcher struct {
	turns []conversation.Turn
	err   error
}

func (s *stubHistorySearcher) GetHybridContext(ctx context.Context,
	sessionID, query string, currentTurnNumber int) ([]conversation.Turn, error) {
	return s.turns, s.err
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

// testPassage and testFact are the canned retrieval results the stub
// lanes serve.
var testPassage = knowledge.Passage{
	ID:     "p-1",
	Text:   "Drink plenty of fluids and rest.",
	Source: "who_fever_guide",
	Topic:  "fever",
	Score:  0.92,
}

var testFact = knowledge.Fact{
	Category:   "symptom_of",
	Subject:    "fever",
	Detail:     "typhoid",
	Confidence: 0.8,
}

type askHandlerStubs struct {
	llm    *streamingStubLLM
	vector knowledge.VectorSearcher
	graph  *stubGraphSearcher
	opts   *extensions.ServiceOptions
}

func newTestAskHandler(t *testing.T, stubs askHandlerStubs) AskHandler {
	t.Helper()

	// The accumulator must not depend on the test host's memlock
	// limits.
	t.Setenv("SEHAT_INSECURE_MEMORY", "true")

	if stubs.llm == nil {
		stubs.llm = &streamingStubLLM{StreamTokens: []string{"ok"}}
	}
	if stubs.vector == nil {
		stubs.vector = &stubVectorSearcher{passages: []knowledge.Passage{testPassage}}
	}
	if stubs.graph == nil {
		stubs.graph = &stubGraphSearcher{facts: []knowledge.Fact{testFact}}
	}

	// The pipeline only touches Weaviate for continuing sessions and
	// in the background persistence task; an unreachable client is
	// fine for these tests.
	weaviateClient, err := weaviate.NewClient(weaviate.Config{Host: "localhost:1", Scheme: "http"})
	require.NoError(t, err)

	scanner, err := safety.NewScanner()
	require.NoError(t, err)

	opts := extensions.DefaultOptions()
	if stubs.opts != nil {
		opts = *stubs.opts
	}

	return NewAskHandler(
		weaviateClient,
		stubs.llm,
		stubEmbedder{},
		scanner,
		conversation.NewRouter(),
		conversation.NewRewriter(conversation.RewriteConfig{}),
		&stubHistorySearcher{},
		retrieval.NewEngine(stubs.vector, stubs.graph, time.Second),
		cache.New(cache.NewMemoryStore()),
		nil,
		opts,
	)
}

func performAskStream(t *testing.T, handler AskHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/ask/stream",
		bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.HandleAskStream(c)
	return w
}

// parseSSEEvents decodes every event frame in an SSE body.
func parseSSEEvents(t *testing.T, body string) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func eventsOfType(events []datatypes.StreamEvent, eventType string) []datatypes.StreamEvent {
	var out []datatypes.StreamEvent
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewAskHandler_PanicsOnNilLLMClient(t *testing.T) {
	weaviateClient, err := weaviate.NewClient(weaviate.Config{Host: "localhost:1", Scheme: "http"})
	require.NoError(t, err)

	assert.Panics(t, func() {
		NewAskHandler(weaviateClient, nil, nil, nil, nil, nil, nil, nil, nil, nil,
			extensions.DefaultOptions())
	})
}

func TestNewAskHandler_PanicsOnNilWeaviateClient(t *testing.T) {
	assert.Panics(t, func() {
		NewAskHandler(nil, &streamingStubLLM{}, nil, nil, nil, nil, nil, nil, nil, nil,
			extensions.DefaultOptions())
	})
}

// =============================================================================
// Request Validation Tests
// =============================================================================

func TestHandleAskStream_InvalidBody(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{})
	w := performAskStream(t, handler, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAskStream_EmptyQuestion(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{})
	w := performAskStream(t, handler, `{"question": ""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAskStream_InvalidSessionID(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{})
	w := performAskStream(t, handler,
		`{"question": "what helps with fever", "session_id": "not-a-uuid"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Streaming Tests
// =============================================================================

func TestHandleAskStream_Success(t *testing.T) {
	stub := &streamingStubLLM{StreamTokens: []string{"Drink ", "fluids ", "and rest."}}
	handler := newTestAskHandler(t, askHandlerStubs{llm: stub})

	w := performAskStream(t, handler, `{"question": "what helps with fever"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSEEvents(t, w.Body.String())
	require.NotEmpty(t, events)

	chunks := eventsOfType(events, datatypes.EventChunk)
	require.Len(t, chunks, 3)
	var streamed strings.Builder
	for _, ev := range chunks {
		streamed.WriteString(ev.Content)
	}
	assert.Equal(t, "Drink fluids and rest.", streamed.String())

	dones := eventsOfType(events, datatypes.EventDone)
	require.Len(t, dones, 1, "exactly one terminal event")
	done := dones[0]
	assert.Equal(t, done, events[len(events)-1], "done is the last event")
	assert.Equal(t, "Drink fluids and rest.", done.Answer)
	require.NotNil(t, done.Metadata)
	assert.NotEmpty(t, done.Metadata.SessionId, "minted session id is announced")
	assert.Equal(t, 1, done.Metadata.TurnNumber)
	assert.Equal(t, "en", done.Metadata.Language)
	assert.False(t, done.Metadata.Degraded)

	require.Len(t, done.Citations, 1)
	assert.Equal(t, testPassage.Source, done.Citations[0].Source)
	require.Len(t, done.Facts, 1)
	assert.Equal(t, testFact.Subject, done.Facts[0].Subject)

	assert.Empty(t, eventsOfType(events, datatypes.EventError))
	assert.Equal(t, 1, stub.GenerateStreamCalls)
}

func TestHandleAskStream_HashChain(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{
		llm: &streamingStubLLM{StreamTokens: []string{"a", "b"}},
	})

	w := performAskStream(t, handler, `{"question": "what helps with fever"}`)
	events := parseSSEEvents(t, w.Body.String())
	require.NotEmpty(t, events)

	assert.Empty(t, events[0].PrevHash, "chain starts empty")
	for i, ev := range events {
		assert.NotEmpty(t, ev.Id)
		assert.NotZero(t, ev.CreatedAt)
		assert.Equal(t, computeEventHash(ev), ev.Hash, "event %d hash recomputes", i)
		if i > 0 {
			assert.Equal(t, events[i-1].Hash, ev.PrevHash, "event %d links to predecessor", i)
		}
	}
}

func TestHandleAskStream_GenerationFailure(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{
		llm: &streamingStubLLM{StreamError: assert.AnError},
	})

	w := performAskStream(t, handler, `{"question": "what helps with fever"}`)
	events := parseSSEEvents(t, w.Body.String())

	errs := eventsOfType(events, datatypes.EventError)
	require.Len(t, errs, 1)
	assert.NotEmpty(t, errs[0].Error)
	assert.Empty(t, eventsOfType(events, datatypes.EventDone))
}

func TestHandleAskStream_RetrievalFailureBothLanes(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{
		vector: &stubVectorSearcher{err: assert.AnError},
		graph:  &stubGraphSearcher{err: assert.AnError},
	})

	w := performAskStream(t, handler, `{"question": "what helps with fever"}`)
	events := parseSSEEvents(t, w.Body.String())

	errs := eventsOfType(events, datatypes.EventError)
	require.Len(t, errs, 1)
	assert.Empty(t, eventsOfType(events, datatypes.EventDone))
}

func TestHandleAskStream_DegradedRetrieval(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{
		vector: &stubVectorSearcher{err: assert.AnError},
		graph:  &stubGraphSearcher{facts: []knowledge.Fact{testFact}},
	})

	w := performAskStream(t, handler, `{"question": "what helps with fever"}`)
	events := parseSSEEvents(t, w.Body.String())

	dones := eventsOfType(events, datatypes.EventDone)
	require.Len(t, dones, 1)
	assert.True(t, dones[0].Metadata.Degraded)
	assert.Empty(t, dones[0].Citations, "failed vector lane contributes nothing")
}

func TestHandleAskStream_SafetyFindingInDoneEvent(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{})

	w := performAskStream(t, handler,
		`{"question": "I have crushing chest pain, what should I do"}`)
	events := parseSSEEvents(t, w.Body.String())

	dones := eventsOfType(events, datatypes.EventDone)
	require.Len(t, dones, 1)
	require.NotNil(t, dones[0].Safety)
	assert.True(t, dones[0].Safety.RedFlag)
	assert.NotEmpty(t, dones[0].Safety.Guidance)
}

// Any matched safety category raises the red flag, not just RED_FLAG
// itself. A crisis query that only trips MENTAL_HEALTH must still ship
// red_flag=true so clients surface the helpline guidance.
func TestHandleAskStream_MentalHealthFindingRaisesRedFlag(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{})

	w := performAskStream(t, handler,
		`{"question": "sometimes I want to die, nothing helps"}`)
	events := parseSSEEvents(t, w.Body.String())

	dones := eventsOfType(events, datatypes.EventDone)
	require.Len(t, dones, 1)
	require.NotNil(t, dones[0].Safety)
	assert.True(t, dones[0].Safety.RedFlag)
	assert.Contains(t, dones[0].Safety.Categories, "MENTAL_HEALTH")
	assert.NotContains(t, dones[0].Safety.Categories, "RED_FLAG")
	assert.NotEmpty(t, dones[0].Safety.Guidance)
}

func TestHandleAskStream_SafetyFindingRidesErrorEvent(t *testing.T) {
	handler := newTestAskHandler(t, askHandlerStubs{
		llm: &streamingStubLLM{StreamError: assert.AnError},
	})

	w := performAskStream(t, handler,
		`{"question": "I have crushing chest pain, what should I do"}`)
	events := parseSSEEvents(t, w.Body.String())

	errs := eventsOfType(events, datatypes.EventError)
	require.Len(t, errs, 1)
	require.NotNil(t, errs[0].Safety, "safety guidance survives a failed turn")
	assert.True(t, errs[0].Safety.RedFlag)
}

// =============================================================================
// Translation Tests
// =============================================================================

func TestHandleAskStream_TranslatesToSessionLanguage(t *testing.T) {
	stub := &streamingStubLLM{
		StreamTokens: []string{"Drink fluids."},
		Translated:   "Paani aur tarals peejiye.",
	}
	handler := newTestAskHandler(t, askHandlerStubs{llm: stub})

	w := performAskStream(t, handler,
		`{"question": "bukhar me kya karna chahiye", "language": "hi"}`)
	events := parseSSEEvents(t, w.Body.String())

	require.Len(t, eventsOfType(events, datatypes.EventTranslatedStart), 1)
	assert.Equal(t, "hi", stub.LastTranslateLang)

	dones := eventsOfType(events, datatypes.EventDone)
	require.Len(t, dones, 1)
	assert.Equal(t, "Paani aur tarals peejiye.", dones[0].Answer)
	assert.Equal(t, "hi", dones[0].Metadata.Language)

	// The translated text is re-emitted as a chunk after
	// translated_start so simple clients can keep appending.
	chunks := eventsOfType(events, datatypes.EventChunk)
	assert.Equal(t, "Paani aur tarals peejiye.", chunks[len(chunks)-1].Content)
}

func TestHandleAskStream_TranslationFailureKeepsEnglish(t *testing.T) {
	stub := &streamingStubLLM{
		StreamTokens:   []string{"Drink fluids."},
		TranslateError: assert.AnError,
	}
	handler := newTestAskHandler(t, askHandlerStubs{llm: stub})

	w := performAskStream(t, handler,
		`{"question": "bukhar me kya karna chahiye", "language": "hi"}`)
	events := parseSSEEvents(t, w.Body.String())

	assert.Empty(t, eventsOfType(events, datatypes.EventTranslatedStart))

	dones := eventsOfType(events, datatypes.EventDone)
	require.Len(t, dones, 1, "translation failure still completes the stream")
	assert.Equal(t, "Drink fluids.", dones[0].Answer)
	assert.Equal(t, "en", dones[0].Metadata.Language, "language reflects what was delivered")
}

func TestHandleAskStream_NoTranslationForEnglish(t *testing.T) {
	stub := &streamingStubLLM{
		StreamTokens: []string{"Drink fluids."},
		Translated:   "should not be used",
	}
	handler := newTestAskHandler(t, askHandlerStubs{llm: stub})

	w := performAskStream(t, handler,
		`{"question": "what helps with fever", "language": "en"}`)
	events := parseSSEEvents(t, w.Body.String())

	assert.Empty(t, eventsOfType(events, datatypes.EventTranslatedStart))
	dones := eventsOfType(events, datatypes.EventDone)
	require.Len(t, dones, 1)
	assert.Equal(t, "Drink fluids.", dones[0].Answer)
}

// =============================================================================
// Prompt Grounding Tests
// =============================================================================

func TestHandleAskStream_PromptCarriesRetrievedContext(t *testing.T) {
	stub := &streamingStubLLM{StreamTokens: []string{"ok"}}
	handler := newTestAskHandler(t, askHandlerStubs{llm: stub})

	performAskStream(t, handler,
		`{"question": "what helps with fever", "profile": {"conditions": ["diabetes"], "city": "pune"}}`)

	fullPrompt := stub.LastPrompt.System + stub.LastPrompt.User
	assert.Contains(t, fullPrompt, testPassage.Text)
	assert.Contains(t, fullPrompt, "diabetes")
}

// =============================================================================
// Persistence Decoupling Tests
// =============================================================================

// gatedClassifier blocks the first persistence step until released,
// so tests can observe where the stream stands while the background
// task is stuck.
type gatedClassifier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedClassifier() *gatedClassifier {
	return &gatedClassifier{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *gatedClassifier) Classify(ctx context.Context, content string) (*extensions.ClassificationResult, error) {
	c.once.Do(func() { close(c.started) })
	<-c.release
	return &extensions.ClassificationResult{HighestLevel: extensions.ClassificationPublic}, nil
}

func (c *gatedClassifier) ClassifyBatch(ctx context.Context, contents []string) ([]*extensions.ClassificationResult, error) {
	results := make([]*extensions.ClassificationResult, len(contents))
	for i := range contents {
		results[i] = &extensions.ClassificationResult{HighestLevel: extensions.ClassificationPublic}
	}
	return results, nil
}

// countingClassifier records whether persistence ever started.
type countingClassifier struct {
	calls atomic.Int32
}

func (c *countingClassifier) Classify(ctx context.Context, content string) (*extensions.ClassificationResult, error) {
	c.calls.Add(1)
	return &extensions.ClassificationResult{HighestLevel: extensions.ClassificationPublic}, nil
}

func (c *countingClassifier) ClassifyBatch(ctx context.Context, contents []string) ([]*extensions.ClassificationResult, error) {
	results := make([]*extensions.ClassificationResult, len(contents))
	for i := range contents {
		results[i] = &extensions.ClassificationResult{HighestLevel: extensions.ClassificationPublic}
	}
	return results, nil
}

// The done event must reach the client before persistence runs; a
// slow persistence path must not delay stream completion.
func TestHandleAskStream_DoneEventPrecedesPersistence(t *testing.T) {
	classifier := newGatedClassifier()
	opts := extensions.DefaultOptions().WithClassifier(classifier)
	handler := newTestAskHandler(t, askHandlerStubs{opts: &opts})

	// Returns only once the stream is fully written. The classifier is
	// still blocking the background task at this point.
	w := performAskStream(t, handler, `{"question": "what helps with fever"}`)

	events := parseSSEEvents(t, w.Body.String())
	require.Len(t, eventsOfType(events, datatypes.EventDone), 1,
		"stream completed while persistence was blocked")

	// The background task does start, strictly after the response.
	select {
	case <-classifier.started:
	case <-time.After(2 * time.Second):
		t.Fatal("persistence task never started")
	}
	close(classifier.release)
}

// A client that disconnects mid-generation leaves no persisted turn
// behind.
func TestHandleAskStream_ClientCancellationSkipsPersistence(t *testing.T) {
	classifier := &countingClassifier{}
	opts := extensions.DefaultOptions().WithClassifier(classifier)

	reqCtx, disconnect := context.WithCancel(context.Background())
	stub := &streamingStubLLM{
		StreamTokens: []string{"Drink ", "fluids."},
		OnToken:      disconnect,
	}
	handler := newTestAskHandler(t, askHandlerStubs{llm: stub, opts: &opts})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/ask/stream",
		bytes.NewBufferString(`{"question": "what helps with fever"}`)).WithContext(reqCtx)
	c.Request.Header.Set("Content-Type", "application/json")

	handler.HandleAskStream(c)

	// Persistence is scheduled synchronously in the stream epilogue,
	// so by now it either ran or never will.
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, classifier.calls.Load(), "cancelled turn must not be persisted")
}

// =============================================================================
// Config Tests
// =============================================================================

func TestGenerationTimeoutFromEnv(t *testing.T) {
	t.Setenv("SEHAT_GENERATION_TIMEOUT_SECONDS", "30")
	assert.Equal(t, 30*time.Second, generationTimeoutFromEnv())

	t.Setenv("SEHAT_GENERATION_TIMEOUT_SECONDS", "garbage")
	assert.Equal(t, defaultGenerationTimeout, generationTimeoutFromEnv())

	t.Setenv("SEHAT_GENERATION_TIMEOUT_SECONDS", "")
	assert.Equal(t, defaultGenerationTimeout, generationTimeoutFromEnv())
}
