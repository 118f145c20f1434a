// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers for the orchestrator
// service: the streaming ask pipeline, the retrieval debug endpoint,
// session listings, the WebSocket mirror, and health probes.
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
	"github.com/SehatAI/SehatOSS/services/llm"
	"github.com/SehatAI/SehatOSS/services/orchestrator/cache"
	"github.com/SehatAI/SehatOSS/services/orchestrator/conversation"
	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/SehatAI/SehatOSS/services/orchestrator/knowledge"
	"github.com/SehatAI/SehatOSS/services/orchestrator/middleware"
	"github.com/SehatAI/SehatOSS/services/orchestrator/observability"
	"github.com/SehatAI/SehatOSS/services/orchestrator/retrieval"
	"github.com/SehatAI/SehatOSS/services/orchestrator/safety"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is how often an SSE comment goes out while the
	// pipeline is between events. Below common LB idle timeouts (60s).
	heartbeatInterval = 15 * time.Second

	// eventBufferSize is the pipeline-to-writer channel depth. Deep
	// enough that token bursts do not stall generation on slow links.
	eventBufferSize = 64

	// defaultGenerationTimeout bounds one generation call.
	defaultGenerationTimeout = 120 * time.Second

	// retrievalCacheTTL bounds how long a retrieval bundle stays
	// cached; turn appends invalidate the session's entries earlier.
	retrievalCacheTTL = 5 * time.Minute

	// defaultLanguage is the reply language when neither the request
	// nor the profile names one.
	defaultLanguage = "en"

	// generationLanguage is the language answers are generated in
	// before any translation pass.
	generationLanguage = "en"
)

// Pipeline states, in order. ERROR is reachable from every state.
const (
	StateReceived      = "RECEIVED"
	StateSafetyChecked = "SAFETY_CHECKED"
	StateRetrieving    = "RETRIEVING"
	StateGenerating    = "GENERATING"
	StateTranslating   = "TRANSLATING"
	StateDone          = "DONE"
	StateError         = "ERROR"
)

// =============================================================================
// Interface Definition
// =============================================================================

// AskHandler serves the ask surface: the SSE stream, its WebSocket
// mirror, and the non-streaming retrieval debug endpoint. Both
// streaming transports run the same pipeline through streamAsk.
type AskHandler interface {
	// HandleAskStream processes POST /v1/ask/stream.
	HandleAskStream(c *gin.Context)

	// HandleAskWebSocket processes GET /v1/ws/ask.
	HandleAskWebSocket(c *gin.Context)

	// HandleRetrieve processes POST /v1/retrieve.
	HandleRetrieve(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// askHandler runs the ask pipeline:
//
//	RECEIVED → SAFETY_CHECKED → RETRIEVING → GENERATING → [TRANSLATING] → DONE
//
// The pipeline goroutine owns state transitions and writes typed
// events into a channel; the transport handler drains the channel to
// the wire and owns heartbeats. Exactly one background persistence
// task runs strictly after the done event; client cancellation before
// done means no persistence.
type askHandler struct {
	weaviateClient *weaviate.Client
	llmClient      llm.LLMClient
	embedder       datatypes.Embedder
	scanner        *safety.Scanner
	router         *conversation.Router
	rewriter       *conversation.Rewriter
	history        conversation.HistorySearcher
	engine         *retrieval.Engine
	cache          *cache.Cache
	timeseries     *observability.TimeseriesRecorder
	opts           extensions.ServiceOptions
	tracer         trace.Tracer

	generationTimeout time.Duration
}

// Compile-time interface compliance check.
var _ AskHandler = (*askHandler)(nil)

// NewAskHandler creates the ask handler.
//
// # Inputs
//
//   - weaviateClient: persistence and retrieval store. Required.
//   - llmClient: generation backend. Required.
//   - embedder: embedding client for memory chunk persistence. Required.
//   - scanner, router, rewriter, history, engine, cacheLayer: pipeline
//     stages. Required.
//   - timeseries: operational recorder. May be nil (no-op).
//   - opts: extension hooks, normalized to Nop defaults.
//
// Panics on nil required dependencies; this is a wiring error.
func NewAskHandler(
	weaviateClient *weaviate.Client,
	llmClient llm.LLMClient,
	embedder datatypes.Embedder,
	scanner *safety.Scanner,
	router *conversation.Router,
	rewriter *conversation.Rewriter,
	history conversation.HistorySearcher,
	engine *retrieval.Engine,
	cacheLayer *cache.Cache,
	timeseries *observability.TimeseriesRecorder,
	opts extensions.ServiceOptions,
) AskHandler {
	if weaviateClient == nil {
		panic("NewAskHandler: weaviateClient is required")
	}
	if llmClient == nil {
		panic("NewAskHandler: llmClient is required")
	}
	if embedder == nil {
		panic("NewAskHandler: embedder is required")
	}
	if scanner == nil || router == nil || rewriter == nil {
		panic("NewAskHandler: scanner, router, and rewriter are required")
	}
	if history == nil || engine == nil || cacheLayer == nil {
		panic("NewAskHandler: history, engine, and cache are required")
	}

	return &askHandler{
		weaviateClient:    weaviateClient,
		llmClient:         llmClient,
		embedder:          embedder,
		scanner:           scanner,
		router:            router,
		rewriter:          rewriter,
		history:           history,
		engine:            engine,
		cache:             cacheLayer,
		timeseries:        timeseries,
		opts:              opts.Normalized(),
		tracer:            otel.Tracer("sehat.orchestrator.handlers"),
		generationTimeout: generationTimeoutFromEnv(),
	}
}

func generationTimeoutFromEnv() time.Duration {
	raw := os.Getenv("SEHAT_GENERATION_TIMEOUT_SECONDS")
	if raw == "" {
		return defaultGenerationTimeout
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		slog.Warn("Invalid SEHAT_GENERATION_TIMEOUT_SECONDS, using default",
			"value", raw, "default", defaultGenerationTimeout)
		return defaultGenerationTimeout
	}
	return time.Duration(seconds) * time.Second
}

// =============================================================================
// SSE Entry Point
// =============================================================================

// HandleAskStream processes POST /v1/ask/stream.
//
// # Description
//
// Validates the request, resolves the profile, then hands off to the
// shared pipeline with an SSE event writer. HTTP error statuses are
// only possible before the stream starts; once SSE headers are out,
// failures surface as a terminal error event.
func (h *askHandler) HandleAskStream(c *gin.Context) {
	endpoint := observability.EndpointSSE

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleAskStream")
	defer span.End()

	var req datatypes.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "request validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, reason, auditID := h.gateRequest(ctx, c, &req, "ask/stream")
	if status != 0 {
		c.JSON(status, gin.H{"error": reason})
		return
	}

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	h.streamAsk(ctx, endpoint, &req, writer, auditID)
}

// gateRequest runs the pre-stream extension hooks: authorization,
// input filtering, and request capture. Returns a non-zero HTTP status
// to reject, with a client-safe reason; on acceptance the third return
// is the RequestAuditor correlation id. The filtered question replaces
// req.Question.
func (h *askHandler) gateRequest(ctx context.Context, c *gin.Context,
	req *datatypes.AskRequest, resourceID string) (int, string, string) {

	authInfo := middleware.GetAuthInfo(c)
	userID := "anonymous"
	if authInfo != nil {
		userID = authInfo.UserID
	}

	if err := h.opts.AuthzProvider.Authorize(ctx, extensions.AuthzRequest{
		User:         authInfo,
		Action:       "ask",
		ResourceType: "health_qa",
		ResourceID:   resourceID,
	}); err != nil {
		_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
			EventType:    "authz.denied",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "ask",
			ResourceType: "health_qa",
			ResourceID:   resourceID,
			Outcome:      "denied",
			Metadata:     map[string]any{"reason": err.Error()},
		})
		return http.StatusForbidden, "access denied", ""
	}

	filterResult, err := h.opts.MessageFilter.FilterInput(ctx, req.Question)
	if err != nil {
		slog.Error("Input filter failed", "error", err)
		return http.StatusInternalServerError, "message processing failed", ""
	}
	if filterResult.WasBlocked {
		_ = h.opts.AuditLogger.Log(ctx, extensions.AuditEvent{
			EventType:    "ask.blocked",
			Timestamp:    time.Now().UTC(),
			UserID:       userID,
			Action:       "ask",
			ResourceType: "health_qa",
			ResourceID:   resourceID,
			Outcome:      "blocked",
			Metadata:     map[string]any{"reason": filterResult.BlockReason},
		})
		return http.StatusForbidden, "message blocked by content filter", ""
	}
	req.Question = filterResult.Filtered

	// Capture the accepted (post-filter) request. The auditor pairs it
	// with the response when the stream finishes.
	auditID, _ := h.opts.RequestAuditor.CaptureRequest(ctx, &extensions.AuditableRequest{
		Method:    c.Request.Method,
		Path:      c.FullPath(),
		Headers:   extensions.HTTPHeaders{"Content-Type": c.ContentType()},
		Body:      []byte(req.Question),
		UserID:    userID,
		SessionID: req.SessionId,
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
	})
	return 0, "", auditID
}

// =============================================================================
// Shared Pipeline Driver
// =============================================================================

// askOutcome is what the pipeline goroutine hands back to the
// transport driver after the terminal event.
type askOutcome struct {
	state        string
	err          error
	sessionID    string
	turnNumber   int
	question     string
	answer       string
	answerHash   string
	language     string
	degraded     bool
	scan         safety.ScanResult
	firstChunkAt time.Time
}

// streamAsk runs the pipeline for one request and drains its events to
// the writer. Shared by the SSE handler and the WebSocket mirror.
//
// # Description
//
// The pipeline goroutine produces events; this driver writes them,
// keeps the connection alive with heartbeats while the pipeline is
// quiet, and schedules the persistence task strictly after a
// successful done event. A write failure means the client is gone:
// the pipeline context is cancelled and no persistence runs.
func (h *askHandler) streamAsk(reqCtx context.Context, endpoint observability.Endpoint,
	req *datatypes.AskRequest, writer EventWriter, auditID string) {

	startTime := time.Now()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	ctx, cancel := context.WithCancel(reqCtx)
	defer cancel()

	events := make(chan datatypes.StreamEvent, eventBufferSize)
	outcomeCh := make(chan *askOutcome, 1)
	go func() {
		outcomeCh <- h.runAskPipeline(ctx, endpoint, req, events)
		close(events)
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	clientGone := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.finishStream(ctx, endpoint, startTime, <-outcomeCh, clientGone, auditID)
				return
			}
			if clientGone {
				continue // drain so the pipeline can exit
			}
			if err := writer.WriteEvent(ev); err != nil {
				slog.Debug("Client write failed, cancelling pipeline", "error", err)
				clientGone = true
				cancel()
			}
		case <-ticker.C:
			if clientGone {
				continue
			}
			if err := writer.WriteKeepAlive(); err != nil {
				clientGone = true
				cancel()
				continue
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordHeartbeat(endpoint)
			}
		}
	}
}

// finishStream records terminal metrics, closes the audit capture,
// and schedules persistence.
func (h *askHandler) finishStream(ctx context.Context, endpoint observability.Endpoint,
	startTime time.Time, outcome *askOutcome, clientGone bool, auditID string) {

	duration := time.Since(startTime)
	cancelled := clientGone || ctx.Err() != nil
	success := outcome.err == nil && !cancelled

	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, success)
		m.RecordStreamDuration(endpoint, duration.Seconds(), success)
		if !outcome.firstChunkAt.IsZero() {
			m.RecordTimeToFirstChunk(endpoint, outcome.firstChunkAt.Sub(startTime).Seconds())
		}
		if cancelled {
			m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
			m.RecordClientDisconnect(endpoint)
		}
	}
	h.timeseries.RecordStream(string(endpoint), duration, outcome.degraded, success)

	statusCode := http.StatusOK
	if !success {
		statusCode = http.StatusInternalServerError
	}
	_ = h.opts.RequestAuditor.CaptureResponse(ctx, auditID, &extensions.AuditableResponse{
		StatusCode: statusCode,
		Body:       []byte(outcome.answer),
		Timestamp:  time.Now().UTC(),
	})

	if !success {
		slog.Info("ask stream ended without persistence",
			"sessionId", outcome.sessionID,
			"state", outcome.state,
			"cancelled", cancelled,
			"error", outcome.err)
		return
	}

	// The done event is on the wire; persistence must not delay or
	// fail the response. Detached context: the request is over.
	go h.persistTurn(context.Background(), persistInput{
		SessionID:        outcome.sessionID,
		TurnNumber:       outcome.turnNumber,
		Question:         outcome.question,
		Answer:           outcome.answer,
		AnswerHash:       outcome.answerHash,
		Language:         outcome.language,
		SafetyCategories: outcome.scan.Categories(),
		Degraded:         outcome.degraded,
	})
}

// =============================================================================
// Pipeline
// =============================================================================

// runAskPipeline executes the state machine for one question. It is
// the only writer to the events channel and always emits exactly one
// terminal event (done or error) unless the context is cancelled
// mid-flight.
func (h *askHandler) runAskPipeline(ctx context.Context, endpoint observability.Endpoint,
	req *datatypes.AskRequest, events chan<- datatypes.StreamEvent) *askOutcome {

	ctx, span := h.tracer.Start(ctx, "runAskPipeline")
	defer span.End()

	outcome := &askOutcome{state: StateReceived, question: req.Question}

	// Session identity is decided up front so every later stage and
	// the done event agree on it.
	outcome.sessionID = req.SessionId
	newSession := outcome.sessionID == ""
	if newSession {
		outcome.sessionID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("ask.session_id", outcome.sessionID),
		attribute.Bool("ask.new_session", newSession),
	)

	// --- SAFETY_CHECKED ------------------------------------------------
	outcome.scan = h.scanner.Scan(req.Question)
	outcome.state = StateSafetyChecked
	if outcome.scan.Fired {
		span.SetAttributes(attribute.StringSlice("safety.categories", outcome.scan.Categories()))
		for _, category := range outcome.scan.Categories() {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordSafetyFinding(category)
			}
			h.timeseries.RecordSafetyFinding(category)
		}
	}

	// --- Profile and language -----------------------------------------
	profile := h.resolveProfile(ctx, req, outcome.sessionID)
	outcome.language = profile.Language
	span.SetAttributes(attribute.String("ask.language", outcome.language))

	// --- History, routing, rewriting ----------------------------------
	var history []conversation.Turn
	if !newSession {
		count, err := datatypes.GetTurnCount(ctx, h.weaviateClient, outcome.sessionID)
		if err != nil {
			slog.Warn("Failed to count turns, treating session as fresh",
				"sessionId", outcome.sessionID, "error", err)
		}
		outcome.turnNumber = count + 1

		history, err = h.history.GetHybridContext(ctx, outcome.sessionID, req.Question, outcome.turnNumber)
		if err != nil {
			// History enriches routing and rewriting; the turn can
			// proceed without it.
			slog.Warn("Failed to load session history, continuing without",
				"sessionId", outcome.sessionID, "error", err)
		}
	} else {
		outcome.turnNumber = 1
	}

	route := h.router.Classify(req.Question, history)
	rewritten := h.rewriter.Rewrite(req.Question, history)
	span.SetAttributes(
		attribute.Bool("route.graph", route.UseGraph),
		attribute.Bool("route.vector", route.UseVector),
		attribute.Bool("ask.rewritten", rewritten != req.Question),
	)

	// --- RETRIEVING ----------------------------------------------------
	outcome.state = StateRetrieving
	if !h.emit(ctx, events, datatypes.NewStreamEvent(datatypes.EventStatus).
		WithMessage("Searching health knowledge...")) {
		return outcome
	}

	bundle, err := h.retrieveWithCache(ctx, retrieval.Input{
		Route:          route,
		RewrittenQuery: rewritten,
		OriginalQuery:  req.Question,
		Conditions:     profile.Conditions,
		City:           profile.City,
	}, outcome.sessionID, outcome.language)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeRetrievalError)
		}
		return h.emitErrorOutcome(ctx, events, outcome,
			"could not reach the knowledge base", err)
	}
	outcome.degraded = bundle.Degraded

	// --- GENERATING ----------------------------------------------------
	outcome.state = StateGenerating
	if !h.emit(ctx, events, datatypes.NewStreamEvent(datatypes.EventStatus).
		WithMessage("Generating answer...")) {
		return outcome
	}

	answer, answerHash, genErr := h.generate(ctx, req.Question, profile, bundle, outcome, events)
	if genErr != nil {
		span.RecordError(genErr)
		span.SetStatus(codes.Error, "generation failed")
		code := observability.ErrorCodeLLMError
		if errors.Is(genErr, context.DeadlineExceeded) {
			code = observability.ErrorCodeTimeout
		}
		if errors.Is(genErr, context.Canceled) {
			// Client gone; the driver records the disconnect.
			outcome.err = genErr
			return outcome
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, code)
		}
		return h.emitErrorOutcome(ctx, events, outcome,
			"the assistant could not produce an answer, please retry", genErr)
	}

	// --- TRANSLATING ---------------------------------------------------
	if outcome.language != generationLanguage {
		outcome.state = StateTranslating
		answer, answerHash = h.translate(ctx, endpoint, answer, answerHash, outcome, events)
	}
	outcome.answer = answer
	outcome.answerHash = answerHash

	// --- DONE ----------------------------------------------------------
	if outcome.degraded {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordDegradedAnswer()
		}
	}

	done := datatypes.NewStreamEvent(datatypes.EventDone)
	done.Answer = answer
	done.Citations = citationsFromPassages(bundle.Passages)
	done.Facts = factsFromBundle(bundle.Facts)
	done.Safety = safetyPayload(outcome.scan)
	done.Metadata = &datatypes.AskMetadata{
		SessionId:  outcome.sessionID,
		Language:   outcome.language,
		Degraded:   outcome.degraded,
		TurnNumber: outcome.turnNumber,
	}
	if !h.emit(ctx, events, done) {
		return outcome
	}

	outcome.state = StateDone
	span.SetStatus(codes.Ok, "pipeline complete")
	return outcome
}

// emit sends an event unless the context is already cancelled. A false
// return means the client is gone and the pipeline should unwind.
func (h *askHandler) emit(ctx context.Context, events chan<- datatypes.StreamEvent,
	ev datatypes.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitErrorOutcome emits the terminal error event. A safety finding is
// never dropped: when the scan fired, its payload rides in the error
// event so the guidance reaches the client even on a failed turn.
func (h *askHandler) emitErrorOutcome(ctx context.Context, events chan<- datatypes.StreamEvent,
	outcome *askOutcome, clientMsg string, err error) *askOutcome {

	outcome.state = StateError
	outcome.err = err
	slog.Error("ask pipeline failed",
		"sessionId", outcome.sessionID, "state", outcome.state, "error", err)

	ev := datatypes.NewStreamEvent(datatypes.EventError).WithError(clientMsg)
	ev.Safety = safetyPayload(outcome.scan)
	h.emit(ctx, events, ev)
	return outcome
}

// =============================================================================
// Pipeline Stages
// =============================================================================

// resolveProfile returns the health profile for this request: inline
// profile if the request carries one, otherwise the ProfileProvider's
// answer for the session, otherwise empty. Language resolution order:
// request, provider profile, default.
func (h *askHandler) resolveProfile(ctx context.Context,
	req *datatypes.AskRequest, sessionID string) extensions.Profile {

	language := req.Language

	if req.Profile != nil {
		if language == "" {
			language = defaultLanguage
		}
		return req.Profile.ToProfile(language)
	}

	profile, err := h.opts.ProfileProvider.ProfileFor(ctx, sessionID)
	if err != nil {
		slog.Warn("Profile provider failed, continuing without profile",
			"sessionId", sessionID, "error", err)
		profile = extensions.Profile{}
	}
	if language != "" {
		profile.Language = language
	}
	if profile.Language == "" {
		profile.Language = defaultLanguage
	}
	return profile
}

// retrieveWithCache runs retrieval through the session-scoped cache.
// The fingerprint covers everything that changes the bundle; a cached
// bundle is byte-identical to a fresh one by construction.
func (h *askHandler) retrieveWithCache(ctx context.Context, input retrieval.Input,
	sessionID, language string) (retrieval.Bundle, error) {

	fingerprint := cache.Fingerprint(
		input.RewrittenQuery,
		input.OriginalQuery,
		fmt.Sprintf("g=%t,v=%t", input.Route.UseGraph, input.Route.UseVector),
		strings.Join(input.Conditions, ","),
		input.City,
		language,
	)
	key := cache.SessionKey(sessionID, fingerprint)

	payload, cached, err := h.cache.GetOrCompute(ctx, key, retrievalCacheTTL,
		func(ctx context.Context) ([]byte, error) {
			bundle, err := h.engine.Retrieve(ctx, input)
			if err != nil {
				return nil, err
			}
			return json.Marshal(bundle)
		})
	if err != nil {
		return retrieval.Bundle{}, err
	}

	var bundle retrieval.Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return retrieval.Bundle{}, fmt.Errorf("corrupt cached bundle: %w", err)
	}
	if cached {
		slog.Debug("Retrieval served from cache", "sessionId", sessionID)
	}
	return bundle, nil
}

// generate streams the answer, accumulating tokens securely and
// emitting chunk events. Returns the full answer and its hash.
func (h *askHandler) generate(ctx context.Context, question string,
	profile extensions.Profile, bundle retrieval.Bundle,
	outcome *askOutcome, events chan<- datatypes.StreamEvent) (string, string, error) {

	genCtx, cancel := context.WithTimeout(ctx, h.generationTimeout)
	defer cancel()

	accumulator, accErr := NewSecureTokenAccumulator()
	if accErr != nil {
		return "", "", fmt.Errorf("failed to allocate answer buffer: %w", accErr)
	}
	defer accumulator.Destroy()

	prompt := llm.BuildAnswerPrompt(llm.AnswerContext{
		Question:    question,
		Language:    generationLanguage,
		Profile:     profile,
		Passages:    bundle.Passages,
		Facts:       bundle.Facts,
		SafetyNotes: safetyNotes(outcome.scan),
	})

	err := h.llmClient.GenerateStream(genCtx, prompt, llm.GenerationParams{},
		func(token string) error {
			if outcome.firstChunkAt.IsZero() {
				outcome.firstChunkAt = time.Now()
			}
			if wErr := accumulator.Write(token); wErr != nil {
				// The user still sees the stream; only persistence of
				// this turn is lost.
				slog.Warn("Failed to accumulate token",
					"sessionId", outcome.sessionID, "error", wErr)
			}
			if !h.emit(ctx, events, datatypes.NewStreamEvent(datatypes.EventChunk).WithContent(token)) {
				return ctx.Err()
			}
			return nil
		})
	if err != nil {
		return "", "", err
	}

	answer, hash, err := accumulator.Finalize()
	if err != nil {
		return "", "", fmt.Errorf("failed to finalize answer: %w", err)
	}
	return answer, hash, nil
}

// translate converts the finished answer into the session language.
//
// On success it emits translated_start followed by the translated text
// as a chunk, and returns the translated answer with a fresh hash. On
// failure the generation-language answer stands: a readable English
// answer beats a failed turn, so the error is logged and counted but
// the stream completes.
func (h *askHandler) translate(ctx context.Context, endpoint observability.Endpoint,
	answer, answerHash string,
	outcome *askOutcome, events chan<- datatypes.StreamEvent) (string, string) {

	translated, err := h.llmClient.Translate(ctx, answer, outcome.language)
	if err != nil || translated == "" {
		slog.Error("Translation failed, keeping generation-language answer",
			"sessionId", outcome.sessionID, "targetLang", outcome.language, "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeTranslation)
		}
		outcome.language = generationLanguage
		return answer, answerHash
	}

	if !h.emit(ctx, events, datatypes.NewStreamEvent(datatypes.EventTranslatedStart)) {
		return answer, answerHash
	}
	if !h.emit(ctx, events, datatypes.NewStreamEvent(datatypes.EventChunk).WithContent(translated)) {
		return answer, answerHash
	}

	sum := sha256.Sum256([]byte(translated))
	return translated, hex.EncodeToString(sum[:])
}

// =============================================================================
// Payload Builders
// =============================================================================

func citationsFromPassages(passages []knowledge.Passage) []datatypes.Citation {
	if len(passages) == 0 {
		return nil
	}
	citations := make([]datatypes.Citation, 0, len(passages))
	for _, p := range passages {
		citations = append(citations, datatypes.Citation{
			Source: p.Source,
			Topic:  p.Topic,
			ID:     p.ID,
			Score:  p.Score,
		})
	}
	return citations
}

func factsFromBundle(facts []knowledge.Fact) []datatypes.FactPayload {
	if len(facts) == 0 {
		return nil
	}
	payload := make([]datatypes.FactPayload, 0, len(facts))
	for _, f := range facts {
		payload = append(payload, datatypes.FactPayload{
			Type:       f.Category,
			Subject:    f.Subject,
			Detail:     f.Detail,
			Confidence: f.Confidence,
		})
	}
	return payload
}

func safetyPayload(scan safety.ScanResult) *datatypes.SafetyPayload {
	if !scan.Fired {
		return &datatypes.SafetyPayload{RedFlag: false}
	}
	return &datatypes.SafetyPayload{
		RedFlag:    scan.Fired,
		Categories: scan.Categories(),
		Guidance:   safetyNotes(scan),
	}
}

func safetyNotes(scan safety.ScanResult) []string {
	if !scan.Fired {
		return nil
	}
	notes := make([]string, 0, len(scan.Findings))
	for _, f := range scan.Findings {
		notes = append(notes, f.Message)
	}
	return notes
}
