// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the data structures shared by the
// orchestrator's handlers, retrieval lanes, and persistence path.
//
// This file contains the ask request and the stream event union. For
// the Weaviate persistence types see session.go and weaviate_schemas.go.
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
	"github.com/SehatAI/SehatOSS/pkg/validation"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxQuestionBytes is the maximum size of one question. Checks byte
	// length, not rune count, to bound memory for multi-byte input.
	MaxQuestionBytes = 8 * 1024

	// MaxProfileConditions bounds the number of conditions a request
	// profile may carry.
	MaxProfileConditions = 32
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// askValidate validates ask datatypes. Initialized once with the custom
// validators the struct tags reference.
var askValidate *validator.Validate

func init() {
	askValidate = validator.New()
	_ = askValidate.RegisterValidation("maxbytes", validateQuestionBytes)
	_ = askValidate.RegisterValidation("langtag", validateLanguageTag)
}

func validateQuestionBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

func validateLanguageTag(fl validator.FieldLevel) bool {
	tag := fl.Field().String()
	if tag == "" {
		return true
	}
	return validation.ValidateLanguage(tag) == nil
}

// =============================================================================
// Ask Request
// =============================================================================

// AskProfile is the health profile a request may carry inline.
//
// When absent, the configured extensions.ProfileProvider is consulted
// for the session instead.
type AskProfile struct {
	// Conditions lists known chronic conditions, lowercase English.
	Conditions []string `json:"conditions,omitempty"`

	// City is the user's city for provider lookups.
	City string `json:"city,omitempty"`
}

// ToProfile converts the wire shape into the extensions profile used
// throughout the pipeline.
func (p AskProfile) ToProfile(language string) extensions.Profile {
	return extensions.Profile{
		Conditions: p.Conditions,
		City:       p.City,
		Language:   language,
	}
}

// AskRequest is the body of POST /v1/ask/stream and of each WebSocket
// ask message.
//
// # Validation
//
//   - Question: required, at most MaxQuestionBytes bytes.
//   - SessionId: optional; when present, must be a canonical UUID.
//   - Language: optional BCP 47 primary tag ("en", "hi", "en-IN").
//   - Profile: optional; condition count bounded.
type AskRequest struct {
	// Question is the user's query, verbatim.
	Question string `json:"question" binding:"required"`

	// SessionId continues an existing session. Empty mints a new one.
	SessionId string `json:"session_id,omitempty"`

	// Language is the reply language. Empty falls back to the session's
	// stored language, then to English.
	Language string `json:"language,omitempty"`

	// Profile carries inline health facts. Optional.
	Profile *AskProfile `json:"profile,omitempty"`
}

// Validate checks the request beyond what gin's binding enforces.
func (r *AskRequest) Validate() error {
	type checked struct {
		Question string `validate:"required,maxbytes"`
		Language string `validate:"langtag"`
	}
	if err := askValidate.Struct(checked{Question: r.Question, Language: r.Language}); err != nil {
		return fmt.Errorf("invalid ask request: %w", err)
	}
	if r.SessionId != "" {
		if err := validation.ValidateSessionID(r.SessionId); err != nil {
			return fmt.Errorf("invalid ask request: %w", err)
		}
	}
	if r.Profile != nil {
		if len(r.Profile.Conditions) > MaxProfileConditions {
			return fmt.Errorf("invalid ask request: profile lists %d conditions, max %d",
				len(r.Profile.Conditions), MaxProfileConditions)
		}
		if r.Profile.City != "" {
			city, err := validation.SanitizeCity(r.Profile.City)
			if err != nil {
				return fmt.Errorf("invalid ask request: %w", err)
			}
			r.Profile.City = city
		}
	}
	return nil
}

// =============================================================================
// Stream Event Union
// =============================================================================

// Stream event types. The protocol is: zero or more chunk events, at
// most one translated_start, then exactly one terminal done or error.
const (
	// EventChunk carries one generation increment in Content.
	EventChunk = "chunk"

	// EventStatus carries a human-readable progress message.
	EventStatus = "status"

	// EventTranslatedStart signals that previously emitted chunks were
	// provisional generation-language output and should be discarded;
	// translated chunks follow.
	EventTranslatedStart = "translated_start"

	// EventDone is the terminal success event carrying the whole answer.
	EventDone = "done"

	// EventError is the terminal failure event, mutually exclusive
	// with done.
	EventError = "error"
)

// Citation is one retrieved passage's provenance, attached to the
// final answer for rendering.
type Citation struct {
	// Source names where the passage came from (document or dataset).
	Source string `json:"source"`

	// Topic is the passage's health topic tag, when known.
	Topic string `json:"topic,omitempty"`

	// ID is the backing store's object id for the passage.
	ID string `json:"id,omitempty"`

	// Score is the retrieval certainty, 0..1.
	Score float64 `json:"score,omitempty"`
}

// FactPayload is one structured graph fact group in the done event.
type FactPayload struct {
	// Type is the fact category: contraindications, safe_actions,
	// providers, red_flags, mental_health_crisis, pregnancy_alert.
	Type string `json:"type"`

	// Subject is what the fact is about (a symptom, a condition, a city).
	Subject string `json:"subject,omitempty"`

	// Detail is the fact text.
	Detail string `json:"detail"`

	// Confidence is the store's confidence in the edge, 0..1.
	Confidence float64 `json:"confidence,omitempty"`
}

// SafetyPayload is the safety block of the done event. It is never
// omitted when a finding fired: the ordering contract guarantees a
// red-flag finding reaches the client with or before the answer.
type SafetyPayload struct {
	RedFlag    bool     `json:"red_flag"`
	Categories []string `json:"categories,omitempty"`

	// Guidance is the category-level emergency guidance, bilingual.
	Guidance []string `json:"guidance,omitempty"`
}

// AskMetadata is the metadata block of the done event.
type AskMetadata struct {
	// SessionId is always present so the client can continue the session.
	SessionId string `json:"session_id"`

	// Language is the language the final answer is in.
	Language string `json:"language,omitempty"`

	// Degraded is true when retrieval ran with partial context.
	Degraded bool `json:"degraded,omitempty"`

	// TurnNumber is the 1-indexed turn within the session.
	TurnNumber int `json:"turn_number,omitempty"`
}

// StreamEvent is the single wire type for every stream event. Fields
// are populated per Type; unused fields are omitted from JSON.
//
// Every event carries integrity metadata set by the SSE writer:
// Id, CreatedAt, Hash, and PrevHash form a hash chain the client can
// verify end to end.
type StreamEvent struct {
	Type string `json:"type"`

	// Content is set for chunk events.
	Content string `json:"content,omitempty"`

	// Message is set for status events.
	Message string `json:"message,omitempty"`

	// Error is set for error events. Sanitized, no internal detail.
	Error string `json:"error,omitempty"`

	// Answer, Citations, Facts, Safety, and Metadata are set for the
	// done event only.
	Answer    string         `json:"answer,omitempty"`
	Citations []Citation     `json:"citations,omitempty"`
	Facts     []FactPayload  `json:"facts,omitempty"`
	Safety    *SafetyPayload `json:"safety,omitempty"`
	Metadata  *AskMetadata   `json:"metadata,omitempty"`

	// Integrity metadata, set by the writer.
	Id        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}

// NewStreamEvent creates an event of the given type. Builder methods
/// fill in per-type fields:
//
//	ev := datatypes.NewStreamEvent(datatypes.EventChunk).WithContent(token)
func NewStreamEvent(eventType string) StreamEvent {
	return StreamEvent{Type: eventType}
}

// WithContent sets the chunk content.
func (e StreamEvent) WithContent(content string) StreamEvent {
	e.Content = content
	return e
}

// WithMessage sets the status message.
func (e StreamEvent) WithMessage(message string) StreamEvent {
	e.Message = message
	return e
}

// WithError sets the sanitized error text.
func (e StreamEvent) WithError(errMsg string) StreamEvent {
	e.Error = errMsg
	return e
}
