// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// AuditEvent represents a security-relevant event for compliance logging.
//
// Health conversations fall under HIPAA-adjacent handling requirements in
// most deployments; the audit trail is what makes access reviewable.
//
// # Event Categories
//
// Events are categorized by type for filtering and alerting:
//   - Authentication: "auth.login", "auth.failed"
//   - Authorization: "authz.denied", "authz.granted"
//   - Ask pipeline: "ask.stream", "ask.blocked", "ask.error"
//   - Safety: "safety.red_flag", "safety.mental_health", "safety.pregnancy"
//   - Persistence: "session.persist", "session.persist_failed"
//
// # Compliance Fields
//
// For regulatory compliance, always populate:
//   - UserID: required for right-to-know requests
//   - Timestamp: required for audit trail integrity
//   - ResourceType/ResourceID: required for data lineage
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "safety.red_flag",
//	    Timestamp:    time.Now().UTC(),
//	    UserID:       authInfo.UserID,
//	    Action:       "flag",
//	    ResourceType: "turn",
//	    ResourceID:   turnID,
//	    Outcome:      "success",
//	    Metadata:     map[string]any{"session_id": sessionID},
//	}
type AuditEvent struct {
	// EventType categorizes the event for filtering and alerting.
	// Format: "category.action" (e.g. "ask.stream", "safety.red_flag")
	EventType string

	// Timestamp is when the event occurred (always use UTC).
	// If zero, implementations should set to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies who performed the action.
	// Use "system" for automated actions, "anonymous" if unknown.
	UserID string

	// Action describes what operation was attempted.
	// Common values: "create", "read", "ask", "flag", "persist"
	Action string

	// ResourceType is the category of resource involved.
	// Examples: "turn", "session", "profile", "stream"
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string

	// Outcome indicates the result of the action.
	// Values: "success", "failure", "blocked", "error"
	Outcome string

	// Metadata holds additional event-specific data.
	//
	// Common metadata keys:
	//   - "error": error message if Outcome is "failure" or "error"
	//   - "session_id": conversation session
	//   - "safety_categories": categories fired on this turn
	//   - "degraded": whether retrieval ran degraded
	//   - "duration_ms": operation duration
	//
	// Never place question or answer text here; the audit trail must
	// stay free of health content.
	Metadata map[string]any
}

// AuditFilter defines criteria for querying audit events.
//
// All fields are optional; only non-zero values are used as filters and
// multiple fields combine with AND logic.
//
// Example:
//
//	// Find all red-flag events in the last hour
//	filter := AuditFilter{
//	    EventTypes: []string{"safety.red_flag"},
//	    StartTime:  time.Now().Add(-time.Hour),
//	    EndTime:    time.Now(),
//	}
//	events, err := auditor.Query(ctx, filter)
type AuditFilter struct {
	// EventTypes limits results to specific event types.
	// If empty, all event types are included.
	EventTypes []string

	// UserID limits results to events from a specific user.
	UserID string

	// StartTime is the earliest event timestamp to include (inclusive).
	StartTime time.Time

	// EndTime is the latest event timestamp to include (exclusive).
	EndTime time.Time

	// ResourceType limits results to events involving specific resource
	// types.
	ResourceType string

	// ResourceID limits results to events involving a specific resource.
	ResourceID string

	// Outcome limits results to events with specific outcomes.
	Outcome string

	// Limit is the maximum number of events to return.
	// If zero, implementation-specific default is used.
	Limit int

	// Offset is the number of events to skip (for pagination).
	Offset int
}

// AuditLogger records security-relevant events for compliance and
// analysis.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Log should be non-blocking or have reasonable timeouts so the ask
// pipeline is never stalled by the audit sink.
//
// # Open Source Behavior
//
// The default NopAuditLogger discards all events, appropriate for local
// single-user deployments where audit trails aren't required.
//
// # Hosted Implementation
//
// Hosted versions send events to SIEM systems or compliance databases.
// For compliance-critical events (safety.red_flag in particular), sync
// logging is recommended.
type AuditLogger interface {
	// Log records a security-relevant event.
	//
	// Implementations should:
	//  1. Set Timestamp if zero
	//  2. Validate required fields (EventType, UserID)
	//  3. Persist or transmit the event
	//  4. Return quickly (use async if needed)
	Log(ctx context.Context, event AuditEvent) error

	// Query retrieves audit events matching the filter criteria,
	// ordered by Timestamp descending.
	//
	// Note: NopAuditLogger returns an empty slice (no events stored).
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush ensures all buffered events are persisted.
	//
	// Call this before application shutdown to prevent event loss.
	// For sync implementations, this may be a no-op.
	Flush(ctx context.Context) error
}

// NopAuditLogger is the default audit logger for open source.
//
// It discards all events without recording them.
//
// Thread-safe: this implementation has no mutable state.
type NopAuditLogger struct{}

// Log discards the event without recording it.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

// Query returns an empty slice (no events are stored).
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op since nothing is buffered.
func (l *NopAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// Compile-time interface compliance check.
var _ AuditLogger = (*NopAuditLogger)(nil)
