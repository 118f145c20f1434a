// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrMessageBlocked is returned when a message is rejected by the filter.
// Hosted implementations should wrap this error with the reason.
//
// Example:
//
//	if containsIdentifiers(msg) {
//	    return "", fmt.Errorf("message contains identifiers: %w", ErrMessageBlocked)
//	}
var ErrMessageBlocked = errors.New("message blocked by filter")

// FilterResult contains the outcome of a filter operation.
//
// Provides detailed information about what the filter did, useful for
// debugging, audit trails, and user feedback.
type FilterResult struct {
	// Original is the input message before filtering.
	Original string

	// Filtered is the message after filtering transformations.
	// If WasModified is false, this equals Original.
	Filtered string

	// WasModified indicates if any transformations were applied.
	WasModified bool

	// WasBlocked indicates if the message was completely rejected.
	// If true, Filtered should not be used.
	WasBlocked bool

	// BlockReason explains why the message was blocked (if WasBlocked).
	BlockReason string

	// Detections lists what the filter found in the message.
	Detections []Detection
}

// Detection describes a single item found by the filter.
type Detection struct {
	// Type categorizes what was detected.
	// Common types: "phone", "email", "national_id", "address",
	// "prompt_injection"
	Type string

	// Location describes where in the message the item was found.
	// Format is implementation-specific ("characters 10-20", "line 3").
	Location string

	// Action describes what was done with the detected item.
	// Values: "redacted", "masked", "replaced", "blocked", "flagged"
	Action string

	// Original is the detected content (only populated in debug mode).
	// WARNING: may contain sensitive data. Handle carefully.
	Original string

	// Replacement is what the content was replaced with (if Action is
	// "replaced").
	Replacement string
}

// MessageFilter transforms messages before and after LLM processing.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Filter Pipeline
//
// Messages flow through filters at two points:
//
//  1. FilterInput: before the question enters retrieval and generation
//     - Strip direct identifiers (phone numbers, national IDs) the user
//       typed into their health question
//     - Detect prompt injection attempts
//
//  2. FilterOutput: before the answer returns to the user
//     - Remove leaked identifiers from generated text
//     - Append deployment-mandated disclaimers
//
// FilterContext runs on retrieved passages and profile facts before they
// are folded into the generation prompt.
//
// # Open Source Behavior
//
// The default NopMessageFilter passes all messages through unchanged.
//
// # Blocking vs Transforming
//
// Filters can either transform content and let it through (redact a
// phone number) or reject the whole message (policy violation). To
// block, return a FilterResult with WasBlocked=true and BlockReason set;
// the caller then returns ErrMessageBlocked to the user.
type MessageFilter interface {
	// FilterInput processes a user question before retrieval and
	// generation.
	//
	// If WasBlocked is true, the caller should:
	//  1. Log the block via AuditLogger
	//  2. Return ErrMessageBlocked to the user
	//  3. NOT run retrieval or generation
	FilterInput(ctx context.Context, message string) (*FilterResult, error)

	// FilterOutput processes a generated answer before returning it to
	// the user.
	FilterOutput(ctx context.Context, message string) (*FilterResult, error)

	// FilterContext processes retrieved passages, graph facts, or
	// profile text before injection into the generation prompt.
	FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error)
}

// NopMessageFilter is the default message filter for open source.
//
// It passes all messages through unchanged without any transformation or
// blocking.
//
// Thread-safe: this implementation has no mutable state.
type NopMessageFilter struct{}

// FilterInput returns the message unchanged.
func (f *NopMessageFilter) FilterInput(ctx context.Context, message string) (*FilterResult, error) {
	return &FilterResult{
		Original:    message,
		Filtered:    message,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// FilterOutput returns the message unchanged.
func (f *NopMessageFilter) FilterOutput(ctx context.Context, message string) (*FilterResult, error) {
	return &FilterResult{
		Original:    message,
		Filtered:    message,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// FilterContext returns the context unchanged.
func (f *NopMessageFilter) FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error) {
	return &FilterResult{
		Original:    contextMsg,
		Filtered:    contextMsg,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// Compile-time interface compliance check.
var _ MessageFilter = (*NopMessageFilter)(nil)
