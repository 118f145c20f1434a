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

// =============================================================================
// Raw Capture Types (for hosted storage)
// =============================================================================

// HTTPHeaders represents HTTP headers as a map.
//
// Using a defined type provides clearer intent and allows future
// extension with helper methods if needed.
type HTTPHeaders map[string]string

// Get retrieves a header value by key (case-sensitive).
func (h HTTPHeaders) Get(key string) string {
	return h[key]
}

// Set adds or updates a header value.
func (h HTTPHeaders) Set(key, value string) {
	h[key] = value
}

// AuditableRequest contains raw request data for audit capture.
//
// Passed to CaptureRequest() to give hosted implementations access to
// the raw bytes for hashing, encryption, and storage. The open source
// core does NOT compute hashes here; that is the implementation's
// responsibility.
//
// Example:
//
//	req := &AuditableRequest{
//	    Method:    "POST",
//	    Path:      "/v1/ask/stream",
//	    Headers:   HTTPHeaders{"Content-Type": "application/json"},
//	    Body:      rawRequestBytes,
//	    UserID:    authInfo.UserID,
//	    SessionID: sessionID,
//	    RequestID: requestID,
//	    Timestamp: time.Now().UTC(),
//	}
//	auditID, err := auditor.CaptureRequest(ctx, req)
type AuditableRequest struct {
	// Method is the HTTP method (GET, POST, etc.)
	Method string

	// Path is the request path (e.g. "/v1/ask/stream")
	Path string

	// Headers contains the HTTP request headers.
	// Sensitive headers (Authorization) should be redacted by caller.
	Headers HTTPHeaders

	// Body is the raw request body bytes.
	Body []byte

	// UserID identifies who made the request.
	UserID string

	// SessionID is the conversation session, if known.
	SessionID string

	// RequestID is the correlation ID for this request.
	RequestID string

	// Timestamp is when the request was received (always UTC).
	Timestamp time.Time
}

// AuditableResponse contains raw response data for audit capture.
//
// For streaming endpoints (SSE), the handler accumulates all chunks and
// passes the concatenated body to CaptureResponse() at the end of the
// stream.
type AuditableResponse struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Headers contains the HTTP response headers.
	Headers HTTPHeaders

	// Body is the raw response body bytes.
	// For streaming responses, this is all chunks concatenated.
	Body []byte

	// Timestamp is when the response was sent (always UTC).
	Timestamp time.Time
}

// =============================================================================
// Hash Chain Types
// =============================================================================

// HashChainEntry represents a single entry in a tamper-evident audit
// chain.
//
// Each entry's hash incorporates the previous entry's hash:
//
//	Entry N hash = SHA256(Entry N-1 hash + Entry N content)
//
// which detects insertion, deletion, and modification of historical
// records.
type HashChainEntry struct {
	// SessionID identifies the chain this entry belongs to.
	// Each session has its own independent hash chain.
	SessionID string

	// SequenceNum is the position in the chain (1-indexed).
	SequenceNum int

	// ContentHash is the hash of the content being recorded.
	// For conversation turns: SHA256(question + answer)
	ContentHash string

	// PreviousHash is the ChainHash of the preceding entry.
	// Empty string for the first entry in a chain (SequenceNum == 1).
	PreviousHash string

	// ChainHash is the cumulative hash incorporating all previous
	// entries: SHA256(PreviousHash + ContentHash). This is the value
	// stored and used for verification.
	ChainHash string

	// Timestamp is when this entry was created (always UTC).
	Timestamp time.Time

	// ContentType describes what kind of content was hashed.
	// Examples: "conversation_turn", "request", "response"
	ContentType string

	// Metadata contains additional context about the entry
	// (user_id, request_id, turn_number).
	Metadata Metadata
}

// ChainVerificationResult contains the outcome of hash chain
// verification.
//
// Example:
//
//	result, _ := auditor.VerifyChain(ctx, sessionID)
//	if !result.IsValid {
//	    log.Error("chain integrity violation",
//	        "break_point", result.BreakPoint,
//	        "expected", result.ExpectedHash,
//	        "actual", result.ActualHash,
//	    )
//	}
type ChainVerificationResult struct {
	// IsValid is true if the entire chain is intact.
	IsValid bool

	// TotalEntries is the number of entries verified.
	TotalEntries int

	// BreakPoint is the sequence number where integrity failed.
	// Only meaningful when IsValid is false.
	BreakPoint int

	// ExpectedHash is what the hash should be at BreakPoint.
	ExpectedHash string

	// ActualHash is what the hash actually was at BreakPoint.
	ActualHash string

	// Message provides human-readable verification status.
	Message string
}

// =============================================================================
// RequestAuditor Interface
// =============================================================================

// RequestAuditor provides tamper-evident audit logging via hash chains.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default NopRequestAuditor accepts all entries and always reports
// chains as valid, so a self-hosted instance runs without cryptographic
// audit infrastructure.
//
// # Hosted Implementation
//
// Hosted versions persist chains in append-only databases, immutable
// object storage, or ledger services; a health deployment typically pins
// the ask stream's request/response pairs for HIPAA audit controls.
//
// # Limitations
//
//   - Cannot prevent real-time tampering (only detect after the fact)
//   - Chain verification requires all entries (no partial verification)
//   - Storage grows linearly with entries
type RequestAuditor interface {
	// CaptureRequest records the raw request for audit purposes.
	//
	// # Description
	//
	// Called at the START of request processing with the raw request
	// body. Implementations compute content_hash = SHA256(Body), encrypt
	// if required, and store to immutable storage. Returns an auditID
	// that must be passed to CaptureResponse to link the pair.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout control.
	//   - req: Raw request data including body bytes.
	//
	// # Outputs
	//
	//   - string: Audit ID for CaptureResponse. Empty for NopRequestAuditor.
	//   - error: Non-nil if capture failed.
	//
	// # Assumptions
	//
	//   - Body contains the complete request payload.
	//   - Sensitive headers are redacted by caller if needed.
	CaptureRequest(ctx context.Context, req *AuditableRequest) (auditID string, err error)

	// CaptureResponse records the raw response for audit purposes.
	//
	// Called at the END of request processing with the full response
	// body (all chunks concatenated for streams). The auditID links the
	// response to its request.
	CaptureResponse(ctx context.Context, auditID string, resp *AuditableResponse) error

	// RecordEntry appends an entry to the session's hash chain.
	//
	// Implementations should verify chain continuity (entry.PreviousHash
	// matches the stored last hash) before persisting.
	RecordEntry(ctx context.Context, entry HashChainEntry) error

	// GetLastEntry returns the most recent entry for a session.
	//
	// Returns (nil, nil) when the chain is empty.
	GetLastEntry(ctx context.Context, sessionID string) (*HashChainEntry, error)

	// VerifyChain walks the session's chain and checks every link.
	VerifyChain(ctx context.Context, sessionID string) (*ChainVerificationResult, error)

	// GetChainLength returns the number of entries in the session's
	// chain.
	GetChainLength(ctx context.Context, sessionID string) (int, error)
}

// NopRequestAuditor is the default request auditor for open source.
//
// It discards all captures and reports every chain as valid.
//
// Thread-safe: this implementation has no mutable state.
type NopRequestAuditor struct{}

// CaptureRequest discards the request and returns an empty audit ID.
func (a *NopRequestAuditor) CaptureRequest(_ context.Context, _ *AuditableRequest) (string, error) {
	return "", nil
}

// CaptureResponse discards the response.
func (a *NopRequestAuditor) CaptureResponse(_ context.Context, _ string, _ *AuditableResponse) error {
	return nil
}

// RecordEntry discards the entry.
func (a *NopRequestAuditor) RecordEntry(_ context.Context, _ HashChainEntry) error {
	return nil
}

// GetLastEntry returns nil (no entries are stored).
func (a *NopRequestAuditor) GetLastEntry(_ context.Context, _ string) (*HashChainEntry, error) {
	return nil, nil
}

// VerifyChain reports an empty, valid chain.
func (a *NopRequestAuditor) VerifyChain(_ context.Context, _ string) (*ChainVerificationResult, error) {
	return &ChainVerificationResult{
		IsValid:      true,
		TotalEntries: 0,
		Message:      "no audit chain configured",
	}, nil
}

// GetChainLength returns zero (no entries are stored).
func (a *NopRequestAuditor) GetChainLength(_ context.Context, _ string) (int, error) {
	return 0, nil
}

// Compile-time interface compliance check.
var _ RequestAuditor = (*NopRequestAuditor)(nil)
