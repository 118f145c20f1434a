// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"testing"
	"time"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	// Verify all fields are set to non-nil nop implementations
	if opts.AuthProvider == nil {
		t.Error("DefaultOptions().AuthProvider should not be nil")
	}
	if opts.AuthzProvider == nil {
		t.Error("DefaultOptions().AuthzProvider should not be nil")
	}
	if opts.AuditLogger == nil {
		t.Error("DefaultOptions().AuditLogger should not be nil")
	}
	if opts.MessageFilter == nil {
		t.Error("DefaultOptions().MessageFilter should not be nil")
	}
	if opts.RequestAuditor == nil {
		t.Error("DefaultOptions().RequestAuditor should not be nil")
	}
	if opts.Classifier == nil {
		t.Error("DefaultOptions().Classifier should not be nil")
	}
	if opts.ProfileProvider == nil {
		t.Error("DefaultOptions().ProfileProvider should not be nil")
	}

	// Verify they are the correct nop types
	if _, ok := opts.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *NopAuthProvider")
	}
	if _, ok := opts.AuthzProvider.(*NopAuthzProvider); !ok {
		t.Error("DefaultOptions().AuthzProvider should be *NopAuthzProvider")
	}
	if _, ok := opts.ProfileProvider.(*NopProfileProvider); !ok {
		t.Error("DefaultOptions().ProfileProvider should be *NopProfileProvider")
	}
}

func TestServiceOptions_FluentBuilders(t *testing.T) {
	custom := &mockAuthProvider{userID: "member-1"}
	opts := DefaultOptions().WithAuth(custom)

	if opts.AuthProvider != custom {
		t.Error("WithAuth should replace the AuthProvider")
	}

	// Builders operate on copies; the original stays populated
	base := DefaultOptions()
	_ = base.WithAudit(&mockAuditLogger{})
	if _, ok := base.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("original options should keep the nop audit logger")
	}

	full := DefaultOptions().
		WithAuthz(&mockAuthzProvider{}).
		WithFilter(&mockMessageFilter{}).
		WithRequestAudit(&NopRequestAuditor{}).
		WithProfiles(&NopProfileProvider{})
	if full.AuthzProvider == nil || full.MessageFilter == nil {
		t.Error("fluent chain should populate every field")
	}
}

func TestServiceOptions_Normalized(t *testing.T) {
	custom := &mockAuthProvider{userID: "member-1"}
	opts := ServiceOptions{AuthProvider: custom}.Normalized()

	if opts.AuthProvider != custom {
		t.Error("Normalized() should keep populated fields")
	}
	if opts.AuthzProvider == nil || opts.AuditLogger == nil ||
		opts.MessageFilter == nil || opts.RequestAuditor == nil ||
		opts.Classifier == nil || opts.ProfileProvider == nil {
		t.Error("Normalized() should fill every nil field with a nop")
	}
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestNopAuthProvider_Validate(t *testing.T) {
	provider := &NopAuthProvider{}

	info, err := provider.Validate(context.Background(), "any-token")
	if err != nil {
		t.Fatalf("Validate() returned error: %v", err)
	}
	if info.UserID != "local-user" {
		t.Errorf("UserID = %v, want local-user", info.UserID)
	}
	if !info.HasRole("admin") {
		t.Error("local user should have admin role")
	}

	// Empty token also authenticates
	info, err = provider.Validate(context.Background(), "")
	if err != nil || info == nil {
		t.Error("empty token should authenticate for NopAuthProvider")
	}
}

func TestAuthInfo_HasRole(t *testing.T) {
	info := &AuthInfo{
		UserID: "member-1",
		Roles:  []string{"member", "caregiver"},
	}

	if !info.HasRole("caregiver") {
		t.Error("HasRole(caregiver) should be true")
	}
	if info.HasRole("admin") {
		t.Error("HasRole(admin) should be false")
	}

	empty := &AuthInfo{UserID: "member-2"}
	if empty.HasRole("member") {
		t.Error("HasRole on empty roles should be false")
	}
}

func TestNopAuthzProvider_Authorize(t *testing.T) {
	provider := &NopAuthzProvider{}

	err := provider.Authorize(context.Background(), AuthzRequest{
		User:         &AuthInfo{UserID: "anyone"},
		Action:       "delete",
		ResourceType: "session",
	})
	if err != nil {
		t.Errorf("NopAuthzProvider should allow everything, got %v", err)
	}
}

// ============================================================================
// Audit Tests
// ============================================================================

func TestNopAuditLogger(t *testing.T) {
	logger := &NopAuditLogger{}
	ctx := context.Background()

	err := logger.Log(ctx, AuditEvent{
		EventType: "safety.red_flag",
		UserID:    "local-user",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Errorf("Log() returned error: %v", err)
	}

	events, err := logger.Query(ctx, AuditFilter{UserID: "local-user"})
	if err != nil {
		t.Errorf("Query() returned error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Query() returned %d events, want 0", len(events))
	}

	if err := logger.Flush(ctx); err != nil {
		t.Errorf("Flush() returned error: %v", err)
	}
}

// ============================================================================
// Filter Tests
// ============================================================================

func TestNopMessageFilter_PassThrough(t *testing.T) {
	filter := &NopMessageFilter{}
	ctx := context.Background()
	msg := "mujhe kal se bukhar hai"

	for name, fn := range map[string]func(context.Context, string) (*FilterResult, error){
		"input":   filter.FilterInput,
		"output":  filter.FilterOutput,
		"context": filter.FilterContext,
	} {
		result, err := fn(ctx, msg)
		if err != nil {
			t.Errorf("%s: returned error: %v", name, err)
			continue
		}
		if result.Filtered != msg {
			t.Errorf("%s: Filtered = %q, want %q", name, result.Filtered, msg)
		}
		if result.WasModified || result.WasBlocked {
			t.Errorf("%s: nop filter should not modify or block", name)
		}
	}
}

// ============================================================================
// RequestAuditor Tests
// ============================================================================

func TestNopRequestAuditor(t *testing.T) {
	auditor := &NopRequestAuditor{}
	ctx := context.Background()

	auditID, err := auditor.CaptureRequest(ctx, &AuditableRequest{
		Method: "POST",
		Path:   "/v1/ask/stream",
		Body:   []byte(`{"question":"test"}`),
	})
	if err != nil {
		t.Errorf("CaptureRequest() returned error: %v", err)
	}
	if auditID != "" {
		t.Errorf("CaptureRequest() auditID = %q, want empty", auditID)
	}

	if err := auditor.CaptureResponse(ctx, auditID, &AuditableResponse{StatusCode: 200}); err != nil {
		t.Errorf("CaptureResponse() returned error: %v", err)
	}

	if err := auditor.RecordEntry(ctx, HashChainEntry{SessionID: "sess-1", SequenceNum: 1}); err != nil {
		t.Errorf("RecordEntry() returned error: %v", err)
	}

	last, err := auditor.GetLastEntry(ctx, "sess-1")
	if err != nil || last != nil {
		t.Error("GetLastEntry() should return (nil, nil) for nop auditor")
	}

	result, err := auditor.VerifyChain(ctx, "sess-1")
	if err != nil {
		t.Fatalf("VerifyChain() returned error: %v", err)
	}
	if !result.IsValid {
		t.Error("nop auditor should report chains as valid")
	}

	n, err := auditor.GetChainLength(ctx, "sess-1")
	if err != nil || n != 0 {
		t.Errorf("GetChainLength() = %d, %v; want 0, nil", n, err)
	}
}

func TestHTTPHeaders(t *testing.T) {
	h := HTTPHeaders{}
	h.Set("Content-Type", "application/json")

	if got := h.Get("Content-Type"); got != "application/json" {
		t.Errorf("Get() = %q", got)
	}
	if got := h.Get("Missing"); got != "" {
		t.Errorf("Get(missing) = %q, want empty", got)
	}
}

// ============================================================================
// Profile Tests
// ============================================================================

func TestNopProfileProvider(t *testing.T) {
	provider := &NopProfileProvider{}

	profile, err := provider.ProfileFor(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ProfileFor() returned error: %v", err)
	}
	if !profile.IsZero() {
		t.Error("nop provider should return an empty profile")
	}
}

func TestProfile_IsZero(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		want    bool
	}{
		{"empty", Profile{}, true},
		{"conditions", Profile{Conditions: []string{"diabetes"}}, false},
		{"city", Profile{City: "Lucknow"}, false},
		{"language", Profile{Language: "hi"}, false},
		{"metadata", Profile{Metadata: NewMetadata().Set("k", "v")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.profile.IsZero(); got != tt.want {
				t.Errorf("IsZero() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Classifier Tests
// ============================================================================

func TestNopDataClassifier(t *testing.T) {
	classifier := &NopDataClassifier{}
	ctx := context.Background()

	result, err := classifier.Classify(ctx, "seene mein dard ho raha hai")
	if err != nil {
		t.Fatalf("Classify() returned error: %v", err)
	}
	if result.HighestLevel != ClassificationPublic {
		t.Errorf("HighestLevel = %v, want PUBLIC", result.HighestLevel)
	}
	if len(result.Findings) != 0 {
		t.Errorf("Findings = %d, want 0", len(result.Findings))
	}

	batch, err := classifier.ClassifyBatch(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("ClassifyBatch() returned error: %v", err)
	}
	if len(batch) != 3 {
		t.Errorf("ClassifyBatch() returned %d results, want 3", len(batch))
	}
	for i, r := range batch {
		if r.HighestLevel != ClassificationPublic {
			t.Errorf("batch[%d].HighestLevel = %v, want PUBLIC", i, r.HighestLevel)
		}
	}
}

// ============================================================================
// Metadata Tests
// ============================================================================

func TestMetadata_SetGet(t *testing.T) {
	meta := NewMetadata().
		Set("session_id", "sess-1").
		Set("turn_number", 3).
		Set("degraded", true)

	if s, ok := meta.GetString("session_id"); !ok || s != "sess-1" {
		t.Errorf("GetString(session_id) = %q, %v", s, ok)
	}
	if n, ok := meta.GetInt("turn_number"); !ok || n != 3 {
		t.Errorf("GetInt(turn_number) = %d, %v", n, ok)
	}
	if b, ok := meta.GetBool("degraded"); !ok || !b {
		t.Errorf("GetBool(degraded) = %v, %v", b, ok)
	}
	if _, ok := meta.GetString("missing"); ok {
		t.Error("GetString(missing) should report absence")
	}
	if !meta.Has("session_id") {
		t.Error("Has(session_id) should be true")
	}
	if meta.Len() != 3 {
		t.Errorf("Len() = %d, want 3", meta.Len())
	}
}

func TestMetadata_NilReceiver(t *testing.T) {
	var meta Metadata

	// Set on nil allocates and returns a usable map
	meta = meta.Set("key", "value")
	if !meta.Has("key") {
		t.Error("Set on nil Metadata should allocate")
	}

	var nilMeta Metadata
	if _, ok := nilMeta.Get("key"); ok {
		t.Error("Get on nil Metadata should report absence")
	}
	if nilMeta.Len() != 0 {
		t.Error("Len on nil Metadata should be 0")
	}
	if nilMeta.Clone() != nil {
		t.Error("Clone of nil Metadata should be nil")
	}
}

func TestMetadata_TypeCoercion(t *testing.T) {
	// JSON round-trips numbers as float64; the accessors tolerate that
	meta := NewMetadata().Set("count", float64(7))

	if n, ok := meta.GetInt("count"); !ok || n != 7 {
		t.Errorf("GetInt over float64 storage = %d, %v", n, ok)
	}
	if n, ok := meta.GetInt64("count"); !ok || n != 7 {
		t.Errorf("GetInt64 over float64 storage = %d, %v", n, ok)
	}
	if f, ok := meta.GetFloat64("count"); !ok || f != 7 {
		t.Errorf("GetFloat64 = %f, %v", f, ok)
	}

	meta.Set("label", "seven")
	if _, ok := meta.GetInt("label"); ok {
		t.Error("GetInt over string storage should report failure")
	}
}

func TestMetadata_GetTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	meta := NewMetadata().
		Set("at", now).
		Set("at_string", now.Format(time.RFC3339)).
		Set("bad", "not-a-time")

	if got, ok := meta.GetTime("at"); !ok || !got.Equal(now) {
		t.Errorf("GetTime(at) = %v, %v", got, ok)
	}
	if got, ok := meta.GetTime("at_string"); !ok || !got.Equal(now) {
		t.Errorf("GetTime(at_string) = %v, %v", got, ok)
	}
	if _, ok := meta.GetTime("bad"); ok {
		t.Error("GetTime(bad) should report failure")
	}
}

func TestMetadata_CloneAndMerge(t *testing.T) {
	original := NewMetadata().Set("a", 1)
	clone := original.Clone()
	clone.Set("b", 2)

	if original.Has("b") {
		t.Error("mutating clone should not affect original")
	}

	merged := NewMetadata().Set("a", 1).Merge(NewMetadata().Set("a", 2).Set("c", 3))
	if n, _ := merged.GetInt("a"); n != 2 {
		t.Errorf("Merge should overwrite: a = %d, want 2", n)
	}
	if !merged.Has("c") {
		t.Error("Merge should add new keys")
	}
}

func TestMetadata_DeleteAndKeys(t *testing.T) {
	meta := NewMetadata().Set("a", 1).Set("b", 2)
	meta.Delete("a")

	if meta.Has("a") {
		t.Error("Delete should remove the key")
	}
	keys := meta.Keys()
	if len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Keys() = %v, want [b]", keys)
	}
}

// ============================================================================
// Concurrency Tests
// ============================================================================

func TestNopImplementations_Concurrent(t *testing.T) {
	ctx := context.Background()
	authProvider := &NopAuthProvider{}
	authzProvider := &NopAuthzProvider{}
	auditLogger := &NopAuditLogger{}
	messageFilter := &NopMessageFilter{}
	profileProvider := &NopProfileProvider{}

	const goroutines = 10
	done := make(chan bool, goroutines*5)

	for i := 0; i < goroutines; i++ {
		go func() {
			_, _ = authProvider.Validate(ctx, "token")
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		go func() {
			_ = authzProvider.Authorize(ctx, AuthzRequest{})
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		go func() {
			_ = auditLogger.Log(ctx, AuditEvent{})
			_, _ = auditLogger.Query(ctx, AuditFilter{})
			_ = auditLogger.Flush(ctx)
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		go func() {
			_, _ = messageFilter.FilterInput(ctx, "test")
			_, _ = messageFilter.FilterOutput(ctx, "test")
			_, _ = messageFilter.FilterContext(ctx, "test")
			done <- true
		}()
	}
	for i := 0; i < goroutines; i++ {
		go func() {
			_, _ = profileProvider.ProfileFor(ctx, "sess-1")
			done <- true
		}()
	}

	for i := 0; i < goroutines*5; i++ {
		<-done
	}
}

// ============================================================================
// Mock implementations for testing
// ============================================================================

// mockAuthProvider is a test implementation of AuthProvider
type mockAuthProvider struct {
	userID string
}

func (p *mockAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	return &AuthInfo{UserID: p.userID}, nil
}

// mockAuthzProvider is a test implementation of AuthzProvider
type mockAuthzProvider struct{}

func (p *mockAuthzProvider) Authorize(ctx context.Context, req AuthzRequest) error {
	return nil
}

// mockAuditLogger is a test implementation of AuditLogger
type mockAuditLogger struct {
	events []AuditEvent
}

func (l *mockAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	l.events = append(l.events, event)
	return nil
}

func (l *mockAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return l.events, nil
}

func (l *mockAuditLogger) Flush(ctx context.Context) error {
	return nil
}

// mockMessageFilter is a test implementation of MessageFilter
type mockMessageFilter struct{}

func (f *mockMessageFilter) FilterInput(ctx context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

func (f *mockMessageFilter) FilterOutput(ctx context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

func (f *mockMessageFilter) FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error) {
	return &FilterResult{Original: contextMsg, Filtered: contextMsg}, nil
}
