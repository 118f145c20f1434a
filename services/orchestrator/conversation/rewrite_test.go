// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testHistory() []Turn {
	return []Turn{
		{Question: "what is typhoid fever", Answer: "Typhoid is a bacterial infection spread through contaminated water.", TurnNumber: 1},
		{Question: "which antibiotics treat typhoid", Answer: "Azithromycin is commonly prescribed for typhoid.", TurnNumber: 2},
	}
}

func TestRewriter_Rewrite_Triggers(t *testing.T) {
	rw := NewRewriter(RewriteConfig{Window: 3, MaxTerms: 6, ShortWordLimit: 4})

	tests := []struct {
		name  string
		query string
	}{
		{"how long phrase", "how long?"},
		{"pronoun it", "is it dangerous"},
		{"what about", "what about children"},
		{"hindi iska", "iska ilaj kya"},
		{"hindi kitne din", "kitne din lagenge"},
		{"hindi aur", "aur kya karen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := rw.Rewrite(tt.query, testHistory())
			assert.NotEqual(t, tt.query, result, "expected augmentation")
			assert.True(t, strings.HasPrefix(result, tt.query+" "),
				"original query must be a prefix: %q", result)
			assert.Contains(t, result, "typhoid")
		})
	}
}

func TestRewriter_Rewrite_PassThrough(t *testing.T) {
	rw := NewRewriter(DefaultRewriteConfig())
	history := testHistory()

	tests := []struct {
		name  string
		query string
	}{
		{"long query with pronoun", "how long does it usually take to fully recover"},
		{"short query without indicator", "typhoid diet chart"},
		{"complete question", "what is the dosage of azithromycin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := rw.Rewrite(tt.query, history)
			assert.Equal(t, tt.query, result, "must pass through byte-for-byte")
		})
	}
}

func TestRewriter_Rewrite_EmptyHistory(t *testing.T) {
	rw := NewRewriter(DefaultRewriteConfig())
	assert.Equal(t, "how long?", rw.Rewrite("how long?", nil))
	assert.Equal(t, "how long?", rw.Rewrite("how long?", []Turn{}))
}

func TestRewriter_Rewrite_Idempotent(t *testing.T) {
	rw := NewRewriter(RewriteConfig{Window: 3, MaxTerms: 6, ShortWordLimit: 4})
	history := testHistory()

	once := rw.Rewrite("how long?", history)
	twice := rw.Rewrite(once, history)
	assert.Equal(t, once, twice, "second rewrite must not grow the query")
}

func TestRewriter_Rewrite_TermCapAndRecency(t *testing.T) {
	rw := NewRewriter(RewriteConfig{Window: 2, MaxTerms: 2, ShortWordLimit: 4})
	history := []Turn{
		{Question: "malaria prevention tips", Answer: "", TurnNumber: 1},
		{Question: "dengue symptoms", Answer: "", TurnNumber: 2},
	}

	result := rw.Rewrite("tell me more", history)
	appended := strings.Fields(strings.TrimPrefix(result, "tell me more "))
	assert.Len(t, appended, 2)
	// Newest turn's terms win the cap.
	assert.Contains(t, appended, "dengue")
	assert.Contains(t, appended, "symptoms")
}

func TestRewriter_Rewrite_SkipsStopwords(t *testing.T) {
	rw := NewRewriter(RewriteConfig{Window: 1, MaxTerms: 6, ShortWordLimit: 4})
	history := []Turn{
		{Question: "kya main dawai le sakta hoon", Answer: "Haan, paracetamol bukhar ke liye theek hai.", TurnNumber: 1},
	}

	result := rw.Rewrite("aur batao", history)
	assert.NotContains(t, strings.TrimPrefix(result, "aur batao "), "kya")
	assert.Contains(t, result, "paracetamol")
}

func TestNewRewriter_CorrectsInvalidConfig(t *testing.T) {
	rw := NewRewriter(RewriteConfig{Window: 0, MaxTerms: -1, ShortWordLimit: 0})
	assert.Equal(t, 3, rw.config.Window)
	assert.Equal(t, 6, rw.config.MaxTerms)
	assert.Equal(t, 4, rw.config.ShortWordLimit)
}
