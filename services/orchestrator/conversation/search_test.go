// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMemoryText(t *testing.T) {
	q, a := parseMemoryText("User: what is dengue\nAssistant: Dengue is a mosquito-borne viral infection.")
	assert.Equal(t, "what is dengue", q)
	assert.Equal(t, "Dengue is a mosquito-borne viral infection.", a)

	// Malformed chunk falls back to question-only.
	q, a = parseMemoryText("just some text")
	assert.Equal(t, "just some text", q)
	assert.Empty(t, a)
}

func TestMergeAndDeduplicate(t *testing.T) {
	recent := []Turn{
		{Question: "What is dengue?", TurnNumber: 10},
		{Question: "How to prevent it", TurnNumber: 9},
	}
	semantic := []Turn{
		{Question: "what is dengue", TurnNumber: 3, SimilarityScore: 0.91},
		{Question: "dengue warning signs", TurnNumber: 4, SimilarityScore: 0.88},
	}

	merged := mergeAndDeduplicate(recent, semantic, 5)

	// "what is dengue" deduplicates against "What is dengue?".
	assert.Len(t, merged, 3)
	// Newest first.
	assert.Equal(t, 10, merged[0].TurnNumber)
	assert.Equal(t, 9, merged[1].TurnNumber)
	assert.Equal(t, 4, merged[2].TurnNumber)
}

func TestMergeAndDeduplicate_CapsResult(t *testing.T) {
	var recent []Turn
	for i := 0; i < 8; i++ {
		recent = append(recent, Turn{Question: string(rune('a' + i)), TurnNumber: i})
	}
	merged := mergeAndDeduplicate(recent, nil, 3)
	assert.Len(t, merged, 3)
	assert.Equal(t, 7, merged[0].TurnNumber)
}

func TestValidateSearchConfig(t *testing.T) {
	fixed := validateSearchConfig(SearchConfig{
		RecentTurns:   -1,
		SemanticTopK:  -5,
		MaxTurnAge:    0,
		MaxTotalTurns: 0,
	})

	defaults := DefaultSearchConfig()
	assert.Equal(t, defaults.RecentTurns, fixed.RecentTurns)
	assert.Equal(t, defaults.SemanticTopK, fixed.SemanticTopK)
	assert.Equal(t, defaults.MaxTurnAge, fixed.MaxTurnAge)
	assert.Equal(t, defaults.MaxTotalTurns, fixed.MaxTotalTurns)
	assert.Equal(t, defaults.MemoryVersionTag, fixed.MemoryVersionTag)
}

func TestNormalizeQuestion(t *testing.T) {
	assert.Equal(t, "what is dengue", normalizeQuestion("  What is dengue?!  "))
	assert.Equal(t, normalizeQuestion("How to prevent it"), normalizeQuestion("how to prevent it..."))
}
