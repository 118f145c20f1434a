// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     AskRequest
		wantErr bool
	}{
		{
			name: "minimal valid",
			req:  AskRequest{Question: "what helps with fever"},
		},
		{
			name: "full valid",
			req: AskRequest{
				Question:  "kya main paracetamol le sakta hoon",
				SessionId: "550e8400-e29b-41d4-a716-446655440000",
				Language:  "hi",
				Profile: &AskProfile{
					Conditions: []string{"diabetes"},
					City:       "Lucknow",
				},
			},
		},
		{
			name:    "empty question",
			req:     AskRequest{Question: ""},
			wantErr: true,
		},
		{
			name:    "oversized question",
			req:     AskRequest{Question: strings.Repeat("a", MaxQuestionBytes+1)},
			wantErr: true,
		},
		{
			name:    "malformed session id",
			req:     AskRequest{Question: "q", SessionId: "not-a-uuid"},
			wantErr: true,
		},
		{
			name:    "uppercase session id rejected",
			req:     AskRequest{Question: "q", SessionId: "550E8400-E29B-41D4-A716-446655440000"},
			wantErr: true,
		},
		{
			name:    "bad language tag",
			req:     AskRequest{Question: "q", Language: "english!"},
			wantErr: true,
		},
		{
			name: "too many conditions",
			req: AskRequest{
				Question: "q",
				Profile:  &AskProfile{Conditions: make([]string, MaxProfileConditions+1)},
			},
			wantErr: true,
		},
		{
			name:    "city with injection characters",
			req:     AskRequest{Question: "q", Profile: &AskProfile{City: `Del"hi{`}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAskProfile_ToProfile(t *testing.T) {
	p := AskProfile{Conditions: []string{"asthma"}, City: "Pune"}
	profile := p.ToProfile("hi")

	assert.Equal(t, []string{"asthma"}, profile.Conditions)
	assert.Equal(t, "Pune", profile.City)
	assert.Equal(t, "hi", profile.Language)
}

func TestNewStreamEvent_Builders(t *testing.T) {
	chunk := NewStreamEvent(EventChunk).WithContent("hello")
	assert.Equal(t, EventChunk, chunk.Type)
	assert.Equal(t, "hello", chunk.Content)

	status := NewStreamEvent(EventStatus).WithMessage("Searching knowledge base...")
	assert.Equal(t, "Searching knowledge base...", status.Message)

	errEvent := NewStreamEvent(EventError).WithError("generation failed")
	assert.Equal(t, "generation failed", errEvent.Error)
	assert.Empty(t, errEvent.Content)
}

func TestTurnProperties_ToMap(t *testing.T) {
	props := TurnProperties{
		SessionId:        "550e8400-e29b-41d4-a716-446655440000",
		Question:         "q",
		Answer:           "a",
		AnswerHash:       "deadbeef",
		TurnNumber:       3,
		Language:         "en",
		SafetyCategories: []string{"RED_FLAG"},
		Degraded:         true,
		Timestamp:        1700000000000,
	}

	m := props.ToMap()
	assert.Equal(t, "q", m["question"])
	assert.Equal(t, 3, m["turn_number"])
	assert.Equal(t, true, m["degraded"])
	assert.Equal(t, []string{"RED_FLAG"}, m["safety_categories"])
}

func TestWithSessionBeacon(t *testing.T) {
	props := map[string]interface{}{"question": "q"}
	WithSessionBeacon(props, "abc-123")

	refs, ok := props["inSession"].([]BeaconRef)
	require.True(t, ok)
	require.Len(t, refs, 1)
	assert.Equal(t, "weaviate://localhost/Session/abc-123", refs[0].Beacon)
}

func TestEnsureSchemaClassShapes(t *testing.T) {
	session := GetSessionSchema()
	assert.Equal(t, "Session", session.Class)

	turn := GetConversationTurnSchema()
	assert.Equal(t, "ConversationTurn", turn.Class)
	var propNames []string
	for _, p := range turn.Properties {
		propNames = append(propNames, p.Name)
	}
	assert.Contains(t, propNames, "answer_hash")
	assert.Contains(t, propNames, "safety_categories")
	assert.Contains(t, propNames, "inSession")

	passage := GetHealthPassageSchema()
	assert.Equal(t, "HealthPassage", passage.Class)
	assert.Equal(t, "none", passage.Vectorizer)
}
