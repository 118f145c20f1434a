// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SehatAI/SehatOSS/services/orchestrator/conversation"
	"github.com/SehatAI/SehatOSS/services/orchestrator/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeVector struct {
	passages []knowledge.Passage
	err      error
	delay    time.Duration
	calls    int
}

func (f *fakeVector) SearchPassages(ctx context.Context, query string, topK int) ([]knowledge.Passage, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.passages, f.err
}

type fakeGraph struct {
	facts    []knowledge.Fact
	degraded bool
	err      error
	calls    int
}

func (f *fakeGraph) SearchFacts(ctx context.Context, input knowledge.GraphInput) ([]knowledge.Fact, bool, error) {
	f.calls++
	return f.facts, f.degraded, f.err
}

var (
	somePassages = []knowledge.Passage{{ID: "p1", Text: "ORS replaces lost fluids.", Source: "who", Score: 0.92}}
	someFacts    = []knowledge.Fact{{Category: knowledge.FactSymptomCondition, Subject: "fever", Detail: "malaria", Confidence: 0.35}}
)

func bothLanes() conversation.Route  { return conversation.Route{UseVector: true, UseGraph: true} }
func vectorOnly() conversation.Route { return conversation.Route{UseVector: true} }

// =============================================================================
// Tests
// =============================================================================

func TestEngine_Retrieve_BothLanesSucceed(t *testing.T) {
	e := NewEngine(&fakeVector{passages: somePassages}, &fakeGraph{facts: someFacts}, 0)

	bundle, err := e.Retrieve(context.Background(), Input{
		Route:          bothLanes(),
		RewrittenQuery: "fever remedies",
		OriginalQuery:  "I have fever",
	})
	require.NoError(t, err)
	assert.Equal(t, somePassages, bundle.Passages)
	assert.Equal(t, someFacts, bundle.Facts)
	assert.False(t, bundle.Degraded)
}

func TestEngine_Retrieve_GraphFailureDegrades(t *testing.T) {
	e := NewEngine(
		&fakeVector{passages: somePassages},
		&fakeGraph{err: errors.New("graph down")},
		0,
	)

	bundle, err := e.Retrieve(context.Background(), Input{Route: bothLanes()})
	require.NoError(t, err)
	assert.True(t, bundle.Degraded)
	assert.Equal(t, somePassages, bundle.Passages)
	assert.Empty(t, bundle.Facts)
}

func TestEngine_Retrieve_VectorFailureDegrades(t *testing.T) {
	e := NewEngine(
		&fakeVector{err: errors.New("embed service down")},
		&fakeGraph{facts: someFacts},
		0,
	)

	bundle, err := e.Retrieve(context.Background(), Input{Route: bothLanes()})
	require.NoError(t, err)
	assert.True(t, bundle.Degraded)
	assert.Equal(t, someFacts, bundle.Facts)
	assert.Empty(t, bundle.Passages)
}

func TestEngine_Retrieve_BothLanesFailErrors(t *testing.T) {
	e := NewEngine(
		&fakeVector{err: errors.New("vector down")},
		&fakeGraph{err: errors.New("graph down")},
		0,
	)

	_, err := e.Retrieve(context.Background(), Input{Route: bothLanes()})
	assert.Error(t, err)
}

func TestEngine_Retrieve_SkippedLaneIsNotFailure(t *testing.T) {
	graph := &fakeGraph{err: errors.New("graph down")}
	e := NewEngine(&fakeVector{passages: somePassages}, graph, 0)

	bundle, err := e.Retrieve(context.Background(), Input{Route: vectorOnly()})
	require.NoError(t, err)
	assert.False(t, bundle.Degraded)
	assert.Zero(t, graph.calls, "unrouted lane must not run")
}

func TestEngine_Retrieve_GraphFallbackSetsDegraded(t *testing.T) {
	e := NewEngine(
		&fakeVector{passages: somePassages},
		&fakeGraph{facts: someFacts, degraded: true},
		0,
	)

	bundle, err := e.Retrieve(context.Background(), Input{Route: bothLanes()})
	require.NoError(t, err)
	assert.True(t, bundle.Degraded)
	assert.Equal(t, someFacts, bundle.Facts)
}

func TestEngine_Retrieve_LaneTimeoutDegrades(t *testing.T) {
	e := NewEngine(
		&fakeVector{passages: somePassages, delay: 500 * time.Millisecond},
		&fakeGraph{facts: someFacts},
		50*time.Millisecond,
	)

	bundle, err := e.Retrieve(context.Background(), Input{Route: bothLanes()})
	require.NoError(t, err)
	assert.True(t, bundle.Degraded)
	assert.Empty(t, bundle.Passages)
	assert.Equal(t, someFacts, bundle.Facts)
}

func TestNewEngine_PanicsOnNilLanes(t *testing.T) {
	assert.Panics(t, func() { NewEngine(nil, &fakeGraph{}, 0) })
	assert.Panics(t, func() { NewEngine(&fakeVector{}, nil, 0) })
}
