// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval joins the vector and graph lanes into one bundle
// with explicit partial-failure semantics.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SehatAI/SehatOSS/services/orchestrator/conversation"
	"github.com/SehatAI/SehatOSS/services/orchestrator/knowledge"
	"github.com/SehatAI/SehatOSS/services/orchestrator/observability"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("sehat.orchestrator.retrieval")

// DefaultLaneTimeout bounds each retrieval lane. Deliberately shorter
// than the generation timeout so a stuck lane degrades the answer
// instead of stalling it.
const DefaultLaneTimeout = 5 * time.Second

// Input carries both query forms plus the profile facts the graph
// lane reads.
type Input struct {
	// Route selects which lanes run.
	Route conversation.Route

	// RewrittenQuery feeds the vector lane.
	RewrittenQuery string

	// OriginalQuery feeds the graph lane's term extraction.
	OriginalQuery string

	// Conditions are the profile's named conditions.
	Conditions []string

	// City is the profile's city.
	City string

	// TopK caps vector hits; non-positive uses the lane default.
	TopK int
}

// Bundle is the joined retrieval result.
type Bundle struct {
	// Passages are the vector lane's hits.
	Passages []knowledge.Passage `json:"passages"`

	// Facts are the graph lane's structured edges.
	Facts []knowledge.Fact `json:"facts"`

	// Degraded is true when any routed lane failed or the graph lane
	// served from its offline fallback.
	Degraded bool `json:"degraded"`
}

// Engine fans retrieval out over the routed lanes.
//
// # Description
//
// Lanes run concurrently and are joined, never raced: every routed
// lane's result is collected before the bundle is assembled. One lane
// failing marks the bundle degraded; both routed lanes failing is an
// error. Lanes the route skips contribute nothing and are not
// failures.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	vector      knowledge.VectorSearcher
	graph       knowledge.GraphSearcher
	laneTimeout time.Duration
}

// NewEngine creates a retrieval engine. A non-positive laneTimeout
// uses DefaultLaneTimeout.
func NewEngine(vector knowledge.VectorSearcher, graph knowledge.GraphSearcher, laneTimeout time.Duration) *Engine {
	if vector == nil {
		panic("retrieval: vector searcher must not be nil")
	}
	if graph == nil {
		panic("retrieval: graph searcher must not be nil")
	}
	if laneTimeout <= 0 {
		laneTimeout = DefaultLaneTimeout
	}
	return &Engine{vector: vector, graph: graph, laneTimeout: laneTimeout}
}

type vectorResult struct {
	passages []knowledge.Passage
	err      error
}

type graphResult struct {
	facts    []knowledge.Fact
	degraded bool
	err      error
}

// Retrieve runs the routed lanes and joins their results.
//
// # Description
//
// Each lane gets its own timeout-bounded child context, so the graph
// lane's internal fallback never delays the vector lane. Outcomes:
//   - both lanes succeed: full bundle, Degraded only if the graph
//     served from fallback;
//   - one routed lane fails: surviving lane's data, Degraded true;
//   - all routed lanes fail: error;
//   - a lane not routed is skipped, not failed.
//
// # Inputs
//
//   - ctx: Context for cancellation; lane timeouts derive from it.
//   - input: Queries, route, and profile facts.
//
// # Outputs
//
//   - Bundle: The joined result.
//   - error: Non-nil only when every routed lane failed.
func (e *Engine) Retrieve(ctx context.Context, input Input) (Bundle, error) {
	ctx, span := tracer.Start(ctx, "Engine.Retrieve")
	defer span.End()

	metrics := observability.DefaultMetrics

	vectorCh := make(chan vectorResult, 1)
	graphCh := make(chan graphResult, 1)

	if input.Route.UseVector {
		go func() {
			laneCtx, cancel := context.WithTimeout(ctx, e.laneTimeout)
			defer cancel()
			passages, err := e.vector.SearchPassages(laneCtx, input.RewrittenQuery, input.TopK)
			vectorCh <- vectorResult{passages: passages, err: err}
		}()
	} else if metrics != nil {
		metrics.RecordRetrievalLane(observability.LaneVector, observability.OutcomeSkipped)
	}

	if input.Route.UseGraph {
		go func() {
			laneCtx, cancel := context.WithTimeout(ctx, e.laneTimeout)
			defer cancel()
			facts, degraded, err := e.graph.SearchFacts(laneCtx, knowledge.GraphInput{
				Query:      input.OriginalQuery,
				Conditions: input.Conditions,
				City:       input.City,
			})
			graphCh <- graphResult{facts: facts, degraded: degraded, err: err}
		}()
	} else if metrics != nil {
		metrics.RecordRetrievalLane(observability.LaneGraph, observability.OutcomeSkipped)
	}

	// Join: collect every routed lane before assembling the bundle.
	var bundle Bundle
	var vectorErr, graphErr error
	routedLanes := 0

	if input.Route.UseVector {
		routedLanes++
		res := <-vectorCh
		vectorErr = res.err
		bundle.Passages = res.passages
		recordLane(metrics, observability.LaneVector, len(res.passages), res.err)
	}
	if input.Route.UseGraph {
		routedLanes++
		res := <-graphCh
		graphErr = res.err
		bundle.Facts = res.facts
		if res.degraded {
			bundle.Degraded = true
			if metrics != nil && res.err == nil {
				metrics.RecordRetrievalLane(observability.LaneFallback, outcomeFor(len(res.facts), nil))
			}
		} else {
			recordLane(metrics, observability.LaneGraph, len(res.facts), res.err)
		}
	}

	failed := 0
	if input.Route.UseVector && vectorErr != nil {
		failed++
		slog.Warn("Vector lane failed", "error", vectorErr)
	}
	if input.Route.UseGraph && graphErr != nil {
		failed++
		slog.Warn("Graph lane failed", "error", graphErr)
	}

	if routedLanes > 0 && failed == routedLanes {
		return Bundle{}, fmt.Errorf("all retrieval lanes failed: vector=[%v], graph=[%v]",
			vectorErr, graphErr)
	}
	if failed > 0 {
		bundle.Degraded = true
	}
	if bundle.Degraded && metrics != nil {
		metrics.RecordDegradedAnswer()
	}

	slog.Debug("Retrieval complete",
		"passages", len(bundle.Passages),
		"facts", len(bundle.Facts),
		"degraded", bundle.Degraded,
	)
	return bundle, nil
}

// recordLane maps a lane result to a metric outcome.
func recordLane(metrics *observability.AskMetrics, lane string, hits int, err error) {
	if metrics == nil {
		return
	}
	if err != nil {
		metrics.RecordRetrievalLane(lane, observability.OutcomeError)
		return
	}
	metrics.RecordRetrievalLane(lane, outcomeFor(hits, err))
}

func outcomeFor(hits int, err error) string {
	if err != nil {
		return observability.OutcomeError
	}
	if hits == 0 {
		return observability.OutcomeEmpty
	}
	return observability.OutcomeHit
}
