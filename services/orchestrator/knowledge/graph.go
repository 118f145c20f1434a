// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SehatAI/SehatOSS/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// GraphInput carries everything the graph lane reads: the original
// (pre-rewrite) query plus the profile facts that map to graph edges.
type GraphInput struct {
	// Query is the user's original query, used for symptom extraction.
	Query string

	// Conditions are the profile's named conditions. Empty is valid
	// and yields an empty, well-formed contraindication result.
	Conditions []string

	// City is the profile's city, for provider lookup. Empty skips
	// the provider edges.
	City string
}

// GraphSearcher retrieves structured facts from the knowledge graph.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type GraphSearcher interface {
	// SearchFacts returns graph facts for the input. The degraded
	// flag is true when the facts came from the offline fallback
	// dataset instead of the live backend.
	SearchFacts(ctx context.Context, input GraphInput) (facts []Fact, degraded bool, err error)
}

// graphSymptomVocabulary is the symptom vocabulary for query term
// extraction, bilingual, normalized lowercase single-space. Kept in
// sync with the subjects the graph and the fallback dataset know.
var graphSymptomVocabulary = []string{
	"fever", "bukhar", "cough", "khansi", "headache", "sir dard",
	"nausea", "vomiting", "ulti", "diarrhea", "dast", "rash",
	"fatigue", "thakan", "dizziness", "chakkar", "swelling", "sujan",
	"itching", "khujli", "sore throat", "gala kharab", "body ache",
	"badan dard", "chills", "breathless", "saans phoolna",
}

// ExtractSymptoms returns the distinct symptom terms present in the
// query, matched on word boundaries, in vocabulary order.
func ExtractSymptoms(query string) []string {
	normalized := " " + strings.Join(strings.Fields(strings.ToLower(query)), " ") + " "
	// Strip common punctuation so "fever," matches.
	normalized = strings.Map(func(r rune) rune {
		switch r {
		case '?', '!', '.', ',', ';', ':':
			return ' '
		}
		return r
	}, normalized)

	var found []string
	for _, term := range graphSymptomVocabulary {
		if strings.Contains(normalized, " "+term+" ") {
			found = append(found, term)
		}
	}
	return found
}

// WeaviateGraphSearcher implements GraphSearcher against the
// KnowledgeEdge class, failing over to the fallback dataset when the
// live backend errors.
//
// # Description
//
// Issues one filtered query per edge family:
//   - symptom terms from the query → symptom_condition edges,
//   - profile conditions → contraindication edges,
//   - profile city → provider edges.
//
// Any live-backend error switches the whole request to the fallback
// dataset and marks the result degraded; live and fallback facts are
// never mixed within one request.
type WeaviateGraphSearcher struct {
	client   *weaviate.Client
	fallback *FallbackDataset
}

// Compile-time interface compliance check.
var _ GraphSearcher = (*WeaviateGraphSearcher)(nil)

// NewWeaviateGraphSearcher creates a graph searcher. A nil client is
// allowed and routes every request to the fallback dataset.
func NewWeaviateGraphSearcher(client *weaviate.Client, fallback *FallbackDataset) *WeaviateGraphSearcher {
	if fallback == nil {
		panic("knowledge: fallback dataset must not be nil")
	}
	return &WeaviateGraphSearcher{client: client, fallback: fallback}
}

// SearchFacts retrieves facts for the input, live first, fallback on
// failure.
func (g *WeaviateGraphSearcher) SearchFacts(ctx context.Context, input GraphInput) ([]Fact, bool, error) {
	ctx, span := tracer.Start(ctx, "SearchFacts")
	defer span.End()

	symptoms := ExtractSymptoms(input.Query)

	if g.client != nil {
		facts, err := g.searchLive(ctx, symptoms, input)
		if err == nil {
			return facts, false, nil
		}
		slog.Warn("Live graph backend failed, consulting fallback dataset", "error", err)
	}

	facts, err := g.searchFallback(symptoms, input)
	if err != nil {
		return nil, true, fmt.Errorf("graph fallback failed: %w", err)
	}
	return facts, true, nil
}

// searchLive queries the KnowledgeEdge class per edge family. The
// first backend error aborts the whole live attempt.
func (g *WeaviateGraphSearcher) searchLive(ctx context.Context, symptoms []string, input GraphInput) ([]Fact, error) {
	var facts []Fact

	for _, symptom := range symptoms {
		hits, err := g.queryEdges(ctx, FactSymptomCondition, symptom)
		if err != nil {
			return nil, err
		}
		facts = append(facts, hits...)
	}
	for _, condition := range input.Conditions {
		hits, err := g.queryEdges(ctx, FactContraindication, normalizeSubject(condition))
		if err != nil {
			return nil, err
		}
		facts = append(facts, hits...)
	}
	if input.City != "" {
		hits, err := g.queryEdges(ctx, FactProvider, normalizeSubject(input.City))
		if err != nil {
			return nil, err
		}
		facts = append(facts, hits...)
	}
	return facts, nil
}

// queryEdges fetches edges of one category for one subject.
func (g *WeaviateGraphSearcher) queryEdges(ctx context.Context, category, subject string) ([]Fact, error) {
	categoryFilter := filters.Where().
		WithPath([]string{"category"}).
		WithOperator(filters.Equal).
		WithValueString(category)
	subjectFilter := filters.Where().
		WithPath([]string{"subject"}).
		WithOperator(filters.Equal).
		WithValueString(subject)

	combined := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{categoryFilter, subjectFilter})

	result, err := g.client.GraphQL().Get().
		WithClassName("KnowledgeEdge").
		WithFields(
			graphql.Field{Name: "category"},
			graphql.Field{Name: "subject"},
			graphql.Field{Name: "detail"},
			graphql.Field{Name: "confidence"},
		).
		WithWhere(combined).
		WithLimit(8).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("edge query failed for %s/%s: %w", category, subject, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.EdgeQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse edge results: %w", err)
	}

	facts := make([]Fact, 0, len(parsed.Get.KnowledgeEdge))
	for _, edge := range parsed.Get.KnowledgeEdge {
		facts = append(facts, Fact{
			Category:   edge.Category,
			Subject:    edge.Subject,
			Detail:     edge.Detail,
			Confidence: edge.Confidence,
		})
	}
	return facts, nil
}

// searchFallback serves the same three edge families from the offline
// dataset.
func (g *WeaviateGraphSearcher) searchFallback(symptoms []string, input GraphInput) ([]Fact, error) {
	var facts []Fact

	for _, symptom := range symptoms {
		hits, err := g.fallback.ConditionsForSymptom(symptom)
		if err != nil {
			return nil, err
		}
		facts = append(facts, hits...)
	}
	for _, condition := range input.Conditions {
		hits, err := g.fallback.ContraindicationsFor(condition)
		if err != nil {
			return nil, err
		}
		facts = append(facts, hits...)
	}
	if input.City != "" {
		hits, err := g.fallback.ProvidersIn(input.City)
		if err != nil {
			return nil, err
		}
		facts = append(facts, hits...)
	}
	return facts, nil
}
