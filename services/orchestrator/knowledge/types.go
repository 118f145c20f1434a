// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package knowledge

// Passage is one semantic retrieval hit from the passage corpus.
type Passage struct {
	// ID is the Weaviate object id of the hit.
	ID string `json:"id"`

	// Text is the passage content.
	Text string `json:"text"`

	// Source names the originating document or dataset.
	Source string `json:"source"`

	// Topic is the health topic tag, when the corpus carries one.
	Topic string `json:"topic,omitempty"`

	// Score is the certainty of the match, in [0, 1].
	Score float64 `json:"score"`
}

// Fact categories produced by the graph lane.
const (
	FactSymptomCondition = "symptom_condition"
	FactContraindication = "contraindication"
	FactProvider         = "provider"
)

// Fact is a structured edge from the knowledge graph: a symptom
// pointing at a condition, a condition's contraindication, or a
// provider in a city.
type Fact struct {
	// Category is one of the Fact* constants.
	Category string `json:"category"`

	// Subject is the edge's origin (symptom, condition, or city).
	Subject string `json:"subject"`

	// Detail is the edge's target with any qualifier text.
	Detail string `json:"detail"`

	// Confidence is the edge weight in [0, 1]. Fallback facts carry
	// the dataset's static confidence.
	Confidence float64 `json:"confidence"`
}
