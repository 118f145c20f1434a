// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"regexp"
	"strings"
)

// =============================================================================
// Graph-Intent Patterns
// =============================================================================

// Compiled once at package init; Classify must not allocate regexes.
var (
	// Drug interaction / contraindication phrasings, English and
	// romanized Hindi.
	interactionPattern = regexp.MustCompile(
		`(?i)\b(can i take|should i take|is it safe to take|take .{1,40} (with|together)|` +
			`kya main .{1,40} le (sakta|sakti)|ke saath le)\b`)

	// Provider lookup: doctor/hospital/clinic near or in a place.
	providerPattern = regexp.MustCompile(
		`(?i)\b(doctor|doctors|hospital|clinic|specialist|gynecologist|` +
			`pediatrician|daktar|aspatal)\b.{0,40}\b(near|nearby|in|close to|` +
			`ke paas|ke pass|mein)\b`)

	// Condition-specific medicine questions ("medicine for diabetes",
	// "dawai for bukhar").
	conditionMedicinePattern = regexp.MustCompile(
		`(?i)\b(medicine|medication|tablet|dawa|dawai|dava)\b.{0,40}\b(for|ke liye)\b`)
)

// symptomTerms are the symptom vocabulary for the keyword signal.
// Bilingual, normalized lowercase single-space.
var symptomTerms = []string{
	"fever", "bukhar", "cough", "khansi", "headache", "sir dard",
	"nausea", "vomiting", "ulti", "diarrhea", "dast", "rash",
	"fatigue", "thakan", "dizziness", "chakkar", "swelling", "sujan",
	"cramps", "itching", "khujli", "sore throat", "gala kharab",
	"body ache", "badan dard", "chills", "breathless", "saans phoolna",
}

// conditionTerms name chronic or diagnosed conditions; their presence
// suggests the graph's condition edges are useful.
var conditionTerms = []string{
	"diabetes", "sugar", "madhumeh", "hypertension", "bp", "blood pressure",
	"asthma", "dama", "thyroid", "anemia", "khoon ki kami", "tb",
	"tuberculosis", "arthritis", "gathiya", "migraine", "epilepsy", "mirgi",
}

// resourceTerms mark pure resource-lookup queries that carry no
// narrative content worth a vector search.
var resourceTerms = []string{
	"doctor", "doctors", "hospital", "clinic", "pharmacy", "chemist",
	"specialist", "daktar", "aspatal", "helpline", "ambulance",
}

// Router classifies queries into retrieval routes.
//
// # Description
//
// Router is a pure classifier: same inputs, same Route, no side
// effects. All patterns are compiled at package init, so Classify is
// allocation-light and safe for concurrent use.
//
// # Example
//
//	r := NewRouter()
//	route := r.Classify("can i take ibuprofen with metformin", nil)
//	// route.UseGraph == true, route.UseVector == true
type Router struct{}

// NewRouter creates a query router.
func NewRouter() *Router {
	return &Router{}
}

// Classify maps a query and its recent history to a retrieval route.
//
// # Description
//
// Applies, in order:
//  1. Empty/unknown queries route to vector-only.
//  2. Interaction, provider-lookup, and condition-medicine patterns
//     set UseGraph.
//  3. Any recognized condition or symptom term sets UseGraph
//     (symptom queries profit from the symptom-to-condition edges).
//  4. UseVector starts true and is cleared only for pure resource
//     lookups: a provider pattern hit whose remaining content words
//     are all resource/location vocabulary.
//
// History currently only reinforces graph intent: a condition named
// in the last turn keeps UseGraph on for terse follow-ups.
//
// # Inputs
//
//   - query: The user's query, any casing.
//   - history: Recent turns, newest last. May be nil.
//
// # Outputs
//
//   - Route: The retrieval plan. Never both-false for non-empty input.
func (r *Router) Classify(query string, history []Turn) Route {
	normalized := normalizeQuery(query)
	if normalized == "" {
		return Route{UseGraph: false, UseVector: true}
	}

	route := Route{UseVector: true}

	if interactionPattern.MatchString(normalized) ||
		conditionMedicinePattern.MatchString(normalized) {
		route.UseGraph = true
	}

	providerHit := providerPattern.MatchString(normalized)
	if providerHit {
		route.UseGraph = true
	}

	if containsAnyTerm(normalized, conditionTerms) {
		route.UseGraph = true
	}

	if containsAnyTerm(normalized, symptomTerms) {
		route.UseGraph = true
	}

	// A terse follow-up after a condition-centric turn stays on the
	// graph path.
	if !route.UseGraph && len(history) > 0 {
		last := normalizeQuery(history[len(history)-1].Question)
		if len(strings.Fields(normalized)) <= 4 && containsAnyTerm(last, conditionTerms) {
			route.UseGraph = true
		}
	}

	// Pure resource lookup: provider pattern matched and nothing in
	// the query needs passage retrieval.
	if providerHit && isPureResourceLookup(normalized) {
		route.UseVector = false
	}

	return route
}

// normalizeQuery lowercases and collapses whitespace.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// containsAnyTerm reports whether any term appears in the normalized
// query on word boundaries.
func containsAnyTerm(normalized string, terms []string) bool {
	for _, term := range terms {
		if containsWholeTerm(normalized, term) {
			return true
		}
	}
	return false
}

// containsWholeTerm matches term inside normalized text on word
// boundaries, so "bp" does not fire inside "bpa".
func containsWholeTerm(normalized, term string) bool {
	start := 0
	for {
		idx := strings.Index(normalized[start:], term)
		if idx < 0 {
			return false
		}
		abs := start + idx
		end := abs + len(term)
		beforeOK := abs == 0 || normalized[abs-1] == ' '
		afterOK := end == len(normalized) || normalized[end] == ' ' ||
			isTrailingPunct(normalized[end])
		if beforeOK && afterOK {
			return true
		}
		start = abs + 1
	}
}

func isTrailingPunct(b byte) bool {
	switch b {
	case '?', '!', '.', ',', ';', ':':
		return true
	}
	return false
}

// resourceFillerWords are structural words ignored when deciding
// whether a provider query is a pure lookup.
var resourceFillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "any": true, "good": true,
	"best": true, "near": true, "nearby": true, "in": true, "me": true,
	"my": true, "is": true, "there": true, "find": true, "close": true,
	"to": true, "ke": true, "paas": true, "pass": true, "mein": true,
	"koi": true, "hai": true, "kahan": true, "where": true,
}

// isPureResourceLookup reports whether the query is only resource and
// location vocabulary. Anything narrative (a symptom, a condition, a
// "for ..." clause) keeps the vector lane on. Unrecognized single
// tokens are assumed to be place names.
func isPureResourceLookup(normalized string) bool {
	if containsAnyTerm(normalized, symptomTerms) ||
		containsAnyTerm(normalized, conditionTerms) {
		return false
	}
	if strings.Contains(normalized, " for ") || strings.Contains(normalized, " ke liye") {
		return false
	}

	resourceSet := make(map[string]bool, len(resourceTerms))
	for _, t := range resourceTerms {
		resourceSet[t] = true
	}

	unrecognized := 0
	for _, word := range strings.Fields(normalized) {
		word = strings.TrimRight(word, "?!.,;:")
		if word == "" || resourceFillerWords[word] || resourceSet[word] {
			continue
		}
		unrecognized++
	}
	// Allow up to two unrecognized tokens for the place name itself.
	return unrecognized <= 2
}
