// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package safety implements lexical triage of user queries against
// curated emergency term sets.
//
// The scanner is a pure function over the query text: no I/O, no
// mutable state, deterministic output. It exists to make sure a query
// describing a medical emergency is never answered without the
// corresponding guidance attached, regardless of what retrieval or
// generation do with the turn.
//
// # Failure Semantics
//
// Scan never panics and never returns an error. Suppressing a true
// finding would be worse than an occasional false negative from a
// matching bug, but crashing the whole turn would be worse than either,
// so any internal fault degrades to an empty result.
package safety

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/SehatAI/SehatOSS/services/orchestrator/safety/termsets"
)

// =============================================================================
// Types
// =============================================================================

// Category identifies one safety triage category.
type Category string

const (
	// CategoryRedFlag marks physical symptoms needing emergency care.
	CategoryRedFlag Category = "RED_FLAG"

	// CategoryMentalHealth marks mental-health crisis language.
	CategoryMentalHealth Category = "MENTAL_HEALTH"

	// CategoryPregnancy marks pregnancy emergency language.
	CategoryPregnancy Category = "PREGNANCY"
)

// Finding is a single matched safety term.
type Finding struct {
	// Category is the triage category the term belongs to.
	Category Category `json:"category"`

	// Term is the dictionary term that matched, normalized form.
	Term string `json:"term"`

	// Message is the category-level guidance shown to the user.
	// English and romanized Hindi joined with a blank line.
	Message string `json:"message"`
}

// ScanResult is the outcome of scanning one query.
//
// Findings are ordered by category priority (red flag first), then by
// term position in the dictionary. A category appears at most once: the
// first matching term wins, additional matches in the same category add
// nothing actionable.
type ScanResult struct {
	Findings []Finding `json:"findings"`

	// Fired is true when any category matched. Mirrors the red_flag
	// bit callers thread into the done event.
	Fired bool `json:"fired"`
}

// Categories returns the matched category names in priority order.
func (r ScanResult) Categories() []string {
	out := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		out = append(out, string(f.Category))
	}
	return out
}

// Has reports whether the given category matched.
func (r ScanResult) Has(cat Category) bool {
	for _, f := range r.Findings {
		if f.Category == cat {
			return true
		}
	}
	return false
}

// =============================================================================
// Scanner
// =============================================================================

// Scanner matches queries against the embedded safety term sets.
//
// All state is loaded once at construction and never written again, so
// a single Scanner is safe for concurrent use by every request.
type Scanner struct {
	categories []compiledCategory
}

type compiledCategory struct {
	name    Category
	message string
	terms   []string
}

// NewScanner loads the embedded term sets and compiles the matching
// tables. A load error means the embedded YAML is malformed, which is a
// build defect; callers treat it as fatal at startup.
func NewScanner() (*Scanner, error) {
	table, err := termsets.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load safety term sets: %w", err)
	}

	s := &Scanner{categories: make([]compiledCategory, 0, len(table.Categories))}
	for _, cat := range table.Categories {
		name, err := categoryName(cat.Name)
		if err != nil {
			return nil, err
		}
		message := cat.MessageEN
		if cat.MessageHI != "" {
			message = cat.MessageEN + "\n\n" + cat.MessageHI
		}
		s.categories = append(s.categories, compiledCategory{
			name:    name,
			message: message,
			terms:   cat.Terms,
		})
	}
	return s, nil
}

func categoryName(raw string) (Category, error) {
	switch raw {
	case "red_flag":
		return CategoryRedFlag, nil
	case "mental_health":
		return CategoryMentalHealth, nil
	case "pregnancy":
		return CategoryPregnancy, nil
	default:
		return "", fmt.Errorf("unknown safety category %q in term sets", raw)
	}
}

// Scan matches the query against every category and returns the union
// of matched categories.
//
// Matching is case-insensitive, whitespace-normalized, and word-boundary
// aware on both sides: "die" does not fire inside "diet", "ed" does not
// fire inside "seed". Multi-word terms match across single spaces.
//
// Scan never panics; an internal fault is logged and degrades to an
// empty result.
func (s *Scanner) Scan(query string) (result ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("safety scan recovered from internal fault, degrading to no finding",
				"panic", r)
			result = ScanResult{}
		}
	}()

	normalized := termsets.Normalize(query)
	if normalized == "" {
		return ScanResult{}
	}

	for _, cat := range s.categories {
		for _, term := range cat.terms {
			if containsWholePhrase(normalized, term) {
				result.Findings = append(result.Findings, Finding{
					Category: cat.name,
					Term:     term,
					Message:  cat.message,
				})
				break // one finding per category
			}
		}
	}
	result.Fired = len(result.Findings) > 0
	return result
}

// containsWholePhrase reports whether phrase occurs in text delimited
// by non-letter, non-digit runes or string edges on both sides.
//
// Both inputs must already be normalized (lowercase, single spaces).
func containsWholePhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)
		if boundaryBefore(text, idx) && boundaryAfter(text, end) {
			return true
		}
		start = idx + 1
	}
}

func boundaryBefore(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:idx])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[end:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
