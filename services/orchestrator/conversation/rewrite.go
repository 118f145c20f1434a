// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"strings"
)

// =============================================================================
// Follow-Up Detection
// =============================================================================

// followUpWords are single-word follow-up indicators, English and
// romanized Hindi. Matched per-word after punctuation trimming.
var followUpWords = map[string]bool{
	"it": true, "that": true, "this": true, "they": true, "them": true,
	"why": true, "and": true, "more": true,
	"iska": true, "uska": true, "aur": true, "kyun": true, "kyu": true,
}

// followUpPrefixes are multi-word indicators matched at the start of
// the query or anywhere as a phrase.
var followUpPrefixes = []string{
	"what about", "how long", "kitne din", "kab tak",
}

// stopwords are excluded when mining history for salient terms.
// Covers English and romanized Hindi function words.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "do": true,
	"does": true, "did": true, "can": true, "could": true, "should": true,
	"will": true, "would": true, "i": true, "you": true, "we": true,
	"my": true, "your": true, "me": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"how": true, "why": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "with": true, "from": true,
	"and": true, "or": true, "but": true, "not": true, "no": true,
	"have": true, "has": true, "had": true, "if": true, "about": true,
	"there": true, "their": true, "they": true, "them": true, "some": true,
	"any": true, "take": true, "get": true, "also": true, "more": true,
	"kya": true, "hai": true, "hain": true, "main": true, "mujhe": true,
	"mera": true, "meri": true, "ka": true, "ki": true, "ke": true,
	"ko": true, "se": true, "par": true, "aur": true, "ya": true,
	"nahi": true, "nahin": true, "ho": true, "kar": true, "karna": true,
	"sakta": true, "sakti": true, "hoon": true, "hun": true, "liye": true,
	"kaise": true, "kab": true, "kahan": true, "kitna": true, "kitne": true,
	"din": true, "tak": true, "bhi": true, "toh": true,
}

// Rewriter augments short follow-up queries with salient terms from
// recent history so the retrieval lanes get real semantic signal from
// queries like "how long?" or "iska kya karna chahiye".
//
// # Description
//
// Rewriter is pure: no I/O, no LLM calls, deterministic output. A
// query either triggers (short AND carries a follow-up indicator AND
// history is non-empty) and gets salient terms appended, or passes
// through byte-for-byte unchanged.
//
// Rewriting is idempotent in effect: the augmented query exceeds the
// short-word limit, so a second pass cannot re-fire the trigger.
//
// # Example
//
//	rw := NewRewriter(DefaultRewriteConfig())
//	rw.Rewrite("how long?", history)   // "how long? typhoid fever antibiotics"
//	rw.Rewrite("what helps with typhoid fever", history)  // unchanged
type Rewriter struct {
	config RewriteConfig
}

// NewRewriter creates a rewriter with the given config. Non-positive
// config values fall back to defaults.
func NewRewriter(config RewriteConfig) *Rewriter {
	defaults := DefaultRewriteConfig()
	if config.Window < 1 {
		config.Window = defaults.Window
	}
	if config.MaxTerms < 1 {
		config.MaxTerms = defaults.MaxTerms
	}
	if config.ShortWordLimit < 1 {
		config.ShortWordLimit = defaults.ShortWordLimit
	}
	return &Rewriter{config: config}
}

// Rewrite returns the query augmented with salient history terms when
// the follow-up trigger fires, or the input unchanged otherwise.
//
// # Description
//
// The trigger requires all three of:
//  1. The query has at most ShortWordLimit words.
//  2. It contains a follow-up indicator (pronoun, "what about",
//     "how long", "iska", "kitne din", ...).
//  3. History is non-empty.
//
// On trigger, salient terms are mined from the last Window turns,
// most recent first: non-stopword content words, deduplicated, capped
// at MaxTerms, appended space-joined to the original query.
//
// # Inputs
//
//   - query: The user's query. Returned byte-for-byte when the
//     trigger does not fire.
//   - history: Recent turns, newest last. Empty history always
//     passes through.
//
// # Outputs
//
//   - string: The (possibly augmented) query.
func (r *Rewriter) Rewrite(query string, history []Turn) string {
	if len(history) == 0 {
		return query
	}

	words := strings.Fields(query)
	if len(words) == 0 || len(words) > r.config.ShortWordLimit {
		return query
	}

	if !isFollowUp(query, words) {
		return query
	}

	terms := r.salientTerms(history)
	if len(terms) == 0 {
		return query
	}

	return query + " " + strings.Join(terms, " ")
}

// isFollowUp reports whether the query carries a follow-up indicator.
func isFollowUp(query string, words []string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range followUpPrefixes {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	for _, word := range words {
		trimmed := strings.Trim(strings.ToLower(word), "?!.,;:'\"")
		if followUpWords[trimmed] {
			return true
		}
	}
	return false
}

// salientTerms mines content words from the last Window turns, most
// recent first, deduplicated, capped at MaxTerms.
func (r *Rewriter) salientTerms(history []Turn) []string {
	start := len(history) - r.config.Window
	if start < 0 {
		start = 0
	}
	window := history[start:]

	seen := make(map[string]bool)
	var terms []string

	// Walk newest to oldest so the freshest context wins the cap.
	for i := len(window) - 1; i >= 0; i-- {
		for _, text := range []string{window[i].Question, window[i].Answer} {
			for _, word := range strings.Fields(strings.ToLower(text)) {
				word = strings.Trim(word, "?!.,;:'\"()")
				if len(word) < 3 || stopwords[word] || seen[word] {
					continue
				}
				seen[word] = true
				terms = append(terms, word)
				if len(terms) >= r.config.MaxTerms {
					return terms
				}
			}
		}
	}
	return terms
}
