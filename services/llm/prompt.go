// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"strings"

	"github.com/SehatAI/SehatOSS/pkg/extensions"
	"github.com/SehatAI/SehatOSS/services/orchestrator/knowledge"
)

// =============================================================================
// Answer prompt
// =============================================================================

const answerPersona = `You are Sehat, a careful bilingual health assistant for users in India.
You answer general health questions in English or romanized Hindi (Hinglish).
You are not a doctor and never diagnose; for anything serious, urgent, or
uncertain you tell the user to see a qualified doctor. Keep answers short,
concrete, and grounded in the reference material below. When you use a
reference passage, cite it inline as [1], [2], and so on. If the references
do not cover the question, say so plainly instead of guessing.`

// AnswerContext is everything that folds into the system prompt for one
// answer: retrieval output, profile, and safety guidance.
type AnswerContext struct {
	// Question is the user's question, verbatim.
	Question string

	// Language is the reply language tag ("en", "hi").
	Language string

	// Profile carries known conditions and city, possibly empty.
	Profile extensions.Profile

	// Passages are the vector-lane results, in rank order. Their
	// positions define the citation numbers.
	Passages []knowledge.Passage

	// Facts are the graph-lane results.
	Facts []knowledge.Fact

	// SafetyNotes are category guidance messages from the safety
	// scanner. When present the answer must open with them.
	SafetyNotes []string
}

// BuildAnswerPrompt assembles the generation prompt.
//
// # Description
//
// The system message carries the persona, the reply-language
// instruction, and every piece of context; the user message is the bare
// question. Sections are omitted when empty so short queries do not pay
// for scaffolding.
//
// # Limitations
//
//   - No token budgeting; retrieval caps passage and fact counts
//     upstream, which keeps the prompt bounded in practice.
func BuildAnswerPrompt(in AnswerContext) Prompt {
	var b strings.Builder
	b.WriteString(answerPersona)
	b.WriteString("\n\nReply in ")
	b.WriteString(languageName(in.Language))
	b.WriteString(".")

	if len(in.SafetyNotes) > 0 {
		b.WriteString("\n\n## Safety guidance (MUST appear at the start of your answer)\n")
		for _, note := range in.SafetyNotes {
			b.WriteString("- ")
			b.WriteString(note)
			b.WriteString("\n")
		}
	}

	if len(in.Passages) > 0 {
		b.WriteString("\n## Reference passages\n")
		for i, p := range in.Passages {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, p.Source, strings.TrimSpace(p.Text))
		}
	}

	if len(in.Facts) > 0 {
		b.WriteString("\n## Known facts\n")
		for _, f := range in.Facts {
			fmt.Fprintf(&b, "- %s: %s — %s (confidence %.2f)\n",
				factLabel(f.Category), f.Subject, f.Detail, f.Confidence)
		}
	}

	if len(in.Profile.Conditions) > 0 || in.Profile.City != "" {
		b.WriteString("\n## User profile\n")
		if len(in.Profile.Conditions) > 0 {
			b.WriteString("- Known conditions: ")
			b.WriteString(strings.Join(in.Profile.Conditions, ", "))
			b.WriteString("\n")
		}
		if in.Profile.City != "" {
			b.WriteString("- City: ")
			b.WriteString(in.Profile.City)
			b.WriteString("\n")
		}
	}

	return Prompt{
		System: b.String(),
		User:   strings.TrimSpace(in.Question),
	}
}

func languageName(tag string) string {
	switch tag {
	case "", "en":
		return "English"
	case "hi":
		return "romanized Hindi (Hinglish, Latin script)"
	default:
		return tag
	}
}

func factLabel(category string) string {
	switch category {
	case knowledge.FactSymptomCondition:
		return "Possible condition"
	case knowledge.FactContraindication:
		return "Contraindication"
	case knowledge.FactProvider:
		return "Provider"
	default:
		return category
	}
}

// =============================================================================
// Translation prompt
// =============================================================================

const translationMetaPrompt = `You are a precise medical translator. Translate the user's text into %s.
Preserve meaning exactly, keep citation markers like [1] unchanged, and do
not add, remove, or explain anything. Output only the translation.`

// BuildTranslationPrompt builds the fixed translation meta-prompt.
func BuildTranslationPrompt(text, targetLang string) Prompt {
	return Prompt{
		System: fmt.Sprintf(translationMetaPrompt, languageName(targetLang)),
		User:   text,
	}
}
