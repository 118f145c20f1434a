// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	summaryTitleMaxWords    = 8
	summaryTitleMaxTokens   = 50
	summaryTitleTemperature = 0.2
	summaryFallbackMaxBytes = 100
)

const summarizerPersona = `You title chat sessions for a health assistant. Given the first exchange,
produce a very short title, at most 8 words, in the same language as the
question. Output only the title, no quotes, no trailing punctuation.`

// SummarizeSessionTitle produces an 8-word-max title for a session from
// its first exchange.
//
// # Description
//
// Runs a low-temperature completion with a hard stop list. Any failure
// or empty result falls back to "Chat: <question>" truncated, so the
// caller always gets a usable title and never an error; persistence of
// the title is the caller's job.
func SummarizeSessionTitle(ctx context.Context, client LLMClient,
	question, answer string) string {

	temp := float32(summaryTitleTemperature)
	maxTokens := summaryTitleMaxTokens
	params := GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"\n", "User:", "AI:"},
	}

	prompt := Prompt{
		System: summarizerPersona,
		User:   fmt.Sprintf("User: %s\nAI: %s\nTitle:", question, answer),
	}

	title, err := client.Generate(ctx, prompt, params)
	title = cleanTitle(title)
	if err != nil || title == "" {
		if err != nil {
			slog.Error("Failed to generate session title", "error", err)
		} else {
			slog.Warn("LLM generated an empty session title, using fallback")
		}
		return fallbackTitle(question)
	}
	return title
}

// cleanTitle strips quoting and clamps to the word budget. Models
// routinely ignore the "no quotes" instruction.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSuffix(title, ".")

	words := strings.Fields(title)
	if len(words) > summaryTitleMaxWords {
		words = words[:summaryTitleMaxWords]
	}
	return strings.Join(words, " ")
}

func fallbackTitle(question string) string {
	title := "Chat: " + strings.TrimSpace(question)
	if len(title) > summaryFallbackMaxBytes {
		title = title[:summaryFallbackMaxBytes] + "..."
	}
	return title
}
