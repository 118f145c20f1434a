// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm wraps OpenAI-compatible chat-completion backends behind a
// single streaming interface. The orchestrator never talks to a model
// API directly; it goes through LLMClient so backends can be swapped
// with an environment variable.
package llm

import (
	"context"
	"fmt"
	"os"
)

// GenerationParams carries per-request sampling knobs. Nil pointer
// fields mean "use the backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Prompt is an assembled chat-completion request: the system message
// holds the persona plus all retrieved context, the user message holds
// the question. See BuildAnswerPrompt.
type Prompt struct {
	System string
	User   string
}

// StreamCallback receives each token delta during streaming generation.
// Returning an error aborts the stream; the error propagates out of
// GenerateStream unchanged so callers can detect their own abort.
type StreamCallback func(token string) error

// LLMClient is the standard interface for any generation backend.
type LLMClient interface {
	// Generate produces the full completion in one call.
	Generate(ctx context.Context, prompt Prompt, params GenerationParams) (string, error)

	// GenerateStream streams the completion token-by-token through
	// callback and returns after the final token or the first error.
	GenerateStream(ctx context.Context, prompt Prompt, params GenerationParams, callback StreamCallback) error

	// Translate renders text into targetLang ("en" or "hi") with a
	// fixed translation meta-prompt, non-streaming.
	Translate(ctx context.Context, text string, targetLang string) (string, error)

	// Ping verifies the backend is reachable. Used by readiness checks.
	Ping(ctx context.Context) error
}

// NewFromEnv builds the backend selected by SEHAT_LLM_BACKEND:
//
//   - "openai" (default): hosted OpenAI API, key from SEHAT_LLM_API_KEY
//     or OPENAI_API_KEY or the Podman secret file.
//   - "local": any OpenAI-compatible server (vLLM, llama.cpp,
//     Ollama's /v1 shim) at SEHAT_LLM_URL; no API key required.
func NewFromEnv() (LLMClient, error) {
	backend := os.Getenv("SEHAT_LLM_BACKEND")

	switch backend {
	case "", "openai":
		return NewOpenAIClient()
	case "local":
		baseURL := os.Getenv("SEHAT_LLM_URL")
		if baseURL == "" {
			return nil, fmt.Errorf("SEHAT_LLM_BACKEND=local requires SEHAT_LLM_URL")
		}
		return NewLocalClient(baseURL)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", backend)
	}
}
