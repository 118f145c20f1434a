// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sehat.llm.openai")

// OpenAIClient speaks the OpenAI chat-completion API, against either
// the hosted service or any compatible local server.
//
// # Thread Safety
//
// Safe for concurrent use; go-openai clients are stateless per call.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// Compile-time interface compliance check.
var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client for the hosted OpenAI API.
//
// The API key comes from SEHAT_LLM_API_KEY, then OPENAI_API_KEY, then
// the Podman secret file /run/secrets/sehat_llm_api_key. The model
// comes from SEHAT_LLM_MODEL (default "gpt-4o-mini").
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("SEHAT_LLM_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/sehat_llm_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("LLM API key not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("SEHAT_LLM_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the LLM API key from Podman secrets")
	}

	model := modelFromEnv()
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// NewLocalClient builds a client for an OpenAI-compatible server at
// baseURL (vLLM, llama.cpp server, Ollama's /v1 shim). Local servers
// ignore the bearer token, but go-openai requires one to be set.
func NewLocalClient(baseURL string) (*OpenAIClient, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}

	config := openai.DefaultConfig("sehat-local")
	config.BaseURL = baseURL

	model := modelFromEnv()
	slog.Info("Initializing local LLM client", "base_url", baseURL, "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func modelFromEnv() string {
	model := os.Getenv("SEHAT_LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("SEHAT_LLM_MODEL not set, defaulting to gpt-4o-mini")
	}
	return model
}

func (o *OpenAIClient) buildRequest(prompt Prompt, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Generate produces the full completion in one blocking call.
//
// # Description
//
// Used for the non-streaming paths: translation and session
// summarization. The streaming answer path goes through GenerateStream.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - prompt: Assembled system and user messages.
//   - params: Sampling knobs; nil fields use backend defaults.
//
// # Outputs
//
//   - string: The completion text.
//   - error: Transport failure, non-2xx status, or empty choice list.
func (o *OpenAIClient) Generate(ctx context.Context, prompt Prompt,
	params GenerationParams) (string, error) {

	ctx, span := tracer.Start(ctx, "OpenAIClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(prompt, params))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("LLM completion failed", "model", o.model, "error", err)
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("LLM returned no choices")
		return "", fmt.Errorf("LLM returned no choices")
	}

	slog.Debug("Received LLM completion", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// GenerateStream streams the completion token-by-token.
//
// # Description
//
// Opens a chat-completion stream and invokes callback once per token
// delta. Empty deltas (role-only frames) are skipped. A callback error
// aborts the stream and is returned unchanged, so the caller can tell
// its own abort from a backend failure.
//
// # Limitations
//
//   - Tokens already emitted before an error are the caller's problem;
//     the accumulator owns partial-answer handling.
func (o *OpenAIClient) GenerateStream(ctx context.Context, prompt Prompt,
	params GenerationParams, callback StreamCallback) error {

	ctx, span := tracer.Start(ctx, "OpenAIClient.GenerateStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	req := o.buildRequest(prompt, params)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to open LLM stream", "model", o.model, "error", err)
		return fmt.Errorf("failed to open LLM stream: %w", err)
	}
	defer stream.Close()

	tokens := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			span.SetAttributes(attribute.Int("llm.tokens", tokens))
			slog.Debug("LLM stream complete", "tokens", tokens)
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("LLM stream failed after %d tokens: %w", tokens, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		tokens++
		if err := callback(delta); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
}

// Translate renders text into targetLang with a fixed meta-prompt.
// Temperature is pinned low; translation should not be creative.
func (o *OpenAIClient) Translate(ctx context.Context, text string,
	targetLang string) (string, error) {

	ctx, span := tracer.Start(ctx, "OpenAIClient.Translate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.target_lang", targetLang))

	temp := float32(0.1)
	out, err := o.Generate(ctx, BuildTranslationPrompt(text, targetLang),
		GenerationParams{Temperature: &temp})
	if err != nil {
		return "", fmt.Errorf("translation to %s failed: %w", targetLang, err)
	}
	return strings.TrimSpace(out), nil
}

// Ping verifies the backend answers the models endpoint. Readiness
// checks call this; it makes no completion request.
func (o *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM backend unreachable: %w", err)
	}
	return nil
}
