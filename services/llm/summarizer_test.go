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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubClient struct {
	response string
	err      error
}

func (s *stubClient) Generate(_ context.Context, _ Prompt, _ GenerationParams) (string, error) {
	return s.response, s.err
}

func (s *stubClient) GenerateStream(_ context.Context, _ Prompt, _ GenerationParams, callback StreamCallback) error {
	if s.err != nil {
		return s.err
	}
	return callback(s.response)
}

func (s *stubClient) Translate(_ context.Context, text, _ string) (string, error) {
	return s.response, s.err
}

func (s *stubClient) Ping(context.Context) error { return s.err }

func TestSummarizeSessionTitle_UsesModelOutput(t *testing.T) {
	client := &stubClient{response: `"Fever home remedies."`}
	title := SummarizeSessionTitle(context.Background(), client, "bukhar", "rest and fluids")
	assert.Equal(t, "Fever home remedies", title)
}

func TestSummarizeSessionTitle_ClampsToEightWords(t *testing.T) {
	client := &stubClient{response: "one two three four five six seven eight nine ten"}
	title := SummarizeSessionTitle(context.Background(), client, "q", "a")
	assert.Equal(t, "one two three four five six seven eight", title)
}

func TestSummarizeSessionTitle_FallbackOnError(t *testing.T) {
	client := &stubClient{err: errors.New("backend down")}
	title := SummarizeSessionTitle(context.Background(), client, "what helps with a sore throat?", "")
	assert.Equal(t, "Chat: what helps with a sore throat?", title)
}

func TestSummarizeSessionTitle_FallbackOnEmpty(t *testing.T) {
	client := &stubClient{response: "   "}
	title := SummarizeSessionTitle(context.Background(), client, "short q", "a")
	assert.Equal(t, "Chat: short q", title)
}

func TestSummarizeSessionTitle_FallbackTruncates(t *testing.T) {
	long := strings.Repeat("cough ", 40)
	client := &stubClient{err: errors.New("down")}
	title := SummarizeSessionTitle(context.Background(), client, long, "")
	assert.True(t, strings.HasSuffix(title, "..."))
	assert.LessOrEqual(t, len(title), summaryFallbackMaxBytes+3)
}
