// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// Request / Response Shapes
// =============================================================================

// Profile carries the health facts an ask may attach.
type Profile struct {
	Conditions []string `json:"conditions,omitempty"`
	City       string   `json:"city,omitempty"`
}

// AskRequest is the body of POST /v1/ask/stream and /v1/retrieve.
type AskRequest struct {
	Question  string   `json:"question"`
	SessionID string   `json:"session_id,omitempty"`
	Language  string   `json:"language,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
}

// Passage is one vector-lane hit in a retrieval bundle.
type Passage struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Topic  string  `json:"topic,omitempty"`
	Score  float64 `json:"score"`
}

// GraphFact is one graph-lane edge in a retrieval bundle.
type GraphFact struct {
	Category   string  `json:"category"`
	Subject    string  `json:"subject"`
	Detail     string  `json:"detail"`
	Confidence float64 `json:"confidence"`
}

// RetrieveResult is the response of POST /v1/retrieve.
type RetrieveResult struct {
	Route struct {
		UseGraph  bool `json:"use_graph"`
		UseVector bool `json:"use_vector"`
	} `json:"route"`
	RewrittenQuery string `json:"rewritten_query"`
	Bundle         struct {
		Passages []Passage   `json:"passages"`
		Facts    []GraphFact `json:"facts"`
		Degraded bool        `json:"degraded"`
	} `json:"bundle"`
}

// Session is one entry of GET /v1/sessions.
type Session struct {
	SessionID      string `json:"session_id"`
	Summary        string `json:"summary"`
	Language       string `json:"language"`
	CreatedAt      int64  `json:"created_at"`
	LastActivityAt int64  `json:"last_activity_at"`
}

// Turn is one entry of GET /v1/sessions/{id}/turns.
type Turn struct {
	SessionID        string   `json:"session_id"`
	Question         string   `json:"question"`
	Answer           string   `json:"answer"`
	AnswerHash       string   `json:"answer_hash"`
	Language         string   `json:"language"`
	SafetyCategories []string `json:"safety_categories"`
	Degraded         *bool    `json:"degraded"`
	Timestamp        int64    `json:"timestamp"`
	TurnNumber       *int     `json:"turn_number"`
}

// HealthStatus is the readiness report of a running service.
type HealthStatus struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks"`
}

// =============================================================================
// Client
// =============================================================================

// Client talks to a running orchestrator.
//
// # Thread Safety
//
// Safe for concurrent use; all state is per-call.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// VerifyChain enables hash-chain verification on streamed events.
	// A broken chain aborts the stream with an error.
	VerifyChain bool
}

// NewClient creates a client for the service at baseURL. Streaming
// requests carry no client-side timeout; the server owns generation
// deadlines.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{},
		VerifyChain: true,
	}
}

// AskStream posts a question and invokes handler per streamed event.
//
// # Description
//
// Streams until the terminal done or error event, ctx cancellation,
// or a handler error. When VerifyChain is set, every event is checked
// against the integrity chain before handler sees it.
func (c *Client) AskStream(ctx context.Context, req AskRequest, handler EventHandler) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal ask request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/ask/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ask request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ask request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	verifier := &ChainVerifier{}
	return ReadSSE(resp.Body, func(event Event) error {
		if c.VerifyChain {
			if err := verifier.Verify(event); err != nil {
				return fmt.Errorf("stream integrity: %w", err)
			}
		}
		return handler(event)
	})
}

// Retrieve runs the retrieval stages without generation.
func (c *Client) Retrieve(ctx context.Context, req AskRequest) (*RetrieveResult, error) {
	var result RetrieveResult
	if err := c.postJSON(ctx, "/v1/retrieve", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListSessions returns stored sessions, most recently active first.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	path := "/v1/sessions"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}

	var result struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// ListTurns returns one session's turns in conversation order.
func (c *Client) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	var result struct {
		SessionID string `json:"session_id"`
		Turns     []Turn `json:"turns"`
	}
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/turns"
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Turns, nil
}

// DeleteSession removes a session and all its stored turns and memory.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path := c.baseURL + "/v1/sessions/" + url.PathEscape(sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// Health probes the liveness and readiness endpoints.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("service unreachable: %w", err)
	}
	defer resp.Body.Close()

	// /readyz answers 200 or 503, both with the checks body.
	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("malformed health response: %w", err)
	}
	return &status, nil
}

// =============================================================================
// HTTP Helpers
// =============================================================================

func (c *Client) postJSON(ctx context.Context, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(httpReq, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

// apiError turns a non-200 response into an error carrying the
// service's message when one is present.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))

	var wire struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error != "" {
		return fmt.Errorf("service returned %d: %s", resp.StatusCode, wire.Error)
	}
	return fmt.Errorf("service returned %d", resp.StatusCode)
}
