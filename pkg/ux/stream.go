// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// Stream Event Union (client side)
// =============================================================================

// EventType identifies one streaming event kind.
type EventType string

const (
	// EventChunk carries one answer increment in Content.
	EventChunk EventType = "chunk"

	// EventStatus carries a human-readable progress message.
	EventStatus EventType = "status"

	// EventTranslatedStart signals that previously rendered chunks
	// were provisional English output; discard them, translated chunks
	// follow.
	EventTranslatedStart EventType = "translated_start"

	// EventDone is the terminal success event.
	EventDone EventType = "done"

	// EventError is the terminal failure event.
	EventError EventType = "error"
)

// Citation is one retrieved passage's provenance on the done event.
type Citation struct {
	Source string  `json:"source"`
	Topic  string  `json:"topic,omitempty"`
	ID     string  `json:"id,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// Fact is one structured graph fact on the done event.
type Fact struct {
	Type       string  `json:"type"`
	Subject    string  `json:"subject,omitempty"`
	Detail     string  `json:"detail"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Safety is the done event's safety block. When RedFlag is set the
// renderer must surface Guidance prominently.
type Safety struct {
	RedFlag    bool     `json:"red_flag"`
	Categories []string `json:"categories,omitempty"`
	Guidance   []string `json:"guidance,omitempty"`
}

// Metadata is the done event's metadata block.
type Metadata struct {
	SessionID  string `json:"session_id"`
	Language   string `json:"language,omitempty"`
	Degraded   bool   `json:"degraded,omitempty"`
	TurnNumber int    `json:"turn_number,omitempty"`
}

// Event mirrors the server's stream event wire shape. Fields are
// populated per Type; the integrity fields are always present and
// feed chain verification.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`

	Answer    string     `json:"answer,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Facts     []Fact     `json:"facts,omitempty"`
	Safety    *Safety    `json:"safety,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`

	ID        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}

// IsTerminal reports whether this event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// =============================================================================
// SSE Reader
// =============================================================================

// EventHandler receives each parsed event in stream order. Returning
// an error aborts the read.
type EventHandler func(Event) error

// ReadSSE parses a server-sent event stream and invokes handler per
// event.
//
// # Description
//
// Understands the subset of the SSE wire format the service emits:
// "event:" lines name the type (informational; the JSON carries it
// too), "data:" lines carry the event JSON, comment lines (": ping")
// are keep-alives and are skipped, and a blank line dispatches the
// pending event. Returns nil at end of stream or after a terminal
// event; a malformed data line is an error.
func ReadSSE(r io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pending string
	dispatch := func() (terminal bool, err error) {
		var event Event
		if err := json.Unmarshal([]byte(pending), &event); err != nil {
			return false, fmt.Errorf("malformed stream event: %w", err)
		}
		pending = ""

		if err := handler(event); err != nil {
			return false, err
		}
		return event.IsTerminal(), nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
			continue

		case strings.HasPrefix(line, "event:"):
			continue

		case strings.HasPrefix(line, "data:"):
			pending += strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		case line == "" && pending != "":
			terminal, err := dispatch()
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	// A stream that ends right after its last data line never sends
	// the dispatching blank line; deliver that event too.
	if pending != "" {
		if _, err := dispatch(); err != nil {
			return err
		}
	}
	return nil
}
