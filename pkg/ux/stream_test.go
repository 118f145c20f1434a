// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSSE_ParsesEventSequence(t *testing.T) {
	stream := strings.Join([]string{
		"event: status",
		`data: {"type":"status","message":"retrieving"}`,
		"",
		"event: chunk",
		`data: {"type":"chunk","content":"Drink "}`,
		"",
		"event: chunk",
		`data: {"type":"chunk","content":"fluids."}`,
		"",
		"event: done",
		`data: {"type":"done","answer":"Drink fluids.","metadata":{"session_id":"s-1","turn_number":1}}`,
		"",
	}, "\n")

	var events []Event
	err := ReadSSE(strings.NewReader(stream), func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "Drink ", events[1].Content)
	assert.Equal(t, "fluids.", events[2].Content)
	assert.Equal(t, EventDone, events[3].Type)
	assert.Equal(t, "s-1", events[3].Metadata.SessionID)
}

func TestReadSSE_SkipsKeepAliveComments(t *testing.T) {
	stream := ": ping\n\n" +
		"event: done\n" +
		`data: {"type":"done","answer":"ok"}` + "\n\n"

	var events []Event
	err := ReadSSE(strings.NewReader(stream), func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type)
}

func TestReadSSE_StopsAtTerminalEvent(t *testing.T) {
	stream := "event: error\n" +
		`data: {"type":"error","error":"generation failed"}` + "\n\n" +
		"event: chunk\n" +
		`data: {"type":"chunk","content":"never seen"}` + "\n\n"

	var events []Event
	err := ReadSSE(strings.NewReader(stream), func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 1, "nothing after the terminal event is delivered")
	assert.True(t, events[0].IsTerminal())
}

// A stream cut off right after the final data line still delivers
// that event; the dispatching blank line is not guaranteed to arrive.
func TestReadSSE_DeliversFinalEventWithoutTrailingBlankLine(t *testing.T) {
	stream := "event: chunk\n" +
		`data: {"type":"chunk","content":"Drink fluids."}` + "\n\n" +
		"event: done\n" +
		`data: {"type":"done","answer":"Drink fluids."}`

	var events []Event
	err := ReadSSE(strings.NewReader(stream), func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventDone, events[1].Type)
	assert.Equal(t, "Drink fluids.", events[1].Answer)
}

func TestReadSSE_MalformedDataIsAnError(t *testing.T) {
	stream := "data: {not json}\n\n"
	err := ReadSSE(strings.NewReader(stream), func(Event) error { return nil })
	assert.ErrorContains(t, err, "malformed stream event")
}

func TestReadSSE_HandlerErrorAborts(t *testing.T) {
	stream := "data: {\"type\":\"chunk\",\"content\":\"a\"}\n\n" +
		"data: {\"type\":\"chunk\",\"content\":\"b\"}\n\n"

	wantErr := errors.New("stop here")
	calls := 0
	err := ReadSSE(strings.NewReader(stream), func(Event) error {
		calls++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)
}

func TestReadSSE_EmptyStream(t *testing.T) {
	err := ReadSSE(strings.NewReader(""), func(Event) error {
		t.Fatal("no events expected")
		return nil
	})
	assert.NoError(t, err)
}
