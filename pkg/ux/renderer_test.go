// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func renderAll(t *testing.T, level PersonalityLevel, events []Event) string {
	t.Helper()
	prev := GetPersonality().Level
	SetPersonalityLevel(level)
	t.Cleanup(func() { SetPersonalityLevel(prev) })

	var buf bytes.Buffer
	renderer := NewRenderer(&buf)
	for _, event := range events {
		renderer.Render(event)
	}
	return buf.String()
}

func TestRenderer_StreamsChunksInline(t *testing.T) {
	out := renderAll(t, PersonalityMachine, []Event{
		{Type: EventChunk, Content: "Drink "},
		{Type: EventChunk, Content: "fluids."},
		{Type: EventDone, Answer: "Drink fluids."},
	})
	assert.Equal(t, "Drink fluids.\n", out)
}

func TestRenderer_MachineModeSuppressesStatus(t *testing.T) {
	out := renderAll(t, PersonalityMachine, []Event{
		{Type: EventStatus, Message: "retrieving"},
	})
	assert.Empty(t, out)

	out = renderAll(t, PersonalityMinimal, []Event{
		{Type: EventStatus, Message: "retrieving"},
	})
	assert.Contains(t, out, "retrieving")
}

func TestRenderer_TranslatedStartResetsLine(t *testing.T) {
	out := renderAll(t, PersonalityMinimal, []Event{
		{Type: EventChunk, Content: "Rest well."},
		{Type: EventTranslatedStart},
		{Type: EventChunk, Content: "Aaram karo."},
		{Type: EventDone, Answer: "Aaram karo."},
	})
	assert.Contains(t, out, "Rest well.\n")
	assert.Contains(t, out, "translating")
	assert.Contains(t, out, "Aaram karo.\n")
}

func TestRenderer_SafetyBannerNeverSuppressed(t *testing.T) {
	done := Event{Type: EventDone, Answer: "Go to a hospital now.",
		Safety: &Safety{
			RedFlag:  true,
			Guidance: []string{"Chest pain can signal a heart attack.", "Call emergency services."},
		}}

	out := renderAll(t, PersonalityMachine, []Event{done})
	assert.Contains(t, out, "SAFETY: Chest pain can signal a heart attack.")
	assert.Contains(t, out, "SAFETY: Call emergency services.")

	out = renderAll(t, PersonalityFull, []Event{done})
	assert.Contains(t, out, "Seek medical care")
	assert.Contains(t, out, "Call emergency services.")

	out = renderAll(t, PersonalityMinimal, []Event{done})
	assert.Contains(t, out, "Seek medical care")
}

func TestRenderer_SafetyNotRenderedWithoutRedFlag(t *testing.T) {
	out := renderAll(t, PersonalityMachine, []Event{
		{Type: EventDone, Answer: "ok", Safety: &Safety{RedFlag: false, Guidance: []string{"n/a"}}},
	})
	assert.NotContains(t, out, "SAFETY")
}

func TestRenderer_CitationsAndFacts(t *testing.T) {
	done := Event{Type: EventDone, Answer: "ok",
		Citations: []Citation{{Source: "who_guide", Topic: "fever"}},
		Facts:     []Fact{{Type: "safe_actions", Detail: "rest and hydrate"}},
	}

	out := renderAll(t, PersonalityMachine, []Event{done})
	assert.Contains(t, out, "SOURCE: who_guide")
	assert.Contains(t, out, "FACT[safe_actions]: rest and hydrate")

	out = renderAll(t, PersonalityStandard, []Event{done})
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "who_guide")
	assert.Contains(t, out, "safe actions")
}

func TestRenderer_DegradedWarning(t *testing.T) {
	out := renderAll(t, PersonalityMinimal, []Event{
		{Type: EventDone, Answer: "ok", Metadata: &Metadata{Degraded: true}},
	})
	assert.Contains(t, out, "partial health information")
}

func TestRenderer_ErrorEvent(t *testing.T) {
	out := renderAll(t, PersonalityMinimal, []Event{
		{Type: EventChunk, Content: "Drink"},
		{Type: EventError, Error: "generation failed"},
	})
	assert.Contains(t, out, "Drink\n")
	assert.Contains(t, out, "generation failed")
}
