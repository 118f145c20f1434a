// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"strings"
)

// Renderer writes answer output for one stream.
//
// # Description
//
// The renderer owns the tension between streaming chunks and the
// translation protocol: chunks print as they arrive, and a
// translated_start event resets the line state because everything
// printed so far was provisional English. The done event renders the
// citation list, fact groups, and the safety banner.
//
// # Thread Safety
//
// Not safe for concurrent use; one renderer per stream.
type Renderer struct {
	w            io.Writer
	chunksOnLine bool
}

// NewRenderer creates a renderer writing to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Render dispatches one stream event to the terminal.
func (r *Renderer) Render(event Event) {
	switch event.Type {
	case EventChunk:
		fmt.Fprint(r.w, event.Content)
		r.chunksOnLine = true

	case EventStatus:
		if GetPersonality().Level == PersonalityMachine {
			return
		}
		fmt.Fprintln(r.w, Styles.Muted.Render(string(IconArrow)+" "+event.Message))

	case EventTranslatedStart:
		// Everything printed so far was provisional English output.
		if r.chunksOnLine {
			fmt.Fprintln(r.w)
		}
		r.chunksOnLine = false
		if GetPersonality().Level != PersonalityMachine {
			fmt.Fprintln(r.w, Styles.Muted.Render("— translating —"))
		}

	case EventDone:
		r.renderDone(event)

	case EventError:
		if r.chunksOnLine {
			fmt.Fprintln(r.w)
		}
		r.chunksOnLine = false
		fmt.Fprintln(r.w, Styles.Error.Render(string(IconError)+" "+event.Error))
	}
}

func (r *Renderer) renderDone(event Event) {
	if r.chunksOnLine {
		fmt.Fprintln(r.w)
		r.chunksOnLine = false
	}

	if event.Safety != nil && event.Safety.RedFlag {
		r.renderSafety(*event.Safety)
	}
	if len(event.Citations) > 0 {
		r.renderCitations(event.Citations)
	}
	if len(event.Facts) > 0 {
		r.renderFacts(event.Facts)
	}
	if event.Metadata != nil && event.Metadata.Degraded {
		fmt.Fprintln(r.w, Styles.Warning.Render(
			string(IconWarning)+" answered with partial health information"))
	}
}

// renderSafety prints the emergency guidance banner. Never suppressed:
// even machine mode prints the guidance lines, just unstyled.
func (r *Renderer) renderSafety(safety Safety) {
	if GetPersonality().Level == PersonalityMachine {
		for _, line := range safety.Guidance {
			fmt.Fprintf(r.w, "SAFETY: %s\n", line)
		}
		return
	}

	var b strings.Builder
	b.WriteString(Styles.Bold.Render("Seek medical care"))
	for _, line := range safety.Guidance {
		b.WriteString("\n" + line)
	}

	if GetPersonality().ShowGuidance {
		fmt.Fprintln(r.w, Styles.SafetyBox.Render(b.String()))
		return
	}
	fmt.Fprintln(r.w, Styles.Warning.Render(b.String()))
}

func (r *Renderer) renderCitations(citations []Citation) {
	if GetPersonality().Level == PersonalityMachine {
		for _, c := range citations {
			fmt.Fprintf(r.w, "SOURCE: %s\n", c.Source)
		}
		return
	}

	fmt.Fprintln(r.w, Styles.Muted.Render("Sources:"))
	for _, c := range citations {
		line := fmt.Sprintf("  %s %s", IconBullet, c.Source)
		if c.Topic != "" {
			line += Styles.Muted.Render(" (" + c.Topic + ")")
		}
		fmt.Fprintln(r.w, Styles.CitationTag.Render(line))
	}
}

func (r *Renderer) renderFacts(facts []Fact) {
	if GetPersonality().Level == PersonalityMachine {
		for _, f := range facts {
			fmt.Fprintf(r.w, "FACT[%s]: %s\n", f.Type, f.Detail)
		}
		return
	}

	for _, f := range facts {
		label := strings.ReplaceAll(f.Type, "_", " ")
		fmt.Fprintf(r.w, "  %s %s: %s\n",
			IconBullet, Styles.Bold.Render(label), f.Detail)
	}
}
