// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package termsets embeds the curated safety term dictionaries used by
// the safety scanner.
//
// The dictionaries are versioned data, not code: editing the embedded
// YAML is the supported way to tune triage vocabulary. Each category
// carries both English terms and romanized Hindi transliterations so a
// single scan pass covers both input languages.
package termsets

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed safety_terms.yaml
var safetyTermsYAML []byte

// CategorySet is one safety category's vocabulary and guidance text.
type CategorySet struct {
	// Name is the category identifier: red_flag, mental_health, pregnancy.
	Name string `yaml:"name"`

	// Priority orders categories for scanning and display. Lower value
	// means more urgent; red_flag is 1.
	Priority int `yaml:"priority"`

	// MessageEN is the fixed English guidance emitted with a finding.
	MessageEN string `yaml:"message_en"`

	// MessageHI is the romanized Hindi counterpart of MessageEN.
	MessageHI string `yaml:"message_hi"`

	// Terms lists the matched phrases, lowercase, single-spaced.
	// English terms and romanized Hindi transliterations share one list;
	// the scanner treats them identically.
	Terms []string `yaml:"terms"`
}

// Table is the loaded, immutable set of all safety categories.
//
// A Table is never written after Load returns, so it is safe to share
// across goroutines without synchronization.
type Table struct {
	Categories []CategorySet
}

// Load parses the embedded term sets into an immutable Table.
//
// Categories come back sorted by ascending priority. Terms are
// normalized to lowercase with collapsed whitespace so the scanner can
// match against a query normalized the same way.
//
// A malformed embedded file is a build defect, so callers treat a Load
// error as fatal at startup.
func Load() (*Table, error) {
	var file struct {
		Categories []CategorySet `yaml:"categories"`
	}
	if err := yaml.Unmarshal(safetyTermsYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded safety terms: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("embedded safety terms contain no categories")
	}

	for i := range file.Categories {
		cat := &file.Categories[i]
		if cat.Name == "" {
			return nil, fmt.Errorf("safety term category %d has no name", i)
		}
		if len(cat.Terms) == 0 {
			return nil, fmt.Errorf("safety term category %q has no terms", cat.Name)
		}
		for j, term := range cat.Terms {
			cat.Terms[j] = Normalize(term)
		}
	}

	sort.SliceStable(file.Categories, func(i, j int) bool {
		return file.Categories[i].Priority < file.Categories[j].Priority
	})

	return &Table{Categories: file.Categories}, nil
}

// Normalize lowercases text and collapses whitespace runs to single
// spaces. Terms and scanned queries must pass through the same
// normalization for multi-word matching to line up.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
