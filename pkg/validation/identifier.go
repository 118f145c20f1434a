// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database filters, time-series tags, or graph lookups. Using these validators
// prevents injection attacks (GraphQL/Flux injection, filter escape, tag smuggling).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// sessionIDPattern matches the session identifiers the orchestrator mints:
// canonical lowercase UUID v4 strings. Anything else is rejected before it
// reaches a storage filter.
var sessionIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// languagePattern matches BCP 47 primary-subtag language codes with an
// optional region ("en", "hi", "en-IN"). Extended subtags are not needed.
var languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Z]{2})?$`)

// cityPattern matches city names used for provider lookups: letters,
// spaces, periods, and hyphens. Max length 64 covers compound names.
var cityPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z .\-]{0,63}$`)

// ValidateSessionID validates a session identifier before it is used in
// a storage filter or time-series tag.
//
// Valid session IDs are canonical lowercase UUID strings. Returns an
// error for anything else, including uppercase variants.
//
// Example:
//
//	if err := validation.ValidateSessionID(sessionID); err != nil {
//	    return nil, fmt.Errorf("invalid session id: %w", err)
//	}
//	// Safe to use in a where-filter
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("invalid session id format: %q (must be a lowercase UUID)", sessionID)
	}

	return nil
}

// ValidateLanguage validates a reply-language tag.
//
// Valid tags:
//   - 2-3 lowercase letters ("en", "hi")
//   - optional uppercase region suffix ("en-IN")
//
// Returns an error if the tag is invalid.
func ValidateLanguage(tag string) error {
	if tag == "" {
		return fmt.Errorf("language tag cannot be empty")
	}

	if !languagePattern.MatchString(tag) {
		return fmt.Errorf("invalid language tag: %q (expected forms like \"en\" or \"en-IN\")", tag)
	}

	return nil
}

// SanitizeCity normalizes and validates a city name for provider
// lookups.
//
// Returns the trimmed city if valid, or an error if invalid. Use this
// before the city reaches a graph query or a metrics tag:
//
//	safeCity, err := validation.SanitizeCity(profile.City)
//	if err != nil {
//	    return err
//	}
func SanitizeCity(city string) (string, error) {
	normalized := strings.TrimSpace(city)
	if normalized == "" {
		return "", fmt.Errorf("city cannot be empty")
	}

	if !cityPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid city name: %q (letters, spaces, dots, and hyphens only)", normalized)
	}

	return normalized, nil
}
