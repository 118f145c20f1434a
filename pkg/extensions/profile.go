// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import "context"

// Profile carries the health facts the orchestrator folds into
// retrieval and generation: chronic conditions drive contraindication
// lookups, the city drives provider lookups, and the language selects
// the reply language for the session.
//
// A zero-value Profile is valid and means "nothing known": graph
// queries that depend on a missing fact return empty, well-formed
// results rather than errors.
//
// Example:
//
//	profile := extensions.Profile{
//	    Conditions: []string{"diabetes", "hypertension"},
//	    City:       "Lucknow",
//	    Language:   "hi",
//	}
type Profile struct {
	// Conditions lists known chronic conditions in lowercase English
	// ("diabetes", "asthma"). Used for contraindication lookups.
	Conditions []string

	// City is the user's city for provider lookups. May be empty.
	City string

	// Language is the BCP 47 reply language tag ("en", "hi").
	// Empty means the deployment default.
	Language string

	// Metadata holds additional provider-specific profile facts.
	Metadata Metadata
}

// IsZero reports whether no profile fact is set.
func (p Profile) IsZero() bool {
	return len(p.Conditions) == 0 && p.City == "" && p.Language == "" && len(p.Metadata) == 0
}

// ProfileProvider looks up the health profile for a session when the
// request itself does not carry one.
//
// Implementations must be safe for concurrent use by multiple
// goroutines. Lookups run on the request path before retrieval, so they
// should be fast; a provider backed by a remote account service should
// cache aggressively and degrade to an empty profile on failure rather
// than returning an error that would fail the ask.
//
// # Open Source Behavior
//
// The default NopProfileProvider returns an empty profile for every
// session. Self-hosted users supply profile facts per request instead.
//
// # Hosted Implementation
//
// Hosted versions resolve the session's user through the account system:
//
//	func (p *AccountProfiles) ProfileFor(ctx context.Context, sessionID string) (Profile, error) {
//	    member, err := p.accounts.MemberForSession(ctx, sessionID)
//	    if err != nil {
//	        return Profile{}, nil // degrade, never fail the ask
//	    }
//	    return Profile{
//	        Conditions: member.Conditions,
//	        City:       member.City,
//	        Language:   member.PreferredLanguage,
//	    }, nil
//	}
type ProfileProvider interface {
	// ProfileFor returns the profile for the given session.
	//
	// A missing profile is (Profile{}, nil), not an error. Errors are
	// reserved for lookups the caller might retry.
	ProfileFor(ctx context.Context, sessionID string) (Profile, error)
}

// NopProfileProvider is the default profile provider for open source.
//
// It returns an empty profile for every session.
//
// Thread-safe: this implementation has no mutable state.
type NopProfileProvider struct{}

// ProfileFor always returns an empty profile.
func (p *NopProfileProvider) ProfileFor(_ context.Context, _ string) (Profile, error) {
	return Profile{}, nil
}

// Compile-time interface compliance check.
var _ ProfileProvider = (*NopProfileProvider)(nil)
