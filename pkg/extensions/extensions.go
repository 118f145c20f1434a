// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the dependency-injection seams between the
// open source orchestrator and hosted deployments.
//
// The open source version runs with no-op implementations of every
// interface in this package: no authentication, no authorization checks,
// no audit trail, no message filtering, and an empty health profile for
// every session. Hosted deployments inject real implementations (an
// identity provider, a compliance audit sink, a profile service backed
// by the account system) without modifying orchestrator code.
//
// # Design
//
// Each concern is a small interface with a Nop implementation:
//
//   - AuthProvider / AuthzProvider: identity and access control
//   - AuditLogger: compliance event logging
//   - MessageFilter: input/output content transformation
//   - RequestAuditor: raw request/response capture with hash chaining
//   - DataClassifier: content sensitivity for retention routing
//   - ProfileProvider: health profile lookup for a session
//
// ServiceOptions bundles them for injection into the orchestrator:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(oidcProvider).
//	    WithProfiles(accountProfiles)
//	svc, err := orchestrator.New(cfg, &opts)
package extensions

// ServiceOptions bundles the injectable extension implementations.
//
// A zero-value field means "use the Nop implementation"; services
// normalize via DefaultOptions() or nil checks at construction.
type ServiceOptions struct {
	// AuthProvider validates authentication tokens.
	// Default: NopAuthProvider (always returns valid local user)
	AuthProvider AuthProvider

	// AuthzProvider checks authorization permissions.
	// Default: NopAuthzProvider (always allows all actions)
	AuthzProvider AuthzProvider

	// AuditLogger records security-relevant events.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger

	// MessageFilter transforms messages before/after processing.
	// Default: NopMessageFilter (passes through unchanged)
	MessageFilter MessageFilter

	// RequestAuditor captures raw request/response payloads.
	// Default: NopRequestAuditor (discards all captures)
	RequestAuditor RequestAuditor

	// Classifier determines content sensitivity before persistence.
	// Default: NopDataClassifier (everything PUBLIC)
	Classifier DataClassifier

	// ProfileProvider supplies the health profile for a session when
	// the request itself does not carry one.
	// Default: NopProfileProvider (empty profile)
	ProfileProvider ProfileProvider
}

// DefaultOptions returns ServiceOptions with no-op defaults.
//
// This is the configuration used by the open source version: all
// operations allowed, no audit trail, no filtering, empty profiles.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:    &NopAuthProvider{},
		AuthzProvider:   &NopAuthzProvider{},
		AuditLogger:     &NopAuditLogger{},
		MessageFilter:   &NopMessageFilter{},
		RequestAuditor:  &NopRequestAuditor{},
		Classifier:      &NopDataClassifier{},
		ProfileProvider: &NopProfileProvider{},
	}
}

// Normalized returns a copy of opts with every nil field replaced by
// its Nop implementation, so consumers can call any seam unchecked.
func (opts ServiceOptions) Normalized() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = &NopAuthzProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = &NopMessageFilter{}
	}
	if opts.RequestAuditor == nil {
		opts.RequestAuditor = &NopRequestAuditor{}
	}
	if opts.Classifier == nil {
		opts.Classifier = &NopDataClassifier{}
	}
	if opts.ProfileProvider == nil {
		opts.ProfileProvider = &NopProfileProvider{}
	}
	return opts
}

// WithAuth returns a copy of opts with the given AuthProvider.
// Useful for fluent configuration.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy of opts with the given MessageFilter.
func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}

// WithRequestAudit returns a copy of opts with the given RequestAuditor.
func (opts ServiceOptions) WithRequestAudit(auditor RequestAuditor) ServiceOptions {
	opts.RequestAuditor = auditor
	return opts
}

// WithClassifier returns a copy of opts with the given DataClassifier.
func (opts ServiceOptions) WithClassifier(classifier DataClassifier) ServiceOptions {
	opts.Classifier = classifier
	return opts
}

// WithProfiles returns a copy of opts with the given ProfileProvider.
func (opts ServiceOptions) WithProfiles(provider ProfileProvider) ServiceOptions {
	opts.ProfileProvider = provider
	return opts
}
