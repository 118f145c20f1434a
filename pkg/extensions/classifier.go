// Copyright (C) 2025 Sehat AI (engineering@sehat.health)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import "context"

// =============================================================================
// Data Classification Types
// =============================================================================

// DataClassification represents the sensitivity level of data.
//
// Classifications follow common health-data handling policies and align
// with regulatory requirements (HIPAA, GDPR, DPDP). Higher levels
// require stricter handling controls.
//
// Example:
//
//	switch classification {
//	case ClassificationSecret:
//	    // Encrypt, audit access, restrict to need-to-know
//	case ClassificationPHI:
//	    // Redact in logs, apply retention policies
//	case ClassificationConfidential:
//	    // Internal use only, no external sharing
//	case ClassificationPublic:
//	    // Safe to share externally
//	}
type DataClassification string

const (
	// ClassificationPublic indicates data that can be freely shared.
	// Examples: published health guidance, public provider directories.
	ClassificationPublic DataClassification = "PUBLIC"

	// ClassificationConfidential indicates internal-only data.
	// Examples: deployment configuration, retrieval corpus metadata.
	ClassificationConfidential DataClassification = "CONFIDENTIAL"

	// ClassificationPHI indicates protected health information.
	// Examples: health questions, conditions, generated answers tied to
	// a user. Requires special handling under HIPAA and similar
	// regulations.
	ClassificationPHI DataClassification = "PHI"

	// ClassificationSecret indicates highly sensitive data.
	// Examples: API keys, tokens, encryption keys.
	// Requires encryption at rest and in transit, strict access
	// controls.
	ClassificationSecret DataClassification = "SECRET"
)

// ClassificationResult contains the outcome of data classification.
//
// A single piece of content may carry multiple classifications (a
// question naming both a condition and a phone number). The
// HighestLevel field provides a single value for quick policy
// decisions.
//
// Example:
//
//	result, _ := classifier.Classify(ctx, content)
//	if result.HighestLevel == ClassificationSecret {
//	    return errors.New("cannot process secret data")
//	}
type ClassificationResult struct {
	// HighestLevel is the most sensitive classification found.
	// Ordering: SECRET > PHI > CONFIDENTIAL > PUBLIC
	HighestLevel DataClassification

	// Findings lists each individual classification detected.
	Findings []ClassificationFinding
}

// ClassificationFinding describes a single classified item in content.
type ClassificationFinding struct {
	// Classification is the sensitivity level of this finding.
	Classification DataClassification

	// Type names what was found ("condition", "phone", "api_key").
	Type string

	// Location describes where in the content it was found.
	// Format is implementation-specific.
	Location string

	// Confidence is the detection confidence in [0, 1].
	Confidence float64
}

// DataClassifier determines the sensitivity of content before storage
// or transmission.
//
// Implementations must be safe for concurrent use by multiple
// goroutines.
//
// # Open Source Behavior
//
// The default NopDataClassifier classifies everything as PUBLIC with no
// findings. Self-hosted single-user deployments don't route data by
// sensitivity.
//
// # Hosted Implementation
//
// Hosted versions classify turn content before audit capture so the
// audit pipeline can apply per-level retention and encryption. A
// typical implementation treats any health question as PHI by default
// and upgrades to SECRET when credentials are detected.
type DataClassifier interface {
	// Classify analyzes content and returns its classification.
	//
	// Returns a result with HighestLevel set even when no specific
	// findings are produced (PUBLIC, empty findings).
	Classify(ctx context.Context, content string) (*ClassificationResult, error)

	// ClassifyBatch analyzes multiple contents in one call.
	//
	// Results are returned in input order. Implementations may
	// parallelize internally.
	ClassifyBatch(ctx context.Context, contents []string) ([]*ClassificationResult, error)
}

// NopDataClassifier is the default classifier for open source.
//
// It classifies all content as PUBLIC with no findings.
//
// Thread-safe: this implementation has no mutable state.
type NopDataClassifier struct{}

// Classify returns PUBLIC with no findings.
func (c *NopDataClassifier) Classify(_ context.Context, _ string) (*ClassificationResult, error) {
	return &ClassificationResult{
		HighestLevel: ClassificationPublic,
		Findings:     []ClassificationFinding{},
	}, nil
}

// ClassifyBatch returns PUBLIC with no findings for every input.
func (c *NopDataClassifier) ClassifyBatch(_ context.Context, contents []string) ([]*ClassificationResult, error) {
	results := make([]*ClassificationResult, len(contents))
	for i := range contents {
		results[i] = &ClassificationResult{
			HighestLevel: ClassificationPublic,
			Findings:     []ClassificationFinding{},
		}
	}
	return results, nil
}

// Compile-time interface compliance check.
var _ DataClassifier = (*NopDataClassifier)(nil)
